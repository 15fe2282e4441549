package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"go-file-engine/internal/model"
)

type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) ResourceID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStrategy) Protocol() model.Protocol {
	args := m.Called()
	return args.Get(0).(model.Protocol)
}

func (m *MockStrategy) List(ctx context.Context, dir string) ([]model.FileEntry, error) {
	args := m.Called(ctx, dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FileEntry), args.Error(1)
}

func (m *MockStrategy) Stat(ctx context.Context, p string) (model.FileEntry, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(model.FileEntry), args.Error(1)
}

func (m *MockStrategy) Exists(ctx context.Context, p string) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func (m *MockStrategy) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStrategy) OpenWrite(ctx context.Context, p string, mode WriteMode) (Sink, error) {
	args := m.Called(ctx, p, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Sink), args.Error(1)
}

func (m *MockStrategy) Delete(ctx context.Context, p string, mode model.DeleteMode) error {
	args := m.Called(ctx, p, mode)
	return args.Error(0)
}

func (m *MockStrategy) Rename(ctx context.Context, oldPath string, newPath string) error {
	args := m.Called(ctx, oldPath, newPath)
	return args.Error(0)
}

func (m *MockStrategy) Mkdir(ctx context.Context, p string) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockStrategy) SupportsAtomicRename() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockStrategy) Capabilities() model.Capabilities {
	args := m.Called()
	return args.Get(0).(model.Capabilities)
}

func (m *MockStrategy) Close() error {
	args := m.Called()
	return args.Error(0)
}
