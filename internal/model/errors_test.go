package model

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"op error", NewOpError(KindQuotaExceeded, "write", "/a", nil), KindQuotaExceeded},
		{"wrapped op error", fmt.Errorf("copy: %w", NewOpError(KindAuthFailed, "dial", "", nil)), KindAuthFailed},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline", fmt.Errorf("stat: %w", context.DeadlineExceeded), KindTimeout},
		{"not exist", &os.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, KindNotFound},
		{"permission", os.ErrPermission, KindPermissionDenied},
		{"exists", os.ErrExist, KindAlreadyExists},
		{"trash sentinel", ErrTrashItemNotFound, KindNotFound},
		{"plain", fmt.Errorf("boom"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestIsTransientAndRetryAfter(t *testing.T) {
	t.Parallel()

	throttled := &OpError{Kind: KindRetryable, Op: "list", RetryAfter: 2 * time.Second}
	require.True(t, IsTransient(throttled))
	require.Equal(t, 2*time.Second, RetryAfterOf(fmt.Errorf("wrap: %w", throttled)))

	require.True(t, IsTransient(NewOpError(KindTimeout, "read", "/a", nil)))
	require.True(t, IsTransient(NewOpError(KindNetworkUnreachable, "read", "/a", nil)))
	require.False(t, IsTransient(NewOpError(KindNotFound, "read", "/a", nil)))
	require.False(t, IsTransient(context.Canceled))
	require.Zero(t, RetryAfterOf(os.ErrNotExist))
}

func TestOpErrorMessage(t *testing.T) {
	t.Parallel()

	err := &OpError{Kind: KindNotFound, Op: "stat", Path: "/docs/a.txt", Detail: "no such file"}
	require.Equal(t, `stat "/docs/a.txt": NOT_FOUND: no such file`, err.Error())

	wrapped := NewOpError(KindUnknown, "rename", "", os.ErrClosed)
	require.ErrorIs(t, wrapped, os.ErrClosed)
}

func TestOperationRequestValidate(t *testing.T) {
	t.Parallel()

	valid := OperationRequest{
		Kind:        OperationCopy,
		Items:       []SourceItem{{ResourceID: "local", Entry: FileEntry{Path: "/a.txt"}}},
		Destination: Destination{ResourceID: "local", Path: "/out"},
	}
	require.NoError(t, valid.Validate())

	t.Run("rejects empty batch", func(t *testing.T) {
		req := valid
		req.Items = nil
		require.ErrorIs(t, req.Validate(), ErrInvalidInput)
	})

	t.Run("rename needs new name", func(t *testing.T) {
		req := valid
		req.Kind = OperationRename
		require.ErrorIs(t, req.Validate(), ErrInvalidInput)
	})

	t.Run("copy needs destination", func(t *testing.T) {
		req := valid
		req.Destination = Destination{}
		require.ErrorIs(t, req.Validate(), ErrInvalidInput)
	})

	t.Run("unknown policy", func(t *testing.T) {
		req := valid
		req.ConflictPolicy = "clobber"
		require.ErrorIs(t, req.Validate(), ErrInvalidInput)
	})
}

func TestBatchResultTally(t *testing.T) {
	t.Parallel()

	batch := BatchResult{Items: []OperationResult{
		{Status: StatusSuccess},
		{Status: StatusSuccess, Warning: KindPartialSuccess},
		{Status: StatusSkipped},
		{Status: StatusFailed},
		{Status: StatusCancelled},
	}}
	batch.Tally()

	require.Equal(t, 2, batch.Succeeded)
	require.Equal(t, 1, batch.Skipped)
	require.Equal(t, 1, batch.Failed)
	require.Equal(t, 1, batch.Cancelled)
	require.Equal(t, 1, batch.Warnings)
}
