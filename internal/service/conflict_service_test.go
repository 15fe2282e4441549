package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go-file-engine/internal/model"
)

func TestKeepBothName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		isDir bool
		taken []string
		want  string
	}{
		{name: "file with extension", input: "report.pdf", want: "report (1).pdf"},
		{name: "double extension keeps last", input: "archive.tar.gz", want: "archive.tar (1).gz"},
		{name: "dotfile kept whole", input: ".bashrc", want: ".bashrc (1)"},
		{name: "directory ignores dots", input: "photos.2024", isDir: true, want: "photos.2024 (1)"},
		{name: "skips taken counters", input: "report.pdf", taken: []string{"report (1).pdf"}, want: "report (2).pdf"},
		{name: "no extension", input: "Makefile", want: "Makefile (1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taken := map[string]bool{}
			for _, name := range tt.taken {
				taken[name] = true
			}
			got := KeepBothName(tt.input, tt.isDir, func(candidate string) bool { return taken[candidate] })
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolverListsEachDirectoryOnce(t *testing.T) {
	t.Parallel()

	dst := newMemory("dst", model.ProtocolLocal, atomicCaps)
	dst.Put("/out/a.txt", []byte("a"))
	resolver := NewConflictResolver(model.ConflictSkip, "", nil)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := resolver.Resolve(context.Background(), ConflictRequest{
			Dest: dst, Dir: "/out", Name: name, Source: model.FileEntry{Name: name},
		})
		require.NoError(t, err)
	}
	require.Equal(t, 1, dst.Calls("list"))
}

func TestResolverReservesNamesWithinBatch(t *testing.T) {
	t.Parallel()

	dst := newMemory("dst", model.ProtocolLocal, atomicCaps)
	dst.Put("/out/report.pdf", []byte("old"))
	resolver := NewConflictResolver(model.ConflictKeepBoth, "", nil)

	first, err := resolver.Resolve(context.Background(), ConflictRequest{
		Dest: dst, Dir: "/out", Name: "report.pdf", Source: model.FileEntry{Name: "report.pdf"},
	})
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), ConflictRequest{
		Index: 1, Dest: dst, Dir: "/out", Name: "report.pdf", Source: model.FileEntry{Name: "report.pdf"},
	})
	require.NoError(t, err)

	require.Equal(t, ActionWrite, first.Action)
	require.Equal(t, "/out/report (1).pdf", first.Path)
	require.Equal(t, "/out/report (2).pdf", second.Path)
}

func TestResolverFreshNameIsWritten(t *testing.T) {
	t.Parallel()

	dst := newMemory("dst", model.ProtocolLocal, atomicCaps)
	resolver := NewConflictResolver(model.ConflictOverwrite, "", nil)

	decision, err := resolver.Resolve(context.Background(), ConflictRequest{
		Dest: dst, Dir: "/missing", Name: "a.txt", Source: model.FileEntry{Name: "a.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, ActionWrite, decision.Action)
	require.Equal(t, "/missing/a.txt", decision.Path)
	require.Nil(t, decision.Existing)
}

func TestResolverAsk(t *testing.T) {
	t.Parallel()

	newDest := func() *ConflictRequest {
		dst := newMemory("dst", model.ProtocolLocal, atomicCaps)
		dst.Put("/out/a.txt", []byte("a"))
		return &ConflictRequest{Dest: dst, Dir: "/out", Name: "a.txt", Source: model.FileEntry{Name: "a.txt"}}
	}

	t.Run("without callback uses fallback", func(t *testing.T) {
		req := newDest()
		decision, err := NewConflictResolver(model.ConflictAsk, model.ConflictOverwrite, nil).Resolve(context.Background(), *req)
		require.NoError(t, err)
		require.Equal(t, ActionOverwrite, decision.Action)
	})

	t.Run("without callback or fallback skips", func(t *testing.T) {
		req := newDest()
		decision, err := NewConflictResolver(model.ConflictAsk, model.ConflictAsk, nil).Resolve(context.Background(), *req)
		require.NoError(t, err)
		require.Equal(t, ActionSkip, decision.Action)
	})

	t.Run("callback answer applies", func(t *testing.T) {
		req := newDest()
		var prompted ConflictPrompt
		resolver := NewConflictResolver(model.ConflictAsk, "", func(_ context.Context, prompt ConflictPrompt) (model.ConflictPolicy, error) {
			prompted = prompt
			return model.ConflictKeepBoth, nil
		})
		decision, err := resolver.Resolve(context.Background(), *req)
		require.NoError(t, err)
		require.Equal(t, "/out/a (1).txt", decision.Path)
		require.Equal(t, "dst", prompted.ResourceID)
		require.Equal(t, "/out/a.txt", prompted.Existing.Path)
	})

	t.Run("callback error fails item", func(t *testing.T) {
		req := newDest()
		resolver := NewConflictResolver(model.ConflictAsk, "", func(context.Context, ConflictPrompt) (model.ConflictPolicy, error) {
			return "", errors.New("prompt closed")
		})
		_, err := resolver.Resolve(context.Background(), *req)
		require.ErrorContains(t, err, "prompt closed")
	})
}

func TestResolverMergeFallsBackForFiles(t *testing.T) {
	t.Parallel()

	dst := newMemory("dst", model.ProtocolLocal, atomicCaps)
	dst.Put("/out/a.txt", []byte("a"))
	dst.PutDir("/out/photos")
	resolver := NewConflictResolver(model.ConflictMerge, "", nil)

	file, err := resolver.Resolve(context.Background(), ConflictRequest{
		Dest: dst, Dir: "/out", Name: "a.txt", Source: model.FileEntry{Name: "a.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, ActionWrite, file.Action)
	require.Equal(t, "/out/a (1).txt", file.Path)

	dir, err := resolver.Resolve(context.Background(), ConflictRequest{
		Dest: dst, Dir: "/out", Name: "photos", Source: model.FileEntry{Name: "photos", IsDir: true},
	})
	require.NoError(t, err)
	require.Equal(t, ActionMerge, dir.Action)
	require.Equal(t, "/out/photos", dir.Path)
}

func TestResolverListFailureFailsItem(t *testing.T) {
	t.Parallel()

	dst := newMemory("dst", model.ProtocolSMB, atomicCaps)
	dst.FailOn("list", "/out", unreachable("/out"))
	resolver := NewConflictResolver(model.ConflictSkip, "", nil)

	_, err := resolver.Resolve(context.Background(), ConflictRequest{
		Dest: dst, Dir: "/out", Name: "a.txt", Source: model.FileEntry{Name: "a.txt"},
	})
	require.Equal(t, model.KindNetworkUnreachable, model.KindOf(err))
}
