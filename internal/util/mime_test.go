package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMediaType(t *testing.T) {
	t.Parallel()

	require.Equal(t, DirectoryMediaType, MediaType("photos", true))
	require.Equal(t, "image/png", MediaType("shot.PNG", false))
	require.Equal(t, "text/markdown", MediaType("README.md", false))
	require.Equal(t, "application/octet-stream", MediaType("Makefile", false))
	require.Equal(t, "application/octet-stream", MediaType("blob.unknownext", false))
}
