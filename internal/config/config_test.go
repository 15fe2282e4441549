package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-engine/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 5*1024*1024, cfg.ChunkSizeBytes)
	require.Equal(t, 4, cfg.MaxConnsPerResource)
	require.Equal(t, model.ConflictKeepBoth, cfg.ConflictDefaultPolicy)
	require.Equal(t, 720*time.Hour, cfg.TrashRetention)
	require.Equal(t, StoreFile, cfg.TrashStore)
	require.False(t, cfg.UsesDatabase())
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHUNK_SIZE_BYTES", "1024")
	t.Setenv("CONFLICT_DEFAULT_POLICY", "skip")
	t.Setenv("TRASH_STORE", "SQLite")
	t.Setenv("CLOUD_RATE_PER_SECOND", "2.5")
	t.Setenv("RETRY_INITIAL_WAIT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 1024, cfg.ChunkSizeBytes)
	require.Equal(t, model.ConflictSkip, cfg.ConflictDefaultPolicy)
	require.Equal(t, StoreSQLite, cfg.TrashStore)
	require.InDelta(t, 2.5, cfg.CloudRatePerSecond, 0.001)
	require.Equal(t, 500*time.Millisecond, cfg.RetryInitialWait)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "bad policy", env: map[string]string{"CONFLICT_DEFAULT_POLICY": "REPLACE"}, want: "CONFLICT_DEFAULT_POLICY"},
		{name: "zero chunk", env: map[string]string{"CHUNK_SIZE_BYTES": "0"}, want: "CHUNK_SIZE_BYTES"},
		{name: "postgres without url", env: map[string]string{"TRASH_STORE": "postgres"}, want: "DATABASE_URL"},
		{name: "unknown resource source", env: map[string]string{"RESOURCES_SOURCE": "consul"}, want: "RESOURCES_SOURCE"},
		{name: "unknown log format", env: map[string]string{"LOG_FORMAT": "xml"}, want: "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			_, err := Load()
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateServerRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.ErrorContains(t, cfg.ValidateServer(), "JWT_SECRET")

	cfg.JWTSecret = "s3cret"
	require.NoError(t, cfg.ValidateServer())
}
