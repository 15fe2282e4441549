package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-file-engine/internal/model"
)

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration
	JWTSecret          string
	JWTAccessTTL       time.Duration
	CORSOrigins        []string
	RateLimitRPM       int
	SubmitRateLimitRPM int
	LogLevel           string
	LogFormat          string

	ChunkSizeBytes        int
	MaxConnsPerResource   int
	MaxParallelItems      int
	JobWorkers            int
	LargeFileThreshold    int64
	ConflictDefaultPolicy model.ConflictPolicy
	ConnAcquireTimeout    time.Duration
	ConnKeepAliveInterval time.Duration
	CloudRatePerSecond    float64
	CloudBurst            int
	RetryMaxAttempts      int
	RetryInitialWait      time.Duration
	RetryMaxWait          time.Duration

	CacheDir      string
	CacheMaxBytes int64
	EditMaxBytes  int64

	// TransferStagingDir holds local copies of sources while copying within
	// a resource that allows one session. Empty means the OS temp dir.
	TransferStagingDir string

	TrashRetention     time.Duration
	TrashPurgeInterval time.Duration
	TrashStore         string
	TrashIndexFile     string
	SQLitePath         string
	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32

	ResourcesSource string
	ResourcesFile   string
}

// Load reads the environment (and .env when present). Callers that serve
// HTTP also need ValidateServer.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 0),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL:       getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:       getInt("RATE_LIMIT_RPM", 100),
		SubmitRateLimitRPM: getInt("SUBMIT_RATE_LIMIT_RPM", 30),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "pretty")),

		ChunkSizeBytes:        getInt("CHUNK_SIZE_BYTES", 5*1024*1024),
		MaxConnsPerResource:   getInt("MAX_CONNS_PER_RESOURCE", 4),
		MaxParallelItems:      getInt("MAX_PARALLEL_ITEMS", 4),
		JobWorkers:            getInt("JOB_WORKERS", 2),
		LargeFileThreshold:    getInt64("LARGE_FILE_THRESHOLD_BYTES", 100*1024*1024),
		ConflictDefaultPolicy: model.ConflictPolicy(strings.ToUpper(getEnv("CONFLICT_DEFAULT_POLICY", string(model.ConflictKeepBoth)))),
		ConnAcquireTimeout:    getDuration("CONN_ACQUIRE_TIMEOUT", 30*time.Second),
		ConnKeepAliveInterval: getDuration("CONN_KEEPALIVE_INTERVAL", 30*time.Second),
		CloudRatePerSecond:    getFloat("CLOUD_RATE_PER_SECOND", 10),
		CloudBurst:            getInt("CLOUD_BURST", 10),
		RetryMaxAttempts:      getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialWait:      getDuration("RETRY_INITIAL_WAIT", 500*time.Millisecond),
		RetryMaxWait:          getDuration("RETRY_MAX_WAIT", 10*time.Second),

		CacheDir:      getEnv("CACHE_DIR", "./state/cache"),
		CacheMaxBytes: getInt64("CACHE_MAX_BYTES", 2*1024*1024*1024),
		EditMaxBytes:  getInt64("EDIT_MAX_BYTES", 512*1024*1024),

		TransferStagingDir: getEnv("TRANSFER_STAGING_DIR", ""),

		TrashRetention:     getDuration("TRASH_RETENTION", 720*time.Hour),
		TrashPurgeInterval: getDuration("TRASH_PURGE_INTERVAL", time.Hour),
		TrashStore:         strings.ToLower(getEnv("TRASH_STORE", StoreFile)),
		TrashIndexFile:     getEnv("TRASH_INDEX_FILE", "./state/trash-index.json"),
		SQLitePath:         getEnv("SQLITE_PATH", "./state/engine.db"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:         int32(getInt("DB_MAX_CONNS", 8)),
		DBMinConns:         int32(getInt("DB_MIN_CONNS", 1)),

		ResourcesSource: strings.ToLower(getEnv("RESOURCES_SOURCE", StoreFile)),
		ResourcesFile:   getEnv("RESOURCES_FILE", "./resources.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("CHUNK_SIZE_BYTES must be positive")
	}

	if c.MaxConnsPerResource <= 0 {
		return fmt.Errorf("MAX_CONNS_PER_RESOURCE must be positive")
	}

	if c.MaxParallelItems <= 0 {
		return fmt.Errorf("MAX_PARALLEL_ITEMS must be positive")
	}

	if c.JobWorkers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive")
	}

	if _, err := model.ParseConflictPolicy(string(c.ConflictDefaultPolicy)); err != nil {
		return fmt.Errorf("CONFLICT_DEFAULT_POLICY: %w", err)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.CacheMaxBytes < 0 || c.EditMaxBytes < 0 || c.LargeFileThreshold < 0 {
		return fmt.Errorf("byte limits cannot be negative")
	}

	if strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("CACHE_DIR cannot be empty")
	}

	switch c.TrashStore {
	case StoreFile:
		if strings.TrimSpace(c.TrashIndexFile) == "" {
			return fmt.Errorf("TRASH_INDEX_FILE cannot be empty")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when TRASH_STORE=postgres")
		}
	default:
		return fmt.Errorf("TRASH_STORE %q (allowed: file|sqlite|postgres)", c.TrashStore)
	}

	switch c.ResourcesSource {
	case StoreFile:
		if strings.TrimSpace(c.ResourcesFile) == "" {
			return fmt.Errorf("RESOURCES_FILE cannot be empty")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RESOURCES_SOURCE=postgres")
		}
	default:
		return fmt.Errorf("RESOURCES_SOURCE %q (allowed: file|postgres)", c.ResourcesSource)
	}

	switch c.LogFormat {
	case "pretty", "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT %q (allowed: pretty|json|text)", c.LogFormat)
	}

	return nil
}

// ValidateServer adds the checks only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return nil
}

// UsesDatabase reports whether any store is backed by Postgres.
func (c *Config) UsesDatabase() bool {
	return c.TrashStore == StorePostgres || c.ResourcesSource == StorePostgres
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
