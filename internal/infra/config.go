package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends.
const (
	LedgerBackendFile     = "file"
	LedgerBackendSQLite   = "sqlite"
	LedgerBackendPostgres = "postgres"
)

// Job store backends.
const (
	JobStoreMemory = "memory"
	JobStoreRedis  = "redis"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	APIKey              string
	SceneBaseURL        string
	SceneModel          string
	SceneRequestTimeout time.Duration
	VideoBaseURL        string
	VideoModel          string
	VideoRequestTimeout time.Duration
	VideoPollInterval   time.Duration
	VideoPollTimeout    time.Duration
	VideoPollMaxFails   int
	RetryDelays         []time.Duration

	StartingCredits  int64
	EnforceCreditCap bool
	LedgerBackend    string
	LedgerPath       string
	LedgerSQLitePath string
	DatabaseURL      string
	JobStore         string
	JobRetention     int
	JobTTL           time.Duration
	RedisURL         string
	StoragePath      string
	StorageBaseURL   string
	MaxUploadBytes   int64
	RateLimitPerMin  int
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                port,
		APIKey:              strings.TrimSpace(os.Getenv("GENERATION_API_KEY")),
		SceneBaseURL:        getEnv("SCENE_BASE_URL", "https://api.scenecast.dev/v1"),
		SceneModel:          getEnv("SCENE_MODEL", "seedream-4.0"),
		SceneRequestTimeout: getEnvDuration("SCENE_REQUEST_TIMEOUT", 120*time.Second),
		VideoBaseURL:        getEnv("VIDEO_BASE_URL", "https://api.scenecast.dev/v1"),
		VideoModel:          getEnv("VIDEO_MODEL", "veo-3.1"),
		VideoRequestTimeout: getEnvDuration("VIDEO_REQUEST_TIMEOUT", 60*time.Second),
		VideoPollInterval:   getEnvDuration("VIDEO_POLL_INTERVAL", 10*time.Second),
		VideoPollTimeout:    getEnvDuration("VIDEO_POLL_TIMEOUT", 5*time.Minute),
		VideoPollMaxFails:   getEnvInt("VIDEO_POLL_MAX_FAILURES", 5),
		RetryDelays:         getEnvDurations("RETRY_DELAYS", []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}),
		StartingCredits:     int64(getEnvInt("CREDITS_STARTING_BALANCE", 20_000_000)),
		EnforceCreditCap:    getEnvBool("CREDITS_ENFORCE_CAP", false),
		LedgerBackend:       strings.ToLower(getEnv("LEDGER_BACKEND", LedgerBackendFile)),
		LedgerPath:          getEnv("LEDGER_PATH", "./data/credits.json"),
		LedgerSQLitePath:    getEnv("LEDGER_SQLITE_PATH", "./data/credits.db"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		JobStore:            strings.ToLower(getEnv("JOB_STORE", JobStoreMemory)),
		JobRetention:        getEnvInt("JOB_RETENTION", 500),
		JobTTL:              getEnvDuration("JOB_TTL", 24*time.Hour),
		RedisURL:            os.Getenv("REDIS_URL"),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:      getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:         getEnvList("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GENERATION_API_KEY is required")
	}

	switch cfg.LedgerBackend {
	case LedgerBackendFile, LedgerBackendSQLite:
	case LedgerBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres ledger backend")
		}
	default:
		return nil, fmt.Errorf("unsupported LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	switch cfg.JobStore {
	case JobStoreMemory:
	case JobStoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis job store")
		}
	default:
		return nil, fmt.Errorf("unsupported JOB_STORE %q", cfg.JobStore)
	}

	if cfg.StartingCredits < 0 {
		return nil, fmt.Errorf("CREDITS_STARTING_BALANCE must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// getEnvDurations parses a comma separated schedule such as "5s,15s,30s".
// An unparsable entry discards the whole value.
func getEnvDurations(key string, fallback []time.Duration) []time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d < 0 {
			return fallback
		}
		out = append(out, d)
	}
	return out
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
