package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the mentorlens server and indexer.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Inference InferenceConfig
	Worker    WorkerConfig
	Retrieval RetrievalConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	UploadDir          string
	MaxUploadBytes     int64
	SubmitsPerMinute   int
	StreamFallbackTick time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type InferenceConfig struct {
	Provider      string
	BaseURL       string
	Model         string
	Adapter       string
	APIKey        string
	CallTimeout   time.Duration
	ReadyInterval time.Duration
	ReadyWait     time.Duration
}

type WorkerConfig struct {
	PollInterval          time.Duration
	StaleAfter            time.Duration
	MaxRetries            int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	RecoveryResetsRetries bool
}

type RetrievalConfig struct {
	TopK              int
	MaxPassages       int
	MaxImageCitations int
	MaxQuoteCitations int
	ProfileCacheTTL   time.Duration
}

var validProviders = map[string]bool{
	"ollama": true,
	"openai": true,
	"vllm":   true,
}

var defaultBaseURLs = map[string]string{
	"ollama": "http://localhost:11434",
	"openai": "https://api.openai.com",
	"vllm":   "http://localhost:8000",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	provider := envString("INFERENCE_PROVIDER", "ollama")
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("MENTORLENS_PORT", 8080),
			Env:                envString("MENTORLENS_ENV", "development"),
			UploadDir:          envString("UPLOAD_DIR", "data/uploads"),
			MaxUploadBytes:     int64(envInt("MAX_UPLOAD_MB", 20)) << 20,
			SubmitsPerMinute:   envInt("SUBMITS_PER_MINUTE", 30),
			StreamFallbackTick: envDuration("STREAM_FALLBACK_TICK", 5*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Inference: InferenceConfig{
			Provider:      provider,
			BaseURL:       envString("INFERENCE_BASE_URL", defaultBaseURLs[provider]),
			Model:         os.Getenv("INFERENCE_MODEL"),
			Adapter:       os.Getenv("INFERENCE_ADAPTER"),
			APIKey:        os.Getenv("INFERENCE_API_KEY"),
			CallTimeout:   envDurationSecs("INFERENCE_TIMEOUT_SECS", 5*time.Minute),
			ReadyInterval: envDuration("INFERENCE_READY_INTERVAL", time.Second),
			ReadyWait:     envDurationSecs("INFERENCE_READY_WAIT_SECS", 30*time.Second),
		},
		Worker: WorkerConfig{
			PollInterval:          envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			StaleAfter:            envDuration("WORKER_STALE_AFTER", 15*time.Minute),
			MaxRetries:            envInt("WORKER_MAX_RETRIES", 3),
			BackoffBase:           envDuration("WORKER_BACKOFF_BASE", 5*time.Second),
			BackoffMax:            envDuration("WORKER_BACKOFF_MAX", 2*time.Minute),
			RecoveryResetsRetries: envBool("RECOVERY_RESETS_RETRIES", false),
		},
		Retrieval: RetrievalConfig{
			TopK:              envInt("RETRIEVAL_TOP_K", 3),
			MaxPassages:       envInt("RETRIEVAL_MAX_PASSAGES", 5),
			MaxImageCitations: envInt("MAX_IMAGE_CITATIONS", 3),
			MaxQuoteCitations: envInt("MAX_QUOTE_CITATIONS", 3),
			ProfileCacheTTL:   envDuration("PROFILE_CACHE_TTL", 10*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of ollama, openai, vllm; got %q", c.Inference.Provider)
	}
	if !strings.HasPrefix(c.Inference.BaseURL, "http://") && !strings.HasPrefix(c.Inference.BaseURL, "https://") {
		return fmt.Errorf("INFERENCE_BASE_URL must start with http:// or https://, got %q", c.Inference.BaseURL)
	}
	if c.Inference.Model == "" {
		return fmt.Errorf("INFERENCE_MODEL is required")
	}
	if c.Inference.Provider == "openai" && c.Inference.APIKey == "" {
		return fmt.Errorf("INFERENCE_API_KEY is required when INFERENCE_PROVIDER is openai")
	}
	if c.Inference.CallTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT_SECS must be positive")
	}
	if c.Worker.MaxRetries < 1 || c.Worker.MaxRetries > 3 {
		return fmt.Errorf("WORKER_MAX_RETRIES must be between 1 and 3, got %d", c.Worker.MaxRetries)
	}
	// A retrieval job can run two inference calls between heartbeats.
	if c.Worker.StaleAfter <= 2*c.Inference.CallTimeout {
		return fmt.Errorf("WORKER_STALE_AFTER (%s) must exceed twice the inference call timeout (%s)",
			c.Worker.StaleAfter, c.Inference.CallTimeout)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxImageCitations < 0 || c.Retrieval.MaxQuoteCitations < 0 {
		return fmt.Errorf("citation caps must not be negative")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
