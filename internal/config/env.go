package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string
	SslCertPath   string
	DBPoolMinSize int
	DBPoolMaxSize int
	DBTimeout     time.Duration

	RedisURL          string
	QueueBackend      string
	QueueName         string
	WorkerConcurrency int
	TaskRetention     time.Duration
	TaskMaxRetry      int

	ObjectStore    string
	ObjectStoreDir string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string

	LLMProvider     string
	AIAPIKey        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	VisionModel     string
	GenModel        string
	EmbedModel      string
	EmbedDim        int
	ProviderTimeout time.Duration
	ProviderRPM     int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	RenderDPI      float64
	PageTimeout    time.Duration
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
	QueryTopK      int
	MaxUploadMB    int

	JWTSecret       string
	OTLPEndpoint    string
	OTelSampleRatio float64
	LogLevel        string
	LogFormat       string
	Port            string
	CORSOrigins     []string
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SslCertPath:   getEnv("SSL_CERT_PATH", ""),
		DBPoolMinSize: getEnvInt("DB_POOL_MIN_SIZE", 2),
		DBPoolMaxSize: getEnvInt("DB_POOL_MAX_SIZE", 10),
		DBTimeout:     getEnvDuration("DB_TIMEOUT", 30*time.Second),

		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueueBackend:      getEnv("QUEUE_BACKEND", "asynq"),
		QueueName:         getEnv("QUEUE_NAME", "critical"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		TaskRetention:     getEnvDuration("TASK_RETENTION", 24*time.Hour),
		TaskMaxRetry:      getEnvInt("TASK_MAX_RETRY", 3),

		ObjectStore:    getEnv("OBJECT_STORE", "s3"),
		ObjectStoreDir: getEnv("OBJECT_STORE_DIR", "./data/objects"),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "docsift-uploads"),

		LLMProvider:     getEnv("LLM_PROVIDER", "gemini"),
		AIAPIKey:        getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		VisionModel:     getEnv("VISION_MODEL", "gemini-2.0-flash"),
		GenModel:        getEnv("GEN_MODEL", "gemini-2.0-flash"),
		EmbedModel:      getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:        getEnvInt("EMBED_DIM", 768),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		ProviderRPM:     getEnvInt("PROVIDER_RPM", 60),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),

		RenderDPI:      getEnvFloat("RENDER_DPI", 144),
		PageTimeout:    getEnvDuration("PAGE_TIMEOUT", 30*time.Second),
		ChunkSize:      getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 100),
		MinChunkLength: getEnvInt("MIN_CHUNK_LENGTH", 50),
		QueryTopK:      getEnvInt("QUERY_TOP_K", 5),
		MaxUploadMB:    getEnvInt("MAX_UPLOAD_MB", 50),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 0.1),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		Port:            getEnv("PORT", "8080"),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.DBPoolMinSize > c.DBPoolMaxSize {
		errs = append(errs, fmt.Errorf("DB_POOL_MIN_SIZE (%d) exceeds DB_POOL_MAX_SIZE (%d)", c.DBPoolMinSize, c.DBPoolMaxSize))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts))
	}
	switch c.QueueBackend {
	case "asynq", "memory":
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND %q not supported", c.QueueBackend))
	}
	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q not supported", c.LLMProvider))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config value is not a float, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
