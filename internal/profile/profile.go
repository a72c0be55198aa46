package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where assetvault stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// InstanceURL is the url of your assetvault instance.
	InstanceURL string

	// Embedding configuration
	EmbeddingProvider   string // ASSETVAULT_EMBEDDING_PROVIDER (default: openai)
	EmbeddingModel      string // ASSETVAULT_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingDimensions int    // ASSETVAULT_EMBEDDING_DIMENSIONS (default: 768)
	EmbeddingAPIKey     string // ASSETVAULT_EMBEDDING_API_KEY
	EmbeddingBaseURL    string // ASSETVAULT_EMBEDDING_BASE_URL (default: https://api.openai.com/v1)

	// Captioning configuration
	CaptionEnabled bool   // ASSETVAULT_CAPTION_ENABLED (default: false)
	CaptionModel   string // ASSETVAULT_CAPTION_MODEL (default: gpt-4o-mini)

	// Backends
	VectorBackend  string // ASSETVAULT_VECTOR_BACKEND (pgvector or memory, default: pgvector)
	QueueBackend   string // ASSETVAULT_QUEUE_BACKEND (memory or redis, default: memory)
	RedisAddr      string // ASSETVAULT_REDIS_ADDR (default: localhost:6379)
	RedisPassword  string // ASSETVAULT_REDIS_PASSWORD
	StorageBackend string // ASSETVAULT_STORAGE_BACKEND (local or s3, default: local)

	// S3 configuration
	S3Bucket        string // ASSETVAULT_S3_BUCKET
	S3Region        string // ASSETVAULT_S3_REGION (default: us-east-1)
	S3Endpoint      string // ASSETVAULT_S3_ENDPOINT
	S3AccessKey     string // ASSETVAULT_S3_ACCESS_KEY
	S3SecretKey     string // ASSETVAULT_S3_SECRET_KEY
	S3PublicBaseURL string // ASSETVAULT_S3_PUBLIC_URL

	// JWTSecret verifies the bearer tokens that carry the organization id.
	JWTSecret string // ASSETVAULT_JWT_SECRET

	// Consumer configuration
	ConsumerConcurrency int // ASSETVAULT_CONSUMER_CONCURRENCY (default: 4)
	ConsumerBatchSize   int // ASSETVAULT_CONSUMER_BATCH_SIZE (default: 10)

	// Search configuration
	SearchRateLimit     int // ASSETVAULT_SEARCH_RATE_LIMIT, requests per second per tenant (default: 10)
	QueryCacheSize      int // ASSETVAULT_QUERY_CACHE_SIZE (default: 1000)
	QueryCacheTTLMinute int // ASSETVAULT_QUERY_CACHE_TTL_MINUTES (default: 60)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding provider can be reached.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer environment variable", "key", key, "value", value)
		return defaultValue
	}
	return n
}

// FromEnv loads service configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("ASSETVAULT_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("ASSETVAULT_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDimensions = getIntEnvOrDefault("ASSETVAULT_EMBEDDING_DIMENSIONS", 768)
	p.EmbeddingAPIKey = os.Getenv("ASSETVAULT_EMBEDDING_API_KEY")
	p.EmbeddingBaseURL = getEnvOrDefault("ASSETVAULT_EMBEDDING_BASE_URL", "https://api.openai.com/v1")

	p.CaptionEnabled = os.Getenv("ASSETVAULT_CAPTION_ENABLED") == "true"
	p.CaptionModel = getEnvOrDefault("ASSETVAULT_CAPTION_MODEL", "gpt-4o-mini")

	p.VectorBackend = getEnvOrDefault("ASSETVAULT_VECTOR_BACKEND", "pgvector")
	p.QueueBackend = getEnvOrDefault("ASSETVAULT_QUEUE_BACKEND", "memory")
	p.RedisAddr = getEnvOrDefault("ASSETVAULT_REDIS_ADDR", "localhost:6379")
	p.RedisPassword = os.Getenv("ASSETVAULT_REDIS_PASSWORD")
	p.StorageBackend = getEnvOrDefault("ASSETVAULT_STORAGE_BACKEND", "local")

	p.S3Bucket = os.Getenv("ASSETVAULT_S3_BUCKET")
	p.S3Region = getEnvOrDefault("ASSETVAULT_S3_REGION", "us-east-1")
	p.S3Endpoint = os.Getenv("ASSETVAULT_S3_ENDPOINT")
	p.S3AccessKey = os.Getenv("ASSETVAULT_S3_ACCESS_KEY")
	p.S3SecretKey = os.Getenv("ASSETVAULT_S3_SECRET_KEY")
	p.S3PublicBaseURL = os.Getenv("ASSETVAULT_S3_PUBLIC_URL")

	p.JWTSecret = os.Getenv("ASSETVAULT_JWT_SECRET")

	p.ConsumerConcurrency = getIntEnvOrDefault("ASSETVAULT_CONSUMER_CONCURRENCY", 4)
	p.ConsumerBatchSize = getIntEnvOrDefault("ASSETVAULT_CONSUMER_BATCH_SIZE", 10)

	p.SearchRateLimit = getIntEnvOrDefault("ASSETVAULT_SEARCH_RATE_LIMIT", 10)
	p.QueryCacheSize = getIntEnvOrDefault("ASSETVAULT_QUERY_CACHE_SIZE", 1000)
	p.QueryCacheTTLMinute = getIntEnvOrDefault("ASSETVAULT_QUERY_CACHE_TTL_MINUTES", 60)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "assetvault")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/assetvault"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("assetvault_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	switch p.VectorBackend {
	case "pgvector":
		if p.Driver != "postgres" {
			return errors.New("pgvector backend requires the postgres driver")
		}
	case "memory":
	default:
		return errors.Errorf("unknown vector backend: %s", p.VectorBackend)
	}

	switch p.QueueBackend {
	case "memory", "redis":
	default:
		return errors.Errorf("unknown queue backend: %s", p.QueueBackend)
	}

	switch p.StorageBackend {
	case "local":
	case "s3":
		if p.S3Bucket == "" {
			return errors.New("s3 storage requires ASSETVAULT_S3_BUCKET")
		}
	default:
		return errors.Errorf("unknown storage backend: %s", p.StorageBackend)
	}

	return nil
}
