package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Typesense   TypesenseConfig
	Storage     StorageConfig
	Analysis    AnalysisConfig
	Extraction  ExtractionConfig
	Realtime    RealtimeConfig
	Pipeline    PipelineConfig
	Sampler     SamplerConfig
	Live        LiveConfig
	Cache       CacheConfig
	Ingest      IngestConfig
	OTEL        OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host          string
	Port          int
	PublicBaseURL string
	// AllowedOrigins lists browser origins permitted by CORS; "*" allows any.
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MigrateOnStart bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// PoolSize must cover one blocking dequeue per pipeline worker.
	PoolSize int
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	URL     string
	APIKey  string
	Enabled bool
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	RootDir     string
	SigningKey  string
	DownloadTTL time.Duration
}

// AnalysisConfig holds the vision-language analysis backend configuration
type AnalysisConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	BreakerFailures   int
	BreakerCooldown   time.Duration
}

// ExtractionConfig holds the frame extraction utility configuration
type ExtractionConfig struct {
	BaseURL   string
	Timeout   time.Duration
	TargetFPS float64
}

// RealtimeConfig holds the realtime voice provider configuration
type RealtimeConfig struct {
	APIKey         string
	SDPURL         string
	SessionsURL    string
	Model          string
	Voice          string
	ConnectTimeout time.Duration
}

// PipelineConfig holds batch pipeline configuration
type PipelineConfig struct {
	Workers              int
	BatchSize            int
	StageAttempts        int
	AnalysisFailureFatal bool
	QueueName            string
}

// SamplerConfig holds frame sampling policy configuration
type SamplerConfig struct {
	BaseRate         float64
	MotionThreshold  float64
	MaxBoost         float64
	StaticThreshold  float64
	FloorRate        float64
	CeilingPerSecond int
}

// LiveConfig holds live session configuration
type LiveConfig struct {
	CaptureInterval     time.Duration
	InactivityThreshold time.Duration
	TimelineCapacity    int
	ContextTokenBudget  int
}

// CacheConfig holds analysis cache TTLs
type CacheConfig struct {
	RecordedTTL time.Duration
	LiveTTL     time.Duration
	ClaimTTL    time.Duration
}

// IngestConfig holds the upload inbox watcher configuration
type IngestConfig struct {
	Enabled       bool
	InboxDir      string
	ProcedureType string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Database:       getEnv("DB_NAME", "procedure_copilot"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrateOnStart: getEnvAsBool("DB_MIGRATE_ON_START", true),

			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		Typesense: TypesenseConfig{
			URL:     getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey:  getEnv("TYPESENSE_API_KEY", "xyz"),
			Enabled: getEnvAsBool("TYPESENSE_ENABLED", false),
		},
		Storage: StorageConfig{
			RootDir:     getEnv("STORAGE_ROOT", "./data"),
			SigningKey:  getEnv("STORAGE_SIGNING_KEY", "dev-signing-key"),
			DownloadTTL: getEnvAsDuration("STORAGE_DOWNLOAD_TTL", time.Hour),
		},
		Analysis: AnalysisConfig{
			BaseURL:           getEnv("ANALYSIS_BASE_URL", "http://localhost:8001"),
			APIKey:            getEnv("ANALYSIS_API_KEY", ""),
			Model:             getEnv("ANALYSIS_MODEL", "medgemma-4b-it"),
			Timeout:           getEnvAsDuration("ANALYSIS_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvAsInt("ANALYSIS_RPM", 120),
			BreakerFailures:   getEnvAsInt("ANALYSIS_BREAKER_FAILURES", 5),
			BreakerCooldown:   getEnvAsDuration("ANALYSIS_BREAKER_COOLDOWN", 30*time.Second),
		},
		Extraction: ExtractionConfig{
			BaseURL:   getEnv("EXTRACTION_BASE_URL", "http://localhost:8002"),
			Timeout:   getEnvAsDuration("EXTRACTION_TIMEOUT", 10*time.Minute),
			TargetFPS: getEnvAsFloat("EXTRACTION_TARGET_FPS", 1.0),
		},
		Realtime: RealtimeConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			SDPURL:         getEnv("REALTIME_SDP_URL", "https://api.openai.com/v1/realtime"),
			SessionsURL:    getEnv("REALTIME_SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions"),
			Model:          getEnv("REALTIME_MODEL", "gpt-4o-realtime-preview"),
			Voice:          getEnv("REALTIME_VOICE", "alloy"),
			ConnectTimeout: getEnvAsDuration("REALTIME_CONNECT_TIMEOUT", 15*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:              getEnvAsInt("PIPELINE_WORKERS", 4),
			BatchSize:            getEnvAsInt("PIPELINE_BATCH_SIZE", 10),
			StageAttempts:        getEnvAsInt("PIPELINE_STAGE_ATTEMPTS", 3),
			AnalysisFailureFatal: getEnvAsBool("PIPELINE_ANALYSIS_FAILURE_FATAL", false),
			QueueName:            getEnv("PIPELINE_QUEUE", "procedure:tasks"),
		},
		Sampler: SamplerConfig{
			BaseRate:         getEnvAsFloat("SAMPLER_BASE_RATE", 1.0),
			MotionThreshold:  getEnvAsFloat("SAMPLER_MOTION_THRESHOLD", 0.3),
			MaxBoost:         getEnvAsFloat("SAMPLER_MAX_BOOST", 3.0),
			StaticThreshold:  getEnvAsFloat("SAMPLER_STATIC_THRESHOLD", 0.05),
			FloorRate:        getEnvAsFloat("SAMPLER_FLOOR_RATE", 0.2),
			CeilingPerSecond: getEnvAsInt("SAMPLER_CEILING_PER_SECOND", 3),
		},
		Live: LiveConfig{
			CaptureInterval:     getEnvAsDuration("LIVE_CAPTURE_INTERVAL", 2*time.Second),
			InactivityThreshold: getEnvAsDuration("LIVE_INACTIVITY_THRESHOLD", 120*time.Second),
			TimelineCapacity:    getEnvAsInt("LIVE_TIMELINE_CAPACITY", 200),
			ContextTokenBudget:  getEnvAsInt("LIVE_CONTEXT_TOKEN_BUDGET", 2000),
		},
		Cache: CacheConfig{
			RecordedTTL: getEnvAsDuration("CACHE_RECORDED_TTL", 7*24*time.Hour),
			LiveTTL:     getEnvAsDuration("CACHE_LIVE_TTL", 15*time.Minute),
			ClaimTTL:    getEnvAsDuration("CACHE_CLAIM_TTL", 5*time.Minute),
		},
		Ingest: IngestConfig{
			Enabled:       getEnvAsBool("INGEST_ENABLED", false),
			InboxDir:      getEnv("INGEST_INBOX_DIR", "./inbox"),
			ProcedureType: getEnv("INGEST_PROCEDURE_TYPE", "endoscopy"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "procedure-copilot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("PIPELINE_BATCH_SIZE must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Redis.PoolSize <= c.Pipeline.Workers {
		return fmt.Errorf("REDIS_POOL_SIZE (%d) must exceed PIPELINE_WORKERS (%d)", c.Redis.PoolSize, c.Pipeline.Workers)
	}
	if c.Pipeline.StageAttempts <= 0 {
		return fmt.Errorf("PIPELINE_STAGE_ATTEMPTS must be positive, got %d", c.Pipeline.StageAttempts)
	}
	if c.Sampler.BaseRate <= 0 {
		return fmt.Errorf("SAMPLER_BASE_RATE must be positive, got %v", c.Sampler.BaseRate)
	}
	if c.Sampler.FloorRate <= 0 || c.Sampler.FloorRate > c.Sampler.BaseRate {
		return fmt.Errorf("SAMPLER_FLOOR_RATE must be in (0, base rate], got %v", c.Sampler.FloorRate)
	}
	if c.Live.CaptureInterval <= 0 {
		return fmt.Errorf("LIVE_CAPTURE_INTERVAL must be positive")
	}
	if c.Live.InactivityThreshold <= c.Live.CaptureInterval {
		return fmt.Errorf("LIVE_INACTIVITY_THRESHOLD must exceed LIVE_CAPTURE_INTERVAL")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the URL form of the connection string used by migrations
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
