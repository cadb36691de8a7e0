package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Storage      StorageConfig
	Retention    RetentionConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int

	// AdminBootstrapEmail names the account promoted to admin at startup.
	AdminBootstrapEmail string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// StorageConfig points at the attachment bucket.
type StorageConfig struct {
	Bucket          string
	BaseURL         string
	CredentialsFile string
	Endpoint        string
	MaxUploadBytes  int64
}

// RetentionConfig drives the attachment retention sweep.
type RetentionConfig struct {
	Enabled     bool
	WindowDays  int
	Interval    time.Duration
	Parallelism int
	LockKey     string
	LockTTL     time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			AdminBootstrapEmail:   getEnv("ADMIN_BOOTSTRAP_EMAIL", ""),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Storage: StorageConfig{
			Bucket:          os.Getenv("STORAGE_BUCKET"),
			BaseURL:         os.Getenv("STORAGE_PUBLIC_BASE_URL"),
			CredentialsFile: os.Getenv("STORAGE_CREDENTIALS_FILE"),
			Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
			MaxUploadBytes:  int64(getEnvAsInt("STORAGE_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Retention: RetentionConfig{
			Enabled:     getEnvAsBool("RETENTION_ENABLED", true),
			WindowDays:  getEnvAsInt("RETENTION_WINDOW_DAYS", 90),
			Interval:    getEnvAsDuration("RETENTION_INTERVAL", 24*time.Hour),
			Parallelism: getEnvAsInt("RETENTION_PARALLELISM", 4),
			LockKey:     getEnv("RETENTION_LOCK_KEY", "helpdesk:retention:sweep"),
			LockTTL:     getEnvAsDuration("RETENTION_LOCK_TTL", 30*time.Minute),
		},
	}

	if err := cfg.Retention.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PublicBase is the URL prefix under which uploaded objects are published.
// It always ends with a slash.
func (s StorageConfig) PublicBase() string {
	base := s.BaseURL
	if base == "" {
		if s.Bucket == "" {
			return ""
		}
		base = "https://storage.googleapis.com/" + s.Bucket
	}
	return strings.TrimRight(base, "/") + "/"
}

// Window returns the retention window as a duration.
func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.WindowDays) * 24 * time.Hour
}

// Validate rejects settings that would make sweeps meaningless.
func (r RetentionConfig) Validate() error {
	if r.WindowDays <= 0 {
		return errors.New("RETENTION_WINDOW_DAYS must be positive")
	}
	if r.Interval <= 0 {
		return errors.New("RETENTION_INTERVAL must be positive")
	}
	if r.LockTTL <= 0 {
		return errors.New("RETENTION_LOCK_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
