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

const (
	// EnvProduction is the APP_ENV value that enables production policies.
	EnvProduction = "production"

	defaultJWTSecret = "dev-secret"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Enrollment EnrollmentConfig
	Storage    StorageConfig
	Kafka      KafkaConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	ProxyHeader           string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
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
	JWTSecret               string
	AccessTokenTTLMinutes   int
	PasswordResetTTLMinutes int
	BcryptCost              int
	PromotionKey            string
	AllowQueryToken         bool
	MaterialTokenTTLSeconds int
	MaterialTokenSingleUse  bool
}

// RateLimitConfig defines the per-route-group request budgets.
type RateLimitConfig struct {
	Backend            string
	AuthMax            int
	AuthMaxNonProd     int
	AuthWindowMinutes  int
	APIMax             int
	APIWindowMinutes   int
	ResetMax           int
	ResetWindowMinutes int
}

// EnrollmentConfig bounds calls to the enrollment store.
type EnrollmentConfig struct {
	LookupTimeoutMillis int
	BreakerFailures     int
	BreakerOpenSeconds  int
}

// StorageConfig points at local directories for uploads and course materials.
type StorageConfig struct {
	UploadDir    string
	MaterialsDir string
	MaxUploadMB  int
}

// KafkaConfig enables the optional audit sink.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
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
			Name:                  getEnv("APP_NAME", "lms-api"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "5000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			ProxyHeader:           os.Getenv("HTTP_PROXY_HEADER"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
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
			JWTSecret:               getEnv("AUTH_JWT_SECRET", defaultJWTSecret),
			AccessTokenTTLMinutes:   getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60*24*7),
			PasswordResetTTLMinutes: getEnvAsInt("AUTH_PASSWORD_RESET_TTL_MINUTES", 30),
			BcryptCost:              getEnvAsInt("AUTH_BCRYPT_COST", 12),
			PromotionKey:            os.Getenv("AUTH_PROMOTION_KEY"),
			AllowQueryToken:         getEnvAsBool("AUTH_ALLOW_QUERY_TOKEN", true),
			MaterialTokenTTLSeconds: getEnvAsInt("AUTH_MATERIAL_TOKEN_TTL_SECONDS", 120),
			MaterialTokenSingleUse:  getEnvAsBool("AUTH_MATERIAL_TOKEN_SINGLE_USE", true),
		},
		RateLimit: RateLimitConfig{
			Backend:            strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
			AuthMax:            getEnvAsInt("RATE_LIMIT_AUTH_MAX", 5),
			AuthMaxNonProd:     getEnvAsInt("RATE_LIMIT_AUTH_MAX_NON_PROD", 50),
			AuthWindowMinutes:  getEnvAsInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 15),
			APIMax:             getEnvAsInt("RATE_LIMIT_API_MAX", 100),
			APIWindowMinutes:   getEnvAsInt("RATE_LIMIT_API_WINDOW_MINUTES", 15),
			ResetMax:           getEnvAsInt("RATE_LIMIT_RESET_MAX", 3),
			ResetWindowMinutes: getEnvAsInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 60),
		},
		Enrollment: EnrollmentConfig{
			LookupTimeoutMillis: getEnvAsInt("ENROLLMENT_LOOKUP_TIMEOUT_MS", 3000),
			BreakerFailures:     getEnvAsInt("ENROLLMENT_BREAKER_FAILURES", 5),
			BreakerOpenSeconds:  getEnvAsInt("ENROLLMENT_BREAKER_OPEN_SECONDS", 30),
		},
		Storage: StorageConfig{
			UploadDir:    getEnv("STORAGE_UPLOAD_DIR", "uploads"),
			MaterialsDir: getEnv("STORAGE_MATERIALS_DIR", "uploads/courses"),
			MaxUploadMB:  getEnvAsInt("STORAGE_MAX_UPLOAD_MB", 50),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvAsList("KAFKA_BROKERS"),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "lms.audit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that are unsafe to run with.
func (c *Config) Validate() error {
	if c.App.IsProduction() && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == defaultJWTSecret) {
		return errors.New("AUTH_JWT_SECRET must be set in production")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// IsProduction reports whether production policies apply.
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Env, EnvProduction)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// LookupTimeout returns the enrollment lookup deadline.
func (e EnrollmentConfig) LookupTimeout() time.Duration {
	if e.LookupTimeoutMillis <= 0 {
		return 3 * time.Second
	}
	return time.Duration(e.LookupTimeoutMillis) * time.Millisecond
}

// MaxUploadBytes returns the upload body limit in bytes.
func (s StorageConfig) MaxUploadBytes() int {
	if s.MaxUploadMB <= 0 {
		return 50 << 20
	}
	return s.MaxUploadMB << 20
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

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
