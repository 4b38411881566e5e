package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Authority AuthorityConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
	TSA       TSAConfig
	Mail      MailConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// IsDevelopment reports whether relaxed development behaviour applies
func (s ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig holds connection settings for the redis flow store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an idle flow is kept; zero keeps flows forever
	TTL time.Duration
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	// Stream receives every published domain event
	Stream string
}

// ConnectionString builds an esdb:// URI
func (k KurrentDBConfig) ConnectionString() string {
	var creds string
	if k.Username != "" {
		creds = k.Username + ":" + k.Password + "@"
	}
	return fmt.Sprintf("esdb://%s%s:%d?tls=%t", creds, k.Host, k.Port, !k.Insecure)
}

type AuthConfig struct {
	JWTSecret string
	// AllowRoleHeader accepts X-Actor-Role instead of a bearer token
	AllowRoleHeader bool
}

// AuthorityConfig controls the links and fingerprints shown on documents
type AuthorityConfig struct {
	BaseURL      string
	ShortHashLen int
	Vertical     string
}

// StoreConfig selects the flow persistence backend: memory, postgres or redis
type StoreConfig struct {
	Backend string
}

// RateLimitConfig limits the public verification endpoint per client IP
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// TSAConfig holds configuration for the certificate seal authority.
type TSAConfig struct {
	Enabled bool
	// OrgName for the self-signed TSA certificate
	OrgName string
}

type MailConfig struct {
	// Provider: console or mock
	Provider string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docauthority"),
			Password: getEnv("DB_PASSWORD", "docauthority"),
			Database: getEnv("DB_NAME", "docauthority"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_FLOW_TTL", 30*24*time.Hour),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
			Stream:   getEnv("KURRENTDB_STREAM", "docauthority-events"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			AllowRoleHeader: getEnvBool("AUTH_ALLOW_ROLE_HEADER", false),
		},
		Authority: AuthorityConfig{
			BaseURL:      getEnv("AUTHORITY_BASE_URL", "http://localhost:8080"),
			ShortHashLen: getEnvInt("AUTHORITY_SHORT_HASH_LEN", 8),
			Vertical:     getEnv("AUTHORITY_VERTICAL", "home-safety"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("VERIFY_RATE_RPS", 5),
			Burst: getEnvInt("VERIFY_RATE_BURST", 10),
		},
		TSA: TSAConfig{
			Enabled: getEnvBool("TSA_ENABLED", true),
			OrgName: getEnv("TSA_ORG_NAME", "KAEC Document Authority"),
		},
		Mail: MailConfig{
			Provider: getEnv("MAIL_PROVIDER", "console"),
		},
	}

	if cfg.Server.IsDevelopment() {
		cfg.Auth.AllowRoleHeader = true
	}

	switch cfg.Store.Backend {
	case "memory", "postgres", "redis":
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
