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

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Realtime RealtimeConfig
	Audit    AuditConfig
	Screen   ScreenConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string // "*" allows every origin
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string // if set, used as-is (e.g. postgres://localhost:5432/livepulse?sslmode=disable)
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the shared secret of the identity collaborator.
type JWTConfig struct {
	Secret string
	TTL    time.Duration // lifetime of tokens issued by local tooling
}

// RealtimeConfig tunes the change stream.
type RealtimeConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
}

// AuditConfig controls the moderation audit trail.
type AuditConfig struct {
	Enabled      bool
	RetryBackoff time.Duration
	// InlineWorker runs the audit worker inside the API process instead of cmd/worker.
	InlineWorker bool
	// Retention is how long audit entries are kept; 0 keeps them forever.
	Retention time.Duration
	// MetricsAddr is where cmd/worker serves /metrics.
	MetricsAddr string
}

// ScreenConfig configures cmd/screen, the broadcast-screen consumer.
type ScreenConfig struct {
	ServerURL      string // http(s) base URL of the API
	SessionID      string
	Token          string
	ReconnectDelay time.Duration
}

// LogConfig selects the zap level.
type LogConfig struct {
	Level string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// StreamURL returns the ws(s) endpoint matching ServerURL.
func (c ScreenConfig) StreamURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"), ","),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "livepulse"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 20)),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Realtime: RealtimeConfig{
			SendBuffer:   getEnvInt("WS_SEND_BUFFER", 256),
			PingInterval: getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
			PongWait:     getEnvDuration("WS_PONG_WAIT", 60*time.Second),
		},
		Audit: AuditConfig{
			Enabled:      getEnvBool("AUDIT_ENABLED", true),
			RetryBackoff: getEnvDuration("AUDIT_RETRY_BACKOFF", 10*time.Second),
			InlineWorker: getEnvBool("AUDIT_INLINE_WORKER", false),
			Retention:    getEnvDuration("AUDIT_RETENTION", 90*24*time.Hour),
			MetricsAddr:  getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
		Screen: ScreenConfig{
			ServerURL:      getEnv("SCREEN_SERVER_URL", "http://localhost:8080"),
			SessionID:      getEnv("SCREEN_SESSION_ID", ""),
			Token:          getEnv("SCREEN_TOKEN", ""),
			ReconnectDelay: getEnvDuration("SCREEN_RECONNECT_DELAY", 2*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.Realtime.SendBuffer < 2 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be at least 2, got %d", c.Realtime.SendBuffer))
	}
	if c.Realtime.PongWait <= c.Realtime.PingInterval {
		errs = append(errs, errors.New("WS_PONG_WAIT must be longer than WS_PING_INTERVAL"))
	}
	if c.Database.MaxConns < 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
