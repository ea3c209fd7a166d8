package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppName string `envconfig:"APP_NAME" default:"Forum Chat API"`
	Env     string `envconfig:"APP_ENV" default:"development"`
	Host    string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port    int    `envconfig:"HTTP_PORT" default:"8000"`
	Debug   bool   `envconfig:"DEBUG" default:"true"`

	// DatabaseDriver selects the store: postgres or sqlite.
	DatabaseDriver   string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"forumchat"`
	SQLitePath       string `envconfig:"SQLITE_PATH" default:"forumchat.db"`

	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`
	AccessTokenMinutes int    `envconfig:"ACCESS_TOKEN_EXPIRE_MINUTES" default:"1440"`

	// RedisURL enables the permission cache and the event queue when set.
	// The event consumer only polls the event queue; NOTIFY_QUEUE belongs
	// to the external delivery workers.
	RedisURL         string `envconfig:"REDIS_URL"`
	AsynqConcurrency int    `envconfig:"ASYNQ_CONCURRENCY" default:"10"`
	NotifyQueue      string `envconfig:"NOTIFY_QUEUE" default:"notifications"`
	NotifyMaxRetry   int    `envconfig:"NOTIFY_MAX_RETRY" default:"5"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	HistoryLimit       int           `envconfig:"WS_HISTORY_LIMIT" default:"50"`
	SendQueueSize      int           `envconfig:"WS_SEND_QUEUE" default:"256"`
	MaxMalformed       int           `envconfig:"WS_MAX_MALFORMED" default:"5"`
	RecheckInterval    time.Duration `envconfig:"WS_RECHECK_INTERVAL" default:"300s"`
	PermissionCacheTTL time.Duration `envconfig:"PERMISSION_CACHE_TTL" default:"300s"`
	MaxPageSize        int           `envconfig:"MAX_PAGE_SIZE" default:"500"`
	MaxMessageLength   int           `envconfig:"MAX_MESSAGE_LENGTH" default:"5000"`
	RetentionInterval  time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("config: couldn't load .env: %v", err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			u := url.URL{
				Scheme:   "postgres",
				User:     url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword),
				Host:     fmt.Sprintf("%s:%d", cfg.PostgresHost, cfg.PostgresPort),
				Path:     cfg.PostgresDB,
				RawQuery: "sslmode=disable",
			}
			cfg.DatabaseURL = u.String()
		}
	case "sqlite":
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = cfg.SQLitePath
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.HistoryLimit <= 0 || cfg.SendQueueSize <= 0 || cfg.MaxPageSize <= 0 {
		return nil, fmt.Errorf("WS_HISTORY_LIMIT, WS_SEND_QUEUE and MAX_PAGE_SIZE must be positive")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}
