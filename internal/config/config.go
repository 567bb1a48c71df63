// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Workers  WorkersConfig
	Clients  ClientsConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-grants"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// DatabaseConfig controls the Postgres pool.
type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"grants"`
	Password    string        `env:"DB_PASSWORD" envDefault:""`
	Database    string        `env:"DB_NAME" envDefault:"grants"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnLife time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"5m"`
}

// NATSConfig controls the notification publisher. Disabled means email jobs
// fail with a recorded error instead of being silently dropped.
type NATSConfig struct {
	URL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Enabled bool   `env:"NATS_ENABLED" envDefault:"true"`
}

// WorkersConfig controls the outbox fan-out and delivery loops.
type WorkersConfig struct {
	FanoutInterval   time.Duration `env:"NOTIF_FANOUT_INTERVAL" envDefault:"5s"`
	DeliveryInterval time.Duration `env:"NOTIF_DELIVERY_INTERVAL" envDefault:"5s"`
	BatchSize        int           `env:"NOTIF_BATCH_SIZE" envDefault:"50"`
}

// ClientsConfig holds the base URLs of sibling platform services. Empty URLs
// leave the corresponding client in its disabled stub mode.
type ClientsConfig struct {
	IdentityURL string `env:"IDENTITY_SERVICE_URL" envDefault:""`
	ApproverURL string `env:"EXTERNAL_APPROVER_URL" envDefault:""`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
