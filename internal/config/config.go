package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Issuance IssuanceConfig
	Log      LogConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string  `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int     `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
	ReserveRateRPS  float64 `envconfig:"RESERVE_RATE_RPS" default:"0"`  // 0 disables the throttle
	ReserveBurst    int     `envconfig:"RESERVE_RATE_BURST" default:"1000"`
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host        string        `envconfig:"DB_HOST" default:"localhost"`
	Port        int           `envconfig:"DB_PORT" default:"5432"`
	User        string        `envconfig:"DB_USER" default:"postgres"`
	Password    string        `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name        string        `envconfig:"DB_NAME" default:"coupon_db"`
	SSLMode     string        `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns    int           `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns    int           `envconfig:"DB_MIN_CONNS" default:"5"`
	LockTimeout time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"5s"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// RedisConfig holds the reservation store connection settings.
type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  string `envconfig:"REDIS_PASSWORD" default:""`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"coupon"`
}

// KafkaConfig holds message bus settings.
type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	IssueTopic string   `envconfig:"KAFKA_ISSUE_TOPIC" default:"coupon-issue-requested"`
	DLTTopic   string   `envconfig:"KAFKA_DLT_TOPIC" default:"coupon-issue-requested.DLT"`
	IssueGroup string   `envconfig:"KAFKA_ISSUE_GROUP" default:"coupon-issuer"`
	DLTGroup   string   `envconfig:"KAFKA_DLT_GROUP" default:"coupon-issuer-dlt"`
}

// IssuanceConfig holds the reservation/fulfillment pipeline policy.
// IssuedTTL should outlive the validity window of any coupon.
type IssuanceConfig struct {
	ReservationTTL time.Duration `envconfig:"RESERVATION_TTL" default:"24h"`
	IssuedTTL      time.Duration `envconfig:"ISSUED_TTL" default:"8760h"`
	MaxAttempts    int           `envconfig:"ISSUE_MAX_ATTEMPTS" default:"3"`
	BackoffInitial time.Duration `envconfig:"ISSUE_BACKOFF_INITIAL" default:"200ms"`
	BackoffMax     time.Duration `envconfig:"ISSUE_BACKOFF_MAX" default:"5s"`
	LockWait       time.Duration `envconfig:"ISSUE_LOCK_WAIT" default:"5s"`
	LockLease      time.Duration `envconfig:"ISSUE_LOCK_LEASE" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.Issuance.MaxAttempts < 1 {
		return nil, fmt.Errorf("ISSUE_MAX_ATTEMPTS must be at least 1, got %d", cfg.Issuance.MaxAttempts)
	}
	if cfg.Issuance.ReservationTTL <= 0 || cfg.Issuance.IssuedTTL <= 0 {
		return nil, fmt.Errorf("reservation and issued TTLs must be positive")
	}
	return &cfg, nil
}
