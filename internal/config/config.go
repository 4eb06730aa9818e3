package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultJWTSecret = "dev-secret"

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `envconfig:"APP"`
	Postgres     PostgresConfig     `envconfig:"POSTGRES"`
	Redis        RedisConfig        `envconfig:"REDIS"`
	Logger       LoggerConfig       `envconfig:"LOG"`
	Auth         AuthConfig         `envconfig:"AUTH"`
	Notification NotificationConfig `envconfig:"NOTIFY"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name           string        `envconfig:"NAME" default:"crm-identity"`
	Env            string        `envconfig:"ENV" default:"development"`
	Host           string        `envconfig:"HOST" default:"0.0.0.0"`
	Port           string        `envconfig:"PORT" default:"8000"`
	Version        string        `envconfig:"VERSION" default:"dev"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN           string        `envconfig:"DSN"`
	MaxConns      int32         `envconfig:"MAX_CONNS" default:"10"`
	MinConns      int32         `envconfig:"MIN_CONNS" default:"2"`
	RunMigrations bool          `envconfig:"RUN_MIGRATIONS" default:"true"`
	ConnMaxIdle   time.Duration `envconfig:"CONN_MAX_IDLE" default:"30s"`
	ConnMaxLife   time.Duration `envconfig:"CONN_MAX_LIFE" default:"5m"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr                string `envconfig:"ADDR" default:"127.0.0.1:6379"`
	Password            string `envconfig:"PASSWORD"`
	DB                  int    `envconfig:"DB" default:"0"`
	InvalidationChannel string `envconfig:"INVALIDATION_CHANNEL" default:"rbac:invalidate"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret          string        `envconfig:"JWT_SECRET" default:"dev-secret"`
	AccessTokenTTL     time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL    time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	ActivationTokenTTL time.Duration `envconfig:"ACTIVATION_TOKEN_TTL" default:"168h"`
	BcryptCost         int           `envconfig:"BCRYPT_COST" default:"12"`
	LoginRateLimit     int           `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom string `envconfig:"EMAIL_FROM" default:"noreply@example.com"`
	PortalURL string `envconfig:"PORTAL_URL" default:"http://localhost:3002"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET must not be empty")
	}
	if c.IsProduction() && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("AUTH_JWT_SECRET must be set in production")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.ActivationTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return fmt.Errorf("access token ttl %s must be shorter than refresh token ttl %s",
			c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL)
	}
	return nil
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.App.Env == "production"
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}
