// Package config builds the immutable service configuration once at startup.
// Values come from the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/zifrone/contact/internal/logger"
)

// EnvProduction is the NODE_ENV value that locks CORS to the site origin
const EnvProduction = "production"

// Config holds all service configuration
type Config struct {
	Environment string `envconfig:"NODE_ENV" default:"development"`

	Server    ServerConfig
	SMTP      SMTPConfig
	Mail      MailConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	CSRF      CSRFConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port              int           `envconfig:"SERVER_PORT" default:"8080"`
	ContactPath       string        `envconfig:"CONTACT_PATH" default:"/api/send-contact-message"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"65536"`
	ReadTimeout       time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"45s"`
	ShutdownTimeout   time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	DispatchTimeout   time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"20s"`
	TrustForwardedFor bool          `envconfig:"TRUST_FORWARDED_FOR" default:"true"`
}

// SMTPConfig holds outbound mail transport settings
type SMTPConfig struct {
	Host               string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	Port               int           `envconfig:"SMTP_PORT" default:"587"`
	Secure             bool          `envconfig:"SMTP_SECURE" default:"false"`
	User               string        `envconfig:"SMTP_USER"`
	Pass               string        `envconfig:"SMTP_PASS"`
	From               string        `envconfig:"SMTP_FROM"`
	Timeout            time.Duration `envconfig:"SMTP_TIMEOUT" default:"15s"`
	MaxPerSecond       float64       `envconfig:"SMTP_MAX_PER_SECOND" default:"0"`
	Burst              int           `envconfig:"SMTP_BURST" default:"5"`
	InsecureSkipVerify bool          `envconfig:"SMTP_INSECURE_SKIP_VERIFY" default:"false"`
}

// MailConfig holds notification addressing
type MailConfig struct {
	ContactEmail  string `envconfig:"CONTACT_EMAIL" default:"support@zifr.one"`
	FromName      string `envconfig:"MAIL_FROM_NAME" default:"Zifr.one Contact Form"`
	SubjectPrefix string `envconfig:"MAIL_SUBJECT_PREFIX"`
}

// CORSConfig holds the production origin
type CORSConfig struct {
	Origin string `envconfig:"CORS_ORIGIN" default:"https://zifr.one"`
}

// RateLimitConfig holds intake limiter settings
type RateLimitConfig struct {
	Backend   string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	Requests  int           `envconfig:"RATE_LIMIT_REQUESTS" default:"3"`
	Window    time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	Retention time.Duration `envconfig:"RATE_LIMIT_RETENTION" default:"24h"`
	Sweep     time.Duration `envconfig:"RATE_LIMIT_SWEEP" default:"1h"`
}

// RedisConfig holds the shared limiter connection
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds the archive database connection
type DatabaseConfig struct {
	URL          string        `envconfig:"DATABASE_URL"`
	MaxOpenConns int           `envconfig:"DB_MAX_OPEN_CONNS" default:"5"`
	Retention    time.Duration `envconfig:"ARCHIVE_RETENTION" default:"0"`
}

// StorageConfig holds the S3 archive settings
type StorageConfig struct {
	Bucket          string `envconfig:"S3_BUCKET"`
	Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"S3_ENDPOINT"`
	AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	Prefix          string `envconfig:"S3_PREFIX" default:"submissions"`
}

// CSRFConfig holds signed token settings
type CSRFConfig struct {
	Secret  string        `envconfig:"CSRF_SECRET"`
	TTL     time.Duration `envconfig:"CSRF_TTL" default:"1h"`
	Enforce bool          `envconfig:"CSRF_ENFORCE" default:"false"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `envconfig:"LOG_LEVEL" default:"info"`
	Format    string `envconfig:"LOG_FORMAT" default:"json"`
	Output    string `envconfig:"LOG_OUTPUT" default:"stdout"`
	AddSource bool   `envconfig:"LOG_ADD_SOURCE" default:"false"`
}

// Load reads .env when present, then the environment, and validates the result
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535"))
	}
	if !strings.HasPrefix(c.Server.ContactPath, "/") {
		errs = append(errs, fmt.Errorf("CONTACT_PATH must start with /"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive"))
	}
	if c.SMTP.Host == "" {
		errs = append(errs, fmt.Errorf("SMTP_HOST is required"))
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("SMTP_PORT must be between 1 and 65535"))
	}
	if c.IsProduction() && (c.SMTP.User == "" || c.SMTP.Pass == "") {
		errs = append(errs, fmt.Errorf("SMTP_USER and SMTP_PASS are required in production"))
	}
	if _, err := mail.ParseAddress(c.Mail.ContactEmail); err != nil {
		errs = append(errs, fmt.Errorf("CONTACT_EMAIL is not a valid address: %w", err))
	}
	if c.RateLimit.Requests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.Database.Retention < 0 {
		errs = append(errs, fmt.Errorf("ARCHIVE_RETENTION must not be negative"))
	}
	if c.CSRF.Enforce && c.CSRF.Secret == "" {
		errs = append(errs, fmt.Errorf("CSRF_SECRET is required when CSRF_ENFORCE is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether NODE_ENV selects production behaviour
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// AllowedOrigin returns the CORS origin for intake responses
func (c *Config) AllowedOrigin() string {
	if c.IsProduction() {
		return c.CORS.Origin
	}
	return "*"
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// FromAddress returns the sender address for notifications
func (c *Config) FromAddress() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	if c.SMTP.User != "" {
		return c.SMTP.User
	}
	return c.Mail.ContactEmail
}

// Logger returns the logger configuration
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
	}
}

// ArchiveEnabled reports whether any archive target is configured
func (c *Config) ArchiveEnabled() bool {
	return c.Database.URL != "" || c.Storage.Bucket != ""
}
