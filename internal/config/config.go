package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPConfig
	DatabaseConfig
	RabbitConfig
	RedisConfig
	MailConfig
	DispatchConfig
	LogConfig
}

type HTTPConfig struct {
	Port            string        `envconfig:"APP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type DatabaseConfig struct {
	Store    string `envconfig:"STORE" default:"postgres"` // postgres or memory
	URL      string `envconfig:"DATABASE_URL"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME" default:"campaigns"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"true"`
}

// DSN prefers DATABASE_URL and otherwise builds one from the DB_* parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RabbitConfig struct {
	URL   string `envconfig:"RABBITMQ_URL"` // empty means in-process queue
	Queue string `envconfig:"RABBITMQ_QUEUE" default:"batch_sends"`
}

type RedisConfig struct {
	URL         string        `envconfig:"REDIS_URL"` // empty disables the progress cache
	ProgressTTL time.Duration `envconfig:"PROGRESS_CACHE_TTL" default:"2s"`
}

type MailConfig struct {
	Provider       string  `envconfig:"MAIL_PROVIDER" default:"log"` // ses, sendgrid or log
	AWSRegion      string  `envconfig:"AWS_REGION" default:"us-east-1"`
	SESSender      string  `envconfig:"SES_SENDER"`
	SESReplyTo     string  `envconfig:"SES_REPLY_TO"`
	SendGridAPIKey string  `envconfig:"SENDGRID_API_KEY"`
	FromName       string  `envconfig:"MAIL_FROM_NAME" default:"R and R Imports"`
	FromEmail      string  `envconfig:"MAIL_FROM_EMAIL" default:"noreply@example.com"`
	RatePerSecond  float64 `envconfig:"MAIL_RATE_PER_SECOND" default:"14"`
}

type DispatchConfig struct {
	BatchSize    int           `envconfig:"DISPATCH_BATCH_SIZE" default:"2000"`
	BatchTimeout time.Duration `envconfig:"DISPATCH_BATCH_TIMEOUT" default:"10m"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"` // json or console
}

// Load reads an optional .env file and decodes the environment. A missing
// .env is reported through loadedEnv=false, not as an error.
func Load(envFiles ...string) (cfg *Config, loadedEnv bool, err error) {
	loadedEnv = godotenv.Load(envFiles...) == nil

	cfg = &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, loadedEnv, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, loadedEnv, err
	}
	return cfg, loadedEnv, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: STORE must be postgres or memory, got %q", c.Store)
	}
	switch c.Provider {
	case "log":
	case "ses":
		if c.SESSender == "" {
			return fmt.Errorf("config: SES_SENDER is required for MAIL_PROVIDER=ses")
		}
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("config: SENDGRID_API_KEY is required for MAIL_PROVIDER=sendgrid")
		}
	default:
		return fmt.Errorf("config: MAIL_PROVIDER must be ses, sendgrid or log, got %q", c.Provider)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: DISPATCH_BATCH_SIZE must be positive")
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("config: MAIL_RATE_PER_SECOND must be positive")
	}
	return nil
}
