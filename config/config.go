package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application. It is loaded once at
// startup and passed to the components that need it.
type Config struct {
	AppPort  string `mapstructure:"APP_PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseDSN string `mapstructure:"DATABASE_DSN"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`

	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`
	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	AllowedOrigin string        `mapstructure:"ALLOWED_ORIGIN"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisLockDB   int    `mapstructure:"REDIS_LOCK_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Nexi gateway.
	NexiBaseURL string        `mapstructure:"NEXI_BASE_URL"`
	NexiAlias   string        `mapstructure:"NEXI_ALIAS"`
	NexiMACKey  string        `mapstructure:"NEXI_MAC_KEY"`
	NexiTimeout time.Duration `mapstructure:"NEXI_TIMEOUT"`

	// SMTP.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// Verification flow.
	VerifyMaxAttempts int           `mapstructure:"VERIFY_MAX_ATTEMPTS"`
	OTPCountdown      time.Duration `mapstructure:"OTP_COUNTDOWN"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	PollTimeout       time.Duration `mapstructure:"POLL_TIMEOUT"`
	ResendCooldown    time.Duration `mapstructure:"RESEND_COOLDOWN"`
	LockTTL           time.Duration `mapstructure:"LOCK_TTL"`

	MaxRequestsPerMin int `mapstructure:"MAX_REQUESTS_PER_MIN"`
}

var defaults = map[string]interface{}{
	"APP_PORT":             "8080",
	"ENV":                  "development",
	"LOG_LEVEL":            "info",
	"DATABASE_DSN":         "",
	"DB_HOST":              "localhost",
	"DB_PORT":              "5432",
	"DB_USER":              "postgres",
	"DB_PASSWORD":          "postgres",
	"DB_NAME":              "dr7",
	"JWT_SECRET":           "",
	"TOKEN_TTL":            24 * time.Hour,
	"SESSION_SECRET":       "",
	"ALLOWED_ORIGIN":       "*",
	"REDIS_ADDR":           "localhost:6379",
	"REDIS_PASSWORD":       "",
	"REDIS_LOCK_DB":        0,
	"REDIS_QUEUE_DB":       1,
	"NEXI_BASE_URL":        "https://int-ecommerce.nexi.it",
	"NEXI_ALIAS":           "",
	"NEXI_MAC_KEY":         "",
	"NEXI_TIMEOUT":         15 * time.Second,
	"SMTP_HOST":            "",
	"SMTP_PORT":            587,
	"SMTP_USERNAME":        "",
	"SMTP_PASSWORD":        "",
	"SMTP_FROM":            "booking@dr7empire.com",
	"VERIFY_MAX_ATTEMPTS":  3,
	"OTP_COUNTDOWN":        300 * time.Second,
	"POLL_INTERVAL":        2 * time.Second,
	"POLL_TIMEOUT":         90 * time.Second,
	"RESEND_COOLDOWN":      30 * time.Second,
	"LOCK_TTL":             30 * time.Second,
	"MAX_REQUESTS_PER_MIN": 100,
}

// Load reads configuration from the environment, an optional .env file and an
// optional config.yaml in "." or "./config".
func Load() (*Config, error) {
	// .env is optional; production uses real environment variables
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	}
	cfg.NexiBaseURL = strings.TrimRight(cfg.NexiBaseURL, "/")

	return &cfg, nil
}

// IsProduction reports whether the process runs in production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the settings the payment flow cannot run without
func (c *Config) Validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.NexiAlias == "" {
		missing = append(missing, "NEXI_ALIAS")
	}
	if c.NexiMACKey == "" {
		missing = append(missing, "NEXI_MAC_KEY")
	}
	if c.NexiBaseURL == "" {
		missing = append(missing, "NEXI_BASE_URL")
	}
	if c.IsProduction() && c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.VerifyMaxAttempts < 1 {
		return fmt.Errorf("VERIFY_MAX_ATTEMPTS must be positive, got %d", c.VerifyMaxAttempts)
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 || c.OTPCountdown <= 0 {
		return errors.New("POLL_INTERVAL, POLL_TIMEOUT and OTP_COUNTDOWN must be positive")
	}
	return nil
}
