package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort  string `mapstructure:"APP_PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Store selects the persistence backend: "mysql" or "memory".
	Store       string `mapstructure:"STORE"`
	DatabaseDSN string `mapstructure:"DATABASE_DSN"`

	// Redis backs the notification queue.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	StripeSecretKey string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeAPIURL    string `mapstructure:"STRIPE_API_URL"`
	Currency        string `mapstructure:"CURRENCY"`
	PublicBaseURL   string `mapstructure:"PUBLIC_BASE_URL"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `mapstructure:"TELEGRAM_CHAT_ID"`
	TelegramAPIURL   string `mapstructure:"TELEGRAM_API_URL"`
	// Notifier is "queue" (asynq + Telegram worker) or "log".
	Notifier string `mapstructure:"NOTIFIER"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	// JWTSecretGenerated is set when JWT_SECRET was empty outside production
	// and a random secret was generated for this process.
	JWTSecretGenerated bool `mapstructure:"-"`

	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	OverdueCron       string `mapstructure:"OVERDUE_CRON"`
}

var defaults = map[string]any{
	"APP_PORT":             "8080",
	"ENV":                  "development",
	"LOG_LEVEL":            "info",
	"STORE":                "memory",
	"DATABASE_DSN":         "library:library@tcp(localhost:3306)/library?parseTime=true&loc=UTC",
	"REDIS_ADDR":           "localhost:6379",
	"REDIS_PASSWORD":       "",
	"REDIS_QUEUE_DB":       0,
	"STRIPE_SECRET_KEY":    "",
	"STRIPE_API_URL":       "",
	"CURRENCY":             "usd",
	"PUBLIC_BASE_URL":      "http://localhost:8080",
	"TELEGRAM_BOT_TOKEN":   "",
	"TELEGRAM_CHAT_ID":     "",
	"TELEGRAM_API_URL":     "https://api.telegram.org",
	"NOTIFIER":             "log",
	"JWT_SECRET":           "",
	"MAX_REQUESTS_PER_MIN": 100,
	"OVERDUE_CRON":         "0 8 * * *",
}

// Load reads .env (if present), then config.yaml from the working directory
// or ./config, then the environment. Later sources win.
func Load(paths ...string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return cfg, fmt.Errorf("generate JWT secret: %w", err)
		}
		cfg.JWTSecret, cfg.JWTSecretGenerated = secret, true
	}
	return cfg, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (c Config) IsProduction() bool { return c.Env == "production" }

func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case "memory":
	case "mysql":
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for STORE=mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE must be mysql or memory, got %q", c.Store))
	}
	switch c.Notifier {
	case "log", "queue":
	default:
		errs = append(errs, fmt.Errorf("NOTIFIER must be queue or log, got %q", c.Notifier))
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required in production"))
		}
	}
	return errors.Join(errs...)
}
