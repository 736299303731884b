package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	WebhookURL       string `envconfig:"WEBHOOK_URL"` // empty means long polling
	SendRatePerSec   int    `envconfig:"SEND_RATE_PER_SEC" default:"25"`

	// Weather / recommend / recipe backend.
	APIBaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"10s"`

	KakaoRESTAPIKey string `envconfig:"KAKAO_REST_API_KEY"`
	PlacesRadiusM   int    `envconfig:"PLACES_RADIUS_M" default:"2000"`

	// Optional: journal of confirmed selections.
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	JournalRetention time.Duration `envconfig:"JOURNAL_RETENTION" default:"2160h"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	GeoTimeout     time.Duration `envconfig:"GEO_TIMEOUT" default:"5s"`
	DeniedGrace    time.Duration `envconfig:"DENIED_GRACE" default:"3s"`
	RouletteSettle time.Duration `envconfig:"ROULETTE_SETTLE" default:"4s"`
	SessionIdle    time.Duration `envconfig:"SESSION_IDLE" default:"2h"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return errors.New("config: TELEGRAM_BOT_TOKEN is empty")
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		return errors.New("config: API_BASE_URL is empty")
	}
	if c.PlacesRadiusM <= 0 || c.PlacesRadiusM > 20000 {
		return fmt.Errorf("config: PLACES_RADIUS_M out of range: %d", c.PlacesRadiusM)
	}
	if c.SendRatePerSec <= 0 {
		c.SendRatePerSec = 25
	}
	return nil
}
