package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	STTProviderWhisper = "whisper"
	STTProviderGoogle  = "google"
)

type Config struct {
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseDSN string `env:"DATABASE_DSN,required,notEmpty"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AudioStorageDir string `env:"AUDIO_STORAGE_DIR" envDefault:"./audio_chunks"`

	STTProvider string        `env:"STT_PROVIDER" envDefault:"whisper"`
	STTURL      string        `env:"STT_URL" envDefault:"https://api.groq.com/openai/v1"`
	STTAPIKey   string        `env:"STT_API_KEY"`
	STTModel    string        `env:"STT_MODEL" envDefault:"whisper-large-v3"`
	STTTimeout  time.Duration `env:"STT_TIMEOUT" envDefault:"60s"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	AnalysisURL     string        `env:"ANALYSIS_URL" envDefault:"https://api.groq.com/openai/v1"`
	AnalysisAPIKey  string        `env:"ANALYSIS_API_KEY"`
	AnalysisModel   string        `env:"ANALYSIS_MODEL" envDefault:"llama-3.3-70b-versatile"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"90s"`

	PersistTimeout         time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`
	DefaultLanguage        string        `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	MarkFailedOnDisconnect bool          `env:"MARK_FAILED_ON_DISCONNECT" envDefault:"false"`
	SessionLeaseTTL        time.Duration `env:"SESSION_LEASE_TTL" envDefault:"2m"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	CompletionWebhookURL string        `env:"COMPLETION_WEBHOOK_URL"`
	WebhookTimeout       time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.STTProvider) {
	case STTProviderWhisper:
		if c.STTURL == "" {
			errs = append(errs, errors.New("STT_URL is required for the whisper provider"))
		}
	case STTProviderGoogle:
		if c.GoogleCloudProjectID == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT_ID is required for the google provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER must be %q or %q, got %q", STTProviderWhisper, STTProviderGoogle, c.STTProvider))
	}

	if c.AnalysisURL == "" {
		errs = append(errs, errors.New("ANALYSIS_URL is required"))
	}
	if c.AudioStorageDir == "" {
		errs = append(errs, errors.New("AUDIO_STORAGE_DIR is required"))
	}

	for name, d := range map[string]time.Duration{
		"STT_TIMEOUT":       c.STTTimeout,
		"ANALYSIS_TIMEOUT":  c.AnalysisTimeout,
		"PERSIST_TIMEOUT":   c.PersistTimeout,
		"SESSION_LEASE_TTL": c.SessionLeaseTTL,
		"WEBHOOK_TIMEOUT":   c.WebhookTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	return errors.Join(errs...)
}
