// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime option the gateway recognizes.
type Config struct {
	// LINE channel credentials
	ChannelAccessToken string `env:"CHANNEL_ACCESS_TOKEN"`
	ChannelSecret      string `env:"CHANNEL_SECRET"`

	// Completion provider: "openai" (default) or "anthropic"
	CompletionProvider string `env:"COMPLETION_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey       string `env:"API_KEY"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel     string `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-latest"`

	// Google Translate / Speech-to-Text credentials. Either a service-account
	// file path or the JSON material itself; the blob wins when both are set.
	GoogleCredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`

	WeatherAPIKey  string `env:"WEATHER_API_KEY"`
	ExchangeAPIKey string `env:"EXCHANGE_API_KEY"`

	Gateway GatewayConfig `envPrefix:"GATEWAY_"`
	Speech  SpeechConfig  `envPrefix:"SPEECH_"`
}

// GatewayConfig controls the HTTP surface and the dispatch worker pool.
type GatewayConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	// Admin API bearer token. Empty disables the /api/status and /api/ws
	// routes entirely; the webhook itself is authenticated by signature.
	APIKey string `env:"API_KEY"`

	Workers        int           `env:"WORKERS" envDefault:"8"`
	QueueCapacity  int           `env:"QUEUE_CAPACITY" envDefault:"64"`
	AdapterTimeout time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"30s"`
}

// SpeechConfig carries transcription hints forwarded to the recognizer.
type SpeechConfig struct {
	Encoding     string `env:"ENCODING" envDefault:"MP3"`
	SampleRateHz int    `env:"SAMPLE_RATE_HZ" envDefault:"16000"`
	LanguageCode string `env:"LANGUAGE_CODE" envDefault:"en-US"`
}

// Load parses the environment into a Config. Callers serving webhook traffic
// should also call Validate; the local console runs without LINE credentials.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks required credentials and bounds.
func (c *Config) Validate() error {
	if c.ChannelAccessToken == "" {
		return fmt.Errorf("CHANNEL_ACCESS_TOKEN is required")
	}
	if c.ChannelSecret == "" {
		return fmt.Errorf("CHANNEL_SECRET is required")
	}
	switch c.CompletionProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown completion provider %q", c.CompletionProvider)
	}
	if c.Gateway.Workers <= 0 {
		return fmt.Errorf("gateway workers must be positive, got %d", c.Gateway.Workers)
	}
	if c.Gateway.QueueCapacity <= 0 {
		return fmt.Errorf("gateway queue capacity must be positive, got %d", c.Gateway.QueueCapacity)
	}
	return nil
}

// GoogleCredentials returns the service-account JSON material, reading the
// credentials file when no inline blob is configured. Returns nil when neither
// is set; the Google adapters then fall back to application default
// credentials.
func (c *Config) GoogleCredentials() ([]byte, error) {
	if c.GoogleCredentialsJSON != "" {
		return []byte(c.GoogleCredentialsJSON), nil
	}
	if c.GoogleCredentialsFile != "" {
		data, err := os.ReadFile(c.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read google credentials file: %w", err)
		}
		return data, nil
	}
	return nil, nil
}
