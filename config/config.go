package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	// Telnyx Configuration
	TelnyxAPIKey       string  `koanf:"telnyx_api_key"`
	TelnyxPublicKey    string  `koanf:"telnyx_public_key"`
	TelnyxConnectionID string  `koanf:"telnyx_connection_id"`
	TelnyxWebhookURL   string  `koanf:"telnyx_webhook_url"`
	TelnyxAPIBaseURL   string  `koanf:"telnyx_api_base_url"`
	TelnyxRateLimit    float64 `koanf:"telnyx_rate_limit"`

	// Deepgram Configuration
	DeepgramAPIKey  string `koanf:"deepgram_api_key"`
	DeepgramBaseURL string `koanf:"deepgram_base_url"`
	DeepgramModel   string `koanf:"deepgram_model"`

	// Language model Configuration
	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIBaseURL string `koanf:"openai_base_url"`
	OpenAIModel   string `koanf:"openai_model"`
	GeminiAPIKey  string `koanf:"gemini_api_key"`
	HistoryLimit  int    `koanf:"history_limit"`

	// Speech synthesis Configuration
	AWSAccessKeyID     string `koanf:"aws_access_key_id"`
	AWSSecretAccessKey string `koanf:"aws_secret_access_key"`
	AWSRegion          string `koanf:"aws_region"`
	ElevenLabsAPIKey   string `koanf:"elevenlabs_api_key"`
	ElevenLabsBaseURL  string `koanf:"elevenlabs_base_url"`
	GoogleTTSEnabled   bool   `koanf:"google_tts_enabled"`
	UseVendorTTS       bool   `koanf:"use_vendor_tts"`
	MediaDir           string `koanf:"media_dir"`

	// Twilio Configuration (appointment SMS)
	TwilioAccountSID  string `koanf:"twilio_account_sid"`
	TwilioAuthToken   string `koanf:"twilio_auth_token"`
	TwilioPhoneNumber string `koanf:"twilio_phone_number"`

	// Call flow Configuration
	RecordingSilenceSecs int           `koanf:"recording_silence_secs"`
	RecordingMaxSecs     int           `koanf:"recording_max_secs"`
	WebhookTimeout       time.Duration `koanf:"webhook_timeout"`

	// Storage and messaging Configuration
	RedisURL    string `koanf:"redis_url"`
	DatabaseURL string `koanf:"database_url"`
	AMQPURL     string `koanf:"amqp_url"`

	// Server Configuration
	Host          string `koanf:"host"`
	Port          string `koanf:"port"`
	Debug         bool   `koanf:"debug"`
	PublicBaseURL string `koanf:"public_base_url"`
	AdminAPIToken string `koanf:"admin_api_token"`

	// Logging Configuration
	LogLevel string `koanf:"log_level"`

	// LogConsole switches to human readable output; DEBUG turns it on.
	LogConsole bool `koanf:"log_console"`
}

// Defaults returns the configuration used before any file or environment
// overrides are applied.
func Defaults() *Config {
	return &Config{
		TelnyxAPIBaseURL:     "https://api.telnyx.com/v2",
		TelnyxRateLimit:      10,
		DeepgramBaseURL:      "https://api.deepgram.com",
		DeepgramModel:        "nova-2",
		OpenAIModel:          "gpt-4",
		HistoryLimit:         20,
		AWSRegion:            "us-east-1",
		ElevenLabsBaseURL:    "https://api.elevenlabs.io",
		MediaDir:             filepath.Join(os.TempDir(), "voice-agent-media"),
		RecordingSilenceSecs: 3,
		RecordingMaxSecs:     30,
		WebhookTimeout:       25 * time.Second,
		Host:                 "0.0.0.0",
		Port:                 "8000",
		LogLevel:             "INFO",
	}
}

// Load loads configuration from defaults, an optional config.yaml and
// environment variables, in that order of precedence.
func Load() (*Config, error) {
	return LoadFrom("config.yaml")
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading %s: %w", path, err)
			}
		}
	}

	// Keys are flat, so TELNYX_API_KEY maps to telnyx_api_key.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	if cfg.Debug {
		cfg.LogLevel = "DEBUG"
		cfg.LogConsole = true
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return &cfg, nil
}

// Validate reports the required keys that are missing.
func (c *Config) Validate() error {
	var missing []string
	if c.TelnyxAPIKey == "" {
		missing = append(missing, "TELNYX_API_KEY")
	}
	if c.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.UseVendorTTS && c.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.TelnyxPublicKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.TelnyxPublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return fmt.Errorf("TELNYX_PUBLIC_KEY must be a base64 ed25519 public key")
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// TwilioEnabled reports whether appointment SMS can be sent.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}
