package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ClientEnvPrefix prefixes environment overrides for the delivery client
const ClientEnvPrefix = "CONTACT_CLIENT"

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ClientConfig configures the delivery client and form controller
type ClientConfig struct {
	BaseURL           string          `yaml:"base_url" split_words:"true"`
	PrimaryEndpoint   string          `yaml:"primary_endpoint" split_words:"true"`
	FallbackEndpoint  string          `yaml:"fallback_endpoint" split_words:"true"`
	Timeout           time.Duration   `yaml:"timeout"`
	RateLimit         ClientRateLimit `yaml:"rate_limit" split_words:"true"`
	ClientVersion     string          `yaml:"client_version" split_words:"true"`
	FormVersion       string          `yaml:"form_version" split_words:"true"`
	WhatsAppNumber    string          `yaml:"whatsapp_number" envconfig:"WHATSAPP_NUMBER"`
	DefaultMessage    string          `yaml:"default_message" split_words:"true"`
	InputSanitization bool            `yaml:"input_sanitization" split_words:"true"`
}

// ClientRateLimit is the local limiter applied before any network call
type ClientRateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// DefaultClientConfig returns the safe defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "http://localhost:8080",
		PrimaryEndpoint:   "/.netlify/functions/send-contact-message",
		FallbackEndpoint:  "/api/send-contact-message",
		Timeout:           30 * time.Second,
		RateLimit:         ClientRateLimit{Requests: 5, Window: 60 * time.Second},
		ClientVersion:     "1.0.0",
		FormVersion:       "1.0",
		WhatsAppNumber:    "+919876543210",
		DefaultMessage:    "Hi! I found your website and would like to know more about your services.",
		InputSanitization: true,
	}
}

// LoadClient builds the client configuration from defaults, an optional YAML
// file, then CONTACT_CLIENT_* environment overrides
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("client config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("client config: parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(ClientEnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the client configuration
func (c *ClientConfig) Validate() error {
	var errs []error

	if c.PrimaryEndpoint == "" || c.FallbackEndpoint == "" {
		errs = append(errs, fmt.Errorf("primary and fallback endpoints are required"))
	}
	for _, ep := range []string{c.PrimaryEndpoint, c.FallbackEndpoint} {
		if ep != "" && !strings.HasPrefix(ep, "/") && !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			errs = append(errs, fmt.Errorf("endpoint %q must be a path or an absolute URL", ep))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate limit requests and window must be positive"))
	}
	if !e164Regex.MatchString(c.WhatsAppNumber) {
		errs = append(errs, fmt.Errorf("whatsapp number %q must be in E.164 format", c.WhatsAppNumber))
	}

	if len(errs) > 0 {
		return fmt.Errorf("client config: %w", errors.Join(errs...))
	}
	return nil
}
