// Package provider talks to the external text-generation API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the provider fails, times out or is not
// configured. It is retryable.
var ErrUnavailable = errors.New("provider unavailable")

// Generation is one completed generation.
type Generation struct {
	Text string
	// TokenCount is the provider-reported total; zero when unknown.
	TokenCount int64
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
	Configured() bool
	Name() string
}

// Config holds provider configuration.
type Config struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxOutputTokens   int           `yaml:"max_output_tokens"`
	Temperature       float64       `yaml:"temperature"`
}

const placeholderKey = "your_gemini_api_key_here"

// DefaultConfig returns the provider defaults. The API key is empty, which
// leaves the provider disabled.
func DefaultConfig() Config {
	return Config{
		Model:             "gemini-2.0-flash-exp",
		BaseURL:           "https://generativelanguage.googleapis.com",
		Timeout:           30 * time.Second,
		RequestsPerMinute: 25,
		MaxOutputTokens:   400,
		Temperature:       0.7,
	}
}

// New returns a Gemini generator, or Disabled when no usable key is set.
func New(cfg Config) Generator {
	if cfg.APIKey == "" || cfg.APIKey == placeholderKey {
		return Disabled{}
	}
	return NewGemini(cfg)
}

// Disabled is the generator used when no provider is configured.
type Disabled struct{}

func (Disabled) Configured() bool { return false }
func (Disabled) Name() string     { return "disabled" }

func (Disabled) Generate(context.Context, string) (Generation, error) {
	return Generation{}, fmt.Errorf("%w: not configured", ErrUnavailable)
}
