package ai

import (
	"errors"

	"github.com/hrygo/assetvault/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	Embedding EmbeddingConfig
	Caption   CaptionConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // openai, siliconflow, ollama
	Model      string // text-embedding-3-small
	Dimensions int    // 768
	APIKey     string
	BaseURL    string
}

// CaptionConfig represents image captioning configuration.
type CaptionConfig struct {
	Enabled bool
	Model   string // gpt-4o-mini
	APIKey  string
	BaseURL string
	// MaxEdge bounds the longest image edge sent to the model.
	MaxEdge int
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsEmbeddingEnabled(),
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.EmbeddingProvider,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDimensions,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
	}

	cfg.Caption = CaptionConfig{
		Enabled: p.CaptionEnabled,
		Model:   p.CaptionModel,
		APIKey:  p.EmbeddingAPIKey,
		BaseURL: p.EmbeddingBaseURL,
		MaxEdge: 1024,
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	if c.Caption.Enabled && c.Caption.Model == "" {
		return errors.New("caption model is required when captioning is enabled")
	}

	return nil
}
