package main

import (
	"fmt"
	"os"
	"time"

	"komalam/pkg/vector"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk config.yaml structure.
type Config struct {
	// MaxMemoryResults caps how many turns recall returns per query.
	MaxMemoryResults int `yaml:"max_memory_results"`
	// AutoPruneDays is the retention horizon in days. Zero keeps everything.
	AutoPruneDays int `yaml:"auto_prune_days"`
	// EmbeddingDim is the vector dimensionality the embed model produces.
	EmbeddingDim int `yaml:"embedding_dim"`
	// Metric selects the vector distance: "cosine" or "l2".
	Metric string `yaml:"metric"`
	// OllamaURL is the base URL of the embedding provider.
	OllamaURL string `yaml:"ollama_url"`
	// EmbedModel is the provider model name used for embeddings.
	EmbedModel string `yaml:"embed_model"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() Config {
	return Config{
		MaxMemoryResults: 5,
		AutoPruneDays:    0,
		EmbeddingDim:     384,
		Metric:           "cosine",
		OllamaURL:        "http://localhost:11434",
		EmbedModel:       "nomic-embed-text",
	}
}

// LoadConfig reads config.yaml from path. A missing file yields the
// defaults; a malformed or invalid file is an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants the rest of the system relies on.
func (c Config) Validate() error {
	if c.MaxMemoryResults <= 0 {
		return fmt.Errorf("max_memory_results must be positive, got %d", c.MaxMemoryResults)
	}
	if c.AutoPruneDays < 0 {
		return fmt.Errorf("auto_prune_days must not be negative, got %d", c.AutoPruneDays)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if _, err := c.MetricValue(); err != nil {
		return err
	}
	return nil
}

// MetricValue maps the config metric name to the vector index metric.
func (c Config) MetricValue() (vector.Metric, error) {
	switch c.Metric {
	case "", "cosine":
		return vector.MetricCosine, nil
	case "l2":
		return vector.MetricL2, nil
	default:
		return "", fmt.Errorf("metric must be \"cosine\" or \"l2\", got %q", c.Metric)
	}
}

// Horizon converts auto_prune_days to a retention duration. Zero disables.
func (c Config) Horizon() time.Duration {
	return time.Duration(c.AutoPruneDays) * 24 * time.Hour
}
