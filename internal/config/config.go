// Package config defines the application and pipeline configuration trees
// and their YAML loader.
package config

import (
	"fmt"
	"time"

	"github.com/conduitbot/conduit/internal/observability"
)

// Config is the top-level application configuration.
type Config struct {
	Concurrency ConcurrencyConfig        `yaml:"concurrency"`
	Platform    PlatformConfig           `yaml:"platform"`
	Models      []ModelConfig            `yaml:"models"`
	Embeddings  []EmbeddingModelConfig   `yaml:"embeddings"`
	Pipelines   []PipelineConfig         `yaml:"pipelines"`
	Knowledge   []KnowledgeBaseConfig    `yaml:"knowledge-bases"`
	Storage     StorageConfig            `yaml:"storage"`
	Metrics     MetricsConfig            `yaml:"metrics"`
	Logging     observability.LogConfig  `yaml:"logging"`
}

type ConcurrencyConfig struct {
	// Pipeline bounds total in-flight queries across all sessions.
	Pipeline int `yaml:"pipeline"`
	// Session bounds concurrent pipeline runs per session.
	Session int `yaml:"session"`
}

type PlatformConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	WebChat  WebChatConfig  `yaml:"webchat"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot-token"`
	// Pipeline routes this adapter's messages; empty uses the default.
	Pipeline string `yaml:"pipeline"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot-token"`
	Pipeline string `yaml:"pipeline"`
}

type WebChatConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Pipeline string `yaml:"pipeline"`
}

// ModelConfig describes one runtime LLM model.
type ModelConfig struct {
	UUID      string        `yaml:"uuid"`
	Name      string        `yaml:"name"`
	Requester string        `yaml:"requester"`
	APIKey    string        `yaml:"api-key"`
	BaseURL   string        `yaml:"base-url"`
	// Abilities: "func_call", "vision".
	Abilities []string      `yaml:"abilities"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EmbeddingModelConfig describes an embedding model for knowledge bases.
type EmbeddingModelConfig struct {
	UUID    string `yaml:"uuid"`
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api-key"`
	BaseURL string `yaml:"base-url"`
}

// KnowledgeBaseConfig declares a knowledge base available to pipelines.
type KnowledgeBaseConfig struct {
	UUID               string `yaml:"uuid"`
	Name               string `yaml:"name"`
	Description        string `yaml:"description"`
	EmbeddingModelUUID string `yaml:"embedding-model-uuid"`
	TopK               int    `yaml:"top-k"`
	ChunkSize          int    `yaml:"chunk-size"`
	ChunkOverlap       int    `yaml:"chunk-overlap"`
}

type StorageConfig struct {
	// Path is the sqlite database file. Empty keeps everything in memory.
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Validate checks invariants and applies defaults.
func (c *Config) Validate() error {
	if c.Concurrency.Pipeline <= 0 {
		c.Concurrency.Pipeline = 20
	}
	if c.Concurrency.Session <= 0 {
		c.Concurrency.Session = 1
	}
	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline is required")
	}
	seen := map[string]bool{}
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if p.UUID == "" {
			return fmt.Errorf("pipeline %d: uuid is required", i)
		}
		if seen[p.UUID] {
			return fmt.Errorf("duplicate pipeline uuid %q", p.UUID)
		}
		seen[p.UUID] = true
		if p.AI.Runner.Runner == "" {
			p.AI.Runner.Runner = "local-agent"
		}
		if p.Output.LongText.Threshold <= 0 {
			p.Output.LongText.Threshold = 256
		}
		if p.Output.ForceDelay.Max < p.Output.ForceDelay.Min {
			return fmt.Errorf("pipeline %q: force-delay max below min", p.UUID)
		}
	}
	for i := range c.Knowledge {
		kb := &c.Knowledge[i]
		if kb.TopK <= 0 {
			kb.TopK = 5
		}
		if kb.ChunkSize <= 0 {
			kb.ChunkSize = 1000
		}
		if kb.ChunkOverlap <= 0 {
			kb.ChunkOverlap = 200
		}
		if kb.ChunkOverlap >= kb.ChunkSize {
			return fmt.Errorf("knowledge base %q: chunk overlap must be below chunk size", kb.UUID)
		}
	}
	for i := range c.Models {
		if c.Models[i].Timeout <= 0 {
			c.Models[i].Timeout = 120 * time.Second
		}
	}
	return nil
}

// Pipeline returns the pipeline with the given UUID.
func (c *Config) Pipeline(uuid string) (*PipelineConfig, bool) {
	for i := range c.Pipelines {
		if c.Pipelines[i].UUID == uuid {
			return &c.Pipelines[i], true
		}
	}
	return nil, false
}
