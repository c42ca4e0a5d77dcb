// Package config holds agentmem's single flat configuration namespace.
// All options are optional with defaults; unknown keys are rejected on
// load rather than silently ignored.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"agentmem/internal/logging"
)

// RecallWeights are the composite-rescoring weights. Must sum to 1.0;
// Validate enforces this.
type RecallWeights struct {
	Semantic   float64 `yaml:"semantic"`
	Recency    float64 `yaml:"recency"`
	Usefulness float64 `yaml:"usefulness"`
}

// TierDeadlines holds the per-tier soft deadlines in milliseconds.
type TierDeadlines struct {
	Tier1Ms int `yaml:"t1"`
	Tier2Ms int `yaml:"t2"`
	Tier3Ms int `yaml:"t3"`
}

// RecallConfig configures the query router and cascading recall pipeline.
type RecallConfig struct {
	Weights        RecallWeights `yaml:"weights"`
	TierDeadlines  TierDeadlines `yaml:"tier_deadlines_ms"`
	OverFetch      int           `yaml:"over_fetch"`
	DefaultDepth   int           `yaml:"default_depth"`
	RecencyTauDays float64       `yaml:"recency_tau_days"`
	RRFK           int           `yaml:"rrf_k"`
}

// ConsolidationConfig configures the dual-process consolidation engine.
type ConsolidationConfig struct {
	Strategy             string  `yaml:"strategy"`
	ValidationThreshold  float64 `yaml:"validation_threshold"`
	ClusterTau           float64 `yaml:"cluster_tau"`
	TemporalHalfLifeMin  float64 `yaml:"temporal_half_life_min"`
	OverFetch            int     `yaml:"over_fetch"`
	CronSchedule         string  `yaml:"cron_schedule"`
}

// WorkingMemoryConfig configures the bounded working-memory buffer.
type WorkingMemoryConfig struct {
	Capacity      int     `yaml:"capacity"`
	Alpha         float64 `yaml:"alpha"`
	DecayPerMin   float64 `yaml:"decay_per_min"`
	Reinforcement float64 `yaml:"reinforcement_delta"`
	RouteThreshold float64 `yaml:"route_threshold"`
}

// HooksConfig configures the hook dispatcher's safety guards.
type HooksConfig struct {
	IdempotencyWindowS int `yaml:"idempotency_window_s"`
	RateLimitPerMin    int `yaml:"rate_limit_per_min"`
	MaxDepth           int `yaml:"max_depth"`
	MaxBreadth         int `yaml:"max_breadth"`
	RecentEventsRing   int `yaml:"recent_events_ring"`
}

// StorageConfig configures retention policy.
type StorageConfig struct {
	RetentionDays int    `yaml:"retention_days"`
	DatabasePath  string `yaml:"database_path"`
}

// EmbeddingConfig configures the out-of-core embedding provider contract.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" | "genai"
	Dim            int    `yaml:"dim"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// LLMConfig configures the out-of-core LLM synthesis/validation client.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Config is the engine's top-level configuration.
type Config struct {
	Recall        RecallConfig        `yaml:"recall"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	WorkingMemory WorkingMemoryConfig `yaml:"working_memory"`
	Hooks         HooksConfig         `yaml:"hooks"`
	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Logging       logging.Config      `yaml:"logging"`
}

// Default returns the configuration with every default named in the
// Configuration section of the operation protocol.
func Default() *Config {
	return &Config{
		Recall: RecallConfig{
			Weights:        RecallWeights{Semantic: 0.6, Recency: 0.2, Usefulness: 0.2},
			TierDeadlines:  TierDeadlines{Tier1Ms: 150, Tier2Ms: 300, Tier3Ms: 2000},
			OverFetch:      3,
			DefaultDepth:   2,
			RecencyTauDays: 30,
			RRFK:           60,
		},
		Consolidation: ConsolidationConfig{
			Strategy:            "balanced",
			ValidationThreshold: 0.5,
			ClusterTau:          0.35,
			TemporalHalfLifeMin: 30,
			OverFetch:           3,
			CronSchedule:        "0 */6 * * *", // every 6 hours - the "sleep cycle"
		},
		WorkingMemory: WorkingMemoryConfig{
			Capacity:       7,
			Alpha:          0.7,
			DecayPerMin:    0.98,
			Reinforcement:  0.15,
			RouteThreshold: 0.6,
		},
		Hooks: HooksConfig{
			IdempotencyWindowS: 30,
			RateLimitPerMin:    30,
			MaxDepth:           5,
			MaxBreadth:         10,
			RecentEventsRing:   20,
		},
		Storage: StorageConfig{
			RetentionDays: 180,
			DatabasePath:  "data/agentmem.db",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Dim:            768,
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		LLM: LLMConfig{
			Provider:  "genai",
			Model:     "gemini-2.0-flash",
			TimeoutMs: 30000,
		},
		Logging: logging.Config{
			DebugMode:  false,
			Level:      "info",
			JSONFormat: false,
			Dir:        ".agentmem/logs",
		},
	}
}

// Validate rejects structurally invalid configuration.
func (c *Config) Validate() error {
	w := c.Recall.Weights
	sum := w.Semantic + w.Recency + w.Usefulness
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: recall.weights must sum to 1.0, got %.4f", sum)
	}
	switch c.Consolidation.Strategy {
	case "minimal", "speed", "balanced", "quality":
	default:
		return fmt.Errorf("config: unknown consolidation.strategy %q", c.Consolidation.Strategy)
	}
	if c.WorkingMemory.Capacity < 5 || c.WorkingMemory.Capacity > 9 {
		return fmt.Errorf("config: working_memory.capacity must be 7±2, got %d", c.WorkingMemory.Capacity)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("config: embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	return nil
}

// Load reads YAML configuration from path, applying it on top of Default().
// A missing file is not an error - defaults are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}
