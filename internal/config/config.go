package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all mnemos configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Flow       FlowConfig       `yaml:"flow"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider          string `yaml:"provider"` // "claude-cli", "anthropic", "openai", "ollama", "none"
	Model             string `yaml:"model"`
	OllamaURL         string `yaml:"ollama_url"`
	OllamaModel       string `yaml:"ollama_model"`
	EmbeddingProvider string `yaml:"embedding_provider"` // "auto", "hashed", "ollama", "openai"
	EmbeddingModel    string `yaml:"embedding_model"`
	EmbeddingDims     int    `yaml:"embedding_dims"`
	AnthropicKey      string `yaml:"anthropic_key"`
	OpenAIKey         string `yaml:"openai_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
}

type RetrievalConfig struct {
	BudgetMS        int     `yaml:"budget_ms"`
	SourceTimeoutMS int     `yaml:"source_timeout_ms"`
	RRFK            int     `yaml:"rrf_k"`
	MinScore        float64 `yaml:"min_score"`
	GraphTopN       int     `yaml:"graph_top_n"`
	GraphMaxNodes   int     `yaml:"graph_max_nodes"`
	GraphBudgetMS   int     `yaml:"graph_budget_ms"`
	CacheItems      int64   `yaml:"cache_items"`
}

type LifecycleConfig struct {
	ArchiveThreshold        float64 `yaml:"archive_threshold"`
	ConsolidateAfterDays    int     `yaml:"consolidate_after_days"`
	IdentityConfidenceFloor float64 `yaml:"identity_confidence_floor"`
	IntervalHours           int     `yaml:"interval_hours"`
}

type ClassifierConfig struct {
	TimeoutMS             int     `yaml:"timeout_ms"`
	FallbackConfidenceCap float64 `yaml:"fallback_confidence_cap"`
}

// DirectoryConfig selects the team directory backend. An empty DSN keeps
// teams and claims in the local SQLite database.
type DirectoryConfig struct {
	DSN string `yaml:"dsn"`
}

// FlowConfig controls tool-output observations. Outputs shorter than
// CharThreshold, and tools in SkipTools, are not recorded.
type FlowConfig struct {
	Enabled       bool     `yaml:"enabled"`
	CharThreshold int      `yaml:"char_threshold"`
	SkipTools     []string `yaml:"skip_tools"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:          "claude-cli",
			Model:             "haiku",
			EmbeddingProvider: "auto",
			EmbeddingModel:    "nomic-embed-text",
			EmbeddingDims:     768,
		},
		Retrieval: RetrievalConfig{
			BudgetMS:        1500,
			SourceTimeoutMS: 800,
			RRFK:            60,
			MinScore:        0.1,
			GraphTopN:       3,
			GraphMaxNodes:   5,
			GraphBudgetMS:   200,
			CacheItems:      10000,
		},
		Lifecycle: LifecycleConfig{
			ArchiveThreshold:        0.05,
			ConsolidateAfterDays:    14,
			IdentityConfidenceFloor: 0.6,
			IntervalHours:           24,
		},
		Classifier: ClassifierConfig{
			TimeoutMS:             3000,
			FallbackConfidenceCap: 0.5,
		},
		Flow: FlowConfig{
			CharThreshold: 2000,
		},
	}
}

// DefaultPath returns ~/.mnemos/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".mnemos", "config.yaml"), nil
}

// Load builds a Config from defaults, then the YAML file at path (if it
// exists), then environment overrides. A .env file in the working directory
// is loaded into the environment first; a missing .env is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MNEMOS_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.LLM.AnthropicKey == "" {
		c.LLM.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.OpenAIKey == "" {
		c.LLM.OpenAIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && c.LLM.OpenAIBaseURL == "" {
		c.LLM.OpenAIBaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Directory.DSN = v
	}
	if FlowEnabled() {
		c.Flow.Enabled = true
	}
	if v := os.Getenv("MNEMOS_FLOW_SKIP_TOOLS"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Flow.SkipTools = append(c.Flow.SkipTools, t)
			}
		}
	}
}

// FlowEnabled reports whether MNEMOS_FLOW turns tool observations on.
func FlowEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("MNEMOS_FLOW"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ClassifierTimeout returns the classification budget as a duration.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutMS) * time.Millisecond
}

// MaintenanceInterval returns the period between maintenance runs.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Lifecycle.IntervalHours) * time.Hour
}

// LocalOwner owns everything written before the user has an identity.
// Only its data may be claimed over the API.
const LocalOwner = "local"

// Owner returns the caller identity: MNEMOS_OWNER, else LocalOwner.
func Owner() string {
	if v := strings.TrimSpace(os.Getenv("MNEMOS_OWNER")); v != "" {
		return v
	}
	return LocalOwner
}
