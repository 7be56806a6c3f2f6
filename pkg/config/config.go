// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads hive.yaml through viper with HIVE_* environment
// overrides. Priority: CLI flags > config file > env vars > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigName is the config file base name (hive.yaml).
const DefaultConfigName = "hive"

// Config holds all configuration for the hived coordinator.
type Config struct {
	// DataDir is computed from HIVE_DATA_DIR or ~/.hive, never from the
	// config file.
	DataDir string `mapstructure:"-"`

	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Session SessionConfig `mapstructure:"session"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	LLM     LLMConfig     `mapstructure:"llm"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: json or console
	Format string `mapstructure:"format"`
}

// StorageConfig selects the checkpoint/memory persistence backend.
type StorageConfig struct {
	// Backend: memory, file, sqlite, postgres
	Backend string `mapstructure:"backend"`
	// Path is the directory (file backend) or database file (sqlite).
	// Defaults under DataDir.
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string (postgres backend only).
	DSN string `mapstructure:"dsn"`
}

// SessionConfig provides defaults for newly created sessions.
type SessionConfig struct {
	MaxAgents                 int  `mapstructure:"max_agents"`
	MaxConcurrentTasks        int  `mapstructure:"max_concurrent_tasks"`
	CheckpointIntervalSeconds int  `mapstructure:"checkpoint_interval_seconds"`
	AutoCheckpoint            bool `mapstructure:"auto_checkpoint"`
	PersistToDisk             bool `mapstructure:"persist_to_disk"`
	MaxCheckpoints            int  `mapstructure:"max_checkpoints"`
}

// CheckpointInterval returns the interval as a duration.
func (c SessionConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSeconds) * time.Second
}

// MemoryConfig tunes the tiered memory subsystem.
type MemoryConfig struct {
	MaintenanceIntervalSeconds int `mapstructure:"maintenance_interval_seconds"`
	// CompressionThreshold is the value size in bytes above which stored
	// values are gzip-compressed (0 = library default).
	CompressionThreshold int `mapstructure:"compression_threshold"`
}

// MaintenanceInterval returns the interval as a duration.
func (c MemoryConfig) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalSeconds) * time.Second
}

// LLMConfig holds router and provider configuration.
type LLMConfig struct {
	// DefaultProvider names the provider used when no rule matches.
	DefaultProvider string `mapstructure:"default_provider"`
	// Fallbacks is the ordered fallback chain after the default.
	Fallbacks []string `mapstructure:"fallbacks"`
	// RulesFile points at the routing-rules YAML, hot-reloaded on change.
	RulesFile string `mapstructure:"rules_file"`
	// CostMode: cost, speed, or quality.
	CostMode string `mapstructure:"cost_mode"`

	Ollama     OllamaConfig     `mapstructure:"ollama"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Perplexity PerplexityConfig `mapstructure:"perplexity"`
}

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// PerplexityConfig configures the Perplexity provider.
type PerplexityConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Load reads configuration. cfgFile overrides the search path when
// non-empty; otherwise hive.yaml is searched in the data directory, the
// current directory, and /etc/hive/. A missing config file is not an
// error: defaults plus HIVE_* env vars apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hive/")
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DataDir = DataDir()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", "")

	v.SetDefault("session.max_agents", 10)
	v.SetDefault("session.max_concurrent_tasks", 10)
	v.SetDefault("session.checkpoint_interval_seconds", 300)
	v.SetDefault("session.auto_checkpoint", true)
	v.SetDefault("session.persist_to_disk", true)
	v.SetDefault("session.max_checkpoints", 10)

	v.SetDefault("memory.maintenance_interval_seconds", 300)
	v.SetDefault("memory.compression_threshold", 0)

	v.SetDefault("llm.default_provider", "ollama")
	v.SetDefault("llm.fallbacks", []string{})
	v.SetDefault("llm.cost_mode", "quality")
	v.SetDefault("llm.ollama.endpoint", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama3.1:8b")
	v.SetDefault("llm.openai.model", "gpt-4.1")
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("llm.perplexity.model", "sonar-pro")
}

var validBackends = map[string]bool{
	"memory":   true,
	"file":     true,
	"sqlite":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCostModes = map[string]bool{
	"cost":    true,
	"speed":   true,
	"quality": true,
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level %q (want debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format %q (want json or console)", c.Logging.Format)
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage.backend %q (want memory, file, sqlite, or postgres)", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres backend")
	}
	if c.Session.MaxAgents <= 0 {
		return fmt.Errorf("session.max_agents must be positive, got %d", c.Session.MaxAgents)
	}
	if c.Session.CheckpointIntervalSeconds <= 0 {
		return fmt.Errorf("session.checkpoint_interval_seconds must be positive, got %d", c.Session.CheckpointIntervalSeconds)
	}
	if c.Memory.MaintenanceIntervalSeconds <= 0 {
		return fmt.Errorf("memory.maintenance_interval_seconds must be positive, got %d", c.Memory.MaintenanceIntervalSeconds)
	}
	if !validCostModes[c.LLM.CostMode] {
		return fmt.Errorf("invalid llm.cost_mode %q (want cost, speed, or quality)", c.LLM.CostMode)
	}
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider must not be empty")
	}
	return nil
}
