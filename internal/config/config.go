// Package config loads the per-workspace CODOR configuration, adapted
// from the teacher's viper-based config loader: a YAML file under the
// workspace's dotdir with defaults filled in for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/codor-dev/codor/internal/types"
)

// Config represents the CODOR configuration for one workspace.
type Config struct {
	Chat       ChatConfig       `mapstructure:"chat"`
	Sprint     SprintConfig     `mapstructure:"sprint"`
	Idle       IdleConfig       `mapstructure:"idle"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Validation ValidationConfig `mapstructure:"validation"`
}

// ChatConfig selects and configures the assistant-side Channel.
type ChatConfig struct {
	Backend      string `mapstructure:"backend"` // "subprocess" | "api"
	Model        string `mapstructure:"model"`
	MarkerPrefix string `mapstructure:"marker_prefix"`

	// Subprocess backend settings.
	Binary string `mapstructure:"binary"`

	// API backend settings. The key itself is never read from this file;
	// it comes from ANTHROPIC_API_KEY so it never lands in a config.yaml
	// a developer might commit.
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// SprintConfig controls the Sprint Controller's retry/commit behavior.
type SprintConfig struct {
	MaxRetries int  `mapstructure:"max_retries"`
	PushCommit bool `mapstructure:"push_commit"`
}

// IdleConfig controls the idle-nudge observer.
type IdleConfig struct {
	ThresholdSeconds int `mapstructure:"threshold_seconds"`
}

// EvidenceConfig controls the retention sweeper.
type EvidenceConfig struct {
	Retention     string `mapstructure:"retention"` // never-expire | compress-after-N-days | delete-after-N-days
	RetentionDays int    `mapstructure:"retention_days"`
}

// ValidationConfig is the YAML-facing mirror of types.ValidationPolicy.
type ValidationConfig struct {
	Linting      ToolClassConfig `mapstructure:"linting"`
	TypeChecking ToolClassConfig `mapstructure:"typeChecking"`
	Compilation  ToolClassConfig `mapstructure:"compilation"`
}

// ToolClassConfig is the YAML-facing mirror of types.ToolClassPolicy.
type ToolClassConfig struct {
	Strategy string                     `mapstructure:"strategy"`
	Tools    map[string]ToolOverrideCfg `mapstructure:"tools"`
}

// ToolOverrideCfg is the YAML-facing mirror of types.ToolOverride.
type ToolOverrideCfg struct {
	Enabled      bool     `mapstructure:"enabled"`
	Strategy     string   `mapstructure:"strategy"`
	MaxWarnings  int      `mapstructure:"maxWarnings"`
	IgnoredRules []string `mapstructure:"ignoredRules"`
	ErrorOnRules []string `mapstructure:"errorOnRules"`
}

const configRelPath = ".codor/config.yaml"

// Load reads <workspaceDir>/.codor/config.yaml, falling back to
// DefaultConfig if no file exists, and applies defaults for any field
// left unset. The CODOR_CHAT_MARKER_PREFIX environment variable, if
// set, overrides whatever the file specifies.
func Load(workspaceDir string) (*Config, error) {
	configPath := filepath.Join(workspaceDir, configRelPath)

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
		applyDefaults(cfg)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", configPath, err)
	}

	if prefix := os.Getenv("CODOR_CHAT_MARKER_PREFIX"); prefix != "" {
		cfg.Chat.MarkerPrefix = prefix
	}

	return cfg, nil
}

// DefaultConfig returns a Config with every field at its spec.md §6
// default.
func DefaultConfig() *Config {
	return &Config{
		Chat: ChatConfig{
			Backend:      "subprocess",
			Model:        "sonnet",
			MarkerPrefix: "@codor",
			Binary:       "claude",
			MaxTokens:    4096,
			Temperature:  1.0,
		},
		Sprint: SprintConfig{
			MaxRetries: 5,
			PushCommit: false,
		},
		Idle: IdleConfig{
			ThresholdSeconds: 600,
		},
		Evidence: EvidenceConfig{
			Retention:     "compress-after-N-days",
			RetentionDays: 7,
		},
		Validation: ValidationConfig{
			Linting:      ToolClassConfig{Strategy: "block-on-errors", Tools: map[string]ToolOverrideCfg{}},
			TypeChecking: ToolClassConfig{Strategy: "block-always", Tools: map[string]ToolOverrideCfg{}},
			Compilation:  ToolClassConfig{Strategy: "block-always", Tools: map[string]ToolOverrideCfg{}},
		},
	}
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()

	if cfg.Chat.Backend == "" {
		cfg.Chat.Backend = d.Chat.Backend
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = d.Chat.Model
	}
	if cfg.Chat.MarkerPrefix == "" {
		cfg.Chat.MarkerPrefix = d.Chat.MarkerPrefix
	}
	if cfg.Chat.Binary == "" {
		cfg.Chat.Binary = d.Chat.Binary
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = d.Chat.MaxTokens
	}
	if cfg.Sprint.MaxRetries == 0 {
		cfg.Sprint.MaxRetries = d.Sprint.MaxRetries
	}
	if cfg.Idle.ThresholdSeconds == 0 {
		cfg.Idle.ThresholdSeconds = d.Idle.ThresholdSeconds
	}
	if cfg.Evidence.Retention == "" {
		cfg.Evidence.Retention = d.Evidence.Retention
	}
	if cfg.Validation.Linting.Strategy == "" {
		cfg.Validation.Linting = d.Validation.Linting
	}
	if cfg.Validation.TypeChecking.Strategy == "" {
		cfg.Validation.TypeChecking = d.Validation.TypeChecking
	}
	if cfg.Validation.Compilation.Strategy == "" {
		cfg.Validation.Compilation = d.Validation.Compilation
	}
	if cfg.Validation.Linting.Tools == nil {
		cfg.Validation.Linting.Tools = map[string]ToolOverrideCfg{}
	}
	if cfg.Validation.TypeChecking.Tools == nil {
		cfg.Validation.TypeChecking.Tools = map[string]ToolOverrideCfg{}
	}
	if cfg.Validation.Compilation.Tools == nil {
		cfg.Validation.Compilation.Tools = map[string]ToolOverrideCfg{}
	}
}

// ValidationPolicy converts the loaded YAML-facing config into the
// types.ValidationPolicy the Failure Classifier consumes.
func (c *Config) ValidationPolicy() types.ValidationPolicy {
	return types.ValidationPolicy{
		Linting:      c.Validation.Linting.toPolicy(),
		TypeChecking: c.Validation.TypeChecking.toPolicy(),
		Compilation:  c.Validation.Compilation.toPolicy(),
	}
}

func (t ToolClassConfig) toPolicy() types.ToolClassPolicy {
	tools := make(map[string]types.ToolOverride, len(t.Tools))
	for name, o := range t.Tools {
		tools[name] = types.ToolOverride{
			Enabled:      o.Enabled,
			Strategy:     types.ValidationStrategy(o.Strategy),
			MaxWarnings:  o.MaxWarnings,
			IgnoredRules: o.IgnoredRules,
			ErrorOnRules: o.ErrorOnRules,
		}
	}
	return types.ToolClassPolicy{
		Strategy: types.ValidationStrategy(t.Strategy),
		Tools:    tools,
	}
}

// RetentionPolicy converts the configured string into the closed
// types.RetentionPolicy enum, defaulting to compress-after-N-days if the
// value is unrecognized.
func (c *Config) RetentionPolicy() types.RetentionPolicy {
	switch types.RetentionPolicy(c.Evidence.Retention) {
	case types.RetentionNeverExpire, types.RetentionCompressAfterDays, types.RetentionDeleteAfterDays:
		return types.RetentionPolicy(c.Evidence.Retention)
	default:
		return types.RetentionCompressAfterDays
	}
}

// WorkspaceRoot resolves the effective workspace root: CODOR_WORKSPACE
// overrides the caller-supplied default when set, per spec.md §6.
func WorkspaceRoot(fallback string) string {
	if v := os.Getenv("CODOR_WORKSPACE"); v != "" {
		return v
	}
	return fallback
}
