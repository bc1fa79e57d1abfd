// Package config loads and persists the kestrel configuration file at
// ~/.kestrel/config.yaml. Provider credentials can also arrive through
// environment variables, which override the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrelcli/kestrel/internal/policy"
)

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Type    string `yaml:"type"` // "openai-compatible"
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// ModelConfig binds a model name to a provider and its limits.
type ModelConfig struct {
	Provider       string   `yaml:"provider"`
	Model          string   `yaml:"model"`
	MaxContextSize int      `yaml:"max_context_size,omitempty"`
	Capabilities   []string `yaml:"capabilities,omitempty"`
}

// OtelConfig controls telemetry export.
type OtelConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter,omitempty"` // "stdout", "otlp-http", "none"
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// CompactorConfig controls automatic context compaction.
type CompactorConfig struct {
	// Threshold is the fraction of the model context that triggers
	// compaction. Zero means the default (0.8).
	Threshold float64 `yaml:"threshold,omitempty"`
	// KeepCheckpoints is how many trailing checkpoint segments survive a
	// compaction. Zero means the default (2).
	KeepCheckpoints int `yaml:"keep_checkpoints,omitempty"`
}

// Config is the root configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel     string                    `yaml:"log_level,omitempty"`
	DefaultModel string                    `yaml:"default_model,omitempty"`
	Providers    map[string]ProviderConfig `yaml:"providers,omitempty"`
	Models       map[string]ModelConfig    `yaml:"models,omitempty"`
	Policy       policy.Policy             `yaml:"policy,omitempty"`
	Otel         OtelConfig                `yaml:"otel,omitempty"`
	Compactor    CompactorConfig           `yaml:"compactor,omitempty"`
}

// HomeDir resolves the kestrel data directory: $KESTREL_HOME when set,
// otherwise ~/.kestrel.
func HomeDir() (string, error) {
	if dir := os.Getenv("KESTREL_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".kestrel"), nil
}

// Path returns the config file path under homeDir.
func Path(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads the config file, applies defaults and environment overrides.
// A missing file yields defaults; the first Save materializes it.
func Load(homeDir string) (*Config, error) {
	cfg := defaults(homeDir)
	data, err := os.ReadFile(Path(homeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.HomeDir = homeDir
	applyEnvOverrides(cfg)
	if cfg.DefaultModel == "" {
		for name := range cfg.Models {
			cfg.DefaultModel = name
			break
		}
	}
	return cfg, nil
}

func defaults(homeDir string) *Config {
	return &Config{
		HomeDir:   homeDir,
		LogLevel:  "info",
		Providers: map[string]ProviderConfig{},
		Models:    map[string]ModelConfig{},
		Policy:    policy.Default(),
		Otel:      OtelConfig{Enabled: false, Exporter: "none"},
	}
}

// envProviders maps an environment prefix to a provider entry created when
// any of its variables is set.
var envProviders = []struct {
	prefix   string
	provider string
	baseURL  string
}{
	{"DASHSCOPE", "dashscope", "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	{"DEEPSEEK", "deepseek", "https://api.deepseek.com/v1"},
	{"LOCAL", "local", "http://127.0.0.1:11434/v1"},
}

// applyEnvOverrides lets provider credentials arrive through the
// environment. For each prefix, <PREFIX>_API_KEY, <PREFIX>_BASE_URL,
// <PREFIX>_MODEL_NAME, <PREFIX>_MAX_CONTEXT_SIZE and <PREFIX>_CAPABILITIES
// are honored; a model entry named after the provider is created when a
// model name is given.
func applyEnvOverrides(cfg *Config) {
	for _, ep := range envProviders {
		apiKey := os.Getenv(ep.prefix + "_API_KEY")
		baseURL := os.Getenv(ep.prefix + "_BASE_URL")
		modelName := os.Getenv(ep.prefix + "_MODEL_NAME")
		if apiKey == "" && baseURL == "" && modelName == "" {
			continue
		}
		pc := cfg.Providers[ep.provider]
		pc.Type = "openai-compatible"
		if pc.BaseURL == "" {
			pc.BaseURL = ep.baseURL
		}
		if baseURL != "" {
			pc.BaseURL = baseURL
		}
		if apiKey != "" {
			pc.APIKey = apiKey
		}
		cfg.Providers[ep.provider] = pc

		if modelName == "" {
			continue
		}
		mc := ModelConfig{Provider: ep.provider, Model: modelName}
		if raw := os.Getenv(ep.prefix + "_MAX_CONTEXT_SIZE"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				mc.MaxContextSize = n
			}
		}
		if raw := os.Getenv(ep.prefix + "_CAPABILITIES"); raw != "" {
			for _, c := range strings.Split(raw, ",") {
				if c = strings.TrimSpace(c); c != "" {
					mc.Capabilities = append(mc.Capabilities, c)
				}
			}
		}
		cfg.Models[ep.provider] = mc
		if cfg.DefaultModel == "" {
			cfg.DefaultModel = ep.provider
		}
	}
}

// ResolveModel returns the model entry and its provider for name, falling
// back to the default model when name is empty.
func (c *Config) ResolveModel(name string) (ModelConfig, ProviderConfig, error) {
	if name == "" {
		name = c.DefaultModel
	}
	if name == "" {
		return ModelConfig{}, ProviderConfig{}, fmt.Errorf("no model configured; set one in %s or export a provider environment variable", Path(c.HomeDir))
	}
	mc, ok := c.Models[name]
	if !ok {
		return ModelConfig{}, ProviderConfig{}, fmt.Errorf("unknown model %q", name)
	}
	pc, ok := c.Providers[mc.Provider]
	if !ok {
		return ModelConfig{}, ProviderConfig{}, fmt.Errorf("model %q references unknown provider %q", name, mc.Provider)
	}
	return mc, pc, nil
}

// Save writes the config file with restrictive permissions, since it may
// hold API keys.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.HomeDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(Path(c.HomeDir), data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
