package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading from a single YAML file plus
// environment variable overrides, the teacher's "defaults first, then
// override" pattern (internal/config/loader.go in the teacher repo).
type Loader struct {
	configDir string
}

// NewLoader creates a new configuration loader rooted at configDir.
func NewLoader(configDir string) *Loader {
	return &Loader{configDir: configDir}
}

// LoadConfig loads pipeline.yaml from configDir (if present), applies
// environment overrides, and validates the result.
func (l *Loader) LoadConfig() (*AppConfig, error) {
	cfg := GetDefaultConfig()

	if err := l.loadPipelineConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to load pipeline config: %w", err)
	}

	l.applyEnvironmentOverrides(cfg)

	if result := cfg.Validate(); !result.Valid {
		return nil, fmt.Errorf("configuration validation failed: %v", result.Errors)
	}

	return cfg, nil
}

func (l *Loader) loadPipelineConfig(cfg *AppConfig) error {
	path := filepath.Join(l.configDir, "pipeline.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pipeline config file: %w", err)
	}

	var file AppConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse pipeline config YAML: %w", err)
	}

	if file.LM.Provider != "" {
		cfg.LM.Provider = file.LM.Provider
	}
	if file.LM.Endpoint != "" {
		cfg.LM.Endpoint = file.LM.Endpoint
	}
	if file.LM.Model != "" {
		cfg.LM.Model = file.LM.Model
	}
	if file.LM.Temperature != 0 {
		cfg.LM.Temperature = file.LM.Temperature
	}
	if file.LM.MaxTokens != 0 {
		cfg.LM.MaxTokens = file.LM.MaxTokens
	}
	if file.LM.Timeout != 0 {
		cfg.LM.Timeout = file.LM.Timeout
	}
	if file.LM.RatePerSecond != 0 {
		cfg.LM.RatePerSecond = file.LM.RatePerSecond
	}
	if file.LM.Burst != 0 {
		cfg.LM.Burst = file.LM.Burst
	}

	if file.Batch.Size != 0 {
		cfg.Batch.Size = file.Batch.Size
	}
	if file.Batch.SkipThreshold != 0 {
		cfg.Batch.SkipThreshold = file.Batch.SkipThreshold
	}
	if file.Batch.NMaxSamples != 0 {
		cfg.Batch.NMaxSamples = file.Batch.NMaxSamples
	}
	if file.Batch.MaxRefineRounds != 0 {
		cfg.Batch.MaxRefineRounds = file.Batch.MaxRefineRounds
	}

	if file.Store.Dir != "" {
		cfg.Store.Dir = file.Store.Dir
	}
	if file.Reports.Dir != "" {
		cfg.Reports.Dir = file.Reports.Dir
	}

	return nil
}

// applyEnvironmentOverrides reads LM credentials and a handful of
// operational knobs from the environment (spec §6.5: "LM provider and
// model selection read from environment").
func (l *Loader) applyEnvironmentOverrides(cfg *AppConfig) {
	if v := os.Getenv("LOGTMPL_LM_PROVIDER"); v != "" {
		cfg.LM.Provider = v
	}
	if v := os.Getenv("LOGTMPL_LM_ENDPOINT"); v != "" {
		cfg.LM.Endpoint = v
	}
	if v := os.Getenv("LOGTMPL_LM_MODEL"); v != "" {
		cfg.LM.Model = v
	}
	if v := os.Getenv("LOGTMPL_LM_API_KEY"); v != "" {
		cfg.LM.APIKey = v
	}
	if v := os.Getenv("LOGTMPL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Size = n
		}
	}
	if v := os.Getenv("LOGTMPL_SKIP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.SkipThreshold = n
		}
	}
	if v := os.Getenv("LOGTMPL_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("LOGTMPL_REPORTS_DIR"); v != "" {
		cfg.Reports.Dir = v
	}
}

// deprecatedModelAliases maps retired model identifiers to the documented
// default (spec §6.5: "Deprecated model identifiers map to a documented
// default.").
var deprecatedModelAliases = map[string]string{
	"claude-2":          "claude-3-5-sonnet-20241022",
	"claude-instant-1":  "claude-3-5-sonnet-20241022",
	"gpt-3.5-turbo-0301": "gpt-4o-mini",
}

// ResolveModelAlias substitutes a deprecated model identifier with its
// documented replacement, leaving unknown identifiers untouched.
func ResolveModelAlias(model string) string {
	if replacement, ok := deprecatedModelAliases[model]; ok {
		return replacement
	}
	return model
}
