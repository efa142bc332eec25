// Package config defines the runner's configuration schema and defaults.
// It follows the teacher's "typed struct tree + GetDefaultConfig +
// Validate" shape, trimmed to the settings the template-learning runner
// actually reads (spec §6.5, §5 backpressure, §4.2 ring-buffer bound).
package config

import (
	"fmt"
	"time"
)

// AppConfig is the complete runner configuration.
type AppConfig struct {
	LM      LMConfig      `yaml:"lm" validate:"required"`
	Batch   BatchConfig   `yaml:"batch" validate:"required"`
	Store   StoreConfig   `yaml:"store" validate:"required"`
	Reports ReportsConfig `yaml:"reports" validate:"required"`
}

// LMConfig configures the single LM provider the agent facade (C7) talks
// to. Credentials are read from the environment (spec §6.5), never from
// the YAML file, so APIKey is tagged yaml:"-".
type LMConfig struct {
	Provider      string        `yaml:"provider" default:"claude"`
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"-"`
	Temperature   float64       `yaml:"temperature" default:"0.1"`
	MaxTokens     int           `yaml:"max_tokens" default:"4000"`
	Timeout       time.Duration `yaml:"timeout" default:"60s"`
	RatePerSecond float64       `yaml:"rate_per_second" default:"2"`
	Burst         int           `yaml:"burst" default:"4"`
}

// BatchConfig controls the runner's backpressure and per-batch policy
// (spec §5, §4.8 skip-threshold).
type BatchConfig struct {
	Size            int `yaml:"size" default:"50000"`
	SkipThreshold   int `yaml:"skip_threshold" default:"0"`
	NMaxSamples     int `yaml:"n_max_samples" default:"1000"`
	MaxRefineRounds int `yaml:"max_refine_rounds" default:"5"`
}

// StoreConfig points the template library store (C2) at its sqlite
// directory: one file per library (spec §4.2, §6.2).
type StoreConfig struct {
	Dir string `yaml:"dir" default:"./libraries"`
}

// ReportsConfig holds a reports directory setting. cmd/logtmpl does not
// read it: the report writer writes to the --output directory.
type ReportsConfig struct {
	Dir string `yaml:"dir" default:"./reports"`
}

// GetDefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func GetDefaultConfig() *AppConfig {
	return &AppConfig{
		LM: LMConfig{
			Provider:      "claude",
			Endpoint:      "https://api.anthropic.com/v1/messages",
			Model:         "claude-3-5-sonnet-20241022",
			Temperature:   0.1,
			MaxTokens:     4000,
			Timeout:       60 * time.Second,
			RatePerSecond: 2,
			Burst:         4,
		},
		Batch: BatchConfig{
			Size:            50000,
			SkipThreshold:   0,
			NMaxSamples:     1000,
			MaxRefineRounds: 5,
		},
		Store:   StoreConfig{Dir: "./libraries"},
		Reports: ReportsConfig{Dir: "./reports"},
	}
}

// ValidationResult mirrors the teacher's Validate() contract: a bool plus
// the list of messages that made it false.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks invariants downstream code relies on: positive batch
// sizes, a non-negative skip threshold, a sane ring-buffer bound.
func (c *AppConfig) Validate() ValidationResult {
	var errs []string
	if c.Batch.Size <= 0 {
		errs = append(errs, "batch.size must be positive")
	}
	if c.Batch.SkipThreshold < 0 {
		errs = append(errs, "batch.skip_threshold must not be negative")
	}
	if c.Batch.NMaxSamples <= 0 {
		errs = append(errs, "batch.n_max_samples must be positive")
	}
	if c.Batch.MaxRefineRounds <= 0 {
		errs = append(errs, "batch.max_refine_rounds must be positive")
	}
	if c.Store.Dir == "" {
		errs = append(errs, "store.dir must not be empty")
	}
	if c.Reports.Dir == "" {
		errs = append(errs, "reports.dir must not be empty")
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}

func (r ValidationResult) Error() string {
	return fmt.Sprintf("%v", r.Errors)
}
