// Package config loads and validates the run configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lulan-cc/RICE/internal/llm"
)

// Duration is a time.Duration that unmarshals from "30s"/"10m" strings in
// both YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full run configuration.
type Config struct {
	// Corpus and compiler plumbing.
	CorpusDir       string `yaml:"corpus_dir" json:"corpus_dir"`
	CompilerRepo    string `yaml:"compiler_repo" json:"compiler_repo"`
	PrebuiltRustc   string `yaml:"prebuilt_rustc" json:"prebuilt_rustc"`
	DefaultRevision string `yaml:"default_revision" json:"default_revision"`
	Edition         string `yaml:"edition" json:"edition"`

	// Output and persistence.
	OutputDir       string `yaml:"output_dir" json:"output_dir"`
	DBPath          string `yaml:"db_path" json:"db_path"`
	DedupAcrossRuns bool   `yaml:"dedup_across_runs" json:"dedup_across_runs"`
	CapturePrompts  bool   `yaml:"capture_prompts" json:"capture_prompts"`

	// Model channel.
	Model llm.Config `yaml:"model" json:"model"`

	// Loop shape and budgets.
	Workers            int      `yaml:"workers" json:"workers"`
	CandidateBudget    int      `yaml:"candidate_budget" json:"candidate_budget"`
	TimeBudget         Duration `yaml:"time_budget" json:"time_budget"`
	ContextsPerRound   int      `yaml:"contexts_per_round" json:"contexts_per_round"`
	VariantsPerContext int      `yaml:"variants_per_context" json:"variants_per_context"`
	ExecTimeout        Duration `yaml:"exec_timeout" json:"exec_timeout"`
	Seed               int64    `yaml:"seed" json:"seed"`

	// Policy: treat execution timeouts as interesting hang findings rather
	// than non-crashing slow compiles.
	HangAsFinding bool `yaml:"hang_as_finding" json:"hang_as_finding"`

	// Observability.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Default returns a config with the loop defaults filled in.
func Default() Config {
	return Config{
		OutputDir:          "output",
		DBPath:             "output/rice.db",
		Workers:            4,
		CandidateBudget:    200,
		TimeBudget:         Duration(1 * time.Hour),
		ContextsPerRound:   8,
		VariantsPerContext: 3,
		ExecTimeout:        Duration(30 * time.Second),
		DefaultRevision:    "nightly",
	}
}

// Load reads a YAML or JSON config file, detecting the format from content,
// and applies environment fallbacks (RICE_API_KEY) and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses config bytes. JSON is detected by a leading '{'; everything
// else is treated as YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	trimmed := firstNonSpace(data)
	if trimmed == '{' {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("RICE_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the run loop cannot default its way around.
func (c *Config) Validate() error {
	if c.CorpusDir == "" {
		return fmt.Errorf("config: corpus_dir is required")
	}
	if c.CompilerRepo == "" && c.PrebuiltRustc == "" {
		return fmt.Errorf("config: one of compiler_repo or prebuilt_rustc is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive")
	}
	if c.VariantsPerContext <= 0 {
		return fmt.Errorf("config: variants_per_context must be positive")
	}
	if c.ExecTimeout.Std() <= 0 {
		return fmt.Errorf("config: exec_timeout must be positive")
	}
	return nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
