package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/cycles"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/depmetrics"
	"github.com/akiramei/funcqc-sub009/pkg/deletion"
	"github.com/akiramei/funcqc-sub009/pkg/store"
	"github.com/akiramei/funcqc-sub009/pkg/validation"
)

// Config holds all configuration options for funcqc.
type Config struct {
	// Cycle enumeration caps and filters
	Cycles CyclesConfig `koanf:"cycles" toml:"cycles"`

	// Hub and utility thresholds
	Metrics MetricsConfig `koanf:"metrics" toml:"metrics"`

	// Safe deletion
	Deletion DeletionConfig `koanf:"deletion" toml:"deletion"`

	// Type-check and test commands run after each deletion batch
	Validation ValidationConfig `koanf:"validation" toml:"validation"`

	// Snapshot database
	Store StoreConfig `koanf:"store" toml:"store"`

	// Output settings
	Output OutputConfig `koanf:"output" toml:"output"`
}

// CyclesConfig controls cycle enumeration and classification.
type CyclesConfig struct {
	MinSize          int                `koanf:"min_size" toml:"min_size"`
	MaxLength        int                `koanf:"max_length" toml:"max_length"`
	MaxCycles        int                `koanf:"max_cycles" toml:"max_cycles"`
	ExcludeRecursive bool               `koanf:"exclude_recursive" toml:"exclude_recursive"`
	ExcludeClear     bool               `koanf:"exclude_clear" toml:"exclude_clear"`
	MinComplexity    int                `koanf:"min_complexity" toml:"min_complexity"`
	CrossLayerOnly   bool               `koanf:"cross_layer_only" toml:"cross_layer_only"`
	RecursiveOnly    bool               `koanf:"recursive_only" toml:"recursive_only"`
	Limit            int                `koanf:"limit" toml:"limit"`
	LayersFile       string             `koanf:"layers_file" toml:"layers_file"`
	Layers           []cycles.LayerRule `koanf:"layers" toml:"layers"`
}

// MetricsConfig controls dependency statistics.
type MetricsConfig struct {
	HubThreshold        int `koanf:"hub_threshold" toml:"hub_threshold"`
	UtilityThreshold    int `koanf:"utility_threshold" toml:"utility_threshold"`
	MaxHubFunctions     int `koanf:"max_hub_functions" toml:"max_hub_functions"`
	MaxUtilityFunctions int `koanf:"max_utility_functions" toml:"max_utility_functions"`
}

// DeletionConfig controls candidate selection and execution.
type DeletionConfig struct {
	ConfidenceThreshold    float64  `koanf:"confidence_threshold" toml:"confidence_threshold"`
	CandidateMinConfidence float64  `koanf:"candidate_min_confidence" toml:"candidate_min_confidence"`
	ProtectionThreshold    float64  `koanf:"protection_threshold" toml:"protection_threshold"`
	MaxFunctionsPerBatch   int      `koanf:"max_functions_per_batch" toml:"max_functions_per_batch"`
	DryRun                 bool     `koanf:"dry_run" toml:"dry_run"`
	Execute                bool     `koanf:"execute" toml:"execute"`
	IncludeExports         bool     `koanf:"include_exports" toml:"include_exports"`
	IncludeStaticMethods   bool     `koanf:"include_static_methods" toml:"include_static_methods"`
	ExcludeTests           bool     `koanf:"exclude_tests" toml:"exclude_tests"`
	ExcludePatterns        []string `koanf:"exclude_patterns" toml:"exclude_patterns"`
	EntryPatterns          []string `koanf:"entry_patterns" toml:"entry_patterns"`
	BackupDir              string   `koanf:"backup_dir" toml:"backup_dir"`
	FailClosed             bool     `koanf:"fail_closed" toml:"fail_closed"`
	Restore                string   `koanf:"restore" toml:"restore"`
}

// ValidationConfig names the commands used to validate deletions.
type ValidationConfig struct {
	TypeCheckCommand string `koanf:"type_check_command" toml:"type_check_command"`
	TestCommand      string `koanf:"test_command" toml:"test_command"`
	TimeoutSeconds   int    `koanf:"timeout_seconds" toml:"timeout_seconds"`
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `koanf:"path" toml:"path"`
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format  string `koanf:"format" toml:"format"` // text, json, markdown, toon
	Color   bool   `koanf:"color" toml:"color"`
	Verbose bool   `koanf:"verbose" toml:"verbose"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	cyc := cycles.DefaultOptions()
	stats := depmetrics.DefaultStatsOptions()
	del := deletion.DefaultOptions()
	return &Config{
		Cycles: CyclesConfig{
			MinSize:   cyc.MinSize,
			MaxLength: cyc.MaxLength,
			MaxCycles: cyc.MaxCycles,
		},
		Metrics: MetricsConfig{
			HubThreshold:        stats.HubThreshold,
			UtilityThreshold:    stats.UtilityThreshold,
			MaxHubFunctions:     stats.MaxHubFunctions,
			MaxUtilityFunctions: stats.MaxUtilityFunctions,
		},
		Deletion: DeletionConfig{
			ConfidenceThreshold:    del.ConfidenceThreshold,
			CandidateMinConfidence: del.CandidateMinConfidence,
			ProtectionThreshold:    del.ProtectionThreshold,
			MaxFunctionsPerBatch:   del.MaxFunctionsPerBatch,
			ExcludeTests:           del.ExcludeTests,
			ExcludePatterns:        []string{},
			EntryPatterns:          []string{},
			BackupDir:              del.BackupDir,
		},
		Validation: ValidationConfig{
			TimeoutSeconds: int(validation.DefaultTimeout / time.Second),
		},
		Store: StoreConfig{
			Path: store.DefaultPath,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
	}
}

// Load loads configuration from a file over the defaults and validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml":
		parser = toml.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// configNames are searched for in each search directory, in order.
var configNames = []string{
	"funcqc.toml",
	"funcqc.yaml",
	"funcqc.yml",
	"funcqc.json",
	".funcqc.toml",
	".funcqc.yaml",
	".funcqc.yml",
	".funcqc.json",
}

var searchDirs = []string{".", ".funcqc"}

// Find returns the first config file in the standard locations, or "".
func Find() string {
	for _, dir := range searchDirs {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadOrDefault tries to load config from standard locations or returns defaults.
func LoadOrDefault() *Config {
	if path := Find(); path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	return DefaultConfig()
}

// LoadResult is a loaded config and the file it came from. Source is empty
// when the defaults were used.
type LoadResult struct {
	Config *Config
	Source string
}

type loadOptions struct {
	path string
}

// LoadOption is a functional option for LoadConfig.
type LoadOption func(*loadOptions)

// WithPath loads from path instead of searching the standard locations.
func WithPath(path string) LoadOption {
	return func(o *loadOptions) {
		o.path = path
	}
}

// LoadConfig loads an explicit file, or the first file found in the
// standard locations, or the defaults. Unlike LoadOrDefault it reports
// errors in a file that exists.
func LoadConfig(opts ...LoadOption) (*LoadResult, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}
	path := o.path
	if path == "" {
		path = Find()
	}
	if path == "" {
		cfg := DefaultConfig()
		return &LoadResult{Config: cfg}, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Source: path}, nil
}

var formats = map[string]bool{"text": true, "json": true, "markdown": true, "toon": true}

// Validate checks every value. Errors are *analyzer.ValidationError.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field string, value any, reason string) {
		if !ok {
			errs = append(errs, analyzer.NewValidationError(field, value, reason))
		}
	}

	check(c.Cycles.MinSize >= 1, "cycles.min_size", c.Cycles.MinSize, "must be at least 1")
	check(c.Cycles.MaxLength >= c.Cycles.MinSize, "cycles.max_length", c.Cycles.MaxLength, "must be at least min_size")
	check(c.Cycles.MaxCycles >= 1, "cycles.max_cycles", c.Cycles.MaxCycles, "must be at least 1")
	check(c.Cycles.MinComplexity >= 0, "cycles.min_complexity", c.Cycles.MinComplexity, "must not be negative")
	check(c.Cycles.Limit >= 0, "cycles.limit", c.Cycles.Limit, "must not be negative")
	check(!(c.Cycles.ExcludeRecursive && c.Cycles.RecursiveOnly), "cycles.recursive_only", c.Cycles.RecursiveOnly, "conflicts with exclude_recursive")
	for i, r := range c.Cycles.Layers {
		check(r.Pattern != "" && r.Layer != "", fmt.Sprintf("cycles.layers[%d]", i), r, "needs pattern and layer")
	}

	check(c.Metrics.HubThreshold >= 1, "metrics.hub_threshold", c.Metrics.HubThreshold, "must be at least 1")
	check(c.Metrics.UtilityThreshold >= 1, "metrics.utility_threshold", c.Metrics.UtilityThreshold, "must be at least 1")
	check(c.Metrics.MaxHubFunctions >= 1, "metrics.max_hub_functions", c.Metrics.MaxHubFunctions, "must be at least 1")
	check(c.Metrics.MaxUtilityFunctions >= 1, "metrics.max_utility_functions", c.Metrics.MaxUtilityFunctions, "must be at least 1")

	if err := c.DeletionOptions("", "").Validate(); err != nil {
		errs = append(errs, err)
	}

	check(c.Validation.TimeoutSeconds >= 1, "validation.timeout_seconds", c.Validation.TimeoutSeconds, "must be at least 1")
	check(c.Store.Path != "", "store.path", c.Store.Path, "must not be empty")
	check(formats[c.Output.Format], "output.format", c.Output.Format, "must be text, json, markdown or toon")

	return errors.Join(errs...)
}

// CycleOptions converts the cycles section. The layer table combines the
// inline rules with those from LayersFile, inline rules first.
func (c *Config) CycleOptions(rootDir string) (cycles.Options, error) {
	layers := cycles.LayerTable(append([]cycles.LayerRule{}, c.Cycles.Layers...))
	if c.Cycles.LayersFile != "" {
		fromFile, err := cycles.LoadLayerTable(c.Cycles.LayersFile)
		if err != nil {
			return cycles.Options{}, err
		}
		layers = append(layers, fromFile...)
	}
	return cycles.Options{
		MinSize:          c.Cycles.MinSize,
		MaxLength:        c.Cycles.MaxLength,
		MaxCycles:        c.Cycles.MaxCycles,
		ExcludeRecursive: c.Cycles.ExcludeRecursive,
		ExcludeClear:     c.Cycles.ExcludeClear,
		MinComplexity:    c.Cycles.MinComplexity,
		CrossLayerOnly:   c.Cycles.CrossLayerOnly,
		RecursiveOnly:    c.Cycles.RecursiveOnly,
		Limit:            c.Cycles.Limit,
		RootDir:          rootDir,
		Layers:           layers,
	}, nil
}

// StatsOptions converts the metrics section.
func (c *Config) StatsOptions() depmetrics.StatsOptions {
	return depmetrics.StatsOptions{
		HubThreshold:        c.Metrics.HubThreshold,
		UtilityThreshold:    c.Metrics.UtilityThreshold,
		MaxHubFunctions:     c.Metrics.MaxHubFunctions,
		MaxUtilityFunctions: c.Metrics.MaxUtilityFunctions,
	}
}

// DeletionOptions converts the deletion section for one snapshot.
func (c *Config) DeletionOptions(snapshotID, rootDir string) deletion.Options {
	d := c.Deletion
	return deletion.Options{
		SnapshotID:             snapshotID,
		RootDir:                rootDir,
		ConfidenceThreshold:    d.ConfidenceThreshold,
		CandidateMinConfidence: d.CandidateMinConfidence,
		ProtectionThreshold:    d.ProtectionThreshold,
		MaxFunctionsPerBatch:   d.MaxFunctionsPerBatch,
		Execute:                d.Execute,
		DryRun:                 d.DryRun,
		IncludeExports:         d.IncludeExports,
		IncludeStaticMethods:   d.IncludeStaticMethods,
		ExcludeTests:           d.ExcludeTests,
		ExcludePatterns:        append([]string{}, d.ExcludePatterns...),
		EntryPatterns:          append([]string{}, d.EntryPatterns...),
		BackupDir:              d.BackupDir,
	}
}

// ValidatorOptions converts the validation section.
func (c *Config) ValidatorOptions(dir string) []validation.Option {
	return []validation.Option{
		validation.WithTypeCheckCommand(c.Validation.TypeCheckCommand),
		validation.WithTestCommand(c.Validation.TestCommand),
		validation.WithTimeout(time.Duration(c.Validation.TimeoutSeconds) * time.Second),
		validation.WithDir(dir),
	}
}
