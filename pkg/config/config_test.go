package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.Cycles.MinSize != 1 {
		t.Errorf("Cycles.MinSize = %d, want 1", cfg.Cycles.MinSize)
	}
	if cfg.Cycles.MaxLength != 20 {
		t.Errorf("Cycles.MaxLength = %d, want 20", cfg.Cycles.MaxLength)
	}
	if cfg.Cycles.MaxCycles != 1000 {
		t.Errorf("Cycles.MaxCycles = %d, want 1000", cfg.Cycles.MaxCycles)
	}

	if cfg.Metrics.HubThreshold != 5 || cfg.Metrics.UtilityThreshold != 5 {
		t.Errorf("Metrics thresholds = %d/%d, want 5/5", cfg.Metrics.HubThreshold, cfg.Metrics.UtilityThreshold)
	}
	if cfg.Metrics.MaxHubFunctions != 10 || cfg.Metrics.MaxUtilityFunctions != 10 {
		t.Errorf("Metrics caps = %d/%d, want 10/10", cfg.Metrics.MaxHubFunctions, cfg.Metrics.MaxUtilityFunctions)
	}

	if cfg.Deletion.ConfidenceThreshold != 0.8 {
		t.Errorf("Deletion.ConfidenceThreshold = %f, want 0.8", cfg.Deletion.ConfidenceThreshold)
	}
	if cfg.Deletion.MaxFunctionsPerBatch != 5 {
		t.Errorf("Deletion.MaxFunctionsPerBatch = %d, want 5", cfg.Deletion.MaxFunctionsPerBatch)
	}
	if cfg.Deletion.Execute {
		t.Error("Deletion.Execute should be false by default")
	}
	if !cfg.Deletion.ExcludeTests {
		t.Error("Deletion.ExcludeTests should be true by default")
	}

	if cfg.Validation.TimeoutSeconds != 300 {
		t.Errorf("Validation.TimeoutSeconds = %d, want 300", cfg.Validation.TimeoutSeconds)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("Output.Format = %s, want text", cfg.Output.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "funcqc.toml")

	content := `
[cycles]
max_length = 8
exclude_recursive = true

[[cycles.layers]]
pattern = "src/cli/**"
layer = "presentation"

[metrics]
hub_threshold = 3

[deletion]
include_exports = true
exclude_patterns = ["generated/**"]

[validation]
type_check_command = "npx tsc --noEmit"
timeout_seconds = 60

[output]
format = "json"
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Cycles.MaxLength != 8 {
		t.Errorf("Cycles.MaxLength = %d, want 8", cfg.Cycles.MaxLength)
	}
	if !cfg.Cycles.ExcludeRecursive {
		t.Error("Cycles.ExcludeRecursive should be true")
	}
	if len(cfg.Cycles.Layers) != 1 || cfg.Cycles.Layers[0].Layer != "presentation" {
		t.Errorf("Cycles.Layers = %+v, want one presentation rule", cfg.Cycles.Layers)
	}
	if cfg.Metrics.HubThreshold != 3 {
		t.Errorf("Metrics.HubThreshold = %d, want 3", cfg.Metrics.HubThreshold)
	}
	if cfg.Metrics.UtilityThreshold != 5 {
		t.Errorf("Metrics.UtilityThreshold = %d, want default 5", cfg.Metrics.UtilityThreshold)
	}
	if !cfg.Deletion.IncludeExports {
		t.Error("Deletion.IncludeExports should be true")
	}
	if len(cfg.Deletion.ExcludePatterns) != 1 {
		t.Errorf("Deletion.ExcludePatterns = %v, want 1 pattern", cfg.Deletion.ExcludePatterns)
	}
	if cfg.Output.Format != "json" {
		t.Errorf("Output.Format = %s, want json", cfg.Output.Format)
	}

	opts := cfg.ValidatorOptions(tmpDir)
	if len(opts) != 4 {
		t.Errorf("ValidatorOptions() returned %d options, want 4", len(opts))
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "funcqc.yaml")

	content := `
cycles:
  cross_layer_only: true
  limit: 25
deletion:
  max_functions_per_batch: 2
  candidate_min_confidence: 0.7
store:
  path: /tmp/snapshots.db
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.Cycles.CrossLayerOnly {
		t.Error("Cycles.CrossLayerOnly should be true")
	}
	if cfg.Cycles.Limit != 25 {
		t.Errorf("Cycles.Limit = %d, want 25", cfg.Cycles.Limit)
	}
	if cfg.Deletion.MaxFunctionsPerBatch != 2 {
		t.Errorf("Deletion.MaxFunctionsPerBatch = %d, want 2", cfg.Deletion.MaxFunctionsPerBatch)
	}
	if cfg.Store.Path != "/tmp/snapshots.db" {
		t.Errorf("Store.Path = %s, want /tmp/snapshots.db", cfg.Store.Path)
	}

	opts := cfg.DeletionOptions("snap", "/repo")
	if opts.SnapshotID != "snap" || opts.RootDir != "/repo" {
		t.Errorf("DeletionOptions() = %+v", opts)
	}
	if opts.CandidateMinConfidence != 0.7 {
		t.Errorf("CandidateMinConfidence = %f, want 0.7", opts.CandidateMinConfidence)
	}
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "funcqc.json")

	content := `{
  "metrics": {"utility_threshold": 8},
  "deletion": {"dry_run": true, "fail_closed": true},
  "output": {"format": "toon", "color": false}
}`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Metrics.UtilityThreshold != 8 {
		t.Errorf("Metrics.UtilityThreshold = %d, want 8", cfg.Metrics.UtilityThreshold)
	}
	if !cfg.Deletion.DryRun || !cfg.Deletion.FailClosed {
		t.Error("Deletion.DryRun and Deletion.FailClosed should be true")
	}
	if cfg.Output.Format != "toon" || cfg.Output.Color {
		t.Errorf("Output = %+v, want toon without color", cfg.Output)
	}

	stats := cfg.StatsOptions()
	if stats.UtilityThreshold != 8 {
		t.Errorf("StatsOptions().UtilityThreshold = %d, want 8", stats.UtilityThreshold)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/funcqc.toml")
	if err == nil {
		t.Error("Load() should return error for non-existent file")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	if err := os.WriteFile(configPath, []byte("this is not [valid toml"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid TOML")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "funcqc.toml")

	content := `
[deletion]
confidence_threshold = 1.5
max_functions_per_batch = 0

[output]
format = "xml"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should reject out-of-range values")
	}
	if !analyzer.IsValidationError(err) {
		t.Errorf("error should be a ValidationError, got %T", err)
	}
	if !strings.Contains(err.Error(), "output.format") {
		t.Errorf("error should name output.format: %v", err)
	}
}

func TestValidateConflictingCycleFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cycles.ExcludeRecursive = true
	cfg.Cycles.RecursiveOnly = true

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject exclude_recursive with recursive_only")
	}
}

func TestLoadOrDefault(t *testing.T) {
	origDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	defer os.Chdir(origDir)

	cfg := LoadOrDefault()
	if cfg == nil {
		t.Fatal("LoadOrDefault() returned nil")
	}
	if cfg.Deletion.MaxFunctionsPerBatch != 5 {
		t.Errorf("MaxFunctionsPerBatch = %d, want default 5", cfg.Deletion.MaxFunctionsPerBatch)
	}

	result, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if result.Source != "" {
		t.Errorf("Source = %q, want empty for defaults", result.Source)
	}
}

func TestLoadOrDefaultWithConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	defer os.Chdir(origDir)

	if err := os.MkdirAll(".funcqc", 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	content := "[deletion]\nmax_functions_per_batch = 9\n"
	if err := os.WriteFile(filepath.Join(".funcqc", "funcqc.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := LoadOrDefault()
	if cfg.Deletion.MaxFunctionsPerBatch != 9 {
		t.Errorf("MaxFunctionsPerBatch = %d, want 9", cfg.Deletion.MaxFunctionsPerBatch)
	}

	result, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if result.Source != filepath.Join(".funcqc", "funcqc.toml") {
		t.Errorf("Source = %q", result.Source)
	}
}

func TestCycleOptionsMergesLayersFile(t *testing.T) {
	tmpDir := t.TempDir()
	layersPath := filepath.Join(tmpDir, "layers.yaml")
	content := "layers:\n  - pattern: \"src/db/**\"\n    layer: data\n"
	if err := os.WriteFile(layersPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write layers file: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Cycles.LayersFile = layersPath

	opts, err := cfg.CycleOptions("/repo")
	if err != nil {
		t.Fatalf("CycleOptions() error: %v", err)
	}
	if len(opts.Layers) != 1 || opts.Layers[0].Layer != "data" {
		t.Errorf("Layers = %+v, want the file rule", opts.Layers)
	}
	if opts.RootDir != "/repo" || opts.MaxLength != 20 {
		t.Errorf("CycleOptions() = %+v", opts)
	}

	cfg.Cycles.LayersFile = filepath.Join(tmpDir, "missing.yaml")
	if _, err := cfg.CycleOptions(""); err == nil {
		t.Error("CycleOptions() should fail for a missing layers file")
	}
}
