package deletion

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
)

// DefaultBackupDir is where backups go when no directory is configured.
const DefaultBackupDir = ".funcqc/backups"

// Options configures a deletion run.
type Options struct {
	SnapshotID string
	// RootDir resolves relative function file paths.
	RootDir string

	// ConfidenceThreshold is the edge-level cutoff: an inbound edge below
	// it is treated as a low-confidence call.
	ConfidenceThreshold float64
	// CandidateMinConfidence drops candidates scored below it.
	CandidateMinConfidence float64
	// ProtectionThreshold is the type-safety score that protects a function.
	ProtectionThreshold  float64
	MaxFunctionsPerBatch int

	Execute bool
	// DryRun forces a preview even when Execute is set.
	DryRun bool

	IncludeExports       bool
	IncludeStaticMethods bool
	ExcludeTests         bool
	ExcludePatterns      []string
	// EntryPatterns are name globs that mark extra entry points.
	EntryPatterns []string

	BackupDir string
}

// DefaultOptions returns preview-only options with the default thresholds.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold:    0.8,
		CandidateMinConfidence: 0.5,
		ProtectionThreshold:    typesafety.DefaultProtectionThreshold,
		MaxFunctionsPerBatch:   5,
		ExcludeTests:           true,
		BackupDir:              DefaultBackupDir,
	}
}

// Validate checks option ranges. It runs before any backup is created.
func (o Options) Validate() error {
	switch {
	case o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1:
		return analyzer.NewValidationError("confidence_threshold", o.ConfidenceThreshold, "must be between 0 and 1")
	case o.CandidateMinConfidence < 0 || o.CandidateMinConfidence > 1:
		return analyzer.NewValidationError("candidate_min_confidence", o.CandidateMinConfidence, "must be between 0 and 1")
	case o.ProtectionThreshold < 0 || o.ProtectionThreshold > 1:
		return analyzer.NewValidationError("protection_threshold", o.ProtectionThreshold, "must be between 0 and 1")
	case o.MaxFunctionsPerBatch < 1:
		return analyzer.NewValidationError("max_functions_per_batch", o.MaxFunctionsPerBatch, "must be at least 1")
	case o.Execute && !o.DryRun && o.BackupDir == "":
		return analyzer.NewValidationError("backup_dir", o.BackupDir, "required when executing")
	}
	for _, p := range o.ExcludePatterns {
		if _, err := path.Match(strings.TrimSuffix(p, "/**"), ""); err != nil {
			return analyzer.NewValidationError("exclude_patterns", p, err.Error())
		}
	}
	for _, p := range o.EntryPatterns {
		if _, err := path.Match(p, ""); err != nil {
			return analyzer.NewValidationError("entry_patterns", p, err.Error())
		}
	}
	return nil
}

func (o Options) resolve(filePath string) string {
	if filepath.IsAbs(filePath) || o.RootDir == "" {
		return filePath
	}
	return filepath.Join(o.RootDir, filePath)
}

// MatchPattern reports whether filePath matches an exclude pattern. Plain
// patterns match the whole path, the base name or any trailing part of the
// path; "dir/**" matches everything below dir.
func MatchPattern(pattern, filePath string) bool {
	p := filepath.ToSlash(filePath)
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		segments := strings.Split(p, "/")
		n := strings.Count(dir, "/") + 1
		for i := 0; i+n < len(segments); i++ {
			if ok, _ := path.Match(dir, strings.Join(segments[i:i+n], "/")); ok {
				return true
			}
		}
		return false
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	segments := strings.Split(p, "/")
	for i := 1; i < len(segments); i++ {
		if ok, _ := path.Match(pattern, strings.Join(segments[i:], "/")); ok {
			return true
		}
	}
	return false
}
