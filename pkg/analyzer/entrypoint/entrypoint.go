// Package entrypoint classifies the functions that act as roots for
// reachability analysis.
package entrypoint

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// Reason explains why a function was classified as an entry point.
type Reason string

const (
	ReasonExported          Reason = "exported"
	ReasonMain              Reason = "main"
	ReasonFrameworkCallback Reason = "framework-callback"
	ReasonTest              Reason = "test"
	ReasonPattern           Reason = "pattern"
)

// EntryPoint is a function treated as externally invoked.
type EntryPoint struct {
	FunctionID string   `json:"function_id" toon:"function_id"`
	Name       string   `json:"name" toon:"name"`
	FilePath   string   `json:"file_path" toon:"file_path"`
	Reasons    []Reason `json:"reasons" toon:"reasons"`
}

// Detector finds entry points among a snapshot's functions.
type Detector struct {
	excludeTests  bool
	extraPatterns []string
}

// Option is a functional option for configuring Detector.
type Option func(*Detector)

// WithExcludeTests stops test functions from being treated as entry points.
func WithExcludeTests(exclude bool) Option {
	return func(d *Detector) {
		d.excludeTests = exclude
	}
}

// WithExtraPatterns adds glob patterns (path.Match syntax) matched against
// function names. Matching functions become entry points.
func WithExtraPatterns(patterns ...string) Option {
	return func(d *Detector) {
		d.extraPatterns = append(d.extraPatterns, patterns...)
	}
}

// New creates a new entry point detector.
func New(opts ...Option) *Detector {
	d := &Detector{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns every entry point, ordered by function ID.
func (d *Detector) Detect(functions []models.FunctionInfo) []EntryPoint {
	var result []EntryPoint
	for i := range functions {
		fn := &functions[i]
		reasons := d.Classify(fn)
		if len(reasons) == 0 {
			continue
		}
		result = append(result, EntryPoint{
			FunctionID: fn.ID,
			Name:       fn.Name,
			FilePath:   fn.FilePath,
			Reasons:    reasons,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FunctionID < result[j].FunctionID
	})
	return result
}

// IDs returns the set of entry point function IDs.
func (d *Detector) IDs(functions []models.FunctionInfo) map[string]bool {
	ids := make(map[string]bool)
	for i := range functions {
		if len(d.Classify(&functions[i])) > 0 {
			ids[functions[i].ID] = true
		}
	}
	return ids
}

// Classify returns the reasons fn is an entry point, or nil if it is not one.
func (d *Detector) Classify(fn *models.FunctionInfo) []Reason {
	var reasons []Reason

	// Exported symbols are always roots, so no false negatives for them.
	if fn.IsExported && !fn.IsMethod {
		reasons = append(reasons, ReasonExported)
	}
	if isMainFunction(fn.Name) {
		reasons = append(reasons, ReasonMain)
	}
	if isFrameworkCallback(fn) {
		reasons = append(reasons, ReasonFrameworkCallback)
	}
	if !d.excludeTests && IsTestFunction(fn) {
		reasons = append(reasons, ReasonTest)
	}
	if d.matchesExtraPattern(fn.Name) {
		reasons = append(reasons, ReasonPattern)
	}
	return reasons
}

func (d *Detector) matchesExtraPattern(name string) bool {
	for _, p := range d.extraPatterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func isMainFunction(name string) bool {
	return name == "main" || name == "init" || name == "Main"
}

// isFrameworkCallback matches command registration, HTTP and event callbacks.
func isFrameworkCallback(fn *models.FunctionInfo) bool {
	name := fn.Name
	if name == "ServeHTTP" {
		return true
	}
	if hasWordPrefix(name, "handle") || hasWordPrefix(name, "Handle") ||
		hasWordPrefix(name, "on") || hasWordPrefix(name, "On") {
		return true
	}
	if isCommandFile(fn.FilePath) {
		for _, suffix := range []string{"Command", "Handler", "Action"} {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
		if name == "Run" || name == "Execute" || name == "run" || name == "execute" {
			return true
		}
	}
	return false
}

// hasWordPrefix reports whether name is prefix followed by an uppercase
// letter, so "onClick" matches "on" but "once" does not.
func hasWordPrefix(name, prefix string) bool {
	if len(name) <= len(prefix) || !strings.HasPrefix(name, prefix) {
		return false
	}
	c := name[len(prefix)]
	return c >= 'A' && c <= 'Z'
}

func isCommandFile(filePath string) bool {
	p := filepath.ToSlash(filePath)
	for _, dir := range strings.Split(path.Dir(p), "/") {
		switch dir {
		case "cli", "cmd", "cmds", "commands", "command":
			return true
		}
	}
	base := strings.ToLower(path.Base(p))
	return strings.HasPrefix(base, "cli.") || strings.HasPrefix(base, "cmd.")
}

// IsTestFunction reports whether fn lives in a test file or is named like a
// test, benchmark, example or fuzz function.
func IsTestFunction(fn *models.FunctionInfo) bool {
	if IsTestFile(fn.FilePath) {
		return true
	}
	for _, prefix := range []string{"Test", "Benchmark", "Example", "Fuzz"} {
		if isTestName(fn.Name, prefix) {
			return true
		}
	}
	return false
}

// isTestName follows the go test rule: the prefix alone, or the prefix
// followed by anything but a lowercase letter (TestFoo, Test_foo, Test1).
func isTestName(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) == len(prefix) {
		return true
	}
	c := name[len(prefix)]
	return c < 'a' || c > 'z'
}

// IsTestFile checks if a file is a test file.
func IsTestFile(filePath string) bool {
	p := filepath.ToSlash(filePath)
	base := path.Base(p)
	return strings.Contains(base, "_test.") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.Contains(p, "__tests__/")
}
