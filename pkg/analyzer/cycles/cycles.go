// Package cycles classifies call-graph cycles by architectural severity,
// scores them, filters them and attaches refactoring recommendations.
package cycles

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/reachability"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// Options controls enumeration caps, filters and output size.
type Options struct {
	MinSize          int
	MaxLength        int
	MaxCycles        int
	ExcludeRecursive bool
	ExcludeClear     bool
	MinComplexity    int // minimum cycle size
	CrossLayerOnly   bool
	RecursiveOnly    bool
	Limit            int // 0 = unlimited
	RootDir          string
	Layers           LayerTable
}

// DefaultOptions returns the default enumeration caps with no filters.
func DefaultOptions() Options {
	return Options{
		MinSize:   1,
		MaxLength: reachability.DefaultMaxCycleLength,
		MaxCycles: reachability.DefaultMaxCycles,
	}
}

// FilterStats reports how many cycles each filter removed. Filters run in
// declaration order; a cycle is counted by the first filter that drops it.
type FilterStats struct {
	TotalCycles              int `json:"total_cycles" toon:"total_cycles"`
	FilteredCycles           int `json:"filtered_cycles" toon:"filtered_cycles"`
	ExcludedByRecursive      int `json:"excluded_by_recursive" toon:"excluded_by_recursive"`
	ExcludedByClear          int `json:"excluded_by_clear" toon:"excluded_by_clear"`
	ExcludedByMinComplexity  int `json:"excluded_by_min_complexity" toon:"excluded_by_min_complexity"`
	ExcludedByCrossLayerOnly int `json:"excluded_by_cross_layer_only" toon:"excluded_by_cross_layer_only"`
	ExcludedByRecursiveOnly  int `json:"excluded_by_recursive_only" toon:"excluded_by_recursive_only"`
	LimitedOut               int `json:"limited_out" toon:"limited_out"`
}

// ImportanceSummary counts the returned cycles per importance and type.
type ImportanceSummary struct {
	Critical  int `json:"critical" toon:"critical"`
	High      int `json:"high" toon:"high"`
	Medium    int `json:"medium" toon:"medium"`
	Low       int `json:"low" toon:"low"`
	Recursive int `json:"recursive" toon:"recursive"`
	Mutual    int `json:"mutual" toon:"mutual"`
	Complex   int `json:"complex" toon:"complex"`
}

// Result is the output of AnalyzeClassifiedCycles.
type Result struct {
	Cycles      []models.ClassifiedCycle `json:"cycles" toon:"cycles"`
	FilterStats FilterStats              `json:"filter_stats" toon:"filter_stats"`
	Summary     ImportanceSummary        `json:"summary" toon:"summary"`
	Truncated   bool                     `json:"truncated" toon:"truncated"`
}

// Analyzer classifies cycles.
type Analyzer struct {
	logger *slog.Logger
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logging.OrDiscard(logger)
	}
}

// New creates a new cycle analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeClassifiedCycles enumerates, classifies, scores, filters and sorts
// the cycles of a call graph.
func (a *Analyzer) AnalyzeClassifiedCycles(edges []models.CallEdge, functions []models.FunctionInfo, opts Options) *Result {
	idx := analyzer.NewFunctionIndex(functions)
	valid, problems := idx.CheckEdges(edges)
	for _, p := range problems {
		a.logger.Warn("skipping call edge", "caller", p.CallerID, "callee", p.CalleeID, "reason", p.Reason)
	}

	search := reachability.New(
		reachability.WithLogger(a.logger),
		reachability.WithMaxCycles(opts.MaxCycles),
		reachability.WithMaxCycleLength(opts.MaxLength),
		reachability.WithMinSize(opts.MinSize),
	).FindCircularDependencies(valid)

	bounds := NewBoundaries(opts.RootDir, opts.Layers)
	classified := make([]models.ClassifiedCycle, 0, len(search.Cycles))
	for _, c := range search.Cycles {
		classified = append(classified, Classify(c, idx, bounds))
	}

	res := &Result{Truncated: search.Truncated}
	res.FilterStats.TotalCycles = len(classified)
	res.Cycles = applyFilters(classified, opts, idx, &res.FilterStats)
	SortCycles(res.Cycles)

	if opts.Limit > 0 && len(res.Cycles) > opts.Limit {
		res.FilterStats.LimitedOut = len(res.Cycles) - opts.Limit
		res.Cycles = res.Cycles[:opts.Limit]
	}
	res.FilterStats.FilteredCycles = len(res.Cycles)
	res.Summary = Summarize(res.Cycles)
	return res
}

// Classify annotates one raw cycle.
func Classify(c reachability.Cycle, idx *analyzer.FunctionIndex, bounds *Boundaries) models.ClassifiedCycle {
	files := make(map[string]bool)
	modules := make(map[string]bool)
	layers := make(map[string]bool)
	names := make([]string, len(c))
	complexity := 0

	for i, id := range c {
		fn, ok := idx.Get(id)
		if !ok {
			names[i] = id
			continue
		}
		names[i] = fn.DisplayName()
		complexity += fn.CyclomaticComplexity
		files[fn.FilePath] = true
		modules[bounds.Module(fn.FilePath)] = true
		layers[bounds.Layer(fn.FilePath)] = true
	}

	cc := models.ClassifiedCycle{
		ID:                   CycleID(c),
		Nodes:                append([]string(nil), c...),
		FunctionNames:        names,
		Type:                 models.CycleTypeForLength(len(c)),
		CrossFile:            len(files) > 1,
		CrossModule:          len(modules) > 1,
		CrossLayer:           len(layers) > 1,
		FileCount:            len(files),
		ModuleCount:          len(modules),
		LayerCount:           len(layers),
		CyclomaticComplexity: complexity,
	}
	if len(c) > 0 {
		cc.AverageComplexity = float64(complexity) / float64(len(c))
	}
	cc.Importance = importanceOf(cc)
	cc.Score = Score(cc)
	cc.Recommendations = Recommend(cc)
	return cc
}

// CycleID hashes the canonical node sequence.
func CycleID(nodes []string) string {
	return fmt.Sprintf("cycle-%016x", xxhash.Sum64String(strings.Join(nodes, "\x00")))
}

func importanceOf(c models.ClassifiedCycle) models.Importance {
	switch {
	case c.CrossLayer:
		return models.ImportanceCritical
	case c.CrossModule:
		return models.ImportanceHigh
	case c.CrossFile:
		return models.ImportanceMedium
	default:
		return models.ImportanceLow
	}
}

var importanceBase = map[models.Importance]float64{
	models.ImportanceCritical: 7,
	models.ImportanceHigh:     5,
	models.ImportanceMedium:   3,
	models.ImportanceLow:      1,
}

// Score grows with importance, cycle size and summed complexity, in [0, 10].
func Score(c models.ClassifiedCycle) float64 {
	score := importanceBase[c.Importance]
	score += math.Min(1.5, 0.25*float64(len(c.Nodes)-1))
	score += math.Min(1.5, float64(c.CyclomaticComplexity)/20)
	score = math.Max(0, math.Min(10, score))
	return math.Round(score*100) / 100
}

const highComplexityThreshold = 30

// Recommend returns every recommendation whose rule matches.
func Recommend(c models.ClassifiedCycle) []string {
	recs := make([]string, 0, 4)
	if c.CrossLayer {
		recs = append(recs,
			"URGENT: Cross-layer cycle violates architectural boundaries",
			"Introduce an interface or event boundary between layers")
	}
	if c.CrossModule {
		recs = append(recs, "Extract shared logic into a common module")
	}
	if len(c.Nodes) >= 4 {
		recs = append(recs, "Break into smaller, focused components")
	}
	if c.Type == models.CycleRecursive {
		recs = append(recs, "Verify the recursion has a guaranteed base case")
	}
	if c.CyclomaticComplexity >= highComplexityThreshold {
		recs = append(recs, "Reduce complexity of participating functions before refactoring")
	}
	if c.Type == models.CycleMutual && !c.CrossFile {
		recs = append(recs, "Consider merging or inverting the dependency")
	}
	return recs
}

func applyFilters(list []models.ClassifiedCycle, opts Options, idx *analyzer.FunctionIndex, stats *FilterStats) []models.ClassifiedCycle {
	kept := make([]models.ClassifiedCycle, 0, len(list))
	for _, c := range list {
		switch {
		case opts.ExcludeRecursive && c.Type == models.CycleRecursive:
			stats.ExcludedByRecursive++
		case opts.ExcludeClear && containsClearFunction(c, idx):
			stats.ExcludedByClear++
		case opts.MinComplexity > 0 && c.Size() < opts.MinComplexity:
			stats.ExcludedByMinComplexity++
		case opts.CrossLayerOnly && !c.CrossLayer:
			stats.ExcludedByCrossLayerOnly++
		case opts.RecursiveOnly && c.Type != models.CycleRecursive:
			stats.ExcludedByRecursiveOnly++
		default:
			kept = append(kept, c)
		}
	}
	return kept
}

var clearNames = []string{"clear", "reset", "dispose", "destroy", "close", "cleanup", "teardown"}

// IsClearFunction reports whether name looks like a trivial teardown
// function: one of the known names, either exactly (any case) or followed
// by an uppercase letter, as in clearCache.
func IsClearFunction(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range clearNames {
		if lower == word {
			return true
		}
		if len(name) > len(word) && strings.HasPrefix(lower, word) {
			c := name[len(word)]
			if c >= 'A' && c <= 'Z' {
				return true
			}
		}
	}
	return false
}

func containsClearFunction(c models.ClassifiedCycle, idx *analyzer.FunctionIndex) bool {
	for _, id := range c.Nodes {
		if fn, ok := idx.Get(id); ok && IsClearFunction(fn.Name) {
			return true
		}
	}
	return false
}

// SortCycles orders by score descending, ties by ID.
func SortCycles(list []models.ClassifiedCycle) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].ID < list[j].ID
	})
}

// Summarize counts cycles per importance and type.
func Summarize(list []models.ClassifiedCycle) ImportanceSummary {
	var s ImportanceSummary
	for _, c := range list {
		switch c.Importance {
		case models.ImportanceCritical:
			s.Critical++
		case models.ImportanceHigh:
			s.High++
		case models.ImportanceMedium:
			s.Medium++
		case models.ImportanceLow:
			s.Low++
		}
		switch c.Type {
		case models.CycleRecursive:
			s.Recursive++
		case models.CycleMutual:
			s.Mutual++
		case models.CycleComplex:
			s.Complex++
		}
	}
	return s
}
