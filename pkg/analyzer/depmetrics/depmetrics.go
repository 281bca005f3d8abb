// Package depmetrics computes per-function fan-in, fan-out and depth metrics
// and aggregates them into hub, utility and isolated classifications.
package depmetrics

import (
	"sort"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer/reachability"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// StatsOptions configures GenerateStats.
type StatsOptions struct {
	HubThreshold        int
	UtilityThreshold    int
	MaxHubFunctions     int
	MaxUtilityFunctions int
}

// DefaultStatsOptions returns the default hub and utility thresholds.
func DefaultStatsOptions() StatsOptions {
	return StatsOptions{
		HubThreshold:        5,
		UtilityThreshold:    5,
		MaxHubFunctions:     10,
		MaxUtilityFunctions: 10,
	}
}

// Calculator computes dependency metrics.
type Calculator struct{}

// New creates a new metrics calculator.
func New() *Calculator {
	return &Calculator{}
}

// CalculateMetrics returns one DependencyMetrics per function, in the order
// of functions. Edges to external or unknown callees count toward the
// caller's fan-out only.
func (c *Calculator) CalculateMetrics(
	functions []models.FunctionInfo,
	edges []models.CallEdge,
	entryIDs map[string]bool,
	cyclicIDs map[string]bool,
) []models.DependencyMetrics {
	known := make(map[string]bool, len(functions))
	for _, fn := range functions {
		known[fn.ID] = true
	}

	fanIn := make(map[string]int, len(functions))
	fanOut := make(map[string]int, len(functions))
	internal := make([]models.CallEdge, 0, len(edges))
	for _, e := range edges {
		if !known[e.CallerFunctionID] {
			continue
		}
		fanOut[e.CallerFunctionID]++
		if e.IsInternal() && known[e.CalleeFunctionID] {
			fanIn[e.CalleeFunctionID]++
			internal = append(internal, e)
		}
	}

	entries := make([]string, 0, len(entryIDs))
	for id, ok := range entryIDs {
		if ok && known[id] {
			entries = append(entries, id)
		}
	}
	sort.Strings(entries)
	depths := reachability.BuildGraph(internal, entries...).Distances(entries)

	metrics := make([]models.DependencyMetrics, 0, len(functions))
	for _, fn := range functions {
		depth, ok := depths[fn.ID]
		if !ok {
			depth = -1
		}
		metrics = append(metrics, models.DependencyMetrics{
			FunctionID:     fn.ID,
			FunctionName:   fn.DisplayName(),
			FilePath:       fn.FilePath,
			FanIn:          fanIn[fn.ID],
			FanOut:         fanOut[fn.ID],
			DepthFromEntry: depth,
			IsCyclic:       cyclicIDs[fn.ID],
			IsEntryPoint:   entryIDs[fn.ID],
		})
	}
	return metrics
}

// GenerateStats aggregates metrics. Zero-valued options fall back to the
// defaults.
func (c *Calculator) GenerateStats(metrics []models.DependencyMetrics, opts StatsOptions) *models.DependencyStats {
	opts = withDefaults(opts)
	stats := &models.DependencyStats{
		TotalFunctions:    len(metrics),
		HubThreshold:      opts.HubThreshold,
		UtilityThreshold:  opts.UtilityThreshold,
		HubFunctions:      make([]models.DependencyMetrics, 0),
		UtilityFunctions:  make([]models.DependencyMetrics, 0),
		IsolatedFunctions: make([]models.DependencyMetrics, 0),
	}
	if len(metrics) == 0 {
		return stats
	}

	var totalIn, totalOut int
	var hubs, utilities []models.DependencyMetrics
	for _, m := range metrics {
		totalIn += m.FanIn
		totalOut += m.FanOut
		stats.MaxFanIn = max(stats.MaxFanIn, m.FanIn)
		stats.MaxFanOut = max(stats.MaxFanOut, m.FanOut)
		stats.MaxDepth = max(stats.MaxDepth, m.DepthFromEntry)
		if !m.IsReachable() {
			stats.UnreachableCount++
		}
		if m.IsCyclic {
			stats.CyclicCount++
		}
		if m.FanIn >= opts.HubThreshold {
			hubs = append(hubs, m)
		}
		if m.FanOut >= opts.UtilityThreshold {
			utilities = append(utilities, m)
		}
		if m.IsIsolated() {
			stats.IsolatedFunctions = append(stats.IsolatedFunctions, m)
		}
	}
	stats.AvgFanIn = float64(totalIn) / float64(len(metrics))
	stats.AvgFanOut = float64(totalOut) / float64(len(metrics))

	sortByCount(hubs, func(m models.DependencyMetrics) int { return m.FanIn })
	sortByCount(utilities, func(m models.DependencyMetrics) int { return m.FanOut })
	sort.Slice(stats.IsolatedFunctions, func(i, j int) bool {
		return stats.IsolatedFunctions[i].FunctionID < stats.IsolatedFunctions[j].FunctionID
	})

	stats.TotalHubCount = len(hubs)
	stats.TotalUtilityCount = len(utilities)
	stats.HubFunctions = append(stats.HubFunctions, capped(hubs, opts.MaxHubFunctions)...)
	stats.UtilityFunctions = append(stats.UtilityFunctions, capped(utilities, opts.MaxUtilityFunctions)...)
	return stats
}

func withDefaults(opts StatsOptions) StatsOptions {
	def := DefaultStatsOptions()
	if opts.HubThreshold <= 0 {
		opts.HubThreshold = def.HubThreshold
	}
	if opts.UtilityThreshold <= 0 {
		opts.UtilityThreshold = def.UtilityThreshold
	}
	if opts.MaxHubFunctions <= 0 {
		opts.MaxHubFunctions = def.MaxHubFunctions
	}
	if opts.MaxUtilityFunctions <= 0 {
		opts.MaxUtilityFunctions = def.MaxUtilityFunctions
	}
	return opts
}

// sortByCount orders descending by count, ties by function ID.
func sortByCount(list []models.DependencyMetrics, count func(models.DependencyMetrics) int) {
	sort.SliceStable(list, func(i, j int) bool {
		ci, cj := count(list[i]), count(list[j])
		if ci != cj {
			return ci > cj
		}
		return list[i].FunctionID < list[j].FunctionID
	})
}

func capped(list []models.DependencyMetrics, n int) []models.DependencyMetrics {
	if len(list) > n {
		return list[:n]
	}
	return list
}
