package depmetrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiramei/funcqc-sub009/pkg/models"
)

func edge(from, to string) models.CallEdge {
	return models.CallEdge{CallerFunctionID: from, CalleeFunctionID: to, CalleeName: to, CallType: models.CallDirect}
}

func funcs(ids ...string) []models.FunctionInfo {
	out := make([]models.FunctionInfo, len(ids))
	for i, id := range ids {
		out[i] = models.FunctionInfo{ID: id, Name: id, FilePath: "src/a.ts"}
	}
	return out
}

func TestCalculateMetrics(t *testing.T) {
	fns := funcs("main", "a", "b", "c", "lonely")
	edges := []models.CallEdge{
		edge("main", "a"),
		edge("main", "b"),
		edge("a", "b"),
		edge("b", "c"),
		{CallerFunctionID: "c", CalleeName: "fetch", CallType: models.CallExternal},
	}
	entries := map[string]bool{"main": true}
	cyclic := map[string]bool{"c": true}

	metrics := New().CalculateMetrics(fns, edges, entries, cyclic)
	require.Len(t, metrics, 5)

	byID := map[string]models.DependencyMetrics{}
	for i, m := range metrics {
		assert.Equal(t, fns[i].ID, m.FunctionID, "output follows input order")
		byID[m.FunctionID] = m
	}

	assert.Equal(t, 0, byID["main"].FanIn)
	assert.Equal(t, 2, byID["main"].FanOut)
	assert.Equal(t, 0, byID["main"].DepthFromEntry)
	assert.True(t, byID["main"].IsEntryPoint)

	assert.Equal(t, 2, byID["b"].FanIn)
	assert.Equal(t, 1, byID["b"].DepthFromEntry)

	assert.Equal(t, 1, byID["c"].FanOut, "external edges count toward fan-out")
	assert.Equal(t, 2, byID["c"].DepthFromEntry)
	assert.True(t, byID["c"].IsCyclic)

	assert.Equal(t, -1, byID["lonely"].DepthFromEntry)
	assert.True(t, byID["lonely"].IsIsolated())
}

func TestGenerateStats(t *testing.T) {
	var fns []models.FunctionInfo
	var edges []models.CallEdge
	fns = append(fns, funcs("hub", "util", "iso", "entry")...)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("c%d", i)
		fns = append(fns, models.FunctionInfo{ID: id, Name: id})
		edges = append(edges, edge(id, "hub"))
		edges = append(edges, edge("util", id))
	}

	c := New()
	metrics := c.CalculateMetrics(fns, edges, map[string]bool{"entry": true}, nil)
	stats := c.GenerateStats(metrics, DefaultStatsOptions())

	assert.Equal(t, len(fns), stats.TotalFunctions)
	require.Len(t, stats.HubFunctions, 1)
	assert.Equal(t, "hub", stats.HubFunctions[0].FunctionID)
	require.Len(t, stats.UtilityFunctions, 1)
	assert.Equal(t, "util", stats.UtilityFunctions[0].FunctionID)
	require.Len(t, stats.IsolatedFunctions, 1)
	assert.Equal(t, "iso", stats.IsolatedFunctions[0].FunctionID)
	assert.Equal(t, 6, stats.MaxFanIn)
	assert.Equal(t, 6, stats.MaxFanOut)
	assert.InDelta(t, 12.0/10.0, stats.AvgFanIn, 1e-9)
	assert.Equal(t, len(fns)-1, stats.UnreachableCount)
}

func TestGenerateStatsCapsAndTieBreaks(t *testing.T) {
	metrics := []models.DependencyMetrics{
		{FunctionID: "b", FanIn: 7},
		{FunctionID: "a", FanIn: 7},
		{FunctionID: "c", FanIn: 9},
		{FunctionID: "d", FanIn: 5},
	}
	stats := New().GenerateStats(metrics, StatsOptions{HubThreshold: 5, MaxHubFunctions: 2})

	require.Len(t, stats.HubFunctions, 2)
	assert.Equal(t, "c", stats.HubFunctions[0].FunctionID)
	assert.Equal(t, "a", stats.HubFunctions[1].FunctionID)
	assert.Equal(t, 4, stats.TotalHubCount)
}

func TestGenerateStatsEmpty(t *testing.T) {
	stats := New().GenerateStats(nil, StatsOptions{})
	assert.Equal(t, 0, stats.TotalFunctions)
	assert.NotNil(t, stats.HubFunctions)
	assert.Equal(t, 5, stats.HubThreshold)
}

func TestMetricsDeterministic(t *testing.T) {
	fns := funcs("a", "b", "c")
	edges := []models.CallEdge{edge("a", "b"), edge("b", "c"), edge("c", "a")}
	c := New()
	first := c.GenerateStats(c.CalculateMetrics(fns, edges, map[string]bool{"a": true}, nil), DefaultStatsOptions())
	for i := 0; i < 3; i++ {
		again := c.GenerateStats(c.CalculateMetrics(fns, edges, map[string]bool{"a": true}, nil), DefaultStatsOptions())
		assert.Equal(t, first, again)
	}
}
