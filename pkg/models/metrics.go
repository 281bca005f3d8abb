package models

// DependencyMetrics holds per-function call graph metrics.
type DependencyMetrics struct {
	FunctionID     string `json:"function_id" toon:"function_id"`
	FunctionName   string `json:"function_name" toon:"function_name"`
	FilePath       string `json:"file_path" toon:"file_path"`
	FanIn          int    `json:"fan_in" toon:"fan_in"`
	FanOut         int    `json:"fan_out" toon:"fan_out"`
	DepthFromEntry int    `json:"depth_from_entry" toon:"depth_from_entry"` // -1 if unreachable
	IsCyclic       bool   `json:"is_cyclic" toon:"is_cyclic"`
	IsEntryPoint   bool   `json:"is_entry_point" toon:"is_entry_point"`
}

// IsReachable reports whether any entry point reaches the function.
func (m DependencyMetrics) IsReachable() bool {
	return m.DepthFromEntry >= 0
}

// IsIsolated reports whether the function has no edges and is not an entry point.
func (m DependencyMetrics) IsIsolated() bool {
	return m.FanIn == 0 && m.FanOut == 0 && !m.IsEntryPoint
}

// DependencyStats aggregates DependencyMetrics over a snapshot.
type DependencyStats struct {
	TotalFunctions    int                 `json:"total_functions" toon:"total_functions"`
	AvgFanIn          float64             `json:"avg_fan_in" toon:"avg_fan_in"`
	AvgFanOut         float64             `json:"avg_fan_out" toon:"avg_fan_out"`
	MaxFanIn          int                 `json:"max_fan_in" toon:"max_fan_in"`
	MaxFanOut         int                 `json:"max_fan_out" toon:"max_fan_out"`
	MaxDepth          int                 `json:"max_depth" toon:"max_depth"`
	UnreachableCount  int                 `json:"unreachable_count" toon:"unreachable_count"`
	CyclicCount       int                 `json:"cyclic_count" toon:"cyclic_count"`
	HubFunctions      []DependencyMetrics `json:"hub_functions" toon:"hub_functions"`
	UtilityFunctions  []DependencyMetrics `json:"utility_functions" toon:"utility_functions"`
	IsolatedFunctions []DependencyMetrics `json:"isolated_functions" toon:"isolated_functions"`
	HubThreshold      int                 `json:"hub_threshold" toon:"hub_threshold"`
	UtilityThreshold  int                 `json:"utility_threshold" toon:"utility_threshold"`
	TotalHubCount     int                 `json:"total_hub_count" toon:"total_hub_count"`
	TotalUtilityCount int                 `json:"total_utility_count" toon:"total_utility_count"`
}
