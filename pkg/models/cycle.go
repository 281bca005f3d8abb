package models

// CycleType classifies a cycle by its length.
type CycleType string

const (
	CycleRecursive CycleType = "RECURSIVE"
	CycleMutual    CycleType = "MUTUAL"
	CycleComplex   CycleType = "COMPLEX"
)

// String returns the string representation.
func (t CycleType) String() string {
	return string(t)
}

// CycleTypeForLength returns the cycle type implied by the number of nodes.
func CycleTypeForLength(n int) CycleType {
	switch {
	case n <= 1:
		return CycleRecursive
	case n <= 3:
		return CycleMutual
	default:
		return CycleComplex
	}
}

// Importance ranks how severely a cycle violates architectural boundaries.
type Importance string

const (
	ImportanceCritical Importance = "CRITICAL"
	ImportanceHigh     Importance = "HIGH"
	ImportanceMedium   Importance = "MEDIUM"
	ImportanceLow      Importance = "LOW"
)

// String returns the string representation.
func (i Importance) String() string {
	return string(i)
}

// Rank returns a numeric weight, higher is more severe.
func (i Importance) Rank() int {
	switch i {
	case ImportanceCritical:
		return 4
	case ImportanceHigh:
		return 3
	case ImportanceMedium:
		return 2
	case ImportanceLow:
		return 1
	default:
		return 0
	}
}

// ClassifiedCycle is a simple cycle annotated with boundary and severity data.
type ClassifiedCycle struct {
	ID                   string     `json:"id" toon:"id"`
	Nodes                []string   `json:"nodes" toon:"nodes"`
	FunctionNames        []string   `json:"function_names" toon:"function_names"`
	Type                 CycleType  `json:"type" toon:"type"`
	Importance           Importance `json:"importance" toon:"importance"`
	Score                float64    `json:"score" toon:"score"`
	CrossFile            bool       `json:"cross_file" toon:"cross_file"`
	CrossModule          bool       `json:"cross_module" toon:"cross_module"`
	CrossLayer           bool       `json:"cross_layer" toon:"cross_layer"`
	FileCount            int        `json:"file_count" toon:"file_count"`
	ModuleCount          int        `json:"module_count" toon:"module_count"`
	LayerCount           int        `json:"layer_count" toon:"layer_count"`
	CyclomaticComplexity int        `json:"cyclomatic_complexity" toon:"cyclomatic_complexity"`
	AverageComplexity    float64    `json:"average_complexity" toon:"average_complexity"`
	Recommendations      []string   `json:"recommendations" toon:"recommendations"`
}

// Size returns the number of functions in the cycle.
func (c ClassifiedCycle) Size() int {
	return len(c.Nodes)
}
