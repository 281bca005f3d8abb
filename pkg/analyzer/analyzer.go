package analyzer

import (
	"sort"

	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// FunctionIndex gives O(1) lookup of the functions of one snapshot.
type FunctionIndex struct {
	byID map[string]*models.FunctionInfo
	ids  []string
}

// NewFunctionIndex indexes functions by ID. Later duplicates are ignored.
func NewFunctionIndex(functions []models.FunctionInfo) *FunctionIndex {
	idx := &FunctionIndex{
		byID: make(map[string]*models.FunctionInfo, len(functions)),
		ids:  make([]string, 0, len(functions)),
	}
	for i := range functions {
		fn := &functions[i]
		if _, exists := idx.byID[fn.ID]; exists {
			continue
		}
		idx.byID[fn.ID] = fn
		idx.ids = append(idx.ids, fn.ID)
	}
	sort.Strings(idx.ids)
	return idx
}

// Get returns the function with the given ID.
func (idx *FunctionIndex) Get(id string) (*models.FunctionInfo, bool) {
	fn, ok := idx.byID[id]
	return fn, ok
}

// Has reports whether id is a known function.
func (idx *FunctionIndex) Has(id string) bool {
	_, ok := idx.byID[id]
	return ok
}

// IDs returns all function IDs in ascending order.
func (idx *FunctionIndex) IDs() []string {
	return idx.ids
}

// Len returns the number of indexed functions.
func (idx *FunctionIndex) Len() int {
	return len(idx.ids)
}

// CheckEdges splits edges into those whose endpoints exist and a list of
// integrity errors for the rest. External edges (no callee) are valid as
// long as the caller exists.
func (idx *FunctionIndex) CheckEdges(edges []models.CallEdge) ([]models.CallEdge, []*DataIntegrityError) {
	valid := make([]models.CallEdge, 0, len(edges))
	var problems []*DataIntegrityError
	for _, e := range edges {
		if !idx.Has(e.CallerFunctionID) {
			problems = append(problems, &DataIntegrityError{
				CallerID: e.CallerFunctionID,
				CalleeID: e.CalleeFunctionID,
				Reason:   "caller does not exist",
			})
			continue
		}
		if e.CalleeFunctionID != "" && !idx.Has(e.CalleeFunctionID) {
			problems = append(problems, &DataIntegrityError{
				CallerID: e.CallerFunctionID,
				CalleeID: e.CalleeFunctionID,
				Reason:   "callee does not exist",
			})
			continue
		}
		valid = append(valid, e)
	}
	return valid, problems
}
