package reachability

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// Graph is a dense-index view of a call graph. Node indices follow the
// lexicographic order of function IDs, so the smallest index in a cycle is
// also its smallest ID.
type Graph struct {
	ids      []string
	index    map[string]uint32
	out      [][]uint32
	in       [][]uint32
	selfLoop *roaring.Bitmap
}

// BuildGraph builds a graph from internal edges. External edges (empty
// callee) are ignored. extraNodes are added even when they have no edges.
func BuildGraph(edges []models.CallEdge, extraNodes ...string) *Graph {
	seen := make(map[string]struct{}, len(edges)+len(extraNodes))
	for _, id := range extraNodes {
		seen[id] = struct{}{}
	}
	for _, e := range edges {
		if !e.IsInternal() {
			continue
		}
		seen[e.CallerFunctionID] = struct{}{}
		seen[e.CalleeFunctionID] = struct{}{}
	}

	g := &Graph{
		ids:      make([]string, 0, len(seen)),
		index:    make(map[string]uint32, len(seen)),
		selfLoop: roaring.New(),
	}
	for id := range seen {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)
	for i, id := range g.ids {
		g.index[id] = uint32(i)
	}

	g.out = make([][]uint32, len(g.ids))
	g.in = make([][]uint32, len(g.ids))
	adj := make([]*roaring.Bitmap, len(g.ids))
	for _, e := range edges {
		if !e.IsInternal() {
			continue
		}
		from := g.index[e.CallerFunctionID]
		to := g.index[e.CalleeFunctionID]
		if from == to {
			g.selfLoop.Add(from)
			continue
		}
		if adj[from] == nil {
			adj[from] = roaring.New()
		}
		if adj[from].CheckedAdd(to) {
			g.in[to] = append(g.in[to], from)
		}
	}
	for i, bm := range adj {
		if bm != nil {
			g.out[i] = bm.ToArray()
		}
	}
	for i := range g.in {
		sort.Slice(g.in[i], func(a, b int) bool { return g.in[i][a] < g.in[i][b] })
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// ID returns the function ID of node i.
func (g *Graph) ID(i uint32) string {
	return g.ids[i]
}

// Index returns the dense index of a function ID.
func (g *Graph) Index(id string) (uint32, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Successors returns the distinct callees of node i in ascending order,
// excluding self loops.
func (g *Graph) Successors(i uint32) []uint32 {
	return g.out[i]
}

// Predecessors returns the distinct callers of node i in ascending order,
// excluding self loops.
func (g *Graph) Predecessors(i uint32) []uint32 {
	return g.in[i]
}

// HasSelfLoop reports whether node i calls itself.
func (g *Graph) HasSelfLoop(i uint32) bool {
	return g.selfLoop.Contains(i)
}

// Reachable returns the bitmap of nodes reachable from the given IDs,
// including the start nodes that exist in the graph.
func (g *Graph) Reachable(startIDs []string) *roaring.Bitmap {
	visited := roaring.New()
	queue := make([]uint32, 0, len(startIDs))
	for _, id := range startIDs {
		if i, ok := g.index[id]; ok && visited.CheckedAdd(i) {
			queue = append(queue, i)
		}
	}

	// index-based queue avoids reslicing
	for head := 0; head < len(queue); head++ {
		for _, next := range g.out[queue[head]] {
			if visited.CheckedAdd(next) {
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// Distances returns the BFS distance of every reachable node from the
// nearest start node. Unreachable nodes are absent from the map.
func (g *Graph) Distances(startIDs []string) map[string]int {
	dist := make([]int, len(g.ids))
	for i := range dist {
		dist[i] = -1
	}
	queue := make([]uint32, 0, len(startIDs))
	for _, id := range startIDs {
		if i, ok := g.index[id]; ok && dist[i] < 0 {
			dist[i] = 0
			queue = append(queue, i)
		}
	}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, next := range g.out[cur] {
			if dist[next] < 0 {
				dist[next] = dist[cur] + 1
				queue = append(queue, next)
			}
		}
	}

	result := make(map[string]int, len(queue))
	for _, i := range queue {
		result[g.ids[i]] = dist[i]
	}
	return result
}

// StronglyConnected returns the strongly connected components with more
// than one node, each sorted ascending. Components are ordered by their
// smallest node.
func (g *Graph) StronglyConnected() [][]uint32 {
	dg := simple.NewDirectedGraph()
	for i := range g.ids {
		dg.AddNode(simple.Node(int64(i)))
	}
	for from, succ := range g.out {
		for _, to := range succ {
			dg.SetEdge(simple.Edge{F: simple.Node(int64(from)), T: simple.Node(int64(to))})
		}
	}

	var components [][]uint32
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		members := make([]uint32, 0, len(scc))
		for _, n := range scc {
			members = append(members, uint32(n.ID()))
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool {
		return components[i][0] < components[j][0]
	})
	return components
}
