package graph

import (
	"errors"
	"sort"
)

// ErrUnroutable is returned when some vertex in a requested goal set is
// unreachable from the others under the current capacity gate.
var ErrUnroutable = errors.New("unroutable: goal set not connected at requested capacity")

// GoalSetSpanningTree produces a subtree connecting all of terminals,
// approximately minimising total edge weight, subject to every used edge
// having capacity >= minCapacity. This is the standard 2-approximation to
// Steiner tree (§4.1):
//
//  1. filter out edges with capacity < minCapacity
//  2. shortest paths from each terminal give a distance matrix over terminals
//  3. build the metric closure on the terminals, take its MST
//  4. substitute each metric-closure edge with its underlying path
//  5. reduce the result to a tree (drop redundant edges)
//
// Edges in the returned tree carry their original IDs and Data, so a
// caller can map back to the domain object (a trunk) each edge came from.
func (g *Graph) GoalSetSpanningTree(terminals []VertexID, minCapacity float64) ([]Edge, error) {
	uniqueTerminals := dedupVertices(terminals)
	if len(uniqueTerminals) <= 1 {
		return nil, nil
	}

	filtered := g.Filter(func(e Edge) bool { return e.Capacity >= minCapacity })

	paths := make(map[VertexID]*ShortestPaths, len(uniqueTerminals))
	for _, t := range uniqueTerminals {
		sp := filtered.ShortestPaths(t)
		for _, other := range uniqueTerminals {
			if other == t {
				continue
			}
			if !sp.Reachable(other) {
				return nil, ErrUnroutable
			}
		}
		paths[t] = sp
	}

	closure := New(g.metric)
	for i := 0; i < len(uniqueTerminals); i++ {
		for j := i + 1; j < len(uniqueTerminals); j++ {
			ti, tj := uniqueTerminals[i], uniqueTerminals[j]
			closure.AddEdge(ti, tj, paths[ti].Dist[tj], minCapacity, nil)
		}
	}
	closureTree := closure.MST()

	usedEdges := make(map[int]struct{})
	for _, ce := range closureTree {
		for _, eid := range paths[ce.From].PathEdges(ce.To) {
			usedEdges[eid] = struct{}{}
		}
	}

	raw := New(g.metric)
	raw.SetTiebreak(g.less)
	for eid := range usedEdges {
		raw.AddEdgeWithID(filtered.Edge(eid))
	}

	// Reduce to a tree: the union of shortest paths may revisit the same
	// vertex via more than one path, introducing cycles or redundant
	// parallel coverage. A second MST pass over the union strips those
	// while preserving connectivity of every vertex the paths touched
	// (which include all of uniqueTerminals).
	tree := raw.MST()
	return tree, nil
}

func dedupVertices(vs []VertexID) []VertexID {
	seen := make(map[VertexID]struct{}, len(vs))
	out := make([]VertexID, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
