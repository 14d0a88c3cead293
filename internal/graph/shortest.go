package graph

import "sort"

// ShortestPaths holds, per reachable vertex, its accumulated cost from the
// source and the edge used to reach it (its "predecessor edge").
type ShortestPaths struct {
	Source   VertexID
	Dist     map[VertexID]float64
	PredEdge map[VertexID]int // edge id used to reach this vertex
	PredVert map[VertexID]VertexID
}

func (sp *ShortestPaths) Reachable(v VertexID) bool {
	_, ok := sp.Dist[v]
	return ok
}

// PathEdges returns the sequence of edge IDs from Source to v, in order.
func (sp *ShortestPaths) PathEdges(v VertexID) []int {
	if !sp.Reachable(v) || v == sp.Source {
		return nil
	}
	var edges []int
	for cur := v; cur != sp.Source; {
		eid, ok := sp.PredEdge[cur]
		if !ok {
			return nil
		}
		edges = append(edges, eid)
		cur = sp.PredVert[cur]
	}
	// reverse into source->v order
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return edges
}

// ShortestPaths computes shortest paths from source to every other vertex
// by iterative relaxation until no distance improves, per §4.1.
// Disconnected vertices are left out of Dist (unreachable). Ties between
// equally-good edges at a relaxation step are broken by the graph's
// installed tie-break order, so results are reproducible.
func (g *Graph) ShortestPaths(source VertexID) *ShortestPaths {
	sp := &ShortestPaths{
		Source:   source,
		Dist:     map[VertexID]float64{source: 0},
		PredEdge: map[VertexID]int{},
		PredVert: map[VertexID]VertexID{},
	}
	if !g.HasVertex(source) {
		return sp
	}

	vertices := g.Vertices()
	for pass := 0; pass < len(vertices); pass++ {
		changed := false
		for _, v := range vertices {
			dv, ok := sp.Dist[v]
			if !ok {
				continue
			}
			for _, e := range orderedEdges(g.EdgesAt(v), g.less) {
				u := e.other(v)
				cand := g.metric.Accumulate(dv, e.Weight)
				cur, known := sp.Dist[u]
				better := !known
				if known {
					switch c := g.metric.Compare(cand, cur); {
					case c < 0:
						better = true
					case c == 0:
						better = improvesTiebreak(g, sp, u, e)
					}
				}
				if better {
					sp.Dist[u] = cand
					sp.PredEdge[u] = e.ID
					sp.PredVert[u] = v
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return sp
}

// improvesTiebreak decides, for an equal-cost relaxation candidate,
// whether the new edge e should replace the vertex's current predecessor
// edge under the graph's tie-break order.
func improvesTiebreak(g *Graph, sp *ShortestPaths, u VertexID, e Edge) bool {
	curID, ok := sp.PredEdge[u]
	if !ok {
		return true
	}
	cur := g.Edge(curID)
	return g.less(e, cur)
}

func orderedEdges(edges []Edge, less Less) []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
