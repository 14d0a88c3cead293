package graph

import "container/heap"

// pqItem is a candidate edge crossing the frontier of the tree under
// construction, keyed by its weight with the graph's tie-break order as a
// secondary key.
type pqItem struct {
	edge Edge
	to   VertexID
}

type prioQueue struct {
	items []pqItem
	less  Less
	g     *Graph
}

func (q *prioQueue) Len() int { return len(q.items) }
func (q *prioQueue) Less(i, j int) bool {
	cmp := q.g.metric.Compare(q.items[i].edge.Weight, q.items[j].edge.Weight)
	if cmp != 0 {
		return cmp < 0
	}
	return q.less(q.items[i].edge, q.items[j].edge)
}
func (q *prioQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *prioQueue) Push(x any)    { q.items = append(q.items, x.(pqItem)) }
func (q *prioQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}

// MST computes a minimum spanning tree over all vertices reachable from
// an arbitrary (but deterministic) starting vertex, using Prim's
// algorithm with a binary heap keyed by edge cost and the graph's
// tie-break order. If the graph is disconnected, the result spans only
// the component containing the start vertex.
func (g *Graph) MST() []Edge {
	vertices := g.Vertices()
	if len(vertices) == 0 {
		return nil
	}
	start := vertices[0]
	return g.mstFrom(start, nil)
}

// mstFrom runs Prim starting at start, restricted to vertices in
// allowed (nil means all vertices in the graph).
func (g *Graph) mstFrom(start VertexID, allowed map[VertexID]struct{}) []Edge {
	inTree := make(map[VertexID]struct{})
	var tree []Edge

	pq := &prioQueue{less: g.less, g: g}
	heap.Init(pq)

	visit := func(v VertexID) {
		inTree[v] = struct{}{}
		for _, e := range g.EdgesAt(v) {
			u := e.other(v)
			if allowed != nil {
				if _, ok := allowed[u]; !ok {
					continue
				}
			}
			if _, done := inTree[u]; done {
				continue
			}
			heap.Push(pq, pqItem{edge: e, to: u})
		}
	}
	visit(start)

	for pq.Len() > 0 {
		it := heap.Pop(pq).(pqItem)
		if _, done := inTree[it.to]; done {
			continue
		}
		tree = append(tree, it.edge)
		visit(it.to)
	}
	return tree
}
