package graph

import "sort"

// VertexID names a vertex. Callers use their own domain identifiers
// (network names, in the planner's case).
type VertexID string

// Edge is one arc of an undirected weighted multigraph. Data carries a
// caller-supplied payload (e.g. the *trunk.Trunk backing a planning-graph
// edge) through the routing algorithms unchanged.
type Edge struct {
	ID       int
	From, To VertexID
	Weight   float64
	Capacity float64
	Data     any
}

func (e Edge) other(v VertexID) VertexID {
	if e.From == v {
		return e.To
	}
	return e.From
}

// Less is a total order over edges, used to break ties deterministically
// so that plans are reproducible. The default orders by ID ascending.
type Less func(a, b Edge) bool

func byID(a, b Edge) bool { return a.ID < b.ID }

// Graph is an undirected weighted multigraph with per-edge capacity.
type Graph struct {
	metric   Metric
	less     Less
	vertices map[VertexID]struct{}
	adj      map[VertexID][]int
	edges    []Edge
	present  []bool
}

// New creates an empty graph using the given metric for path costs and
// the default (by-ID) tie-break order.
func New(metric Metric) *Graph {
	return &Graph{
		metric:   metric,
		less:     byID,
		vertices: make(map[VertexID]struct{}),
		adj:      make(map[VertexID][]int),
	}
}

// SetTiebreak installs a custom total order over edges, used wherever two
// candidate edges have equal cost. Planners use this to prefer the trunk
// with the most remaining capacity, then the lowest trunk id (§4.5).
func (g *Graph) SetTiebreak(less Less) { g.less = less }

func (g *Graph) AddVertex(v VertexID) {
	if _, ok := g.vertices[v]; ok {
		return
	}
	g.vertices[v] = struct{}{}
	g.adj[v] = nil
}

// AddEdge adds an undirected edge and returns its ID.
func (g *Graph) AddEdge(from, to VertexID, weight, capacity float64, data any) int {
	g.AddVertex(from)
	g.AddVertex(to)
	id := len(g.edges)
	e := Edge{ID: id, From: from, To: to, Weight: weight, Capacity: capacity, Data: data}
	g.edges = append(g.edges, e)
	g.present = append(g.present, true)
	g.adj[from] = append(g.adj[from], id)
	g.adj[to] = append(g.adj[to], id)
	return id
}

func (g *Graph) Vertices() []VertexID {
	out := make([]VertexID, 0, len(g.vertices))
	for v := range g.vertices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for i, e := range g.edges {
		if g.present[i] {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) Edge(id int) Edge { return g.edges[id] }

func (g *Graph) HasEdge(id int) bool { return id < len(g.present) && g.present[id] }

func (g *Graph) EdgesAt(v VertexID) []Edge {
	ids := g.adj[v]
	out := make([]Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.edges[id])
	}
	return out
}

func (g *Graph) HasVertex(v VertexID) bool {
	_, ok := g.vertices[v]
	return ok
}

// Filter returns a new graph containing only edges for which keep
// returns true. Isolated vertices present in the source graph are kept.
func (g *Graph) Filter(keep func(Edge) bool) *Graph {
	out := New(g.metric)
	out.SetTiebreak(g.less)
	for v := range g.vertices {
		out.AddVertex(v)
	}
	for _, e := range g.edges {
		if !keep(e) {
			continue
		}
		out.AddEdgeWithID(e)
	}
	return out
}

// AddEdgeWithID re-inserts an edge preserving its original ID, used when
// building derived graphs (filtering, substitution) that must keep edge
// identity stable for Data lookups.
func (g *Graph) AddEdgeWithID(e Edge) {
	g.AddVertex(e.From)
	g.AddVertex(e.To)
	for len(g.edges) <= e.ID {
		g.edges = append(g.edges, Edge{})
		g.present = append(g.present, false)
	}
	g.edges[e.ID] = e
	g.present[e.ID] = true
	g.adj[e.From] = append(g.adj[e.From], e.ID)
	if e.To != e.From {
		g.adj[e.To] = append(g.adj[e.To], e.ID)
	}
}

func (g *Graph) Metric() Metric { return g.metric }
