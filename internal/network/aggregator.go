package network

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/graph"
	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/trunk"
)

// DefaultMaxReplan is the recommended replan bound from §4.5 step 5.
const DefaultMaxReplan = 3

type externalTerminal struct {
	name    model.TerminalName
	backing model.Terminal
}

// Aggregator is a composite network built from inferior networks and the
// trunks between them (§3, §4.5). Its mutex guards trunk allocations, the
// service table, and planning, per §5; inferior networks and terminal
// aliasing are managed through their own lighter-weight registries.
type Aggregator struct {
	name model.NetworkName
	log  zerolog.Logger

	terms     *registry[model.TerminalName, externalTerminal]
	inferiors *registry[model.NetworkName, Network]

	mu        sync.Mutex
	trunks    map[trunk.ID]*trunk.Trunk
	trunkSeq  trunk.ID
	svcs      map[model.ServiceID]*aggregatorService
	svcSeq    atomic.Uint64
	maxReplan int
}

func NewAggregator(name model.NetworkName, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		name:      name,
		log:       log.With().Str("component", "aggregator").Str("network", string(name)).Logger(),
		terms:     newRegistry[model.TerminalName, externalTerminal](),
		inferiors: newRegistry[model.NetworkName, Network](),
		trunks:    make(map[trunk.ID]*trunk.Trunk),
		svcs:      make(map[model.ServiceID]*aggregatorService),
		maxReplan: DefaultMaxReplan,
	}
}

func (a *Aggregator) Name() model.NetworkName { return a.name }

// AddInferior registers an inferior network by name. The reference is weak
// (§3 Ownership): the aggregator only stores the Network handle, the
// inferior's lifetime is independent.
func (a *Aggregator) AddInferior(net Network) {
	a.inferiors.put(net.Name(), net)
}

// AddTerminal registers an external alias backed by an internal terminal of
// a named inferior network (§3 Terminal, §6 add_terminal).
func (a *Aggregator) AddTerminal(name model.TerminalName, backing model.Terminal) error {
	if a.terms.has(name) {
		return model.NewError(model.KindTerminalExists, string(name))
	}
	if backing.Network == a.name {
		return model.NewError(model.KindOwnTerminal, backing.String())
	}
	inferior, ok := a.inferiors.get(backing.Network)
	if !ok {
		return model.NewError(model.KindUnknownSubnetwork, string(backing.Network))
	}
	if _, err := inferior.GetTerminal(backing.Name); err != nil {
		return model.NewError(model.KindUnknownTerminal, backing.String())
	}
	a.terms.put(name, externalTerminal{name: name, backing: backing})
	return nil
}

func (a *Aggregator) GetTerminal(name model.TerminalName) (model.Terminal, error) {
	if !a.terms.has(name) {
		return model.Terminal{}, model.NewError(model.KindUnknownTerminal, string(name))
	}
	return model.Terminal{Network: a.name, Name: name}, nil
}

func (a *Aggregator) ListTerminals() []model.TerminalName { return a.terms.keys() }

// RemoveTerminal fails TERMINAL_IN_USE if any non-terminal-state service
// still references the alias.
func (a *Aggregator) RemoveTerminal(name model.TerminalName) error {
	if !a.terms.has(name) {
		return model.NewError(model.KindUnknownTerminal, string(name))
	}
	a.mu.Lock()
	for _, svc := range a.svcs {
		if svc.Status().Terminal() {
			continue
		}
		for _, ep := range svc.externalEndpoints() {
			if ep.Terminal.Name == name {
				a.mu.Unlock()
				return model.NewError(model.KindTerminalInUse, string(name))
			}
		}
	}
	a.mu.Unlock()
	a.terms.delete(name)
	return nil
}

// AddTrunk declares a trunk between two internal terminals of two inferior
// networks (§6 add_trunk). Both terminals must belong to known inferiors
// and neither may already participate in a trunk.
func (a *Aggregator) AddTrunk(t1 model.Terminal, t2 model.Terminal, delay float64, up, down model.Bandwidth, labels []model.Label) (*trunk.Trunk, error) {
	for _, t := range []model.Terminal{t1, t2} {
		inferior, ok := a.inferiors.get(t.Network)
		if !ok {
			return nil, model.NewError(model.KindUnknownSubnetwork, string(t.Network))
		}
		if _, err := inferior.GetTerminal(t.Name); err != nil {
			return nil, model.NewError(model.KindUnknownTerminal, t.String())
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.trunks {
		if existing.TerminalA == t1 || existing.TerminalB == t1 || existing.TerminalA == t2 || existing.TerminalB == t2 {
			return nil, model.NewError(model.KindTerminalInUse, fmt.Sprintf("%s/%s", t1, t2))
		}
	}

	a.trunkSeq++
	tr := trunk.New(a.trunkSeq, t1, t2, delay, up, down, labels)
	a.trunks[tr.ID] = tr
	return tr, nil
}

// FindTrunk returns the trunk with term as one of its two terminals.
func (a *Aggregator) FindTrunk(term model.Terminal) (*trunk.Trunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tr := range a.trunks {
		if _, ok := tr.SideOf(term); ok {
			return tr, nil
		}
	}
	return nil, model.NewError(model.KindUnknownTrunk, term.String())
}

// RemoveTrunk decommissions and removes the trunk bound to term; fails
// TERMINAL_IN_USE if it has live allocations (§9 Open Question decision).
func (a *Aggregator) RemoveTrunk(term model.Terminal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, tr := range a.trunks {
		if _, ok := tr.SideOf(term); !ok {
			continue
		}
		if err := tr.Decommission(); err != nil {
			return err
		}
		delete(a.trunks, id)
		return nil
	}
	return model.NewError(model.KindUnknownTrunk, term.String())
}

func (a *Aggregator) NewService() Service {
	id := model.ServiceID(a.svcSeq.Add(1))
	svc := newAggregatorService(id, a, a.log)
	a.mu.Lock()
	a.svcs[id] = svc
	a.mu.Unlock()
	return svc
}

func (a *Aggregator) AwaitService(id model.ServiceID) (Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	svc, ok := a.svcs[id]
	if !ok {
		return nil, model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", id))
	}
	return svc, nil
}

func (a *Aggregator) ListServices() []model.ServiceID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ServiceID, 0, len(a.svcs))
	for id := range a.svcs {
		out = append(out, id)
	}
	return out
}

// buildPlanningGraph constructs the vertex/edge view used by the planner
// (§4.5 step 2): vertices are every registered inferior network; edges are
// trunks with enough remaining capacity in both directions, tagged with
// the tie-break order "most remaining capacity, then lowest trunk id".
// Must be called with a.mu held.
func (a *Aggregator) buildPlanningGraph(bandwidth model.Bandwidth) *graph.Graph {
	g := graph.New(graph.DelayMetric)
	for _, name := range a.inferiors.keys() {
		g.AddVertex(graph.VertexID(name))
	}
	for _, tr := range a.trunks {
		if tr.Decommissioned() {
			continue
		}
		if tr.TerminalA.Network == tr.TerminalB.Network {
			continue // loop edge, resolved locally by that network
		}
		remaining := tr.RemainingUp()
		if tr.RemainingDown() < remaining {
			remaining = tr.RemainingDown()
		}
		if remaining < bandwidth {
			continue
		}
		g.AddEdge(graph.VertexID(tr.TerminalA.Network), graph.VertexID(tr.TerminalB.Network), tr.Delay, float64(remaining), tr)
	}
	g.SetTiebreak(func(x, y graph.Edge) bool {
		if x.Capacity != y.Capacity {
			return x.Capacity > y.Capacity
		}
		return x.Data.(*trunk.Trunk).ID < y.Data.(*trunk.Trunk).ID
	})
	return g
}

// resolvedEndpoint is an external endpoint rewritten to its backing
// inferior-network terminal (§4.5 step 1).
type resolvedEndpoint struct {
	network  model.NetworkName
	terminal model.Terminal
	label    model.Label
}

func (a *Aggregator) resolveEndpoints(endpoints []model.EndPoint) ([]resolvedEndpoint, error) {
	out := make([]resolvedEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		ext, ok := a.terms.get(ep.Terminal.Name)
		if !ok || ep.Terminal.Network != a.name {
			return nil, model.NewError(model.KindUnknownTerminal, ep.Terminal.String())
		}
		out = append(out, resolvedEndpoint{network: ext.backing.Network, terminal: ext.backing, label: ep.Label})
	}
	return out, nil
}

func terminalSet(resolved []resolvedEndpoint) []graph.VertexID {
	seen := make(map[model.NetworkName]struct{}, len(resolved))
	var out []graph.VertexID
	for _, r := range resolved {
		if _, ok := seen[r.network]; ok {
			continue
		}
		seen[r.network] = struct{}{}
		out = append(out, graph.VertexID(r.network))
	}
	return out
}
