// Package agent builds concrete Switch/Aggregator network agents from
// config.NetworkSpec documents and holds them in a name-keyed lookup, the
// way the teacher's original source builds an Agent from a service-bank
// (original_source's uk.ac.lancs.agent.AgentBuilder): a network name is
// the key, a network.Network is the service, and the registry is the one
// place that knows how the pieces fit together.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/config"
	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/network"
)

// FabricFactory produces the Fabric driver a Switch spec should be backed
// by. Kept as a function rather than a fixed constructor so cmd/brokerd
// can hand out memfabric in test/simulation deployments and restfabric
// (or any later real driver) in production ones, without this package
// needing to know about either.
type FabricFactory func(spec config.NetworkSpec) (fabric.Fabric, error)

// TopologyStore is the subset of internal/persistence/etcd.Store that
// terminal and trunk registration writes through to, kept as an interface
// so this package never imports the etcd client package directly (the same
// pattern internal/persistence uses for service writeback). A nil
// TopologyStore disables write-through, which Load's own tests rely on.
type TopologyStore interface {
	UpsertTerminal(ctx context.Context, network model.NetworkName, name model.TerminalName, backing model.Terminal) error
	UpsertTrunk(ctx context.Context, aggregator model.NetworkName, id uint64, a, b model.Terminal, delay float64, up, down model.Bandwidth, labels []model.Label) error
}

// Registry is the broker's live set of network agents, keyed by name. It
// satisfies scheduler.Networks so a built Registry can be handed straight
// to a scheduler.Reconciler.
type Registry struct {
	mu   sync.RWMutex
	nets map[model.NetworkName]network.Network
	log  zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{nets: make(map[model.NetworkName]network.Network), log: log}
}

func (r *Registry) Network(name model.NetworkName) (network.Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nets[name]
	return n, ok
}

func (r *Registry) All() []network.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]network.Network, 0, len(r.nets))
	for _, n := range r.nets {
		out = append(out, n)
	}
	return out
}

func (r *Registry) register(n network.Network) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nets[n.Name()]; exists {
		return model.NewError(model.KindConfigError, fmt.Sprintf("duplicate network name %s", n.Name()))
	}
	r.nets[n.Name()] = n
	return nil
}

// Load builds every network named by specs and registers it. Switch specs
// are built first regardless of input order, since an aggregator spec can
// only be realised once every network it names as an inferior already
// exists; aggregator specs are then built in the order given, so one
// aggregator may itself act as an inferior of a later one (§3's
// composition tree allows nesting). Every terminal and trunk is written
// through store as it is registered (§6 "persistence layout" covers
// terminals and trunks, not just live services). A switch terminal is
// recorded without its interface description, and Load itself always
// builds from specs, never from store.
func Load(ctx context.Context, specs []config.NetworkSpec, fabrics FabricFactory, store TopologyStore, log zerolog.Logger) (*Registry, error) {
	r := NewRegistry(log)

	var aggregators []config.NetworkSpec
	for _, spec := range specs {
		if spec.Type != "aggregator" {
			if _, err := r.buildSwitch(ctx, spec, fabrics, store); err != nil {
				return nil, err
			}
			continue
		}
		aggregators = append(aggregators, spec)
	}

	for _, spec := range aggregators {
		if _, err := r.buildAggregator(ctx, spec, store); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) buildSwitch(ctx context.Context, spec config.NetworkSpec, fabrics FabricFactory, store TopologyStore) (*network.Switch, error) {
	fab, err := fabrics(spec)
	if err != nil {
		return nil, model.WrapError(model.KindConfigError, string(spec.Name), err)
	}

	sw := network.NewSwitch(spec.Name, fab, r.log)
	for name, term := range spec.Terminals {
		if err := sw.AddTerminal(ctx, name, term.Interface); err != nil {
			return nil, model.WrapError(model.KindConfigError, fmt.Sprintf("%s/%s", spec.Name, name), err)
		}
		// A Switch terminal has no backing, only a fabric interface
		// description, which the registry re-derives from config on
		// every restart rather than from the store.
		if store != nil {
			if err := store.UpsertTerminal(ctx, spec.Name, name, model.Terminal{}); err != nil {
				r.log.Warn().Err(err).Str("network", string(spec.Name)).Str("terminal", string(name)).Msg("failed to persist terminal")
			}
		}
	}

	if err := r.register(sw); err != nil {
		return nil, err
	}
	return sw, nil
}

func (r *Registry) buildAggregator(ctx context.Context, spec config.NetworkSpec, store TopologyStore) (*network.Aggregator, error) {
	agg := network.NewAggregator(spec.Name, r.log)

	for _, infName := range spec.Inferiors {
		inf, ok := r.Network(infName)
		if !ok {
			return nil, model.NewError(model.KindUnknownSubnetwork, fmt.Sprintf("%s needs %s", spec.Name, infName))
		}
		agg.AddInferior(inf)
	}

	for name, term := range spec.Terminals {
		backing := model.Terminal{Network: term.Network, Name: term.Subterm}
		if err := agg.AddTerminal(name, backing); err != nil {
			return nil, model.WrapError(model.KindConfigError, fmt.Sprintf("%s/%s", spec.Name, name), err)
		}
		if store != nil {
			if err := store.UpsertTerminal(ctx, spec.Name, name, backing); err != nil {
				r.log.Warn().Err(err).Str("network", string(spec.Name)).Str("terminal", string(name)).Msg("failed to persist terminal")
			}
		}
	}

	for _, t := range spec.Trunks {
		end1 := model.Terminal{Network: t.End1.Network, Name: t.End1.Terminal}
		end2 := model.Terminal{Network: t.End2.Network, Name: t.End2.Terminal}
		tr, err := agg.AddTrunk(end1, end2, t.Delay, t.Up, t.Down, t.Labels)
		if err != nil {
			return nil, model.WrapError(model.KindConfigError, fmt.Sprintf("%s/%s", spec.Name, t.Tag), err)
		}
		if store != nil {
			if err := store.UpsertTrunk(ctx, spec.Name, uint64(tr.ID), end1, end2, t.Delay, t.Up, t.Down, t.Labels); err != nil {
				r.log.Warn().Err(err).Str("network", string(spec.Name)).Str("trunk", t.Tag).Msg("failed to persist trunk")
			}
		}
	}

	if err := r.register(agg); err != nil {
		return nil, err
	}
	return agg, nil
}
