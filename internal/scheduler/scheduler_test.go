package scheduler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ng-cdi/dpb/internal/fabric/memfabric"
	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/network"
)

type fakeState struct {
	services []PersistedService
}

func (f *fakeState) LiveServices(ctx context.Context) ([]PersistedService, error) {
	return f.services, nil
}

type fakeNetworks struct {
	byName map[model.NetworkName]network.Network
}

func newFakeNetworks(nets ...network.Network) *fakeNetworks {
	f := &fakeNetworks{byName: make(map[model.NetworkName]network.Network)}
	for _, n := range nets {
		f.byName[n.Name()] = n
	}
	return f
}

func (f *fakeNetworks) Network(name model.NetworkName) (network.Network, bool) {
	n, ok := f.byName[name]
	return n, ok
}

func (f *fakeNetworks) All() []network.Network {
	out := make([]network.Network, 0, len(f.byName))
	for _, n := range f.byName {
		out = append(out, n)
	}
	return out
}

func newTestSwitchWithTerminals(t *testing.T, name model.NetworkName, terminals ...model.TerminalName) (*network.Switch, *memfabric.MemFabric) {
	t.Helper()
	fab := memfabric.New(memfabric.Settings{Name: string(name)})
	sw := network.NewSwitch(name, fab, zerolog.Nop())
	for _, term := range terminals {
		require.NoError(t, sw.AddTerminal(context.Background(), term, string(term)))
	}
	return sw, fab
}

func TestReconcilerReplaysPersistedServices(t *testing.T) {
	sw, fab := newTestSwitchWithTerminals(t, "S1", "a", "b")
	nets := newFakeNetworks(sw)

	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
			{Terminal: model.Terminal{Network: "S1", Name: "b"}, Label: 2},
		},
		Bandwidth: 100,
	}
	state := &fakeState{services: []PersistedService{{Network: "S1", Request: req}}}

	r := NewReconciler(nets, state, zerolog.Nop())
	require.NoError(t, r.Reconcile(context.Background()))

	assert.Len(t, sw.ListServices(), 1)
	assert.Equal(t, 1, fab.BridgeCount())
}

func TestReconcilerRetainsOnlyReplayedBridges(t *testing.T) {
	sw, fab := newTestSwitchWithTerminals(t, "S1", "a", "b", "c")
	nets := newFakeNetworks(sw)

	// A pre-existing bridge that nothing will replay: it must be reaped
	// by Retain.
	stale := sw.NewService()
	require.NoError(t, stale.Initiate(model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
			{Terminal: model.Terminal{Network: "S1", Name: "c"}, Label: 2},
		},
		Bandwidth: 10,
	}))
	require.Equal(t, 1, fab.BridgeCount())

	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 3},
			{Terminal: model.Terminal{Network: "S1", Name: "b"}, Label: 4},
		},
		Bandwidth: 20,
	}
	state := &fakeState{services: []PersistedService{{Network: "S1", Request: req}}}

	r := NewReconciler(nets, state, zerolog.Nop())
	require.NoError(t, r.Reconcile(context.Background()))

	// Retain should not have reaped the bridge it just replayed, but a
	// fresh sweep where "stale" is absent from the persisted set must
	// drop it. stale was never persisted, so it gets collected now.
	assert.Equal(t, 1, fab.BridgeCount())
}

func TestReconcilerSkipsUnknownNetwork(t *testing.T) {
	nets := newFakeNetworks()
	state := &fakeState{services: []PersistedService{{Network: "GHOST", Request: model.ConnectionRequest{}}}}

	r := NewReconciler(nets, state, zerolog.Nop())
	require.NoError(t, r.Reconcile(context.Background()))
}

func TestReconcilerSkipsUnroutablePersistedService(t *testing.T) {
	sw, fab := newTestSwitchWithTerminals(t, "S1", "a")
	nets := newFakeNetworks(sw)

	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
		},
		Bandwidth: 10,
	}
	state := &fakeState{services: []PersistedService{{Network: "S1", Request: req}}}

	r := NewReconciler(nets, state, zerolog.Nop())
	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, 0, fab.BridgeCount())
}
