package agent

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ng-cdi/dpb/internal/config"
	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/fabric/memfabric"
	"github.com/ng-cdi/dpb/internal/model"
)

func memFactory(spec config.NetworkSpec) (fabric.Fabric, error) {
	return memfabric.New(memfabric.Settings{Name: string(spec.Name), Log: zerolog.Nop()}), nil
}

func TestLoadBuildsSwitchesBeforeAggregators(t *testing.T) {
	specs := []config.NetworkSpec{
		{
			Name:      "AGG",
			Type:      "aggregator",
			Inferiors: []model.NetworkName{"S1", "S2"},
			Terminals: map[model.TerminalName]config.TerminalSpec{
				"x": {Network: "S1", Subterm: "a"},
			},
			Trunks: []config.TrunkSpec{
				{
					Tag:    "T",
					End1:   config.TrunkEndSpec{Network: "S1", Terminal: "p"},
					End2:   config.TrunkEndSpec{Network: "S2", Terminal: "q"},
					Up:     1000,
					Down:   1000,
					Labels: []model.Label{1, 2, 3},
				},
			},
		},
		{
			Name: "S1",
			Type: "switch",
			Terminals: map[model.TerminalName]config.TerminalSpec{
				"a": {Interface: "eth0"},
				"p": {Interface: "eth1"},
			},
		},
		{
			Name: "S2",
			Type: "switch",
			Terminals: map[model.TerminalName]config.TerminalSpec{
				"q": {Interface: "eth0"},
			},
		},
	}

	reg, err := Load(context.Background(), specs, memFactory, nil, zerolog.Nop())
	require.NoError(t, err)

	s1, ok := reg.Network("S1")
	require.True(t, ok)
	assert.Equal(t, model.NetworkName("S1"), s1.Name())

	agg, ok := reg.Network("AGG")
	require.True(t, ok)
	assert.Equal(t, model.NetworkName("AGG"), agg.Name())

	assert.Len(t, reg.All(), 3)
}

func TestLoadFailsOnUnknownInferior(t *testing.T) {
	specs := []config.NetworkSpec{
		{
			Name:      "AGG",
			Type:      "aggregator",
			Inferiors: []model.NetworkName{"GHOST"},
		},
	}

	_, err := Load(context.Background(), specs, memFactory, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestLoadFailsOnDuplicateNetworkName(t *testing.T) {
	specs := []config.NetworkSpec{
		{Name: "S1", Type: "switch"},
		{Name: "S1", Type: "switch"},
	}

	_, err := Load(context.Background(), specs, memFactory, nil, zerolog.Nop())
	require.Error(t, err)
}

type recordingTopologyStore struct {
	terminals []model.TerminalName
	trunks    []uint64
}

func (r *recordingTopologyStore) UpsertTerminal(ctx context.Context, network model.NetworkName, name model.TerminalName, backing model.Terminal) error {
	r.terminals = append(r.terminals, name)
	return nil
}

func (r *recordingTopologyStore) UpsertTrunk(ctx context.Context, aggregator model.NetworkName, id uint64, a, b model.Terminal, delay float64, up, down model.Bandwidth, labels []model.Label) error {
	r.trunks = append(r.trunks, id)
	return nil
}

func TestLoadWritesThroughTerminalsAndTrunks(t *testing.T) {
	specs := []config.NetworkSpec{
		{
			Name:      "AGG",
			Type:      "aggregator",
			Inferiors: []model.NetworkName{"S1", "S2"},
			Terminals: map[model.TerminalName]config.TerminalSpec{
				"x": {Network: "S1", Subterm: "a"},
			},
			Trunks: []config.TrunkSpec{
				{
					Tag:    "T",
					End1:   config.TrunkEndSpec{Network: "S1", Terminal: "p"},
					End2:   config.TrunkEndSpec{Network: "S2", Terminal: "q"},
					Up:     1000,
					Down:   1000,
					Labels: []model.Label{1, 2, 3},
				},
			},
		},
		{
			Name: "S1",
			Type: "switch",
			Terminals: map[model.TerminalName]config.TerminalSpec{
				"a": {Interface: "eth0"},
				"p": {Interface: "eth1"},
			},
		},
		{
			Name: "S2",
			Type: "switch",
			Terminals: map[model.TerminalName]config.TerminalSpec{
				"q": {Interface: "eth0"},
			},
		},
	}

	store := &recordingTopologyStore{}
	_, err := Load(context.Background(), specs, memFactory, store, zerolog.Nop())
	require.NoError(t, err)

	assert.ElementsMatch(t, []model.TerminalName{"a", "p", "q", "x"}, store.terminals)
	assert.Len(t, store.trunks, 1)
}
