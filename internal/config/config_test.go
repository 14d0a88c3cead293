package config

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ng-cdi/dpb/internal/model"
)

func decodeYAML(t *testing.T, yaml string) NetworkSpec {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	spec, err := decodeNetworkSpec(v)
	require.NoError(t, err)
	return spec
}

func TestDecodeSwitchSpec(t *testing.T) {
	spec := decodeYAML(t, `
name: S1
type: switch
terminals:
  a:
    interface: eth0
  b:
    interface: eth1
`)
	assert.Equal(t, model.NetworkName("S1"), spec.Name)
	assert.Equal(t, "switch", spec.Type)
	require.Len(t, spec.Terminals, 2)
	assert.Equal(t, "eth0", spec.Terminals["a"].Interface)
	assert.Empty(t, spec.Trunks)
}

func TestDecodeAggregatorSpec(t *testing.T) {
	spec := decodeYAML(t, `
name: AGG
type: aggregator
terminals:
  x:
    network: S1
    subterm: a
  y:
    network: S2
    subterm: b
trunks:
  T:
    end1:
      network: S1
      terminal: p
    end2:
      network: S2
      terminal: q
    delay: 1.0
    up: 1000000000
    down: 1000000000
    labels: "1-100"
`)
	assert.Equal(t, model.NetworkName("AGG"), spec.Name)
	assert.Equal(t, "aggregator", spec.Type)
	require.Len(t, spec.Terminals, 2)
	assert.Equal(t, model.NetworkName("S1"), spec.Terminals["x"].Network)
	assert.Equal(t, model.TerminalName("a"), spec.Terminals["x"].Subterm)

	require.Len(t, spec.Trunks, 1)
	tr := spec.Trunks[0]
	assert.Equal(t, model.NetworkName("S1"), tr.End1.Network)
	assert.Equal(t, model.TerminalName("p"), tr.End1.Terminal)
	assert.Equal(t, model.Bandwidth(1_000_000_000), tr.Up)
	require.Len(t, tr.Labels, 100)
	assert.Equal(t, model.Label(1), tr.Labels[0])
	assert.Equal(t, model.Label(100), tr.Labels[99])

	assert.ElementsMatch(t, []model.NetworkName{"S1", "S2"}, spec.Inferiors)
}

func TestDecodeRejectsMissingName(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString("type: switch\n")))
	_, err := decodeNetworkSpec(v)
	require.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString("name: S1\ntype: bogus\n")))
	_, err := decodeNetworkSpec(v)
	require.Error(t, err)
}

func TestParseLabelRangeCommaList(t *testing.T) {
	labels, err := parseLabelRange("1,2,5")
	require.NoError(t, err)
	assert.Equal(t, []model.Label{1, 2, 5}, labels)
}

func TestDaemonSettingsLogLevel(t *testing.T) {
	s := DaemonSettings{LoggerLevel: "DEBUG"}
	assert.Equal(t, "debug", s.LogLevel().String())
}
