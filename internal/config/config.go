// Package config loads the broker's two configuration surfaces (§6
// "Configuration"): flat daemon settings from the environment, the way
// the teacher's cmd/controller and cmd/processor do, and the dotted-key
// topology description — name/type/terminals/trunks per network — from
// a file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/vrischmann/envconfig"

	"github.com/ng-cdi/dpb/internal/model"
)

// DaemonSettings is the flat, environment-sourced half of configuration:
// everything ambient to running the process rather than describing the
// topology it serves.
type DaemonSettings struct {
	LoggerLevel       string        `envconfig:"LOGGER_LEVEL"`
	NodeID            string        `envconfig:"NODE_ID"`
	EtcdEndpoints     []string      `envconfig:"ETCD_ENDPOINTS"`
	TopologyFile      string        `envconfig:"TOPOLOGY_FILE"`
	ListenAddr        string        `envconfig:"LISTEN_ADDR"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL"`
}

func LoadDaemonSettings() (DaemonSettings, error) {
	var s DaemonSettings
	if err := envconfig.Init(&s); err != nil {
		return s, fmt.Errorf("failed to read daemon settings from environment: %w", err)
	}
	return s, nil
}

// LogLevel parses LoggerLevel the way the teacher's controller does,
// defaulting to warn on an unrecognised or empty value.
func (s DaemonSettings) LogLevel() zerolog.Level {
	switch strings.ToLower(s.LoggerLevel) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.WarnLevel
	}
}

// TerminalSpec is one entry of a network's `terminals.<name>` table. For
// a Switch terminal, Interface names the fabric interface description
// passed to add_terminal. For an Aggregator's external terminal,
// Network/Subterm name the backing inferior terminal.
type TerminalSpec struct {
	Interface string
	Network   model.NetworkName
	Subterm   model.TerminalName
}

// TrunkEndSpec is one side of a trunk declaration.
type TrunkEndSpec struct {
	Network  model.NetworkName
	Terminal model.TerminalName
}

// TrunkSpec is one entry of an aggregator's `trunks.<tag>` table.
type TrunkSpec struct {
	Tag    string
	End1   TrunkEndSpec
	End2   TrunkEndSpec
	Delay  float64
	Up     model.Bandwidth
	Down   model.Bandwidth
	Labels []model.Label
}

// NetworkSpec is the decoded configuration for a single network agent
// (§6 "Configuration (recognised keys, aggregator/switch agent)"): one
// viper document describes exactly one Switch or Aggregator.
type NetworkSpec struct {
	Name      model.NetworkName
	Type      string // "switch" or "aggregator"
	Inferiors []model.NetworkName
	Terminals map[model.TerminalName]TerminalSpec
	Trunks    []TrunkSpec
}

// LoadNetworkSpec reads path with viper and decodes it against the
// recognised-key shape of §6. The file format is whatever extension
// viper can infer (yaml, json, toml, ...).
func LoadNetworkSpec(path string) (NetworkSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return NetworkSpec{}, fmt.Errorf("failed to read topology file %s: %w", path, err)
	}
	return decodeNetworkSpec(v)
}

func decodeNetworkSpec(v *viper.Viper) (NetworkSpec, error) {
	spec := NetworkSpec{
		Name:      model.NetworkName(v.GetString("name")),
		Type:      strings.ToLower(v.GetString("type")),
		Terminals: make(map[model.TerminalName]TerminalSpec),
	}
	if spec.Name == "" {
		return NetworkSpec{}, fmt.Errorf("config error: missing required key \"name\"")
	}
	if spec.Type != "switch" && spec.Type != "aggregator" {
		return NetworkSpec{}, fmt.Errorf("config error: unrecognised network type %q for %s", spec.Type, spec.Name)
	}

	terminals, _ := v.Get("terminals").(map[string]any)
	for name := range terminals {
		key := "terminals." + name
		spec.Terminals[model.TerminalName(name)] = TerminalSpec{
			Interface: v.GetString(key + ".interface"),
			Network:   model.NetworkName(v.GetString(key + ".network")),
			Subterm:   model.TerminalName(v.GetString(key + ".subterm")),
		}
	}

	if spec.Type != "aggregator" {
		return spec, nil
	}

	seen := make(map[model.NetworkName]struct{})
	for _, t := range spec.Terminals {
		if t.Network == "" {
			continue
		}
		if _, ok := seen[t.Network]; ok {
			continue
		}
		seen[t.Network] = struct{}{}
		spec.Inferiors = append(spec.Inferiors, t.Network)
	}

	trunks, _ := v.Get("trunks").(map[string]any)
	for tag := range trunks {
		key := "trunks." + tag
		labels, err := parseLabelRange(v.GetString(key + ".labels"))
		if err != nil {
			return NetworkSpec{}, fmt.Errorf("config error: trunk %s: %w", tag, err)
		}
		trunk := TrunkSpec{
			Tag: tag,
			End1: TrunkEndSpec{
				Network:  model.NetworkName(v.GetString(key + ".end1.network")),
				Terminal: model.TerminalName(v.GetString(key + ".end1.terminal")),
			},
			End2: TrunkEndSpec{
				Network:  model.NetworkName(v.GetString(key + ".end2.network")),
				Terminal: model.TerminalName(v.GetString(key + ".end2.terminal")),
			},
			Delay:  v.GetFloat64(key + ".delay"),
			Up:     model.Bandwidth(v.GetUint64(key + ".up")),
			Down:   model.Bandwidth(v.GetUint64(key + ".down")),
			Labels: labels,
		}
		seenInferior := func(n model.NetworkName) {
			if _, ok := seen[n]; ok || n == "" {
				return
			}
			seen[n] = struct{}{}
			spec.Inferiors = append(spec.Inferiors, n)
		}
		seenInferior(trunk.End1.Network)
		seenInferior(trunk.End2.Network)
		spec.Trunks = append(spec.Trunks, trunk)
	}

	return spec, nil
}

// parseLabelRange parses "1-100" or "1,2,3" into an explicit label list,
// the textual shape an operator would type into a topology file for
// trunks.<tag>.labels.
func parseLabelRange(raw string) ([]model.Label, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []model.Label
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parseLabel(lo)
			if err != nil {
				return nil, err
			}
			end, err := parseLabel(hi)
			if err != nil {
				return nil, err
			}
			for l := start; l <= end; l++ {
				out = append(out, l)
			}
			continue
		}
		l, err := parseLabel(part)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func parseLabel(s string) (model.Label, error) {
	var n uint32
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid label %q: %w", s, err)
	}
	return model.Label(n), nil
}
