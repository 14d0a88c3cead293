package model

import "fmt"

// NetworkName identifies a Switch or Aggregator among its siblings in an
// aggregator's inferior-network set, or among the broker's top-level
// networks.
type NetworkName string

// TerminalName is a local name, unique within the owning network.
type TerminalName string

// Terminal is an access point named within exactly one Network.
type Terminal struct {
	Network NetworkName
	Name    TerminalName
}

func (t Terminal) String() string {
	return fmt.Sprintf("%s/%s", t.Network, t.Name)
}

// Label subdivides traffic on a Terminal: a 12-bit VLAN tag or, when the
// fabric supports it, a 24-bit double-VLAN (Q-in-Q) tag. The broker does
// not itself enforce a width; a Fabric driver rejects labels it cannot
// represent.
type Label uint32

// EndPoint is a Terminal paired with the Label that selects a traffic
// subset on it.
type EndPoint struct {
	Terminal Terminal
	Label    Label
}

func (e EndPoint) String() string {
	return fmt.Sprintf("%s:%d", e.Terminal, e.Label)
}

// Bandwidth is expressed in bits per second, applied symmetrically
// (upstream and downstream) wherever a single floor is reserved.
type Bandwidth uint64
