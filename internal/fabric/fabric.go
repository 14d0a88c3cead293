// Package fabric specifies the driver contract a Switch consumes to turn
// a local service into hardware/firmware forwarding state (§4.2). This
// package defines the contract only; how a concrete driver talks to
// specific switch hardware (e.g. a Corsa DP2X00 over HTTPS) is out of
// scope (§1) and left to internal/fabric/restfabric and
// internal/fabric/memfabric.
package fabric

import (
	"context"
	"fmt"

	"github.com/ng-cdi/dpb/internal/model"
)

// Interface names a physical port or a tagged sub-port; purely syntactic
// to the core, meaningful only to the driver that issued it.
//
// Outer supports the source's virtual-port nesting
// (original_source/.../routing/hier/Port.java Port.tag): an Interface
// produced by tagging another one carries the outer label, so a circuit
// can express a double-VLAN (Q-in-Q) terminal.
type Interface struct {
	Port  string
	Outer *model.Label
}

func (i Interface) String() string {
	if i.Outer != nil {
		return fmt.Sprintf("%s.%d", i.Port, *i.Outer)
	}
	return i.Port
}

// Tag produces a virtual interface nested within i, tagged with label.
func (i Interface) Tag(label model.Label) Interface {
	return Interface{Port: i.String(), Outer: &label}
}

// Circuit is an endpoint as seen by a fabric driver: an interface plus
// the label selecting a traffic subset on it.
type Circuit struct {
	Interface Interface
	Label     model.Label
}

func (c Circuit) String() string { return fmt.Sprintf("%s:%d", c.Interface, c.Label) }

// TrafficFlow is the per-direction bandwidth floor requested for one
// circuit within a bridge.
type TrafficFlow struct {
	Upstream, Downstream model.Bandwidth
}

// BridgeID is a driver-assigned identifier for a bridge, stable across
// the bridge's lifetime and used in Retain's live-set.
type BridgeID string

// Status is the asynchronous lifecycle a bridge reports through its
// listener (§4.2).
type Status int

const (
	StatusCreated Status = iota
	StatusDestroyed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusDestroyed:
		return "destroyed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Event is delivered to a BridgeListener as a bridge transitions.
type Event struct {
	Status Status
	Cause  error // set when Status == StatusError
}

// BridgeListener is invoked from a driver-owned goroutine; it must not
// block and must not call back into the fabric synchronously (§5 "the
// broker must not block on user callbacks while holding any internal
// lock" applies symmetrically to drivers).
type BridgeListener func(Event)

// Bridge is a fabric-level grouping of circuits stitched together for
// forwarding. Once a bridge reports StatusError it is irreversible; the
// client must request a fresh bridge (§4.2 Failure semantics).
type Bridge interface {
	ID() BridgeID
	Circuits() map[Circuit]TrafficFlow
}

// Fabric is the driver contract consumed by Switch.
type Fabric interface {
	// InterfacesOf names a physical port or a tagged sub-port from an
	// operator-supplied description; purely syntactic.
	InterfacesOf(ctx context.Context, description string) (Interface, error)

	// RequestBridge requests a bridge connecting the given circuits with
	// the given per-direction bandwidths. The fabric MAY return an
	// existing equivalent bridge under an equal circuit-set (idempotent
	// creation). The returned bridge is asynchronous: listener is
	// invoked with Created, Destroyed, or Error.
	RequestBridge(ctx context.Context, listener BridgeListener, circuits map[Circuit]TrafficFlow) (Bridge, error)

	// DestroyBridge releases a previously requested bridge.
	DestroyBridge(ctx context.Context, id BridgeID) error

	// Retain declares which bridges the client still wants; the fabric
	// garbage-collects the rest. Used to reconcile after broker restart
	// (§4.6).
	Retain(ctx context.Context, live []BridgeID) error
}
