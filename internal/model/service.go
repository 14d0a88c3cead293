package model

import "fmt"

// ServiceID is a broker-scoped integer identifying a service within the
// network that owns it.
type ServiceID uint64

// State is a position in the service lifecycle state machine (§4.3, §4.5).
type State int

const (
	Dormant State = iota
	Establishing
	Inactive
	Activating
	Active
	Deactivating
	Releasing
	Released
	Failed
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "DORMANT"
	case Establishing:
		return "ESTABLISHING"
	case Inactive:
		return "INACTIVE"
	case Activating:
		return "ACTIVATING"
	case Active:
		return "ACTIVE"
	case Deactivating:
		return "DEACTIVATING"
	case Releasing:
		return "RELEASING"
	case Released:
		return "RELEASED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// Terminal reports whether a service in this state will never transition
// again without a fresh initiate().
func (s State) Terminal() bool {
	return s == Released
}

// EventKind tags the single event channel a service emits on, per the
// design notes' rejection of a fat multi-method listener.
type EventKind int

const (
	EvReady EventKind = iota
	EvActivating
	EvActivated
	EvDeactivating
	EvDeactivated
	EvFailed
	EvReleased
)

func (k EventKind) String() string {
	switch k {
	case EvReady:
		return "ready"
	case EvActivating:
		return "activating"
	case EvActivated:
		return "activated"
	case EvDeactivating:
		return "deactivating"
	case EvDeactivated:
		return "deactivated"
	case EvFailed:
		return "failed"
	case EvReleased:
		return "released"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is the single tagged notification a Service emits to its
// listeners. Endpoints and Cause are only meaningful for EvFailed.
type Event struct {
	Kind      EventKind
	ServiceID ServiceID
	Endpoints []EndPoint
	Cause     error
}

func (e Event) String() string {
	if e.Kind == EvFailed {
		return fmt.Sprintf("{service=%d, event=%s, endpoints=%v, cause=%v}",
			e.ServiceID, e.Kind, e.Endpoints, e.Cause)
	}
	return fmt.Sprintf("{service=%d, event=%s}", e.ServiceID, e.Kind)
}

// Listener receives service lifecycle events. Per §5, events for a single
// service are delivered in state-machine order; events across services
// are not ordered relative to each other.
type Listener func(Event)
