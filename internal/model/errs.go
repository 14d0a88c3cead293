package model

import "fmt"

// Kind enumerates the broker's typed failure categories, per the
// management/planning/lifecycle error taxonomy of the design.
type Kind string

const (
	// Management
	KindTerminalExists    Kind = "TERMINAL_EXISTS"
	KindUnknownTerminal   Kind = "UNKNOWN_TERMINAL"
	KindOwnTerminal       Kind = "OWN_TERMINAL"
	KindUnknownTrunk      Kind = "UNKNOWN_TRUNK"
	KindUnknownSubnetwork Kind = "UNKNOWN_SUBNETWORK"
	KindTerminalInUse     Kind = "TERMINAL_IN_USE"
	KindUnknownInterface  Kind = "UNKNOWN_INTERFACE"

	// Planning
	KindUnroutable    Kind = "UNROUTABLE"
	KindOutOfLabels   Kind = "OUT_OF_LABELS"
	KindOutOfBandwith Kind = "OUT_OF_BANDWIDTH"

	// Lifecycle
	KindInvalidState Kind = "INVALID_STATE"
	KindFabricError  Kind = "FABRIC_ERROR"
	KindConfigError  Kind = "CONFIG_ERROR"
)

// Error is a typed broker failure. Entity names the offending object
// (a terminal name, trunk id, network name, ...); it is opaque to callers
// beyond formatting.
type Error struct {
	Kind   Kind
	Entity string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Entity != "" {
			return fmt.Sprintf("%s %s: %v", e.Kind, e.Entity, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Entity)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can use errors.Is(err, model.NewError(model.KindUnroutable, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func NewError(kind Kind, entity string) *Error {
	return &Error{Kind: kind, Entity: entity}
}

func WrapError(kind Kind, entity string, cause error) *Error {
	return &Error{Kind: kind, Entity: entity, Cause: cause}
}
