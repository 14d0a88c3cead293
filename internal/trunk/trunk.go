// Package trunk implements the bidirectional edges between inferior
// networks that an Aggregator plans services across: a VLAN label pool
// per side plus an upstream/downstream bandwidth budget (§3, §4.4).
//
// A Trunk's mutations are expected to be serialised by its owning
// Aggregator's lock (§5); this package itself is not safe for unguarded
// concurrent use, the same way the teacher's
// control-plane/internal/models value types carry no locking of their own.
package trunk

import (
	"fmt"
	"sort"

	"github.com/ng-cdi/dpb/internal/model"
)

// ID identifies a trunk within its owning aggregator.
type ID uint64

// Allocation is one reserved label/bandwidth pair on a trunk, bound to
// the service that holds it (§3 invariants, §4.4).
type Allocation struct {
	LabelA, LabelB model.Label
	Up, Down       model.Bandwidth
	ServiceID      model.ServiceID
}

// Side names an end of a trunk.
type Side int

const (
	SideA Side = iota
	SideB
)

// Trunk is an undirected edge between (network A, terminal A) and
// (network B, terminal B), both internal terminals of inferior networks
// of the same aggregator.
//
// Each side has its own local label space (§4.4): taking label 7 on side
// A does not consume label 7 on side B. The operator-declared range is
// seeded identically into both, but the two free sets are tracked
// independently from then on.
type Trunk struct {
	ID ID

	TerminalA model.Terminal
	TerminalB model.Terminal

	Delay float64 // additive metric, non-negative

	capacityUp, capacityDown   model.Bandwidth // initial budgets
	remainingUp, remainingDown model.Bandwidth

	freeA, freeB map[model.Label]struct{}
	allocated    map[model.Label]Allocation // keyed by LabelA

	decommissioned bool
}

// New creates a trunk with the given initial capacity and declared label
// range, all free on both sides.
func New(id ID, a, b model.Terminal, delay float64, up, down model.Bandwidth, labels []model.Label) *Trunk {
	freeA := make(map[model.Label]struct{}, len(labels))
	freeB := make(map[model.Label]struct{}, len(labels))
	for _, l := range labels {
		freeA[l] = struct{}{}
		freeB[l] = struct{}{}
	}
	return &Trunk{
		ID:            id,
		TerminalA:     a,
		TerminalB:     b,
		Delay:         delay,
		capacityUp:    up,
		capacityDown:  down,
		remainingUp:   up,
		remainingDown: down,
		freeA:         freeA,
		freeB:         freeB,
		allocated:     make(map[model.Label]Allocation),
	}
}

func (t *Trunk) RemainingUp() model.Bandwidth   { return t.remainingUp }
func (t *Trunk) RemainingDown() model.Bandwidth { return t.remainingDown }
func (t *Trunk) CapacityUp() model.Bandwidth    { return t.capacityUp }
func (t *Trunk) CapacityDown() model.Bandwidth  { return t.capacityDown }
func (t *Trunk) FreeLabelCount() int            { return min(len(t.freeA), len(t.freeB)) }
func (t *Trunk) AllocationCount() int           { return len(t.allocated) }
func (t *Trunk) Decommissioned() bool           { return t.decommissioned }

// Other returns the terminal on the opposite side from t, for planning
// code walking a trunk from one known end.
func (t *Trunk) Other(from model.Terminal) (model.Terminal, Side, bool) {
	switch {
	case from == t.TerminalA:
		return t.TerminalB, SideB, true
	case from == t.TerminalB:
		return t.TerminalA, SideA, true
	default:
		return model.Terminal{}, 0, false
	}
}

// SideOf reports which side a terminal is on.
func (t *Trunk) SideOf(term model.Terminal) (Side, bool) {
	switch term {
	case t.TerminalA:
		return SideA, true
	case t.TerminalB:
		return SideB, true
	default:
		return 0, false
	}
}

// LabelOnSide returns the allocated label for the given side of an
// allocation identified by its side-A label.
func (a Allocation) LabelOnSide(s Side) model.Label {
	if s == SideA {
		return a.LabelA
	}
	return a.LabelB
}

// Allocate reserves one (labelA, labelB) pair and up/down bandwidth for
// serviceID. The label correspondence rule (§4.4): lowest free label on
// side A, then the same numeric label on side B if free, else lowest free
// on side B.
func (t *Trunk) Allocate(serviceID model.ServiceID, up, down model.Bandwidth) (Allocation, error) {
	if t.decommissioned {
		return Allocation{}, model.NewError(model.KindUnknownTrunk, fmt.Sprintf("trunk %d decommissioned", t.ID))
	}
	if up > t.remainingUp || down > t.remainingDown {
		return Allocation{}, model.NewError(model.KindOutOfBandwith, fmt.Sprintf("trunk %d", t.ID))
	}
	labelA, ok := lowestFree(t.freeA)
	if !ok {
		return Allocation{}, model.NewError(model.KindOutOfLabels, fmt.Sprintf("trunk %d", t.ID))
	}
	labelB := labelA
	if _, free := t.freeB[labelB]; !free {
		labelB, ok = lowestFree(t.freeB)
		if !ok {
			return Allocation{}, model.NewError(model.KindOutOfLabels, fmt.Sprintf("trunk %d", t.ID))
		}
	}

	delete(t.freeA, labelA)
	delete(t.freeB, labelB)
	t.remainingUp -= up
	t.remainingDown -= down

	alloc := Allocation{LabelA: labelA, LabelB: labelB, Up: up, Down: down, ServiceID: serviceID}
	t.allocated[labelA] = alloc
	return alloc, nil
}

func lowestFree(set map[model.Label]struct{}) (model.Label, bool) {
	if len(set) == 0 {
		return 0, false
	}
	labels := make([]model.Label, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels[0], true
}

// Release returns the labels and bandwidth of the allocation keyed by
// labelA to the free pools. Unknown labels are a no-op (§4.4 idempotence).
func (t *Trunk) Release(labelA model.Label) {
	alloc, ok := t.allocated[labelA]
	if !ok {
		return
	}
	delete(t.allocated, labelA)
	t.freeA[alloc.LabelA] = struct{}{}
	t.freeB[alloc.LabelB] = struct{}{}
	t.remainingUp += alloc.Up
	t.remainingDown += alloc.Down
}

// ReleaseService releases every allocation held by serviceID, for
// rollback (§4.6).
func (t *Trunk) ReleaseService(serviceID model.ServiceID) {
	var toRelease []model.Label
	for label, alloc := range t.allocated {
		if alloc.ServiceID == serviceID {
			toRelease = append(toRelease, label)
		}
	}
	for _, l := range toRelease {
		t.Release(l)
	}
}

// AllocationsFor returns the allocations held by serviceID.
func (t *Trunk) AllocationsFor(serviceID model.ServiceID) []Allocation {
	var out []Allocation
	for _, alloc := range t.allocated {
		if alloc.ServiceID == serviceID {
			out = append(out, alloc)
		}
	}
	return out
}

// SetDelay is an operator action (§6 Trunk management API).
func (t *Trunk) SetDelay(d float64) { t.Delay = d }

// SetBandwidth replaces the initial capacity. It does not retroactively
// validate existing allocations; operators are expected to reconfigure
// only idle or lightly-loaded trunks.
func (t *Trunk) SetBandwidth(up, down model.Bandwidth) {
	usedUp := t.capacityUp - t.remainingUp
	usedDown := t.capacityDown - t.remainingDown
	t.capacityUp, t.capacityDown = up, down
	t.remainingUp = up - usedUp
	t.remainingDown = down - usedDown
}

// ProvideLabels adds labels to the declared range on both sides, marking
// them free.
func (t *Trunk) ProvideLabels(labels []model.Label) {
	for _, l := range labels {
		if _, taken := t.allocated[l]; taken {
			continue
		}
		t.freeA[l] = struct{}{}
		t.freeB[l] = struct{}{}
	}
}

// RevokeLabels removes labels from the declared range. Only free labels
// may be removed (§4.4): if any of labels is allocated, it fails
// TERMINAL_IN_USE and removes none of them.
func (t *Trunk) RevokeLabels(labels []model.Label) error {
	for _, l := range labels {
		if _, allocated := t.allocated[l]; allocated {
			return model.NewError(model.KindTerminalInUse, fmt.Sprintf("trunk %d label %d", t.ID, l))
		}
	}
	for _, l := range labels {
		delete(t.freeA, l)
		delete(t.freeB, l)
	}
	return nil
}

// Decommission marks the trunk unusable for new allocations. It fails if
// the trunk has any live allocation (§9 Open Questions: removeTrunk vs
// in-flight services).
func (t *Trunk) Decommission() error {
	if len(t.allocated) > 0 {
		return model.NewError(model.KindTerminalInUse, fmt.Sprintf("trunk %d", t.ID))
	}
	t.decommissioned = true
	return nil
}
