// Package memfabric is an in-memory Fabric driver: bridge requests are
// satisfied immediately (after an optional simulated latency) rather than
// by talking to real switch hardware. It backs unit tests of
// internal/network and the cmd/fabricsim standalone harness.
//
// Construction follows the teacher's strategy-settings shape
// (healthcheck/pkg/strategies/mockhc): a plain Settings struct consumed by
// a constructor, no hidden global state.
package memfabric

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/fabric"
)

// Settings configures a MemFabric instance.
type Settings struct {
	Name string
	// Latency simulates asynchronous provisioning: RequestBridge returns
	// immediately, but the listener's Created event fires after this
	// delay on its own goroutine, the same way a real driver's control
	// plane would confirm out of band.
	Latency time.Duration
	Log     zerolog.Logger
}

type bridge struct {
	id       fabric.BridgeID
	key      string
	circuits map[fabric.Circuit]fabric.TrafficFlow
}

func (b *bridge) ID() fabric.BridgeID { return b.id }

func (b *bridge) Circuits() map[fabric.Circuit]fabric.TrafficFlow {
	out := make(map[fabric.Circuit]fabric.TrafficFlow, len(b.circuits))
	for c, f := range b.circuits {
		out[c] = f
	}
	return out
}

// MemFabric is a Fabric whose bridges live only in process memory.
// RequestBridge is idempotent: two requests with an identical circuit set
// are folded into the same bridge, as real fabrics are expected to do
// (§4.2).
type MemFabric struct {
	mu      sync.Mutex
	name    string
	latency time.Duration
	log     zerolog.Logger

	seq     uint64
	bridges map[fabric.BridgeID]*bridge
	byKey   map[string]fabric.BridgeID
}

func New(settings Settings) *MemFabric {
	return &MemFabric{
		name:    settings.Name,
		latency: settings.Latency,
		log:     settings.Log,
		bridges: make(map[fabric.BridgeID]*bridge),
		byKey:   make(map[string]fabric.BridgeID),
	}
}

func (m *MemFabric) InterfacesOf(ctx context.Context, description string) (fabric.Interface, error) {
	return fabric.Interface{Port: description}, nil
}

func (m *MemFabric) RequestBridge(ctx context.Context, listener fabric.BridgeListener, circuits map[fabric.Circuit]fabric.TrafficFlow) (fabric.Bridge, error) {
	key := canonicalKey(circuits)

	m.mu.Lock()
	if id, ok := m.byKey[key]; ok {
		existing := m.bridges[id]
		m.mu.Unlock()
		m.log.Debug().Str("bridge", string(id)).Msg("bridge request folded into existing bridge")
		if listener != nil {
			go listener(fabric.Event{Status: fabric.StatusCreated})
		}
		return existing, nil
	}

	m.seq++
	id := fabric.BridgeID(fmt.Sprintf("%s-%d", m.name, m.seq))
	b := &bridge{id: id, key: key, circuits: cloneCircuits(circuits)}
	m.bridges[id] = b
	m.byKey[key] = id
	m.mu.Unlock()

	m.log.Debug().Str("bridge", string(id)).Int("circuits", len(circuits)).Msg("bridge created")
	if listener != nil {
		go func() {
			if m.latency > 0 {
				time.Sleep(m.latency)
			}
			listener(fabric.Event{Status: fabric.StatusCreated})
		}()
	}
	return b, nil
}

func (m *MemFabric) DestroyBridge(ctx context.Context, id fabric.BridgeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bridges[id]
	if !ok {
		return nil // already gone; destroy is idempotent
	}
	delete(m.bridges, id)
	delete(m.byKey, b.key)
	m.log.Debug().Str("bridge", string(id)).Msg("bridge destroyed")
	return nil
}

// Retain garbage-collects every bridge not named in live, mirroring what a
// real driver does when asked to reconcile after a broker restart (§4.6).
func (m *MemFabric) Retain(ctx context.Context, live []fabric.BridgeID) error {
	keep := make(map[fabric.BridgeID]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.bridges {
		if _, ok := keep[id]; ok {
			continue
		}
		delete(m.bridges, id)
		delete(m.byKey, b.key)
		m.log.Debug().Str("bridge", string(id)).Msg("bridge reaped by retain")
	}
	return nil
}

// BridgeCount reports how many bridges currently exist, for tests.
func (m *MemFabric) BridgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bridges)
}

// LookupBridge returns the bridge bound to a circuit set equal to
// circuits, for test assertions.
func (m *MemFabric) LookupBridge(circuits map[fabric.Circuit]fabric.TrafficFlow) (fabric.Bridge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[canonicalKey(circuits)]
	if !ok {
		return nil, false
	}
	return m.bridges[id], true
}

func cloneCircuits(in map[fabric.Circuit]fabric.TrafficFlow) map[fabric.Circuit]fabric.TrafficFlow {
	out := make(map[fabric.Circuit]fabric.TrafficFlow, len(in))
	for c, f := range in {
		out[c] = f
	}
	return out
}

// canonicalKey renders a circuit set order-independently so that two
// logically identical bridge requests land on the same bridge.
func canonicalKey(circuits map[fabric.Circuit]fabric.TrafficFlow) string {
	parts := make([]string, 0, len(circuits))
	for c, f := range circuits {
		parts = append(parts, fmt.Sprintf("%s|%d|%d", c, f.Upstream, f.Downstream))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
