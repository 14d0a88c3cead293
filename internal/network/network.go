// Package network implements the two Network variants — Switch and
// Aggregator — and the service lifecycle state machine shared by both
// (§3, §4.3, §4.5). Locking follows the teacher's apiruntime cache-entry
// shape: a guard protecting the terminal/service tables, with per-service
// state changes and listener fan-out kept off that lock so fabric and
// sub-service callbacks never block while a table lock is held (§5).
package network

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/model"
)

// Network is the composition-tree contract an Aggregator needs from its
// inferior networks: create a service, and resolve a terminal name when
// validating trunk/alias configuration. Switch and Aggregator both
// implement it; their additional, asymmetric management operations
// (AddTerminal, AddTrunk, ...) are exposed as typed methods on the
// concrete types rather than folded into this interface, since their
// signatures differ by variant (§6 "surface, not transport").
type Network interface {
	Name() model.NetworkName
	NewService() Service
	GetTerminal(name model.TerminalName) (model.Terminal, error)
	ListTerminals() []model.TerminalName
}

// Service is the per-network lifecycle object a ConnectionRequest is
// realised through (§3 Service, §6 Service API).
type Service interface {
	ID() model.ServiceID
	Initiate(request model.ConnectionRequest) error
	Activate() error
	Deactivate() error
	Release() error
	Status() model.State
	AddListener(model.Listener)
}

// core is the state-machine and listener plumbing shared by switchService
// and aggregatorService. It owns no domain logic; the concrete service
// types call into it to read/set state and to emit events, and hold their
// own lock for everything else.
type core struct {
	mu        sync.Mutex
	id        model.ServiceID
	state     model.State
	listeners []model.Listener
	log       zerolog.Logger
}

func newCore(id model.ServiceID, log zerolog.Logger) *core {
	return &core{id: id, state: model.Dormant, log: log}
}

func (c *core) ID() model.ServiceID { return c.id }

func (c *core) Status() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *core) AddListener(l model.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// setState installs a new state and returns the previous one. Callers
// decide separately whether/what to emit.
func (c *core) setState(s model.State) model.State {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	return prev
}

// emit fans an event out to every listener without holding c.mu, so a
// slow or misbehaving listener cannot stall a status() call or another
// goroutine's emit (§5).
func (c *core) emit(kind model.EventKind, endpoints []model.EndPoint, cause error) {
	c.mu.Lock()
	listeners := make([]model.Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	ev := model.Event{Kind: kind, ServiceID: c.id, Endpoints: endpoints, Cause: cause}
	c.log.Debug().Str("event", ev.String()).Msg("service event")
	for _, l := range listeners {
		l(ev)
	}
}

// registry is the shared terminal/service table shape used by both Switch
// and Aggregator, mirroring the teacher's dataPlaneCacheEntry/RWMutex
// pairing.
type registry[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func newRegistry[K comparable, V any]() *registry[K, V] {
	return &registry[K, V]{items: make(map[K]V)}
}

func (r *registry[K, V]) get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	return v, ok
}

func (r *registry[K, V]) put(key K, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = v
}

func (r *registry[K, V]) delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

func (r *registry[K, V]) has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[key]
	return ok
}

func (r *registry[K, V]) keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	return out
}

func (r *registry[K, V]) values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	return out
}
