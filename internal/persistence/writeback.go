// Package persistence wires a network.Network's service lifecycle to a
// durable store without internal/network importing anything about etcd,
// keeping persistence an outer concern layered on top of the core (§6:
// the core stays callable as a library; persistence is something a
// deployment adds around it).
package persistence

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/network"
)

// Store is the subset of internal/persistence/etcd.Store a write-through
// wrapper needs; kept as an interface so this package never imports the
// etcd client package directly.
type Store interface {
	UpsertService(ctx context.Context, net model.NetworkName, id model.ServiceID, request model.ConnectionRequest) error
	DeleteService(ctx context.Context, net model.NetworkName, id model.ServiceID) error
}

// Writeback wraps a network.Network so that every service it creates is
// upserted into store once it reaches EvReady (request accepted,
// resources committed) and deleted once it reaches EvReleased. Activate/
// Deactivate cycles do not change what is persisted, since restart
// reconciliation only needs to know which requests to replay (§4.6), not
// which ones happened to be active at the moment of the crash.
type Writeback struct {
	inner network.Network
	store Store
	log   zerolog.Logger
}

func NewWriteback(inner network.Network, store Store, log zerolog.Logger) *Writeback {
	return &Writeback{inner: inner, store: store, log: log}
}

func (w *Writeback) Name() model.NetworkName { return w.inner.Name() }

func (w *Writeback) GetTerminal(name model.TerminalName) (model.Terminal, error) {
	return w.inner.GetTerminal(name)
}

func (w *Writeback) ListTerminals() []model.TerminalName { return w.inner.ListTerminals() }

// Retain forwards to the wrapped network if it is itself a
// scheduler.Retainer (true for a Switch, not for an Aggregator), so
// wrapping a network in a Writeback never hides it from restart
// reconciliation's garbage-collection pass.
func (w *Writeback) Retain(ctx context.Context) error {
	if r, ok := w.inner.(interface{ Retain(context.Context) error }); ok {
		return r.Retain(ctx)
	}
	return nil
}

func (w *Writeback) NewService() network.Service {
	s := &writebackService{inner: w.inner.NewService(), net: w.inner.Name(), store: w.store, log: w.log}
	s.inner.AddListener(s.persist)
	return s
}

type writebackService struct {
	inner   network.Service
	net     model.NetworkName
	store   Store
	log     zerolog.Logger
	request model.ConnectionRequest
}

func (s *writebackService) ID() model.ServiceID { return s.inner.ID() }

func (s *writebackService) Initiate(request model.ConnectionRequest) error {
	s.request = request
	return s.inner.Initiate(request)
}

func (s *writebackService) Activate() error   { return s.inner.Activate() }
func (s *writebackService) Deactivate() error { return s.inner.Deactivate() }
func (s *writebackService) Release() error    { return s.inner.Release() }
func (s *writebackService) Status() model.State { return s.inner.Status() }

func (s *writebackService) AddListener(l model.Listener) { s.inner.AddListener(l) }

func (s *writebackService) persist(ev model.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case model.EvReady:
		if err := s.store.UpsertService(ctx, s.net, s.ID(), s.request); err != nil {
			s.log.Warn().Err(err).Uint64("service", uint64(s.ID())).Msg("failed to persist service")
		}
	case model.EvReleased:
		if err := s.store.DeleteService(ctx, s.net, s.ID()); err != nil {
			s.log.Warn().Err(err).Uint64("service", uint64(s.ID())).Msg("failed to delete persisted service")
		}
	}
}
