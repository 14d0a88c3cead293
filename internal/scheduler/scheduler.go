// Package scheduler drives the broker's restart reconciliation (§4.6):
// replaying persisted services against their owning networks and then
// telling every fabric which bridges are still wanted, so nothing a
// previous process instance created is leaked. It also runs that sweep
// on an ongoing, rate-limited cadence to pick up drift between restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/network"
)

// PersistedService is one durably recorded service the broker had
// accepted before it last stopped.
type PersistedService struct {
	Network model.NetworkName
	Request model.ConnectionRequest
}

// PersistedState is the subset of the persistence layer the reconciler
// needs to replay live services after a restart.
type PersistedState interface {
	LiveServices(ctx context.Context) ([]PersistedService, error)
}

// Retainer is a network able to garbage-collect fabric state that
// wasn't just re-established by replay (only Switch implements this;
// an Aggregator has no fabric bridges of its own).
type Retainer interface {
	Retain(ctx context.Context) error
}

// Networks resolves every network the broker knows about, by name.
type Networks interface {
	Network(name model.NetworkName) (network.Network, bool)
	All() []network.Network
}

// Reconciler performs one replay-and-retain pass (§4.6): reconstruct
// each live service's reservations by re-initiating it against its
// owning network, then retain only the bridges that replay produced.
type Reconciler struct {
	networks Networks
	state    PersistedState
	log      zerolog.Logger
}

func NewReconciler(networks Networks, state PersistedState, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		networks: networks,
		state:    state,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile replays every persisted live service and then retains, on
// every network capable of it, exactly the fabric state that replay
// re-created. A service whose persisted request is no longer routable
// is logged and skipped rather than aborting the whole pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	services, err := r.state.LiveServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted services: %w", err)
	}

	replayed := 0
	for _, ps := range services {
		net, ok := r.networks.Network(ps.Network)
		if !ok {
			r.log.Warn().Str("network", string(ps.Network)).Msg("persisted service references unknown network, skipping")
			continue
		}
		svc := net.NewService()
		if err := svc.Initiate(ps.Request); err != nil {
			r.log.Error().Err(err).Str("network", string(ps.Network)).Msg("failed to replay persisted service")
			continue
		}
		replayed++
	}
	r.log.Info().Int("replayed", replayed).Int("total", len(services)).Msg("replayed persisted services")

	for _, net := range r.networks.All() {
		retainer, ok := net.(Retainer)
		if !ok {
			continue
		}
		if err := retainer.Retain(ctx); err != nil {
			r.log.Error().Err(err).Str("network", string(net.Name())).Msg("failed to retain fabric state")
			return fmt.Errorf("failed to retain state for network %s: %w", net.Name(), err)
		}
	}
	return nil
}

// Scheduler runs Reconcile on a rate-limited cadence, spending more of
// the token bucket after an error so a broker stuck in a bad state
// backs off instead of hammering the fabric.
type Scheduler struct {
	reconciler *Reconciler
	limiter    *rate.Limiter
	log        zerolog.Logger

	afterErrorTokenUsage int
	afterOkTokenUsage    int
	wasError             bool
}

func NewScheduler(reconciler *Reconciler, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		reconciler:           reconciler,
		limiter:              rate.NewLimiter(rate.Every(interval), 4),
		log:                  log.With().Str("component", "scheduler").Logger(),
		afterErrorTokenUsage: 2,
		afterOkTokenUsage:    1,
	}
}

// Run blocks, reconciling at the configured interval until ctx is
// cancelled. The first pass runs immediately and performs the §4.6
// restart reconciliation; every subsequent pass picks up drift.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		tokens := s.afterOkTokenUsage
		if s.wasError {
			tokens = s.afterErrorTokenUsage
		}
		if err := s.limiter.WaitN(ctx, tokens); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Error().Err(err).Msg("unexpected limiter error, retrying shortly")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := s.runIteration(ctx); err != nil {
			s.log.Error().Err(err).Msg("reconciliation iteration failed")
			s.wasError = true
			continue
		}
		s.wasError = false
	}
}

func (s *Scheduler) runIteration(ctx context.Context) error {
	reqID := uuid.New().String()
	iterCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return retry.Do(
		func() error { return s.reconciler.Reconcile(iterCtx) },
		retry.Context(iterCtx),
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(attempt uint, err error) {
			s.log.Warn().Err(err).Str("request", reqID).Uint("attempt", attempt).Msg("reconciliation attempt failed")
		}),
	)
}
