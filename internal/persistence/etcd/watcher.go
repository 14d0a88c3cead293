package etcd

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/api/v3/mvccpb"
)

// WatchHandler is invoked with every batch of events observed under a
// Watcher's prefix. Returning an error only logs; it does not stop the
// watch, mirroring the teacher's "log and skip" handling of handler
// failures.
type WatchHandler func(ctx context.Context, events []*mvccpb.Event) error

// Watcher resumes a prefix watch from a given revision and restarts it
// transparently on cancellation, so a leadership change or a transient
// etcd disconnect never loses events.
type Watcher struct {
	prefix  string
	handler WatchHandler
	watcher clientv3.Watcher
	log     zerolog.Logger

	lastRevision    int64
	resetToRevision atomic.Pointer[int64]
}

func NewWatcher(prefix string, handler WatchHandler, watcher clientv3.Watcher, startRevision int64, log zerolog.Logger) *Watcher {
	return &Watcher{
		prefix:       prefix,
		handler:      handler,
		watcher:      watcher,
		lastRevision: startRevision,
		log:          log.With().Str("component", "etcd-watcher").Str("prefix", prefix).Logger(),
	}
}

// Run watches until ctx is cancelled or the watch channel is closed.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = clientv3.WithRequireLeader(ctx)
	watch := func(rev int64) clientv3.WatchChan {
		return w.watcher.Watch(
			ctx,
			w.prefix,
			clientv3.WithRev(rev),
			clientv3.WithPrefix(),
			clientv3.WithCreatedNotify(),
		)
	}

	ch := watch(w.lastRevision)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-ch:
			if !ok {
				w.log.Info().Msg("watch channel closed")
				return nil
			}
			if restartRev, need := w.checkNeedRestart(); need {
				w.log.Warn().Int64("revision", restartRev).Msg("restarting watcher at requested revision")
				w.lastRevision = restartRev
				ch = watch(restartRev)
				continue
			}
			if resp.Canceled {
				w.log.Error().Err(resp.Err()).Msg("watch canceled, retrying")
				ch = watch(w.lastRevision)
				continue
			}
			if resp.Err() != nil {
				w.log.Error().Err(resp.Err()).Msg("unexpected watch error")
				continue
			}
			w.lastRevision = resp.Header.Revision
			if resp.IsProgressNotify() || len(resp.Events) == 0 {
				continue
			}
			events := make([]*mvccpb.Event, len(resp.Events))
			for i, e := range resp.Events {
				events[i] = (*mvccpb.Event)(e)
			}
			if err := w.handler(ctx, events); err != nil {
				w.log.Error().Err(err).Msg("watch handler failed, skipping batch")
			}
		}
	}
}

// RestartFrom requests the next iteration resume from revision, used
// after a compaction or a leadership handover.
func (w *Watcher) RestartFrom(revision int64) {
	w.resetToRevision.Store(&revision)
}

func (w *Watcher) checkNeedRestart() (int64, bool) {
	for {
		reset := w.resetToRevision.Load()
		if reset == nil {
			return 0, false
		}
		if !w.resetToRevision.CompareAndSwap(reset, nil) {
			continue
		}
		return *reset, true
	}
}

// NewReconcileWatcher watches the whole networks subtree and runs
// reconcile on every batch of changes observed there, so a record written
// by another broker replica (or restored by hand after an incident) is
// picked up immediately instead of waiting for the next poll interval
// (§9 planning leadership can move between replicas at any time; the
// replica that just won an election should not wait out a poll interval
// before it starts reconciling the aggregators it now owns).
func NewReconcileWatcher(client *Client, reconcile func(context.Context) error, log zerolog.Logger) *Watcher {
	handler := func(ctx context.Context, events []*mvccpb.Event) error {
		return reconcile(ctx)
	}
	return NewWatcher(networksFolder, handler, client.Raw(), 0, log)
}
