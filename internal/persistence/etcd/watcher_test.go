package etcd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeWatcher is a hand-written clientv3.Watcher: each call to Watch opens
// a new channel the test can drive directly, so Watcher.Run's restart and
// error-handling branches can be exercised without a live etcd server.
type fakeWatcher struct {
	mu     sync.Mutex
	opened []chan clientv3.WatchResponse
	closed bool
}

func (f *fakeWatcher) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan clientv3.WatchResponse, 4)
	f.opened = append(f.opened, ch)
	return ch
}

func (f *fakeWatcher) RequestProgress(ctx context.Context) error { return nil }

func (f *fakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWatcher) channel(i int) chan clientv3.WatchResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[i]
}

func (f *fakeWatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func waitForChannels(t *testing.T, f *fakeWatcher, n int) {
	t.Helper()
	deadline := time.After(time.Second)
	for f.count() < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d watch channels, got %d", n, f.count())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWatcherInvokesHandlerOnEvents(t *testing.T) {
	fw := &fakeWatcher{}
	var handled [][]*mvccpb.Event
	var mu sync.Mutex
	handler := func(ctx context.Context, events []*mvccpb.Event) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, events)
		return nil
	}
	w := NewWatcher("/dpb/networks", handler, fw, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitForChannels(t, fw, 1)
	fw.channel(0) <- clientv3.WatchResponse{
		Header: etcdserverpb.ResponseHeader{Revision: 5},
		Events: []*clientv3.Event{{Kv: &mvccpb.KeyValue{Key: []byte("x")}}},
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestWatcherSkipsProgressNotify(t *testing.T) {
	fw := &fakeWatcher{}
	var calls int
	var mu sync.Mutex
	handler := func(ctx context.Context, events []*mvccpb.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}
	w := NewWatcher("/dpb/networks", handler, fw, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitForChannels(t, fw, 1)
	// A progress notify carries a nonzero revision and no events; it must
	// advance lastRevision without reaching the handler.
	fw.channel(0) <- clientv3.WatchResponse{Header: etcdserverpb.ResponseHeader{Revision: 9}}

	fw.channel(0) <- clientv3.WatchResponse{
		Header: etcdserverpb.ResponseHeader{Revision: 10},
		Events: []*clientv3.Event{{Kv: &mvccpb.KeyValue{Key: []byte("y")}}},
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestWatcherReopensOnCanceled(t *testing.T) {
	fw := &fakeWatcher{}
	handler := func(ctx context.Context, events []*mvccpb.Event) error { return nil }
	w := NewWatcher("/dpb/networks", handler, fw, 3, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitForChannels(t, fw, 1)
	fw.channel(0) <- clientv3.WatchResponse{Canceled: true, CompactRevision: 3}

	waitForChannels(t, fw, 2)

	cancel()
	<-done
}

func TestWatcherRestartsFromRequestedRevision(t *testing.T) {
	fw := &fakeWatcher{}
	handler := func(ctx context.Context, events []*mvccpb.Event) error { return nil }
	w := NewWatcher("/dpb/networks", handler, fw, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitForChannels(t, fw, 1)
	w.RestartFrom(42)
	// checkNeedRestart is only consulted when a response arrives; any
	// response on the current channel is enough to trigger it.
	fw.channel(0) <- clientv3.WatchResponse{Header: etcdserverpb.ResponseHeader{Revision: 5}}

	waitForChannels(t, fw, 2)
	assert.Equal(t, int64(42), w.lastRevision)

	cancel()
	<-done
}

func TestWatcherLogsAndSkipsHandlerError(t *testing.T) {
	fw := &fakeWatcher{}
	var calls int
	var mu sync.Mutex
	handler := func(ctx context.Context, events []*mvccpb.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("boom")
	}
	w := NewWatcher("/dpb/networks", handler, fw, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitForChannels(t, fw, 1)
	for i := 0; i < 2; i++ {
		fw.channel(0) <- clientv3.WatchResponse{
			Header: etcdserverpb.ResponseHeader{Revision: int64(i + 1)},
			Events: []*clientv3.Event{{Kv: &mvccpb.KeyValue{Key: []byte("x")}}},
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestWatcherReturnsOnChannelClose(t *testing.T) {
	fw := &fakeWatcher{}
	handler := func(ctx context.Context, events []*mvccpb.Event) error { return nil }
	w := NewWatcher("/dpb/networks", handler, fw, 0, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	waitForChannels(t, fw, 1)
	close(fw.channel(0))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after its watch channel closed")
	}
}
