package network

import (
	"context"
	"sync"

	"github.com/ng-cdi/dpb/internal/fabric"
)

// faultFabric is a Fabric double that always fails a bridge request
// asynchronously, the way a real driver accepts a request and only later
// reports a backend rejection on its own goroutine (§4.2 Failure
// semantics). memfabric.MemFabric never fails RequestBridge, so it cannot
// exercise switchService's Failed transition or aggregatorService's
// rollback; faultFabric exists only to give those paths something to run
// against.
type faultFabric struct {
	mu    sync.Mutex
	cause error
	seq   uint64
}

func newFaultFabric(cause error) *faultFabric {
	return &faultFabric{cause: cause}
}

func (f *faultFabric) InterfacesOf(ctx context.Context, description string) (fabric.Interface, error) {
	return fabric.Interface{Port: description}, nil
}

func (f *faultFabric) RequestBridge(ctx context.Context, listener fabric.BridgeListener, circuits map[fabric.Circuit]fabric.TrafficFlow) (fabric.Bridge, error) {
	f.mu.Lock()
	f.seq++
	f.mu.Unlock()
	if listener != nil {
		go listener(fabric.Event{Status: fabric.StatusError, Cause: f.cause})
	}
	return nil, nil
}

func (f *faultFabric) DestroyBridge(ctx context.Context, id fabric.BridgeID) error { return nil }

func (f *faultFabric) Retain(ctx context.Context, live []fabric.BridgeID) error { return nil }

// requests reports how many bridge requests this fabric has seen, for
// assertions that a failed initiation requested exactly one bridge.
func (f *faultFabric) requests() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}
