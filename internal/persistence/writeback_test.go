package persistence

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ng-cdi/dpb/internal/fabric/memfabric"
	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/network"
)

type recordingStore struct {
	upserts []model.ServiceID
	deletes []model.ServiceID
}

func (r *recordingStore) UpsertService(ctx context.Context, net model.NetworkName, id model.ServiceID, request model.ConnectionRequest) error {
	r.upserts = append(r.upserts, id)
	return nil
}

func (r *recordingStore) DeleteService(ctx context.Context, net model.NetworkName, id model.ServiceID) error {
	r.deletes = append(r.deletes, id)
	return nil
}

func newTestSwitch(t *testing.T) *network.Switch {
	t.Helper()
	fab := memfabric.New(memfabric.Settings{Name: "S1"})
	sw := network.NewSwitch("S1", fab, zerolog.Nop())
	require.NoError(t, sw.AddTerminal(context.Background(), "a", "a"))
	require.NoError(t, sw.AddTerminal(context.Background(), "b", "b"))
	return sw
}

func TestWritebackUpsertsOnReady(t *testing.T) {
	sw := newTestSwitch(t)
	store := &recordingStore{}
	wb := NewWriteback(sw, store, zerolog.Nop())

	svc := wb.NewService()
	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
			{Terminal: model.Terminal{Network: "S1", Name: "b"}, Label: 2},
		},
		Bandwidth: 100,
	}
	require.NoError(t, svc.Initiate(req))

	assert.Equal(t, []model.ServiceID{svc.ID()}, store.upserts)
	assert.Empty(t, store.deletes)
}

func TestWritebackDeletesOnRelease(t *testing.T) {
	sw := newTestSwitch(t)
	store := &recordingStore{}
	wb := NewWriteback(sw, store, zerolog.Nop())

	svc := wb.NewService()
	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
			{Terminal: model.Terminal{Network: "S1", Name: "b"}, Label: 2},
		},
		Bandwidth: 100,
	}
	require.NoError(t, svc.Initiate(req))
	require.NoError(t, svc.Release())

	assert.Equal(t, []model.ServiceID{svc.ID()}, store.deletes)
}

func TestWritebackForwardsRetain(t *testing.T) {
	sw := newTestSwitch(t)
	store := &recordingStore{}
	wb := NewWriteback(sw, store, zerolog.Nop())

	svc := wb.NewService()
	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
			{Terminal: model.Terminal{Network: "S1", Name: "b"}, Label: 2},
		},
		Bandwidth: 100,
	}
	require.NoError(t, svc.Initiate(req))

	require.NoError(t, wb.Retain(context.Background()))
	assert.Len(t, sw.ListServices(), 1)
}

func TestWritebackForwardsCallerListeners(t *testing.T) {
	sw := newTestSwitch(t)
	store := &recordingStore{}
	wb := NewWriteback(sw, store, zerolog.Nop())

	svc := wb.NewService()
	var seen []model.EventKind
	svc.AddListener(func(ev model.Event) { seen = append(seen, ev.Kind) })

	req := model.ConnectionRequest{
		Endpoints: []model.EndPoint{
			{Terminal: model.Terminal{Network: "S1", Name: "a"}, Label: 1},
			{Terminal: model.Terminal{Network: "S1", Name: "b"}, Label: 2},
		},
		Bandwidth: 100,
	}
	require.NoError(t, svc.Initiate(req))

	assert.Contains(t, seen, model.EvReady)
}
