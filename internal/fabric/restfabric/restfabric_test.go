package restfabric

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/model"
)

func TestInterfacesOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/interfaces/eth0", r.URL.Path)
		_ = json.NewEncoder(w).Encode(interfaceResponse{Port: "eth0"})
	}))
	defer srv.Close()

	d := New(Settings{BaseURL: srv.URL})
	iface, err := d.InterfacesOf(context.Background(), "eth0")
	require.NoError(t, err)
	assert.Equal(t, "eth0", iface.Port)
	assert.Nil(t, iface.Outer)
}

func TestRequestBridgeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bridges", r.URL.Path)
		var req bridgeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Circuits, 1)
		_ = json.NewEncoder(w).Encode(bridgeResponse{ID: "br-1"})
	}))
	defer srv.Close()

	d := New(Settings{BaseURL: srv.URL})
	circuits := map[fabric.Circuit]fabric.TrafficFlow{
		{Interface: fabric.Interface{Port: "eth0"}, Label: model.Label(5)}: {Upstream: 100, Downstream: 100},
	}

	var got fabric.Event
	b, err := d.RequestBridge(context.Background(), func(e fabric.Event) { got = e }, circuits)
	require.NoError(t, err)
	assert.Equal(t, fabric.BridgeID("br-1"), b.ID())
	assert.Equal(t, fabric.StatusCreated, got.Status)
}

func TestRequestBridgeRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Settings{BaseURL: srv.URL, Attempts: 2})
	circuits := map[fabric.Circuit]fabric.TrafficFlow{
		{Interface: fabric.Interface{Port: "eth0"}, Label: model.Label(5)}: {Upstream: 100, Downstream: 100},
	}

	var got fabric.Event
	_, err := d.RequestBridge(context.Background(), func(e fabric.Event) { got = e }, circuits)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindFabricError, merr.Kind)
	assert.Equal(t, fabric.StatusError, got.Status)
	assert.Equal(t, 2, attempts)
}

func TestDestroyBridge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/bridges/br-1", r.URL.Path)
	}))
	defer srv.Close()

	d := New(Settings{BaseURL: srv.URL})
	require.NoError(t, d.DestroyBridge(context.Background(), fabric.BridgeID("br-1")))
}

func TestRetain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bridges/retain", r.URL.Path)
		var req retainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"br-1", "br-2"}, req.Live)
	}))
	defer srv.Close()

	d := New(Settings{BaseURL: srv.URL})
	require.NoError(t, d.Retain(context.Background(), []fabric.BridgeID{"br-1", "br-2"}))
}
