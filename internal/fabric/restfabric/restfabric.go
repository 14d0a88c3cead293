// Package restfabric sketches the transport shape a concrete driver for
// an HTTP-managed switch (e.g. a Corsa DP2000-family device, per
// original_source's uk.ac.lancs.networks.corsa package) would fill in.
// It is not a working Corsa client: the request/response bodies below are
// a plausible shape, not the vendor's real API, which is out of scope
// (§1). What is real is the retry/backoff and error-mapping idiom, lifted
// from the teacher's reconciler.
package restfabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/model"
)

// Settings configures a Driver.
type Settings struct {
	BaseURL    string
	HTTPClient *http.Client
	Attempts   uint
	Log        zerolog.Logger
}

// Driver is an HTTP-transport Fabric driver. It does not track bridge
// state itself; the device is the source of truth, queried through the
// endpoints below.
type Driver struct {
	baseURL  string
	client   *http.Client
	attempts uint
	log      zerolog.Logger
}

func New(settings Settings) *Driver {
	client := settings.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	attempts := settings.Attempts
	if attempts == 0 {
		attempts = 3
	}
	return &Driver{baseURL: settings.BaseURL, client: client, attempts: attempts, log: settings.Log}
}

type interfaceResponse struct {
	Port  string  `json:"port"`
	Outer *uint32 `json:"outerTag,omitempty"`
}

func (d *Driver) InterfacesOf(ctx context.Context, description string) (fabric.Interface, error) {
	var resp interfaceResponse
	err := d.do(ctx, http.MethodGet, fmt.Sprintf("/interfaces/%s", description), nil, &resp)
	if err != nil {
		return fabric.Interface{}, model.WrapError(model.KindUnknownInterface, description, err)
	}
	iface := fabric.Interface{Port: resp.Port}
	if resp.Outer != nil {
		label := model.Label(*resp.Outer)
		iface.Outer = &label
	}
	return iface, nil
}

type circuitPayload struct {
	Port       string `json:"port"`
	OuterTag   uint32 `json:"outerTag,omitempty"`
	Label      uint32 `json:"label"`
	Upstream   uint64 `json:"upstreamBps"`
	Downstream uint64 `json:"downstreamBps"`
}

type bridgeRequest struct {
	Circuits []circuitPayload `json:"circuits"`
}

type bridgeResponse struct {
	ID string `json:"id"`
}

// remoteBridge is the Bridge handle returned for a device-side bridge; it
// carries no behaviour of its own, just the data the broker already sent.
type remoteBridge struct {
	id       fabric.BridgeID
	circuits map[fabric.Circuit]fabric.TrafficFlow
}

func (b *remoteBridge) ID() fabric.BridgeID { return b.id }
func (b *remoteBridge) Circuits() map[fabric.Circuit]fabric.TrafficFlow {
	return b.circuits
}

// RequestBridge posts the circuit set to the device and polls for
// completion is left to a future watcher goroutine; for now the listener
// is invoked synchronously from the retried call once the device accepts
// the request, matching the "fire and forget, confirm later" shape other
// drivers use but without an actual async confirmation channel — a real
// Corsa driver would instead subscribe to the device's event stream.
func (d *Driver) RequestBridge(ctx context.Context, listener fabric.BridgeListener, circuits map[fabric.Circuit]fabric.TrafficFlow) (fabric.Bridge, error) {
	req := bridgeRequest{Circuits: make([]circuitPayload, 0, len(circuits))}
	for c, flow := range circuits {
		p := circuitPayload{
			Port:       c.Interface.Port,
			Label:      uint32(c.Label),
			Upstream:   uint64(flow.Upstream),
			Downstream: uint64(flow.Downstream),
		}
		if c.Interface.Outer != nil {
			p.OuterTag = uint32(*c.Interface.Outer)
		}
		req.Circuits = append(req.Circuits, p)
	}

	var resp bridgeResponse
	err := retry.Do(
		func() error { return d.do(ctx, http.MethodPost, "/bridges", req, &resp) },
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(attempt uint, err error) {
			d.log.Warn().Err(err).Uint("attempt", uint(attempt)).Msg("bridge request failed, retrying")
		}),
	)
	if err != nil {
		if listener != nil {
			listener(fabric.Event{Status: fabric.StatusError, Cause: err})
		}
		return nil, model.WrapError(model.KindFabricError, "bridge", err)
	}

	if listener != nil {
		listener(fabric.Event{Status: fabric.StatusCreated})
	}
	return &remoteBridge{id: fabric.BridgeID(resp.ID), circuits: cloneCircuits(circuits)}, nil
}

func (d *Driver) DestroyBridge(ctx context.Context, id fabric.BridgeID) error {
	err := d.do(ctx, http.MethodDelete, fmt.Sprintf("/bridges/%s", id), nil, nil)
	if err != nil {
		return model.WrapError(model.KindFabricError, string(id), err)
	}
	return nil
}

type retainRequest struct {
	Live []string `json:"live"`
}

func (d *Driver) Retain(ctx context.Context, live []fabric.BridgeID) error {
	ids := make([]string, len(live))
	for i, id := range live {
		ids[i] = string(id)
	}
	err := d.do(ctx, http.MethodPost, "/bridges/retain", retainRequest{Live: ids}, nil)
	if err != nil {
		return model.WrapError(model.KindFabricError, "retain", err)
	}
	return nil
}

func (d *Driver) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s %s", resp.StatusCode, method, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func cloneCircuits(in map[fabric.Circuit]fabric.TrafficFlow) map[fabric.Circuit]fabric.TrafficFlow {
	out := make(map[fabric.Circuit]fabric.TrafficFlow, len(in))
	for c, f := range in {
		out[c] = f
	}
	return out
}
