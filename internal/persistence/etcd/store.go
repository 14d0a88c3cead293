package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/scheduler"
)

// serviceRecord is the durable shape of a live service's plan (§6
// "persistence layout"): enough to re-Initiate it against its owning
// network after a restart.
type serviceRecord struct {
	Network model.NetworkName       `json:"network"`
	ID      model.ServiceID         `json:"id"`
	Request model.ConnectionRequest `json:"request"`
}

// kvClient is the subset of clientv3.Client a Store needs. Declaring it
// narrowly, rather than depending on *Client directly, lets store_test.go
// exercise every method against an in-memory fake instead of a live etcd
// cluster.
type kvClient interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

// Store persists terminals, trunks, and live service plans under the
// key layout of paths.go, and satisfies scheduler.PersistedState so a
// Reconciler can replay what it holds after a restart.
type Store struct {
	kv kvClient
}

func NewStore(client *Client) *Store {
	return &Store{kv: client.Raw()}
}

// UpsertService records request as the live plan for a service. The
// write is a single put, so it is atomic per-service as §6 requires;
// callers are expected to call this once a service reaches INACTIVE or
// ACTIVE and to call DeleteService once it reaches RELEASED.
func (s *Store) UpsertService(ctx context.Context, network model.NetworkName, id model.ServiceID, request model.ConnectionRequest) error {
	rec := serviceRecord{Network: network, ID: id, Request: request}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal service record: %w", err)
	}
	_, err = s.kv.Put(ctx, serviceKey(network, id), string(payload))
	if err != nil {
		return fmt.Errorf("failed to persist service %s/%d: %w", network, id, err)
	}
	return nil
}

func (s *Store) DeleteService(ctx context.Context, network model.NetworkName, id model.ServiceID) error {
	_, err := s.kv.Delete(ctx, serviceKey(network, id))
	if err != nil {
		return fmt.Errorf("failed to delete service %s/%d: %w", network, id, err)
	}
	return nil
}

// UpsertTerminal records a terminal's backing so an aggregator's
// external-terminal aliasing survives a restart. backing is the empty
// Terminal for a Switch terminal (it has no backing, only a fabric
// interface description, which the agent registry re-derives from
// config rather than from this store).
func (s *Store) UpsertTerminal(ctx context.Context, network model.NetworkName, name model.TerminalName, backing model.Terminal) error {
	payload, err := json.Marshal(backing)
	if err != nil {
		return fmt.Errorf("failed to marshal terminal record: %w", err)
	}
	_, err = s.kv.Put(ctx, terminalKey(network, name), string(payload))
	if err != nil {
		return fmt.Errorf("failed to persist terminal %s/%s: %w", network, name, err)
	}
	return nil
}

func (s *Store) DeleteTerminal(ctx context.Context, network model.NetworkName, name model.TerminalName) error {
	_, err := s.kv.Delete(ctx, terminalKey(network, name))
	if err != nil {
		return fmt.Errorf("failed to delete terminal %s/%s: %w", network, name, err)
	}
	return nil
}

// trunkRecord is the durable shape of a trunk declaration. Label
// allocations themselves are not persisted here: a trunk is
// reconstructed fresh from its declared range, and allocations are
// re-established as a byproduct of replaying the services that hold
// them (§4.6).
type trunkRecord struct {
	ID        uint64          `json:"id"`
	TerminalA model.Terminal  `json:"terminal_a"`
	TerminalB model.Terminal  `json:"terminal_b"`
	Delay     float64         `json:"delay"`
	Up        model.Bandwidth `json:"up"`
	Down      model.Bandwidth `json:"down"`
	Labels    []model.Label   `json:"labels"`
}

func (s *Store) UpsertTrunk(ctx context.Context, aggregator model.NetworkName, id uint64, a, b model.Terminal, delay float64, up, down model.Bandwidth, labels []model.Label) error {
	rec := trunkRecord{ID: id, TerminalA: a, TerminalB: b, Delay: delay, Up: up, Down: down, Labels: labels}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal trunk record: %w", err)
	}
	_, err = s.kv.Put(ctx, trunkKey(aggregator, id), string(payload))
	if err != nil {
		return fmt.Errorf("failed to persist trunk %s/%d: %w", aggregator, id, err)
	}
	return nil
}

func (s *Store) DeleteTrunk(ctx context.Context, aggregator model.NetworkName, id uint64) error {
	_, err := s.kv.Delete(ctx, trunkKey(aggregator, id))
	if err != nil {
		return fmt.Errorf("failed to delete trunk %s/%d: %w", aggregator, id, err)
	}
	return nil
}

// LiveServices implements scheduler.PersistedState: every persisted
// service record, across every network, as currently stored.
func (s *Store) LiveServices(ctx context.Context) ([]scheduler.PersistedService, error) {
	resp, err := s.kv.Get(ctx, networksFolder, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list persisted networks: %w", err)
	}

	out := make([]scheduler.PersistedService, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if !strings.Contains(string(kv.Key), "/services/") {
			continue
		}
		var rec serviceRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal service record at %s: %w", kv.Key, err)
		}
		out = append(out, scheduler.PersistedService{Network: rec.Network, Request: rec.Request})
	}
	return out, nil
}
