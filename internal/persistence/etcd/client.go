package etcd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/ng-cdi/dpb/internal/model"
)

const leaderLeaseTTLSeconds = 15

// Client wraps an etcd client with the per-aggregator leader elections
// planning leadership arbitration needs (§9 "registry", grounded on
// control-plane/internal/etcd/reconciler.go's ReconcilerClient).
//
// cmd/brokerd runs one holdLeadership goroutine per aggregator against a
// single shared Client, so elections needs its own lock distinct from
// anything guarding the networks themselves.
type Client struct {
	nodeID string
	etcd   *clientv3.Client
	log    zerolog.Logger

	mu        sync.Mutex
	elections map[model.NetworkName]*election
}

type election struct {
	session  *concurrency.Session
	election *concurrency.Election
}

// Settings configures a Client.
type Settings struct {
	Endpoints []string
	NodeID    string
	Log       zerolog.Logger
}

func New(settings Settings) (*Client, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: settings.Endpoints})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &Client{
		nodeID:    settings.NodeID,
		etcd:      cli,
		log:       settings.Log.With().Str("component", "etcd-client").Logger(),
		elections: make(map[model.NetworkName]*election),
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	elections := c.elections
	c.elections = make(map[model.NetworkName]*election)
	c.mu.Unlock()

	for name, el := range elections {
		if err := el.election.Resign(context.Background()); err != nil {
			c.log.Warn().Err(err).Str("aggregator", string(name)).Msg("failed to resign leadership on close")
		}
		if err := el.session.Close(); err != nil {
			c.log.Warn().Err(err).Str("aggregator", string(name)).Msg("failed to close election session")
		}
	}
	return c.etcd.Close()
}

func (c *Client) Raw() *clientv3.Client { return c.etcd }

// BecomeLeader blocks until this node wins the planning election for
// aggregator, then returns a channel closed when leadership is lost
// (session death, resignation, or ctx cancellation).
func (c *Client) BecomeLeader(ctx context.Context, aggregator model.NetworkName) (<-chan struct{}, error) {
	session, err := concurrency.NewSession(
		c.etcd,
		concurrency.WithContext(ctx),
		concurrency.WithTTL(leaderLeaseTTLSeconds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create election session: %w", err)
	}
	el := concurrency.NewElection(session, leadershipKey(aggregator))

	for {
		err = el.Campaign(ctx, c.nodeID)
		if errors.Is(err, concurrency.ErrElectionNotLeader) {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to campaign for aggregator %s leadership: %w", aggregator, err)
		}
		break
	}

	c.log.Info().Str("aggregator", string(aggregator)).Str("node", c.nodeID).Msg("won planning leadership")
	c.mu.Lock()
	c.elections[aggregator] = &election{session: session, election: el}
	c.mu.Unlock()
	return session.Done(), nil
}

// Resign gives up planning leadership for aggregator, if held.
func (c *Client) Resign(ctx context.Context, aggregator model.NetworkName) error {
	c.mu.Lock()
	el, ok := c.elections[aggregator]
	if ok {
		delete(c.elections, aggregator)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := el.election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign leadership for %s: %w", aggregator, err)
	}
	return el.session.Close()
}
