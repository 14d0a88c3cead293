// brokerd is the data-plane broker daemon: it loads a topology of
// Switch/Aggregator agents from a directory of config files, persists
// and replays service state through etcd, and campaigns for a
// per-aggregator planning election. Holding that election is only
// logged: planning and reconciliation run on every replica whether or
// not it holds it. The management/service API itself is
// exposed as the internal/network.Network Go interface (§6 "surface,
// not transport"); this binary's own job is bootstrapping that surface
// and keeping it reconciled, the way the teacher's cmd/controller
// bootstraps its gRPC server and sharder.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ng-cdi/dpb/internal/agent"
	"github.com/ng-cdi/dpb/internal/config"
	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/fabric/memfabric"
	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/network"
	"github.com/ng-cdi/dpb/internal/persistence"
	"github.com/ng-cdi/dpb/internal/persistence/etcd"
	"github.com/ng-cdi/dpb/internal/scheduler"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	settings, err := config.LoadDaemonSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read daemon settings")
	}
	log.Logger = log.Level(settings.LogLevel())

	client, err := etcd.New(etcd.Settings{
		Endpoints: settings.EtcdEndpoints,
		NodeID:    settings.NodeID,
		Log:       log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to etcd")
	}
	defer client.Close()

	store := etcd.NewStore(client)

	specs, err := loadTopology(settings.TopologyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load topology")
	}

	registry, err := agent.Load(ctx, specs, memFabricFactory, store, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build network agents")
	}

	wrapped := wrapWithPersistence(registry, store, log.Logger)

	for _, spec := range specs {
		if spec.Type != "aggregator" {
			continue
		}
		go holdLeadership(ctx, client, spec.Name, log.Logger)
	}

	reconciler := scheduler.NewReconciler(wrapped, store, log.Logger)
	sched := scheduler.NewScheduler(reconciler, settings.ReconcileInterval, log.Logger)
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	watcher := etcd.NewReconcileWatcher(client, reconciler.Reconcile, log.Logger)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("etcd watcher stopped")
		}
	}()

	closeProbe := startProbeServer(settings.ListenAddr)
	defer closeProbe()

	<-ctx.Done()
}

// memFabricFactory always backs a Switch with memfabric: no vendor
// driver selection exists in the topology config yet (§9 "do not guess
// intent" — VLANCircuitFabric semantics are left unimplemented), so
// every deployment of this binary runs against the simulated fabric
// until a concrete driver's config shape is specified.
func memFabricFactory(spec config.NetworkSpec) (fabric.Fabric, error) {
	return memfabric.New(memfabric.Settings{Name: string(spec.Name), Log: log.Logger}), nil
}

func loadTopology(dir string) ([]config.NetworkSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology directory %s: %w", dir, err)
	}
	var specs []config.NetworkSpec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		spec, err := config.LoadNetworkSpec(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load topology file %s: %w", entry.Name(), err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// wrapWithPersistence returns the broker's public network set, each
// entry wrapped so every service it accepts is written through to
// store. Sub-services an Aggregator synthesizes against its own
// inferiors are not independently wrapped: they are recreated as a
// byproduct of replaying the top-level request that produced them
// (§4.6), so only the networks a management client can name directly
// need the write-through behaviour.
func wrapWithPersistence(registry *agent.Registry, store *etcd.Store, log zerolog.Logger) *namedNetworks {
	out := &namedNetworks{nets: make(map[model.NetworkName]network.Network)}
	for _, net := range registry.All() {
		out.nets[net.Name()] = persistence.NewWriteback(net, store, log)
	}
	return out
}

type namedNetworks struct {
	nets map[model.NetworkName]network.Network
}

func (n *namedNetworks) Network(name model.NetworkName) (network.Network, bool) {
	net, ok := n.nets[name]
	return net, ok
}

func (n *namedNetworks) All() []network.Network {
	out := make([]network.Network, 0, len(n.nets))
	for _, net := range n.nets {
		out = append(out, net)
	}
	return out
}

// holdLeadership campaigns for aggregator's planning election and
// recampaigns if leadership is ever lost, until ctx is cancelled.
func holdLeadership(ctx context.Context, client *etcd.Client, aggregator model.NetworkName, log zerolog.Logger) {
	for ctx.Err() == nil {
		done, err := client.BecomeLeader(ctx, aggregator)
		if err != nil {
			log.Error().Err(err).Str("aggregator", string(aggregator)).Msg("failed to campaign for planning leadership")
			return
		}
		select {
		case <-done:
			log.Warn().Str("aggregator", string(aggregator)).Msg("lost planning leadership, recampaigning")
		case <-ctx.Done():
			return
		}
	}
}

func startProbeServer(addr string) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("probe server stopped")
		}
	}()
	return func() { _ = srv.Close() }
}
