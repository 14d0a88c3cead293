package network

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/graph"
	"github.com/ng-cdi/dpb/internal/model"
	"github.com/ng-cdi/dpb/internal/trunk"
)

type planEdge struct {
	tr    *trunk.Trunk
	alloc trunk.Allocation
}

// aggregatorService is the Aggregator's Service implementation: the
// planner (§4.5) lives here.
type aggregatorService struct {
	*core
	agg *Aggregator

	mu      sync.Mutex
	request model.ConnectionRequest
	edges   []planEdge
	sub     map[model.NetworkName]Service
}

func newAggregatorService(id model.ServiceID, agg *Aggregator, log zerolog.Logger) *aggregatorService {
	return &aggregatorService{
		core: newCore(id, log.With().Str("component", "aggregator-service").Uint64("service", uint64(id)).Logger()),
		agg:  agg,
		sub:  make(map[model.NetworkName]Service),
	}
}

func (s *aggregatorService) externalEndpoints() []model.EndPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request.Endpoints
}

// Initiate implements the planner of §4.5.
func (s *aggregatorService) Initiate(request model.ConnectionRequest) error {
	if s.Status() != model.Dormant {
		return model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", s.id))
	}
	request = request.Dedup()
	if len(request.Endpoints) < 2 {
		return model.NewError(model.KindInvalidState, "request requires at least two endpoints")
	}

	resolved, err := s.agg.resolveEndpoints(request.Endpoints)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.request = request
	s.mu.Unlock()
	s.setState(model.Establishing)

	networks := terminalSet(resolved)
	subRequests, edges, err := s.plan(resolved, networks, request.Bandwidth)
	if err != nil {
		s.setState(model.Failed)
		s.emit(model.EvFailed, request.Endpoints, err)
		return err
	}

	s.mu.Lock()
	s.edges = edges
	s.mu.Unlock()

	type outcome struct {
		net model.NetworkName
		svc Service
		err error
	}
	results := make(chan outcome, len(subRequests))
	for net, req := range subRequests {
		net, req := net, req
		go func() {
			inferior, ok := s.agg.inferiors.get(net)
			if !ok {
				results <- outcome{net: net, err: model.NewError(model.KindUnknownSubnetwork, string(net))}
				return
			}
			svc := inferior.NewService()
			if err := svc.Initiate(req); err != nil {
				results <- outcome{net: net, err: err}
				return
			}
			results <- outcome{net: net, svc: svc}
		}()
	}

	succeeded := make(map[model.NetworkName]Service, len(subRequests))
	var failure error
	for range subRequests {
		r := <-results
		if r.err != nil {
			if failure == nil {
				failure = r.err
			}
			continue
		}
		succeeded[r.net] = r.svc
	}

	if failure != nil {
		s.setState(model.Failed)
		s.emit(model.EvFailed, request.Endpoints, failure)
		go s.rollback(succeeded, edges)
		return failure
	}

	s.mu.Lock()
	s.sub = succeeded
	s.mu.Unlock()

	s.setState(model.Inactive)
	s.emit(model.EvReady, nil, nil)
	return nil
}

// rollback releases every sub-service that was successfully initiated and
// returns every trunk reservation made for this attempt (§4.6).
func (s *aggregatorService) rollback(succeeded map[model.NetworkName]Service, edges []planEdge) {
	var wg sync.WaitGroup
	for _, svc := range succeeded {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			_ = svc.Release()
		}(svc)
	}
	wg.Wait()

	s.agg.mu.Lock()
	for _, pe := range edges {
		pe.tr.Release(pe.alloc.LabelA)
	}
	s.agg.mu.Unlock()
}

// plan builds the sub-request set for the resolved endpoints, retrying the
// spanning-tree computation and label allocation up to agg.maxReplan times
// on allocation races (§4.5 steps 2-6).
func (s *aggregatorService) plan(resolved []resolvedEndpoint, networks []graph.VertexID, bandwidth model.Bandwidth) (map[model.NetworkName]model.ConnectionRequest, []planEdge, error) {
	if len(networks) == 1 {
		req := model.ConnectionRequest{Bandwidth: bandwidth}
		for _, r := range resolved {
			req.Endpoints = append(req.Endpoints, model.EndPoint{Terminal: r.terminal, Label: r.label})
		}
		return map[model.NetworkName]model.ConnectionRequest{model.NetworkName(networks[0]): req}, nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < s.agg.maxReplan; attempt++ {
		s.agg.mu.Lock()
		g := s.agg.buildPlanningGraph(bandwidth)
		tree, err := g.GoalSetSpanningTree(networks, float64(bandwidth))
		if err != nil {
			s.agg.mu.Unlock()
			return nil, nil, model.WrapError(model.KindUnroutable, string(s.agg.name), err)
		}

		edges := make([]planEdge, 0, len(tree))
		ok := true
		for _, e := range tree {
			tr := e.Data.(*trunk.Trunk)
			alloc, err := tr.Allocate(s.id, bandwidth, bandwidth)
			if err != nil {
				lastErr = err
				ok = false
				break
			}
			edges = append(edges, planEdge{tr: tr, alloc: alloc})
		}
		if !ok {
			for _, pe := range edges {
				pe.tr.Release(pe.alloc.LabelA)
			}
			s.agg.mu.Unlock()
			continue
		}
		s.agg.mu.Unlock()

		return s.synthesizeSubRequests(resolved, tree, edges, bandwidth), edges, nil
	}
	if lastErr == nil {
		lastErr = model.NewError(model.KindUnroutable, string(s.agg.name))
	}
	return nil, nil, model.WrapError(model.KindUnroutable, string(s.agg.name), lastErr)
}

func (s *aggregatorService) synthesizeSubRequests(resolved []resolvedEndpoint, tree []graph.Edge, edges []planEdge, bandwidth model.Bandwidth) map[model.NetworkName]model.ConnectionRequest {
	requests := make(map[model.NetworkName]*model.ConnectionRequest)
	ensure := func(net model.NetworkName) *model.ConnectionRequest {
		if req, ok := requests[net]; ok {
			return req
		}
		req := &model.ConnectionRequest{Bandwidth: bandwidth}
		requests[net] = req
		return req
	}
	for _, e := range tree {
		ensure(model.NetworkName(e.From))
		ensure(model.NetworkName(e.To))
	}
	for _, r := range resolved {
		req := ensure(r.network)
		req.Endpoints = append(req.Endpoints, model.EndPoint{Terminal: r.terminal, Label: r.label})
	}
	for _, pe := range edges {
		tr := pe.tr
		reqA := ensure(tr.TerminalA.Network)
		reqA.Endpoints = append(reqA.Endpoints, model.EndPoint{Terminal: tr.TerminalA, Label: pe.alloc.LabelA})
		reqB := ensure(tr.TerminalB.Network)
		reqB.Endpoints = append(reqB.Endpoints, model.EndPoint{Terminal: tr.TerminalB, Label: pe.alloc.LabelB})
	}

	out := make(map[model.NetworkName]model.ConnectionRequest, len(requests))
	for net, req := range requests {
		out[net] = req.Dedup()
	}
	return out
}

// Activate forwards to every sub-service and waits for the composite fold
// to reach ACTIVE (§4.5 step 7).
func (s *aggregatorService) Activate() error {
	if s.Status() != model.Inactive {
		return model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", s.id))
	}
	s.setState(model.Activating)
	s.emit(model.EvActivating, nil, nil)

	if err := s.forEachSub(func(svc Service) error { return svc.Activate() }); err != nil {
		return err
	}

	s.setState(model.Active)
	s.emit(model.EvActivated, nil, nil)
	return nil
}

func (s *aggregatorService) Deactivate() error {
	if s.Status() != model.Active {
		return model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", s.id))
	}
	s.setState(model.Deactivating)
	s.emit(model.EvDeactivating, nil, nil)

	if err := s.forEachSub(func(svc Service) error { return svc.Deactivate() }); err != nil {
		return err
	}

	s.setState(model.Inactive)
	s.emit(model.EvDeactivated, nil, nil)
	return nil
}

// Release forwards to every sub-service, waits for RELEASED, then returns
// trunk reservations. Idempotent (§4.5 step 8, I5).
func (s *aggregatorService) Release() error {
	if s.Status() == model.Released {
		return nil
	}
	s.setState(model.Releasing)

	_ = s.forEachSub(func(svc Service) error { return svc.Release() })

	s.mu.Lock()
	edges := s.edges
	s.edges = nil
	s.mu.Unlock()

	s.agg.mu.Lock()
	for _, pe := range edges {
		pe.tr.Release(pe.alloc.LabelA)
	}
	s.agg.mu.Unlock()

	s.setState(model.Released)
	s.emit(model.EvReleased, nil, nil)
	return nil
}

func (s *aggregatorService) forEachSub(fn func(Service) error) error {
	s.mu.Lock()
	subs := make([]Service, 0, len(s.sub))
	for _, svc := range s.sub {
		subs = append(subs, svc)
	}
	s.mu.Unlock()

	errs := make(chan error, len(subs))
	for _, svc := range subs {
		svc := svc
		go func() { errs <- fn(svc) }()
	}
	var first error
	for range subs {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
