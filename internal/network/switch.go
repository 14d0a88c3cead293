package network

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/model"
)

type switchTerminal struct {
	name        model.TerminalName
	description string
	iface       fabric.Interface
}

// Switch owns a set of terminals, each backed by a fabric interface; a
// service on a Switch corresponds to exactly one fabric bridge (§4.3).
type Switch struct {
	name  model.NetworkName
	fab   fabric.Fabric
	log   zerolog.Logger
	seq   atomic.Uint64
	terms *registry[model.TerminalName, *switchTerminal]
	svcs  *registry[model.ServiceID, *switchService]
}

func NewSwitch(name model.NetworkName, fab fabric.Fabric, log zerolog.Logger) *Switch {
	return &Switch{
		name:  name,
		fab:   fab,
		log:   log.With().Str("component", "switch").Str("network", string(name)).Logger(),
		terms: newRegistry[model.TerminalName, *switchTerminal](),
		svcs:  newRegistry[model.ServiceID, *switchService](),
	}
}

func (s *Switch) Name() model.NetworkName { return s.name }

// AddTerminal registers a terminal backed by the fabric interface named by
// description (§4.3 add_terminal).
func (s *Switch) AddTerminal(ctx context.Context, name model.TerminalName, description string) error {
	if s.terms.has(name) {
		return model.NewError(model.KindTerminalExists, string(name))
	}
	iface, err := s.fab.InterfacesOf(ctx, description)
	if err != nil {
		return model.WrapError(model.KindUnknownInterface, description, err)
	}
	s.terms.put(name, &switchTerminal{name: name, description: description, iface: iface})
	return nil
}

func (s *Switch) GetTerminal(name model.TerminalName) (model.Terminal, error) {
	if !s.terms.has(name) {
		return model.Terminal{}, model.NewError(model.KindUnknownTerminal, string(name))
	}
	return model.Terminal{Network: s.name, Name: name}, nil
}

func (s *Switch) ListTerminals() []model.TerminalName { return s.terms.keys() }

// RemoveTerminal fails TERMINAL_IN_USE if any non-terminal-state service
// still references the terminal.
func (s *Switch) RemoveTerminal(name model.TerminalName) error {
	if !s.terms.has(name) {
		return model.NewError(model.KindUnknownTerminal, string(name))
	}
	for _, svc := range s.svcs.values() {
		if svc.Status().Terminal() {
			continue
		}
		for _, ep := range svc.endpoints() {
			if ep.Terminal.Name == name {
				return model.NewError(model.KindTerminalInUse, string(name))
			}
		}
	}
	s.terms.delete(name)
	return nil
}

func (s *Switch) NewService() Service {
	id := model.ServiceID(s.seq.Add(1))
	svc := newSwitchService(id, s, s.log)
	s.svcs.put(id, svc)
	return svc
}

func (s *Switch) AwaitService(id model.ServiceID) (Service, error) {
	svc, ok := s.svcs.get(id)
	if !ok {
		return nil, model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", id))
	}
	return svc, nil
}

func (s *Switch) ListServices() []model.ServiceID { return s.svcs.keys() }

// Retain declares every bridge backing a non-terminal service as still
// wanted, so the fabric can garbage-collect anything else (§4.6 restart
// reconciliation).
func (s *Switch) Retain(ctx context.Context) error {
	var live []fabric.BridgeID
	for _, svc := range s.svcs.values() {
		if svc.Status().Terminal() {
			continue
		}
		if id := svc.bridgeID(); id != "" {
			live = append(live, id)
		}
	}
	return s.fab.Retain(ctx, live)
}

// switchService is the Switch's Service implementation: initiation maps
// each endpoint to a fabric circuit and requests one bridge (§4.3).
type switchService struct {
	*core
	sw  *Switch
	mu  chan struct{} // binary semaphore guarding request/bridge below
	req model.ConnectionRequest
	br  fabric.Bridge
}

func newSwitchService(id model.ServiceID, sw *Switch, log zerolog.Logger) *switchService {
	return &switchService{
		core: newCore(id, log.With().Str("component", "switch-service").Uint64("service", uint64(id)).Logger()),
		sw:   sw,
		mu:   make(chan struct{}, 1),
	}
}

func (s *switchService) lock()   { s.mu <- struct{}{} }
func (s *switchService) unlock() { <-s.mu }

func (s *switchService) endpoints() []model.EndPoint {
	s.lock()
	defer s.unlock()
	return s.req.Endpoints
}

func (s *switchService) bridgeID() fabric.BridgeID {
	s.lock()
	defer s.unlock()
	if s.br == nil {
		return ""
	}
	return s.br.ID()
}

// Initiate validates endpoints belong to this switch, maps them to fabric
// circuits, and requests a bridge. It blocks until the bridge reports
// created or error (§4.3, §5 "initiation ... block the caller until ...
// stable state").
func (s *switchService) Initiate(request model.ConnectionRequest) error {
	if s.Status() != model.Dormant {
		return model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", s.id))
	}
	request = request.Dedup()
	if len(request.Endpoints) < 2 {
		return model.NewError(model.KindInvalidState, "request requires at least two endpoints")
	}

	circuits := make(map[fabric.Circuit]fabric.TrafficFlow, len(request.Endpoints))
	for _, ep := range request.Endpoints {
		if ep.Terminal.Network != s.sw.name {
			return model.NewError(model.KindUnknownTerminal, ep.Terminal.String())
		}
		term, ok := s.sw.terms.get(ep.Terminal.Name)
		if !ok {
			return model.NewError(model.KindUnknownTerminal, ep.Terminal.String())
		}
		circuit := fabric.Circuit{Interface: term.iface, Label: ep.Label}
		circuits[circuit] = fabric.TrafficFlow{Upstream: request.Bandwidth, Downstream: request.Bandwidth}
	}

	s.lock()
	s.req = request
	s.unlock()
	s.setState(model.Establishing)

	done := make(chan struct{})
	var bridgeErr error
	br, err := s.sw.fab.RequestBridge(context.Background(), func(ev fabric.Event) {
		switch ev.Status {
		case fabric.StatusCreated:
			close(done)
		case fabric.StatusError:
			bridgeErr = ev.Cause
			close(done)
		case fabric.StatusDestroyed:
			// not awaited by Initiate or Release; ignored here
		}
	}, circuits)
	if err != nil {
		s.setState(model.Failed)
		s.emit(model.EvFailed, request.Endpoints, err)
		return model.WrapError(model.KindFabricError, string(s.sw.name), err)
	}

	<-done
	if bridgeErr != nil {
		s.setState(model.Failed)
		s.emit(model.EvFailed, request.Endpoints, bridgeErr)
		return model.WrapError(model.KindFabricError, string(s.sw.name), bridgeErr)
	}

	s.lock()
	s.br = br
	s.unlock()
	s.setState(model.Inactive)
	s.emit(model.EvReady, nil, nil)
	return nil
}

// Activate and Deactivate are pure state transitions: the bridge already
// carries traffic once created, so no fabric action is required (§4.3).
func (s *switchService) Activate() error {
	switch s.Status() {
	case model.Inactive:
	default:
		return model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", s.id))
	}
	s.setState(model.Activating)
	s.emit(model.EvActivating, nil, nil)
	s.setState(model.Active)
	s.emit(model.EvActivated, nil, nil)
	return nil
}

func (s *switchService) Deactivate() error {
	switch s.Status() {
	case model.Active:
	default:
		return model.NewError(model.KindInvalidState, fmt.Sprintf("service %d", s.id))
	}
	s.setState(model.Deactivating)
	s.emit(model.EvDeactivating, nil, nil)
	s.setState(model.Inactive)
	s.emit(model.EvDeactivated, nil, nil)
	return nil
}

// Release tears down the bridge; idempotent (§4.3, I5).
func (s *switchService) Release() error {
	if s.Status() == model.Released {
		return nil
	}
	s.setState(model.Releasing)

	s.lock()
	br := s.br
	s.br = nil
	s.unlock()

	if br != nil {
		if err := s.sw.fab.DestroyBridge(context.Background(), br.ID()); err != nil {
			s.sw.log.Warn().Err(err).Str("bridge", string(br.ID())).Msg("failed to destroy bridge during release")
		}
	}
	s.setState(model.Released)
	s.emit(model.EvReleased, nil, nil)
	return nil
}
