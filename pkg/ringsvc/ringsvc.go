package ringsvc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/metrics"
	"github.com/ringcluster/mring/pkg/placement"
	"github.com/ringcluster/mring/pkg/pubsub"
	"github.com/ringcluster/mring/pkg/service"
	"github.com/ringcluster/mring/pkg/storage"
)

const (
	sizeKey  = "ring_size"
	nodesKey = "ring_nodes"
)

const ringScope ids.Scope = 0

// Service is the managed ring's replicated state machine.
type Service struct {
	store    *storage.Store
	bus      *pubsub.Bus
	strategy placement.Strategy
}

// New builds a ring service over store, publishing membership changes on
// bus and computing placement transitions with strategy.
func New(store *storage.Store, bus *pubsub.Bus, strategy placement.Strategy) *Service {
	return &Service{store: store, bus: bus, strategy: strategy}
}

var _ service.Service = (*Service)(nil)

// IsLocal implements service.Service: only GetSize and GetNodes read
// without going through Raft.
func (s *Service) IsLocal(event []byte) bool {
	var env envelope
	if err := json.Unmarshal(event, &env); err != nil {
		return false
	}
	return env.Type == eventGetSize || env.Type == eventGetNodes
}

// Execute implements service.Service.
func (s *Service) Execute(event []byte) (service.Status, []byte, error) {
	var env envelope
	if err := json.Unmarshal(event, &env); err != nil {
		return 0, nil, fmt.Errorf("ringsvc: decode event: %w: %w", service.ErrUnknownEvent, err)
	}

	switch env.Type {
	case eventGetSize:
		return s.getSize()
	case eventSetSize:
		var evt setSizeEvent
		if err := json.Unmarshal(event, &evt); err != nil {
			return 0, nil, fmt.Errorf("ringsvc: decode SetSize: %w", err)
		}
		return s.setSize(evt)
	case eventGetNodes:
		return s.getNodes()
	case eventAddNode:
		var evt addNodeEvent
		if err := json.Unmarshal(event, &evt); err != nil {
			return 0, nil, fmt.Errorf("ringsvc: decode AddNode: %w", err)
		}
		return s.addNode(evt)
	case eventRemoveNode:
		var evt removeNodeEvent
		if err := json.Unmarshal(event, &evt); err != nil {
			return 0, nil, fmt.Errorf("ringsvc: decode RemoveNode: %w", err)
		}
		return s.removeNode(evt)
	default:
		return 0, nil, fmt.Errorf("ringsvc: event type %q: %w", env.Type, service.ErrUnknownEvent)
	}
}

func (s *Service) getSize() (service.Status, []byte, error) {
	raw, had, err := s.store.Get(ids.MRingServiceID, ringScope, sizeKey)
	if err != nil {
		return 0, nil, err
	}
	if !had {
		return service.StatusNotFound, nil, nil
	}
	return service.StatusOK, []byte(raw), nil
}

func (s *Service) setSize(evt setSizeEvent) (service.Status, []byte, error) {
	existing, had, err := s.store.Get(ids.MRingServiceID, ringScope, sizeKey)
	if err != nil {
		return 0, nil, err
	}
	if had {
		return service.StatusConflict, []byte(existing), nil
	}

	sizeStr := strconv.FormatUint(evt.Size, 10)
	if _, _, err := s.store.Put(ids.MRingServiceID, ringScope, sizeKey, sizeStr); err != nil {
		return 0, nil, err
	}
	metrics.RingSize.Set(float64(evt.Size))
	s.bus.Publish(pubsub.MRingTopic, SetSizeMsg{Size: evt.Size, Strategy: s.strategy.Name()})
	return service.StatusOK, []byte(sizeStr), nil
}

func (s *Service) getNodes() (service.Status, []byte, error) {
	nodes, err := s.currentNodes()
	if err != nil {
		return 0, nil, err
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return 0, nil, err
	}
	return service.StatusOK, data, nil
}

func (s *Service) currentNodes() (ids.MRingNodes, error) {
	raw, had, err := s.store.Get(ids.MRingServiceID, ringScope, nodesKey)
	if err != nil {
		return nil, err
	}
	if !had {
		return nil, nil
	}
	var nodes ids.MRingNodes
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, fmt.Errorf("ringsvc: decode stored nodes: %w", err)
	}
	return nodes, nil
}

func (s *Service) ringSize() (uint64, bool, error) {
	raw, had, err := s.store.Get(ids.MRingServiceID, ringScope, sizeKey)
	if err != nil || !had {
		return 0, had, err
	}
	size, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("ringsvc: decode stored size: %w", err)
	}
	return size, true, nil
}

func (s *Service) persistNodes(nodes ids.MRingNodes) error {
	data, err := json.Marshal(nodes)
	if err != nil {
		return err
	}
	_, _, err = s.store.Put(ids.MRingServiceID, ringScope, nodesKey, string(data))
	return err
}

func (s *Service) addNode(evt addNodeEvent) (service.Status, []byte, error) {
	size, had, err := s.ringSize()
	if err != nil {
		return 0, nil, err
	}
	if !had {
		return service.StatusPrecondition, nil, nil
	}

	current, err := s.currentNodes()
	if err != nil {
		return 0, nil, err
	}

	var next ids.MRingNodes
	var relocations ids.Relocations
	if len(current) == 0 {
		next = s.strategy.New(size, evt.Node)
		relocations = ids.NewRelocations()
	} else {
		next, relocations = s.strategy.AddNode(size, current, evt.Node)
	}

	if err := s.persistNodes(next); err != nil {
		return 0, nil, err
	}
	metrics.RelocationsTotal.WithLabelValues("add_node").Add(float64(relocations.Count()))
	s.bus.Publish(pubsub.MRingTopic, NodeAddedMsg{
		Node:        evt.Node,
		Strategy:    s.strategy.Name(),
		Next:        next,
		Relocations: relocations,
	})

	data, err := json.Marshal(next)
	if err != nil {
		return 0, nil, err
	}
	return service.StatusOK, data, nil
}

func (s *Service) removeNode(evt removeNodeEvent) (service.Status, []byte, error) {
	size, had, err := s.ringSize()
	if err != nil {
		return 0, nil, err
	}
	if !had {
		return service.StatusPrecondition, nil, nil
	}

	current, err := s.currentNodes()
	if err != nil {
		return 0, nil, err
	}
	if len(current) == 0 {
		return service.StatusPrecondition, nil, nil
	}

	next, relocations := s.strategy.RemoveNode(size, current, evt.Node)
	if err := s.persistNodes(next); err != nil {
		return 0, nil, err
	}
	metrics.RelocationsTotal.WithLabelValues("remove_node").Add(float64(relocations.Count()))
	s.bus.Publish(pubsub.MRingTopic, NodeRemovedMsg{
		Node:        evt.Node,
		Strategy:    s.strategy.Name(),
		Next:        next,
		Relocations: relocations,
	})

	data, err := json.Marshal(next)
	if err != nil {
		return 0, nil, err
	}
	return service.StatusOK, data, nil
}
