package kvsvc

import (
	"encoding/json"
	"fmt"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/pubsub"
	"github.com/ringcluster/mring/pkg/service"
	"github.com/ringcluster/mring/pkg/storage"
)

// Service is the replicated key-value store's state machine.
type Service struct {
	store *storage.Store
	bus   *pubsub.Bus
}

// New builds a KV service over store, publishing mutation events on bus.
func New(store *storage.Store, bus *pubsub.Bus) *Service {
	return &Service{store: store, bus: bus}
}

var _ service.Service = (*Service)(nil)

// IsLocal implements service.Service: only Get reads without going
// through Raft.
func (s *Service) IsLocal(event []byte) bool {
	var env envelope
	if err := json.Unmarshal(event, &env); err != nil {
		return false
	}
	return env.Type == eventGet
}

// Execute implements service.Service.
func (s *Service) Execute(event []byte) (service.Status, []byte, error) {
	var env envelope
	if err := json.Unmarshal(event, &env); err != nil {
		return 0, nil, fmt.Errorf("kvsvc: decode event: %w: %w", service.ErrUnknownEvent, err)
	}

	switch env.Type {
	case eventGet:
		return s.get(env.Scope, env.Key)
	case eventPut:
		var evt putEvent
		if err := json.Unmarshal(event, &evt); err != nil {
			return 0, nil, fmt.Errorf("kvsvc: decode Put: %w", err)
		}
		return s.put(evt)
	case eventCas:
		var evt casEvent
		if err := json.Unmarshal(event, &evt); err != nil {
			return 0, nil, fmt.Errorf("kvsvc: decode Cas: %w", err)
		}
		return s.cas(evt)
	case eventDelete:
		var evt deleteEvent
		if err := json.Unmarshal(event, &evt); err != nil {
			return 0, nil, fmt.Errorf("kvsvc: decode Delete: %w", err)
		}
		return s.delete(evt)
	default:
		return 0, nil, fmt.Errorf("kvsvc: event type %q: %w", env.Type, service.ErrUnknownEvent)
	}
}

func (s *Service) get(scope uint16, key string) (service.Status, []byte, error) {
	value, had, err := s.store.Get(ids.KVServiceID, ids.Scope(scope), key)
	if err != nil {
		return 0, nil, err
	}
	if !had {
		return service.StatusNotFound, nil, nil
	}
	return service.StatusOK, []byte(value), nil
}

func (s *Service) put(evt putEvent) (service.Status, []byte, error) {
	old, had, err := s.store.Put(ids.KVServiceID, ids.Scope(evt.Scope), evt.Key, evt.Value)
	if err != nil {
		return 0, nil, err
	}
	s.bus.Publish(pubsub.KVTopic, putMsg{Scope: evt.Scope, Key: evt.Key, New: evt.Value, Old: old, HadOld: had})
	return service.StatusOK, []byte(old), nil
}

func (s *Service) cas(evt casEvent) (service.Status, []byte, error) {
	swapped, result, err := s.store.Cas(ids.KVServiceID, ids.Scope(evt.Scope), evt.Key, evt.Check, evt.Store)
	if err != nil {
		return 0, nil, err
	}
	if swapped {
		s.bus.Publish(pubsub.KVTopic, casMsg{Scope: evt.Scope, Key: evt.Key, New: evt.Store, Old: evt.Check})
		return service.StatusOK, []byte(evt.Store), nil
	}
	s.bus.Publish(pubsub.KVTopic, casConflictMsg{Scope: evt.Scope, Key: evt.Key, Conflict: result})
	return service.StatusConflict, []byte(result), nil
}

func (s *Service) delete(evt deleteEvent) (service.Status, []byte, error) {
	old, had, err := s.store.Delete(ids.KVServiceID, ids.Scope(evt.Scope), evt.Key)
	if err != nil {
		return 0, nil, err
	}
	s.bus.Publish(pubsub.KVTopic, deleteMsg{Scope: evt.Scope, Key: evt.Key, Old: old, HadOld: had})
	return service.StatusOK, []byte(old), nil
}
