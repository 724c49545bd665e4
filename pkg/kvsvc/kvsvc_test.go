package kvsvc

import (
	"encoding/json"
	"testing"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/pubsub"
	"github.com/ringcluster/mring/pkg/service"
	"github.com/ringcluster/mring/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *pubsub.Bus) {
	t.Helper()
	store, err := storage.Open(t.TempDir(), ids.NodeId(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := pubsub.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	return New(store, bus), bus
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	s, _ := newTestService(t)
	status, _, err := s.Execute(mustJSON(t, getEvent{Type: eventGet, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusNotFound, status)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s, bus := newTestService(t)
	sub := bus.Subscribe(pubsub.KVTopic)

	status, _, err := s.Execute(mustJSON(t, putEvent{Type: eventPut, Key: "x", Value: "1"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)

	msg := (<-sub).Payload.(putMsg)
	assert.Equal(t, "x", msg.Key)
	assert.Equal(t, "1", msg.New)
	assert.False(t, msg.HadOld)

	status, body, err := s.Execute(mustJSON(t, getEvent{Type: eventGet, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)
	assert.Equal(t, "1", string(body))
}

func TestCasSwapsOnMatchAndPublishesCas(t *testing.T) {
	s, bus := newTestService(t)
	_, _, err := s.Execute(mustJSON(t, putEvent{Type: eventPut, Key: "x", Value: "1"}))
	require.NoError(t, err)

	sub := bus.Subscribe(pubsub.KVTopic)
	status, body, err := s.Execute(mustJSON(t, casEvent{Type: eventCas, Key: "x", Check: "1", Store: "2"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)
	assert.Equal(t, "2", string(body))

	msg := (<-sub).Payload.(casMsg)
	assert.Equal(t, "2", msg.New)
	assert.Equal(t, "1", msg.Old)
}

func TestCasConflictLeavesValueUnchangedAndPublishesConflict(t *testing.T) {
	s, bus := newTestService(t)
	_, _, err := s.Execute(mustJSON(t, putEvent{Type: eventPut, Key: "x", Value: "1"}))
	require.NoError(t, err)

	sub := bus.Subscribe(pubsub.KVTopic)
	status, body, err := s.Execute(mustJSON(t, casEvent{Type: eventCas, Key: "x", Check: "wrong", Store: "2"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusConflict, status)
	assert.Equal(t, "1", string(body))

	msg := (<-sub).Payload.(casConflictMsg)
	assert.Equal(t, "1", msg.Conflict)

	status, body, err = s.Execute(mustJSON(t, getEvent{Type: eventGet, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)
	assert.Equal(t, "1", string(body))
}

func TestDeletePublishesOldValue(t *testing.T) {
	s, bus := newTestService(t)
	_, _, err := s.Execute(mustJSON(t, putEvent{Type: eventPut, Key: "x", Value: "1"}))
	require.NoError(t, err)

	sub := bus.Subscribe(pubsub.KVTopic)
	status, body, err := s.Execute(mustJSON(t, deleteEvent{Type: eventDelete, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)
	assert.Equal(t, "1", string(body))

	msg := (<-sub).Payload.(deleteMsg)
	assert.True(t, msg.HadOld)
	assert.Equal(t, "1", msg.Old)

	status, _, err = s.Execute(mustJSON(t, getEvent{Type: eventGet, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusNotFound, status)
}

func TestScopesAreIndependent(t *testing.T) {
	s, _ := newTestService(t)
	_, _, err := s.Execute(mustJSON(t, putEvent{Type: eventPut, Scope: 1, Key: "x", Value: "a"}))
	require.NoError(t, err)
	_, _, err = s.Execute(mustJSON(t, putEvent{Type: eventPut, Scope: 2, Key: "x", Value: "b"}))
	require.NoError(t, err)

	_, body, err := s.Execute(mustJSON(t, getEvent{Type: eventGet, Scope: 1, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, "a", string(body))

	_, body, err = s.Execute(mustJSON(t, getEvent{Type: eventGet, Scope: 2, Key: "x"}))
	require.NoError(t, err)
	assert.Equal(t, "b", string(body))
}

func TestIsLocalOnlyGet(t *testing.T) {
	s, _ := newTestService(t)
	assert.True(t, s.IsLocal(mustJSON(t, getEvent{Type: eventGet, Key: "x"})))
	assert.False(t, s.IsLocal(mustJSON(t, putEvent{Type: eventPut, Key: "x", Value: "1"})))
	assert.False(t, s.IsLocal(mustJSON(t, casEvent{Type: eventCas, Key: "x"})))
	assert.False(t, s.IsLocal(mustJSON(t, deleteEvent{Type: eventDelete, Key: "x"})))
}
