package ringsvc

import (
	"encoding/json"
	"testing"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/placement"
	"github.com/ringcluster/mring/pkg/pubsub"
	"github.com/ringcluster/mring/pkg/service"
	"github.com/ringcluster/mring/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *storage.Store, *pubsub.Bus) {
	t.Helper()
	store, err := storage.Open(t.TempDir(), ids.NodeId(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := pubsub.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	return New(store, bus, placement.NewContinuous()), store, bus
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestGetSizeNotFoundBeforeSet(t *testing.T) {
	s, _, _ := newTestService(t)
	status, _, err := s.Execute(mustJSON(t, envelope{Type: eventGetSize}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusNotFound, status)
}

func TestSetSizeThenSecondSetSizeConflicts(t *testing.T) {
	s, _, _ := newTestService(t)

	status, _, err := s.Execute(mustJSON(t, setSizeEvent{Type: eventSetSize, Size: 8}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)

	status, _, err = s.Execute(mustJSON(t, setSizeEvent{Type: eventSetSize, Size: 16}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusConflict, status)

	status, body, err := s.Execute(mustJSON(t, envelope{Type: eventGetSize}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusOK, status)
	assert.Equal(t, "8", string(body))
}

func TestAddNodeWithoutSizeIsPrecondition(t *testing.T) {
	s, _, _ := newTestService(t)
	status, _, err := s.Execute(mustJSON(t, addNodeEvent{Type: eventAddNode, Node: "a"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusPrecondition, status)
}

func TestBootstrapThenAddSecondNode(t *testing.T) {
	s, _, bus := newTestService(t)
	sub := bus.Subscribe(pubsub.MRingTopic)

	_, _, err := s.Execute(mustJSON(t, setSizeEvent{Type: eventSetSize, Size: 8}))
	require.NoError(t, err)
	msg := <-sub
	sizeMsg, ok := msg.Payload.(SetSizeMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(8), sizeMsg.Size)
	assert.Equal(t, "continuous", sizeMsg.Strategy)

	status, body, err := s.Execute(mustJSON(t, addNodeEvent{Type: eventAddNode, Node: "a"}))
	require.NoError(t, err)
	require.Equal(t, service.StatusOK, status)
	var next ids.MRingNodes
	require.NoError(t, json.Unmarshal(body, &next))
	require.Len(t, next, 1)
	assert.Len(t, next[0].VNodes, 8)

	added := (<-sub).Payload.(NodeAddedMsg)
	assert.Equal(t, "a", added.Node)
	assert.Empty(t, added.Relocations)

	status, body, err = s.Execute(mustJSON(t, addNodeEvent{Type: eventAddNode, Node: "b"}))
	require.NoError(t, err)
	require.Equal(t, service.StatusOK, status)
	var afterAddB ids.MRingNodes
	require.NoError(t, json.Unmarshal(body, &afterAddB))
	require.Len(t, afterAddB, 2)
	for _, np := range afterAddB {
		assert.Len(t, np.VNodes, 4)
	}

	added = (<-sub).Payload.(NodeAddedMsg)
	assert.Equal(t, "b", added.Node)
	assert.Len(t, added.Relocations["a"]["b"], 4)
}

func TestRemoveNodeWithoutNodesIsPrecondition(t *testing.T) {
	s, _, _ := newTestService(t)
	_, _, err := s.Execute(mustJSON(t, setSizeEvent{Type: eventSetSize, Size: 4}))
	require.NoError(t, err)

	status, _, err := s.Execute(mustJSON(t, removeNodeEvent{Type: eventRemoveNode, Node: "a"}))
	require.NoError(t, err)
	assert.Equal(t, service.StatusPrecondition, status)
}

func TestIsLocalClassifiesReadsOnly(t *testing.T) {
	s, _, _ := newTestService(t)
	assert.True(t, s.IsLocal(mustJSON(t, envelope{Type: eventGetSize})))
	assert.True(t, s.IsLocal(mustJSON(t, envelope{Type: eventGetNodes})))
	assert.False(t, s.IsLocal(mustJSON(t, setSizeEvent{Type: eventSetSize, Size: 1})))
	assert.False(t, s.IsLocal(mustJSON(t, addNodeEvent{Type: eventAddNode, Node: "a"})))
}
