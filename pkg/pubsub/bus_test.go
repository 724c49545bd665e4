package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(KVTopic)
	b.Publish(KVTopic, "put:x")

	select {
	case msg := <-sub:
		assert.Equal(t, KVTopic, msg.Topic)
		assert.Equal(t, "put:x", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscribersOnOtherTopicsDoNotSeeMessage(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	mringSub := b.Subscribe(MRingTopic)
	b.Publish(KVTopic, "put:x")

	select {
	case <-mringSub:
		t.Fatal("mring subscriber should not receive a kv message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(KVTopic)
	require.Equal(t, 1, b.SubscriberCount(KVTopic))
	b.Unsubscribe(KVTopic, sub)
	assert.Equal(t, 0, b.SubscriberCount(KVTopic))

	_, ok := <-sub
	assert.False(t, ok, "unsubscribed channel should be closed")
}

func TestOrderPreservedWithinTopic(t *testing.T) {
	b := NewBus()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(KVTopic)
	b.Publish(KVTopic, 1)
	b.Publish(KVTopic, 2)
	b.Publish(KVTopic, 3)

	for want := 1; want <= 3; want++ {
		select {
		case msg := <-sub:
			assert.Equal(t, want, msg.Payload)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", want)
		}
	}
}
