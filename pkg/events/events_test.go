package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBrokerPublishSubscribe tests that subscribers receive published events
func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{ID: "task-1", Type: EventTaskCompleted})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventTaskCompleted, ev.Type)
			assert.Equal(t, "task-1", ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

// TestBrokerUnsubscribe tests that unsubscribing closes the channel
func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

// TestBrokerPublishDoesNotBlock tests that a full queue drops events
func TestBrokerPublishDoesNotBlock(t *testing.T) {
	b := NewBroker()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventNodeUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Publish blocked on a broker that was never started")
	}
}

// TestBrokerPublishAfterStop tests that publishing to a stopped broker is a no-op
func TestBrokerPublishAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	b.Publish(&Event{Type: EventTaskDeleted})
	Discard.Publish(&Event{Type: EventTaskDeleted})
}
