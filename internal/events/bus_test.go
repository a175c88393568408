package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/workrail/core/internal/schema"
)

func TestSubscribeWithKindsOnlyReceivesMatchingEvents(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(schema.KindRunStarted)
	defer b.Unsubscribe(sub)

	b.Publish("sess_a", schema.DomainEvent{Kind: schema.KindNodeCreated})
	select {
	case n := <-sub:
		t.Fatalf("subscriber scoped to run_started must not receive node_created, got %+v", n)
	default:
	}

	b.Publish("sess_a", schema.DomainEvent{Kind: schema.KindRunStarted})
	select {
	case n := <-sub:
		assert.Equal(t, schema.KindRunStarted, n.Kind)
	default:
		t.Fatal("expected a run_started notification")
	}
}

func TestSubscribeWithNoKindsReceivesEverything(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish("sess_a", schema.DomainEvent{Kind: schema.KindNodeCreated})
	b.Publish("sess_a", schema.DomainEvent{Kind: schema.KindRunStarted})

	assert.Equal(t, schema.KindNodeCreated, (<-sub).Kind)
	assert.Equal(t, schema.KindRunStarted, (<-sub).Kind)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "unsubscribe must close the channel")
}
