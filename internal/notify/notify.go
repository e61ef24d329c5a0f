// Package notify gives worker-internal lifecycle transitions — rollback,
// GVT advance — an optional external pub/sub audience, the way the
// teacher's pkg/events lets cluster state changes reach subscribers
// without the publisher knowing who (if anyone) is listening.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raodj/musesim/internal/types"
)

// Kind identifies what happened to a worker or agent.
type Kind string

const (
	KindRollback      Kind = "rollback"
	KindGVTAdvanced   Kind = "gvt.advanced"
	KindAntiMessage   Kind = "anti_message"
	KindRedistributed Kind = "redistributed"
)

// Event is one kernel lifecycle notification. Timestamp is wall-clock,
// for correlating with external logs; At is the simulation's own
// virtual time, the coordinate that actually matters to a subscriber
// reasoning about the run.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	At        types.Time
	Rank      int
	AgentID   types.AgentID
	Message   string
}

// Subscriber is a channel a caller reads published events from.
type Subscriber chan Event

// Broker fans out published events to every current subscriber. A slow
// or absent subscriber never blocks the publisher: Publish drops the
// event for that subscriber rather than waiting, since a worker's
// rollback/GVT path cannot afford to stall on an observability sink.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	stopCh      chan struct{}
	stopped     bool
}

// NewBroker creates an idle Broker. Publish works as soon as the Broker
// exists (there is no Start); Stop closes every subscription. Publish
// fans out synchronously rather than through an internal channel.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe returns a new channel, buffered for 64 events, that receives
// events Published after this call, until Unsubscribe or Stop. An event
// published while the buffer is full is dropped for this subscriber.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish stamps e with an ID and wall-clock time if unset, then
// delivers it to every current subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broker) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- e:
		default:
		}
	}
}

// Stop closes every outstanding subscription. The Broker is unusable
// afterward.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.stopCh)
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}
