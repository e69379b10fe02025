// Package notify publishes import progress events to observers.
//
// Delivery is one-way and best-effort: Publish never blocks on a slow
// observer, never reports failure to the caller, and having no observer at
// all is not an error.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookmarks_events_dropped_total",
	Help: "Total number of progress events dropped by transport",
}, []string{"transport"})

// Kind identifies the shape of an Event.
type Kind string

const (
	// KindProgress carries a human-readable status message.
	KindProgress Kind = "progress"

	// KindDone signals run completion with the final total.
	KindDone Kind = "done"
)

// Event is one progress message.
type Event struct {
	Kind          Kind      `json:"kind"`
	Text          string    `json:"text,omitempty"`
	TotalImported int       `json:"totalImported,omitempty"`
	Time          time.Time `json:"time"`
}

// MarshalJSON always includes totalImported on done events, so a run that
// imported nothing reports 0 rather than omitting the count.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind          Kind      `json:"kind"`
		Text          string    `json:"text,omitempty"`
		TotalImported *int      `json:"totalImported,omitempty"`
		Time          time.Time `json:"time"`
	}
	w := wire{Kind: e.Kind, Text: e.Text, Time: e.Time}
	if e.Kind == KindDone || e.TotalImported != 0 {
		total := e.TotalImported
		w.TotalImported = &total
	}
	return json.Marshal(w)
}

// Progress builds a progress event.
func Progress(text string) Event {
	return Event{Kind: KindProgress, Text: text, Time: time.Now()}
}

// Done builds a completion event.
func Done(totalImported int) Event {
	return Event{Kind: KindDone, TotalImported: totalImported, Time: time.Now()}
}

// Notifier accepts events for delivery.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

// Publish implements Notifier.
func (m Multi) Publish(ctx context.Context, event Event) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, event)
		}
	}
}

// Broker is an in-process notifier with any number of subscribers.
// Each subscriber has a bounded buffer; events that do not fit are dropped.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function unregisters it and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish implements Notifier.
func (b *Broker) Publish(_ context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			eventsDroppedTotal.WithLabelValues("broker").Inc()
		}
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Notifier.
func (r *Recorder) Publish(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
