// Package events is the typed publish/subscribe bus connecting the session
// services. A Bus is injected into each publisher; there is no global instance.
package events

import (
	"sync"
	"time"

	"github.com/signalsfoundry/arhunt/model"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	EventTime() time.Time
}

// FrameChanged is published on every origin lifecycle transition.
type FrameChanged struct {
	At    time.Time
	From  model.FrameState
	To    model.FrameState
	Frame model.CoordinateFrame
}

// ObjectPlaced is published when a placed object is committed.
type ObjectPlaced struct {
	At     time.Time
	Object model.PlacedObject
}

// PlacementRejected is published when a candidate could not be placed this pass.
type PlacementRejected struct {
	At          time.Time
	CandidateID string
	Reason      error
}

// ObjectEnteredView is the one-shot notification when an object becomes visible.
type ObjectEnteredView struct {
	At       time.Time
	ObjectID string
}

// ObjectDiscovered is published when discovery starts (the object is already
// marked collected at this point).
type ObjectDiscovered struct {
	At       time.Time
	ObjectID string
	Auto     bool
}

// RemovalReason records why an object left the scene.
type RemovalReason string

const (
	RemovedDiscovered         RemovalReason = "discovered"
	RemovedCollectedElsewhere RemovalReason = "collected_elsewhere"
	RemovedUncollected        RemovalReason = "uncollected"
	RemovedSweep              RemovalReason = "sweep"
)

// ObjectRemoved is published when an object transitions to Removed.
type ObjectRemoved struct {
	At       time.Time
	ObjectID string
	Reason   RemovalReason
}

func (e FrameChanged) EventTime() time.Time      { return e.At }
func (e ObjectPlaced) EventTime() time.Time      { return e.At }
func (e PlacementRejected) EventTime() time.Time { return e.At }
func (e ObjectEnteredView) EventTime() time.Time { return e.At }
func (e ObjectDiscovered) EventTime() time.Time  { return e.At }
func (e ObjectRemoved) EventTime() time.Time     { return e.At }

// Bus fans events out to subscribers. Subscribers run synchronously on the
// publishing goroutine and must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for all events. It returns an unsubscribe function.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// SubscribeChan delivers events on a buffered channel. Events are dropped
// when the buffer is full so publishers never block on slow readers.
func (b *Bus) SubscribeChan(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	var once sync.Once
	var closed bool
	var mu sync.Mutex

	unsub := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	return ch, func() {
		once.Do(func() {
			unsub()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

// Publish delivers e to every current subscriber. Callbacks are invoked
// outside the lock so they may subscribe or unsubscribe.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}
