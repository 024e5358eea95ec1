package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	var got []Event
	bus.Subscribe(func(e Event) { got = append(got, e) })

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	bus.Publish(ObjectEnteredView{At: now, ObjectID: "a"})
	bus.Publish(ObjectRemoved{At: now, ObjectID: "a", Reason: RemovedDiscovered})

	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	removed, ok := got[1].(ObjectRemoved)
	if !ok || removed.Reason != RemovedDiscovered {
		t.Fatalf("second event = %#v, want ObjectRemoved{discovered}", got[1])
	}
	if !got[0].EventTime().Equal(now) {
		t.Fatalf("EventTime = %v, want %v", got[0].EventTime(), now)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	var a, b int
	unsubA := bus.Subscribe(func(Event) { a++ })
	bus.Subscribe(func(Event) { b++ })

	bus.Publish(ObjectEnteredView{ObjectID: "x"})
	unsubA()
	unsubA()
	bus.Publish(ObjectEnteredView{ObjectID: "y"})

	if a != 1 || b != 2 {
		t.Fatalf("a=%d b=%d, want a=1 b=2", a, b)
	}
}

func TestSubscribeChanDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.SubscribeChan(1)

	bus.Publish(ObjectEnteredView{ObjectID: "1"})
	bus.Publish(ObjectEnteredView{ObjectID: "2"})

	e := <-ch
	if e.(ObjectEnteredView).ObjectID != "1" {
		t.Fatalf("got %#v, want first event", e)
	}
	cancel()
	cancel()
	bus.Publish(ObjectEnteredView{ObjectID: "3"})
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after cancel")
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(ObjectEnteredView{})
}
