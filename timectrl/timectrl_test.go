package timectrl

import (
	"sync"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerAcceleratedRunsToDuration(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 500*time.Millisecond, Accelerated)

	var mu sync.Mutex
	var seen []time.Time
	tc.AddListener(func(now time.Time) {
		mu.Lock()
		seen = append(seen, now)
		mu.Unlock()
	})

	<-tc.Start(5*time.Second, nil)

	expected := start.Add(5 * time.Second)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 10 {
		t.Fatalf("listener called %d times, want 10", len(seen))
	}
	if !seen[0].Equal(start.Add(500 * time.Millisecond)) {
		t.Fatalf("first tick = %v, want start+500ms", seen[0])
	}
}

func TestTimeControllerStop(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, RealTime)
	stop := make(chan struct{})
	done := tc.Start(0, stop)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop")
	}
}

func TestManualClockAdvance(t *testing.T) {
	start := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	if got := c.Advance(1500 * time.Millisecond); !got.Equal(start.Add(1500 * time.Millisecond)) {
		t.Fatalf("Advance = %v", got)
	}
	if !c.Now().Equal(start.Add(1500 * time.Millisecond)) {
		t.Fatalf("Now() = %v", c.Now())
	}
}

func TestThrottle(t *testing.T) {
	start := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(500 * time.Millisecond)

	if !th.Allow(start) {
		t.Fatalf("first call should pass")
	}
	if th.Allow(start.Add(200 * time.Millisecond)) {
		t.Fatalf("call within interval should be throttled")
	}
	if !th.Allow(start.Add(500 * time.Millisecond)) {
		t.Fatalf("call at interval should pass")
	}
	th.Reset()
	if !th.Allow(start.Add(600 * time.Millisecond)) {
		t.Fatalf("call after Reset should pass")
	}
}
