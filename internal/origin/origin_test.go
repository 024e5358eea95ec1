package origin

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/model"
)

var (
	t0   = time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	base = model.NewGeoPoint(51.5007, -0.1246, 0)
)

func fixWithAccuracy(acc float64) *model.GeoPoint {
	f := base
	f.HorizontalAccuracy = acc
	return &f
}

func newMachine(t *testing.T, surface core.SurfaceDetector) (*Machine, *[]events.FrameChanged) {
	t.Helper()
	bus := events.NewBus()
	var seen []events.FrameChanged
	bus.Subscribe(func(e events.Event) {
		if fc, ok := e.(events.FrameChanged); ok {
			seen = append(seen, fc)
		}
	})
	return New(DefaultConfig(), surface, bus, nil), &seen
}

func TestAccurateFixSetsOriginAndGround(t *testing.T) {
	m, seen := newMachine(t, core.FlatSurface{Height: -1.3})
	ctx := context.Background()

	tr, ok := m.Observe(ctx, t0, fixWithAccuracy(5), 1.6)
	if !ok || tr.To != model.FrameAccurate {
		t.Fatalf("transition = %+v (ok=%v), want Accurate", tr, ok)
	}
	f := m.Frame()
	if !f.HasOrigin || f.Origin.Latitude != base.Latitude || f.ReducedAccuracy {
		t.Fatalf("frame origin = %+v", f)
	}
	if f.GroundLevel != -1.3 {
		t.Fatalf("GroundLevel = %v, want surface height -1.3", f.GroundLevel)
	}
	if !f.FixedAt.Equal(t0) {
		t.Fatalf("FixedAt = %v, want %v", f.FixedAt, t0)
	}
	if len(*seen) != 1 || (*seen)[0].From != model.FrameUnset {
		t.Fatalf("events = %+v, want one Unset->Accurate", *seen)
	}
}

func TestGroundFallsBackToViewerHeight(t *testing.T) {
	m, _ := newMachine(t, core.NoSurface{})
	m.Observe(context.Background(), t0, fixWithAccuracy(3), 1.6)
	if got := m.Frame().GroundLevel; got < 0.0999 || got > 0.1001 {
		t.Fatalf("GroundLevel = %v, want viewer height - 1.5 = 0.1", got)
	}
}

func TestOriginFrozenOnceAccurate(t *testing.T) {
	m, _ := newMachine(t, core.FlatSurface{})
	ctx := context.Background()
	m.Observe(ctx, t0, fixWithAccuracy(6), 1.5)
	first := m.Frame().Origin

	moved := core.Offset(base, 90, 40)
	moved.HorizontalAccuracy = 1
	if _, ok := m.Observe(ctx, t0.Add(time.Second), &moved, 1.5); ok {
		t.Fatalf("better fix should not transition an accurate frame")
	}
	if m.Frame().Origin != first {
		t.Fatalf("origin changed from %+v to %+v", first, m.Frame().Origin)
	}
}

func TestNoFixDegradesAfterTimeout(t *testing.T) {
	m, _ := newMachine(t, core.NoSurface{})
	ctx := context.Background()

	if _, ok := m.Observe(ctx, t0, nil, 1.5); ok {
		t.Fatalf("unexpected transition at start")
	}
	if _, ok := m.Observe(ctx, t0.Add(4900*time.Millisecond), nil, 1.5); ok {
		t.Fatalf("degraded before the no-fix timeout")
	}
	tr, ok := m.Observe(ctx, t0.Add(5*time.Second), nil, 1.5)
	if !ok || tr.To != model.FrameDegraded {
		t.Fatalf("transition = %+v, want Degraded", tr)
	}
	f := m.Frame()
	if f.HasOrigin {
		t.Fatalf("degraded frame without fixes must not have an origin")
	}
	if !f.HasGroundLevel || f.GroundLevel != 0 {
		t.Fatalf("ground level = %v (has=%v), want 0 fallback", f.GroundLevel, f.HasGroundLevel)
	}
	if f.UsableForGPS() {
		t.Fatalf("frame without origin must not be usable for GPS")
	}
}

func TestSustainedInaccuracyDegradesWithReducedOrigin(t *testing.T) {
	m, _ := newMachine(t, core.FlatSurface{})
	ctx := context.Background()

	for i := 0; i <= 10; i++ {
		acc := 9.0
		if i == 4 {
			acc = 8 // best of the bad fixes
		}
		if _, ok := m.Observe(ctx, t0.Add(time.Duration(i)*time.Second), fixWithAccuracy(acc), 1.5); ok {
			t.Fatalf("transition after %ds, want none within 10s", i)
		}
	}
	tr, ok := m.Observe(ctx, t0.Add(10500*time.Millisecond), fixWithAccuracy(9), 1.5)
	if !ok || tr.To != model.FrameDegraded {
		t.Fatalf("transition = %+v (ok=%v), want Degraded after >10s", tr, ok)
	}
	f := m.Frame()
	if !f.HasOrigin || !f.ReducedAccuracy || f.Origin.HorizontalAccuracy != 8 {
		t.Fatalf("frame = %+v, want reduced-accuracy origin from best fix", f)
	}
	if !f.UsableForGPS() {
		t.Fatalf("reduced-accuracy origin should be usable for GPS")
	}
}

func TestDegradedAdoptsFirstLateFix(t *testing.T) {
	m, seen := newMachine(t, core.FlatSurface{})
	ctx := context.Background()
	m.Observe(ctx, t0, nil, 1.5)
	m.Observe(ctx, t0.Add(6*time.Second), nil, 1.5)
	if m.State() != model.FrameDegraded {
		t.Fatalf("state = %v, want degraded", m.State())
	}

	if _, ok := m.Observe(ctx, t0.Add(7*time.Second), fixWithAccuracy(20), 1.5); !ok {
		t.Fatalf("expected an event when a reduced-accuracy origin is adopted")
	}
	if f := m.Frame(); !f.HasOrigin || !f.ReducedAccuracy {
		t.Fatalf("frame = %+v, want adopted reduced origin", f)
	}
	if n := len(*seen); n != 2 {
		t.Fatalf("got %d frame events, want 2", n)
	}
}

func TestDegradedExitRederivesReducedOrigin(t *testing.T) {
	m, _ := newMachine(t, core.FlatSurface{Height: -1})
	ctx := context.Background()
	for i := 0; i <= 11; i++ {
		m.Observe(ctx, t0.Add(time.Duration(i)*time.Second), fixWithAccuracy(12), 1.5)
	}
	if m.State() != model.FrameDegraded {
		t.Fatalf("state = %v, want degraded", m.State())
	}

	better := core.Offset(base, 0, 8)
	better.HorizontalAccuracy = 7
	if _, ok := m.Observe(ctx, t0.Add(12*time.Second), &better, 1.5); ok {
		t.Fatalf("7m fix must not exit degraded mode (exit needs < 6.5m)")
	}

	better.HorizontalAccuracy = 6
	tr, ok := m.Observe(ctx, t0.Add(13*time.Second), &better, 1.5)
	if !ok || tr.To != model.FrameAccurate {
		t.Fatalf("transition = %+v, want Accurate", tr)
	}
	f := m.Frame()
	if f.ReducedAccuracy || f.Degraded || f.Origin.Latitude != better.Latitude {
		t.Fatalf("frame = %+v, want re-derived accurate origin", f)
	}
}

func TestHysteresisUnderOscillatingAccuracy(t *testing.T) {
	m, seen := newMachine(t, core.FlatSurface{})
	ctx := context.Background()

	now := t0
	m.Observe(ctx, now, fixWithAccuracy(6), 1.5)
	origin := m.Frame().Origin

	// 6m/8m alternating every second for a minute never sustains ≥7.5m.
	for i := 1; i <= 60; i++ {
		now = now.Add(time.Second)
		acc := 8.0
		if i%2 == 0 {
			acc = 6.0
		}
		if _, ok := m.Observe(ctx, now, fixWithAccuracy(acc), 1.5); ok {
			t.Fatalf("transition at step %d under oscillating accuracy", i)
		}
	}

	// Sustained 8m for more than 10s degrades, keeping the origin.
	var degradedAt time.Time
	for i := 1; i <= 12; i++ {
		now = now.Add(time.Second)
		if tr, ok := m.Observe(ctx, now, fixWithAccuracy(8), 1.5); ok {
			if tr.To != model.FrameDegraded {
				t.Fatalf("transition = %+v, want Degraded", tr)
			}
			degradedAt = now
		}
	}
	if degradedAt.IsZero() {
		t.Fatalf("frame never degraded under sustained 8m fixes")
	}
	if m.Frame().Origin != origin {
		t.Fatalf("degrading must not move the origin")
	}

	// Oscillating 6.5..8 inside degraded mode never exits; 6m exits.
	for i := 1; i <= 10; i++ {
		now = now.Add(time.Second)
		acc := 8.0
		if i%2 == 0 {
			acc = 6.5
		}
		if _, ok := m.Observe(ctx, now, fixWithAccuracy(acc), 1.5); ok {
			t.Fatalf("exit at step %d without a fix below 6.5m", i)
		}
	}
	now = now.Add(time.Second)
	tr, ok := m.Observe(ctx, now, fixWithAccuracy(6), 1.5)
	if !ok || tr.To != model.FrameAccurate {
		t.Fatalf("transition = %+v, want Accurate", tr)
	}
	if m.Frame().Origin != origin {
		t.Fatalf("recovering must keep the originally fixed origin")
	}
	if len(*seen) != 3 {
		t.Fatalf("got %d frame events, want 3", len(*seen))
	}
}

func TestApplyDefaultsClampsExit(t *testing.T) {
	c := Config{EntryAccuracy: 5, ExitAccuracy: 9}.ApplyDefaults()
	if c.ExitAccuracy != 5 {
		t.Fatalf("ExitAccuracy = %v, want clamped to 5", c.ExitAccuracy)
	}
	if c.NoFixTimeout != 5*time.Second || c.InaccurateTimeout != 10*time.Second {
		t.Fatalf("timeouts not defaulted: %+v", c)
	}
}
