package main

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/store"
	"github.com/signalsfoundry/arhunt/model"
)

func testScenario() scenario {
	return scenario{
		Duration:    45 * time.Second,
		Tick:        100 * time.Millisecond,
		Accelerated: true,
		Origin:      model.NewGeoPoint(47.6205, -122.3493, 0),
		SpeedMps:    1.4,
		HeadingDeg:  0,
		Schedule:    defaultSchedule(),
		OnPath:      3,
		OffPath:     2,
		Spacing:     10,
	}
}

// TestIntegration_WalkDiscoversPathObjects walks through three on-path
// candidates and past two side caches.
func TestIntegration_WalkDiscoversPathObjects(t *testing.T) {
	var out bytes.Buffer
	res, err := simulate(context.Background(), testScenario(), nil, &out)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if res.Ticks != 450 {
		t.Fatalf("ticks = %d, want 450", res.Ticks)
	}
	if res.FinalState != model.FrameAccurate {
		t.Fatalf("final frame state = %s, want accurate", res.FinalState)
	}
	if res.Placed != 5 {
		t.Fatalf("placed = %d, want 5\n%s", res.Placed, out.String())
	}
	if res.Discovered != 3 {
		t.Fatalf("discovered = %d, want 3\n%s", res.Discovered, out.String())
	}
	if want := []string{"side-01", "side-02"}; !reflect.DeepEqual(res.Live, want) {
		t.Fatalf("live = %v, want %v", res.Live, want)
	}
	if res.Entered == 0 {
		t.Fatalf("expected at least one object to enter view")
	}
	if !strings.Contains(out.String(), "frame unset -> accurate") {
		t.Fatalf("missing frame transition in output:\n%s", out.String())
	}
}

func TestIntegration_PoorGPSDegrades(t *testing.T) {
	sc := testScenario()
	sc.Schedule = []core.AccuracyStep{{After: 0, Accuracy: 15}}

	res, err := simulate(context.Background(), sc, nil, nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.FinalState != model.FrameDegraded {
		t.Fatalf("final frame state = %s, want degraded", res.FinalState)
	}
	if res.Placed == 0 {
		t.Fatalf("expected reduced-accuracy placements once degraded")
	}
}

func TestIntegration_StorePersistsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "walk.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	sc := testScenario()
	sc.Duration = 5 * time.Second
	sc.Source = st
	if _, err := simulate(ctx, sc, nil, nil); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	c, err := st.Get(ctx, "side-01")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Stored == nil || !c.Stored.HasOrigin {
		t.Fatalf("side-01 stored coordinates = %+v, want persisted with origin", c.Stored)
	}
}
