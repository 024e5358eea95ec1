package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/model"
)

type fixture struct {
	reg      *Registry
	renderer *core.RecordingRenderer
	effect   *core.InstantEffect
	clock    *stubClock
	events   []events.Event
}

type stubClock struct{ T time.Time }

func (c *stubClock) Now() time.Time { return c.T }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		renderer: core.NewRecordingRenderer(),
		effect:   &core.InstantEffect{},
		clock:    &stubClock{T: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) { f.events = append(f.events, e) })
	f.reg = New(f.renderer, f.effect, nil, WithBus(bus), WithClock(f.clock.Now))
	return f
}

func (f *fixture) place(t *testing.T, id string, pos model.LocalPosition) model.PlacedObject {
	t.Helper()
	obj, err := f.reg.Register(context.Background(), model.PlacedObject{ID: id, Kind: model.KindChest, Position: pos}, model.VisualSpec{Kind: model.KindChest})
	if err != nil {
		t.Fatalf("Register(%q): %v", id, err)
	}
	return obj
}

func (f *fixture) removals(id string) int {
	n := 0
	for _, e := range f.events {
		if r, ok := e.(events.ObjectRemoved); ok && r.ObjectID == id {
			n++
		}
	}
	return n
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	f := newFixture(t)
	obj := f.place(t, "a", model.LocalPosition{X: 1})
	if obj.Handle == 0 {
		t.Fatalf("expected a renderer handle")
	}
	if !obj.PlacedAt.Equal(f.clock.T) {
		t.Fatalf("PlacedAt = %v, want %v", obj.PlacedAt, f.clock.T)
	}

	_, err := f.reg.Register(context.Background(), model.PlacedObject{ID: "a"}, model.VisualSpec{})
	if !errors.Is(err, model.ErrObjectExists) {
		t.Fatalf("duplicate Register error = %v, want ErrObjectExists", err)
	}
	if got := f.reg.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}

func TestPositionNeverDrifts(t *testing.T) {
	f := newFixture(t)
	want := model.LocalPosition{X: 3.25, Y: -1.5, Z: -17.125}
	f.place(t, "a", want)

	first, _ := f.reg.Get("a")
	f.clock.T = f.clock.T.Add(time.Minute)
	f.reg.MarkVisible("a")
	f.reg.Sweep(context.Background(), map[string]bool{"a": true})
	second, ok := f.reg.Get("a")
	if !ok {
		t.Fatalf("object disappeared")
	}
	if first.Position != want || second.Position != want {
		t.Fatalf("positions = %+v, %+v, want %+v", first.Position, second.Position, want)
	}
	if second.State != model.StateVisible {
		t.Fatalf("state = %v, want visible", second.State)
	}
}

func TestDiscoveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.place(t, "a", model.LocalPosition{X: 1})
	ctx := context.Background()

	done, ok := f.reg.BeginDiscovery(ctx, "a", false)
	if !ok {
		t.Fatalf("first BeginDiscovery returned false")
	}
	if _, ok := f.reg.BeginDiscovery(ctx, "a", true); ok {
		t.Fatalf("second BeginDiscovery should be a no-op")
	}
	if !f.reg.IsCollected("a") {
		t.Fatalf("object should be marked collected before the effect completes")
	}

	<-done
	if !f.reg.FinishDiscovery(ctx, "a") {
		t.Fatalf("FinishDiscovery returned false")
	}
	if f.reg.FinishDiscovery(ctx, "a") {
		t.Fatalf("second FinishDiscovery should be a no-op")
	}
	if _, ok := f.reg.BeginDiscovery(ctx, "a", false); ok {
		t.Fatalf("discovery after removal should be a no-op")
	}

	if got := f.effect.Plays("a"); got != 1 {
		t.Fatalf("effect plays = %d, want 1", got)
	}
	if got := f.removals("a"); got != 1 {
		t.Fatalf("removed events = %d, want 1", got)
	}
	if live := f.renderer.Live(); len(live) != 0 {
		t.Fatalf("renderer still draws %v", live)
	}
}

func TestConcurrentDiscoveryPlaysOnce(t *testing.T) {
	f := newFixture(t)
	f.place(t, "a", model.LocalPosition{X: 1})

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := f.reg.BeginDiscovery(context.Background(), "a", true); ok {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 || f.effect.Plays("a") != 1 {
		t.Fatalf("started = %d plays = %d, want 1 and 1", started, f.effect.Plays("a"))
	}
}

func TestCollectedElsewhereSkipsEffect(t *testing.T) {
	f := newFixture(t)
	f.place(t, "a", model.LocalPosition{X: 1})

	if !f.reg.CollectedElsewhere(context.Background(), "a") {
		t.Fatalf("CollectedElsewhere returned false")
	}
	if f.effect.Plays("a") != 0 {
		t.Fatalf("effect should not run")
	}
	if _, ok := f.reg.Get("a"); ok {
		t.Fatalf("object should be gone")
	}
	if !f.reg.IsCollected("a") {
		t.Fatalf("object should be collected")
	}
	_, err := f.reg.Register(context.Background(), model.PlacedObject{ID: "a"}, model.VisualSpec{})
	if !errors.Is(err, model.ErrAlreadyCollected) {
		t.Fatalf("Register after collection = %v, want ErrAlreadyCollected", err)
	}
}

func TestUncollectReenablesPlacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.place(t, "a", model.LocalPosition{X: 1})

	if _, ok := f.reg.BeginDiscovery(ctx, "a", false); !ok {
		t.Fatalf("BeginDiscovery failed")
	}
	if !f.reg.Uncollect(ctx, "a") {
		t.Fatalf("Uncollect returned false")
	}
	if f.reg.IsCollected("a") {
		t.Fatalf("still collected after Uncollect")
	}
	if _, ok := f.reg.Get("a"); ok {
		t.Fatalf("mid-discovery object should be removed on uncollect")
	}
	if f.reg.FinishDiscovery(ctx, "a") {
		t.Fatalf("late effect completion should be ignored")
	}

	f.place(t, "a", model.LocalPosition{X: 2})
	if got := f.reg.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}

func TestSweepHonoursGracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.place(t, "young", model.LocalPosition{X: 1})
	f.clock.T = f.clock.T.Add(-10 * time.Second)
	f.place(t, "old", model.LocalPosition{X: 10})
	f.clock.T = f.clock.T.Add(10 * time.Second)

	removed := f.reg.Sweep(ctx, map[string]bool{})
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("Sweep removed %v, want [old]", removed)
	}
	if _, ok := f.reg.Get("young"); !ok {
		t.Fatalf("young object should survive the sweep")
	}
}

func TestSweepReconcilesCollectedSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.place(t, "a", model.LocalPosition{X: 1})
	f.place(t, "b", model.LocalPosition{X: 10})
	f.place(t, "c", model.LocalPosition{X: 20})

	remote := func(id string) bool { return id == "b" }
	local := func(id string) bool { return id == "c" }
	removed := f.reg.Sweep(ctx, nil, remote, nil, local)
	if len(removed) != 2 || removed[0] != "b" || removed[1] != "c" {
		t.Fatalf("Sweep removed %v, want [b c]", removed)
	}
	if !f.reg.IsCollected("b") || !f.reg.IsCollected("c") || f.reg.IsCollected("a") {
		t.Fatalf("collected state not reconciled")
	}
	if live := f.renderer.Live(); len(live) != 1 || live[0] != "a" {
		t.Fatalf("renderer live = %v, want [a]", live)
	}
}

func TestListIsSortedSnapshot(t *testing.T) {
	f := newFixture(t)
	f.place(t, "b", model.LocalPosition{X: 1})
	f.place(t, "a", model.LocalPosition{X: 5})

	list := f.reg.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("List = %+v", list)
	}
	list[0].Position.X = 99
	if got, _ := f.reg.Get("a"); got.Position.X != 5 {
		t.Fatalf("List returned a live reference")
	}
}
