// Package registry owns the set of placed objects and their discovery state.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/model"
)

// DefaultGrace is how long a newly placed object is exempt from
// removal-by-absence sweeps.
const DefaultGrace = 5 * time.Second

// MetricsRecorder receives registry counts.
type MetricsRecorder interface {
	SetPlacedObjects(n int)
	IncDiscoveries()
	IncRemovals(reason string)
}

// CollectedCheck is one authoritative answer to "has this candidate been
// collected". Sweeps consult several of them.
type CollectedCheck func(id string) bool

// Registry is a thread-safe store of placed objects. Removed objects are
// dropped, so an identifier maps to at most one live object.
type Registry struct {
	mu sync.RWMutex

	objects   map[string]*model.PlacedObject
	collected map[string]bool

	renderer core.Renderer
	effect   core.DiscoveryEffect
	bus      *events.Bus
	metrics  MetricsRecorder
	log      logging.Logger
	now      func() time.Time
	grace    time.Duration
}

// Option customises a Registry.
type Option func(*Registry)

// WithBus publishes lifecycle events on b.
func WithBus(b *events.Bus) Option {
	return func(r *Registry) { r.bus = b }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the time source used for placement stamps and events.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithGrace overrides the sweep grace period.
func WithGrace(d time.Duration) Option {
	return func(r *Registry) { r.grace = d }
}

// New constructs an empty registry.
func New(renderer core.Renderer, effect core.DiscoveryEffect, log logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		objects:   make(map[string]*model.PlacedObject),
		collected: make(map[string]bool),
		renderer:  renderer,
		effect:    effect,
		log:       logging.OrNoop(log).With(logging.String("component", "registry")),
		now:       time.Now,
		grace:     DefaultGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register commits a placed object and asks the renderer to draw it.
func (r *Registry) Register(ctx context.Context, obj model.PlacedObject, spec model.VisualSpec) (model.PlacedObject, error) {
	r.mu.Lock()
	if _, exists := r.objects[obj.ID]; exists {
		r.mu.Unlock()
		return model.PlacedObject{}, fmt.Errorf("object %q: %w", obj.ID, model.ErrObjectExists)
	}
	if r.collected[obj.ID] {
		r.mu.Unlock()
		return model.PlacedObject{}, fmt.Errorf("object %q: %w", obj.ID, model.ErrAlreadyCollected)
	}
	if obj.PlacedAt.IsZero() {
		obj.PlacedAt = r.now()
	}
	obj.State = model.StatePlaced
	obj.Handle = r.renderer.Place(obj.ID, obj.Position, spec)
	stored := obj
	r.objects[obj.ID] = &stored
	count := len(r.objects)
	r.mu.Unlock()

	r.setCount(count)
	r.bus.Publish(events.ObjectPlaced{At: obj.PlacedAt, Object: obj})
	return obj, nil
}

// Get returns a copy of the live object with the given ID.
func (r *Registry) Get(id string) (model.PlacedObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[id]
	if !ok {
		return model.PlacedObject{}, false
	}
	return *o, true
}

// List returns a snapshot of all live objects sorted by ID.
func (r *Registry) List() []model.PlacedObject {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.PlacedObject, 0, len(r.objects))
	for _, o := range r.objects {
		res = append(res, *o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Count returns the number of live objects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// IsCollected reports whether id has been marked collected in this session.
func (r *Registry) IsCollected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collected[id]
}

// MarkVisible moves a Placed object to Visible. It reports whether the state changed.
func (r *Registry) MarkVisible(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[id]
	if !ok || o.State != model.StatePlaced {
		return false
	}
	o.State = model.StateVisible
	return true
}

// BeginDiscovery marks the object collected and starts the discovery effect.
// It returns the effect's completion channel, or false when the object is
// unknown or already discovered.
func (r *Registry) BeginDiscovery(ctx context.Context, id string, auto bool) (<-chan struct{}, bool) {
	r.mu.Lock()
	o, ok := r.objects[id]
	if !ok || o.State == model.StateDiscovered || o.State == model.StateRemoved {
		r.mu.Unlock()
		return nil, false
	}
	// Collected before the effect runs so placement passes skip it.
	o.State = model.StateDiscovered
	r.collected[id] = true
	r.mu.Unlock()

	at := r.now()
	r.log.Info(ctx, "object discovered", logging.String("id", id), logging.Bool("auto", auto))
	if r.metrics != nil {
		r.metrics.IncDiscoveries()
	}
	r.bus.Publish(events.ObjectDiscovered{At: at, ObjectID: id, Auto: auto})

	if r.effect == nil {
		done := make(chan struct{})
		close(done)
		return done, true
	}
	return r.effect.Play(id), true
}

// FinishDiscovery removes an object whose discovery effect has completed.
// It is a no-op unless the object is still in the Discovered state.
func (r *Registry) FinishDiscovery(ctx context.Context, id string) bool {
	r.mu.Lock()
	o, ok := r.objects[id]
	if !ok || o.State != model.StateDiscovered {
		r.mu.Unlock()
		return false
	}
	removed := r.removeLocked(o)
	count := len(r.objects)
	r.mu.Unlock()

	r.afterRemove(ctx, removed, events.RemovedDiscovered, count)
	return true
}

// CollectedElsewhere marks id collected and removes its object immediately,
// skipping the discovery effect.
func (r *Registry) CollectedElsewhere(ctx context.Context, id string) bool {
	r.mu.Lock()
	r.collected[id] = true
	o, ok := r.objects[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	removed := r.removeLocked(o)
	count := len(r.objects)
	r.mu.Unlock()

	r.afterRemove(ctx, removed, events.RemovedCollectedElsewhere, count)
	return true
}

// Uncollect clears collection state so the candidate becomes eligible again.
// An object caught mid-discovery is removed so the next pass re-places it.
// It reports whether anything changed.
func (r *Registry) Uncollect(ctx context.Context, id string) bool {
	r.mu.Lock()
	was := r.collected[id]
	delete(r.collected, id)
	o, ok := r.objects[id]
	if !ok || o.State != model.StateDiscovered {
		r.mu.Unlock()
		return was
	}
	removed := r.removeLocked(o)
	count := len(r.objects)
	r.mu.Unlock()

	r.afterRemove(ctx, removed, events.RemovedUncollected, count)
	return true
}

// Sweep reconciles live objects against authoritative collection sources and
// the current candidate set. present may be nil to skip absence checks.
// Objects younger than the grace period are never removed for absence, and
// objects mid-discovery are left alone.
func (r *Registry) Sweep(ctx context.Context, present map[string]bool, checks ...CollectedCheck) []string {
	now := r.now()

	r.mu.Lock()
	var removed []model.PlacedObject
	for id, o := range r.objects {
		// Mid-discovery objects are finished by their effect.
		if o.State == model.StateDiscovered {
			continue
		}
		collected := false
		for _, check := range checks {
			if check != nil && check(id) {
				collected = true
				break
			}
		}
		absent := present != nil && !present[id] && now.Sub(o.PlacedAt) >= r.grace
		if !collected && !absent {
			continue
		}
		if collected {
			r.collected[id] = true
		}
		removed = append(removed, r.removeLocked(o))
	}
	count := len(r.objects)
	r.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	ids := make([]string, 0, len(removed))
	for _, o := range removed {
		r.afterRemove(ctx, o, events.RemovedSweep, count)
		ids = append(ids, o.ID)
	}
	return ids
}

func (r *Registry) removeLocked(o *model.PlacedObject) model.PlacedObject {
	o.State = model.StateRemoved
	r.renderer.Remove(o.Handle)
	delete(r.objects, o.ID)
	return *o
}

func (r *Registry) afterRemove(ctx context.Context, o model.PlacedObject, reason events.RemovalReason, count int) {
	r.log.Debug(ctx, "object removed", logging.String("id", o.ID), logging.String("reason", string(reason)))
	if r.metrics != nil {
		r.metrics.IncRemovals(string(reason))
	}
	r.setCount(count)
	r.bus.Publish(events.ObjectRemoved{At: r.now(), ObjectID: o.ID, Reason: reason})
}

func (r *Registry) setCount(n int) {
	if r.metrics != nil {
		r.metrics.SetPlacedObjects(n)
	}
}
