// Package session runs one hunt: it owns the origin machine, the placement
// engine, the object registry and the visibility monitor, and serialises every
// mutation through a single goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/internal/origin"
	"github.com/signalsfoundry/arhunt/internal/placement"
	"github.com/signalsfoundry/arhunt/internal/visibility"
	"github.com/signalsfoundry/arhunt/model"
	"github.com/signalsfoundry/arhunt/registry"
	"github.com/signalsfoundry/arhunt/timectrl"
)

var (
	// ErrClosed is returned by command helpers once Run has exited.
	ErrClosed = errors.New("session closed")
	// ErrUnknownObject is returned when a command names no live object.
	ErrUnknownObject = errors.New("unknown object")
	// ErrNoPose is returned by device-relative requests made before the first
	// viewer pose.
	ErrNoPose = errors.New("no viewer pose yet")
)

// Metrics is the union of recorders the session feeds.
type Metrics interface {
	placement.MetricsRecorder
	registry.MetricsRecorder
	ObservePass(pass string, d time.Duration)
	SetFrameState(state model.FrameState)
	AddVisibilityEntries(n int)
}

// RangeLister is implemented by sources that can restrict candidates to a
// bounding box around the origin.
type RangeLister interface {
	ListWithin(ctx context.Context, bound orb.Bound) ([]model.PlacementCandidate, error)
}

// Upserter is implemented by sources that accept new candidates, used to
// persist tap-to-place objects.
type Upserter interface {
	Upsert(ctx context.Context, c model.PlacementCandidate) error
}

// Config groups the per-component configs with session cadences.
type Config struct {
	Origin     origin.Config
	Placement  placement.Config
	Visibility visibility.Config

	// PlacementInterval throttles placement passes.
	PlacementInterval time.Duration
	SweepInterval     time.Duration
	ReloadInterval    time.Duration
	SweepGrace        time.Duration
	// CandidateRadius bounds candidate queries around the origin, in metres.
	CandidateRadius float64
	// QueueSize is the command channel capacity.
	QueueSize int
}

// DefaultConfig returns production cadences.
func DefaultConfig() Config {
	return Config{
		Origin:            origin.DefaultConfig(),
		Placement:         placement.DefaultConfig(),
		Visibility:        visibility.DefaultConfig(),
		PlacementInterval: 500 * time.Millisecond,
		SweepInterval:     2 * time.Second,
		ReloadInterval:    30 * time.Second,
		SweepGrace:        registry.DefaultGrace,
		CandidateRadius:   500,
		QueueSize:         64,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c Config) ApplyDefaults() Config {
	d := DefaultConfig()
	if c.PlacementInterval <= 0 {
		c.PlacementInterval = d.PlacementInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ReloadInterval <= 0 {
		c.ReloadInterval = d.ReloadInterval
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = d.SweepGrace
	}
	if c.CandidateRadius <= 0 {
		c.CandidateRadius = d.CandidateRadius
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Deps are the platform collaborators.
type Deps struct {
	Surface  core.SurfaceDetector
	Renderer core.Renderer
	Effect   core.DiscoveryEffect
	Source   core.CandidateSource
	// Pose, when set, is polled on every tick. Otherwise poses arrive via
	// UpdatePose.
	Pose    core.PoseProvider
	Bus     *events.Bus
	Metrics Metrics
	Log     logging.Logger
	// Clock stamps events raised before the first tick. Defaults to the
	// wall clock.
	Clock timectrl.SimClock
}

// Snapshot is the read-only view exposed to other goroutines. It may lag the
// session by one command.
type Snapshot struct {
	Frame      model.CoordinateFrame
	Pose       model.ViewerPose
	HasPose    bool
	Candidates int
	LastTick   time.Time
}

type command func(ctx context.Context)

// Session is the authoritative hunt state. Fields after snap are owned by
// the Run goroutine, or by the caller when the synchronous methods are used
// directly.
type Session struct {
	cfg      Config
	source   core.CandidateSource
	poses    core.PoseProvider
	bus      *events.Bus
	metrics  Metrics
	log      logging.Logger
	wall     timectrl.SimClock
	machine  *origin.Machine
	engine   *placement.Engine
	registry *registry.Registry
	monitor  *visibility.Monitor

	cmds chan command
	done chan struct{}

	snapMu sync.RWMutex
	snap   Snapshot

	async bool

	candidates []model.PlacementCandidate
	remote     map[string]bool
	present    map[string]bool

	pose    model.ViewerPose
	hasPose bool

	placementThrottle *timectrl.Throttle
	sweepThrottle     *timectrl.Throttle
	reloadThrottle    *timectrl.Throttle

	pendingEffects   map[string]<-chan struct{}
	loading          bool
	computingVisible bool
}

// New wires a session. It does not start the goroutine; call Run.
func New(cfg Config, deps Deps) *Session {
	cfg = cfg.ApplyDefaults()
	log := logging.OrNoop(deps.Log).With(logging.String("component", "session"))
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	source := deps.Source
	if source == nil {
		source = core.NewMemorySource()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = core.NewRecordingRenderer()
	}
	wall := deps.Clock
	if wall == nil {
		wall = timectrl.WallClock{}
	}

	s := &Session{
		cfg:               cfg,
		source:            source,
		poses:             deps.Pose,
		bus:               deps.Bus,
		metrics:           metrics,
		log:               log,
		wall:              wall,
		machine:           origin.New(cfg.Origin, deps.Surface, deps.Bus, deps.Log),
		monitor:           visibility.NewMonitor(cfg.Visibility),
		cmds:              make(chan command, cfg.QueueSize),
		done:              make(chan struct{}),
		remote:            make(map[string]bool),
		present:           make(map[string]bool),
		placementThrottle: timectrl.NewThrottle(cfg.PlacementInterval),
		sweepThrottle:     timectrl.NewThrottle(cfg.SweepInterval),
		reloadThrottle:    timectrl.NewThrottle(cfg.ReloadInterval),
		pendingEffects:    make(map[string]<-chan struct{}),
	}
	s.registry = registry.New(renderer, deps.Effect, deps.Log,
		registry.WithBus(deps.Bus),
		registry.WithMetrics(metrics),
		registry.WithGrace(cfg.SweepGrace),
		registry.WithClock(s.clock),
	)
	s.engine = placement.NewEngine(cfg.Placement, deps.Surface, s.registry, deps.Log,
		placement.WithMetrics(metrics),
		placement.WithStore(source),
	)
	s.snap.Frame = s.machine.Frame()
	metrics.SetFrameState(s.snap.Frame.State)
	return s
}

// clock stamps registry events with session time once ticks have started.
func (s *Session) clock() time.Time {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.snap.LastTick.IsZero() {
		return s.wall.Now()
	}
	return s.snap.LastTick
}

// Registry exposes the object registry for read access.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// Snapshot returns the latest published view.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Objects returns the live placed objects sorted by ID.
func (s *Session) Objects() []model.PlacedObject {
	return s.registry.List()
}

// Run processes commands until ctx is cancelled. Candidate loads and viewport
// passes run on worker goroutines and report back as commands.
func (s *Session) Run(ctx context.Context) error {
	s.async = true
	defer close(s.done)
	s.log.Info(ctx, "session started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "session stopped")
			return ctx.Err()
		case cmd := <-s.cmds:
			cmd(ctx)
		}
	}
}

// post enqueues cmd. It blocks while the queue is full.
func (s *Session) post(ctx context.Context, cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call enqueues fn and waits for it to run on the session goroutine.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	if err := s.post(ctx, func(ctx context.Context) { errc <- fn(ctx) }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostTick enqueues a tick without blocking. Ticks are dropped when the
// queue is full; the next one catches up.
func (s *Session) PostTick(now time.Time) bool {
	select {
	case s.cmds <- func(ctx context.Context) { s.Tick(ctx, now) }:
		return true
	default:
		return false
	}
}

// SubmitPose enqueues a pose update.
func (s *Session) SubmitPose(ctx context.Context, pose model.ViewerPose) error {
	return s.post(ctx, func(ctx context.Context) { s.UpdatePose(ctx, pose) })
}

// SubmitDiscover discovers id on the session goroutine.
func (s *Session) SubmitDiscover(ctx context.Context, id string) error {
	return s.call(ctx, func(ctx context.Context) error { return s.Discover(ctx, id, false) })
}

// SubmitCollectedElsewhere reports a collection made on another device.
func (s *Session) SubmitCollectedElsewhere(ctx context.Context, id string) error {
	return s.call(ctx, func(ctx context.Context) error { return s.CollectedElsewhere(ctx, id) })
}

// SubmitUncollected reports that a collection was reverted.
func (s *Session) SubmitUncollected(ctx context.Context, id string) error {
	return s.call(ctx, func(ctx context.Context) error { return s.Uncollected(ctx, id) })
}

// SubmitTap places a new object at pos on the session goroutine.
func (s *Session) SubmitTap(ctx context.Context, kind model.ObjectKind, name string, pos model.LocalPosition) (model.PlacedObject, error) {
	var obj model.PlacedObject
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		obj, err = s.TapToPlace(ctx, kind, name, pos)
		return err
	})
	return obj, err
}

// UpdatePose records the latest viewpoint.
func (s *Session) UpdatePose(ctx context.Context, pose model.ViewerPose) {
	s.pose = pose
	s.hasPose = true
	s.publish(func(snap *Snapshot) {
		snap.Pose = pose
		snap.HasPose = true
	})
}

// Tick advances the session to now: origin lifecycle, effect completion,
// proximity, placement, viewport, sweep and reload, in that order.
func (s *Session) Tick(ctx context.Context, now time.Time) {
	s.publish(func(snap *Snapshot) { snap.LastTick = now })
	if s.poses != nil {
		s.UpdatePose(ctx, s.poses.Pose(now))
	}

	s.observeOrigin(ctx, now)
	s.pollEffects(ctx)

	if s.hasPose {
		for _, id := range s.monitor.CheckProximity(now, s.pose, s.registry.List()) {
			s.discover(ctx, id, true)
		}
	}
	if s.placementThrottle.Allow(now) {
		s.placementPass(ctx, now)
	}
	if s.hasPose && s.monitor.ViewportDue(now) {
		s.viewportPass(ctx, now)
	}
	if s.sweepThrottle.Allow(now) {
		s.sweep(ctx)
	}
	if s.reloadThrottle.Allow(now) {
		s.reload(ctx)
	}
}

func (s *Session) observeOrigin(ctx context.Context, now time.Time) {
	var fix *model.GeoPoint
	if s.hasPose && s.pose.HasFix {
		f := s.pose.Fix
		fix = &f
	}
	height := 0.0
	if s.hasPose {
		height = s.pose.Height()
	}
	hadOrigin := s.machine.Frame().HasOrigin
	tr, changed := s.machine.Observe(ctx, now, fix, height)
	if !changed {
		return
	}
	frame := s.machine.Frame()
	s.metrics.SetFrameState(frame.State)
	s.publish(func(snap *Snapshot) { snap.Frame = frame })
	s.log.Debug(ctx, "frame transition",
		logging.String("from", tr.From.String()),
		logging.String("to", tr.To.String()))

	if frame.HasOrigin && !hadOrigin {
		// Candidates are queried around the new origin straight away.
		s.reloadThrottle.Reset()
		s.placementThrottle.Reset()
	}
}

func (s *Session) pollEffects(ctx context.Context) {
	if len(s.pendingEffects) == 0 {
		return
	}
	ids := make([]string, 0, len(s.pendingEffects))
	for id := range s.pendingEffects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		select {
		case <-s.pendingEffects[id]:
			delete(s.pendingEffects, id)
			if s.registry.FinishDiscovery(ctx, id) {
				s.monitor.Forget(id)
			}
		default:
		}
	}
}

// Discover starts discovery of a live object. Repeated calls are no-ops.
func (s *Session) Discover(ctx context.Context, id string, auto bool) error {
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("discover %q: %w", id, ErrUnknownObject)
	}
	s.discover(ctx, id, auto)
	return nil
}

func (s *Session) discover(ctx context.Context, id string, auto bool) {
	done, ok := s.registry.BeginDiscovery(ctx, id, auto)
	if !ok {
		return
	}
	s.markCandidate(id, true)
	if err := s.source.SetCollected(ctx, id, true); err != nil {
		s.log.Warn(ctx, "failed to persist collection", logging.String("id", id), logging.Err(err))
	}
	s.pendingEffects[id] = done
	s.pollEffects(ctx)
}

// CollectedElsewhere removes id immediately without an effect.
func (s *Session) CollectedElsewhere(ctx context.Context, id string) error {
	s.markCandidate(id, true)
	s.remote[id] = true
	delete(s.pendingEffects, id)
	if s.registry.CollectedElsewhere(ctx, id) {
		s.monitor.Forget(id)
	}
	return nil
}

// Uncollected clears collection state for id and re-runs placement when the
// candidate is in range.
func (s *Session) Uncollected(ctx context.Context, id string) error {
	delete(s.remote, id)
	delete(s.pendingEffects, id)
	if s.registry.Uncollect(ctx, id) {
		s.monitor.Forget(id)
	}
	if err := s.source.SetCollected(ctx, id, false); err != nil && !errors.Is(err, model.ErrObjectNotFound) {
		s.log.Warn(ctx, "failed to persist uncollection", logging.String("id", id), logging.Err(err))
	}
	if s.markCandidate(id, false) {
		s.placementPass(ctx, s.clock())
	}
	return nil
}

// markCandidate updates the cached collected flag and reports whether id is
// a current candidate.
func (s *Session) markCandidate(id string, collected bool) bool {
	for i := range s.candidates {
		if s.candidates[i].ID == id {
			s.candidates[i].Collected = collected
			return true
		}
	}
	return false
}

func (s *Session) isCollected(id string) bool {
	return s.remote[id] || s.registry.IsCollected(id)
}

// TapToPlace commits a player-placed object at a device-relative position.
func (s *Session) TapToPlace(ctx context.Context, kind model.ObjectKind, name string, pos model.LocalPosition) (model.PlacedObject, error) {
	if !s.hasPose {
		return model.PlacedObject{}, fmt.Errorf("tap at (%.2f, %.2f) before any pose: %w", pos.X, pos.Z, ErrNoPose)
	}
	now := s.clock()
	frame := s.machine.Frame()
	stored := &model.StoredLocal{Position: pos, RecordedAt: now}
	if frame.HasOrigin {
		stored.Origin = frame.Origin
		stored.HasOrigin = true
	}
	c := model.PlacementCandidate{
		ID:             uuid.NewString(),
		Kind:           kind,
		Name:           name,
		Stored:         stored,
		ManuallyPlaced: true,
	}
	res, err := s.engine.Place(ctx, placement.Request{
		Candidate:  c,
		Frame:      frame,
		Viewer:     s.pose,
		Placed:     s.registry.List(),
		Collected:  s.isCollected,
		TapToPlace: true,
		Now:        now,
	})
	if err != nil {
		s.bus.Publish(events.PlacementRejected{At: now, CandidateID: c.ID, Reason: err})
		return model.PlacedObject{}, err
	}
	s.candidates = append(s.candidates, c)
	sort.Slice(s.candidates, func(i, j int) bool { return s.candidates[i].ID < s.candidates[j].ID })
	s.present[c.ID] = true
	s.publish(func(snap *Snapshot) { snap.Candidates = len(s.candidates) })

	if up, ok := s.source.(Upserter); ok {
		if err := up.Upsert(ctx, c); err != nil {
			s.log.Warn(ctx, "failed to persist tap placement", logging.String("id", c.ID), logging.Err(err))
		}
	}
	return res.Object, nil
}

func (s *Session) placementPass(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() { s.metrics.ObservePass("placement", time.Since(start)) }()

	if !s.hasPose {
		return
	}
	frame := s.machine.Frame()
	placed := s.registry.List()
	limit := s.engine.Config().MaxObjects
	for _, c := range s.candidates {
		if len(placed) >= limit {
			break
		}
		if _, ok := s.registry.Get(c.ID); ok || c.Collected || s.isCollected(c.ID) {
			continue
		}
		if c.GPSBased() && !frame.UsableForGPS() {
			continue
		}
		res, err := s.engine.Place(ctx, placement.Request{
			Candidate:  c,
			Frame:      frame,
			Viewer:     s.pose,
			Placed:     placed,
			Neighbours: s.candidates,
			Collected:  s.isCollected,
			Now:        now,
		})
		if err != nil {
			s.bus.Publish(events.PlacementRejected{At: now, CandidateID: c.ID, Reason: err})
			continue
		}
		placed = append(placed, res.Object)
	}
}

func (s *Session) viewportPass(ctx context.Context, now time.Time) {
	pose := s.pose
	objects := s.registry.List()
	cfg := s.monitor.Config()
	if !s.async {
		s.applyVisible(ctx, now, visibility.ComputeVisible(pose, objects, cfg.Viewport, cfg.MaxPerPass))
		return
	}
	if s.computingVisible {
		return
	}
	s.computingVisible = true
	go func() {
		start := time.Now()
		visible := visibility.ComputeVisible(pose, objects, cfg.Viewport, cfg.MaxPerPass)
		s.metrics.ObservePass("viewport", time.Since(start))
		_ = s.post(ctx, func(ctx context.Context) {
			s.computingVisible = false
			s.applyVisible(ctx, now, visible)
		})
	}()
}

func (s *Session) applyVisible(ctx context.Context, now time.Time, visible map[string]bool) {
	// Objects removed while the pass was computing are not announced.
	for id := range visible {
		if _, ok := s.registry.Get(id); !ok {
			delete(visible, id)
		}
	}
	entered := s.monitor.ApplyVisible(visible)
	for _, id := range entered {
		s.registry.MarkVisible(id)
		s.bus.Publish(events.ObjectEnteredView{At: now, ObjectID: id})
	}
	s.metrics.AddVisibilityEntries(len(entered))
}

func (s *Session) sweep(ctx context.Context) {
	start := time.Now()
	var present map[string]bool
	if s.hasLoaded() {
		present = s.present
	}
	removed := s.registry.Sweep(ctx, present,
		func(id string) bool { return s.remote[id] },
		func(id string) bool {
			for _, c := range s.candidates {
				if c.ID == id {
					return c.Collected
				}
			}
			return false
		},
	)
	for _, id := range removed {
		s.monitor.Forget(id)
	}
	s.metrics.ObservePass("sweep", time.Since(start))
}

func (s *Session) hasLoaded() bool {
	return s.candidates != nil
}

// LoadCandidates queries the source synchronously and applies the result.
func (s *Session) LoadCandidates(ctx context.Context) error {
	cands, err := s.fetch(ctx, s.machine.Frame())
	if err != nil {
		return err
	}
	s.applyCandidates(ctx, cands)
	return nil
}

func (s *Session) reload(ctx context.Context) {
	if !s.async {
		if err := s.LoadCandidates(ctx); err != nil {
			s.log.Warn(ctx, "candidate load failed", logging.Err(err))
		}
		return
	}
	if s.loading {
		return
	}
	s.loading = true
	frame := s.machine.Frame()
	go func() {
		start := time.Now()
		cands, err := s.fetch(ctx, frame)
		s.metrics.ObservePass("load", time.Since(start))
		_ = s.post(ctx, func(ctx context.Context) {
			s.loading = false
			if err != nil {
				s.log.Warn(ctx, "candidate load failed", logging.Err(err))
				return
			}
			s.applyCandidates(ctx, cands)
		})
	}()
}

func (s *Session) fetch(ctx context.Context, frame model.CoordinateFrame) ([]model.PlacementCandidate, error) {
	if rl, ok := s.source.(RangeLister); ok && frame.HasOrigin {
		return rl.ListWithin(ctx, core.BoundAround(frame.Origin, s.cfg.CandidateRadius))
	}
	return s.source.List(ctx)
}

func (s *Session) applyCandidates(ctx context.Context, cands []model.PlacementCandidate) {
	out := make([]model.PlacementCandidate, len(cands))
	copy(out, cands)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	present := make(map[string]bool, len(out))
	for i, c := range out {
		present[c.ID] = true
		// A session-local collection outranks a stale source row.
		if s.isCollected(c.ID) {
			out[i].Collected = true
		}
	}
	s.candidates = out
	s.present = present
	s.publish(func(snap *Snapshot) { snap.Candidates = len(out) })
	s.log.Debug(ctx, "candidates loaded", logging.Int("count", len(out)))
}

func (s *Session) publish(fn func(*Snapshot)) {
	s.snapMu.Lock()
	fn(&s.snap)
	s.snapMu.Unlock()
}

type noopMetrics struct{}

func (noopMetrics) ObservePlacement(string, time.Duration) {}
func (noopMetrics) SetPlacedObjects(int)                   {}
func (noopMetrics) IncDiscoveries()                        {}
func (noopMetrics) IncRemovals(string)                     {}
func (noopMetrics) ObservePass(string, time.Duration)      {}
func (noopMetrics) SetFrameState(model.FrameState)         {}
func (noopMetrics) AddVisibilityEntries(int)               {}
