// Package placement resolves placement candidates into committed local
// positions, honouring spacing, collision and grounding rules.
package placement

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/internal/observability"
	"github.com/signalsfoundry/arhunt/model"
)

// Registrar commits placed objects. The object registry implements it.
type Registrar interface {
	Register(ctx context.Context, obj model.PlacedObject, spec model.VisualSpec) (model.PlacedObject, error)
}

// LocalStore receives write-backs for committed placements.
type LocalStore interface {
	SaveLocalPosition(ctx context.Context, id string, stored model.StoredLocal) error
	SaveCorrectedGPS(ctx context.Context, id string, corrected model.GeoPoint) error
}

// MetricsRecorder observes placement attempts.
type MetricsRecorder interface {
	ObservePlacement(outcome string, d time.Duration)
}

// Source records how a committed position was obtained.
type Source string

const (
	SourceStored    Source = "stored"
	SourceGPS       Source = "gps"
	SourceGPSOffset Source = "gps_offset"
)

// Request is one placement attempt. Placed must hold the active objects at
// the time of the call; Neighbours are the other candidates of the same pass.
type Request struct {
	Candidate  model.PlacementCandidate
	Frame      model.CoordinateFrame
	Viewer     model.ViewerPose
	Placed     []model.PlacedObject
	Neighbours []model.PlacementCandidate
	Collected  func(id string) bool
	TapToPlace bool
	Now        time.Time
}

// Result describes a committed placement.
type Result struct {
	Object       model.PlacedObject
	Source       Source
	SurfaceFound bool
}

// Engine runs the placement pipeline. It holds no per-object state; the
// caller passes snapshots in each Request.
type Engine struct {
	cfg       Config
	surface   core.SurfaceDetector
	registrar Registrar
	store     LocalStore
	rng       *rand.Rand
	metrics   MetricsRecorder
	log       logging.Logger
}

// Option customises Engine construction.
type Option func(*Engine)

// WithRand sets the random source used for collision offsets.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStore attaches the write-back store.
func WithStore(s LocalStore) Option {
	return func(e *Engine) { e.store = s }
}

// NewEngine constructs an engine.
func NewEngine(cfg Config, surface core.SurfaceDetector, registrar Registrar, log logging.Logger, opts ...Option) *Engine {
	if surface == nil {
		surface = core.NoSurface{}
	}
	e := &Engine{
		cfg:       cfg.ApplyDefaults(),
		surface:   surface,
		registrar: registrar,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		log:       logging.OrNoop(log).With(logging.String("component", "placement")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Place runs eligibility, resolution, collision avoidance, grounding,
// validation and commit for one candidate. Any error leaves no side effects
// and the candidate stays eligible for the next pass.
func (e *Engine) Place(ctx context.Context, req Request) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "placement.Place", req.Candidate.ID,
		attribute.String("frame.state", req.Frame.State.String()),
		attribute.Bool("tap_to_place", req.TapToPlace),
	)
	defer span.End()

	start := time.Now()
	res, err := e.place(ctx, req)
	outcome := Outcome(err)
	span.SetAttributes(attribute.String("placement.outcome", outcome))
	if e.metrics != nil {
		e.metrics.ObservePlacement(outcome, time.Since(start))
	}
	if err != nil {
		e.log.Debug(ctx, "placement deferred",
			logging.String("candidate_id", req.Candidate.ID),
			logging.String("outcome", outcome),
			logging.Err(err))
		return Result{}, err
	}
	span.SetAttributes(attribute.String("placement.source", string(res.Source)))
	return res, nil
}

func (e *Engine) place(ctx context.Context, req Request) (Result, error) {
	c := req.Candidate
	if err := e.checkEligible(req); err != nil {
		return Result{}, err
	}

	useStored, err := e.trustStored(ctx, req)
	if err != nil {
		return Result{}, err
	}

	var (
		pos     model.LocalPosition
		gps     model.GeoPoint
		hasGPS  bool
		source  Source
		surface bool
	)
	if useStored {
		pos = c.Stored.Position
		source = SourceStored
		surface = true
		// The target still anchors GPS collisions for later candidates.
		gps, hasGPS = c.Target, c.HasTarget
	} else {
		if !req.Frame.UsableForGPS() {
			return Result{}, fmt.Errorf("candidate %q: %w", c.ID, model.ErrFrameNotReady)
		}
		pos, gps, source, surface, err = e.resolveGPS(ctx, req)
		if err != nil {
			return Result{}, err
		}
		hasGPS = true
	}

	if useStored {
		if err := e.validate(req, pos, true); err != nil {
			return Result{}, err
		}
	}

	obj := model.PlacedObject{
		ID:       c.ID,
		Kind:     c.Kind,
		Position: pos,
		GPS:      gps,
		HasGPS:   hasGPS,
		Exempt:   useStored,
		State:    model.StatePlaced,
		PlacedAt: req.Now,
	}
	committed, err := e.registrar.Register(ctx, obj, model.VisualSpec{Kind: c.Kind, Name: c.Name})
	if err != nil {
		return Result{}, fmt.Errorf("register %q: %w", c.ID, err)
	}

	e.writeBack(ctx, req, committed, useStored)

	e.log.Info(ctx, "object placed",
		logging.String("id", committed.ID),
		logging.String("source", string(source)),
		logging.Float64("x", pos.X),
		logging.Float64("y", pos.Y),
		logging.Float64("z", pos.Z),
		logging.Bool("surface", surface))
	return Result{Object: committed, Source: source, SurfaceFound: surface}, nil
}

func (e *Engine) checkEligible(req Request) error {
	c := req.Candidate
	active := 0
	for _, o := range req.Placed {
		if !o.Active() {
			continue
		}
		if o.ID == c.ID {
			return fmt.Errorf("candidate %q: %w", c.ID, model.ErrAlreadyPlaced)
		}
		active++
	}
	if c.Collected || (req.Collected != nil && req.Collected(c.ID)) {
		return fmt.Errorf("candidate %q: %w", c.ID, model.ErrAlreadyCollected)
	}
	if active >= e.cfg.MaxObjects {
		return fmt.Errorf("candidate %q: %d placed: %w", c.ID, active, model.ErrLimitReached)
	}
	if !c.HasTarget && c.Stored == nil {
		return fmt.Errorf("candidate %q: %w", c.ID, model.ErrNoTarget)
	}
	if c.GPSBased() && !req.Frame.UsableForGPS() {
		return fmt.Errorf("candidate %q: %w", c.ID, model.ErrFrameNotReady)
	}
	return nil
}

// trustStored decides between stored coordinates and a fresh GPS conversion.
// Stored coordinates win only when their recorded origin lies strictly within
// OriginTolerance of the current one, or when there is nothing to compare
// against (device-relative placement).
func (e *Engine) trustStored(ctx context.Context, req Request) (bool, error) {
	c := req.Candidate
	if c.Stored == nil {
		return false, nil
	}
	if !c.Stored.HasOrigin || !req.Frame.HasOrigin {
		return true, nil
	}

	drift := core.GroundDistance(c.Stored.Origin, req.Frame.Origin)
	if drift < e.cfg.OriginTolerance {
		return true, nil
	}

	e.log.Info(ctx, "discarding stored coordinates",
		logging.String("candidate_id", c.ID),
		logging.Float64("origin_drift_m", drift),
		logging.Err(model.ErrStaleOriginMismatch))
	if !c.HasTarget {
		return false, fmt.Errorf("candidate %q: origin drift %.2fm: %w", c.ID, drift, model.ErrStaleOriginMismatch)
	}
	return false, nil
}

// resolveGPS converts the candidate's target, offsetting it first when it
// collides with another GPS point, and grounds and validates the result.
func (e *Engine) resolveGPS(ctx context.Context, req Request) (model.LocalPosition, model.GeoPoint, Source, bool, error) {
	c := req.Candidate
	anchor, collides := e.gpsCollision(req)
	if !collides {
		pos, surface := e.ground(ctx, req, c.Target)
		if err := e.validate(req, pos, false); err != nil {
			return model.LocalPosition{}, model.GeoPoint{}, "", false, err
		}
		return pos, c.Target, SourceGPS, surface, nil
	}

	var lastErr error
	for i := 0; i < e.cfg.OffsetAttempts; i++ {
		bearing := e.rng.Float64() * 360
		target := core.Offset(anchor, bearing, e.cfg.CollisionOffset)
		target.HorizontalAccuracy = c.Target.HorizontalAccuracy

		pos, surface := e.ground(ctx, req, target)
		if err := e.validate(req, pos, false); err != nil {
			lastErr = err
			continue
		}
		e.log.Debug(ctx, "offset colliding gps target",
			logging.String("candidate_id", c.ID),
			logging.Float64("bearing_deg", bearing),
			logging.Int("attempt", i+1))
		return pos, target, SourceGPSOffset, surface, nil
	}
	return model.LocalPosition{}, model.GeoPoint{}, "", false,
		fmt.Errorf("candidate %q: no clear offset after %d attempts: %w: %w", c.ID, e.cfg.OffsetAttempts, model.ErrCollisionDetected, lastErr)
}

// gpsCollision returns the GPS point the candidate collides with, checking
// placed objects first and then uncollected neighbours that sort before it.
func (e *Engine) gpsCollision(req Request) (model.GeoPoint, bool) {
	c := req.Candidate
	for _, o := range req.Placed {
		if !o.Active() || !o.HasGPS || o.ID == c.ID {
			continue
		}
		if core.GroundDistance(o.GPS, c.Target) < e.cfg.GPSCollisionRadius {
			return o.GPS, true
		}
	}
	for _, n := range req.Neighbours {
		if n.ID >= c.ID || n.Collected || !n.HasTarget {
			continue
		}
		if req.Collected != nil && req.Collected(n.ID) {
			continue
		}
		if core.GroundDistance(n.Target, c.Target) < e.cfg.GPSCollisionRadius {
			return n.Target, true
		}
	}
	return model.GeoPoint{}, false
}

// ground converts target and replaces the vertical with the detected surface,
// or with the kind's default height relative to the viewer.
func (e *Engine) ground(ctx context.Context, req Request, target model.GeoPoint) (model.LocalPosition, bool) {
	pos, _ := core.ToLocal(req.Frame, target)
	viewerHeight := req.Viewer.Height()
	if y, ok := e.surface.Query(pos.X, pos.Z, viewerHeight); ok {
		pos.Y = y
		return pos, true
	}
	pos.Y = viewerHeight + req.Candidate.Kind.DefaultHeightOffset()
	e.log.Debug(ctx, "grounding fell back to default height",
		logging.String("candidate_id", req.Candidate.ID),
		logging.Float64("y", pos.Y),
		logging.Err(model.ErrSurfaceNotFound))
	return pos, false
}

// validate applies spacing and viewer-distance rules. Exempt positions skip
// the horizontal minimum but never the stacking rule.
func (e *Engine) validate(req Request, pos model.LocalPosition, exempt bool) error {
	c := req.Candidate
	for _, o := range req.Placed {
		if !o.Active() || o.ID == c.ID {
			continue
		}
		h := pos.HorizontalDistanceTo(o.Position)
		if h < e.cfg.StackRadius && pos.VerticalSeparation(o.Position) < e.cfg.MinVerticalSeparation {
			return fmt.Errorf("candidate %q stacks on %q: %w", c.ID, o.ID, model.ErrCollisionDetected)
		}
		if !exempt && h < e.cfg.MinSeparation {
			return fmt.Errorf("candidate %q is %.2fm from %q: %w", c.ID, h, o.ID, model.ErrSpacingViolation)
		}
	}

	if c.ManuallyPlaced && !req.TapToPlace {
		return nil
	}
	minDist := e.cfg.MinViewerDistance
	if req.TapToPlace {
		minDist = e.cfg.TapMinViewerDistance
	}
	if d := pos.HorizontalDistanceTo(req.Viewer.Position); d < minDist {
		return fmt.Errorf("candidate %q is %.2fm from viewer: %w", c.ID, d, model.ErrTooCloseToViewer)
	}
	return nil
}

// writeBack persists local coordinates for fresh conversions and writes a
// GPS correction for stored placements whose target disagrees with them.
// Tap-to-place records are persisted by their creator.
// Failures are logged; the placement itself stands.
func (e *Engine) writeBack(ctx context.Context, req Request, obj model.PlacedObject, fromStored bool) {
	if e.store == nil {
		return
	}
	c := req.Candidate

	if !fromStored {
		stored := model.StoredLocal{
			Position:   obj.Position,
			Origin:     req.Frame.Origin,
			HasOrigin:  req.Frame.HasOrigin,
			RecordedAt: req.Now,
		}
		if err := e.store.SaveLocalPosition(ctx, c.ID, stored); err != nil {
			e.log.Warn(ctx, "failed to persist local coordinates",
				logging.String("candidate_id", c.ID), logging.Err(err))
		}
		return
	}

	if !c.HasTarget {
		return
	}
	implied, ok := core.FromLocal(req.Frame, obj.Position)
	if !ok {
		return
	}
	implied.HorizontalAccuracy = req.Frame.Origin.HorizontalAccuracy
	if err := e.checkCorrection(c.Target, implied); err != nil {
		if errors.Is(err, model.ErrImplausibleCorrection) {
			e.log.Warn(ctx, "discarding gps correction",
				logging.String("candidate_id", c.ID), logging.Err(err))
		}
		return
	}
	if err := e.store.SaveCorrectedGPS(ctx, c.ID, implied); err != nil {
		e.log.Warn(ctx, "failed to persist gps correction",
			logging.String("candidate_id", c.ID), logging.Err(err))
	}
}

var errCorrectionTooSmall = errors.New("correction below threshold")

// checkCorrection reports whether moving target to implied is worth writing.
func (e *Engine) checkCorrection(target, implied model.GeoPoint) error {
	d := core.GroundDistance(target, implied)
	if d > e.cfg.MaxCorrectionError {
		return fmt.Errorf("implied error %.1fm: %w", d, model.ErrImplausibleCorrection)
	}
	if d <= e.cfg.MinCorrectionError {
		return errCorrectionTooSmall
	}
	return nil
}

// Outcome maps a placement error to a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, model.ErrAlreadyPlaced):
		return "already_placed"
	case errors.Is(err, model.ErrAlreadyCollected):
		return "already_collected"
	case errors.Is(err, model.ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, model.ErrFrameNotReady):
		return "frame_not_ready"
	case errors.Is(err, model.ErrNoTarget):
		return "no_target"
	case errors.Is(err, model.ErrStaleOriginMismatch):
		return "stale_origin"
	case errors.Is(err, model.ErrCollisionDetected):
		return "collision"
	case errors.Is(err, model.ErrSpacingViolation):
		return "spacing_violation"
	case errors.Is(err, model.ErrTooCloseToViewer):
		return "too_close"
	default:
		return "error"
	}
}
