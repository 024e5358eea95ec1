// Package origin decides when the local frame's origin becomes fixed and
// manages degraded (GPS-less) operation with hysteresis.
package origin

import (
	"context"
	"time"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/model"
)

// Config holds the lifecycle thresholds.
type Config struct {
	// EntryAccuracy: a fix strictly better than this fixes the origin (metres).
	EntryAccuracy float64
	// ExitAccuracy: leaving degraded mode needs a fix strictly better than this.
	ExitAccuracy float64
	// NoFixTimeout: without any fix by then, the frame degrades.
	NoFixTimeout time.Duration
	// InaccurateTimeout: fixes at or above EntryAccuracy for longer than this degrade the frame.
	InaccurateTimeout time.Duration
	// FallbackGroundDrop is subtracted from the viewpoint height when no surface is found.
	FallbackGroundDrop float64
	Projection         model.Projection
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		EntryAccuracy:      7.5,
		ExitAccuracy:       6.5,
		NoFixTimeout:       5 * time.Second,
		InaccurateTimeout:  10 * time.Second,
		FallbackGroundDrop: 1.5,
	}
}

// ApplyDefaults fills zero or invalid fields. ExitAccuracy is clamped so it
// never exceeds EntryAccuracy.
func (c Config) ApplyDefaults() Config {
	d := DefaultConfig()
	if c.EntryAccuracy <= 0 {
		c.EntryAccuracy = d.EntryAccuracy
	}
	if c.ExitAccuracy <= 0 {
		c.ExitAccuracy = d.ExitAccuracy
	}
	if c.ExitAccuracy > c.EntryAccuracy {
		c.ExitAccuracy = c.EntryAccuracy
	}
	if c.NoFixTimeout <= 0 {
		c.NoFixTimeout = d.NoFixTimeout
	}
	if c.InaccurateTimeout <= 0 {
		c.InaccurateTimeout = d.InaccurateTimeout
	}
	if c.FallbackGroundDrop <= 0 {
		c.FallbackGroundDrop = d.FallbackGroundDrop
	}
	return c
}

// Transition describes a state change produced by Observe.
type Transition struct {
	From  model.FrameState
	To    model.FrameState
	Frame model.CoordinateFrame
}

// Machine is the origin lifecycle state machine. It is not safe for
// concurrent use: the session goroutine is its only caller, and other
// components read the frame through snapshots.
type Machine struct {
	cfg     Config
	surface core.SurfaceDetector
	bus     *events.Bus
	log     logging.Logger

	frame model.CoordinateFrame

	started   time.Time
	isStarted bool

	// badSince is when the current run of inaccurate or missing fixes began.
	badSince time.Time
	inBadRun bool

	bestFix    model.GeoPoint
	hasBestFix bool

	everAccurate bool
}

// New constructs a machine in the Unset state.
func New(cfg Config, surface core.SurfaceDetector, bus *events.Bus, log logging.Logger) *Machine {
	if surface == nil {
		surface = core.NoSurface{}
	}
	cfg = cfg.ApplyDefaults()
	return &Machine{
		cfg:     cfg,
		surface: surface,
		bus:     bus,
		log:     logging.OrNoop(log).With(logging.String("component", "origin")),
		frame:   model.CoordinateFrame{Projection: cfg.Projection},
	}
}

// Frame returns the current frame snapshot.
func (m *Machine) Frame() model.CoordinateFrame {
	return m.frame
}

// State returns the current lifecycle state.
func (m *Machine) State() model.FrameState {
	return m.frame.State
}

// Observe feeds one pose update into the machine. fix is nil when the
// provider has no GPS fix. It returns the transition taken, if any.
func (m *Machine) Observe(ctx context.Context, now time.Time, fix *model.GeoPoint, viewerHeight float64) (Transition, bool) {
	if !m.isStarted {
		m.started = now
		m.isStarted = true
	}
	if fix != nil && !fix.Valid() {
		fix = nil
	}
	if fix != nil && (!m.hasBestFix || fix.HorizontalAccuracy < m.bestFix.HorizontalAccuracy) {
		m.bestFix = *fix
		m.hasBestFix = true
	}

	switch m.frame.State {
	case model.FrameUnset:
		return m.observeUnset(ctx, now, fix, viewerHeight)
	case model.FrameAccurate:
		return m.observeAccurate(ctx, now, fix, viewerHeight)
	case model.FrameDegraded:
		return m.observeDegraded(ctx, now, fix, viewerHeight)
	}
	return Transition{}, false
}

func (m *Machine) observeUnset(ctx context.Context, now time.Time, fix *model.GeoPoint, viewerHeight float64) (Transition, bool) {
	if fix != nil && fix.HorizontalAccuracy < m.cfg.EntryAccuracy {
		return m.fixAccurate(ctx, now, *fix, viewerHeight), true
	}

	if fix == nil {
		if now.Sub(m.started) >= m.cfg.NoFixTimeout && !m.hasBestFix {
			m.log.Warn(ctx, "no gps fix before timeout; entering degraded mode",
				logging.Duration("timeout", m.cfg.NoFixTimeout))
			return m.degrade(ctx, now, viewerHeight), true
		}
		if m.hasBestFix {
			return m.trackBadRun(ctx, now, viewerHeight)
		}
		return Transition{}, false
	}

	m.log.Debug(ctx, "gps fix too coarse for origin",
		logging.Float64("accuracy_m", fix.HorizontalAccuracy),
		logging.Err(model.ErrLowAccuracyFix))
	return m.trackBadRun(ctx, now, viewerHeight)
}

func (m *Machine) trackBadRun(ctx context.Context, now time.Time, viewerHeight float64) (Transition, bool) {
	if !m.inBadRun {
		m.inBadRun = true
		m.badSince = now
		return Transition{}, false
	}
	if now.Sub(m.badSince) > m.cfg.InaccurateTimeout {
		m.log.Warn(ctx, "gps accuracy stayed low; entering degraded mode",
			logging.Duration("timeout", m.cfg.InaccurateTimeout))
		return m.degrade(ctx, now, viewerHeight), true
	}
	return Transition{}, false
}

func (m *Machine) observeAccurate(ctx context.Context, now time.Time, fix *model.GeoPoint, viewerHeight float64) (Transition, bool) {
	if fix != nil && fix.HorizontalAccuracy < m.cfg.EntryAccuracy {
		m.inBadRun = false
		return Transition{}, false
	}
	return m.trackBadRun(ctx, now, viewerHeight)
}

func (m *Machine) observeDegraded(ctx context.Context, now time.Time, fix *model.GeoPoint, viewerHeight float64) (Transition, bool) {
	if fix == nil {
		return Transition{}, false
	}
	if fix.HorizontalAccuracy < m.cfg.ExitAccuracy {
		return m.recover(ctx, now, *fix, viewerHeight), true
	}
	if !m.frame.HasOrigin {
		// First fix of any quality after degrading without one.
		m.frame.Origin = m.bestFix
		m.frame.HasOrigin = true
		m.frame.ReducedAccuracy = true
		m.frame.FixedAt = now
		m.log.Info(ctx, "adopted reduced-accuracy origin",
			logging.Float64("accuracy_m", m.bestFix.HorizontalAccuracy))
		return m.emit(now, model.FrameDegraded), true
	}
	return Transition{}, false
}

// fixAccurate performs Unset -> Accurate.
func (m *Machine) fixAccurate(ctx context.Context, now time.Time, fix model.GeoPoint, viewerHeight float64) Transition {
	from := m.frame.State
	m.frame = model.CoordinateFrame{
		State:      model.FrameAccurate,
		Origin:     fix,
		HasOrigin:  true,
		FixedAt:    now,
		Projection: m.cfg.Projection,
	}
	m.frame.GroundLevel = m.groundLevel(viewerHeight)
	m.frame.HasGroundLevel = true
	m.everAccurate = true
	m.inBadRun = false

	m.log.Info(ctx, "frame origin fixed",
		logging.Float64("lat", fix.Latitude),
		logging.Float64("lon", fix.Longitude),
		logging.Float64("accuracy_m", fix.HorizontalAccuracy),
		logging.Float64("ground_level", m.frame.GroundLevel))
	return m.emit(now, from)
}

// degrade performs Unset -> Degraded or Accurate -> Degraded.
func (m *Machine) degrade(ctx context.Context, now time.Time, viewerHeight float64) Transition {
	from := m.frame.State
	m.frame.State = model.FrameDegraded
	m.frame.Degraded = true
	m.inBadRun = false

	if !m.frame.HasGroundLevel {
		m.frame.GroundLevel = m.groundLevel(viewerHeight)
		m.frame.HasGroundLevel = true
	}
	if !m.frame.HasOrigin && m.hasBestFix {
		m.frame.Origin = m.bestFix
		m.frame.HasOrigin = true
		m.frame.ReducedAccuracy = true
		m.frame.FixedAt = now
	}

	m.log.Info(ctx, "frame degraded",
		logging.String("from", from.String()),
		logging.Bool("has_origin", m.frame.HasOrigin),
		logging.Bool("reduced_accuracy", m.frame.ReducedAccuracy))
	return m.emit(now, from)
}

// recover performs Degraded -> Accurate. The origin is re-derived only if it
// was never fixed accurately.
func (m *Machine) recover(ctx context.Context, now time.Time, fix model.GeoPoint, viewerHeight float64) Transition {
	if !m.everAccurate {
		return m.fixAccurate(ctx, now, fix, viewerHeight)
	}
	from := m.frame.State
	m.frame.State = model.FrameAccurate
	m.frame.Degraded = false
	m.inBadRun = false
	m.log.Info(ctx, "frame recovered; origin unchanged",
		logging.Float64("accuracy_m", fix.HorizontalAccuracy))
	return m.emit(now, from)
}

func (m *Machine) groundLevel(viewerHeight float64) float64 {
	if y, ok := m.surface.Query(0, 0, viewerHeight); ok {
		return y
	}
	return viewerHeight - m.cfg.FallbackGroundDrop
}

func (m *Machine) emit(now time.Time, from model.FrameState) Transition {
	tr := Transition{From: from, To: m.frame.State, Frame: m.frame}
	m.bus.Publish(events.FrameChanged{At: now, From: from, To: tr.To, Frame: m.frame})
	return tr
}
