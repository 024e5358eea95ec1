// Package visibility decides which placed objects are on screen and which
// are close enough to the viewer to be discovered automatically.
package visibility

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/model"
	"github.com/signalsfoundry/arhunt/timectrl"
)

// Viewport describes the screen the overlay renders into, in points.
type Viewport struct {
	Width   float64
	Height  float64
	HFOVDeg float64
	// Margin expands the rectangle on every side.
	Margin float64
}

// Config holds monitor thresholds and throttles.
type Config struct {
	ProximityThreshold float64
	ProximityInterval  time.Duration
	ViewportInterval   time.Duration
	// MaxPerPass bounds how many objects a viewport pass projects.
	MaxPerPass int
	Viewport   Viewport
}

// DefaultConfig returns the standard monitor configuration.
func DefaultConfig() Config {
	return Config{
		ProximityThreshold: 1,
		ProximityInterval:  500 * time.Millisecond,
		ViewportInterval:   time.Second,
		MaxPerPass:         32,
		Viewport: Viewport{
			Width:   390,
			Height:  844,
			HFOVDeg: 60,
			Margin:  40,
		},
	}
}

// ApplyDefaults replaces zero fields with defaults.
func (c Config) ApplyDefaults() Config {
	d := DefaultConfig()
	if c.ProximityThreshold <= 0 {
		c.ProximityThreshold = d.ProximityThreshold
	}
	if c.ProximityInterval <= 0 {
		c.ProximityInterval = d.ProximityInterval
	}
	if c.ViewportInterval <= 0 {
		c.ViewportInterval = d.ViewportInterval
	}
	if c.MaxPerPass <= 0 {
		c.MaxPerPass = d.MaxPerPass
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport.Width, c.Viewport.Height = d.Viewport.Width, d.Viewport.Height
	}
	if c.Viewport.HFOVDeg <= 0 || c.Viewport.HFOVDeg >= 180 {
		c.Viewport.HFOVDeg = d.Viewport.HFOVDeg
	}
	if c.Viewport.Margin < 0 {
		c.Viewport.Margin = 0
	}
	return c
}

// Project maps pos into screen coordinates for the given pose. It returns
// false when the object is behind the viewer.
func Project(pose model.ViewerPose, pos model.LocalPosition, vp Viewport) (sx, sy float64, ok bool) {
	forward := r3.Unit(core.Vec(pose.Forward))
	up := r3.Unit(core.Vec(pose.Up))
	right := r3.Unit(r3.Cross(forward, up))
	// Re-orthogonalise so a tilted up vector still yields a square basis.
	up = r3.Cross(right, forward)

	d := r3.Sub(core.Vec(pos), core.Vec(pose.Position))
	depth := r3.Dot(d, forward)
	if depth <= 0 {
		return 0, 0, false
	}

	focal := (vp.Width / 2) / math.Tan(vp.HFOVDeg*math.Pi/360)
	sx = vp.Width/2 + focal*r3.Dot(d, right)/depth
	sy = vp.Height/2 - focal*r3.Dot(d, up)/depth
	return sx, sy, true
}

// InViewport reports whether pos projects inside the margin-expanded viewport.
func InViewport(pose model.ViewerPose, pos model.LocalPosition, vp Viewport) bool {
	sx, sy, ok := Project(pose, pos, vp)
	if !ok {
		return false
	}
	return sx >= -vp.Margin && sx <= vp.Width+vp.Margin &&
		sy >= -vp.Margin && sy <= vp.Height+vp.Margin
}

// ComputeVisible projects at most max live objects, nearest first, and
// returns the IDs on screen. It touches no shared state and may run on a
// worker goroutine.
func ComputeVisible(pose model.ViewerPose, objects []model.PlacedObject, vp Viewport, max int) map[string]bool {
	candidates := make([]model.PlacedObject, 0, len(objects))
	for _, o := range objects {
		if o.State == model.StatePlaced || o.State == model.StateVisible {
			candidates = append(candidates, o)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Position.DistanceTo(pose.Position) < candidates[j].Position.DistanceTo(pose.Position)
	})
	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}

	visible := make(map[string]bool, len(candidates))
	for _, o := range candidates {
		if InViewport(pose, o.Position, vp) {
			visible[o.ID] = true
		}
	}
	return visible
}

// WithinReach returns the IDs of undiscovered objects whose horizontal
// distance to the viewer is at or below threshold, sorted.
func WithinReach(pose model.ViewerPose, objects []model.PlacedObject, threshold float64) []string {
	var ids []string
	for _, o := range objects {
		if o.State != model.StatePlaced && o.State != model.StateVisible {
			continue
		}
		if o.Position.HorizontalDistanceTo(pose.Position) <= threshold {
			ids = append(ids, o.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Monitor throttles proximity and viewport checks and tracks which objects
// were visible on the previous pass. It is owned by the session goroutine.
type Monitor struct {
	cfg       Config
	proximity *timectrl.Throttle
	viewport  *timectrl.Throttle
	visible   map[string]bool
}

// NewMonitor constructs a monitor.
func NewMonitor(cfg Config) *Monitor {
	cfg = cfg.ApplyDefaults()
	return &Monitor{
		cfg:       cfg,
		proximity: timectrl.NewThrottle(cfg.ProximityInterval),
		viewport:  timectrl.NewThrottle(cfg.ViewportInterval),
		visible:   make(map[string]bool),
	}
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// CheckProximity returns objects to auto-discover, or nil when throttled.
func (m *Monitor) CheckProximity(now time.Time, pose model.ViewerPose, objects []model.PlacedObject) []string {
	if !m.proximity.Allow(now) {
		return nil
	}
	return WithinReach(pose, objects, m.cfg.ProximityThreshold)
}

// ViewportDue reports whether a viewport pass should run now.
func (m *Monitor) ViewportDue(now time.Time) bool {
	return m.viewport.Allow(now)
}

// ApplyVisible replaces the visible set and returns the IDs that were not
// visible on the previous pass, sorted.
func (m *Monitor) ApplyVisible(visible map[string]bool) []string {
	var entered []string
	for id := range visible {
		if !m.visible[id] {
			entered = append(entered, id)
		}
	}
	m.visible = make(map[string]bool, len(visible))
	for id := range visible {
		m.visible[id] = true
	}
	sort.Strings(entered)
	return entered
}

// Forget drops id from the visible set so a re-placed object fires a fresh
// entry notification.
func (m *Monitor) Forget(id string) {
	delete(m.visible, id)
}

// Visible reports whether id was visible on the last pass.
func (m *Monitor) Visible(id string) bool {
	return m.visible[id]
}
