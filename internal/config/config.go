// Package config loads huntd configuration from defaults, an optional JSON
// file, a .env file and HUNT_* environment variables, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/arhunt/internal/observability"
	"github.com/signalsfoundry/arhunt/internal/origin"
	"github.com/signalsfoundry/arhunt/internal/placement"
	"github.com/signalsfoundry/arhunt/internal/visibility"
	"github.com/signalsfoundry/arhunt/model"
)

// Duration is a time.Duration that reads JSON strings like "500ms".
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Origin mirrors origin.Config in JSON form.
type Origin struct {
	EntryAccuracy      float64  `json:"entry_accuracy_m"`
	ExitAccuracy       float64  `json:"exit_accuracy_m"`
	NoFixTimeout       Duration `json:"no_fix_timeout"`
	InaccurateTimeout  Duration `json:"inaccurate_timeout"`
	FallbackGroundDrop float64  `json:"fallback_ground_drop_m"`
	Projection         string   `json:"projection"`
}

// Placement mirrors placement.Config in JSON form.
type Placement struct {
	MaxObjects           int     `json:"max_objects"`
	MinSeparation        float64 `json:"min_separation_m"`
	MinViewerDistance    float64 `json:"min_viewer_distance_m"`
	TapMinViewerDistance float64 `json:"tap_min_viewer_distance_m"`
	OriginTolerance      float64 `json:"origin_tolerance_m"`
	CollisionOffset      float64 `json:"collision_offset_m"`
	MaxCorrectionError   float64 `json:"max_correction_error_m"`
}

// Visibility mirrors visibility.Config in JSON form.
type Visibility struct {
	ProximityThreshold float64  `json:"proximity_threshold_m"`
	ProximityInterval  Duration `json:"proximity_interval"`
	ViewportInterval   Duration `json:"viewport_interval"`
	MaxPerPass         int      `json:"max_per_pass"`
	ViewportWidth      float64  `json:"viewport_width"`
	ViewportHeight     float64  `json:"viewport_height"`
	HFOVDeg            float64  `json:"hfov_deg"`
	Margin             float64  `json:"margin"`
}

// Tracing selects the span exporter.
type Tracing struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	Exporter    string  `json:"exporter"` // stdout | otlp
	Endpoint    string  `json:"endpoint"`
	SampleRatio float64 `json:"sample_ratio"`
}

// Config is the root huntd configuration.
type Config struct {
	HTTPAddr    string `json:"http_addr"`
	GRPCAddr    string `json:"grpc_addr"`
	MetricsAddr string `json:"metrics_addr"`
	DBPath      string `json:"db_path"`

	// CandidateRadius bounds the candidate query around the frame origin.
	CandidateRadius float64  `json:"candidate_radius_m"`
	TickInterval    Duration `json:"tick_interval"`
	SweepInterval   Duration `json:"sweep_interval"`
	ReloadInterval  Duration `json:"reload_interval"`
	SweepGrace      Duration `json:"sweep_grace"`

	Origin     Origin     `json:"origin"`
	Placement  Placement  `json:"placement"`
	Visibility Visibility `json:"visibility"`
	Tracing    Tracing    `json:"tracing"`
}

// Default returns the built-in configuration.
func Default() Config {
	o := origin.DefaultConfig()
	p := placement.DefaultConfig()
	v := visibility.DefaultConfig()
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		DBPath:          "hunt.db",
		CandidateRadius: 500,
		TickInterval:    Duration(100 * time.Millisecond),
		SweepInterval:   Duration(2 * time.Second),
		ReloadInterval:  Duration(30 * time.Second),
		SweepGrace:      Duration(5 * time.Second),
		Origin: Origin{
			EntryAccuracy:      o.EntryAccuracy,
			ExitAccuracy:       o.ExitAccuracy,
			NoFixTimeout:       Duration(o.NoFixTimeout),
			InaccurateTimeout:  Duration(o.InaccurateTimeout),
			FallbackGroundDrop: o.FallbackGroundDrop,
			Projection:         o.Projection.String(),
		},
		Placement: Placement{
			MaxObjects:           p.MaxObjects,
			MinSeparation:        p.MinSeparation,
			MinViewerDistance:    p.MinViewerDistance,
			TapMinViewerDistance: p.TapMinViewerDistance,
			OriginTolerance:      p.OriginTolerance,
			CollisionOffset:      p.CollisionOffset,
			MaxCorrectionError:   p.MaxCorrectionError,
		},
		Visibility: Visibility{
			ProximityThreshold: v.ProximityThreshold,
			ProximityInterval:  Duration(v.ProximityInterval),
			ViewportInterval:   Duration(v.ViewportInterval),
			MaxPerPass:         v.MaxPerPass,
			ViewportWidth:      v.Viewport.Width,
			ViewportHeight:     v.Viewport.Height,
			HFOVDeg:            v.Viewport.HFOVDeg,
			Margin:             v.Viewport.Margin,
		},
		Tracing: Tracing{
			ServiceName: "huntd",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration: defaults, then the JSON file at path (if
// non-empty), then the .env files, then the process environment.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	// Unmarshalling over the defaults keeps omitted fields.
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from HUNT_* variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("HUNT_HTTP_ADDR", &c.HTTPAddr)
	str("HUNT_GRPC_ADDR", &c.GRPCAddr)
	str("HUNT_METRICS_ADDR", &c.MetricsAddr)
	str("HUNT_DB_PATH", &c.DBPath)
	float("HUNT_CANDIDATE_RADIUS_M", &c.CandidateRadius)
	duration("HUNT_TICK_INTERVAL", &c.TickInterval)
	duration("HUNT_SWEEP_INTERVAL", &c.SweepInterval)
	duration("HUNT_RELOAD_INTERVAL", &c.ReloadInterval)
	duration("HUNT_SWEEP_GRACE", &c.SweepGrace)

	float("HUNT_ORIGIN_ENTRY_ACCURACY_M", &c.Origin.EntryAccuracy)
	float("HUNT_ORIGIN_EXIT_ACCURACY_M", &c.Origin.ExitAccuracy)
	duration("HUNT_ORIGIN_NO_FIX_TIMEOUT", &c.Origin.NoFixTimeout)
	duration("HUNT_ORIGIN_INACCURATE_TIMEOUT", &c.Origin.InaccurateTimeout)
	str("HUNT_ORIGIN_PROJECTION", &c.Origin.Projection)

	integer("HUNT_PLACEMENT_MAX_OBJECTS", &c.Placement.MaxObjects)
	float("HUNT_PLACEMENT_MIN_SEPARATION_M", &c.Placement.MinSeparation)
	float("HUNT_PLACEMENT_MIN_VIEWER_DISTANCE_M", &c.Placement.MinViewerDistance)
	float("HUNT_PLACEMENT_ORIGIN_TOLERANCE_M", &c.Placement.OriginTolerance)

	float("HUNT_VISIBILITY_PROXIMITY_M", &c.Visibility.ProximityThreshold)
	integer("HUNT_VISIBILITY_MAX_PER_PASS", &c.Visibility.MaxPerPass)

	boolean("HUNT_TRACING_ENABLED", &c.Tracing.Enabled)
	str("HUNT_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("HUNT_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	float("HUNT_TRACING_SAMPLE_RATIO", &c.Tracing.SampleRatio)
	str("HUNT_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	return errors.Join(errs...)
}

// Validate rejects configurations no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.CandidateRadius <= 0 {
		errs = append(errs, fmt.Errorf("candidate_radius_m must be positive, got %v", c.CandidateRadius))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.Origin.ExitAccuracy > c.Origin.EntryAccuracy {
		errs = append(errs, fmt.Errorf("origin exit accuracy %.2fm must not exceed entry accuracy %.2fm",
			c.Origin.ExitAccuracy, c.Origin.EntryAccuracy))
	}
	switch strings.ToLower(c.Origin.Projection) {
	case "", "great-circle", "ecef":
	default:
		errs = append(errs, fmt.Errorf("unknown projection %q", c.Origin.Projection))
	}
	if c.Placement.MaxObjects < 0 {
		errs = append(errs, errors.New("max_objects must not be negative"))
	}
	if c.Placement.MinViewerDistance < c.Placement.TapMinViewerDistance {
		errs = append(errs, errors.New("tap_min_viewer_distance_m must not exceed min_viewer_distance_m"))
	}
	if c.Visibility.HFOVDeg < 0 || c.Visibility.HFOVDeg >= 180 {
		errs = append(errs, fmt.Errorf("hfov_deg must be in (0, 180), got %v", c.Visibility.HFOVDeg))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		errs = append(errs, fmt.Errorf("unsupported tracing exporter %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing sample_ratio must be in [0, 1], got %v", c.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}

// OriginConfig converts to the lifecycle machine's configuration.
func (c Config) OriginConfig() origin.Config {
	return origin.Config{
		EntryAccuracy:      c.Origin.EntryAccuracy,
		ExitAccuracy:       c.Origin.ExitAccuracy,
		NoFixTimeout:       c.Origin.NoFixTimeout.Std(),
		InaccurateTimeout:  c.Origin.InaccurateTimeout.Std(),
		FallbackGroundDrop: c.Origin.FallbackGroundDrop,
		Projection:         model.ParseProjection(strings.ToLower(c.Origin.Projection)),
	}.ApplyDefaults()
}

// PlacementConfig converts to the placement engine's configuration.
func (c Config) PlacementConfig() placement.Config {
	p := placement.DefaultConfig()
	p.MaxObjects = c.Placement.MaxObjects
	p.MinSeparation = c.Placement.MinSeparation
	p.MinViewerDistance = c.Placement.MinViewerDistance
	p.TapMinViewerDistance = c.Placement.TapMinViewerDistance
	p.OriginTolerance = c.Placement.OriginTolerance
	p.CollisionOffset = c.Placement.CollisionOffset
	p.MaxCorrectionError = c.Placement.MaxCorrectionError
	return p.ApplyDefaults()
}

// VisibilityConfig converts to the monitor's configuration.
func (c Config) VisibilityConfig() visibility.Config {
	return visibility.Config{
		ProximityThreshold: c.Visibility.ProximityThreshold,
		ProximityInterval:  c.Visibility.ProximityInterval.Std(),
		ViewportInterval:   c.Visibility.ViewportInterval.Std(),
		MaxPerPass:         c.Visibility.MaxPerPass,
		Viewport: visibility.Viewport{
			Width:   c.Visibility.ViewportWidth,
			Height:  c.Visibility.ViewportHeight,
			HFOVDeg: c.Visibility.HFOVDeg,
			Margin:  c.Visibility.Margin,
		},
	}.ApplyDefaults()
}

// TracingConfig converts to the tracer setup's configuration.
func (c Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    strings.ToLower(c.Tracing.Exporter),
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
