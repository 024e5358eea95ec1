package placement

// Config holds the placement thresholds, all in metres unless noted.
type Config struct {
	// MaxObjects caps simultaneously placed objects.
	MaxObjects int
	// MinSeparation is the minimum horizontal distance between placed objects.
	MinSeparation float64
	// MinVerticalSeparation applies to objects whose (x,z) nearly coincide.
	MinVerticalSeparation float64
	// StackRadius is the horizontal distance under which two objects count as stacked.
	StackRadius float64
	// MinViewerDistance keeps objects from spawning on top of the player.
	MinViewerDistance float64
	// TapMinViewerDistance replaces MinViewerDistance for tap-to-place requests.
	TapMinViewerDistance float64
	// GPSCollisionRadius: GPS targets closer than this to another target collide.
	GPSCollisionRadius float64
	// CollisionOffset is how far a colliding target is moved.
	CollisionOffset float64
	// OffsetAttempts bounds the random bearings tried for a colliding target.
	OffsetAttempts int
	// OriginTolerance: stored coordinates are trusted only if recorded against
	// an origin strictly closer than this to the current one.
	OriginTolerance float64
	// MinCorrectionError and MaxCorrectionError bound GPS correction write-backs.
	MinCorrectionError float64
	MaxCorrectionError float64
}

// DefaultConfig returns the standard placement thresholds.
func DefaultConfig() Config {
	return Config{
		MaxObjects:            6,
		MinSeparation:         3,
		MinVerticalSeparation: 1,
		StackRadius:           0.5,
		MinViewerDistance:     3,
		TapMinViewerDistance:  1,
		GPSCollisionRadius:    1,
		CollisionOffset:       5,
		OffsetAttempts:        8,
		OriginTolerance:       1,
		MinCorrectionError:    0.5,
		MaxCorrectionError:    50,
	}
}

// ApplyDefaults replaces zero or negative fields with defaults.
func (c Config) ApplyDefaults() Config {
	d := DefaultConfig()
	if c.MaxObjects <= 0 {
		c.MaxObjects = d.MaxObjects
	}
	if c.MinSeparation <= 0 {
		c.MinSeparation = d.MinSeparation
	}
	if c.MinVerticalSeparation <= 0 {
		c.MinVerticalSeparation = d.MinVerticalSeparation
	}
	if c.StackRadius <= 0 {
		c.StackRadius = d.StackRadius
	}
	if c.MinViewerDistance <= 0 {
		c.MinViewerDistance = d.MinViewerDistance
	}
	if c.TapMinViewerDistance <= 0 {
		c.TapMinViewerDistance = d.TapMinViewerDistance
	}
	if c.GPSCollisionRadius <= 0 {
		c.GPSCollisionRadius = d.GPSCollisionRadius
	}
	if c.CollisionOffset <= 0 {
		c.CollisionOffset = d.CollisionOffset
	}
	if c.OffsetAttempts <= 0 {
		c.OffsetAttempts = d.OffsetAttempts
	}
	if c.OriginTolerance <= 0 {
		c.OriginTolerance = d.OriginTolerance
	}
	if c.MinCorrectionError <= 0 {
		c.MinCorrectionError = d.MinCorrectionError
	}
	if c.MaxCorrectionError <= 0 {
		c.MaxCorrectionError = d.MaxCorrectionError
	}
	return c
}
