package model

import "errors"

// Placement and lifecycle errors. All are recoverable; callers retry on the
// next evaluation pass.
var (
	// ErrFrameNotReady defers GPS placement until an origin is fixed.
	ErrFrameNotReady = errors.New("coordinate frame not ready")
	// ErrLowAccuracyFix marks a fix that is too coarse to fix the origin.
	ErrLowAccuracyFix = errors.New("gps fix accuracy too low")
	// ErrSurfaceNotFound means grounding fell back to a default height.
	ErrSurfaceNotFound = errors.New("no surface detected")
	// ErrSpacingViolation rejects a position too close to a placed object.
	ErrSpacingViolation = errors.New("minimum spacing violated")
	// ErrCollisionDetected rejects a position that would stack on a placed object.
	ErrCollisionDetected = errors.New("placement collides with placed object")
	// ErrStaleOriginMismatch means stored coordinates were recorded against another origin.
	ErrStaleOriginMismatch = errors.New("stored coordinates recorded against a different origin")
	// ErrImplausibleCorrection discards a GPS correction whose implied error is too large.
	ErrImplausibleCorrection = errors.New("implausible gps correction")

	ErrAlreadyPlaced    = errors.New("object already placed")
	ErrAlreadyCollected = errors.New("object already collected")
	ErrLimitReached     = errors.New("placed object limit reached")
	ErrTooCloseToViewer = errors.New("position too close to viewer")
	ErrNoTarget         = errors.New("candidate has no usable target")

	ErrObjectExists   = errors.New("placed object already exists")
	ErrObjectNotFound = errors.New("placed object not found")
)
