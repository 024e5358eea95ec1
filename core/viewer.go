package core

import (
	"time"

	"github.com/signalsfoundry/arhunt/model"
)

// DefaultEyeHeight is the viewpoint height above the session's tracking floor.
const DefaultEyeHeight = 1.5

// StaticViewer reports the same pose at every time.
type StaticViewer struct {
	Fixed model.ViewerPose
}

// Pose implements PoseProvider.
func (v *StaticViewer) Pose(now time.Time) model.ViewerPose {
	p := v.Fixed
	p.Time = now
	return p
}

// AccuracyStep describes the GPS quality reported from After onwards.
type AccuracyStep struct {
	After    time.Duration
	Accuracy float64
	NoFix    bool
}

// WalkingViewer walks in a straight line along a compass heading, looking
// where it walks. Fixes are derived from the true position around TrueOrigin
// with the accuracy given by the schedule.
type WalkingViewer struct {
	Start      time.Time
	From       model.LocalPosition
	HeadingDeg float64
	SpeedMps   float64
	TrueOrigin model.GeoPoint
	Schedule   []AccuracyStep
}

// Pose implements PoseProvider.
func (v *WalkingViewer) Pose(now time.Time) model.ViewerPose {
	elapsed := now.Sub(v.Start)
	if elapsed < 0 {
		elapsed = 0
	}

	dirE, dirN := enuFromBearing(1, v.HeadingDeg)
	dist := v.SpeedMps * elapsed.Seconds()
	pos := model.LocalPosition{
		X: v.From.X + dirE*dist,
		Y: v.From.Y,
		Z: v.From.Z - dirN*dist,
	}

	pose := model.ViewerPose{
		Position: pos,
		Forward:  model.LocalPosition{X: dirE, Z: -dirN},
		Up:       model.LocalPosition{Y: 1},
		Time:     now,
	}

	step, ok := v.stepAt(elapsed)
	if !ok || step.NoFix {
		return pose
	}
	truth := model.CoordinateFrame{Origin: v.TrueOrigin, HasOrigin: true}
	fix, _ := FromLocal(truth, pos)
	fix.HorizontalAccuracy = step.Accuracy
	pose.Fix = fix
	pose.HasFix = true
	return pose
}

func (v *WalkingViewer) stepAt(elapsed time.Duration) (AccuracyStep, bool) {
	var cur AccuracyStep
	found := false
	for _, s := range v.Schedule {
		if elapsed >= s.After {
			cur = s
			found = true
		}
	}
	return cur, found
}

// NewPoseProvider chooses a provider: a walking viewer when speed is positive,
// otherwise a static one standing at eye height.
func NewPoseProvider(start time.Time, origin model.GeoPoint, speed, heading float64, schedule []AccuracyStep) PoseProvider {
	eye := model.LocalPosition{Y: DefaultEyeHeight}
	if speed > 0 {
		return &WalkingViewer{
			Start:      start,
			From:       eye,
			HeadingDeg: heading,
			SpeedMps:   speed,
			TrueOrigin: origin,
			Schedule:   schedule,
		}
	}
	fix := origin
	if len(schedule) > 0 {
		fix.HorizontalAccuracy = schedule[len(schedule)-1].Accuracy
	}
	return &StaticViewer{Fixed: model.ViewerPose{
		Position: eye,
		Forward:  model.LocalPosition{Z: -1},
		Up:       model.LocalPosition{Y: 1},
		Fix:      fix,
		HasFix:   true,
	}}
}
