package motion

import (
	"errors"
	"sync"
	"time"

	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/geom"
)

// ErrNoFrame is returned when the tracker has no pose to report.
var ErrNoFrame = errors.New("reference frame unavailable")

// FrameProvider continuously reports the viewer's reference frame.
// Implementations must be safe for concurrent use by several followers.
type FrameProvider interface {
	Current() (geom.Pose, error)
}

// Static is a fixed reference frame (screen-space runs, tests).
type Static struct {
	mu   sync.RWMutex
	pose geom.Pose
}

func NewStatic(pose geom.Pose) *Static {
	return &Static{pose: pose}
}

func (s *Static) Current() (geom.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose, nil
}

// Set moves the frame; followers pick it up on their next tick.
func (s *Static) Set(pose geom.Pose) {
	s.mu.Lock()
	s.pose = pose
	s.mu.Unlock()
}

// Keyframe is a head pose at a moment of the run
type Keyframe struct {
	Time float64 // seconds since the clock epoch
	Pose geom.Pose
}

// TimeSource is the part of clock.Clock a trajectory needs.
type TimeSource interface {
	Now() time.Duration
}

// Trajectory replays a keyframed head path against the run clock.
type Trajectory struct {
	clock     TimeSource
	keyframes []Keyframe
}

// NewTrajectory creates a provider over keyframes sorted by time.
func NewTrajectory(c TimeSource, keyframes []Keyframe) *Trajectory {
	return &Trajectory{clock: c, keyframes: keyframes}
}

// TrajectoryFromConfig converts head_motion keyframes into a trajectory.
func TrajectoryFromConfig(c TimeSource, keys []config.HeadKey) *Trajectory {
	keyframes := make([]Keyframe, len(keys))
	for i, k := range keys {
		keyframes[i] = Keyframe{
			Time: k.Time,
			Pose: geom.Pose{Position: k.Position, Rotation: geom.Euler(k.Yaw, k.Pitch, k.Roll)},
		}
	}
	return NewTrajectory(c, keyframes)
}

func (t *Trajectory) Current() (geom.Pose, error) {
	if len(t.keyframes) == 0 {
		return geom.Pose{}, ErrNoFrame
	}
	return Interpolate(t.keyframes, t.clock.Now().Seconds()), nil
}

// Interpolate calculates the pose at a given time by interpolating between keyframes
func Interpolate(keyframes []Keyframe, currentTime float64) geom.Pose {
	if len(keyframes) == 0 {
		return geom.Pose{Rotation: geom.Identity()}
	}

	// If before first keyframe, use first keyframe
	if currentTime <= keyframes[0].Time {
		return keyframes[0].Pose
	}

	// If after last keyframe, use last keyframe
	if currentTime >= keyframes[len(keyframes)-1].Time {
		return keyframes[len(keyframes)-1].Pose
	}

	// Find surrounding keyframes
	var prevKf, nextKf Keyframe
	for i := 0; i < len(keyframes)-1; i++ {
		if currentTime >= keyframes[i].Time && currentTime < keyframes[i+1].Time {
			prevKf = keyframes[i]
			nextKf = keyframes[i+1]
			break
		}
	}

	timeDelta := nextKf.Time - prevKf.Time
	if timeDelta == 0 {
		return nextKf.Pose
	}
	t := easeInOutCubic((currentTime - prevKf.Time) / timeDelta)

	return geom.Pose{
		Position: prevKf.Pose.Position.Lerp(nextKf.Pose.Position, t),
		Rotation: prevKf.Pose.Rotation.Slerp(nextKf.Pose.Rotation, t),
	}
}

// easeInOutCubic applies smooth easing function
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow(-2*t+2, 3)/2
}

// pow calculates x^n
func pow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
