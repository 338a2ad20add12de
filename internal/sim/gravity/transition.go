package gravity

import (
	"math"

	"upend.gg/internal/sim/tuning"
)

type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSquashing
	PhaseStretching
)

func (p Phase) String() string {
	switch p {
	case PhaseSquashing:
		return "squashing"
	case PhaseStretching:
		return "stretching"
	default:
		return "idle"
	}
}

// Transition is the squash/stretch sequence every peer plays after a confirmed flip. It is
// advanced by the presentation step, never by physics.
type Transition struct {
	Phase    Phase
	Elapsed  float64
	Inverted bool
	// ScaleY is the visual body's vertical scale.
	ScaleY float64

	squash  float64
	stretch float64
}

func NewTransition(g tuning.Gravity) *Transition {
	return &Transition{ScaleY: 1, squash: g.SquashDuration, stretch: g.StretchDuration}
}

// Start begins a sequence toward inverted. Without a visual body there is nothing to squash and
// Start reports true: the orientation response is due immediately.
func (t *Transition) Start(inverted, hasBody bool) bool {
	t.Inverted = inverted
	t.Elapsed = 0
	if !hasBody {
		t.Phase = PhaseIdle
		t.ScaleY = 1
		return true
	}
	t.Phase = PhaseSquashing
	t.ScaleY = 1
	return false
}

// Advance moves the sequence forward by dt. It reports true on the step the squash phase ends,
// which is when the camera and orientation respond.
func (t *Transition) Advance(dt float64) bool {
	if t.Phase == PhaseIdle || dt <= 0 {
		return false
	}
	t.Elapsed += dt
	flipped := false
	if t.Phase == PhaseSquashing {
		if t.Elapsed < t.squash {
			t.ScaleY = 1 - t.Elapsed/t.squash
			return false
		}
		t.Elapsed -= t.squash
		t.Phase = PhaseStretching
		flipped = true
	}
	if t.Elapsed >= t.stretch {
		t.Phase = PhaseIdle
		t.Elapsed = 0
		t.ScaleY = 1
		return flipped
	}
	t.ScaleY = t.Elapsed / t.stretch
	return flipped
}

func (t *Transition) Done() bool { return t.Phase == PhaseIdle }

// Camera is the local player's follow-camera response to gravity. Targets are set once per
// flip; current values chase them every presentation step.
type Camera struct {
	TargetRoll    float64
	Roll          float64
	TargetOffsetY float64
	OffsetY       float64
}

func NewCamera(g tuning.Gravity) Camera {
	return Camera{TargetOffsetY: g.CameraOffsetY, OffsetY: g.CameraOffsetY}
}

// Aim points the camera targets at the given gravity state: 180 degrees of roll and a mirrored
// follow offset when inverted.
func (c *Camera) Aim(inverted bool) {
	off := math.Abs(c.TargetOffsetY)
	if inverted {
		c.TargetRoll = 180
		c.TargetOffsetY = -off
		return
	}
	c.TargetRoll = 0
	c.TargetOffsetY = off
}

// Smooth approaches the targets exponentially at rate speed per second.
func (c *Camera) Smooth(dt, speed float64) {
	k := 1 - math.Exp(-speed*dt)
	c.Roll = approach(c.Roll, c.TargetRoll, k)
	c.OffsetY = approach(c.OffsetY, c.TargetOffsetY, k)
}

func approach(cur, target, k float64) float64 {
	cur += (target - cur) * k
	if math.Abs(target-cur) < 1e-3 {
		return target
	}
	return cur
}
