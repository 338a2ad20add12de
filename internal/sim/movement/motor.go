package movement

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/tuning"
)

// Never is the timestamp of an event that has not happened.
var Never = math.Inf(-1)

var worldUp = mgl64.Vec3{0, 1, 0}

type Params struct {
	MoveSpeed        float64
	SprintMultiplier float64
	RotationSpeed    float64
	Deceleration     float64

	JumpForce     float64
	Gravity       float64
	StickVelocity float64
	JumpEpsilon   float64
	MoveThreshold float64

	CoyoteTime     float64
	JumpBufferTime float64

	ProbeDistance float64
	GroundMask    physics.Layer
}

func ParamsFrom(m tuning.Movement) (Params, error) {
	mask, err := physics.ParseMask(m.GroundLayers)
	if err != nil {
		return Params{}, err
	}
	return Params{
		MoveSpeed:        m.MoveSpeed,
		SprintMultiplier: m.SprintMultiplier,
		RotationSpeed:    m.RotationSpeed,
		Deceleration:     m.Deceleration,
		JumpForce:        m.JumpForce,
		Gravity:          m.Gravity,
		StickVelocity:    m.StickVelocity,
		JumpEpsilon:      m.JumpEpsilon,
		MoveThreshold:    m.MoveThreshold,
		CoyoteTime:       m.CoyoteTime,
		JumpBufferTime:   m.JumpBufferTime,
		ProbeDistance:    m.GroundProbeDistance,
		GroundMask:       mask,
	}, nil
}

type Input struct {
	// Move is (strafe, forward) in [-1,1].
	Move   mgl64.Vec2
	Sprint bool
	Jump   bool
}

// State is the per-player motion state. Velocity and the walk/run flags are what the
// authority replicates; the timers are local to whichever peer runs the motor.
type State struct {
	Velocity mgl64.Vec3
	Rotation mgl64.Quat

	Grounded         bool
	LastGroundedTime float64
	JumpRequestTime  float64
	JumpHeld         bool
	JumpCount        uint32

	Walking bool
	Running bool
}

func NewState() State {
	return State{
		Rotation:         mgl64.QuatIdent(),
		LastGroundedTime: Never,
		JumpRequestTime:  Never,
	}
}

type Result struct {
	Skipped bool
	Jumped  bool
	Flags   physics.CollisionFlags
}

// Motor advances one player's State against a Controller. It holds no network state.
type Motor struct {
	Params     Params
	State      State
	Controller *physics.Controller
}

func NewMotor(p Params, c *physics.Controller) *Motor {
	return &Motor{Params: p, State: NewState(), Controller: c}
}

// Up returns the direction a jump travels for the given gravity state.
func Up(inverted bool) mgl64.Vec3 {
	if inverted {
		return worldUp.Mul(-1)
	}
	return worldUp
}

// Step runs one fixed tick. now is simulation time in seconds. A missing or disabled controller
// skips the tick without touching State.
func (m *Motor) Step(in Input, dt, now float64, inverted bool) Result {
	if m == nil || m.Controller == nil || !m.Controller.Enabled {
		return Result{Skipped: true}
	}
	p := &m.Params
	s := &m.State
	up := Up(inverted)
	upSign := up.Y()
	down := up.Mul(-1)

	grounded := m.probeGround(down)
	s.Grounded = grounded
	if grounded {
		s.LastGroundedTime = now
	}

	// Only a fresh press is buffered; holding the key does not keep refreshing the request.
	if in.Jump && !s.JumpHeld {
		s.JumpRequestTime = now
	}
	s.JumpHeld = in.Jump

	moving := m.steer(in, dt, inverted)

	res := Result{}
	canJump := grounded || now-s.LastGroundedTime <= p.CoyoteTime
	buffered := now-s.JumpRequestTime <= p.JumpBufferTime
	rising := s.Velocity.Y()*upSign > p.JumpEpsilon
	if canJump && buffered && !rising {
		s.Velocity[1] = p.JumpForce * upSign
		s.JumpRequestTime = Never
		s.LastGroundedTime = Never
		s.JumpCount++
		res.Jumped = true
		grounded = false
	}

	s.Velocity[1] -= upSign * p.Gravity * dt
	if grounded && s.Velocity.Y()*upSign < 0 {
		s.Velocity[1] = p.StickVelocity * upSign
	}

	res.Flags = m.Controller.Move(s.Velocity.Mul(dt), down.Y())
	if bumpedHead(res.Flags, inverted) && s.Velocity.Y()*upSign > 0 {
		s.Velocity[1] = 0
	}

	s.Walking = moving && !in.Sprint
	s.Running = moving && in.Sprint
	return res
}

func (m *Motor) steer(in Input, dt float64, inverted bool) bool {
	p := &m.Params
	s := &m.State
	if in.Move.LenSqr() <= p.MoveThreshold {
		if p.Deceleration <= 0 {
			s.Velocity[0], s.Velocity[2] = 0, 0
			return false
		}
		k := math.Exp(-p.Deceleration * dt)
		s.Velocity[0] *= k
		s.Velocity[2] *= k
		if s.Velocity[0]*s.Velocity[0]+s.Velocity[2]*s.Velocity[2] < 1e-6 {
			s.Velocity[0], s.Velocity[2] = 0, 0
		}
		return false
	}

	n := in.Move.Normalize()
	if inverted {
		n[0] = -n[0]
	}
	dir := mgl64.Vec3{n[0], 0, n[1]}

	target := mgl64.QuatRotate(math.Atan2(dir.X(), dir.Z()), worldUp)
	if s.Rotation.Dot(target) < 0 {
		target = target.Scale(-1)
	}
	s.Rotation = mgl64.QuatSlerp(s.Rotation, target, math.Min(1, p.RotationSpeed*dt)).Normalize()

	speed := p.MoveSpeed
	if in.Sprint {
		speed *= p.SprintMultiplier
	}
	s.Velocity[0] = dir.X() * speed
	s.Velocity[2] = dir.Z() * speed
	return true
}

// probeGround ORs the controller's own contact flag, a sphere cast from the controller center
// and four rays from the rim of its base. None of them failing is an error.
func (m *Motor) probeGround(down mgl64.Vec3) bool {
	c := m.Controller
	if c.IsGrounded() {
		return true
	}
	space := c.Space()
	if space == nil {
		return false
	}
	mask := m.Params.GroundMask
	r := c.Radius * 0.9
	reach := c.Height/2 - r + m.Params.ProbeDistance
	if _, ok := space.SphereCast(c.Position, r, down, reach, mask); ok {
		return true
	}

	const inset = 0.05
	base := c.Base(down).Sub(down.Mul(inset))
	rim := c.Radius * 0.7
	for _, off := range [4]mgl64.Vec3{{rim, 0, 0}, {-rim, 0, 0}, {0, 0, rim}, {0, 0, -rim}} {
		if _, ok := space.Raycast(base.Add(off), down, m.Params.ProbeDistance+inset, mask); ok {
			return true
		}
	}
	return false
}

func bumpedHead(f physics.CollisionFlags, inverted bool) bool {
	if inverted {
		return f&physics.CollidedBelow != 0
	}
	return f&physics.CollidedAbove != 0
}
