package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/sim/movement"
	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/replica"
)

type PlayerID string

type ObjectID string

type Pose struct {
	Position mgl64.Vec3 `json:"pos"`
	Rotation mgl64.Quat `json:"rot"`
}

func IdentityPose(p mgl64.Vec3) Pose { return Pose{Position: p, Rotation: mgl64.QuatIdent()} }

// Mul composes a local pose onto p: the result is local expressed in p's parent space.
func (p Pose) Mul(local Pose) Pose {
	return Pose{
		Position: p.Position.Add(p.Rotation.Rotate(local.Position)),
		Rotation: p.Rotation.Mul(local.Rotation).Normalize(),
	}
}

func (p Pose) ApproxEqual(o Pose, eps float64) bool {
	// Positions compare by distance.
	if p.Position.Sub(o.Position).Len() > eps {
		return false
	}
	return p.Rotation.OrientationEqualThreshold(o.Rotation, eps)
}

// Bone is the carrier's hand attachment point, in the player's local space.
type Bone struct {
	Offset mgl64.Vec3
}

// Player is one connected avatar. Replicated fields are written only through their Field with
// the peer's Role; everything else is local to the peer that holds it.
type Player struct {
	ID PlayerID

	Name          replica.Field[string]
	Velocity      replica.Field[mgl64.Vec3]
	JumpCount     replica.Field[uint32]
	Inverted      replica.Field[bool]
	CarriedObject replica.Field[ObjectID]
	Walking       replica.Field[bool]
	Running       replica.Field[bool]

	// Position is corrected by the authority's value on every sync.
	Position mgl64.Vec3

	Motor      *movement.Motor
	Controller *physics.Controller
	// Hand may be nil until the avatar rig is bound; carried objects then sit at the root.
	Hand *Bone
}

func (p *Player) IsCarrying() bool { return p.CarriedObject.Get() != "" }

func (p *Player) IsInverted() bool { return p.Inverted.Get() }

var flipRoll = mgl64.QuatRotate(math.Pi, mgl64.Vec3{0, 0, 1})

// Pose is the avatar root: controller center and facing, rolled upside down while gravity is
// inverted.
func (p *Player) Pose() Pose {
	rot := mgl64.QuatIdent()
	if p.Motor != nil {
		rot = p.Motor.State.Rotation
	}
	if p.IsInverted() {
		rot = rot.Mul(flipRoll)
	}
	return Pose{Position: p.Position, Rotation: rot}
}

// Object is a carriable world object.
type Object struct {
	ID ObjectID

	PickedUpBy replica.Field[PlayerID]

	Net      NetTransform
	Attached *Attachment
	Collider physics.ColliderID
	// HalfHeight is half the object's vertical extent, used when placing it on a surface.
	HalfHeight float64

	// Kinematic and UseGravity mirror the rigidbody flags a carried object must hold.
	Kinematic  bool
	UseGravity bool

	Drop DropAnimation
}

func (o *Object) IsPickedUp() bool { return o.PickedUpBy.Get() != "" }

// Pose is where the object is right now: the attachment-driven pose while carried, the
// replicated transform otherwise.
func (o *Object) Pose() Pose { return o.Net.Current }
