package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// NetTransform is an object's replicated pose. The authority writes Target; other peers
// interpolate Current toward it. A bumped TeleportSeq tells peers to snap instead.
type NetTransform struct {
	Enabled     bool
	Target      Pose
	Current     Pose
	TeleportSeq uint32
}

func NewNetTransform(p Pose) NetTransform {
	return NetTransform{Enabled: true, Target: p, Current: p}
}

// Teleport places the transform at p with no interpolation on any peer.
func (n *NetTransform) Teleport(p Pose) {
	n.Target = p
	n.Current = p
	n.TeleportSeq++
}

// Receive applies an authoritative pose on a mirroring peer. Ignored while disabled.
func (n *NetTransform) Receive(p Pose, seq uint32) {
	if !n.Enabled {
		return
	}
	n.Target = p
	if seq != n.TeleportSeq {
		n.Current = p
		n.TeleportSeq = seq
	}
}

// Interpolate moves Current toward Target at rate per second.
func (n *NetTransform) Interpolate(dt, rate float64) {
	if !n.Enabled {
		return
	}
	k := 1 - math.Exp(-rate*dt)
	n.Current = lerpPose(n.Current, n.Target, k)
}

func lerpPose(a, b Pose, t float64) Pose {
	return Pose{
		Position: a.Position.Add(b.Position.Sub(a.Position).Mul(t)),
		Rotation: mgl64.QuatSlerp(a.Rotation, b.Rotation, t),
	}
}

// Attachment is the carried relation: the object follows its carrier's hand with a fixed local
// offset and rotation.
type Attachment struct {
	Carrier       PlayerID
	LocalPosition mgl64.Vec3
	LocalRotation mgl64.Quat
}

// Resolve returns the object's world pose for a carrier at root. A nil hand attaches at the root
// with no offset.
func (a *Attachment) Resolve(root Pose, hand *Bone) Pose {
	if hand == nil {
		return root
	}
	bone := root.Mul(IdentityPose(hand.Offset))
	return bone.Mul(Pose{Position: a.LocalPosition, Rotation: a.LocalRotation})
}

// DropAnimation is the cosmetic ease from an object's last local pose to where the authority
// placed it.
type DropAnimation struct {
	Active   bool
	From     Pose
	To       Pose
	Elapsed  float64
	Duration float64
}

func (d *DropAnimation) Start(from, to Pose, duration float64) {
	*d = DropAnimation{Active: duration > 0, From: from, To: to, Duration: duration}
}

// Advance returns the pose to present after dt more seconds.
func (d *DropAnimation) Advance(dt float64) Pose {
	if !d.Active {
		return d.To
	}
	d.Elapsed += dt
	if d.Elapsed >= d.Duration {
		d.Active = false
		return d.To
	}
	return lerpPose(d.From, d.To, easeOutCubic(d.Elapsed/d.Duration))
}

func easeOutCubic(t float64) float64 {
	t = mgl64.Clamp(t, 0, 1) - 1
	return t*t*t + 1
}
