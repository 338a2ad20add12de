package carry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/movement"
	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/replica"
	"upend.gg/internal/sim/rpc"
)

var worldUp = mgl64.Vec3{0, 1, 0}

// Pickup validates and commits a pickup request from p on the authority. A request for an object
// that is already carried loses silently to whoever got there first.
func Pickup(reg Registry, cfg Config, p *model.Player, id model.ObjectID) (rpc.ConfirmPickup, error) {
	if p == nil {
		return rpc.ConfirmPickup{}, reject(protocol.ErrInvalidTarget, "unknown player")
	}
	o := reg.Object(id)
	if o == nil {
		return rpc.ConfirmPickup{}, reject(protocol.ErrInvalidTarget, "unknown object %q", id)
	}
	if o.IsPickedUp() {
		return rpc.ConfirmPickup{}, reject(protocol.ErrConflict, "%s already held by %s", id, o.PickedUpBy.Get())
	}
	if p.IsCarrying() {
		return rpc.ConfirmPickup{}, reject(protocol.ErrConflict, "%s already carrying %s", p.ID, p.CarriedObject.Get())
	}
	if cfg.Reach > 0 && o.Net.Current.Position.Sub(p.Position).LenSqr() > cfg.Reach*cfg.Reach {
		return rpc.ConfirmPickup{}, reject(protocol.ErrInvalidTarget, "%s out of reach", id)
	}

	o.PickedUpBy.Set(replica.RoleAuthority, p.ID)
	p.CarriedObject.Set(replica.RoleAuthority, o.ID)
	o.Net.Enabled = false
	attach(cfg, p, o)
	return rpc.ConfirmPickup{Player: p.ID, Object: o.ID}, nil
}

// ApplyPickup is what every peer, the authority included, does with a pickup confirmation:
// the collider becomes a trigger and the object is attached to the carrier. It reports whether
// anything changed, which is when the take cue should play.
func ApplyPickup(reg Registry, space *physics.Space, cfg Config, m rpc.ConfirmPickup) bool {
	o := reg.Object(m.Object)
	if o == nil {
		return false
	}
	changed := false
	if c := space.Get(o.Collider); c != nil && !c.Trigger {
		c.Trigger = true
		changed = true
	}
	o.Net.Enabled = false
	o.Kinematic = true
	o.UseGravity = false
	o.Drop = model.DropAnimation{}
	if o.Attached == nil || o.Attached.Carrier != m.Player {
		changed = true
	}
	if p := reg.Player(m.Player); p != nil {
		attach(cfg, p, o)
	} else if o.Attached == nil {
		o.Attached = &model.Attachment{Carrier: m.Player, LocalPosition: cfg.HoldOffset, LocalRotation: cfg.HoldRotation}
	}
	return changed
}

func attach(cfg Config, p *model.Player, o *model.Object) {
	o.Attached = &model.Attachment{Carrier: p.ID, LocalPosition: cfg.HoldOffset, LocalRotation: cfg.HoldRotation}
	o.Net.Current = o.Attached.Resolve(p.Pose(), p.Hand)
	o.Net.Target = o.Net.Current
}

// Drop validates and commits a drop request from p on the authority. The object is cast along the
// carrier's gravity onto the first surface below it; with nothing in range it stays where it is.
func Drop(reg Registry, space *physics.Space, cfg Config, p *model.Player) (rpc.ConfirmDrop, error) {
	if p == nil || !p.IsCarrying() {
		return rpc.ConfirmDrop{}, reject(protocol.ErrNoResource, "not carrying")
	}
	id := p.CarriedObject.Get()
	o := reg.Object(id)
	if o == nil {
		p.CarriedObject.Set(replica.RoleAuthority, "")
		return rpc.ConfirmDrop{}, reject(protocol.ErrStale, "carried object %q no longer exists", id)
	}

	start := o.Net.Current
	if o.Attached != nil {
		start = o.Attached.Resolve(p.Pose(), p.Hand)
	}
	final := Place(space, cfg, start, movement.Up(p.IsInverted()).Mul(-1), o.HalfHeight)

	o.Attached = nil
	o.Net.Enabled = true
	o.Net.Teleport(final)
	o.PickedUpBy.Set(replica.RoleAuthority, "")
	p.CarriedObject.Set(replica.RoleAuthority, "")
	if space != nil {
		syncCollider(space, cfg, o)
	}
	return rpc.ConfirmDrop{Player: p.ID, Object: o.ID, Pose: final}, nil
}

// Place finds where an object released at start comes to rest when cast along down. The result
// sits halfHeight plus the safety offset off the struck surface, tilted to the surface normal
// with its yaw kept. A miss returns start.
func Place(space *physics.Space, cfg Config, start model.Pose, down mgl64.Vec3, halfHeight float64) model.Pose {
	if space == nil {
		return start
	}
	hit, ok := space.SphereCast(start.Position, cfg.CastRadius, down, cfg.CastDistance, cfg.GroundMask)
	if !ok {
		return start
	}
	pos := hit.Point.Add(hit.Normal.Mul(halfHeight + cfg.SafetyOffset))
	align := mgl64.QuatBetweenVectors(worldUp, hit.Normal)
	yaw := mgl64.QuatRotate(Yaw(start.Rotation), worldUp)
	return model.Pose{Position: pos, Rotation: align.Mul(yaw).Normalize()}
}

// Yaw is the heading of q around world up, in radians.
func Yaw(q mgl64.Quat) float64 {
	f := q.Rotate(mgl64.Vec3{0, 0, 1})
	if math.Abs(f.X()) < 1e-12 && math.Abs(f.Z()) < 1e-12 {
		// Facing straight up or down; use the right vector instead.
		r := q.Rotate(mgl64.Vec3{1, 0, 0})
		return math.Atan2(-r.Z(), r.X())
	}
	return math.Atan2(f.X(), f.Z())
}

// ApplyDrop is what every peer does with a drop confirmation: detach, restore a solid collider at
// the final pose and ease the visible object there. The authority has already placed the object;
// the ease is cosmetic. It reports false if the object is unknown.
func ApplyDrop(reg Registry, space *physics.Space, cfg Config, m rpc.ConfirmDrop) bool {
	o := reg.Object(m.Object)
	if o == nil {
		return false
	}
	from := o.Net.Current
	o.Attached = nil
	o.Kinematic = false
	o.UseGravity = true
	o.Net.Enabled = true
	o.Net.Target = m.Pose
	o.Drop.Start(from, m.Pose, cfg.AnimDuration)
	if c := space.Get(o.Collider); c != nil {
		c.Box = physics.BoxAt(m.Pose.Position, cfg.HalfExtents)
		c.Enabled = true
		c.Trigger = false
	}
	return true
}

// Enforce re-asserts the carried relation for p's object: local offset and rotation, kinematic
// flags, disabled net transform and trigger collider. It returns how many properties it had to
// correct. Callers run it every tick on the authority.
func Enforce(reg Registry, space *physics.Space, cfg Config, p *model.Player) int {
	if p == nil || !p.IsCarrying() {
		return 0
	}
	o := reg.Object(p.CarriedObject.Get())
	if o == nil {
		return 0
	}
	fixed := 0
	if o.Attached == nil || o.Attached.Carrier != p.ID ||
		o.Attached.LocalPosition != cfg.HoldOffset || o.Attached.LocalRotation != cfg.HoldRotation {
		o.Attached = &model.Attachment{Carrier: p.ID, LocalPosition: cfg.HoldOffset, LocalRotation: cfg.HoldRotation}
		fixed++
	}
	if !o.Kinematic || o.UseGravity {
		o.Kinematic, o.UseGravity = true, false
		fixed++
	}
	if o.Net.Enabled {
		o.Net.Enabled = false
		fixed++
	}
	o.Net.Current = o.Attached.Resolve(p.Pose(), p.Hand)
	o.Net.Target = o.Net.Current
	if space != nil {
		if c := syncCollider(space, cfg, o); c != nil && !c.Trigger {
			c.Trigger = true
			fixed++
		}
	}
	return fixed
}
