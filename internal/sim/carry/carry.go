// Package carry implements pickup and drop: authority-side validation and commit, the
// confirmation every peer applies, per-tick enforcement of the carried relation, and the
// throttled nearest-object query that feeds pickup requests.
package carry

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/tuning"
)

// Registry resolves ids to live entities. It returns nil for unknown ids.
type Registry interface {
	Player(id model.PlayerID) *model.Player
	Object(id model.ObjectID) *model.Object
}

type Config struct {
	HandOffset   mgl64.Vec3
	HoldOffset   mgl64.Vec3
	HoldRotation mgl64.Quat
	HalfExtents  mgl64.Vec3

	CastRadius   float64
	CastDistance float64
	SafetyOffset float64
	AnimDuration float64
	Reach        float64

	GroundMask physics.Layer
}

func ConfigFrom(t tuning.Tuning) (Config, error) {
	mask, err := physics.ParseMask(t.Movement.GroundLayers)
	if err != nil {
		return Config{}, err
	}
	c := t.Carry
	e := c.HoldRotationEuler
	return Config{
		HandOffset:   mgl64.Vec3(c.HandOffset),
		HoldOffset:   mgl64.Vec3(c.HoldOffset),
		HoldRotation: mgl64.AnglesToQuat(mgl64.DegToRad(e[1]), mgl64.DegToRad(e[0]), mgl64.DegToRad(e[2]), mgl64.YXZ),
		HalfExtents:  mgl64.Vec3(c.ObjectHalfExtents),
		CastRadius:   c.DropCastRadius,
		CastDistance: c.DropCastDistance,
		SafetyOffset: c.DropSafetyOffset,
		AnimDuration: c.DropAnimDuration,
		Reach:        c.PickupReach,
		GroundMask:   mask,
	}, nil
}

// Rejection is why the authority refused a request. Rejections are audited, never sent back.
type Rejection struct {
	Code   string
	Reason string
}

func (r *Rejection) Error() string { return fmt.Sprintf("%s: %s", r.Code, r.Reason) }

func reject(code, format string, args ...any) error {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// NewObject builds a resting carriable object and registers its solid collider in space.
func NewObject(space *physics.Space, cfg Config, id model.ObjectID, pose model.Pose) *model.Object {
	o := &model.Object{
		ID:         id,
		Net:        model.NewNetTransform(pose),
		HalfHeight: cfg.HalfExtents.Y(),
		UseGravity: true,
	}
	if space != nil {
		o.Collider = space.Add(physics.Collider{
			Box:     physics.BoxAt(pose.Position, cfg.HalfExtents),
			Layer:   physics.LayerCarriable,
			Enabled: true,
			Owner:   string(id),
		})
	}
	return o
}

// syncCollider moves the object's collider box to its current pose.
func syncCollider(space *physics.Space, cfg Config, o *model.Object) *physics.Collider {
	c := space.Get(o.Collider)
	if c == nil {
		return nil
	}
	c.Box = physics.BoxAt(o.Net.Current.Position, cfg.HalfExtents)
	return c
}

// LoadLevel registers the level's static boxes in space and builds its carriable objects.
func LoadLevel(space *physics.Space, cfg Config, lvl tuning.Level) (map[model.ObjectID]*model.Object, error) {
	for i, b := range lvl.Boxes {
		layer, err := physics.ParseLayer(b.Layer)
		if err != nil {
			return nil, fmt.Errorf("level box %d: %w", i, err)
		}
		space.AddStatic(physics.AABB{Min: mgl64.Vec3(b.Min), Max: mgl64.Vec3(b.Max)}, layer)
	}
	objects := make(map[model.ObjectID]*model.Object, len(lvl.Objects))
	for _, f := range lvl.Objects {
		pose := model.Pose{
			Position: mgl64.Vec3(f.Pos),
			Rotation: mgl64.QuatRotate(mgl64.DegToRad(f.Yaw), worldUp),
		}
		id := model.ObjectID(f.ID)
		objects[id] = NewObject(space, cfg, id, pose)
	}
	return objects, nil
}
