package carry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/replica"
	"upend.gg/internal/sim/tuning"
)

type scene struct {
	space   *physics.Space
	cfg     Config
	players map[model.PlayerID]*model.Player
	objects map[model.ObjectID]*model.Object
}

func (s *scene) Player(id model.PlayerID) *model.Player { return s.players[id] }
func (s *scene) Object(id model.ObjectID) *model.Object { return s.objects[id] }

func newScene(t *testing.T, floor bool) *scene {
	t.Helper()
	cfg, err := ConfigFrom(tuning.Defaults())
	if err != nil {
		t.Fatalf("ConfigFrom: %v", err)
	}
	s := &scene{
		space:   physics.NewSpace(),
		cfg:     cfg,
		players: map[model.PlayerID]*model.Player{},
		objects: map[model.ObjectID]*model.Object{},
	}
	if floor {
		s.space.AddStatic(physics.AABB{Min: mgl64.Vec3{-20, -1, -20}, Max: mgl64.Vec3{20, 0, 20}}, physics.LayerGround)
		s.space.AddStatic(physics.AABB{Min: mgl64.Vec3{-20, 12, -20}, Max: mgl64.Vec3{20, 13, 20}}, physics.LayerGround)
	}
	return s
}

func (s *scene) addPlayer(id model.PlayerID, pos mgl64.Vec3) *model.Player {
	p := &model.Player{ID: id, Position: pos, Hand: &model.Bone{Offset: s.cfg.HandOffset}}
	s.players[id] = p
	return p
}

func (s *scene) addObject(id model.ObjectID, pos mgl64.Vec3) *model.Object {
	o := NewObject(s.space, s.cfg, id, model.IdentityPose(pos))
	s.objects[id] = o
	return o
}

// checkInvariants asserts the carry relation is consistent across the scene.
func (s *scene) checkInvariants(t *testing.T) {
	t.Helper()
	holders := map[model.ObjectID]model.PlayerID{}
	for _, p := range s.players {
		id := p.CarriedObject.Get()
		if id == "" {
			continue
		}
		if other, dup := holders[id]; dup {
			t.Fatalf("%s carried by both %s and %s", id, other, p.ID)
		}
		holders[id] = p.ID
	}
	for _, o := range s.objects {
		if o.IsPickedUp() != (o.PickedUpBy.Get() != "") {
			t.Fatalf("%s: isPickedUp disagrees with pickedUpBy", o.ID)
		}
		if o.Net.Enabled == o.IsPickedUp() {
			t.Fatalf("%s: net transform enabled=%v while picked up=%v", o.ID, o.Net.Enabled, o.IsPickedUp())
		}
		if h, ok := holders[o.ID]; ok != o.IsPickedUp() || (ok && h != o.PickedUpBy.Get()) {
			t.Fatalf("%s: holder mismatch player=%q object=%q", o.ID, h, o.PickedUpBy.Get())
		}
	}
}

func rejectionCode(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}

func TestPickupCommitsAndConfirms(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})

	conf, err := Pickup(s, s.cfg, p, o.ID)
	if err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	if conf.Player != p.ID || conf.Object != o.ID {
		t.Fatalf("confirmation: %+v", conf)
	}
	if !o.IsPickedUp() || !p.IsCarrying() || o.Attached == nil {
		t.Fatalf("pickup not committed")
	}
	s.checkInvariants(t)

	if !ApplyPickup(s, s.space, s.cfg, conf) {
		t.Fatalf("first apply should report a change")
	}
	if c := s.space.Get(o.Collider); !c.Trigger {
		t.Fatalf("collider should be a trigger while carried")
	}
	if !o.Kinematic || o.UseGravity {
		t.Fatalf("carried object should be kinematic without gravity")
	}
	if ApplyPickup(s, s.space, s.cfg, conf) {
		t.Fatalf("repeated confirmation should be a no-op")
	}
}

func TestPickupRaceFirstValidatedWins(t *testing.T) {
	s := newScene(t, true)
	p1 := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	p2 := s.addPlayer("p2", mgl64.Vec3{2, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})

	if _, err := Pickup(s, s.cfg, p1, o.ID); err != nil {
		t.Fatalf("first pickup: %v", err)
	}
	_, err := Pickup(s, s.cfg, p2, o.ID)
	if rejectionCode(err) != protocol.ErrConflict {
		t.Fatalf("second pickup: got %v want %s", err, protocol.ErrConflict)
	}
	if o.PickedUpBy.Get() != p1.ID || p2.IsCarrying() {
		t.Fatalf("losing request mutated state")
	}
	s.checkInvariants(t)
}

func TestPickupRejections(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	a := s.addObject("a", mgl64.Vec3{1, 0.25, 0})
	b := s.addObject("b", mgl64.Vec3{0, 0.25, 1})
	far := s.addObject("far", mgl64.Vec3{15, 0.25, 15})

	if _, err := Pickup(s, s.cfg, p, "missing"); rejectionCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("unknown object: %v", err)
	}
	if _, err := Pickup(s, s.cfg, p, far.ID); rejectionCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("out of reach: %v", err)
	}
	if _, err := Pickup(s, s.cfg, p, a.ID); err != nil {
		t.Fatalf("pickup a: %v", err)
	}
	if _, err := Pickup(s, s.cfg, p, b.ID); rejectionCode(err) != protocol.ErrConflict {
		t.Fatalf("second object while carrying: %v", err)
	}
	if b.IsPickedUp() || p.CarriedObject.Get() != a.ID {
		t.Fatalf("player may carry only one object")
	}
	s.checkInvariants(t)
}

func TestDropSnapsToFloor(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})
	conf, _ := Pickup(s, s.cfg, p, o.ID)
	ApplyPickup(s, s.space, s.cfg, conf)

	held := o.Net.Current
	if math.Abs(held.Position.Y()-2.101) > 1e-9 {
		t.Fatalf("held height: %v", held.Position.Y())
	}
	seq := o.Net.TeleportSeq

	drop, err := Drop(s, s.space, s.cfg, p)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	want := 0 + 1*(o.HalfHeight+s.cfg.SafetyOffset)
	if math.Abs(drop.Pose.Position.Y()-want) > 1e-9 {
		t.Fatalf("drop height: got %v want %v", drop.Pose.Position.Y(), want)
	}
	if !drop.Pose.Position.ApproxEqualThreshold(mgl64.Vec3{0.35, want, 0.55}, 1e-9) {
		t.Fatalf("drop position: %v", drop.Pose.Position)
	}
	if y := Yaw(drop.Pose.Rotation); math.Abs(y-Yaw(held.Rotation)) > 1e-9 {
		t.Fatalf("yaw not preserved: %v vs %v", y, Yaw(held.Rotation))
	}
	if !o.Net.Current.ApproxEqual(drop.Pose, 1e-12) || o.Net.TeleportSeq != seq+1 {
		t.Fatalf("authority should snap the net transform: %+v", o.Net)
	}
}

func TestDropWithoutFloorKeepsPose(t *testing.T) {
	s := newScene(t, false)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})
	conf, _ := Pickup(s, s.cfg, p, o.ID)
	ApplyPickup(s, s.space, s.cfg, conf)
	held := o.Net.Current

	drop, err := Drop(s, s.space, s.cfg, p)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if !drop.Pose.ApproxEqual(held, 1e-12) {
		t.Fatalf("no floor: got %+v want %+v", drop.Pose, held)
	}
}

func TestDropInvertedLandsOnCeiling(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 11.099, 0})
	p.Inverted.Set(replica.RoleAuthority, true)
	o := s.addObject("crate", mgl64.Vec3{1, 11.75, 0})
	if _, err := Pickup(s, s.cfg, p, o.ID); err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	if y := o.Net.Current.Position.Y(); math.Abs(y-9.899) > 1e-9 {
		t.Fatalf("inverted carrier should hold below: y=%v", y)
	}
	drop, err := Drop(s, s.space, s.cfg, p)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if want := 12 - (o.HalfHeight + s.cfg.SafetyOffset); math.Abs(drop.Pose.Position.Y()-want) > 1e-9 {
		t.Fatalf("ceiling drop: got %v want %v", drop.Pose.Position.Y(), want)
	}
	if up := drop.Pose.Rotation.Rotate(mgl64.Vec3{0, 1, 0}); up.Sub(mgl64.Vec3{0, -1, 0}).Len() > 1e-9 {
		t.Fatalf("object should hang from the ceiling, up=%v", up)
	}
}

func TestPickupThenDropRoundTrip(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})

	conf, err := Pickup(s, s.cfg, p, o.ID)
	if err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	ApplyPickup(s, s.space, s.cfg, conf)
	drop, err := Drop(s, s.space, s.cfg, p)
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if !ApplyDrop(s, s.space, s.cfg, drop) {
		t.Fatalf("ApplyDrop reported unknown object")
	}
	c := s.space.Get(o.Collider)
	if !c.Enabled || c.Trigger {
		t.Fatalf("collider should be solid again: %+v", c)
	}
	if c.Box.Center().Sub(drop.Pose.Position).Len() > 1e-12 {
		t.Fatalf("collider not moved to drop pose")
	}
	if o.IsPickedUp() || p.IsCarrying() || o.Attached != nil {
		t.Fatalf("carry flags not cleared")
	}
	if !o.Net.Enabled || o.Kinematic || !o.UseGravity {
		t.Fatalf("object physics not restored: %+v", o)
	}
	s.checkInvariants(t)

	if _, err := Drop(s, s.space, s.cfg, p); rejectionCode(err) != protocol.ErrNoResource {
		t.Fatalf("second drop: %v", err)
	}
}

func TestDropWithVanishedObjectClearsCarrier(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	p.CarriedObject.Set(replica.RoleAuthority, "ghost")
	if _, err := Drop(s, s.space, s.cfg, p); rejectionCode(err) != protocol.ErrStale {
		t.Fatalf("got %v want %s", err, protocol.ErrStale)
	}
	if p.IsCarrying() {
		t.Fatalf("dangling carry reference should be cleared")
	}
}

func TestApplyDropEasesOnPeers(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})
	conf, _ := Pickup(s, s.cfg, p, o.ID)

	// A mirroring peer sees only the confirmations.
	peer := newScene(t, true)
	pp := peer.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	po := peer.addObject("crate", mgl64.Vec3{1, 0.25, 0})
	ApplyPickup(peer, peer.space, peer.cfg, conf)
	if po.Attached == nil || po.Attached.Carrier != pp.ID {
		t.Fatalf("peer did not attach")
	}
	from := po.Net.Current

	drop, _ := Drop(s, s.space, s.cfg, p)
	ApplyDrop(peer, peer.space, peer.cfg, drop)
	if !po.Drop.Active || !po.Drop.From.ApproxEqual(from, 1e-12) {
		t.Fatalf("peer should ease from its last local pose: %+v", po.Drop)
	}
	var last model.Pose
	for i := 0; i < 100 && po.Drop.Active; i++ {
		last = po.Drop.Advance(1.0 / 60)
	}
	if !last.ApproxEqual(drop.Pose, 1e-12) {
		t.Fatalf("ease ended at %+v want %+v", last, drop.Pose)
	}
}

func TestEnforceReassertsCarriedRelation(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})
	conf, _ := Pickup(s, s.cfg, p, o.ID)
	ApplyPickup(s, s.space, s.cfg, conf)
	if n := Enforce(s, s.space, s.cfg, p); n != 0 {
		t.Fatalf("clean carry needed %d corrections", n)
	}

	o.Attached.LocalPosition = mgl64.Vec3{5, 5, 5}
	o.UseGravity = true
	o.Net.Enabled = true
	s.space.Get(o.Collider).Trigger = false
	if n := Enforce(s, s.space, s.cfg, p); n != 4 {
		t.Fatalf("expected 4 corrections, got %d", n)
	}
	if o.Attached.LocalPosition != s.cfg.HoldOffset || o.UseGravity || o.Net.Enabled || !s.space.Get(o.Collider).Trigger {
		t.Fatalf("drift not corrected")
	}

	p.Position = p.Position.Add(mgl64.Vec3{3, 0, 0})
	Enforce(s, s.space, s.cfg, p)
	if math.Abs(o.Net.Current.Position.X()-3.35) > 1e-9 {
		t.Fatalf("object should follow carrier, x=%v", o.Net.Current.Position.X())
	}
	if s.space.Get(o.Collider).Box.Center().Sub(o.Net.Current.Position).Len() > 1e-12 {
		t.Fatalf("collider should follow the object")
	}
}

func TestCarryWithoutHandAttachesAtRoot(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	p.Hand = nil
	o := s.addObject("crate", mgl64.Vec3{1, 0.25, 0})
	if _, err := Pickup(s, s.cfg, p, o.ID); err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	if !o.Net.Current.Position.ApproxEqual(p.Position) {
		t.Fatalf("object should sit at the carrier root, got %v", o.Net.Current.Position)
	}
}

func TestTargeterNearestSkipsPickedUp(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	near := s.addObject("near", mgl64.Vec3{0.5, 0.25, 0})
	mid := s.addObject("mid", mgl64.Vec3{0, 0.25, 1.2})
	s.addObject("far", mgl64.Vec3{10, 0.25, 0})

	tg := NewTargeter(100*time.Millisecond, 2)
	if id, ok := tg.Nearest(s, s.space, p.Position); !ok || id != near.ID {
		t.Fatalf("nearest: %q %v", id, ok)
	}
	near.PickedUpBy.Set(replica.RoleAuthority, "p2")
	if id, _ := tg.Nearest(s, s.space, p.Position); id != mid.ID {
		t.Fatalf("picked-up object should be skipped, got %q", id)
	}
	allocs := testing.AllocsPerRun(50, func() { tg.Nearest(s, s.space, p.Position) })
	if allocs != 0 {
		t.Fatalf("Nearest allocated %v times", allocs)
	}
}

func TestTargeterThrottlesAndClearsWhileCarrying(t *testing.T) {
	s := newScene(t, true)
	p := s.addPlayer("p1", mgl64.Vec3{0, 0.901, 0})
	a := s.addObject("a", mgl64.Vec3{1.5, 0.25, 0})

	tg := NewTargeter(100*time.Millisecond, 2)
	t0 := time.Unix(1000, 0)
	if !tg.Update(t0, s, s.space, p) || tg.Current != a.ID {
		t.Fatalf("first update: %q", tg.Current)
	}
	b := s.addObject("b", mgl64.Vec3{0.5, 0.25, 0})
	if tg.Update(t0.Add(50*time.Millisecond), s, s.space, p) || tg.Current != a.ID {
		t.Fatalf("update inside the interval should not query, got %q", tg.Current)
	}
	if !tg.Update(t0.Add(100*time.Millisecond), s, s.space, p) || tg.Current != b.ID {
		t.Fatalf("update after the interval should see b, got %q", tg.Current)
	}

	p.CarriedObject.Set(replica.RoleAuthority, b.ID)
	if !tg.Update(t0.Add(101*time.Millisecond), s, s.space, p) || tg.Current != "" {
		t.Fatalf("carrying player must not have a target, got %q", tg.Current)
	}
}
