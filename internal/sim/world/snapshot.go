package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/persistence/snapshot"
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/carry"
	"upend.gg/internal/sim/gravity"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/rpc"
)

// ExportSnapshot captures the state after nowTick has been simulated.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: 1, WorldID: w.cfg.ID, Tick: nowTick},
		Tuning:        w.cfg.Tuning,
		TuningDigest:  w.cfg.Tuning.Digest(),
		NextPlayerNum: w.nextPlayerNum.Load(),
	}
	for _, id := range w.sortedPlayerIDs() {
		p := w.players[id]
		pv := snapshot.PlayerV1{
			ID:              string(id),
			Name:            p.Name.Get(),
			Pos:             p.Position,
			Vel:             p.Velocity.Get(),
			JumpCount:       p.JumpCount.Get(),
			Walking:         p.Walking.Get(),
			Running:         p.Running.Get(),
			Inverted:        p.IsInverted(),
			CarriedObject:   string(p.CarriedObject.Get()),
			GuardPhase:      uint8(p.guard.Phase),
			GuardReenableAt: p.guard.ReenableAt,
			Move:            p.input.Move,
			Sprint:          p.input.Sprint,
			Jump:            p.input.Jump,
			LastInputSeq:    p.lastSeq,
		}
		if p.Motor != nil {
			s := p.Motor.State
			pv.Rot = rpc.PoseToWire(model.Pose{Rotation: s.Rotation}).Rot
			pv.MotorVel = s.Velocity
			pv.Grounded = s.Grounded
			pv.LastGroundedTime = s.LastGroundedTime
			pv.JumpRequestTime = s.JumpRequestTime
			pv.JumpHeld = s.JumpHeld
		}
		pv.ControllerEnabled = p.Controller != nil && p.Controller.Enabled
		snap.Players = append(snap.Players, pv)
	}
	for _, id := range w.sortedObjectIDs() {
		o := w.objects[id]
		wire := rpc.PoseToWire(o.Net.Current)
		snap.Objects = append(snap.Objects, snapshot.ObjectV1{
			ID:          string(id),
			PickedUpBy:  string(o.PickedUpBy.Get()),
			Pos:         wire.Pos,
			Rot:         wire.Rot,
			NetEnabled:  o.Net.Enabled,
			TeleportSeq: o.Net.TeleportSeq,
		})
	}
	return snap
}

// ImportSnapshot replaces the world state with snap. The next tick simulated is
// snap.Header.Tick+1. Clients are not part of a snapshot and must rejoin.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != 1 {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.TuningDigest != "" && snap.TuningDigest != w.cfg.Tuning.Digest() {
		return fmt.Errorf("snapshot tuning digest %s does not match world tuning", snap.TuningDigest)
	}

	for _, o := range w.objects {
		w.space.Remove(o.Collider)
	}
	w.objects = map[model.ObjectID]*model.Object{}
	w.players = map[model.PlayerID]*player{}
	w.clients = map[model.PlayerID]*clientState{}
	w.kicked = nil

	for _, ov := range snap.Objects {
		id := model.ObjectID(ov.ID)
		pose := rpc.PoseFromWire(protocol.Pose{Pos: ov.Pos, Rot: ov.Rot})
		o := carry.NewObject(w.space, w.carry, id, pose)
		o.Net.Enabled = ov.NetEnabled
		o.Net.TeleportSeq = ov.TeleportSeq
		o.PickedUpBy.Restore(model.PlayerID(ov.PickedUpBy), 0)
		w.objects[id] = o
	}

	for _, pv := range snap.Players {
		id := model.PlayerID(pv.ID)
		p := w.newPlayer(id, pv.Name, mgl64.Vec3(pv.Pos))
		p.Name.Restore(pv.Name, 0)
		p.Velocity.Restore(mgl64.Vec3(pv.Vel), 0)
		p.JumpCount.Restore(pv.JumpCount, 0)
		p.Walking.Restore(pv.Walking, 0)
		p.Running.Restore(pv.Running, 0)
		p.Inverted.Restore(pv.Inverted, 0)
		p.CarriedObject.Restore(model.ObjectID(pv.CarriedObject), 0)

		s := &p.Motor.State
		s.Rotation = rpc.PoseFromWire(protocol.Pose{Rot: pv.Rot}).Rotation
		s.Velocity = mgl64.Vec3(pv.MotorVel)
		s.Grounded = pv.Grounded
		s.LastGroundedTime = pv.LastGroundedTime
		s.JumpRequestTime = pv.JumpRequestTime
		s.JumpHeld = pv.JumpHeld
		s.JumpCount = pv.JumpCount
		s.Walking = pv.Walking
		s.Running = pv.Running
		p.Controller.Enabled = pv.ControllerEnabled

		p.guard = gravity.TeleportGuard{Phase: gravity.GuardPhase(pv.GuardPhase), ReenableAt: pv.GuardReenableAt}
		p.input.Move = mgl64.Vec2(pv.Move)
		p.input.Sprint = pv.Sprint
		p.input.Jump = pv.Jump
		p.jumpLatest = pv.Jump
		p.lastSeq = pv.LastInputSeq
		w.players[id] = p
	}

	// Re-derive attachments and collider state for carried objects.
	for _, id := range w.sortedPlayerIDs() {
		p := w.players[id]
		if !p.IsCarrying() {
			continue
		}
		o := w.objects[p.CarriedObject.Get()]
		if o == nil || o.PickedUpBy.Get() != id {
			return fmt.Errorf("snapshot: %s carries %q which is not held by it", id, p.CarriedObject.Get())
		}
		carry.ApplyPickup(w, w.space, w.carry, rpc.ConfirmPickup{Player: id, Object: o.ID})
	}
	for _, o := range w.objects {
		if o.IsPickedUp() && w.players[o.PickedUpBy.Get()] == nil {
			return fmt.Errorf("snapshot: %s held by unknown player %s", o.ID, o.PickedUpBy.Get())
		}
	}

	w.nextPlayerNum.Store(snap.NextPlayerNum)
	w.tick.Store(snap.Header.Tick + 1)
	return nil
}

// ReleaseRestoredPlayers queues every player without a connected client for removal on the next
// tick. Removal goes through the normal leave path, so carried objects are dropped and the leaves
// land in the tick log. A server resuming from a snapshot calls this; replay does not, because
// the recorded run kept those players.
func (w *World) ReleaseRestoredPlayers() int {
	n := 0
	for _, id := range w.sortedPlayerIDs() {
		if w.clients[id] != nil {
			continue
		}
		w.kicked = append(w.kicked, string(id))
		n++
	}
	return n
}
