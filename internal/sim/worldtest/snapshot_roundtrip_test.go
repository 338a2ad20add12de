package worldtest

import (
	"testing"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
	world "upend.gg/internal/sim/world"
)

func inputEnv(id model.PlayerID, seq uint64, move [2]float64, jump bool) world.Envelope {
	return world.Envelope{PlayerID: string(id), Input: &protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Move:            move,
		Jump:            jump,
	}}
}

func TestSnapshotRoundTrip_ContinuesIdentically(t *testing.T) {
	h := NewHarness(t, testTuning())
	a := h.Join("ada")
	b := h.Join("bob")
	// Stop mid-carry and mid-flip so the snapshot holds a carried object and an active guard.
	for i := 0; i < 46; i++ {
		h.Step(script(i, a.ID, b.ID))
	}
	if !h.W.Player(a.ID).IsCarrying() || !h.W.Player(a.ID).IsInverted() {
		t.Fatalf("precondition: ada should be carrying upside down")
	}

	tick, snap := h.Snapshot()
	w2, err := world.New(world.WorldConfig{ID: "restored", Tuning: testTuning()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w2.CurrentTick() != tick+1 || w2.CurrentTick() != h.W.CurrentTick() {
		t.Fatalf("restored tick %d, want %d", w2.CurrentTick(), h.W.CurrentTick())
	}
	h2 := NewHarnessWithWorld(t, w2)

	for i := 0; i < 60; i++ {
		seq := uint64(1000 + i)
		actions := []world.Envelope{
			inputEnv(a.ID, seq, [2]float64{0, 1}, i%20 == 0),
			inputEnv(b.ID, seq, [2]float64{1, 0}, false),
		}
		if i == 30 {
			drop := protocol.RPCMsg{Type: protocol.TypeRPC, ProtocolVersion: protocol.Version, Call: "RequestDrop"}
			actions = append(actions, world.Envelope{PlayerID: string(a.ID), RPC: &drop})
		}
		d1 := h.StepMulti(actions)
		d2 := h2.StepMulti(actions)
		if d1 != d2 {
			t.Fatalf("restored world diverged %d ticks after import", i)
		}
	}
	if h2.W.Player(a.ID).IsCarrying() {
		t.Fatalf("drop after restore did not apply")
	}

	// A new join after restore continues the id sequence.
	c := h2.Join("cy")
	if c.ID != "P000003" {
		t.Fatalf("id after restore = %s", c.ID)
	}
}

func TestSnapshotImport_RejectsOtherTuning(t *testing.T) {
	h := NewHarness(t, testTuning())
	h.Join("ada")
	h.StepFor(3, nil)
	_, snap := h.Snapshot()

	other := testTuning()
	other.Movement.JumpForce = 9
	w2, err := world.New(world.WorldConfig{ID: "other", Tuning: other})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if err := w2.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected tuning digest mismatch")
	}
}

func TestSnapshotResume_ReleasesRestoredPlayers(t *testing.T) {
	tu := testTuning()
	tu.MaxPlayers = 1
	h := NewHarness(t, tu)
	a := h.Join("ada")
	h.StepFor(20, nil)
	h.Step(inputs{a.ID: {Pickup: true}})
	assertCarryAgrees(t, h, "crate_1", a.ID)

	_, snap := h.Snapshot()
	w2, err := world.New(world.WorldConfig{ID: "resumed", Tuning: tu})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	ticks := &tickRecorder{}
	w2.SetTickLogger(ticks)
	if n := w2.ReleaseRestoredPlayers(); n != 1 {
		t.Fatalf("released %d players, want 1", n)
	}

	h2 := NewHarnessWithWorld(t, w2)
	h2.StepNoop()
	if w2.Player(a.ID) != nil {
		t.Fatalf("restored player still in the world")
	}
	if o := w2.Object("crate_1"); o.IsPickedUp() || !o.Net.Enabled {
		t.Fatalf("crate_1 still held after resume: by=%q net=%v", o.PickedUpBy.Get(), o.Net.Enabled)
	}
	if len(ticks.entries) != 1 || len(ticks.entries[0].Leaves) != 1 || ticks.entries[0].Leaves[0] != string(a.ID) {
		t.Fatalf("leave not recorded in the tick log: %+v", ticks.entries)
	}

	// The slot is free and the crate can be taken again.
	b := h2.Join("bob")
	if b.ID != "P000002" {
		t.Fatalf("id after resume = %s", b.ID)
	}
	h2.StepFor(5, nil)
	req := protocol.RPCMsg{Type: protocol.TypeRPC, ProtocolVersion: protocol.Version, Call: "RequestPickup", ObjectID: "crate_1"}
	h2.StepMulti([]world.Envelope{{PlayerID: string(b.ID), RPC: &req}})
	assertCarryAgrees(t, h2, "crate_1", b.ID)
}
