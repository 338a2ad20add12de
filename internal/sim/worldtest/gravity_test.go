package worldtest

import (
	"math"
	"testing"

	"upend.gg/internal/sim/peer"
)

func TestGravityToggle_FlipsAndReplicates(t *testing.T) {
	h := NewHarness(t, testTuning())
	a := h.Join("ada")
	b := h.Join("bob")
	h.StepFor(10, nil)

	h.Step(inputs{a.ID: {ToggleGravity: true}})
	pa := h.W.Player(a.ID)
	if !pa.IsInverted() {
		t.Fatalf("authority did not flip")
	}
	if math.Abs(pa.Position.Y()-11.1) > 1e-9 {
		t.Fatalf("teleported to y=%v, want 11.1", pa.Position.Y())
	}
	if !b.Peer.Player(a.ID).IsInverted() {
		t.Fatalf("flag not replicated to bob")
	}
	var flips int
	for _, c := range b.Peer.DrainCues() {
		if c.Kind == peer.CueFlip && c.Player == a.ID {
			flips++
		}
	}
	if flips != 1 {
		t.Fatalf("bob saw %d flip cues", flips)
	}

	// Holding the button does not flip back.
	h.StepFor(60, inputs{a.ID: {ToggleGravity: true}})
	if !pa.IsInverted() {
		t.Fatalf("held toggle flipped again")
	}
	if a.Peer.Toggle.Pending {
		t.Fatalf("prediction should have been confirmed")
	}
	if math.Abs(pa.Position.Y()-11.1) > 0.01 {
		t.Fatalf("inverted player should hang from the ceiling, y=%v", pa.Position.Y())
	}
	if a.Peer.Camera.TargetRoll != 180 || b.Peer.Camera.TargetRoll != 0 {
		t.Fatalf("camera roll targets: ada %v bob %v", a.Peer.Camera.TargetRoll, b.Peer.Camera.TargetRoll)
	}
	if tr := b.Peer.Avatar(a.ID).Transition; !tr.Done() || !tr.Inverted {
		t.Fatalf("bob's view of ada's transition: %+v", tr)
	}

	h.Step(nil)
	h.Step(inputs{a.ID: {ToggleGravity: true}})
	if pa.IsInverted() || math.Abs(pa.Position.Y()-0.9) > 1e-9 {
		t.Fatalf("flip back: inverted=%v y=%v", pa.IsInverted(), pa.Position.Y())
	}
}

func TestGravityToggle_JumpFromCeilingGoesDown(t *testing.T) {
	h := NewHarness(t, testTuning())
	a := h.Join("ada")
	h.StepFor(5, nil)
	h.Step(inputs{a.ID: {ToggleGravity: true}})
	h.StepFor(30, nil)

	pa := h.W.Player(a.ID)
	before := pa.JumpCount.Get()
	h.Step(inputs{a.ID: {Jump: true}})
	if pa.JumpCount.Get() != before+1 {
		t.Fatalf("jump from the ceiling not taken")
	}
	if v := pa.Velocity.Get().Y(); v >= 0 {
		t.Fatalf("inverted jump should move down, vel.y=%v", v)
	}
	var jumps int
	for _, c := range a.Peer.DrainCues() {
		if c.Kind == peer.CueJump {
			jumps++
		}
	}
	if jumps != 1 {
		t.Fatalf("jump cues = %d", jumps)
	}
}
