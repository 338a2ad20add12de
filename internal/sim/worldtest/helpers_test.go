package worldtest

import (
	"testing"

	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/peer"
	"upend.gg/internal/sim/tuning"
	world "upend.gg/internal/sim/world"
)

// testTuning spawns the first two players next to crate_1.
func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Level.Spawns = [][3]float64{{1, 0.9, 2}, {1.5, 0.9, 2}}
	t.Level.Objects = []tuning.ObjectFixture{
		{ID: "crate_1", Pos: [3]float64{1, 0.25, 3}},
		{ID: "crate_2", Pos: [3]float64{-3, 0.25, 1}, Yaw: 45},
	}
	return t
}

type inputs = map[model.PlayerID]peer.InputRecord

type auditRecorder struct{ entries []world.AuditEntry }

func (a *auditRecorder) WriteAudit(e world.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

type tickRecorder struct{ entries []world.TickLogEntry }

func (r *tickRecorder) WriteTick(e world.TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

// assertCarryAgrees fails unless the authority and every peer agree on who holds obj.
func assertCarryAgrees(t *testing.T, h *Harness, obj model.ObjectID, want model.PlayerID) {
	t.Helper()
	if got := h.W.Object(obj).PickedUpBy.Get(); got != want {
		t.Fatalf("authority: %s held by %q, want %q", obj, got, want)
	}
	for _, id := range h.order {
		s := h.sessions[id]
		if s == nil {
			continue
		}
		o := s.Peer.Object(obj)
		if o == nil {
			t.Fatalf("%s: peer does not know %s", id, obj)
		}
		if got := o.PickedUpBy.Get(); got != want {
			t.Fatalf("%s: %s held by %q, want %q", id, obj, got, want)
		}
		attached := ""
		if o.Attached != nil {
			attached = string(o.Attached.Carrier)
		}
		if attached != string(want) {
			t.Fatalf("%s: %s attached to %q, want %q", id, obj, attached, want)
		}
	}
}

// script is a fixed two-player session: walk, jump, take crate_1, flip, drop, flip back.
func script(i int, a, b model.PlayerID) inputs {
	in := inputs{}
	switch {
	case i == 5:
		in[a] = peer.InputRecord{Pickup: true}
	case i >= 10 && i < 30:
		in[a] = peer.InputRecord{Move: [2]float64{0.5, 1}, Sprint: i > 20}
	case i == 32:
		in[a] = peer.InputRecord{Jump: true}
	case i == 45:
		in[a] = peer.InputRecord{ToggleGravity: true}
	case i == 70:
		in[a] = peer.InputRecord{Drop: true}
	case i == 90:
		in[a] = peer.InputRecord{ToggleGravity: true}
	}
	switch {
	case i >= 3 && i < 25:
		in[b] = peer.InputRecord{Move: [2]float64{-1, 0}}
	case i == 26 || i == 27:
		in[b] = peer.InputRecord{Jump: true}
	case i == 60:
		in[b] = peer.InputRecord{Pickup: true}
	}
	return in
}
