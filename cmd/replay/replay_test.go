package main

import (
	"strings"
	"testing"

	persistlog "upend.gg/internal/persistence/log"
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/tuning"
	"upend.gg/internal/sim/world"
)

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Level.Spawns = [][3]float64{{1, 0.9, 2}, {1.5, 0.9, 2}}
	return t
}

// record runs a short session with a snapshot after the first few ticks, logging every tick
// to dir. It returns the snapshot world.
func record(t *testing.T, dir string) *world.World {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "replay", Tuning: testTuning()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.StepOnce(nil, nil, nil)
	}
	snap := w.ExportSnapshot(w.CurrentTick() - 1)

	tl := persistlog.NewTickLogger(dir)
	w.SetTickLogger(tl)
	w.StepOnce([]world.JoinRequest{{Name: "ada"}, {Name: "bob"}}, nil, nil)
	for i := 0; i < 40; i++ {
		var acts []world.Envelope
		acts = append(acts, world.Envelope{PlayerID: "P000001", Input: &protocol.InputMsg{
			Type: protocol.TypeInput, ProtocolVersion: protocol.Version, Seq: uint64(i + 1),
			Move: [2]float64{0, 1}, Jump: i == 20,
		}})
		if i == 2 {
			acts = append(acts, world.Envelope{PlayerID: "P000002", RPC: &protocol.RPCMsg{
				Type: protocol.TypeRPC, ProtocolVersion: protocol.Version, Call: "RequestPickup", ObjectID: "crate_1",
			}})
		}
		if i == 30 {
			acts = append(acts, world.Envelope{PlayerID: "P000002", RPC: &protocol.RPCMsg{
				Type: protocol.TypeRPC, ProtocolVersion: protocol.Version, Call: "RequestDrop",
			}})
		}
		var leaves []string
		if i == 35 {
			leaves = []string{"P000001"}
		}
		w.StepOnce(nil, leaves, acts)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}

	rw, err := world.New(world.WorldConfig{ID: snap.Header.WorldID, Tuning: snap.Tuning})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if err := rw.ImportSnapshot(snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	return rw
}

func replayDir(t *testing.T, r *replayer, dir string) error {
	t.Helper()
	files, err := persistlog.ListFiles(dir+"/events", "events")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("no event files written")
	}
	for _, f := range files {
		if err := persistlog.ReadTicks(f, r.step); err != nil {
			return err
		}
	}
	return nil
}

func TestReplayVerifiesEveryTick(t *testing.T) {
	dir := t.TempDir()
	w := record(t, dir)
	r := newReplayer(w, 0, 0)
	if err := replayDir(t, r, dir); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if r.checked != 41 {
		t.Fatalf("checked %d ticks, want 41", r.checked)
	}
	if o := w.Object("crate_1"); o == nil || o.PickedUpBy.Get() != "" {
		t.Fatalf("crate_1 should be dropped after replay")
	}
	if w.Player("P000001") != nil || w.Player("P000002") == nil {
		t.Fatalf("replayed leave not applied")
	}
}

func TestReplayStopsAtToTick(t *testing.T) {
	dir := t.TempDir()
	w := record(t, dir)
	start := w.CurrentTick()
	r := newReplayer(w, 0, start+9)
	if err := replayDir(t, r, dir); err != errDone {
		t.Fatalf("expected errDone, got %v", err)
	}
	if r.checked != 10 {
		t.Fatalf("checked %d ticks, want 10", r.checked)
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "replay", Tuning: testTuning()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	r := newReplayer(w, 0, 0)
	err = r.step(world.TickLogEntry{Tick: 0, Digest: "not-a-digest"})
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
	err = r.step(world.TickLogEntry{Tick: 7})
	if err == nil || !strings.Contains(err.Error(), "tick mismatch") {
		t.Fatalf("expected tick mismatch, got %v", err)
	}
}

func TestReplayChecksJoinIDs(t *testing.T) {
	w, err := world.New(world.WorldConfig{ID: "replay", Tuning: testTuning()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	r := newReplayer(w, 0, 0)
	err = r.step(world.TickLogEntry{Tick: 0, Joins: []world.RecordedJoin{{PlayerID: "P000009", Name: "ada"}}})
	if err == nil || !strings.Contains(err.Error(), "join") {
		t.Fatalf("expected join id error, got %v", err)
	}
}
