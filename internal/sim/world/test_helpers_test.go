package world

import (
	"encoding/json"
	"testing"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/rpc"
	"upend.gg/internal/sim/tuning"
)

// testTuning spawns everyone next to crate_1 so pickups are within reach.
func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Level.Spawns = [][3]float64{{1, 0.9, 2}, {1.5, 0.9, 2}}
	t.Level.Objects = []tuning.ObjectFixture{
		{ID: "crate_1", Pos: [3]float64{1, 0.25, 3}},
		{ID: "crate_2", Pos: [3]float64{-3, 0.25, 1}, Yaw: 45},
	}
	return t
}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := New(WorldConfig{ID: "test", Tuning: testTuning()})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

type testClient struct {
	ID    model.PlayerID
	Out   chan []byte
	State chan []byte
}

func joinReq(name string, outCap int) (JoinRequest, *testClient, chan JoinResponse) {
	c := &testClient{Out: make(chan []byte, outCap), State: make(chan []byte, 1)}
	resp := make(chan JoinResponse, 1)
	return JoinRequest{Name: name, Out: c.Out, State: c.State, Resp: resp}, c, resp
}

func join(t *testing.T, w *World, name string) *testClient {
	t.Helper()
	req, c, resp := joinReq(name, 32)
	w.StepOnce([]JoinRequest{req}, nil, nil)
	r := <-resp
	if r.Err != "" {
		t.Fatalf("join %s: %s", name, r.Err)
	}
	c.ID = model.PlayerID(r.Welcome.PlayerID)
	return c
}

func rpcEnv(id model.PlayerID, m rpc.Msg) Envelope {
	wire := rpc.Encode(m)
	return Envelope{PlayerID: string(id), RPC: &wire}
}

func inputEnv(id model.PlayerID, seq uint64, move [2]float64, sprint, jump bool) Envelope {
	return Envelope{PlayerID: string(id), Input: &protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Move:            move,
		Sprint:          sprint,
		Jump:            jump,
	}}
}

func step(w *World, actions ...Envelope) string {
	_, d := w.StepOnce(nil, nil, actions)
	return d
}

// drainRPCs returns every RPC frame queued on c.Out.
func drainRPCs(t *testing.T, c *testClient) []protocol.RPCMsg {
	t.Helper()
	var out []protocol.RPCMsg
	for {
		select {
		case b, ok := <-c.Out:
			if !ok {
				return out
			}
			var m protocol.RPCMsg
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("decode rpc frame: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func latestState(t *testing.T, c *testClient) protocol.StateMsg {
	t.Helper()
	select {
	case b := <-c.State:
		var st protocol.StateMsg
		if err := json.Unmarshal(b, &st); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return st
	default:
		t.Fatalf("no state frame queued for %s", c.ID)
	}
	return protocol.StateMsg{}
}

type auditRecorder struct{ entries []AuditEntry }

func (a *auditRecorder) WriteAudit(e AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditRecorder) withReason(action, reason string) []AuditEntry {
	var out []AuditEntry
	for _, e := range a.entries {
		if e.Action == action && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}

type tickRecorder struct{ entries []TickLogEntry }

func (r *tickRecorder) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

// checkCarryInvariants fails if any object/player pair disagrees about who carries what.
func checkCarryInvariants(t *testing.T, w *World) {
	t.Helper()
	holders := map[model.ObjectID]model.PlayerID{}
	for id, p := range w.players {
		if !p.IsCarrying() {
			continue
		}
		obj := p.CarriedObject.Get()
		if prev, dup := holders[obj]; dup {
			t.Fatalf("%s carried by both %s and %s", obj, prev, id)
		}
		holders[obj] = id
	}
	for id, o := range w.objects {
		if o.IsPickedUp() != (o.PickedUpBy.Get() != "") {
			t.Fatalf("%s: IsPickedUp disagrees with PickedUpBy", id)
		}
		if o.IsPickedUp() == o.Net.Enabled {
			t.Fatalf("%s: net transform enabled=%v while picked up=%v", id, o.Net.Enabled, o.IsPickedUp())
		}
		if holders[id] != o.PickedUpBy.Get() {
			t.Fatalf("%s: picked up by %q but carried by %q", id, o.PickedUpBy.Get(), holders[id])
		}
	}
}
