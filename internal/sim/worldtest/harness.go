package worldtest

import (
	"testing"

	"upend.gg/internal/persistence/snapshot"
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/peer"
	"upend.gg/internal/sim/tuning"
	world "upend.gg/internal/sim/world"
)

// Harness is a small black-box test helper that runs a world and one peer per joined player in
// the same goroutine:
// - Join() issues a JoinRequest via StepOnce() and builds the peer from WELCOME
// - Step() feeds each peer's input record through Peer.Step, StepOnce and back
// - frames go through the session's codec both ways, like the websocket transport
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	// Codec is used for sessions joined after it is set.
	Codec string

	sessions map[model.PlayerID]*Session
	order    []model.PlayerID
	digest   string
}

func NewHarness(t *testing.T, tu tuning.Tuning) *Harness {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "test", Tuning: tu})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported before join.
func NewHarnessWithWorld(t *testing.T, w *world.World) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	return &Harness{T: t, W: w, sessions: map[model.PlayerID]*Session{}}
}

type Session struct {
	ID    model.PlayerID
	Peer  *peer.Peer
	Codec protocol.Codec
	Out   chan []byte
	State chan []byte
	// Closed is set once the world hung up on this session.
	Closed bool
}

func (h *Harness) Join(name string) *Session {
	h.T.Helper()
	out := make(chan []byte, 64)
	state := make(chan []byte, 1)
	resp := make(chan world.JoinResponse, 1)
	h.W.StepOnce([]world.JoinRequest{{
		Name:  name,
		Codec: h.Codec,
		Out:   out,
		State: state,
		Resp:  resp,
	}}, nil, nil)
	jr := <-resp
	if jr.Err != "" {
		h.T.Fatalf("join %q: %s", name, jr.Err)
	}
	wel := jr.Welcome
	if wel.Tuning == nil || wel.Tuning.Digest() != wel.TuningDigest {
		h.T.Fatalf("welcome tuning does not match its digest")
	}
	codec, err := protocol.CodecFor(wel.Codec)
	if err != nil {
		h.T.Fatalf("welcome codec: %v", err)
	}
	p, err := peer.New(model.PlayerID(wel.PlayerID), *wel.Tuning)
	if err != nil {
		h.T.Fatalf("peer.New: %v", err)
	}
	s := &Session{ID: model.PlayerID(wel.PlayerID), Peer: p, Codec: codec, Out: out, State: state}
	h.sessions[s.ID] = s
	h.order = append(h.order, s.ID)
	h.deliver()
	return s
}

// Leave disconnects a session on the next step.
func (h *Harness) Leave(id model.PlayerID) {
	h.T.Helper()
	h.W.StepOnce(nil, []string{string(id)}, nil)
	delete(h.sessions, id)
	h.deliver()
}

func (h *Harness) Session(id model.PlayerID) *Session { return h.sessions[id] }

// Step runs one tick. Sessions without an entry in inputs send an empty record.
func (h *Harness) Step(inputs map[model.PlayerID]peer.InputRecord) string {
	h.T.Helper()
	var actions []world.Envelope
	for _, id := range h.order {
		s := h.sessions[id]
		if s == nil || s.Closed {
			continue
		}
		out := s.Peer.Step(inputs[id])
		actions = append(actions, h.envelopes(s, out)...)
	}
	return h.StepMulti(actions)
}

// StepFor repeats the same inputs for n ticks and returns the last digest.
func (h *Harness) StepFor(n int, inputs map[model.PlayerID]peer.InputRecord) string {
	h.T.Helper()
	d := ""
	for i := 0; i < n; i++ {
		d = h.Step(inputs)
	}
	return d
}

// StepMulti runs one tick with hand-built envelopes, bypassing the peers' input side.
func (h *Harness) StepMulti(actions []world.Envelope) string {
	h.T.Helper()
	_, d := h.W.StepOnce(nil, nil, actions)
	h.digest = d
	h.deliver()
	return d
}

func (h *Harness) StepNoop() string {
	h.T.Helper()
	return h.StepMulti(nil)
}

// Digest is the state digest of the last step.
func (h *Harness) Digest() string { return h.digest }

func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	h.T.Helper()
	// Keep tick stable: export at currentTick-1 then import would restore to currentTick.
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

// envelopes round-trips a peer's outbound messages through the session codec, the way the
// transport would decode them.
func (h *Harness) envelopes(s *Session, out peer.Outbound) []world.Envelope {
	h.T.Helper()
	var envs []world.Envelope
	var in protocol.InputMsg
	h.roundTrip(s.Codec, out.Input, &in)
	envs = append(envs, world.Envelope{PlayerID: string(s.ID), Input: &in})
	for _, m := range out.RPCs {
		var r protocol.RPCMsg
		h.roundTrip(s.Codec, m, &r)
		envs = append(envs, world.Envelope{PlayerID: string(s.ID), RPC: &r})
	}
	return envs
}

func (h *Harness) roundTrip(c protocol.Codec, v, dst any) {
	h.T.Helper()
	b, err := c.Marshal(v)
	if err != nil {
		h.T.Fatalf("marshal: %v", err)
	}
	if err := c.Unmarshal(b, dst); err != nil {
		h.T.Fatalf("unmarshal: %v", err)
	}
}

// deliver hands every queued frame to its peer, confirmations first, then presents one tick.
func (h *Harness) deliver() {
	h.T.Helper()
	dt := 0.0
	if r := h.W.Tuning().TickRateHz; r > 0 {
		dt = 1 / float64(r)
	}
	for _, id := range h.order {
		s := h.sessions[id]
		if s == nil || s.Closed {
			continue
		}
		h.drainRPCs(s)
		select {
		case b := <-s.State:
			var st protocol.StateMsg
			if err := s.Codec.Unmarshal(b, &st); err != nil {
				h.T.Fatalf("unmarshal STATE: %v", err)
			}
			s.Peer.ApplyState(st)
		default:
		}
		s.Peer.Present(dt)
	}
}

func (h *Harness) drainRPCs(s *Session) {
	h.T.Helper()
	for {
		select {
		case b, ok := <-s.Out:
			if !ok {
				s.Closed = true
				return
			}
			var m protocol.RPCMsg
			if err := s.Codec.Unmarshal(b, &m); err != nil {
				h.T.Fatalf("unmarshal RPC: %v", err)
			}
			if err := s.Peer.ApplyRPC(m); err != nil {
				h.T.Fatalf("%s: apply %s: %v", s.ID, m.Call, err)
			}
		default:
			return
		}
	}
}
