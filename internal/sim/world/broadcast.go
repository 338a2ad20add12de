package world

import (
	"sort"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/carry"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/rpc"
)

type frameSet struct {
	rpcs  [][]byte
	state []byte
}

// broadcast sends this tick's confirmations to every client, then the STATE frame if this is a
// broadcast tick. Frames are encoded once per codec.
func (w *World) broadcast(tick uint64, out []rpc.Msg, digest string) {
	if len(w.clients) == 0 {
		return
	}
	var state *protocol.StateMsg
	if every := uint64(w.cfg.Tuning.BroadcastEveryTicks); every > 0 && tick%every == 0 {
		st := w.BuildState(tick, digest)
		state = &st
	}
	if len(out) == 0 && state == nil {
		return
	}

	ids := make([]model.PlayerID, 0, len(w.clients))
	for id := range w.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cache := map[string]*frameSet{}
	for _, id := range ids {
		c := w.clients[id]
		fs := cache[c.Codec.Name()]
		if fs == nil {
			fs = w.encodeFrames(c.Codec, out, state)
			cache[c.Codec.Name()] = fs
		}
		if c.Out != nil {
			for _, b := range fs.rpcs {
				if !sendReliable(c.Out, b) {
					w.kick(tick, id)
					break
				}
			}
		}
		if w.clients[id] == nil {
			continue
		}
		if fs.state != nil && c.State != nil {
			sendLatest(c.State, fs.state)
		}
	}
}

func (w *World) encodeFrames(codec protocol.Codec, out []rpc.Msg, state *protocol.StateMsg) *frameSet {
	fs := &frameSet{}
	for _, m := range out {
		b, err := codec.Marshal(rpc.Encode(m))
		if err != nil {
			w.stats.encodeErrors++
			continue
		}
		fs.rpcs = append(fs.rpcs, b)
	}
	if state != nil {
		b, err := codec.Marshal(state)
		if err != nil {
			w.stats.encodeErrors++
		} else {
			fs.state = b
		}
	}
	return fs
}

// kick disconnects a client whose reliable queue overflowed. Closing Out tells the transport to
// hang up; the player is removed on the next tick.
func (w *World) kick(tick uint64, id model.PlayerID) {
	c := w.clients[id]
	if c == nil {
		return
	}
	delete(w.clients, id)
	if c.Out != nil {
		close(c.Out)
	}
	w.kicked = append(w.kicked, string(id))
	w.stats.kicks++
	if p := w.players[id]; p != nil {
		w.audit(tick, p, "KICK", "", protocol.ErrBusy, "outbound queue full")
	}
}

// BuildState is the replicated view of the world after tick.
func (w *World) BuildState(tick uint64, digest string) protocol.StateMsg {
	st := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Digest:          digest,
		Players:         make([]protocol.PlayerState, 0, len(w.players)),
		Objects:         make([]protocol.ObjectState, 0, len(w.objects)),
	}
	for _, id := range w.sortedPlayerIDs() {
		p := w.players[id]
		yaw := 0.0
		if p.Motor != nil {
			yaw = carry.Yaw(p.Motor.State.Rotation)
		}
		st.Players = append(st.Players, protocol.PlayerState{
			ID:            string(id),
			Name:          p.Name.Get(),
			Pos:           p.Position,
			Vel:           p.Velocity.Get(),
			Yaw:           yaw,
			JumpCount:     p.JumpCount.Get(),
			Inverted:      p.IsInverted(),
			CarriedObject: string(p.CarriedObject.Get()),
			Walking:       p.Walking.Get(),
			Running:       p.Running.Get(),
			LastInputSeq:  p.lastSeq,
		})
	}
	for _, id := range w.sortedObjectIDs() {
		o := w.objects[id]
		st.Objects = append(st.Objects, protocol.ObjectState{
			ID:          string(id),
			PickedUpBy:  string(o.PickedUpBy.Get()),
			Pose:        rpc.PoseToWire(o.Net.Current),
			NetEnabled:  o.Net.Enabled,
			TeleportSeq: o.Net.TeleportSeq,
		})
	}
	return st
}
