package world

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/carry"
	"upend.gg/internal/sim/gravity"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/replica"
	"upend.gg/internal/sim/rpc"
)

func (w *World) stepInternal(joins []JoinRequest, leaves []string, actions []Envelope) string {
	start := time.Now()
	nowTick := w.tick.Load()
	now := float64(nowTick) * w.dt

	if len(w.kicked) > 0 {
		leaves = append(append([]string(nil), w.kicked...), leaves...)
		w.kicked = w.kicked[:0]
	}

	// Confirmations committed this tick, broadcast in commit order.
	var out []rpc.Msg

	for _, id := range leaves {
		out = w.handleLeave(nowTick, model.PlayerID(id), out)
	}

	var recordedJoins []RecordedJoin
	for _, req := range joins {
		if rj, ok := w.handleJoin(nowTick, req); ok {
			recordedJoins = append(recordedJoins, rj)
		}
	}

	for _, p := range w.players {
		p.inputSeen = false
	}
	for _, env := range actions {
		p := w.players[model.PlayerID(env.PlayerID)]
		if p == nil {
			continue
		}
		switch {
		case env.Input != nil:
			p.applyInput(*env.Input)
		case env.RPC != nil:
			out = w.dispatchRPC(nowTick, now, p, *env.RPC, out)
		}
	}

	ids := w.sortedPlayerIDs()
	for _, id := range ids {
		w.stepPlayer(w.players[id], now)
	}
	for _, id := range ids {
		if n := carry.Enforce(w, w.space, w.carry, w.players[id].Player); n > 0 {
			w.stats.corrections += uint64(n)
		}
	}

	digest := w.stateDigest(nowTick)
	w.broadcast(nowTick, out, digest)

	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:    nowTick,
			Joins:   recordedJoins,
			Leaves:  append([]string(nil), leaves...),
			Actions: append([]Envelope(nil), actions...),
			Digest:  digest,
		})
	}

	if every := w.cfg.Tuning.SnapshotEveryTicks; w.snapshotSink != nil && every > 0 && nowTick != 0 && nowTick%uint64(every) == 0 {
		select {
		case w.snapshotSink <- w.ExportSnapshot(nowTick):
		default:
			w.stats.snapshotDrops++
		}
	}

	w.tick.Add(1)
	w.storeMetrics(nowTick, time.Since(start))
	return digest
}

func (w *World) handleJoin(tick uint64, req JoinRequest) (RecordedJoin, bool) {
	if len(w.players) >= w.cfg.Tuning.MaxPlayers {
		reply(req.Resp, JoinResponse{Err: protocol.ErrBusy})
		return RecordedJoin{}, false
	}
	codec, err := protocol.CodecFor(req.Codec)
	if err != nil {
		reply(req.Resp, JoinResponse{Err: protocol.ErrProtoBadRequest})
		return RecordedJoin{}, false
	}

	n := w.nextPlayerNum.Add(1)
	id := model.PlayerID(fmt.Sprintf("P%06d", n))
	p := w.newPlayer(id, req.Name, w.spawnPoint(n))
	w.players[id] = p
	if req.Out != nil || req.State != nil {
		w.clients[id] = &clientState{Out: req.Out, State: req.State, Codec: codec}
	}

	t := w.cfg.Tuning
	reply(req.Resp, JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        string(id),
		Codec:           codec.Name(),
		Tick:            tick,
		TuningDigest:    t.Digest(),
		Tuning:          &t,
	}})
	return RecordedJoin{PlayerID: string(id), Name: p.Name.Get()}, true
}

func reply(ch chan JoinResponse, r JoinResponse) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// handleLeave removes a player. Anything it was carrying goes through the normal drop path so
// the object is not left attached to nobody.
func (w *World) handleLeave(tick uint64, id model.PlayerID, out []rpc.Msg) []rpc.Msg {
	p := w.players[id]
	if p == nil {
		return out
	}
	if p.IsCarrying() {
		out = w.drop(tick, p, out)
	}
	delete(w.players, id)
	delete(w.clients, id)
	return out
}

// applyInput merges one INPUT into this tick's input. Move and sprint take the last value seen;
// a jump press anywhere in the tick counts.
func (p *player) applyInput(in protocol.InputMsg) {
	move := mgl64.Vec2{clampAxis(in.Move[0]), clampAxis(in.Move[1])}
	jump := in.Jump
	if p.inputSeen {
		jump = jump || p.input.Jump
	}
	p.input.Move = move
	p.input.Sprint = in.Sprint
	p.input.Jump = jump
	p.jumpLatest = in.Jump
	p.inputSeen = true
	if in.Seq > p.lastSeq {
		p.lastSeq = in.Seq
	}
}

func clampAxis(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

func (w *World) dispatchRPC(tick uint64, now float64, p *player, in protocol.RPCMsg, out []rpc.Msg) []rpc.Msg {
	m, err := rpc.Decode(in, rpc.ToAuthority)
	if err != nil {
		w.audit(tick, p, in.Call, in.ObjectID, protocol.ErrProtoBadRequest, err.Error())
		return out
	}
	switch m := m.(type) {
	case rpc.SetName:
		name := model.ClampName(m.Name)
		if p.Name.Set(replica.RoleAuthority, name) {
			w.audit(tick, p, "SET_NAME", "", "", name)
		}
	case rpc.RequestPickup:
		conf, err := carry.Pickup(w, w.carry, p.Player, m.Object)
		if err != nil {
			w.auditRejection(tick, p, "PICKUP", string(m.Object), err)
			return out
		}
		carry.ApplyPickup(w, w.space, w.carry, conf)
		w.stats.pickups++
		w.audit(tick, p, "PICKUP", string(conf.Object), "", "")
		out = append(out, conf)
	case rpc.RequestDrop:
		out = w.drop(tick, p, out)
	case rpc.RequestGravityToggle:
		out = w.toggleGravity(tick, now, p, m, out)
	}
	return out
}

func (w *World) drop(tick uint64, p *player, out []rpc.Msg) []rpc.Msg {
	held := string(p.CarriedObject.Get())
	conf, err := carry.Drop(w, w.space, w.carry, p.Player)
	if err != nil {
		w.auditRejection(tick, p, "DROP", held, err)
		return out
	}
	carry.ApplyDrop(w, w.space, w.carry, conf)
	w.stats.drops++
	pos := conf.Pose.Position
	w.audit(tick, p, "DROP", string(conf.Object), "", fmt.Sprintf("%.3f,%.3f,%.3f", pos.X(), pos.Y(), pos.Z()))
	return append(out, conf)
}

// toggleGravity commits a flip: set the flag, zero velocity, park the controller at the target
// height and hold velocity writes until the guard clears.
func (w *World) toggleGravity(tick uint64, now float64, p *player, m rpc.RequestGravityToggle, out []rpc.Msg) []rpc.Msg {
	if p.guard.Active() {
		w.audit(tick, p, "GRAVITY", "", protocol.ErrBusy, "teleport in progress")
		return out
	}
	if m.Inverted == p.IsInverted() {
		w.audit(tick, p, "GRAVITY", "", protocol.ErrStale, fmt.Sprintf("already inverted=%t", m.Inverted))
		return out
	}

	g := w.cfg.Tuning.Gravity
	p.Inverted.Set(replica.RoleAuthority, m.Inverted)
	p.guard.Begin(now, g.ReenableDelay)
	p.Velocity.Set(replica.RoleAuthority, mgl64.Vec3{})
	if p.Motor != nil {
		p.Motor.State.Velocity = mgl64.Vec3{}
	}
	if c := p.Controller; c != nil {
		c.Enabled = false
		pos := c.Position
		pos[1] = gravity.ClampY(g, m.TargetY, c.Height/2)
		c.Teleport(pos)
		p.Position = pos
	}
	w.stats.flips++
	w.audit(tick, p, "GRAVITY", "", "", fmt.Sprintf("inverted=%t", m.Inverted))
	return append(out, rpc.StartGravityAnimation{Player: p.ID, Inverted: m.Inverted})
}

// stepPlayer runs the teleport guard and the motor for one player and publishes the result.
func (w *World) stepPlayer(p *player, now float64) {
	if p.guard.Advance(now) {
		if p.Controller != nil {
			p.Controller.Enabled = true
		}
		if p.Motor != nil {
			p.Motor.State.Velocity = mgl64.Vec3{}
		}
		p.Velocity.Set(replica.RoleAuthority, mgl64.Vec3{})
	}

	res := p.Motor.Step(p.input, w.dt, now, p.IsInverted())
	p.input.Jump = p.jumpLatest
	if res.Skipped {
		return
	}
	s := &p.Motor.State
	p.Position = p.Controller.Position
	if !p.guard.Active() {
		p.Velocity.Set(replica.RoleAuthority, s.Velocity)
	}
	p.JumpCount.Set(replica.RoleAuthority, s.JumpCount)
	p.Walking.Set(replica.RoleAuthority, s.Walking)
	p.Running.Set(replica.RoleAuthority, s.Running)
}

func (w *World) audit(tick uint64, p *player, action, object, reason, detail string) {
	if reason != "" {
		w.stats.rejections++
	}
	if w.auditLogger == nil {
		return
	}
	_ = w.auditLogger.WriteAudit(AuditEntry{
		Tick:   tick,
		Actor:  string(p.ID),
		Action: action,
		Object: object,
		Pos:    [3]float64(p.Position),
		Reason: reason,
		Detail: detail,
	})
}

func (w *World) auditRejection(tick uint64, p *player, action, object string, err error) {
	code, reason := protocol.ErrInternal, err.Error()
	var rej *carry.Rejection
	if errors.As(err, &rej) {
		code, reason = rej.Code, rej.Reason
	}
	w.audit(tick, p, action, object, code, reason)
}
