// Package peer is the non-authoritative side of a session: it turns one player's per-tick
// input into INPUT and RPC messages, predicts that player's motion, mirrors the authority's
// STATE and confirmations, and runs the presentation step (transitions, camera, object
// interpolation) that the authority never simulates.
package peer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/carry"
	"upend.gg/internal/sim/gravity"
	"upend.gg/internal/sim/model"
	"upend.gg/internal/sim/movement"
	"upend.gg/internal/sim/physics"
	"upend.gg/internal/sim/rpc"
	"upend.gg/internal/sim/tuning"
)

// netLerpRate is how fast (1/s) free objects chase their replicated pose between STATE frames.
const netLerpRate = 15

var worldUp = mgl64.Vec3{0, 1, 0}

// InputRecord is one tick of raw local input.
type InputRecord struct {
	Move          mgl64.Vec2
	Sprint        bool
	Jump          bool
	Pickup        bool
	Drop          bool
	ToggleGravity bool
}

// Outbound is what a tick of input produces for the authority.
type Outbound struct {
	Input protocol.InputMsg
	RPCs  []protocol.RPCMsg
}

type CueKind string

const (
	CueTake CueKind = "take"
	CueDrop CueKind = "drop"
	CueJump CueKind = "jump"
	CueFlip CueKind = "flip"
)

// Cue is a one-shot presentation event: a sound or effect keyed to a confirmed change.
type Cue struct {
	Kind   CueKind
	Player model.PlayerID
	Object model.ObjectID
}

// Avatar is a mirrored player plus its local-only presentation state.
type Avatar struct {
	*model.Player
	Transition *gravity.Transition
	// HasBody is false until a visual body is bound; transitions then skip straight to the flip.
	HasBody bool
}

// Peer is one client's view of the world. It is not safe for concurrent use.
type Peer struct {
	Self model.PlayerID

	tuning tuning.Tuning
	dt     float64
	params movement.Params
	carry  carry.Config
	space  *physics.Space

	players map[model.PlayerID]*Avatar
	objects map[model.ObjectID]*model.Object

	Toggle   gravity.Toggle
	Camera   gravity.Camera
	Targeter *carry.Targeter

	seq     uint64
	ticks   uint64
	stamp   uint64
	acked   uint64
	pickup  bool
	drop    bool
	cues    []Cue
	pending []protocol.RPCMsg
}

func New(self model.PlayerID, t tuning.Tuning) (*Peer, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	params, err := movement.ParamsFrom(t.Movement)
	if err != nil {
		return nil, fmt.Errorf("movement: %w", err)
	}
	cc, err := carry.ConfigFrom(t)
	if err != nil {
		return nil, fmt.Errorf("carry: %w", err)
	}
	p := &Peer{
		Self:     self,
		tuning:   t,
		dt:       t.TickSeconds(),
		params:   params,
		carry:    cc,
		space:    physics.NewSpace(),
		players:  map[model.PlayerID]*Avatar{},
		Camera:   gravity.NewCamera(t.Gravity),
		Targeter: carry.NewTargeter(time.Duration(t.Targeting.IntervalMs)*time.Millisecond, t.Targeting.Radius),
	}
	objects, err := carry.LoadLevel(p.space, cc, t.Level)
	if err != nil {
		return nil, err
	}
	p.objects = objects
	return p, nil
}

func (p *Peer) Player(id model.PlayerID) *model.Player {
	if a := p.players[id]; a != nil {
		return a.Player
	}
	return nil
}

func (p *Peer) Object(id model.ObjectID) *model.Object { return p.objects[id] }

func (p *Peer) Avatar(id model.PlayerID) *Avatar { return p.players[id] }

func (p *Peer) Space() *physics.Space { return p.space }

// Tick is the last STATE tick applied.
func (p *Peer) Tick() uint64 { return p.stamp }

// AckedSeq is the newest INPUT sequence number the authority reported consuming.
func (p *Peer) AckedSeq() uint64 { return p.acked }

func (p *Peer) now() float64 { return float64(p.ticks) * p.dt }

// simClock maps local simulation seconds onto a time.Time for the rate limiter.
func simClock(now float64) time.Time {
	return time.Unix(0, 0).Add(time.Duration(now * float64(time.Second)))
}

// Step consumes one tick of local input. It predicts the local player's motion and returns the
// messages to send. Pickup and drop fire on the press, not while held.
func (p *Peer) Step(in InputRecord) Outbound {
	now := p.now()
	p.ticks++
	p.seq++

	out := Outbound{Input: protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Seq:             p.seq,
		Move:            [2]float64{in.Move.X(), in.Move.Y()},
		Sprint:          in.Sprint,
		Jump:            in.Jump,
	}}
	out.RPCs = append(out.RPCs, p.pending...)
	p.pending = p.pending[:0]

	self := p.players[p.Self]
	if self == nil {
		p.pickup, p.drop = in.Pickup, in.Drop
		p.Toggle.Held = in.ToggleGravity
		return out
	}

	auth := self.IsInverted()
	p.Toggle.Observe(auth, now, p.tuning.Gravity.PendingTimeout)
	if v, ok := p.Toggle.Press(in.ToggleGravity, auth, now); ok {
		half := self.Controller.Height / 2
		out.RPCs = append(out.RPCs, rpc.Encode(rpc.RequestGravityToggle{
			Inverted: v,
			TargetY:  gravity.TargetY(p.tuning.Gravity, v, half),
		}))
	}

	if self.Controller.Enabled {
		self.Motor.Step(movement.Input{Move: in.Move, Sprint: in.Sprint, Jump: in.Jump}, p.dt, now, p.Toggle.Effective(auth))
		self.Position = self.Controller.Position
	}

	p.Targeter.Update(simClock(now), p, p.space, self.Player)
	if in.Pickup && !p.pickup && !self.IsCarrying() {
		target := p.Targeter.Current
		if target == "" {
			target, _ = p.Targeter.Nearest(p, p.space, self.Position)
		}
		if target != "" {
			out.RPCs = append(out.RPCs, rpc.Encode(rpc.RequestPickup{Object: target}))
		}
	}
	if in.Drop && !p.drop && self.IsCarrying() {
		out.RPCs = append(out.RPCs, rpc.Encode(rpc.RequestDrop{}))
	}
	p.pickup, p.drop = in.Pickup, in.Drop
	return out
}

// SetName queues a rename for the next Step.
func (p *Peer) SetName(name string) {
	p.pending = append(p.pending, rpc.Encode(rpc.SetName{Name: name}))
}

// ApplyState mirrors an authoritative STATE frame. Frames older than the last one applied are
// ignored. The authority's position and velocity overwrite the local prediction.
func (p *Peer) ApplyState(st protocol.StateMsg) {
	if st.Tick < p.stamp {
		return
	}
	p.stamp = st.Tick

	seen := make(map[model.PlayerID]bool, len(st.Players))
	for _, ps := range st.Players {
		id := model.PlayerID(ps.ID)
		seen[id] = true
		a := p.players[id]
		if a == nil {
			a = p.newAvatar(id, mgl64.Vec3(ps.Pos))
			p.players[id] = a
		}
		p.mirrorPlayer(a, ps, st.Tick)
		if id == p.Self && ps.LastInputSeq > p.acked {
			p.acked = ps.LastInputSeq
		}
	}
	for id := range p.players {
		if !seen[id] {
			delete(p.players, id)
		}
	}

	for _, obj := range st.Objects {
		id := model.ObjectID(obj.ID)
		o := p.objects[id]
		pose := rpc.PoseFromWire(obj.Pose)
		if o == nil {
			o = carry.NewObject(p.space, p.carry, id, pose)
			p.objects[id] = o
		}
		p.mirrorObject(o, obj, pose, st.Tick)
	}
}

func (p *Peer) newAvatar(id model.PlayerID, pos mgl64.Vec3) *Avatar {
	m := p.tuning.Movement
	c := physics.NewController(p.space, pos, m.ControllerRadius, m.ControllerHeight, p.params.GroundMask)
	pl := &model.Player{
		ID:         id,
		Position:   pos,
		Motor:      movement.NewMotor(p.params, c),
		Controller: c,
		Hand:       &model.Bone{Offset: p.carry.HandOffset},
	}
	return &Avatar{Player: pl, Transition: gravity.NewTransition(p.tuning.Gravity), HasBody: true}
}

func (p *Peer) mirrorPlayer(a *Avatar, ps protocol.PlayerState, stamp uint64) {
	prevJumps := a.JumpCount.Get()
	a.Name.Mirror(ps.Name, stamp)
	a.Velocity.Mirror(mgl64.Vec3(ps.Vel), stamp)
	a.JumpCount.Mirror(ps.JumpCount, stamp)
	a.Inverted.Mirror(ps.Inverted, stamp)
	a.CarriedObject.Mirror(model.ObjectID(ps.CarriedObject), stamp)
	a.Walking.Mirror(ps.Walking, stamp)
	a.Running.Mirror(ps.Running, stamp)
	if ps.JumpCount > prevJumps {
		p.cues = append(p.cues, Cue{Kind: CueJump, Player: a.ID})
	}

	a.Position = mgl64.Vec3(ps.Pos)
	a.Controller.Teleport(a.Position)
	a.Motor.State.Velocity = a.Velocity.Get()
	a.Motor.State.Rotation = mgl64.QuatRotate(ps.Yaw, worldUp)
	a.Motor.State.Walking = ps.Walking
	a.Motor.State.Running = ps.Running
	a.Motor.State.JumpCount = ps.JumpCount
}

// mirrorObject applies one object's replicated state. A carried relation this peer missed the
// confirmation for is applied quietly so the attachment and collider agree with the authority.
func (p *Peer) mirrorObject(o *model.Object, st protocol.ObjectState, pose model.Pose, stamp uint64) {
	by := model.PlayerID(st.PickedUpBy)
	o.PickedUpBy.Mirror(by, stamp)
	switch {
	case by != "" && (o.Attached == nil || o.Attached.Carrier != by):
		carry.ApplyPickup(p, p.space, p.carry, rpc.ConfirmPickup{Player: by, Object: o.ID})
	case by == "" && o.Attached != nil:
		carry.ApplyDrop(p, p.space, p.carry, rpc.ConfirmDrop{Player: o.Attached.Carrier, Object: o.ID, Pose: pose})
		o.Drop = model.DropAnimation{}
	}
	if by == "" {
		o.Net.Enabled = st.NetEnabled
		o.Net.Receive(pose, st.TeleportSeq)
		if c := p.space.Get(o.Collider); c != nil && !o.Drop.Active {
			c.Box = physics.BoxAt(o.Net.Target.Position, p.carry.HalfExtents)
		}
	}
}

// ApplyRPC handles an authority broadcast. Requests addressed to the authority are refused.
func (p *Peer) ApplyRPC(m protocol.RPCMsg) error {
	msg, err := rpc.Decode(m, rpc.ToAll)
	if err != nil {
		return err
	}
	switch v := msg.(type) {
	case rpc.ConfirmPickup:
		if a := p.players[v.Player]; a != nil {
			a.CarriedObject.Mirror(v.Object, p.stamp)
		}
		if o := p.objects[v.Object]; o != nil {
			o.PickedUpBy.Mirror(v.Player, p.stamp)
		}
		if carry.ApplyPickup(p, p.space, p.carry, v) {
			p.cues = append(p.cues, Cue{Kind: CueTake, Player: v.Player, Object: v.Object})
		}
		if v.Player == p.Self {
			p.Targeter.Current = ""
		}
	case rpc.ConfirmDrop:
		if a := p.players[v.Player]; a != nil && a.CarriedObject.Get() == v.Object {
			a.CarriedObject.Mirror("", p.stamp)
		}
		if o := p.objects[v.Object]; o != nil {
			o.PickedUpBy.Mirror("", p.stamp)
		}
		if carry.ApplyDrop(p, p.space, p.carry, v) {
			p.cues = append(p.cues, Cue{Kind: CueDrop, Player: v.Player, Object: v.Object})
		}
	case rpc.StartGravityAnimation:
		a := p.players[v.Player]
		if a == nil {
			return nil
		}
		p.cues = append(p.cues, Cue{Kind: CueFlip, Player: v.Player})
		if a.Transition.Start(v.Inverted, a.HasBody) && v.Player == p.Self {
			p.Camera.Aim(v.Inverted)
		}
	default:
		return fmt.Errorf("unexpected %s from authority", msg.Call())
	}
	return nil
}

// Present advances everything cosmetic by dt seconds. It can run at any rate; nothing it touches
// feeds back into simulation.
func (p *Peer) Present(dt float64) {
	if dt <= 0 {
		return
	}
	for _, id := range p.sortedPlayerIDs() {
		a := p.players[id]
		if a.Transition.Advance(dt) && id == p.Self {
			p.Camera.Aim(a.Transition.Inverted)
		}
	}
	p.Camera.Smooth(dt, p.tuning.Gravity.CameraRollSpeed)

	for _, o := range p.objects {
		switch {
		case o.Attached != nil:
			carrier := p.players[o.Attached.Carrier]
			if carrier == nil {
				continue
			}
			o.Net.Current = o.Attached.Resolve(carrier.Pose(), carrier.Hand)
		case o.Drop.Active:
			o.Net.Current = o.Drop.Advance(dt)
		default:
			o.Net.Interpolate(dt, netLerpRate)
		}
	}
}

// DrainCues returns and clears the cues raised since the last call.
func (p *Peer) DrainCues() []Cue {
	out := p.cues
	p.cues = nil
	return out
}

// CameraRollRadians is the current camera roll for a renderer.
func (p *Peer) CameraRollRadians() float64 { return p.Camera.Roll * math.Pi / 180 }

func (p *Peer) sortedPlayerIDs() []model.PlayerID {
	ids := make([]model.PlayerID, 0, len(p.players))
	for id := range p.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
