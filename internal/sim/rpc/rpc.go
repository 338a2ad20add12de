// Package rpc is the closed set of remote calls exchanged between an input holder and the
// authority. Each call is its own type; dispatch is a type switch.
package rpc

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/model"
)

var (
	ErrUnknownCall    = errors.New("rpc: unknown call")
	ErrWrongDirection = errors.New("rpc: call not allowed in this direction")
	ErrBadArgs        = errors.New("rpc: bad arguments")
)

type Route uint8

const (
	// ToAuthority calls go from an input holder to the authoritative peer.
	ToAuthority Route = iota + 1
	// ToAll calls are broadcast by the authority to every peer.
	ToAll
)

func (r Route) String() string {
	switch r {
	case ToAuthority:
		return "to_authority"
	case ToAll:
		return "to_all"
	}
	return "unknown"
}

const (
	CallSetName               = "SetName"
	CallRequestPickup         = "RequestPickup"
	CallConfirmPickup         = "ConfirmPickup"
	CallRequestDrop           = "RequestDrop"
	CallConfirmDrop           = "ConfirmDrop"
	CallRequestGravityToggle  = "RequestGravityToggle"
	CallStartGravityAnimation = "StartGravityAnimation"
)

type Msg interface {
	Call() string
	Route() Route
}

type SetName struct{ Name string }

type RequestPickup struct{ Object model.ObjectID }

type ConfirmPickup struct {
	Player model.PlayerID
	Object model.ObjectID
}

type RequestDrop struct{}

type ConfirmDrop struct {
	Player model.PlayerID
	Object model.ObjectID
	Pose   model.Pose
}

type RequestGravityToggle struct {
	Inverted bool
	TargetY  float64
}

type StartGravityAnimation struct {
	Player   model.PlayerID
	Inverted bool
}

func (SetName) Call() string               { return CallSetName }
func (RequestPickup) Call() string         { return CallRequestPickup }
func (ConfirmPickup) Call() string         { return CallConfirmPickup }
func (RequestDrop) Call() string           { return CallRequestDrop }
func (ConfirmDrop) Call() string           { return CallConfirmDrop }
func (RequestGravityToggle) Call() string  { return CallRequestGravityToggle }
func (StartGravityAnimation) Call() string { return CallStartGravityAnimation }

func (SetName) Route() Route               { return ToAuthority }
func (RequestPickup) Route() Route         { return ToAuthority }
func (ConfirmPickup) Route() Route         { return ToAll }
func (RequestDrop) Route() Route           { return ToAuthority }
func (ConfirmDrop) Route() Route           { return ToAll }
func (RequestGravityToggle) Route() Route  { return ToAuthority }
func (StartGravityAnimation) Route() Route { return ToAll }

// Encode builds the wire frame for m.
func Encode(m Msg) protocol.RPCMsg {
	out := protocol.RPCMsg{Type: protocol.TypeRPC, ProtocolVersion: protocol.Version, Call: m.Call()}
	switch v := m.(type) {
	case SetName:
		out.Name = v.Name
	case RequestPickup:
		out.ObjectID = string(v.Object)
	case ConfirmPickup:
		out.PlayerID = string(v.Player)
		out.ObjectID = string(v.Object)
	case RequestDrop:
	case ConfirmDrop:
		out.PlayerID = string(v.Player)
		out.ObjectID = string(v.Object)
		p := PoseToWire(v.Pose)
		out.Pose = &p
	case RequestGravityToggle:
		out.Inverted = v.Inverted
		out.TargetY = v.TargetY
	case StartGravityAnimation:
		out.PlayerID = string(v.Player)
		out.Inverted = v.Inverted
	}
	return out
}

// Decode parses a wire frame and checks it travels along want.
func Decode(in protocol.RPCMsg, want Route) (Msg, error) {
	m, err := decode(in)
	if err != nil {
		return nil, err
	}
	if m.Route() != want {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDirection, m.Call(), m.Route())
	}
	return m, nil
}

func decode(in protocol.RPCMsg) (Msg, error) {
	switch in.Call {
	case CallSetName:
		return SetName{Name: in.Name}, nil
	case CallRequestPickup:
		if in.ObjectID == "" {
			return nil, fmt.Errorf("%w: %s needs object_id", ErrBadArgs, in.Call)
		}
		return RequestPickup{Object: model.ObjectID(in.ObjectID)}, nil
	case CallConfirmPickup:
		if in.ObjectID == "" || in.PlayerID == "" {
			return nil, fmt.Errorf("%w: %s needs player_id and object_id", ErrBadArgs, in.Call)
		}
		return ConfirmPickup{Player: model.PlayerID(in.PlayerID), Object: model.ObjectID(in.ObjectID)}, nil
	case CallRequestDrop:
		return RequestDrop{}, nil
	case CallConfirmDrop:
		if in.ObjectID == "" || in.PlayerID == "" || in.Pose == nil {
			return nil, fmt.Errorf("%w: %s needs player_id, object_id and pose", ErrBadArgs, in.Call)
		}
		return ConfirmDrop{
			Player: model.PlayerID(in.PlayerID),
			Object: model.ObjectID(in.ObjectID),
			Pose:   PoseFromWire(*in.Pose),
		}, nil
	case CallRequestGravityToggle:
		return RequestGravityToggle{Inverted: in.Inverted, TargetY: in.TargetY}, nil
	case CallStartGravityAnimation:
		if in.PlayerID == "" {
			return nil, fmt.Errorf("%w: %s needs player_id", ErrBadArgs, in.Call)
		}
		return StartGravityAnimation{Player: model.PlayerID(in.PlayerID), Inverted: in.Inverted}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCall, in.Call)
}

func PoseToWire(p model.Pose) protocol.Pose {
	return protocol.Pose{
		Pos: [3]float64(p.Position),
		Rot: [4]float64{p.Rotation.W, p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2]},
	}
}

// PoseFromWire converts a wire pose. A zero rotation decodes as identity.
func PoseFromWire(p protocol.Pose) model.Pose {
	q := mgl64.Quat{W: p.Rot[0], V: mgl64.Vec3{p.Rot[1], p.Rot[2], p.Rot[3]}}
	return model.Pose{Position: mgl64.Vec3(p.Pos), Rotation: q.Normalize()}
}
