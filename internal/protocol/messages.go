package protocol

import "upend.gg/internal/sim/tuning"

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	PlayerName        string   `json:"player_name"`
	// Codec asks for the frame encoding after WELCOME: "json" (default) or "msgpack".
	Codec string `json:"codec,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	PlayerID        string         `json:"player_id"`
	Codec           string         `json:"codec"`
	Tick            uint64         `json:"tick"`
	TuningDigest    string         `json:"tuning_digest"`
	Tuning          *tuning.Tuning `json:"tuning"`
}

// INPUT (client -> server): the movement part of one tick's input record. Pickup, drop and
// gravity presses travel as RPCs.
type InputMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Seq             uint64     `json:"seq"`
	Move            [2]float64 `json:"move"`
	Sprint          bool       `json:"sprint,omitempty"`
	Jump            bool       `json:"jump,omitempty"`
}

type Pose struct {
	Pos [3]float64 `json:"pos"`
	// Rot is a unit quaternion as (w, x, y, z).
	Rot [4]float64 `json:"rot"`
}

// RPC (both directions). Which fields are set depends on Call.
type RPCMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Call            string `json:"call"`
	// PlayerID is the subject of an authority broadcast. The server ignores it on requests and
	// uses the sending session's player instead.
	PlayerID string  `json:"player_id,omitempty"`
	ObjectID string  `json:"object_id,omitempty"`
	Name     string  `json:"name,omitempty"`
	Inverted bool    `json:"inverted,omitempty"`
	TargetY  float64 `json:"target_y,omitempty"`
	Pose     *Pose   `json:"pose,omitempty"`
}

// STATE (server -> client): replicated properties after a tick.
type StateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Tick            uint64        `json:"tick"`
	Digest          string        `json:"digest,omitempty"`
	Players         []PlayerState `json:"players"`
	Objects         []ObjectState `json:"objects"`
}

type PlayerState struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Pos           [3]float64 `json:"pos"`
	Vel           [3]float64 `json:"vel"`
	Yaw           float64    `json:"yaw"`
	JumpCount     uint32     `json:"jump_count"`
	Inverted      bool       `json:"inverted,omitempty"`
	CarriedObject string     `json:"carried_object,omitempty"`
	Walking       bool       `json:"walking,omitempty"`
	Running       bool       `json:"running,omitempty"`
	// LastInputSeq lets the input holder see which of its inputs the authority has consumed.
	LastInputSeq uint64 `json:"last_input_seq,omitempty"`
}

type ObjectState struct {
	ID          string `json:"id"`
	PickedUpBy  string `json:"picked_up_by,omitempty"`
	Pose        Pose   `json:"pose"`
	NetEnabled  bool   `json:"net_enabled"`
	TeleportSeq uint32 `json:"teleport_seq"`
}
