package observerproto

import (
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/tuning"
)

// Version is the observer protocol version (separate from the player WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// RateHz is how many STATE frames per second the observer wants.
	RateHz int `json:"rate_hz"`
	// Optional: only send this player and what it carries.
	FocusPlayerID string `json:"focus_player_id,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	TuningDigest    string         `json:"tuning_digest"`
	Tuning          *tuning.Tuning `json:"tuning"`
}

// Focus trims a STATE frame down to one player and the object it carries.
func Focus(st protocol.StateMsg, playerID string) protocol.StateMsg {
	if playerID == "" {
		return st
	}
	out := st
	out.Players = nil
	out.Objects = nil
	for _, p := range st.Players {
		if p.ID == playerID {
			out.Players = append(out.Players, p)
		}
	}
	for _, o := range st.Objects {
		if o.PickedUpBy == playerID {
			out.Objects = append(out.Objects, o)
		}
	}
	return out
}
