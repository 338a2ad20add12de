package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeInput   = "INPUT"
	TypeRPC     = "RPC"
	TypeState   = "STATE"
)

// BaseMessage lets us route unknown messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// SelectVersion picks the version both sides speak, preferring Version.
func SelectVersion(requested string, supported []string) (string, bool) {
	if requested == Version {
		return Version, true
	}
	for _, v := range supported {
		if v == Version {
			return Version, true
		}
	}
	return "", false
}
