package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/tuning"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// roundTrip turns a message struct into the generic form the validator expects.
func roundTrip(t *testing.T, msg any) any {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return v
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compileSchema(t, "hello.schema.json")
	welcomeSchema := compileSchema(t, "welcome.schema.json")
	inputSchema := compileSchema(t, "input.schema.json")
	rpcSchema := compileSchema(t, "rpc.schema.json")
	stateSchema := compileSchema(t, "state.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "player_name":"ada",
	  "codec":"msgpack"
	}`), &hello)
	validate(helloSchema, hello)

	tun := tuning.Defaults()
	validate(welcomeSchema, roundTrip(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "01J00000000000000000000000",
		PlayerID:        "p1",
		Codec:           protocol.CodecJSON,
		Tick:            42,
		TuningDigest:    tun.Digest(),
		Tuning:          &tun,
	}))

	validate(inputSchema, roundTrip(t, protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Seq:             7,
		Move:            [2]float64{0, 1},
		Sprint:          true,
	}))

	var drop any
	_ = json.Unmarshal([]byte(`{
	  "type":"RPC",
	  "protocol_version":"1.0",
	  "call":"ConfirmDrop",
	  "player_id":"p1",
	  "object_id":"crate_1",
	  "pose":{"pos":[1,0.27,3],"rot":[1,0,0,0]}
	}`), &drop)
	validate(rpcSchema, drop)

	validate(stateSchema, roundTrip(t, protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		Players: []protocol.PlayerState{{
			ID: "p1", Name: "ada", Pos: [3]float64{0, 0.9, 0}, JumpCount: 1, CarriedObject: "crate_1",
		}},
		Objects: []protocol.ObjectState{{
			ID: "crate_1", PickedUpBy: "p1", Pose: protocol.Pose{Rot: [4]float64{1, 0, 0, 0}},
		}},
	}))
}

func TestSchemas_RejectMalformedRPC(t *testing.T) {
	s := compileSchema(t, "rpc.schema.json")
	bad := []string{
		`{"type":"RPC","protocol_version":"1.0","call":"Teleport"}`,
		`{"type":"RPC","protocol_version":"1.0","call":"RequestPickup"}`,
		`{"type":"RPC","protocol_version":"1.0","call":"ConfirmDrop","object_id":"c","player_id":"p"}`,
	}
	for _, raw := range bad {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if err := s.Validate(v); err == nil {
			t.Fatalf("expected schema rejection for %s", raw)
		}
	}
}
