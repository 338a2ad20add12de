package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"upend.gg/internal/observerproto"
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/tuning"
	"upend.gg/internal/sim/world"
)

func startObserver(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "obs", Tuning: tuning.Defaults()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	s := NewServer(w, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return w, srv
}

func TestBootstrap(t *testing.T) {
	w, srv := startObserver(t)
	resp, err := http.Get(srv.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.WorldID != "obs" || b.ProtocolVersion != observerproto.Version {
		t.Fatalf("unexpected bootstrap: %+v", b)
	}
	tu := w.Tuning()
	if b.TuningDigest != tu.Digest() {
		t.Fatalf("tuning digest mismatch")
	}
}

func TestSubscribeStreamsState(t *testing.T) {
	_, srv := startObserver(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		RateHz:          20,
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var st protocol.StateMsg
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read: %v", err)
	}
	if st.Type != protocol.TypeState {
		t.Fatalf("expected STATE, got %q", st.Type)
	}
	if len(st.Objects) != len(tuning.Defaults().Level.Objects) {
		t.Fatalf("objects: got %d", len(st.Objects))
	}
}

func TestFocus(t *testing.T) {
	st := protocol.StateMsg{
		Players: []protocol.PlayerState{{ID: "P000001"}, {ID: "P000002"}},
		Objects: []protocol.ObjectState{{ID: "crate_1", PickedUpBy: "P000002"}, {ID: "crate_2"}},
	}
	got := observerproto.Focus(st, "P000002")
	if len(got.Players) != 1 || got.Players[0].ID != "P000002" {
		t.Fatalf("players: %+v", got.Players)
	}
	if len(got.Objects) != 1 || got.Objects[0].ID != "crate_1" {
		t.Fatalf("objects: %+v", got.Objects)
	}
	if all := observerproto.Focus(st, ""); len(all.Players) != 2 || len(all.Objects) != 2 {
		t.Fatalf("empty focus should keep everything")
	}
}
