package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"upend.gg/internal/persistence/indexdb"
	"upend.gg/internal/persistence/snapshot"
	"upend.gg/internal/sim/tuning"
	"upend.gg/internal/sim/world"
)

func testApp(t *testing.T, withIndex bool) (*app, *httptest.Server) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "world_1", Tuning: tuning.Defaults()})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	a := &app{worldID: "world_1", world: w, logger: log.New(io.Discard, "", 0)}
	if withIndex {
		idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		a.idx = idx
		w.SetAuditLogger(idx)
		t.Cleanup(func() { _ = idx.Close() })
	}
	srv := httptest.NewServer(a.routes(routeOptions{EnableAdmin: true}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return a, srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestHealthzAndMetrics(t *testing.T) {
	_, srv := testApp(t, true)

	if code, body := get(t, srv.URL+"/healthz"); code != 200 || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	code, body := get(t, srv.URL+"/metrics")
	if code != 200 {
		t.Fatalf("metrics: %d", code)
	}
	for _, want := range []string{
		`upend_world_tick{world="world_1"}`,
		`upend_world_players{world="world_1"} 0`,
		`upend_world_events_total{world="world_1",event="pickup"} 0`,
		`upend_index_queue_capacity`,
		`upend_index_dropped_total{kind="audit"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestAdminState(t *testing.T) {
	_, srv := testApp(t, false)
	code, body := get(t, srv.URL+"/admin/v1/state")
	if code != 200 {
		t.Fatalf("state: %d %s", code, body)
	}
	var resp struct {
		WorldID string `json:"world_id"`
		State   struct {
			Type    string            `json:"type"`
			Objects []json.RawMessage `json:"objects"`
		} `json:"state"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "world_1" || resp.State.Type != "STATE" {
		t.Fatalf("unexpected state: %+v", resp)
	}
	if len(resp.State.Objects) != len(tuning.Defaults().Level.Objects) {
		t.Fatalf("objects: %d", len(resp.State.Objects))
	}
}

func TestAdminSnapshotRequiresPost(t *testing.T) {
	_, srv := testApp(t, false)
	if code, _ := get(t, srv.URL+"/admin/v1/snapshot"); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot: %d", code)
	}
}

func TestAuditsWithoutIndex(t *testing.T) {
	_, srv := testApp(t, false)
	if code, _ := get(t, srv.URL+"/admin/v1/audits"); code != http.StatusNotFound {
		t.Fatalf("audits without index: %d", code)
	}
}

func TestAuditsFromIndex(t *testing.T) {
	a, srv := testApp(t, true)
	if err := a.idx.WriteAudit(world.AuditEntry{Tick: 5, Actor: "P000001", Action: "PICKUP", Object: "crate_1"}); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	if err := a.idx.(*indexdb.SQLiteIndex).Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if code, _ := get(t, srv.URL+"/admin/v1/audits?limit=zero"); code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", code)
	}
	code, body := get(t, srv.URL+"/admin/v1/audits?actor=P000001")
	if code != 200 {
		t.Fatalf("audits: %d %s", code, body)
	}
	var resp struct {
		Audits []world.AuditEntry `json:"audits"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Audits) != 1 || resp.Audits[0].Action != "PICKUP" {
		t.Fatalf("audits: %+v", resp.Audits)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"10.0.0.2:5000":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestLatestSnapshotAndResume(t *testing.T) {
	worldDir := t.TempDir()
	if latestSnapshot(worldDir) != "" {
		t.Fatalf("expected no snapshot in empty dir")
	}

	tu := tuning.Defaults()
	w, err := world.New(world.WorldConfig{ID: "world_1", Tuning: tu})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.StepOnce([]world.JoinRequest{{Name: "ada"}}, nil, nil)
	for i := 0; i < 9; i++ {
		w.StepOnce(nil, nil, nil)
	}
	dir := filepath.Join(worldDir, "snapshots")
	for _, tick := range []uint64{3, 9} {
		if err := snapshot.WriteSnapshot(filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick)), w.ExportSnapshot(tick)); err != nil {
			t.Fatalf("WriteSnapshot: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	best := latestSnapshot(worldDir)
	if filepath.Base(best) != "9.snap.zst" {
		t.Fatalf("latest: %q", best)
	}

	logger := log.New(io.Discard, "", 0)
	other := tu
	other.Movement.MoveSpeed = 9
	resumed, err := openWorld("world_1", other, best, logger)
	if err != nil {
		t.Fatalf("openWorld: %v", err)
	}
	if resumed.CurrentTick() != 10 {
		t.Fatalf("resumed tick: %d", resumed.CurrentTick())
	}
	if resumed.Tuning().Digest() != tu.Digest() {
		t.Fatalf("resumed world should keep the snapshot's tuning")
	}
	resumed.StepOnce(nil, nil, nil)
	if n := resumed.Metrics().Players; n != 0 {
		t.Fatalf("restored players should leave on the first tick, players=%d", n)
	}
	if _, err := openWorld("world_2", tu, best, logger); err == nil {
		t.Fatalf("expected world id mismatch error")
	}
}
