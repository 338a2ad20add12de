package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/world"
	"upend.gg/internal/transport/observer"
	"upend.gg/internal/transport/ws"
)

type routeOptions struct {
	EnableAdmin bool
	EnablePprof bool
}

type app struct {
	worldID string
	world   *world.World
	idx     runtimeIndex
	logger  *log.Logger
}

func (a *app) routes(opts routeOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if opts.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", loopbackOnly(a.handleState))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(a.handleSnapshot))
		mux.HandleFunc("/admin/v1/audits", loopbackOnly(a.handleAudits))

		obsSrv := observer.NewServer(a.world, a.logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		a.logger.Printf("admin endpoints disabled (UPEND_ENABLE_ADMIN_HTTP=false)")
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		a.logger.Printf("pprof endpoints disabled (UPEND_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(a.world, a.logger).Handler())
	return mux
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := a.world.Metrics()
	tick := a.world.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}
	id := a.worldID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP upend_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_tick gauge\n")
	fmt.Fprintf(rw, "upend_world_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(rw, "# HELP upend_world_players Current number of players in the world.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_players gauge\n")
	fmt.Fprintf(rw, "upend_world_players{world=%q} %d\n", id, m.Players)

	fmt.Fprintf(rw, "# HELP upend_world_clients Current number of connected clients.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_clients gauge\n")
	fmt.Fprintf(rw, "upend_world_clients{world=%q} %d\n", id, m.Clients)

	fmt.Fprintf(rw, "# HELP upend_world_objects Carriable objects by state.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_objects gauge\n")
	fmt.Fprintf(rw, "upend_world_objects{world=%q,state=%q} %d\n", id, "carried", m.Carried)
	fmt.Fprintf(rw, "upend_world_objects{world=%q,state=%q} %d\n", id, "free", m.Objects-m.Carried)

	fmt.Fprintf(rw, "# HELP upend_world_inverted_players Players walking on the ceiling.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_inverted_players gauge\n")
	fmt.Fprintf(rw, "upend_world_inverted_players{world=%q} %d\n", id, m.Inverted)

	fmt.Fprintf(rw, "# HELP upend_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "upend_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "upend_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "upend_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP upend_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_step_ms gauge\n")
	fmt.Fprintf(rw, "upend_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	fmt.Fprintf(rw, "# HELP upend_world_events_total World events since process start.\n")
	fmt.Fprintf(rw, "# TYPE upend_world_events_total counter\n")
	for _, c := range []struct {
		name string
		v    uint64
	}{
		{"pickup", m.Totals.Pickups},
		{"drop", m.Totals.Drops},
		{"flip", m.Totals.Flips},
		{"rejection", m.Totals.Rejections},
		{"kick", m.Totals.Kicks},
		{"correction", m.Totals.Corrections},
		{"snapshot_drop", m.Totals.SnapshotDrops},
		{"encode_error", m.Totals.EncodeErrors},
	} {
		fmt.Fprintf(rw, "upend_world_events_total{world=%q,event=%q} %d\n", id, c.name, c.v)
	}

	if a.idx == nil {
		return
	}
	s := a.idx.Stats()
	fmt.Fprintf(rw, "# HELP upend_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE upend_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "upend_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP upend_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE upend_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "upend_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP upend_index_dropped_total Rows dropped because the index queue was full.\n")
	fmt.Fprintf(rw, "# TYPE upend_index_dropped_total counter\n")
	fmt.Fprintf(rw, "upend_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "upend_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
	fmt.Fprintf(rw, "upend_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(rw, "upend_index_dropped_total{kind=%q} %d\n", "snapshot_state", s.DropSnapshotStateTotal)
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.world.RequestState(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	resp := struct {
		WorldID string             `json:"world_id"`
		Tick    uint64             `json:"tick"`
		Metrics world.WorldMetrics `json:"metrics"`
		State   protocol.StateMsg  `json:"state"`
	}{
		WorldID: a.worldID,
		Tick:    a.world.CurrentTick(),
		Metrics: a.world.Metrics(),
		State:   st,
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (a *app) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := a.world.RequestSnapshot(ctx)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
}

// handleAudits lists recent audit entries from the index, optionally for one actor.
func (a *app) handleAudits(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		http.Error(rw, "index disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}
	entries, err := a.idx.Audits(r.Context(), r.URL.Query().Get("actor"), limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"audits": entries})
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
