package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"upend.gg/internal/observerproto"
	"upend.gg/internal/protocol"
	"upend.gg/internal/sim/world"
)

// stateResponse mirrors the body of GET /admin/v1/state.
type stateResponse struct {
	WorldID string             `json:"world_id"`
	Tick    uint64             `json:"tick"`
	Metrics world.WorldMetrics `json:"metrics"`
	State   protocol.StateMsg  `json:"state"`
}

type snapshotResponse struct {
	OK    bool   `json:"ok"`
	Tick  uint64 `json:"tick"`
	Error string `json:"error,omitempty"`
}

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func fetchState(cl *http.Client, base string) (stateResponse, error) {
	var out stateResponse
	resp, err := cl.Get(adminURL(base, "/admin/v1/state"))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return out, fmt.Errorf("state: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}

func requestSnapshot(cl *http.Client, base string) (snapshotResponse, error) {
	var out snapshotResponse
	req, err := http.NewRequest(http.MethodPost, adminURL(base, "/admin/v1/snapshot"), nil)
	if err != nil {
		return out, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("snapshot: %s: %w", resp.Status, err)
	}
	if !out.OK {
		return out, fmt.Errorf("snapshot: %s", out.Error)
	}
	return out, nil
}

// writeStateSummary prints one line per player and object. With player set, only that player
// and what it carries are shown.
func writeStateSummary(w io.Writer, r stateResponse, player string) {
	st := observerproto.Focus(r.State, player)
	fmt.Fprintf(w, "world=%s tick=%d players=%d clients=%d carried=%d/%d inverted=%d\n",
		r.WorldID, st.Tick, r.Metrics.Players, r.Metrics.Clients, r.Metrics.Carried, r.Metrics.Objects, r.Metrics.Inverted)

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tNAME\tGRAVITY\tCARRYING\tPOS\tJUMPS\tSEQ")
	for _, p := range st.Players {
		grav := "down"
		if p.Inverted {
			grav = "up"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", p.ID, p.Name, grav, orDash(p.CarriedObject), fmtPos(p.Pos), p.JumpCount, p.LastInputSeq)
	}
	tw.Flush()

	if len(st.Objects) == 0 {
		return
	}
	fmt.Fprintln(tw, "OBJECT\tHELD BY\tPOS\tTELEPORTS")
	for _, o := range st.Objects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", o.ID, orDash(o.PickedUpBy), fmtPos(o.Pose.Pos), o.TeleportSeq)
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtPos(p [3]float64) string {
	return fmt.Sprintf("%.2f,%.2f,%.2f", p[0], p[1], p[2])
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	player := fs.String("player", "", "only show this player and what it carries")
	raw := fs.Bool("json", false, "print the raw STATE as JSON")
	_ = fs.Parse(args)

	cl := &http.Client{Timeout: 5 * time.Second}
	r, err := fetchState(cl, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *raw {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(observerproto.Focus(r.State, *player))
		return
	}
	writeStateSummary(os.Stdout, r, *player)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	cl := &http.Client{Timeout: 10 * time.Second}
	r, err := requestSnapshot(cl, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("snapshot queued tick=%d\n", r.Tick)
}
