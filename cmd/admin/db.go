package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	player := fs.String("player", "", "player_id filter (rpcs)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, *limit, strings.TrimSpace(*player), printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] [-player ID] snapshots|players|objects|rpcs")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q string, limit int, player string, emit func(any)) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,world_id,players,objects,carried FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Path    string `json:"path"`
				WorldID string `json:"world_id"`
				Players int    `json:"players"`
				Objects int    `json:"objects"`
				Carried int    `json:"carried"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.WorldID, &r.Players, &r.Objects, &r.Carried); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "players":
		rows, err := db.Query(`SELECT id,tick,name,x,y,z,inverted,carried_object,jump_count FROM players_state ORDER BY id`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID            string         `json:"id"`
				Tick          int64          `json:"tick"`
				Name          string         `json:"name"`
				Pos           [3]float64     `json:"pos"`
				Inverted      bool           `json:"inverted"`
				CarriedObject sql.NullString `json:"-"`
				Carried       string         `json:"carried_object,omitempty"`
				JumpCount     int64          `json:"jump_count"`
			}
			if err := rows.Scan(&r.ID, &r.Tick, &r.Name, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Inverted, &r.CarriedObject, &r.JumpCount); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Carried = r.CarriedObject.String
			emit(r)
		}
		return rows.Err()

	case "objects":
		rows, err := db.Query(`SELECT id,tick,picked_up_by,x,y,z FROM objects_state ORDER BY id`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID         string         `json:"id"`
				Tick       int64          `json:"tick"`
				PickedUp   sql.NullString `json:"-"`
				PickedUpBy string         `json:"picked_up_by,omitempty"`
				Pos        [3]float64     `json:"pos"`
			}
			if err := rows.Scan(&r.ID, &r.Tick, &r.PickedUp, &r.Pos[0], &r.Pos[1], &r.Pos[2]); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.PickedUpBy = r.PickedUp.String
			emit(r)
		}
		return rows.Err()

	case "rpcs":
		query := `SELECT tick,seq,player_id,call,object_id FROM rpcs ORDER BY tick DESC, seq DESC LIMIT ?`
		args := []any{limit}
		if player != "" {
			query = `SELECT tick,seq,player_id,call,object_id FROM rpcs WHERE player_id=? ORDER BY tick DESC, seq DESC LIMIT ?`
			args = []any{player, limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64          `json:"tick"`
				Seq      int64          `json:"seq"`
				PlayerID string         `json:"player_id"`
				Call     string         `json:"call"`
				Obj      sql.NullString `json:"-"`
				ObjectID string         `json:"object_id,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.PlayerID, &r.Call, &r.Obj); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.ObjectID = r.Obj.String
			emit(r)
		}
		return rows.Err()
	}
	return fmt.Errorf("unknown query: %s", q)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
