package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "upend.gg/internal/persistence/log"
	"upend.gg/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// auditCmd prints audit entries straight from the compressed logs, so it works with the index
// disabled.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	var f auditFilter
	fs.StringVar(&f.Actor, "actor", "", "player id filter")
	fs.StringVar(&f.Action, "action", "", "action filter, e.g. PICKUP, DROP, GRAVITY")
	fs.StringVar(&f.Object, "object", "", "object id filter")
	fs.Uint64Var(&f.SinceTick, "since_tick", 0, "first tick (inclusive)")
	fs.Uint64Var(&f.ToTick, "to_tick", 0, "last tick (inclusive, optional)")
	rejected := fs.Bool("rejected", false, "only rejected requests")
	_ = fs.Parse(args)
	f.OnlyRejected = *rejected

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	dir := filepath.Join(*dataDir, "worlds", *worldID, "audit")
	files, err := persistlog.ListFiles(dir, "audit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit files:", err)
		os.Exit(1)
	}
	n := 0
	for _, path := range files {
		err := persistlog.ReadAudits(path, func(e world.AuditEntry) error {
			if f.match(e) {
				printJSON(e)
				n++
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read audit:", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "%d entries\n", n)
}

type auditFilter struct {
	Actor        string
	Action       string
	Object       string
	SinceTick    uint64
	ToTick       uint64
	OnlyRejected bool
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if e.Tick < f.SinceTick || (f.ToTick != 0 && e.Tick > f.ToTick) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && !strings.EqualFold(e.Action, f.Action) {
		return false
	}
	if f.Object != "" && e.Object != f.Object {
		return false
	}
	if f.OnlyRejected && e.Reason == "" {
		return false
	}
	return true
}
