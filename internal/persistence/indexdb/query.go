package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"upend.gg/internal/sim/world"
)

// Audits returns up to limit audit entries, newest first. An empty actor matches everyone.
func (s *SQLiteIndex) Audits(ctx context.Context, actor string, limit int) ([]world.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT raw_json FROM audits ORDER BY tick DESC, seq DESC LIMIT ?`
	args := []any{limit}
	if actor != "" {
		q = `SELECT raw_json FROM audits WHERE actor = ? ORDER BY tick DESC, seq DESC LIMIT ?`
		args = []any{actor, limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []world.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e world.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TickDigest returns the recorded digest for tick, or "" if it was never indexed.
func (s *SQLiteIndex) TickDigest(ctx context.Context, tick uint64) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM ticks WHERE tick = ?`, int64(tick)).Scan(&d)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return d, nil
}

// LatestSnapshot returns the newest indexed snapshot's tick and path.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (tick uint64, path string, ok bool, err error) {
	var t int64
	err = s.db.QueryRowContext(ctx, `SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&t, &path)
	if err != nil {
		if isNoRows(err) {
			return 0, "", false, nil
		}
		return 0, "", false, err
	}
	return uint64(t), path, true, nil
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
