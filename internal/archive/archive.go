// Package archive keeps point-in-time snapshots of the message counters in
// SQLite so growth can be charted after the CSV tables have moved on.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stellarlinkco/chatcounter/internal/store"

	_ "modernc.org/sqlite"
)

type Archive struct {
	db *sql.DB
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	ID      int64
	TakenAt time.Time
	Rows    int
}

// Point is one user's totals in one snapshot.
type Point struct {
	SnapshotID int64
	TakenAt    time.Time
	Messages   uint64
	Words      uint64
	Characters uint64
}

func Open(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	a := &Archive{db: db}
	if err := a.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := a.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (a *Archive) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counter_snapshots (
			snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			messages INTEGER NOT NULL,
			words INTEGER NOT NULL,
			characters INTEGER NOT NULL,
			PRIMARY KEY (snapshot_id, user_id, guild_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_counter_snapshots_user ON counter_snapshots(user_id, guild_id)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("init archive schema: %w", err)
		}
	}
	return nil
}

func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Snapshot stores every counter under a new snapshot in one transaction.
func (a *Archive) Snapshot(ctx context.Context, counters []store.MessageCounter) (SnapshotInfo, error) {
	takenAt := time.Now().UTC()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots (taken_at) VALUES (?)`, takenAt.Format(time.RFC3339Nano))
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO counter_snapshots
		(snapshot_id, user_id, guild_id, messages, words, characters) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("prepare snapshot rows: %w", err)
	}
	defer stmt.Close()

	for _, c := range counters {
		if _, err := stmt.ExecContext(ctx, id, c.UserID, c.CommunityID,
			int64(c.Messages), int64(c.Words), int64(c.Characters)); err != nil {
			return SnapshotInfo{}, fmt.Errorf("insert snapshot row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return SnapshotInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}
	return SnapshotInfo{ID: id, TakenAt: takenAt, Rows: len(counters)}, nil
}

// Snapshots lists the newest snapshots first. limit <= 0 lists all.
func (a *Archive) Snapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `SELECT s.id, s.taken_at, COUNT(c.snapshot_id)
		FROM snapshots s LEFT JOIN counter_snapshots c ON c.snapshot_id = s.id
		GROUP BY s.id ORDER BY s.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var takenAt string
		if err := rows.Scan(&info.ID, &takenAt, &info.Rows); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.TakenAt, _ = time.Parse(time.RFC3339Nano, takenAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// History returns a user's archived totals, newest first. An empty
// communityID sums the user across every community.
func (a *Archive) History(ctx context.Context, userID, communityID string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `SELECT s.id, s.taken_at,
			SUM(c.messages), SUM(c.words), SUM(c.characters)
		FROM counter_snapshots c JOIN snapshots s ON s.id = c.snapshot_id
		WHERE c.user_id = ? AND (? = '' OR c.guild_id = ?)
		GROUP BY s.id ORDER BY s.id DESC LIMIT ?`, userID, communityID, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		var takenAt string
		var messages, words, characters int64
		if err := rows.Scan(&p.SnapshotID, &takenAt, &messages, &words, &characters); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		p.TakenAt, _ = time.Parse(time.RFC3339Nano, takenAt)
		p.Messages, p.Words, p.Characters = uint64(messages), uint64(words), uint64(characters)
		out = append(out, p)
	}
	return out, rows.Err()
}
