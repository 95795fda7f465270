package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stellarlinkco/chatcounter/internal/ident"
)

const SessionFile = "sessions.csv"

// datetime_now holds local ISO 8601 timestamps with microseconds, omitting
// the fraction when it is zero. Rows with a space separator are read too.
const (
	sessionTimeLayout     = "2006-01-02T15:04:05"
	sessionTimeLayoutFrac = "2006-01-02T15:04:05.000000"
	sessionTimeLayoutAlt  = "2006-01-02 15:04:05"
)

func formatSessionTime(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format(sessionTimeLayout)
	}
	return t.Format(sessionTimeLayoutFrac)
}

// parseSessionTime accepts an optional fractional second after either layout.
func parseSessionTime(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(sessionTimeLayout, raw, time.Local)
	if err == nil {
		return t, nil
	}
	if alt, altErr := time.ParseInLocation(sessionTimeLayoutAlt, raw, time.Local); altErr == nil {
		return alt, nil
	}
	return time.Time{}, err
}

// Session records one process start.
type Session struct {
	RowID     uint64
	SessionID string
	StartedAt time.Time
}

func (r *Session) Key() string { return r.SessionID }

var sessionCodec = codec[string, Session]{
	header: []string{"id", "session_id", "datetime_now"},
	encode: func(r *Session) []string {
		return []string{formatUint(r.RowID), r.SessionID, formatSessionTime(r.StartedAt)}
	},
	decode: func(row csvRow) (Session, error) {
		var r Session
		var err error
		if r.RowID, err = row.uint("id"); err != nil {
			return r, err
		}
		if r.SessionID, err = row.nonEmpty("session_id"); err != nil {
			return r, err
		}
		raw, err := row.nonEmpty("datetime_now")
		if err != nil {
			return r, err
		}
		if r.StartedAt, err = parseSessionTime(raw); err != nil {
			return r, fmt.Errorf("column %q: %w", "datetime_now", err)
		}
		return r, nil
	},
	key:   (*Session).Key,
	rowID: func(r *Session) uint64 { return r.RowID },
}

// SessionLog is the append-only sessions.csv table. Each gateway start adds
// one row with a fresh short id.
type SessionLog struct {
	mu    sync.Mutex
	table *table[string, Session]
}

// OpenSessionLog loads the session table, creating it when missing.
func OpenSessionLog(path string, logger *slog.Logger) (*SessionLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := newTable(path, sessionCodec)
	stats, err := t.load()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, rowErr := range stats.Skipped {
		logger.Warn("store: skipped row", "path", rowErr.Path, "line", rowErr.Line, "error", rowErr.Err)
	}
	return &SessionLog{table: t}, nil
}

// Begin records a new session started at now and persists the table.
func (l *SessionLog) Begin(now time.Time) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := &Session{
		RowID: l.table.ids.Next(),
		SessionID: ident.UniqueShortID(func(id string) bool {
			_, ok := l.table.rows[id]
			return ok
		}),
		StartedAt: now.Local().Truncate(time.Microsecond),
	}
	l.table.rows[rec.SessionID] = rec
	if err := l.table.flush(); err != nil {
		return *rec, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return *rec, nil
}

// Sessions returns every recorded session, oldest first.
func (l *SessionLog) Sessions() []Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table.snapshot()
}
