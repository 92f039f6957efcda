package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS blows (
	id           TEXT PRIMARY KEY,
	room         TEXT NOT NULL,
	actor_name   TEXT NOT NULL,
	candle_index INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS blows_room ON blows (room, created_at);

CREATE TABLE IF NOT EXISTS guestbook (
	id         TEXT PRIMARY KEY,
	room       TEXT NOT NULL,
	name       TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS guestbook_room ON guestbook (room, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room       TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room ON messages (room, created_at);
`

// SQLite stores rows in a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, util.WrapError("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, util.WrapError("open database", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // Already returning the schema error
		return nil, util.WrapError("apply schema", err)
	}
	return &SQLite{db: db}, nil
}

// InsertBlow stores ev.
func (s *SQLite) InsertBlow(ctx context.Context, ev *types.BlowEvent) error {
	if err := PrepareBlow(ev); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blows (id, room, actor_name, candle_index, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Room, ev.ActorName, ev.CandleIndex, ev.CreatedAt.UnixNano())
	if err != nil {
		return util.WrapError("insert blow", err)
	}
	return nil
}

// BlowsByRoom returns the room's blow events, newest first.
func (s *SQLite) BlowsByRoom(ctx context.Context, room string) ([]types.BlowEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, actor_name, candle_index, created_at FROM blows WHERE room = ? ORDER BY created_at DESC, rowid DESC`,
		room)
	if err != nil {
		return nil, util.WrapError("query blows", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err reports iteration errors

	events := []types.BlowEvent{}
	for rows.Next() {
		var ev types.BlowEvent
		var created int64
		if err := rows.Scan(&ev.ID, &ev.Room, &ev.ActorName, &ev.CandleIndex, &created); err != nil {
			return nil, util.WrapError("scan blow", err)
		}
		ev.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// InsertEntry stores e.
func (s *SQLite) InsertEntry(ctx context.Context, e *types.GuestbookEntry) error {
	if err := PrepareEntry(e); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO guestbook (id, room, name, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Room, e.Name, e.Message, e.CreatedAt.UnixNano())
	if err != nil {
		return util.WrapError("insert guestbook entry", err)
	}
	return nil
}

// EntriesByRoom returns the room's guestbook entries, newest first.
func (s *SQLite) EntriesByRoom(ctx context.Context, room string) ([]types.GuestbookEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, name, message, created_at FROM guestbook WHERE room = ? ORDER BY created_at DESC, rowid DESC`,
		room)
	if err != nil {
		return nil, util.WrapError("query guestbook", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err reports iteration errors

	entries := []types.GuestbookEntry{}
	for rows.Next() {
		var e types.GuestbookEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Room, &e.Name, &e.Message, &created); err != nil {
			return nil, util.WrapError("scan guestbook entry", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertMessage stores msg.
func (s *SQLite) InsertMessage(ctx context.Context, msg *types.Message) error {
	if err := PrepareMessage(msg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, room, text, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.Room, msg.Text, msg.CreatedAt.UnixNano())
	if err != nil {
		return util.WrapError("insert message", err)
	}
	return nil
}

// MessagesByRoom returns the room's board messages, newest first.
func (s *SQLite) MessagesByRoom(ctx context.Context, room string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, text, created_at FROM messages WHERE room = ? ORDER BY created_at DESC, rowid DESC`,
		room)
	if err != nil {
		return nil, util.WrapError("query messages", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err reports iteration errors

	messages := []types.Message{}
	for rows.Next() {
		var msg types.Message
		var created int64
		if err := rows.Scan(&msg.ID, &msg.Room, &msg.Text, &created); err != nil {
			return nil, util.WrapError("scan message", err)
		}
		msg.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessage removes the message with id from room.
func (s *SQLite) DeleteMessage(ctx context.Context, room, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room = ? AND id = ?`, room, id)
	if err != nil {
		return util.WrapError("delete message", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
