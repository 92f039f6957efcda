// Package store provides the row stores that hold blow events, guestbook
// entries and message board notes, and a realtime hub that notifies
// subscribers of changes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendMemory = "memory"
	BackendLocal  = "local"
)

var (
	// ErrNoRoom is returned when a row has no room.
	ErrNoRoom = errors.New("room is required")
	// ErrEmptyMessage is returned for a guestbook entry or board message
	// without text.
	ErrEmptyMessage = errors.New("message is required")
	// ErrMessageNotFound is returned when deleting a board message that does
	// not exist in the room.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Store is a row store. Blows and guestbook entries are append-only; board
// messages can also be deleted. Listings are newest first. Inserting a row
// whose ID already exists is a no-op.
type Store interface {
	InsertBlow(ctx context.Context, ev *types.BlowEvent) error
	BlowsByRoom(ctx context.Context, room string) ([]types.BlowEvent, error)
	InsertEntry(ctx context.Context, e *types.GuestbookEntry) error
	EntriesByRoom(ctx context.Context, room string) ([]types.GuestbookEntry, error)
	InsertMessage(ctx context.Context, msg *types.Message) error
	MessagesByRoom(ctx context.Context, room string) ([]types.Message, error)
	DeleteMessage(ctx context.Context, room, id string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string
	SQLitePath string
	LocalPath  string
	S3         S3Config
}

// Open creates the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return OpenSQLite(cfg.SQLitePath)
	case BackendS3:
		return NewS3(&cfg.S3)
	case BackendMemory:
		return NewMemory(), nil
	case BackendLocal:
		return OpenLocal(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// PrepareBlow validates ev and fills in the ID, creation time and actor name
// when they are missing.
func PrepareBlow(ev *types.BlowEvent) error {
	if ev.Room == "" {
		return ErrNoRoom
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.ActorName = strings.TrimSpace(ev.ActorName)
	if ev.ActorName == "" {
		ev.ActorName = types.AnonymousName
	}
	return nil
}

// PrepareEntry validates e and fills in the ID, creation time and author name
// when they are missing.
func PrepareEntry(e *types.GuestbookEntry) error {
	if e.Room == "" {
		return ErrNoRoom
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		return ErrEmptyMessage
	}
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		e.Name = types.AnonymousName
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return nil
}

// PrepareMessage validates msg and fills in the ID and creation time when
// they are missing.
func PrepareMessage(msg *types.Message) error {
	if msg.Room == "" {
		return ErrNoRoom
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return nil
}
