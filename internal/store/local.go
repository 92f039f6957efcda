package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// Keys of the local key-value file.
const (
	KeyBlows     = "bd_blows"
	KeyGuestbook = "bd_guestbook"
	KeyMessages  = "bd_messages"
)

// Local keeps rows of every room in a single JSON key-value file on this
// device. The file is read once on open and rewritten on every change. A
// missing or corrupt value reads as an empty list.
type Local struct {
	mu       sync.Mutex
	path     string
	blows    []types.BlowEvent // newest first
	entries  []types.GuestbookEntry
	messages []types.Message
}

// OpenLocal loads the key-value file at path.
func OpenLocal(path string) (*Local, error) {
	if path == "" {
		return nil, fmt.Errorf("local store path is required")
	}
	l := &Local{path: path}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, util.WrapError("read local store", err)
	}
	if len(data) == 0 {
		return l, nil
	}

	var kv map[string]json.RawMessage
	if err := json.Unmarshal(data, &kv); err != nil {
		slog.Warn("local store is corrupt, starting empty", "path", path, "error", err)
		return l, nil
	}
	if err := json.Unmarshal(kv[KeyBlows], &l.blows); err != nil && kv[KeyBlows] != nil {
		slog.Warn("local blows are corrupt, starting empty", "path", path, "error", err)
		l.blows = nil
	}
	if err := json.Unmarshal(kv[KeyGuestbook], &l.entries); err != nil && kv[KeyGuestbook] != nil {
		slog.Warn("local guestbook is corrupt, starting empty", "path", path, "error", err)
		l.entries = nil
	}
	if err := json.Unmarshal(kv[KeyMessages], &l.messages); err != nil && kv[KeyMessages] != nil {
		slog.Warn("local messages are corrupt, starting empty", "path", path, "error", err)
		l.messages = nil
	}
	return l, nil
}

// InsertBlow prepends ev and writes the file.
func (l *Local) InsertBlow(_ context.Context, ev *types.BlowEvent) error {
	if err := PrepareBlow(ev); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.blows {
		if l.blows[i].ID == ev.ID {
			return nil
		}
	}
	l.blows = append([]types.BlowEvent{*ev}, l.blows...)
	return l.saveLocked()
}

// BlowsByRoom returns the room's blow events, newest first.
func (l *Local) BlowsByRoom(_ context.Context, room string) ([]types.BlowEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []types.BlowEvent{}
	for _, ev := range l.blows {
		if ev.Room == room {
			out = append(out, ev)
		}
	}
	return out, nil
}

// InsertEntry prepends e and writes the file.
func (l *Local) InsertEntry(_ context.Context, e *types.GuestbookEntry) error {
	if err := PrepareEntry(e); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == e.ID {
			return nil
		}
	}
	l.entries = append([]types.GuestbookEntry{*e}, l.entries...)
	return l.saveLocked()
}

// EntriesByRoom returns the room's guestbook entries, newest first.
func (l *Local) EntriesByRoom(_ context.Context, room string) ([]types.GuestbookEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []types.GuestbookEntry{}
	for _, e := range l.entries {
		if e.Room == room {
			out = append(out, e)
		}
	}
	return out, nil
}

// InsertMessage prepends msg and writes the file.
func (l *Local) InsertMessage(_ context.Context, msg *types.Message) error {
	if err := PrepareMessage(msg); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == msg.ID {
			return nil
		}
	}
	l.messages = append([]types.Message{*msg}, l.messages...)
	return l.saveLocked()
}

// MessagesByRoom returns the room's board messages, newest first.
func (l *Local) MessagesByRoom(_ context.Context, room string) ([]types.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []types.Message{}
	for _, msg := range l.messages {
		if msg.Room == room {
			out = append(out, msg)
		}
	}
	return out, nil
}

// DeleteMessage removes the message with id from room and writes the file.
func (l *Local) DeleteMessage(_ context.Context, room, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.IndexFunc(l.messages, func(msg types.Message) bool { return msg.Room == room && msg.ID == id })
	if i < 0 {
		return ErrMessageNotFound
	}
	l.messages = slices.Delete(l.messages, i, i+1)
	return l.saveLocked()
}

// Close is a no-op; every change is already on disk.
func (l *Local) Close() error {
	return nil
}

// saveLocked writes the file atomically. Caller must hold l.mu.
func (l *Local) saveLocked() error {
	kv := map[string]any{
		KeyBlows:     l.blows,
		KeyGuestbook: l.entries,
		KeyMessages:  l.messages,
	}
	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return util.WrapError("encode local store", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return util.WrapError("create local store directory", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return util.WrapError("write local store", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return util.WrapError("replace local store", err)
	}
	return nil
}
