package store

import (
	"context"
	"slices"
	"sync"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// Memory keeps rows in process memory. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	blows    []types.BlowEvent // insertion order
	entries  []types.GuestbookEntry
	messages []types.Message
	ids      map[string]struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

// InsertBlow appends ev.
func (m *Memory) InsertBlow(_ context.Context, ev *types.BlowEvent) error {
	if err := PrepareBlow(ev); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[ev.ID]; ok {
		return nil
	}
	m.ids[ev.ID] = struct{}{}
	m.blows = append(m.blows, *ev)
	return nil
}

// BlowsByRoom returns the room's blow events, newest first.
func (m *Memory) BlowsByRoom(_ context.Context, room string) ([]types.BlowEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.blows, func(ev types.BlowEvent) bool { return ev.Room == room }), nil
}

// InsertEntry appends e.
func (m *Memory) InsertEntry(_ context.Context, e *types.GuestbookEntry) error {
	if err := PrepareEntry(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[e.ID]; ok {
		return nil
	}
	m.ids[e.ID] = struct{}{}
	m.entries = append(m.entries, *e)
	return nil
}

// EntriesByRoom returns the room's guestbook entries, newest first.
func (m *Memory) EntriesByRoom(_ context.Context, room string) ([]types.GuestbookEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.entries, func(e types.GuestbookEntry) bool { return e.Room == room }), nil
}

// InsertMessage appends msg.
func (m *Memory) InsertMessage(_ context.Context, msg *types.Message) error {
	if err := PrepareMessage(msg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[msg.ID]; ok {
		return nil
	}
	m.ids[msg.ID] = struct{}{}
	m.messages = append(m.messages, *msg)
	return nil
}

// MessagesByRoom returns the room's board messages, newest first.
func (m *Memory) MessagesByRoom(_ context.Context, room string) ([]types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.messages, func(msg types.Message) bool { return msg.Room == room }), nil
}

// DeleteMessage removes the message with id from room.
func (m *Memory) DeleteMessage(_ context.Context, room, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.messages, func(msg types.Message) bool { return msg.Room == room && msg.ID == id })
	if i < 0 {
		return ErrMessageNotFound
	}
	m.messages = slices.Delete(m.messages, i, i+1)
	delete(m.ids, id)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// newestFirst returns the rows of an insertion-ordered slice that match keep,
// most recent first. The result is never nil.
func newestFirst[T any](rows []T, keep func(T) bool) []T {
	out := make([]T, 0, len(rows))
	for _, r := range slices.Backward(rows) {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
