package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

const room = "birthday-Ann&Bo"

// backends returns a fresh instance of every file or memory backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := OpenSQLite(filepath.Join(dir, "candles.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	local, err := OpenLocal(filepath.Join(dir, "local.json"))
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	all := map[string]Store{
		BackendMemory: NewMemory(),
		BackendSQLite: sqlite,
		BackendLocal:  local,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close() //nolint:errcheck // test cleanup
		}
	})
	return all
}

func TestStoreBlows(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, actor := range []string{"Ann", "Bo", "  "} {
				ev := &types.BlowEvent{ActorName: actor, CandleIndex: i, Room: room, CreatedAt: base.Add(time.Duration(i) * time.Second)}
				if err := s.InsertBlow(ctx, ev); err != nil {
					t.Fatalf("InsertBlow() error = %v", err)
				}
				if ev.ID == "" {
					t.Error("InsertBlow() did not assign an ID")
				}
			}
			other := &types.BlowEvent{ActorName: "Cy", Room: "birthday-Cy", CreatedAt: base}
			if err := s.InsertBlow(ctx, other); err != nil {
				t.Fatalf("InsertBlow() error = %v", err)
			}

			got, err := s.BlowsByRoom(ctx, room)
			if err != nil {
				t.Fatalf("BlowsByRoom() error = %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("got %d events, want 3", len(got))
			}
			if got[0].ActorName != types.AnonymousName || got[2].ActorName != "Ann" {
				t.Errorf("order = %s, %s, %s; want newest first", got[0].ActorName, got[1].ActorName, got[2].ActorName)
			}
			if got[2].CandleIndex != 0 || !got[2].CreatedAt.Equal(base) {
				t.Errorf("oldest event = %+v", got[2])
			}

			// Re-inserting a known ID is a no-op.
			dup := got[1]
			if err := s.InsertBlow(ctx, &dup); err != nil {
				t.Fatalf("InsertBlow(duplicate) error = %v", err)
			}
			again, _ := s.BlowsByRoom(ctx, room)
			if len(again) != 3 {
				t.Errorf("duplicate insert changed count to %d", len(again))
			}

			empty, err := s.BlowsByRoom(ctx, "birthday-nobody")
			if err != nil || empty == nil || len(empty) != 0 {
				t.Errorf("BlowsByRoom(unknown) = %#v, %v; want empty slice", empty, err)
			}
		})
	}
}

func TestStoreGuestbook(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.InsertEntry(ctx, &types.GuestbookEntry{Room: room, Message: "   "}); !errors.Is(err, ErrEmptyMessage) {
				t.Errorf("InsertEntry(empty) error = %v, want ErrEmptyMessage", err)
			}
			if err := s.InsertEntry(ctx, &types.GuestbookEntry{Message: "hi"}); !errors.Is(err, ErrNoRoom) {
				t.Errorf("InsertEntry(no room) error = %v, want ErrNoRoom", err)
			}

			first := &types.GuestbookEntry{Room: room, Message: " Happy birthday! "}
			if err := s.InsertEntry(ctx, first); err != nil {
				t.Fatalf("InsertEntry() error = %v", err)
			}
			second := &types.GuestbookEntry{Room: room, Name: "Bo", Message: "Cheers", CreatedAt: first.CreatedAt.Add(time.Second)}
			if err := s.InsertEntry(ctx, second); err != nil {
				t.Fatalf("InsertEntry() error = %v", err)
			}

			got, err := s.EntriesByRoom(ctx, room)
			if err != nil {
				t.Fatalf("EntriesByRoom() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d entries, want 2", len(got))
			}
			if got[0].Name != "Bo" {
				t.Errorf("newest entry = %+v", got[0])
			}
			if got[1].Name != types.AnonymousName || got[1].Message != "Happy birthday!" {
				t.Errorf("oldest entry = %+v, want trimmed anonymous entry", got[1])
			}
		})
	}
}

func TestStoreMessages(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.InsertMessage(ctx, &types.Message{Room: room, Text: " "}); !errors.Is(err, ErrEmptyMessage) {
				t.Errorf("InsertMessage(empty) error = %v, want ErrEmptyMessage", err)
			}
			if err := s.InsertMessage(ctx, &types.Message{Text: "hi"}); !errors.Is(err, ErrNoRoom) {
				t.Errorf("InsertMessage(no room) error = %v, want ErrNoRoom", err)
			}

			first := &types.Message{Room: room, Text: " Happy birthday! "}
			if err := s.InsertMessage(ctx, first); err != nil {
				t.Fatalf("InsertMessage() error = %v", err)
			}
			second := &types.Message{Room: room, Text: "Cake!", CreatedAt: first.CreatedAt.Add(time.Second)}
			if err := s.InsertMessage(ctx, second); err != nil {
				t.Fatalf("InsertMessage() error = %v", err)
			}
			if err := s.InsertMessage(ctx, &types.Message{Room: "birthday-Cy", Text: "elsewhere"}); err != nil {
				t.Fatal(err)
			}

			got, err := s.MessagesByRoom(ctx, room)
			if err != nil {
				t.Fatalf("MessagesByRoom() error = %v", err)
			}
			if len(got) != 2 || got[0].Text != "Cake!" || got[1].Text != "Happy birthday!" {
				t.Fatalf("MessagesByRoom() = %+v, want trimmed messages newest first", got)
			}

			if err := s.DeleteMessage(ctx, "birthday-Cy", first.ID); !errors.Is(err, ErrMessageNotFound) {
				t.Errorf("DeleteMessage(other room) error = %v, want ErrMessageNotFound", err)
			}
			if err := s.DeleteMessage(ctx, room, first.ID); err != nil {
				t.Fatalf("DeleteMessage() error = %v", err)
			}
			if err := s.DeleteMessage(ctx, room, first.ID); !errors.Is(err, ErrMessageNotFound) {
				t.Errorf("DeleteMessage(twice) error = %v, want ErrMessageNotFound", err)
			}

			got, _ = s.MessagesByRoom(ctx, room)
			if len(got) != 1 || got[0].ID != second.ID {
				t.Errorf("after delete = %+v, want only %s", got, second.ID)
			}
		})
	}
}

func TestSQLitePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "candles.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s.InsertBlow(ctx, &types.BlowEvent{ActorName: "Ann", Room: room}); err != nil {
		t.Fatalf("InsertBlow() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close() //nolint:errcheck // test cleanup
	got, err := s.BlowsByRoom(ctx, room)
	if err != nil || len(got) != 1 {
		t.Errorf("after reopen: %v, %v", got, err)
	}
}

func TestLocalPersistsAndToleratesCorruption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.json")

	l, err := OpenLocal(path)
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	if err := l.InsertBlow(ctx, &types.BlowEvent{ActorName: "Ann", Room: room}); err != nil {
		t.Fatalf("InsertBlow() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, key := range []string{KeyBlows, KeyGuestbook, KeyMessages} {
		if !strings.Contains(string(data), key) {
			t.Errorf("file is missing %s: %s", key, data)
		}
	}

	l, err = OpenLocal(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got, _ := l.BlowsByRoom(ctx, room); len(got) != 1 {
		t.Errorf("after reopen got %d events, want 1", len(got))
	}

	if err := l.InsertMessage(ctx, &types.Message{Room: room, Text: "Hooray"}); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	l, err = OpenLocal(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got, _ := l.MessagesByRoom(ctx, room); len(got) != 1 || got[0].Text != "Hooray" {
		t.Errorf("after reopen messages = %+v", got)
	}

	if err := os.WriteFile(path, []byte(`{"bd_blows": "not a list", "bd_guestbook": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	l, err = OpenLocal(path)
	if err != nil {
		t.Fatalf("OpenLocal(corrupt value) error = %v", err)
	}
	if got, _ := l.BlowsByRoom(ctx, room); len(got) != 0 {
		t.Errorf("corrupt value read as %d events, want 0", len(got))
	}

	if err := os.WriteFile(path, []byte(`{{{`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLocal(path); err != nil {
		t.Errorf("OpenLocal(corrupt file) error = %v, want nil", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(Config{Backend: "postgres"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open() error = %v, want ErrUnknownBackend", err)
	}
	s, err := Open(Config{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("Open(memory) = %T", s)
	}
}

func TestS3Keys(t *testing.T) {
	s := &S3{prefix: "party/"}
	prefix := s.roomPrefix("birthday-Ann&Bo Smith", "blows")
	if prefix != "party/rooms/birthday-Ann&Bo%20Smith/blows/" {
		t.Errorf("roomPrefix() = %q", prefix)
	}

	early := objectKey(prefix, 5, "b")
	late := objectKey(prefix, 1_000_000_000_000, "a")
	if !(early < late) {
		t.Errorf("keys do not sort chronologically: %q >= %q", early, late)
	}
	if !strings.HasSuffix(early, "00000000000000000005-b.json") {
		t.Errorf("objectKey() = %q", early)
	}

	if _, err := NewS3(&S3Config{Bucket: "b"}); err == nil {
		t.Error("NewS3() without credentials succeeded")
	}
}
