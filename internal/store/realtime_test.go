package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

func receive[T any](t *testing.T, ch <-chan T) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		var zero T
		return zero, false
	}
}

func TestRealtimeDeliversRoomInserts(t *testing.T) {
	hub := NewRealtime(NewMemory())
	defer hub.Close() //nolint:errcheck // test cleanup
	ctx := t.Context()

	changes, err := hub.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := hub.InsertBlow(ctx, &types.BlowEvent{ActorName: "Cy", Room: "birthday-Cy"}); err != nil {
		t.Fatal(err)
	}
	if err := hub.InsertBlow(ctx, &types.BlowEvent{ActorName: "Ann", Room: room}); err != nil {
		t.Fatal(err)
	}
	if err := hub.InsertEntry(ctx, &types.GuestbookEntry{Room: room, Message: "Hooray"}); err != nil {
		t.Fatal(err)
	}

	c, _ := receive(t, changes)
	if c.Type != types.ChangeBlow || c.Blow == nil || c.Blow.ActorName != "Ann" {
		t.Errorf("first change = %+v, want Ann's blow", c)
	}
	c, _ = receive(t, changes)
	if c.Type != types.ChangeGuestbook || c.Entry == nil || c.Entry.Name != types.AnonymousName {
		t.Errorf("second change = %+v, want anonymous guestbook entry", c)
	}
}

func TestRealtimeDeliversMessageBoard(t *testing.T) {
	hub := NewRealtime(NewMemory())
	defer hub.Close() //nolint:errcheck // test cleanup
	ctx := t.Context()

	changes, err := hub.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := &types.Message{Room: room, Text: "Party time"}
	if err := hub.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := hub.DeleteMessage(ctx, room, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("DeleteMessage(missing) error = %v", err)
	}
	if err := hub.DeleteMessage(ctx, room, msg.ID); err != nil {
		t.Fatal(err)
	}

	c, _ := receive(t, changes)
	if c.Type != types.ChangeMessage || c.Message == nil || c.Message.Text != "Party time" {
		t.Errorf("first change = %+v, want posted message", c)
	}
	c, _ = receive(t, changes)
	if c.Type != types.ChangeMessageDeleted || c.Message == nil || c.Message.ID != msg.ID {
		t.Errorf("second change = %+v, want removal of %s", c, msg.ID)
	}
}

func TestRealtimeFailedInsertIsNotPublished(t *testing.T) {
	hub := NewRealtime(NewMemory())
	defer hub.Close() //nolint:errcheck // test cleanup

	changes, err := hub.Subscribe(t.Context(), room)
	if err != nil {
		t.Fatal(err)
	}
	if err := hub.InsertEntry(context.Background(), &types.GuestbookEntry{Room: room}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("InsertEntry() error = %v", err)
	}
	select {
	case c := <-changes:
		t.Errorf("unexpected change %+v", c)
	default:
	}
}

func TestRealtimeSubscribeBlows(t *testing.T) {
	hub := NewRealtime(NewMemory())
	defer hub.Close() //nolint:errcheck // test cleanup
	ctx, cancel := context.WithCancel(context.Background())

	blows, err := hub.SubscribeBlows(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	if err := hub.InsertEntry(ctx, &types.GuestbookEntry{Room: room, Message: "skip me"}); err != nil {
		t.Fatal(err)
	}
	if err := hub.InsertBlow(ctx, &types.BlowEvent{ID: "b1", ActorName: "Ann", Room: room}); err != nil {
		t.Fatal(err)
	}

	ev, ok := receive(t, blows)
	if !ok || ev.ID != "b1" {
		t.Errorf("got %+v, %v; want b1", ev, ok)
	}

	cancel()
	if _, ok := receive(t, blows); ok {
		t.Error("channel still open after cancel")
	}
}

func TestRealtimeUnsubscribeAndClose(t *testing.T) {
	hub := NewRealtime(NewMemory())
	ctx, cancel := context.WithCancel(context.Background())

	changes, err := hub.Subscribe(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, ok := receive(t, changes); ok {
		t.Error("channel still open after cancel")
	}
	if n := hub.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}

	other, err := hub.Subscribe(context.Background(), room)
	if err != nil {
		t.Fatal(err)
	}
	if err := hub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := receive(t, other); ok {
		t.Error("channel still open after Close")
	}
	if _, err := hub.Subscribe(context.Background(), room); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrHubClosed", err)
	}
}

func TestRealtimeDisconnectsSlowSubscriber(t *testing.T) {
	hub := NewRealtime(NewMemory())
	defer hub.Close() //nolint:errcheck // test cleanup

	changes, err := hub.Subscribe(t.Context(), room)
	if err != nil {
		t.Fatal(err)
	}
	for range subscriberBuffer + 1 {
		if err := hub.InsertBlow(context.Background(), &types.BlowEvent{Room: room}); err != nil {
			t.Fatal(err)
		}
	}

	n := 0
	for range changes {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("received %d changes before disconnect, want %d", n, subscriberBuffer)
	}
}
