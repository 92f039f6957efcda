package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/server"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// newRoomServer serves the room endpoints of a candle server over a memory store.
func newRoomServer(t *testing.T) (*Client, *store.Realtime) {
	t.Helper()
	rows := store.NewRealtime(store.NewMemory())
	t.Cleanup(func() { _ = rows.Close() })

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rooms/{room}/blows", func(w http.ResponseWriter, r *http.Request) {
		events, _ := rows.BlowsByRoom(r.Context(), r.PathValue("room"))
		writeJSON(w, http.StatusOK, events)
	})
	mux.HandleFunc("POST /api/rooms/{room}/blows", func(w http.ResponseWriter, r *http.Request) {
		var ev types.BlowEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		ev.Room = r.PathValue("room")
		if err := rows.InsertBlow(r.Context(), &ev); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	})
	mux.HandleFunc("POST /api/rooms/{room}/guestbook", func(w http.ResponseWriter, r *http.Request) {
		var e types.GuestbookEntry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		e.Room = r.PathValue("room")
		if err := rows.InsertEntry(r.Context(), &e); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, e)
	})
	mux.HandleFunc("GET /api/rooms/{room}/messages", func(w http.ResponseWriter, r *http.Request) {
		messages, _ := rows.MessagesByRoom(r.Context(), r.PathValue("room"))
		writeJSON(w, http.StatusOK, messages)
	})
	mux.HandleFunc("POST /api/rooms/{room}/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg types.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		msg.Room = r.PathValue("room")
		if err := rows.InsertMessage(r.Context(), &msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	})
	mux.HandleFunc("DELETE /api/rooms/{room}/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := rows.DeleteMessage(r.Context(), r.PathValue("room"), r.PathValue("id")); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/rooms/{room}/subscribe", func(w http.ResponseWriter, r *http.Request) {
		changes, err := rows.Subscribe(r.Context(), r.PathValue("room"))
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		conn, err := server.UpgradeConnection(w, r)
		if err != nil {
			return
		}
		server.StreamChanges(r.Context(), conn, changes)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := New(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, rows
}

func TestNewRejectsUnsupportedScheme(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Error("New() accepted an ftp URL")
	}
	c, err := New("https://party.example/candles/")
	if err != nil {
		t.Fatal(err)
	}
	if c.URL() != "https://party.example/candles" {
		t.Errorf("URL() = %q", c.URL())
	}
}

func TestInsertAndListBlows(t *testing.T) {
	c, _ := newRoomServer(t)
	room := "birthday-Ann&Bo"

	ev := &types.BlowEvent{Room: room, ActorName: " Ann "}
	if err := c.InsertBlow(t.Context(), ev); err != nil {
		t.Fatalf("InsertBlow() error = %v", err)
	}
	if ev.ID == "" || ev.ActorName != "Ann" || ev.CreatedAt.IsZero() {
		t.Errorf("InsertBlow() did not decode the stored row: %+v", ev)
	}

	events, err := c.BlowsByRoom(t.Context(), room)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != ev.ID || events[0].Room != room {
		t.Errorf("BlowsByRoom() = %+v", events)
	}

	if err := c.InsertBlow(t.Context(), &types.BlowEvent{}); err == nil {
		t.Error("InsertBlow() without a room succeeded")
	}
}

func TestInsertEntryReportsServerError(t *testing.T) {
	c, _ := newRoomServer(t)

	err := c.InsertEntry(t.Context(), &types.GuestbookEntry{Room: "birthday-Cy", Message: "  "})
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), store.ErrEmptyMessage.Error()) {
		t.Errorf("InsertEntry() error = %v", err)
	}
}

func TestMessageBoardRoundTrip(t *testing.T) {
	c, _ := newRoomServer(t)
	room := "birthday-Ann&Bo"

	msg := &types.Message{Room: room, Text: " Cake time "}
	if err := c.InsertMessage(t.Context(), msg); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	if msg.ID == "" || msg.Text != "Cake time" {
		t.Errorf("InsertMessage() did not decode the stored row: %+v", msg)
	}

	messages, err := c.MessagesByRoom(t.Context(), room)
	if err != nil || len(messages) != 1 || messages[0].ID != msg.ID {
		t.Fatalf("MessagesByRoom() = %+v, %v", messages, err)
	}

	if err := c.DeleteMessage(t.Context(), room, msg.ID); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if err := c.DeleteMessage(t.Context(), room, msg.ID); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("DeleteMessage(gone) error = %v, want ErrMessageNotFound", err)
	}
	if messages, _ := c.MessagesByRoom(t.Context(), room); len(messages) != 0 {
		t.Errorf("MessagesByRoom() after delete = %+v", messages)
	}
}

func TestSubscribeBlowsReceivesInserts(t *testing.T) {
	c, rows := newRoomServer(t)
	room := "birthday-Dee"

	blows, err := c.SubscribeBlows(t.Context(), room)
	if err != nil {
		t.Fatalf("SubscribeBlows() error = %v", err)
	}

	if err := rows.InsertEntry(t.Context(), &types.GuestbookEntry{Room: room, Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := rows.InsertBlow(t.Context(), &types.BlowEvent{Room: "birthday-Other"}); err != nil {
		t.Fatal(err)
	}
	if err := rows.InsertBlow(t.Context(), &types.BlowEvent{Room: room, ActorName: "Dee", CandleIndex: 2}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-blows:
		if ev.Room != room || ev.ActorName != "Dee" || ev.CandleIndex != 2 {
			t.Errorf("received %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no blow received")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	c, _ := newRoomServer(t)

	changes, err := c.Subscribe(t.Context(), "birthday-Eve")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-changes:
		if ok {
			t.Error("received a change after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}

	if _, err := c.BlowsByRoom(t.Context(), "birthday-Eve"); err != ErrClientClosed {
		t.Errorf("BlowsByRoom() after Close error = %v", err)
	}
}
