package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/audio"
	"github.com/oszuidwest/zwfm-candles/internal/candles"
	"github.com/oszuidwest/zwfm-candles/internal/eventlog"
	"github.com/oszuidwest/zwfm-candles/internal/greeting"
	"github.com/oszuidwest/zwfm-candles/internal/server"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

const (
	// maxRequestBody limits REST request bodies.
	maxRequestBody = 64 << 10
	// apiTimeout bounds row store calls made for a request.
	apiTimeout = 15 * time.Second
	// defaultEventsLimit is the page size of GET /api/events without a limit.
	defaultEventsLimit = 100
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if verr := server.Validate(&v); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": verr})
		return v, false
	}
	return v, true
}

// coalesce returns the first non-zero value from the provided values.
func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// orEmpty returns s, or an empty slice when s is nil, so lists encode as [].
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeStoreError reports a row store error, distinguishing rejected input
// from storage failures.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNoRoom), errors.Is(err, store.ErrEmptyMessage):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMessageNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("row store request failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

// Room row store

// handleListRooms returns the rooms with a running session.
// GET /api/rooms
func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"primary": s.party.PrimaryRoom(),
		"rooms":   s.party.Rooms(),
	})
}

// handleListBlows returns the room's blow events, newest first.
// GET /api/rooms/{room}/blows
func (s *Server) handleListBlows(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	events, err := s.party.Rows().BlowsByRoom(ctx, r.PathValue("room"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(events))
}

// handleInsertBlow records a blow event from another device.
// POST /api/rooms/{room}/blows
func (s *Server) handleInsertBlow(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.BlowInsertRequest](s, w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	ev := req.Event(r.PathValue("room"))
	if err := s.party.Rows().InsertBlow(ctx, ev); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ev)
}

// handleListGuestbook returns the room's guestbook, newest first.
// GET /api/rooms/{room}/guestbook
func (s *Server) handleListGuestbook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	entries, err := s.party.Rows().EntriesByRoom(ctx, r.PathValue("room"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(entries))
}

// handleInsertGuestbook adds a guestbook entry.
// POST /api/rooms/{room}/guestbook
func (s *Server) handleInsertGuestbook(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.GuestbookAddRequest](s, w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	entry := req.Entry(r.PathValue("room"))
	if err := s.party.Rows().InsertEntry(ctx, entry); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

// handleListMessages returns the room's message board, newest first.
// GET /api/rooms/{room}/messages
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	messages, err := s.party.Rows().MessagesByRoom(ctx, r.PathValue("room"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orEmpty(messages))
}

// handleInsertMessage pins a message to the room's board.
// POST /api/rooms/{room}/messages
func (s *Server) handleInsertMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.MessageAddRequest](s, w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	msg := req.Message(r.PathValue("room"))
	if err := s.party.Rows().InsertMessage(ctx, msg); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

// handleDeleteMessage takes a message off the room's board.
// DELETE /api/rooms/{room}/messages/{id}
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	if err := s.party.Rows().DeleteMessage(ctx, r.PathValue("room"), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScore returns the room's blow count per actor.
// GET /api/rooms/{room}/score
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	events, err := s.party.Rows().BlowsByRoom(ctx, room)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"room":       room,
		"blow_count": len(events),
		"score":      orEmpty(candles.Score(candles.ArrivalOrder(events), room)),
	})
}

// handleSubscribe streams the room's inserts over a WebSocket.
// GET /api/rooms/{room}/subscribe
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, err := s.party.Rows().Subscribe(ctx, room)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	slog.Debug("room subscriber connected", "room", room, "remote", r.RemoteAddr)
	server.StreamChanges(ctx, conn, changes)
	slog.Debug("room subscriber disconnected", "room", room, "remote", r.RemoteAddr)
}

// Page helpers

// handleShare builds a share link for the names, theme and sender in the query.
// GET /api/share?name=a,b&theme=N&from=X
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	g := s.greetingFor(r)

	base := coalesce(cfg.BaseURL, "http://"+r.Host+"/")
	link, err := greeting.ShareURL(base, g.Names, g.Theme, g.From)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"url":   link,
		"room":  g.Room,
		"theme": greeting.Themes[g.Theme],
	})
}

// handleWish returns a wish different from the current one.
// GET /api/wish?current=N
func (s *Server) handleWish(w http.ResponseWriter, r *http.Request) {
	current := 0
	if v := r.URL.Query().Get("current"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "current must be a non-negative integer")
			return
		}
		current = n
	}
	i := greeting.NextWish(current, s.rnd)
	s.writeJSON(w, http.StatusOK, map[string]any{"index": i, "wish": greeting.Wish(i)})
}

// handleDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": orEmpty(audio.ListDevices()),
	})
}

// Admin API

// handleEvents returns a page of the session journal, newest first.
// GET /api/events?limit=N&offset=N&type=all|candles|mic|sync
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultEventsLimit)
	if err != nil || limit < 1 || limit > eventlog.MaxReadLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(eventlog.MaxReadLimit))
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	filter := eventlog.TypeFilter(strings.TrimSpace(q.Get("type")))
	switch filter {
	case "all":
		filter = eventlog.FilterAll
	case eventlog.FilterAll, eventlog.FilterCandles, eventlog.FilterMic, eventlog.FilterSync:
	default:
		s.writeError(w, http.StatusBadRequest, "type must be one of: all candles mic sync")
		return
	}

	if s.journalPath == "" {
		s.writeJSON(w, http.StatusOK, types.EventsPage{Events: []eventlog.Event{}})
		return
	}
	events, hasMore, err := eventlog.ReadLast(s.journalPath, limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, types.EventsPage{
		Events:  orEmpty(events),
		HasMore: hasMore,
	})
}

// handleRelight relights one room, or every running room without ?room=.
// POST /api/candles/relight
func (s *Server) handleRelight(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		relit, err := s.party.RelightAll()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": relit})
		return
	}

	sess, err := s.party.Session(room)
	if err != nil {
		s.writeError(w, statusForPartyError(err), err.Error())
		return
	}
	if err := sess.Relight(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": []string{room}})
}

// queryInt parses an optional integer query value.
func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
