package main

import (
	"cmp"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/audio"
	"github.com/oszuidwest/zwfm-candles/internal/config"
	"github.com/oszuidwest/zwfm-candles/internal/greeting"
	"github.com/oszuidwest/zwfm-candles/internal/notify"
	"github.com/oszuidwest/zwfm-candles/internal/party"
	"github.com/oszuidwest/zwfm-candles/internal/server"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// apiKeyParam is the query parameter that carries the API key on /ws.
const apiKeyParam = "key"

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))
var faviconTmpl = template.Must(template.New("favicon").Parse(faviconSVG))

type indexData struct {
	Version  string
	Year     int
	Title    string
	Room     string
	Names    []string
	From     string
	Theme    int
	Wish     string
	ThemeCSS template.CSS
}

// Server is an HTTP server that provides the party page, the room API and
// the WebSocket channel for live updates.
type Server struct {
	config          *config.Config
	party           *party.Manager
	commands        *server.CommandHandler
	releases        *ReleaseWatcher
	journalPath     string
	ffmpegAvailable bool
	rnd             func() float64
}

// NewServer returns a new Server for the given config and party.
func NewServer(cfg *config.Config, p *party.Manager, n *notify.CelebrationNotifier, journalPath string, ffmpegAvailable bool) *Server {
	return &Server{
		config:          cfg,
		party:           p,
		commands:        server.NewCommandHandler(cfg, p, n),
		releases:        WatchReleases(),
		journalPath:     journalPath,
		ffmpegAvailable: ffmpegAvailable,
		rnd:             rand.Float64,
	}
}

// greetingFor resolves the names, sender and theme for a request. An explicit
// room parameter overrides the room derived from the names.
func (s *Server) greetingFor(r *http.Request) greeting.Greeting {
	cfg := s.config.Snapshot()
	q := r.URL.Query()
	if !q.Has(greeting.ParamTheme) {
		q.Set(greeting.ParamTheme, strconv.Itoa(cfg.Theme))
	}
	g := greeting.FromQuery(q, cfg.Names, cfg.From)
	if room := q.Get("room"); room != "" {
		g.Room = room
	}
	return g
}

// handleWebSocket handles bidirectional WebSocket communication for one room.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	g := s.greetingFor(r)
	changed, release, err := s.party.Watch(g.Room)
	if err != nil {
		s.writeError(w, statusForPartyError(err), err.Error())
		return
	}
	defer release()

	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Inserts for the room are forwarded as they happen. A failed
	// subscription only costs the live guestbook feed.
	changes, err := s.party.Rows().Subscribe(ctx, g.Room)
	if err != nil {
		slog.Warn("failed to subscribe WebSocket client", "room", g.Room, "error", err)
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	client := server.Client{Room: g.Room, Admin: s.isAdmin(r)}

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, client, send, done, statusUpdate)

	s.runWebSocketEventLoop(g, client.Admin, send, done, statusUpdate, changed, changes)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, client server.Client, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(client, cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status, level and insert updates until the
// client goes away.
func (s *Server) runWebSocketEventLoop(g greeting.Greeting, admin bool, send chan any, done, statusUpdate, changed <-chan struct{}, changes <-chan types.Change) {
	levelsTicker := time.NewTicker(100 * time.Millisecond)  // 10 fps for the blow meter
	statusTicker := time.NewTicker(3000 * time.Millisecond) // Status updates every 3s
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	sendStatus := func() bool {
		status, err := s.buildWSStatus(g, admin)
		if err != nil {
			slog.Debug("room status unavailable", "room", g.Room, "error", err)
			return false
		}
		return trySend(status)
	}

	// Send initial status
	if !sendStatus() {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !sendStatus() {
				close(send)
				return
			}
		case _, ok := <-changed:
			if !ok || !sendStatus() {
				close(send)
				return
			}
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if !trySend(types.WSChangeResponse{Type: "change", Change: c}) {
				close(send)
				return
			}
		case <-levelsTicker.C:
			if g.Room != s.party.PrimaryRoom() {
				continue
			}
			sess, err := s.party.Session(g.Room)
			if err != nil {
				continue
			}
			level, peak := sess.Levels()
			if !trySend(types.WSLevelsResponse{Type: "levels", Level: level, Peak: peak}) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !sendStatus() {
				close(send)
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response for a room.
func (s *Server) buildWSStatus(g greeting.Greeting, admin bool) (types.WSStatusResponse, error) {
	cfg := s.config.Snapshot()
	return s.commands.StatusFor(g.Room, types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Names:           g.Names,
		From:            g.From,
		Wish:            greeting.Wish(0),
		Devices:         audio.ListDevices(),
		Settings: types.WSSettings{
			AudioInput: cfg.AudioInput,
			Platform:   runtime.GOOS,
			ActorName:  cfg.ActorName,
			Admin:      admin,
		},
		Version: s.releases.Info(),
	})
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Page and static assets
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /favicon.svg", s.handleFavicon)
	mux.HandleFunc("GET /style.css", s.handleStatic)
	mux.HandleFunc("GET /app.js", s.handleStatic)

	// Live channel for the page
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Room row store
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("GET /api/rooms/{room}/blows", s.handleListBlows)
	mux.HandleFunc("POST /api/rooms/{room}/blows", s.handleInsertBlow)
	mux.HandleFunc("GET /api/rooms/{room}/guestbook", s.handleListGuestbook)
	mux.HandleFunc("POST /api/rooms/{room}/guestbook", s.handleInsertGuestbook)
	mux.HandleFunc("GET /api/rooms/{room}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/rooms/{room}/messages", s.handleInsertMessage)
	mux.HandleFunc("DELETE /api/rooms/{room}/messages/{id}", s.handleDeleteMessage)
	mux.HandleFunc("GET /api/rooms/{room}/score", s.handleScore)
	mux.HandleFunc("GET /api/rooms/{room}/subscribe", s.handleSubscribe)

	// Page helpers
	mux.HandleFunc("GET /api/share", s.handleShare)
	mux.HandleFunc("GET /api/wish", s.handleWish)
	mux.HandleFunc("GET /api/devices", s.handleDevices)

	// Admin API (API key auth)
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleEvents))
	mux.HandleFunc("POST /api/candles/relight", s.apiKeyAuth(s.handleRelight))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handleIndex renders the party page for the names in the query.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()
	g := s.greetingFor(r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, indexData{
		Version:  Version,
		Year:     time.Now().Year(),
		Title:    cfg.Title,
		Room:     g.Room,
		Names:    g.Names,
		From:     g.From,
		Theme:    g.Theme,
		Wish:     greeting.Wish(0),
		ThemeCSS: template.CSS(greeting.Themes[g.Theme].CSS()),
	}); err != nil {
		slog.Error("failed to render index page", "error", err)
	}
}

// handleFavicon serves the favicon in the colours of the requested theme.
func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	theme := greeting.Themes[s.greetingFor(r).Theme]
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := faviconTmpl.Execute(w, theme); err != nil {
		slog.Error("failed to render favicon", "error", err)
	}
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css; charset=utf-8",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript; charset=utf-8",
		content:     appJS,
		name:        "app.js",
	},
}

// handleStatic serves embedded static files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	file, ok := staticFiles[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
}

// apiKeyAuth returns middleware for API key authentication.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.GetAPIKey() == "" {
			s.writeError(w, http.StatusServiceUnavailable, "API key not configured")
			return
		}
		if !s.isAdmin(r) {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// isAdmin reports whether the request carries the API key, in the X-API-Key
// header or, since browsers cannot set headers on a WebSocket handshake, in
// the key query parameter.
func (s *Server) isAdmin(r *http.Request) bool {
	apiKey := s.config.GetAPIKey()
	if apiKey == "" {
		return false
	}
	providedKey := cmp.Or(r.Header.Get("X-API-Key"), r.URL.Query().Get(apiKeyParam))
	return subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) == 1
}

// statusForPartyError maps party errors onto HTTP status codes.
func statusForPartyError(err error) int {
	switch {
	case errors.Is(err, party.ErrTooManyRooms):
		return http.StatusTooManyRequests
	case errors.Is(err, party.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
