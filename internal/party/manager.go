// Package party keeps one candle session per room and wires each of them to
// the row store, the event journal and the celebration notifier.
package party

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/audio"
	"github.com/oszuidwest/zwfm-candles/internal/candles"
	"github.com/oszuidwest/zwfm-candles/internal/config"
	"github.com/oszuidwest/zwfm-candles/internal/greeting"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

const (
	// MaxRooms bounds the number of rooms with a running session.
	MaxRooms = 64
	// DefaultIdleTimeout is how long a room nobody watches keeps running.
	DefaultIdleTimeout = 2 * time.Minute
)

var (
	// ErrNotRunning is returned before Start and after Stop.
	ErrNotRunning = errors.New("party is not running")
	// ErrTooManyRooms is returned when MaxRooms sessions are already running.
	ErrTooManyRooms = errors.New("too many rooms")
)

// RowStore is a row store that can also stream inserts for a room.
type RowStore interface {
	store.Store
	Subscribe(ctx context.Context, room string) (<-chan types.Change, error)
	SubscribeBlows(ctx context.Context, room string) (<-chan types.BlowEvent, error)
}

// Notifier is told about every room status and every room that went dark.
type Notifier interface {
	Observe(st types.SessionStatus)
	Celebrate(st types.SessionStatus)
}

// Options configures a Manager.
type Options struct {
	Config *config.Config
	Rows   RowStore
	// LocalOnly keeps events in Rows without treating it as the
	// authoritative candle row (offline key-value fallback).
	LocalOnly  bool
	Journal    candles.Journal
	Notifier   Notifier
	FFmpegPath string
	// IdleTimeout closes a room other than the primary one once it has had
	// no watchers and no requests for this long. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

type room struct {
	session  *candles.Session
	cancel   context.CancelFunc
	watchers map[chan struct{}]struct{}
	idle     *time.Timer
	touches  uint64
}

// Manager runs the candle sessions of every active room. The primary room,
// derived from the configured honoree names, owns the microphone.
type Manager struct {
	opts    Options
	primary string

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	rooms   map[string]*room
	running bool
	wg      sync.WaitGroup
}

// New creates a manager. Call Start to run the primary room.
func New(opts Options) *Manager {
	snap := opts.Config.Snapshot()
	opts.IdleTimeout = cmp.Or(opts.IdleTimeout, DefaultIdleTimeout)
	return &Manager{
		opts:    opts,
		primary: greeting.Room(snap.Names),
		rooms:   make(map[string]*room),
	}
}

// PrimaryRoom returns the room that owns the microphone.
func (m *Manager) PrimaryRoom() string {
	return m.primary
}

// Rows returns the row store shared by all rooms.
func (m *Manager) Rows() RowStore {
	return m.opts.Rows
}

// Start begins running sessions and starts the primary room.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("party already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	_, err := m.Session(m.primary)
	return err
}

// Stop ends every session and waits for them to release their resources.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	slog.Info("all rooms stopped")
}

// Session returns the running session for name, starting it if needed.
func (m *Manager) Session(name string) (*candles.Session, error) {
	if name == "" {
		return nil, store.ErrNoRoom
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.roomLocked(name)
	if err != nil {
		return nil, err
	}
	return r.session, nil
}

// roomLocked returns the running room for name, starting it if needed.
func (m *Manager) roomLocked(name string) (*room, error) {
	if !m.running {
		return nil, ErrNotRunning
	}
	if r, ok := m.rooms[name]; ok {
		m.touchLocked(name, r)
		return r, nil
	}
	if len(m.rooms) >= MaxRooms {
		return nil, ErrTooManyRooms
	}

	r := &room{watchers: make(map[chan struct{}]struct{})}
	r.session = candles.NewSession(m.sessionOptions(name))

	ctx, cancel := context.WithCancel(m.ctx)
	r.cancel = cancel
	m.rooms[name] = r
	m.touchLocked(name, r)

	m.wg.Go(func() {
		if err := r.session.Run(ctx); err != nil {
			slog.Error("session failed", "room", name, "error", err)
		}
		m.mu.Lock()
		if m.rooms[name] == r {
			delete(m.rooms, name)
		}
		if r.idle != nil {
			r.idle.Stop()
		}
		for ch := range r.watchers {
			close(ch)
		}
		r.watchers = nil
		m.mu.Unlock()
	})
	return r, nil
}

func (m *Manager) sessionOptions(name string) candles.Options {
	snap := m.opts.Config.Snapshot()
	opts := candles.Options{
		Room:        name,
		CandleCount: snap.CandleCount,
		ActorName:   snap.ActorName,
		Detector:    snap.Detector(),
		Live:        snap.LiveSync,
		Journal:     m.opts.Journal,
		OnChange: func(st types.SessionStatus) {
			if m.opts.Notifier != nil {
				m.opts.Notifier.Observe(st)
			}
			m.notifyWatchers(name)
		},
		OnAllOut: func(st types.SessionStatus) {
			if m.opts.Notifier != nil {
				m.opts.Notifier.Celebrate(st)
			}
		},
	}
	if m.opts.Rows != nil {
		if m.opts.LocalOnly {
			opts.Local = m.opts.Rows
		} else {
			opts.Remote = m.opts.Rows
		}
	}
	if name == m.primary && m.opts.FFmpegPath != "" {
		opts.Microphone = &microphone{cfg: m.opts.Config, ffmpegPath: m.opts.FFmpegPath}
	}
	return opts
}

// Watch returns a channel that receives a value whenever the room's status
// changes. Notifications are coalesced. The channel is closed when the room
// stops or release is called.
func (m *Manager) Watch(name string) (<-chan struct{}, func(), error) {
	if name == "" {
		return nil, nil, store.ErrNoRoom
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.roomLocked(name)
	if err != nil {
		return nil, nil, err
	}
	if r.watchers == nil {
		return nil, nil, ErrNotRunning
	}
	ch := make(chan struct{}, 1)
	r.watchers[ch] = struct{}{}
	m.touchLocked(name, r)

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := r.watchers[ch]; ok {
			delete(r.watchers, ch)
			close(ch)
			if m.rooms[name] == r {
				m.touchLocked(name, r)
			}
		}
	}
	return ch, release, nil
}

// touchLocked restarts the idle countdown of a room. Rooms with watchers and
// the primary room have none.
func (m *Manager) touchLocked(name string, r *room) {
	if r.idle != nil {
		r.idle.Stop()
		r.idle = nil
	}
	if name == m.primary || len(r.watchers) > 0 {
		return
	}
	r.touches++
	touch := r.touches
	r.idle = time.AfterFunc(m.opts.IdleTimeout, func() {
		m.closeIdle(name, r, touch)
	})
}

// closeIdle stops a room whose idle countdown ran out without another touch.
func (m *Manager) closeIdle(name string, r *room, touch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[name] != r || r.touches != touch || len(r.watchers) > 0 {
		return
	}
	delete(m.rooms, name)
	r.cancel()
	slog.Info("closed idle room", "room", name)
}

func (m *Manager) notifyWatchers(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[name]
	if !ok {
		return
	}
	for ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Rooms returns the names of the rooms with a running session.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.rooms))
}

// SetDetector validates and persists new detector settings and applies them
// to every running session.
func (m *Manager) SetDetector(threshold float64, holdMs int64) error {
	if err := m.opts.Config.SetDetector(threshold, holdMs); err != nil {
		return err
	}
	cfg := candles.DetectorConfig{Threshold: threshold, HoldMs: holdMs}

	var errs []error
	for _, s := range m.sessions() {
		if err := s.SetDetector(cfg); err != nil && !errors.Is(err, candles.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RelightAll relights every running room and returns their names.
func (m *Manager) RelightAll() ([]string, error) {
	var relit []string
	var errs []error
	for _, s := range m.sessions() {
		if err := s.Relight(); err != nil {
			if !errors.Is(err, candles.ErrClosed) {
				errs = append(errs, err)
			}
			continue
		}
		relit = append(relit, s.Room())
	}
	slices.Sort(relit)
	return relit, errors.Join(errs...)
}

func (m *Manager) sessions() []*candles.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*candles.Session, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.session)
	}
	return out
}

// microphone opens the configured input each time detection acquires it, so
// a changed input takes effect on the next acquisition.
type microphone struct {
	cfg        *config.Config
	ffmpegPath string
}

func (mic *microphone) Start(ctx context.Context) (<-chan audio.Sample, error) {
	snap := mic.cfg.Snapshot()
	return audio.NewSampler(snap.AudioInput, mic.ffmpegPath, snap.WindowSize).Start(ctx)
}
