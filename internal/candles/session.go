package candles

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-candles/internal/audio"
	"github.com/oszuidwest/zwfm-candles/internal/eventlog"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// ErrClosed is returned by Session methods once Run has returned.
var ErrClosed = errors.New("session closed")

// EventStore persists blow events for a room.
type EventStore interface {
	InsertBlow(ctx context.Context, ev *types.BlowEvent) error
	// BlowsByRoom returns the room's events, newest first.
	BlowsByRoom(ctx context.Context, room string) ([]types.BlowEvent, error)
}

// Subscriber delivers blow events as they are inserted into a room. The
// channel is closed when the subscription ends.
type Subscriber interface {
	SubscribeBlows(ctx context.Context, room string) (<-chan types.BlowEvent, error)
}

// SampleSource produces microphone samples until its context is cancelled.
type SampleSource interface {
	Start(ctx context.Context) (<-chan audio.Sample, error)
}

// Journal records session transitions.
type Journal interface {
	Log(event *eventlog.Event) error
}

// Options configures a Session.
type Options struct {
	Room        string
	CandleCount int
	ActorName   string
	Detector    DetectorConfig

	// Remote is the authoritative row store. When set, the candle row is
	// derived from the room's recorded events.
	Remote EventStore
	// Local keeps events on this device when Remote is nil.
	Local EventStore
	// Live subscribes to Remote inserts when Remote implements Subscriber.
	Live bool

	Microphone SampleSource
	Journal    Journal

	// OnChange is called from the session goroutine after every state
	// change. It must not block or call back into the session.
	OnChange func(types.SessionStatus)
	// OnAllOut is called from the session goroutine when a blow puts out the
	// last lit candle. Loading a room that is already dark does not count.
	OnAllOut func(types.SessionStatus)
}

// Mode returns where events are persisted for these options.
func (o Options) Mode() types.SyncMode {
	switch {
	case o.Remote != nil:
		return types.SyncRemote
	case o.Local != nil:
		return types.SyncLocal
	default:
		return types.SyncNone
	}
}

type micResult struct {
	gen     int
	samples <-chan audio.Sample
	err     error
}

type eventBatch struct {
	events []types.BlowEvent // arrival order
	full   bool              // complete listing rather than a live insert
}

// Session is the blow-to-extinguish state machine for one room. All state is
// owned by the goroutine running Run; the exported methods hand work to it.
type Session struct {
	opts     Options
	mode     types.SyncMode
	detector *BlowDetector
	peak     *audio.PeakHolder
	level    atomic.Uint64

	cmds    chan func()
	micRes  chan micResult
	batches chan eventBatch
	done    chan struct{}

	// Owned by the Run goroutine.
	ctx         context.Context
	candles     Candles
	events      []types.BlowEvent
	known       map[string]struct{}
	relightBase int
	micEnabled  bool
	micActive   bool
	micErr      string
	micGen      int
	micCancel   context.CancelFunc
	samples     <-chan audio.Sample
}

// NewSession creates a session with every candle lit. Call Run to start it.
func NewSession(opts Options) *Session {
	if opts.CandleCount <= 0 {
		opts.CandleCount = types.DefaultCandleCount
	}
	if opts.ActorName == "" {
		opts.ActorName = types.AnonymousName
	}
	if opts.Detector.Threshold <= 0 {
		opts.Detector.Threshold = DefaultThreshold
	}
	if opts.Detector.HoldMs <= 0 {
		opts.Detector.HoldMs = DefaultHoldMs
	}

	return &Session{
		opts:     opts,
		mode:     opts.Mode(),
		detector: NewBlowDetector(opts.Detector),
		peak:     audio.NewPeakHolder(),
		cmds:     make(chan func()),
		micRes:   make(chan micResult),
		batches:  make(chan eventBatch),
		done:     make(chan struct{}),
		candles:  New(opts.CandleCount),
		known:    make(map[string]struct{}),
	}
}

// Room returns the session's room name.
func (s *Session) Room() string {
	return s.opts.Room
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run processes commands, microphone samples and store events until ctx is
// cancelled. It releases the microphone before returning.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	switch s.mode {
	case types.SyncRemote:
		go s.syncRemote(ctx)
	case types.SyncLocal:
		go s.loadLocal(ctx)
	}

	slog.Info("session started", "room", s.opts.Room, "candles", len(s.candles), "mode", s.mode)

	for {
		select {
		case <-ctx.Done():
			s.stopMic()
			slog.Info("session stopped", "room", s.opts.Room)
			return nil
		case fn := <-s.cmds:
			fn()
		case r := <-s.micRes:
			s.handleMicResult(r)
		case sm, ok := <-s.samples:
			if !ok {
				s.handleCaptureEnded()
				continue
			}
			s.handleSample(sm)
		case b := <-s.batches:
			s.applyBatch(b)
		}
	}
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Blow extinguishes the lowest lit candle on behalf of actor, exactly as a
// detected blow would. Applied is false when no candle was lit.
func (s *Session) Blow(actor string) (types.BlowResult, error) {
	var res types.BlowResult
	err := s.do(func() {
		idx, ok := s.emit(actor, 0)
		res = types.BlowResult{CandleIndex: idx, Applied: ok}
	})
	return res, err
}

// Relight lights every candle. Recorded events and the score are kept; with
// a row store the events known so far no longer count against the new row.
func (s *Session) Relight() error {
	return s.do(func() {
		s.candles.Relight()
		if s.mode == types.SyncRemote {
			s.relightBase = len(s.events)
		}
		s.detector.Reset()
		s.journal(eventlog.CandlesRelit, "", "All candles relit", nil)
		slog.Info("candles relit", "room", s.opts.Room, "base", s.relightBase)
		s.syncMic()
		s.changed()
	})
}

// SetMicEnabled turns microphone detection on or off. The device is only held
// while detection is enabled and at least one candle is lit.
func (s *Session) SetMicEnabled(enabled bool) error {
	return s.do(func() {
		if s.micEnabled == enabled {
			return
		}
		s.micEnabled = enabled
		if enabled {
			s.micErr = ""
			s.journal(eventlog.MicEnabled, "", "Microphone detection enabled", nil)
		} else {
			s.journal(eventlog.MicDisabled, "", "Microphone detection disabled", nil)
		}
		s.syncMic()
		s.changed()
	})
}

// SetDetector replaces the detector thresholds.
func (s *Session) SetDetector(cfg DetectorConfig) error {
	return s.do(func() {
		s.detector.SetConfig(cfg)
		s.changed()
	})
}

// Status returns a snapshot of the session.
func (s *Session) Status() (types.SessionStatus, error) {
	var st types.SessionStatus
	err := s.do(func() { st = s.status() })
	return st, err
}

// Levels returns the last RMS value and the held peak. It does not wait for
// the session goroutine.
func (s *Session) Levels() (level, peak float64) {
	return math.Float64frombits(s.level.Load()), s.peak.Held()
}

// emit extinguishes the next lit candle, records the event and persists it
// without waiting for the store.
func (s *Session) emit(actor string, level float64) (int, bool) {
	idx, ok := s.candles.ExtinguishNext()
	if !ok {
		return -1, false
	}
	if actor == "" {
		actor = s.opts.ActorName
	}

	ev := types.BlowEvent{
		ID:          uuid.NewString(),
		ActorName:   actor,
		CandleIndex: idx,
		Room:        s.opts.Room,
		CreatedAt:   time.Now(),
	}
	s.addEvent(ev)
	s.persist(ev)

	lit := s.candles.LitCount()
	s.journal(eventlog.CandleOut, actor, "Candle extinguished", eventlog.CandleDetails{
		CandleIndex: idx,
		LitCount:    lit,
		Level:       level,
		Threshold:   s.detector.Config().Threshold,
	})
	slog.Info("candle extinguished", "room", s.opts.Room, "candle", idx, "actor", actor, "lit", lit)
	s.syncMic()
	s.changed()
	if lit == 0 {
		s.allOut(actor)
	}
	return idx, true
}

func (s *Session) addEvent(ev types.BlowEvent) bool {
	if _, ok := s.known[ev.ID]; ok {
		return false
	}
	s.known[ev.ID] = struct{}{}
	s.events = append(s.events, ev)
	return true
}

func (s *Session) persist(ev types.BlowEvent) {
	store := s.opts.Remote
	if store == nil {
		store = s.opts.Local
	}
	if store == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), types.RemoteWriteTimeout)
		defer cancel()
		err := store.InsertBlow(ctx, &ev)
		if err == nil {
			return
		}
		slog.Warn("failed to store blow", "room", ev.Room, "id", ev.ID, "error", err)
		s.post(func() {
			s.journal(eventlog.RemoteWriteFailed, ev.ActorName, "Blow could not be stored", eventlog.SyncDetails{
				EventID: ev.ID,
				Error:   err.Error(),
			})
		})
	}()
}

// post hands fn to the session goroutine without waiting for it to run.
// It is dropped if the session has stopped.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

// applyBatch merges store events into the known set by ID. Events are never
// dropped, so a stale reload cannot undo a blow made since. With a row store
// the candle row is then derived from the event count since the last relight.
func (s *Session) applyBatch(b eventBatch) {
	added := 0
	for _, ev := range b.events {
		if s.addEvent(ev) {
			added++
		}
	}
	if b.full {
		slog.Debug("room events loaded", "room", s.opts.Room, "events", len(b.events), "new", added)
	}
	if added == 0 {
		return
	}

	prevLit := s.candles.LitCount()
	if s.mode == types.SyncRemote {
		count := min(max(len(s.events)-s.relightBase, 0), len(s.candles))
		s.candles = Reconcile(s.candles, count)
		s.syncMic()
	}
	s.changed()
	if !b.full && prevLit > 0 && s.candles.LitCount() == 0 {
		s.allOut(s.events[len(s.events)-1].ActorName)
	}
}

func (s *Session) allOut(actor string) {
	s.journal(eventlog.AllOut, actor, "All candles are out", nil)
	slog.Info("all candles are out", "room", s.opts.Room, "actor", actor)
	if s.opts.OnAllOut != nil {
		s.opts.OnAllOut(s.status())
	}
}

// syncRemote loads the room's events and, when live, keeps following new
// inserts. A lost subscription is re-established with backoff and followed
// by a full reload so nothing inserted in between is missed.
func (s *Session) syncRemote(ctx context.Context) {
	backoff := util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay)
	sub, live := s.opts.Remote.(Subscriber)
	live = live && s.opts.Live

	for {
		var updates <-chan types.BlowEvent
		if live {
			ch, err := sub.SubscribeBlows(ctx, s.opts.Room)
			if err != nil {
				slog.Warn("failed to subscribe to room", "room", s.opts.Room, "error", err)
				if !sleepCtx(ctx, backoff.Next()) {
					return
				}
				continue
			}
			updates = ch
		}

		events, err := s.opts.Remote.BlowsByRoom(ctx, s.opts.Room)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to load room events", "room", s.opts.Room, "error", err)
			s.post(func() {
				s.journal(eventlog.RemoteReadFailed, "", "Room events could not be loaded", eventlog.SyncDetails{Error: err.Error()})
			})
			if !sleepCtx(ctx, backoff.Next()) {
				return
			}
			continue
		}
		if !s.deliver(ctx, eventBatch{events: ArrivalOrder(events), full: true}) {
			return
		}
		backoff.Reset()

		if !live {
			return
		}
		for ev := range updates {
			if !s.deliver(ctx, eventBatch{events: []types.BlowEvent{ev}}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("room subscription ended, reconnecting", "room", s.opts.Room)
		if !sleepCtx(ctx, backoff.Next()) {
			return
		}
	}
}

func (s *Session) loadLocal(ctx context.Context) {
	events, err := s.opts.Local.BlowsByRoom(ctx, s.opts.Room)
	if err != nil {
		slog.Warn("failed to load local events", "room", s.opts.Room, "error", err)
		return
	}
	s.deliver(ctx, eventBatch{events: ArrivalOrder(events), full: true})
}

func (s *Session) deliver(ctx context.Context, b eventBatch) bool {
	select {
	case s.batches <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) handleSample(sm audio.Sample) {
	s.level.Store(math.Float64bits(sm.RMS))
	s.peak.Update(sm.RMS, sm.At)

	if !s.micEnabled || s.candles.LitCount() == 0 {
		s.detector.Reset()
		return
	}
	if s.detector.Update(sm.RMS, sm.At) {
		s.journal(eventlog.BlowDetected, s.opts.ActorName, "Sustained blow detected", eventlog.CandleDetails{
			CandleIndex: s.candles.NextLit(),
			LitCount:    s.candles.LitCount(),
			Level:       sm.RMS,
			Threshold:   s.detector.Config().Threshold,
		})
		s.emit(s.opts.ActorName, sm.RMS)
	}
}

// syncMic acquires or releases the microphone to match the current state.
func (s *Session) syncMic() {
	want := s.micEnabled && s.opts.Microphone != nil && s.candles.LitCount() > 0
	switch {
	case want && s.micCancel == nil:
		s.startMic()
	case !want && s.micCancel != nil:
		s.stopMic()
	}
}

func (s *Session) startMic() {
	s.micGen++
	gen := s.micGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.micCancel = cancel
	mic := s.opts.Microphone

	go func() {
		samples, err := mic.Start(ctx)
		select {
		case s.micRes <- micResult{gen: gen, samples: samples, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) stopMic() {
	if s.micCancel != nil {
		s.micCancel()
		s.micCancel = nil
	}
	s.samples = nil
	s.micActive = false
	s.detector.Reset()
	s.level.Store(0)
	s.peak.Reset()
}

func (s *Session) handleMicResult(r micResult) {
	if r.gen != s.micGen || s.micCancel == nil {
		return
	}
	if r.err != nil {
		slog.Warn("microphone unavailable", "room", s.opts.Room, "error", r.err)
		s.stopMic()
		s.micEnabled = false
		s.micErr = r.err.Error()
		s.journal(eventlog.MicFailed, "", "Microphone unavailable", eventlog.SyncDetails{Error: r.err.Error()})
		s.changed()
		return
	}
	s.samples = r.samples
	s.micActive = true
	slog.Info("microphone active", "room", s.opts.Room)
	s.changed()
}

func (s *Session) handleCaptureEnded() {
	slog.Warn("microphone capture ended", "room", s.opts.Room)
	s.stopMic()
	s.micEnabled = false
	s.micErr = "microphone capture stopped"
	s.journal(eventlog.MicFailed, "", "Microphone capture stopped", nil)
	s.changed()
}

func (s *Session) journal(t eventlog.EventType, actor, msg string, details any) {
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.Log(&eventlog.Event{
		Type:    t,
		Room:    s.opts.Room,
		Actor:   actor,
		Message: msg,
		Details: details,
	}); err != nil {
		slog.Warn("failed to write journal", "type", t, "error", err)
	}
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.status())
	}
}

func (s *Session) status() types.SessionStatus {
	level, peak := s.Levels()
	return types.SessionStatus{
		Room:        s.opts.Room,
		Candles:     s.candles.Clone(),
		LitCount:    s.candles.LitCount(),
		BlowCount:   len(s.events),
		Score:       Score(s.events, s.opts.Room),
		Mode:        s.mode,
		Live:        s.mode == types.SyncRemote && s.opts.Live,
		MicEnabled:  s.micEnabled,
		MicActive:   s.micActive,
		MicError:    s.micErr,
		Blowing:     s.detector.Blowing(),
		Level:       level,
		PeakLevel:   peak,
		Detector:    s.detector.Config().Settings(),
		RelightBase: s.relightBase,
	}
}
