package party

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/config"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

type fakeNotifier struct {
	mu        sync.Mutex
	observed  int
	celebrate []string
}

func (f *fakeNotifier) Observe(types.SessionStatus) {
	f.mu.Lock()
	f.observed++
	f.mu.Unlock()
}

func (f *fakeNotifier) Celebrate(st types.SessionStatus) {
	f.mu.Lock()
	f.celebrate = append(f.celebrate, st.Room)
	f.mu.Unlock()
}

func (f *fakeNotifier) celebrated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.celebrate)
}

func newTestManager(t *testing.T) (*Manager, *fakeNotifier, *store.Realtime) {
	t.Helper()
	return newIdleTestManager(t, 0)
}

func newIdleTestManager(t *testing.T, idle time.Duration) (*Manager, *fakeNotifier, *store.Realtime) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}
	rows := store.NewRealtime(store.NewMemory())
	t.Cleanup(func() { _ = rows.Close() })

	n := &fakeNotifier{}
	m := New(Options{Config: cfg, Rows: rows, Notifier: n, IdleTimeout: idle})
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(m.Stop)
	return m, n, rows
}

func TestPrimaryRoomFromConfiguredNames(t *testing.T) {
	m, _, _ := newTestManager(t)
	if got := m.PrimaryRoom(); got != "birthday-혜진&성현" {
		t.Errorf("PrimaryRoom() = %q", got)
	}
	if got := m.Rooms(); !slices.Equal(got, []string{m.PrimaryRoom()}) {
		t.Errorf("Rooms() = %v", got)
	}
}

func TestBlowingOutRoomCelebratesAndPersists(t *testing.T) {
	m, n, rows := newTestManager(t)

	s, err := m.Session("birthday-Ann")
	if err != nil {
		t.Fatal(err)
	}
	for range types.DefaultCandleCount {
		if _, err := s.Blow("Ann"); err != nil {
			t.Fatal(err)
		}
	}
	if got := n.celebrated(); !slices.Equal(got, []string{"birthday-Ann"}) {
		t.Errorf("celebrated = %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := rows.BlowsByRoom(context.Background(), "birthday-Ann")
		if err != nil {
			t.Fatal(err)
		}
		if len(events) == types.DefaultCandleCount {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("store has %d events", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchSignalsChanges(t *testing.T) {
	m, _, _ := newTestManager(t)
	room := m.PrimaryRoom()

	ch, release, err := m.Watch(room)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	s, err := m.Session(room)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Blow(""); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	release()
	if _, ok := <-ch; ok {
		t.Error("channel still open after release")
	}
}

func TestSetDetectorAppliesToRunningRooms(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.SetDetector(5, 800); err == nil {
		t.Error("SetDetector() accepted threshold 5")
	}
	if err := m.SetDetector(0.3, 1000); err != nil {
		t.Fatalf("SetDetector() error = %v", err)
	}
	s, err := m.Session(m.PrimaryRoom())
	if err != nil {
		t.Fatal(err)
	}
	st, err := s.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Detector.Threshold != 0.3 || st.Detector.HoldMs != 1000 {
		t.Errorf("Detector = %+v", st.Detector)
	}
}

func TestRelightAll(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.Session("birthday-Cy")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Blow("Cy"); err != nil {
		t.Fatal(err)
	}

	relit, err := m.RelightAll()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(relit, "birthday-Cy") || !slices.Contains(relit, m.PrimaryRoom()) {
		t.Errorf("RelightAll() = %v", relit)
	}
	st, err := s.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.LitCount != len(st.Candles) {
		t.Errorf("LitCount = %d after relight", st.LitCount)
	}
}

func TestSessionAfterStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Session(""); !errors.Is(err, store.ErrNoRoom) {
		t.Errorf("Session(\"\") error = %v", err)
	}
	m.Stop()
	if _, err := m.Session("birthday-Dee"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Session() after Stop error = %v", err)
	}
	if len(m.Rooms()) != 0 {
		t.Errorf("Rooms() = %v after Stop", m.Rooms())
	}
}

func TestUnwatchedRoomsClose(t *testing.T) {
	const idle = 50 * time.Millisecond
	m, _, _ := newIdleTestManager(t, idle)

	var releases []func()
	for i := range MaxRooms - 1 {
		_, release, err := m.Watch(fmt.Sprintf("birthday-Guest%d", i))
		if err != nil {
			t.Fatalf("Watch(%d) error = %v", i, err)
		}
		releases = append(releases, release)
	}
	if _, err := m.Session("birthday-Latecomer"); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("Session() with every room watched error = %v", err)
	}

	// A watched room outlives the idle timeout.
	time.Sleep(3 * idle)
	if got := len(m.Rooms()); got != MaxRooms {
		t.Fatalf("Rooms() = %d while watched, want %d", got, MaxRooms)
	}

	for _, release := range releases {
		release()
	}
	deadline := time.Now().Add(2 * time.Second)
	for !slices.Equal(m.Rooms(), []string{m.PrimaryRoom()}) {
		if time.Now().After(deadline) {
			t.Fatalf("Rooms() = %d after all watchers left", len(m.Rooms()))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := m.Session("birthday-Latecomer"); err != nil {
		t.Errorf("Session() after idle rooms closed error = %v", err)
	}
}

func TestPrimaryRoomNeverIdles(t *testing.T) {
	const idle = 20 * time.Millisecond
	m, _, _ := newIdleTestManager(t, idle)

	_, release, err := m.Watch(m.PrimaryRoom())
	if err != nil {
		t.Fatal(err)
	}
	release()
	time.Sleep(5 * idle)

	if got := m.Rooms(); !slices.Equal(got, []string{m.PrimaryRoom()}) {
		t.Errorf("Rooms() = %v", got)
	}
}
