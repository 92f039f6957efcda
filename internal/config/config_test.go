package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/oszuidwest/zwfm-candles/internal/candles"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	s := c.Snapshot()
	if s.WebPort != DefaultWebPort || s.CandleCount != types.DefaultCandleCount {
		t.Errorf("port=%d candles=%d", s.WebPort, s.CandleCount)
	}
	if s.Threshold != candles.DefaultThreshold || s.HoldMs != candles.DefaultHoldMs {
		t.Errorf("detector = %v/%d", s.Threshold, s.HoldMs)
	}
	if !slices.Equal(s.Names, DefaultNames) {
		t.Errorf("Names = %v", s.Names)
	}
	if s.Storage.Backend != store.BackendSQLite || s.Storage.SQLitePath != filepath.Join(filepath.Dir(path), DefaultSQLiteFile) {
		t.Errorf("Storage = %+v", s.Storage)
	}
	if !s.LiveSync {
		t.Error("LiveSync = false by default")
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"party": {"names": ["Ann"], "candle_count": 30}, "sync": {"realtime": false}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := c.Snapshot()
	if s.CandleCount != 30 || s.ActorName != types.AnonymousName || s.From != DefaultFrom {
		t.Errorf("party = %d %q %q", s.CandleCount, s.ActorName, s.From)
	}
	if s.LiveSync {
		t.Error("LiveSync = true, want false from file")
	}
	if s.WindowSize != types.DefaultWindowSize {
		t.Errorf("WindowSize = %d", s.WindowSize)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"threshold too low", `{"detector": {"threshold": 0.001}}`, "threshold"},
		{"threshold too high", `{"detector": {"threshold": 1.5}}`, "threshold"},
		{"hold too short", `{"detector": {"hold_ms": 50}}`, "hold_ms"},
		{"hold too long", `{"detector": {"hold_ms": 6000}}`, "hold_ms"},
		{"too many candles", `{"party": {"candle_count": 101}}`, "candle_count"},
		{"negative candles", `{"party": {"candle_count": -1}}`, "candle_count"},
		{"control chars in name", `{"party": {"names": ["Ann\r\nBcc: x"]}}`, "invalid name"},
		{"unknown backend", `{"storage": {"backend": "postgres"}}`, "backend"},
		{"s3 without bucket", `{"storage": {"backend": "s3"}}`, "s3"},
		{"bad server url", `{"sync": {"server_url": "ftp://example.com"}}`, "server_url"},
		{"window not a power of two", `{"audio": {"window_size": 3000}}`, "window_size"},
		{"window too large", `{"audio": {"window_size": 32768}}`, "window_size"},
		{"log path traversal", `{"notifications": {"log": {"path": "../celebrations.log"}}}`, "log path"},
		{"malformed json", `{`, "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			err := New(path).Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetDetectorPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}

	if err := c.SetDetector(2, 800); err == nil {
		t.Error("SetDetector() accepted threshold 2")
	}
	if err := c.SetDetector(0.3, 1200); err != nil {
		t.Fatalf("SetDetector() error = %v", err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	d := reloaded.Snapshot().Detector()
	if d.Threshold != 0.3 || d.HoldMs != 1200 {
		t.Errorf("reloaded detector = %+v", d)
	}
}

func TestSnapshotHelpers(t *testing.T) {
	s := Snapshot{WebhookURL: "https://hooks.example", ServerURL: "https://party.example"}
	if !s.HasWebhook() || s.HasGraph() || s.HasLogPath() || !s.HasRemoteServer() {
		t.Errorf("helpers = %v %v %v %v", s.HasWebhook(), s.HasGraph(), s.HasLogPath(), s.HasRemoteServer())
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 32 {
		t.Errorf("len = %d, want 32", len(key))
	}
}

func TestSetLogPathRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "config.json"))
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}

	if err := c.SetLogPath(dir + "/../outside/victim.txt"); err == nil {
		t.Error("SetLogPath() accepted a path with '..'")
	}
	if got := c.Snapshot().LogPath; got != "" {
		t.Errorf("LogPath = %q after rejected update", got)
	}

	want := filepath.Join(dir, "logs", "celebrations.log")
	if err := c.SetLogPath(want); err != nil {
		t.Fatalf("SetLogPath() error = %v", err)
	}
	if err := c.SetLogPath(""); err != nil {
		t.Errorf("SetLogPath(\"\") error = %v", err)
	}
}
