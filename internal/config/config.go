// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"

	"github.com/oszuidwest/zwfm-candles/internal/candles"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort     = 8080
	DefaultTitle       = "Happy Birthday"
	DefaultFrom        = "한나"
	DefaultBackend     = store.BackendSQLite
	DefaultSQLiteFile  = "candles.db"
	DefaultLocalFile   = "local.json"
	MinThreshold       = 0.01
	MaxThreshold       = 1.0
	MinHoldMs          = 100
	MaxHoldMs          = 5000
	MinCandleCount     = 1
	MaxCandleCount     = 100
	MaxNameLength      = 40
	MinWindowSize      = 256
	MaxWindowSize      = 16384
	DefaultJournalName = "journal.jsonl"
)

// DefaultNames are the honorees when neither the config nor the share link
// names anyone.
var DefaultNames = []string{"혜진", "성현"}

// Validation patterns define regular expressions for configuration value validation.
var (
	// Display names: printable characters only (blocks CRLF injection in emails)
	namePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
	APIKey     string `json:"api_key"`     // Key for admin REST endpoints
}

// WebConfig holds page settings.
type WebConfig struct {
	Title   string `json:"title"`    // Page title
	BaseURL string `json:"base_url"` // Public URL used for share links (empty = request host)
}

// PartyConfig holds the celebration defaults used when a share link omits them.
type PartyConfig struct {
	Names       []string `json:"names"`        // Honoree names
	From        string   `json:"from"`         // Sender shown on the page
	Theme       int      `json:"theme"`        // Gradient index
	CandleCount int      `json:"candle_count"` // Candles per room
	ActorName   string   `json:"actor_name"`   // Name credited for blows from this device
}

// DetectorConfig holds blow detection thresholds.
type DetectorConfig struct {
	Threshold float64 `json:"threshold"` // RMS above which input counts as blowing
	HoldMs    int64   `json:"hold_ms"`   // Sustained duration required for one blow
}

// AudioConfig holds audio input device settings.
type AudioConfig struct {
	Input      string `json:"input"`       // Audio input device identifier
	WindowSize int    `json:"window_size"` // RMS window length in samples
}

// S3Config holds S3-compatible row store settings.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Prefix          string `json:"prefix"`
}

// StorageConfig selects where blow events and guestbook entries are kept.
type StorageConfig struct {
	Backend    string   `json:"backend"`     // sqlite, s3, memory or local
	SQLitePath string   `json:"sqlite_path"` // Database file (empty = next to config)
	LocalPath  string   `json:"local_path"`  // Key-value file (empty = next to config)
	S3         S3Config `json:"s3"`
}

// SyncConfig points this instance at another candle server's row store.
type SyncConfig struct {
	ServerURL string `json:"server_url"`         // Remote server (empty = use own storage)
	Realtime  *bool  `json:"realtime,omitempty"` // Follow inserts live (default true)
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for celebration notifications
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for celebration events
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log"`     // Log file settings
	Email   EmailConfig   `json:"email"`   // Email settings
}

// JournalConfig holds the session journal location.
type JournalConfig struct {
	Path string `json:"path"` // Journal file (empty = platform default)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Party         PartyConfig         `json:"party"`
	Detector      DetectorConfig      `json:"detector"`
	Audio         AudioConfig         `json:"audio"`
	Storage       StorageConfig       `json:"storage"`
	Sync          SyncConfig          `json:"sync"`
	Notifications NotificationsConfig `json:"notifications"`
	Journal       JournalConfig       `json:"journal"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Web: WebConfig{
			Title: DefaultTitle,
		},
		Party: PartyConfig{
			Names:       slices.Clone(DefaultNames),
			From:        DefaultFrom,
			CandleCount: types.DefaultCandleCount,
			ActorName:   types.AnonymousName,
		},
		Detector: DetectorConfig{
			Threshold: candles.DefaultThreshold,
			HoldMs:    candles.DefaultHoldMs,
		},
		Audio: AudioConfig{
			WindowSize: types.DefaultWindowSize,
		},
		Storage: StorageConfig{
			Backend: DefaultBackend,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := ValidateDetector(c.Detector.Threshold, c.Detector.HoldMs); err != nil {
		return err
	}
	if n := c.Party.CandleCount; n < MinCandleCount || n > MaxCandleCount {
		return fmt.Errorf("invalid candle_count %d: must be %d-%d", n, MinCandleCount, MaxCandleCount)
	}
	for _, name := range c.Party.Names {
		if !validName(name) {
			return fmt.Errorf("invalid name %q: must be 1-%d printable characters", name, MaxNameLength)
		}
	}
	if !validName(c.Party.ActorName) {
		return fmt.Errorf("invalid actor_name %q: must be 1-%d printable characters", c.Party.ActorName, MaxNameLength)
	}
	if c.Party.Theme < 0 {
		return fmt.Errorf("invalid theme %d: must not be negative", c.Party.Theme)
	}
	if w := c.Audio.WindowSize; w < MinWindowSize || w > MaxWindowSize || w&(w-1) != 0 {
		return fmt.Errorf("invalid window_size %d: must be a power of two in %d-%d", w, MinWindowSize, MaxWindowSize)
	}
	if p := c.Notifications.Log.Path; p != "" {
		if err := util.ValidatePath("log path", p); err != nil {
			return err
		}
	}
	switch c.Storage.Backend {
	case store.BackendSQLite, store.BackendS3, store.BackendMemory, store.BackendLocal:
	default:
		return fmt.Errorf("invalid storage backend %q: must be sqlite, s3, memory or local", c.Storage.Backend)
	}
	if c.Storage.Backend == store.BackendS3 && (c.Storage.S3.Bucket == "" || c.Storage.S3.AccessKeyID == "" || c.Storage.S3.SecretAccessKey == "") {
		return fmt.Errorf("invalid s3 storage: bucket, access_key_id and secret_access_key are required")
	}
	if c.Sync.ServerURL != "" {
		u, err := url.Parse(c.Sync.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid server_url %q: must be an http(s) URL", c.Sync.ServerURL)
		}
	}
	return nil
}

// ValidateDetector checks detector thresholds against the accepted ranges.
func ValidateDetector(threshold float64, holdMs int64) error {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return fmt.Errorf("invalid threshold %v: must be %v-%v", threshold, MinThreshold, MaxThreshold)
	}
	if holdMs < MinHoldMs || holdMs > MaxHoldMs {
		return fmt.Errorf("invalid hold_ms %d: must be %d-%d", holdMs, MinHoldMs, MaxHoldMs)
	}
	return nil
}

func validName(name string) bool {
	return name != "" && len([]rune(name)) <= MaxNameLength && namePattern.MatchString(name)
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	// Web defaults
	if c.Web.Title == "" {
		c.Web.Title = DefaultTitle
	}
	// Party defaults
	if len(c.Party.Names) == 0 {
		c.Party.Names = slices.Clone(DefaultNames)
	}
	if c.Party.From == "" {
		c.Party.From = DefaultFrom
	}
	if c.Party.CandleCount == 0 {
		c.Party.CandleCount = types.DefaultCandleCount
	}
	if c.Party.ActorName == "" {
		c.Party.ActorName = types.AnonymousName
	}
	// Detector defaults
	if c.Detector.Threshold == 0 {
		c.Detector.Threshold = candles.DefaultThreshold
	}
	if c.Detector.HoldMs == 0 {
		c.Detector.HoldMs = candles.DefaultHoldMs
	}
	// Audio defaults
	if c.Audio.WindowSize == 0 {
		c.Audio.WindowSize = types.DefaultWindowSize
	}
	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// GetAPIKey returns the API key for admin REST endpoints.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetDetector validates and updates the blow detector thresholds and saves
// the configuration.
func (c *Config) SetDetector(threshold float64, holdMs int64) error {
	if err := ValidateDetector(threshold, holdMs); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detector.Threshold = threshold
	c.Detector.HoldMs = holdMs
	return c.saveLocked()
}

// SetActorName updates the name credited for blows from this device and saves
// the configuration.
func (c *Config) SetActorName(name string) error {
	if !validName(name) {
		return fmt.Errorf("invalid actor_name %q: must be 1-%d printable characters", name, MaxNameLength)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Party.ActorName = name
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the log file path and saves the configuration.
// An empty path disables the log.
func (c *Config) SetLogPath(path string) error {
	if path != "" {
		if err := util.ValidatePath("log path", path); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort    int
	FFmpegPath string
	APIKey     string

	// Web
	Title   string
	BaseURL string

	// Party
	Names       []string
	From        string
	Theme       int
	CandleCount int
	ActorName   string

	// Detector
	Threshold float64
	HoldMs    int64

	// Audio
	AudioInput string
	WindowSize int

	// Storage
	Storage store.Config

	// Sync
	ServerURL string
	LiveSync  bool

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Journal
	JournalPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.filePath)

	return Snapshot{
		// System
		WebPort:    cmp.Or(c.System.Port, DefaultWebPort),
		FFmpegPath: c.System.FFmpegPath,
		APIKey:     c.System.APIKey,

		// Web
		Title:   cmp.Or(c.Web.Title, DefaultTitle),
		BaseURL: c.Web.BaseURL,

		// Party (with defaults)
		Names:       slices.Clone(c.Party.Names),
		From:        cmp.Or(c.Party.From, DefaultFrom),
		Theme:       c.Party.Theme,
		CandleCount: cmp.Or(c.Party.CandleCount, types.DefaultCandleCount),
		ActorName:   cmp.Or(c.Party.ActorName, types.AnonymousName),

		// Detector (with defaults)
		Threshold: cmp.Or(c.Detector.Threshold, candles.DefaultThreshold),
		HoldMs:    cmp.Or(c.Detector.HoldMs, candles.DefaultHoldMs),

		// Audio
		AudioInput: c.Audio.Input,
		WindowSize: cmp.Or(c.Audio.WindowSize, types.DefaultWindowSize),

		// Storage (files default to the config directory)
		Storage: store.Config{
			Backend:    cmp.Or(c.Storage.Backend, DefaultBackend),
			SQLitePath: cmp.Or(c.Storage.SQLitePath, filepath.Join(dir, DefaultSQLiteFile)),
			LocalPath:  cmp.Or(c.Storage.LocalPath, filepath.Join(dir, DefaultLocalFile)),
			S3: store.S3Config{
				Endpoint:        c.Storage.S3.Endpoint,
				Bucket:          c.Storage.S3.Bucket,
				AccessKeyID:     c.Storage.S3.AccessKeyID,
				SecretAccessKey: c.Storage.S3.SecretAccessKey,
				Prefix:          c.Storage.S3.Prefix,
			},
		},

		// Sync
		ServerURL: c.Sync.ServerURL,
		LiveSync:  c.Sync.Realtime == nil || *c.Sync.Realtime,

		// Notifications
		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		// Journal
		JournalPath: c.Journal.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasRemoteServer reports whether events are kept on another candle server.
func (s Snapshot) HasRemoteServer() bool {
	return s.ServerURL != ""
}

// Detector returns the detector thresholds.
func (s Snapshot) Detector() candles.DetectorConfig {
	return candles.DetectorConfig{Threshold: s.Threshold, HoldMs: s.HoldMs}
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
