package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/config"
	"github.com/oszuidwest/zwfm-candles/internal/greeting"
	"github.com/oszuidwest/zwfm-candles/internal/notify"
	"github.com/oszuidwest/zwfm-candles/internal/party"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

const (
	// MaxGuestbookEntries is the number of guestbook entries returned by guestbook/list.
	MaxGuestbookEntries = 100
	// MaxBoardMessages is the number of board messages returned by messages/list.
	MaxBoardMessages = 100
	// commandTimeout bounds row store calls and notification tests made for a command.
	commandTimeout = 15 * time.Second
)

// ErrAdminRequired is returned for commands that change server settings on a
// connection that did not present the API key.
var ErrAdminRequired = errors.New("this command requires the admin API key")

// Client is the WebSocket connection a command arrived on.
type Client struct {
	Room  string
	Admin bool // the connection presented the API key
}

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands for one room at a time.
type CommandHandler struct {
	cfg      *config.Config
	party    *party.Manager
	notifier *notify.CelebrationNotifier
	rnd      func() float64
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, p *party.Manager, n *notify.CelebrationNotifier) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		party:    p,
		notifier: n,
		rnd:      rand.Float64,
	}
}

// Handle processes a WebSocket command from c and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "candles/blow", "mic/enable")
func (h *CommandHandler) Handle(c Client, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	defer triggerStatusUpdate()

	if adminCommand(cmd.Type) && !c.Admin {
		slog.Warn("rejected admin command", "type", cmd.Type, "room", c.Room)
		SendError(send, cmd.Type, ErrAdminRequired)
		return
	}

	room := c.Room
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "candles":
		h.handleCandles(room, action, cmd, send)
	case "mic":
		h.handleMic(c, action, cmd, send)
	case "detector":
		h.handleDetector(action, cmd, send)
	case "actor":
		h.handleActor(action, cmd, send)
	case "guestbook":
		h.handleGuestbook(room, action, cmd, send)
	case "messages":
		h.handleMessages(room, action, cmd, send)
	case "wish":
		h.handleWish(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "status":
		// Status is sent after every command, so nothing else to do here.
		slog.Debug("status requested", "room", room)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}
}

// adminCommand reports whether a command changes server-wide settings.
func adminCommand(cmdType string) bool {
	switch cmdType {
	case "detector/update", "actor/update":
		return true
	}
	return strings.HasPrefix(cmdType, "notifications/")
}

// --- Namespace handlers ---

// handleCandles routes candles/* commands
func (h *CommandHandler) handleCandles(room, action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "blow":
		HandleCommand(cmd, send, func(req *BlowRequest) (any, error) {
			s, err := h.party.Session(room)
			if err != nil {
				return nil, err
			}
			return s.Blow(strings.TrimSpace(req.ActorName))
		})
	case "relight":
		HandleCommand(cmd, send, func(*struct{}) (any, error) {
			s, err := h.party.Session(room)
			if err != nil {
				return nil, err
			}
			return nil, s.Relight()
		})
	default:
		slog.Warn("unknown candles action", "action", action)
	}
}

// handleMic routes mic/* commands
// Guests may toggle detection; choosing another input device needs the API key.
func (h *CommandHandler) handleMic(c Client, action string, cmd WSCommand, send chan<- any) {
	var enable bool
	switch action {
	case "enable":
		enable = true
	case "disable":
	default:
		slog.Warn("unknown mic action", "action", action)
		return
	}

	HandleCommand(cmd, send, func(req *MicRequest) (any, error) {
		if c.Room != h.party.PrimaryRoom() {
			return nil, fmt.Errorf("the microphone belongs to room %s", h.party.PrimaryRoom())
		}
		if enable && req.Input != "" && req.Input != h.cfg.AudioInput() {
			if !c.Admin {
				return nil, ErrAdminRequired
			}
			if err := h.cfg.SetAudioInput(req.Input); err != nil {
				return nil, err
			}
		}
		s, err := h.party.Session(c.Room)
		if err != nil {
			return nil, err
		}
		return nil, s.SetMicEnabled(enable)
	})
}

// handleDetector routes detector/* commands
func (h *CommandHandler) handleDetector(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		HandleCommand(cmd, send, func(req *DetectorUpdateRequest) (any, error) {
			return nil, h.party.SetDetector(req.Threshold, req.HoldMs)
		})
	case "get":
		SendSuccess(send, cmd.Type, h.cfg.Snapshot().Detector().Settings())
	default:
		slog.Warn("unknown detector action", "action", action)
	}
}

// handleActor routes actor/* commands
func (h *CommandHandler) handleActor(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		HandleCommand(cmd, send, func(req *ActorUpdateRequest) (any, error) {
			return nil, h.cfg.SetActorName(strings.TrimSpace(req.Name))
		})
	default:
		slog.Warn("unknown actor action", "action", action)
	}
}

// handleGuestbook routes guestbook/* commands
func (h *CommandHandler) handleGuestbook(room, action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "add":
		var req GuestbookAddRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			entry := req.Entry(room)
			if err := h.party.Rows().InsertEntry(ctx, entry); err != nil {
				return nil, err
			}
			return entry, nil
		})
	case "list":
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			entries, err := h.party.Rows().EntriesByRoom(ctx, room)
			if err != nil {
				return nil, err
			}
			return entries[:min(len(entries), MaxGuestbookEntries)], nil
		})
	default:
		slog.Warn("unknown guestbook action", "action", action)
	}
}

// handleMessages routes messages/* commands. Anyone in the room may take a
// message down.
func (h *CommandHandler) handleMessages(room, action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "add":
		var req MessageAddRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			msg := req.Message(room)
			if err := h.party.Rows().InsertMessage(ctx, msg); err != nil {
				return nil, err
			}
			return msg, nil
		})
	case "list":
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			messages, err := h.party.Rows().MessagesByRoom(ctx, room)
			if err != nil {
				return nil, err
			}
			return messages[:min(len(messages), MaxBoardMessages)], nil
		})
	case "delete":
		var req MessageDeleteRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := h.party.Rows().DeleteMessage(ctx, room, req.ID); err != nil {
				return nil, err
			}
			slog.Info("board message deleted", "room", room, "id", req.ID)
			return nil, nil
		})
	default:
		slog.Warn("unknown messages action", "action", action)
	}
}

// handleWish routes wish/* commands
func (h *CommandHandler) handleWish(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "next":
		HandleCommand(cmd, send, func(req *WishNextRequest) (any, error) {
			i := greeting.NextWish(req.Current, h.rnd)
			return map[string]any{"index": i, "wish": greeting.Wish(i)}, nil
		})
	default:
		slog.Warn("unknown wish action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *WebhookUpdateRequest) (any, error) {
				return nil, h.cfg.SetWebhookURL(req.URL)
			})
		case "test":
			h.handleTest(cmd, send, func(ctx context.Context, cfg *config.Snapshot) error {
				return notify.SendTestWebhook(ctx, cfg.WebhookURL)
			})
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *LogUpdateRequest) (any, error) {
				if req.Path != "" {
					if err := util.ValidatePath("path", req.Path); err != nil {
						return nil, err
					}
					if err := util.CheckPathWritable(filepath.Dir(req.Path)); err != nil {
						return nil, err
					}
				}
				return nil, h.cfg.SetLogPath(req.Path)
			})
		case "test":
			h.handleTest(cmd, send, func(_ context.Context, cfg *config.Snapshot) error {
				return notify.WriteTestLog(cfg.LogPath)
			})
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			HandleCommand(cmd, send, func(req *EmailUpdateRequest) (any, error) {
				if err := h.cfg.SetGraphConfig(req.TenantID, req.ClientID, req.ClientSecret, req.FromAddress, req.Recipients); err != nil {
					return nil, err
				}
				if h.notifier != nil {
					h.notifier.InvalidateGraphClient()
				}
				return nil, nil
			})
		case "test":
			h.handleTest(cmd, send, func(ctx context.Context, cfg *config.Snapshot) error {
				return notify.SendTestEmail(ctx, notify.BuildGraphConfig(cfg))
			})
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleTest runs a notification test in the background.
func (h *CommandHandler) handleTest(cmd WSCommand, send chan<- any, test func(context.Context, *config.Snapshot) error) {
	cfg := h.cfg.Snapshot()
	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return nil, test(ctx, &cfg)
	})
}

// StatusFor builds the status message for room.
func (h *CommandHandler) StatusFor(room string, base types.WSStatusResponse) (types.WSStatusResponse, error) {
	s, err := h.party.Session(room)
	if err != nil {
		return base, err
	}
	st, err := s.Status()
	if err != nil {
		return base, err
	}
	base.Session = st
	return base, nil
}
