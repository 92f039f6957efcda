package server

import (
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// Request types for WebSocket commands and REST endpoints with validation
// tags. Names are limited to keep journal lines and emails readable.

// --- Candles ---

// BlowRequest is the request body for candles/blow.
type BlowRequest struct {
	ActorName string `json:"actor_name" validate:"omitempty,max=64"`
}

// MicRequest is the request body for mic/enable and mic/disable. The device
// is optional and replaces the configured input.
type MicRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}

// DetectorUpdateRequest is the request body for detector/update.
type DetectorUpdateRequest struct {
	Threshold float64 `json:"threshold" validate:"required,gte=0.01,lte=1"`
	HoldMs    int64   `json:"hold_ms" validate:"required,gte=100,lte=5000"`
}

// ActorUpdateRequest is the request body for actor/update.
type ActorUpdateRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// --- Guestbook ---

// GuestbookAddRequest is the request body for guestbook/add and
// POST /api/rooms/{room}/guestbook.
type GuestbookAddRequest struct {
	ID        string `json:"id" validate:"omitempty,max=64"`
	Name      string `json:"name" validate:"omitempty,max=64"`
	Message   string `json:"message" validate:"required,max=1000"`
	CreatedAt string `json:"created_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Entry converts the request into a guestbook entry for room.
func (r *GuestbookAddRequest) Entry(room string) *types.GuestbookEntry {
	return &types.GuestbookEntry{
		ID:        r.ID,
		Name:      r.Name,
		Message:   r.Message,
		Room:      room,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

// --- Message board ---

// MessageAddRequest is the request body for messages/add and
// POST /api/rooms/{room}/messages.
type MessageAddRequest struct {
	ID        string `json:"id" validate:"omitempty,max=64"`
	Text      string `json:"text" validate:"required,max=500"`
	CreatedAt string `json:"created_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Message converts the request into a board message for room.
func (r *MessageAddRequest) Message(room string) *types.Message {
	return &types.Message{
		ID:        r.ID,
		Text:      r.Text,
		Room:      room,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

// MessageDeleteRequest is the request body for messages/delete.
type MessageDeleteRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

// BlowInsertRequest is the request body for POST /api/rooms/{room}/blows.
type BlowInsertRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	ActorName   string `json:"actor_name" validate:"omitempty,max=64"`
	CandleIndex int    `json:"candle_index" validate:"gte=0,lte=99"`
	CreatedAt   string `json:"created_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Event converts the request into a blow event for room.
func (r *BlowInsertRequest) Event(room string) *types.BlowEvent {
	return &types.BlowEvent{
		ID:          r.ID,
		ActorName:   r.ActorName,
		CandleIndex: r.CandleIndex,
		Room:        room,
		CreatedAt:   parseTime(r.CreatedAt),
	}
}

// --- Wishes ---

// WishNextRequest is the request body for wish/next.
type WishNextRequest struct {
	Current int `json:"current" validate:"gte=0"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// parseTime parses an RFC 3339 timestamp. Invalid or empty input yields the
// zero time, which the store replaces with the insert time.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
