package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event       string `json:"event"`
	Room        string `json:"room,omitempty"`
	CandleCount int    `json:"candle_count,omitempty"`
	BlowCount   int    `json:"blow_count,omitempty"`
	TopActor    string `json:"top_actor,omitempty"`
	Message     string `json:"message,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// SendCelebrationWebhook notifies the webhook that every candle in a room is out.
func SendCelebrationWebhook(ctx context.Context, webhookURL string, c *Celebration) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:       "candles_out",
		Room:        c.Room,
		CandleCount: c.CandleCount,
		BlowCount:   c.BlowCount,
		TopActor:    c.TopActor,
		Message:     c.Summary(),
		Timestamp:   timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
