// Package notify sends celebration notifications when the last candle in a
// room goes out: a webhook, a JSON lines log and Microsoft Graph email.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-candles/internal/config"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// sendTimeout bounds one notification channel, retries included.
const sendTimeout = 2 * maxRetryWait

// Celebration describes a room whose candles have all gone out.
type Celebration struct {
	Room        string
	CandleCount int
	BlowCount   int
	TopActor    string
}

// NewCelebration summarises a session status.
func NewCelebration(st *types.SessionStatus) *Celebration {
	c := &Celebration{
		Room:        st.Room,
		CandleCount: len(st.Candles),
		BlowCount:   st.BlowCount,
	}
	if len(st.Score) > 0 {
		c.TopActor = st.Score[0].ActorName
	}
	return c
}

// Summary returns a one line description.
func (c *Celebration) Summary() string {
	if c.TopActor == "" {
		return fmt.Sprintf("All %d candles in %s are out!", c.CandleCount, c.Room)
	}
	return fmt.Sprintf("All %d candles in %s are out! Top blower: %s", c.CandleCount, c.Room, c.TopActor)
}

// sentFlags tracks which channels have fired for a room since its last relight.
type sentFlags struct {
	webhook bool
	email   bool
	log     bool
}

// CelebrationNotifier sends each configured notification once per room until
// the room is relit. It is safe for concurrent use.
type CelebrationNotifier struct {
	cfg *config.Config

	// mu protects the fields below
	mu   sync.Mutex
	sent map[string]*sentFlags

	// Cached Graph client for email notifications
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewCelebrationNotifier returns a notifier configured with the given config.
func NewCelebrationNotifier(cfg *config.Config) *CelebrationNotifier {
	return &CelebrationNotifier{cfg: cfg, sent: make(map[string]*sentFlags)}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *CelebrationNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *CelebrationNotifier) getOrCreateGraphClient(cfg *types.GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// Observe re-arms a room's notifications once any of its candles is lit.
func (n *CelebrationNotifier) Observe(st types.SessionStatus) {
	if st.LitCount == 0 {
		return
	}
	n.mu.Lock()
	delete(n.sent, st.Room)
	n.mu.Unlock()
}

// Celebrate sends every configured notification that has not yet fired for
// the room. Sending happens in the background.
func (n *CelebrationNotifier) Celebrate(st types.SessionStatus) {
	cfg := n.cfg.Snapshot()
	c := NewCelebration(&st)

	n.mu.Lock()
	flags, ok := n.sent[c.Room]
	if !ok {
		flags = &sentFlags{}
		n.sent[c.Room] = flags
	}
	n.mu.Unlock()

	n.trySend(&flags.webhook, cfg.HasWebhook(), func(ctx context.Context) {
		logNotifyResult(func() error { return SendCelebrationWebhook(ctx, cfg.WebhookURL, c) }, "webhook", c.Room)
	})
	n.trySend(&flags.email, cfg.HasGraph(), func(ctx context.Context) {
		graphCfg := BuildGraphConfig(&cfg)
		logNotifyResult(func() error { return n.sendCelebrationEmail(ctx, graphCfg, c) }, "email", c.Room)
	})
	n.trySend(&flags.log, cfg.HasLogPath(), func(context.Context) {
		logNotifyResult(func() error { return LogCelebration(cfg.LogPath, c) }, "log", c.Room)
	})
}

// trySend sends a notification if the condition is met and not already sent.
func (n *CelebrationNotifier) trySend(sent *bool, condition bool, sender func(ctx context.Context)) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if !shouldSend {
		return
	}

	n.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		sender(ctx)
	})
}

// Wait blocks until notifications in flight have finished.
func (n *CelebrationNotifier) Wait() {
	n.wg.Wait()
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
func BuildGraphConfig(cfg *config.Snapshot) *types.GraphConfig {
	return &types.GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// sendCelebrationEmail sends the celebration email using the cached Graph client.
func (n *CelebrationNotifier) sendCelebrationEmail(ctx context.Context, cfg *types.GraphConfig, c *Celebration) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	subject := "[" + AppName + "] All candles are out - " + c.Room
	body := fmt.Sprintf(
		"%s\n\n"+
			"Room:    %s\n"+
			"Candles: %d\n"+
			"Blows:   %d\n"+
			"Time:    %s",
		c.Summary(), c.Room, c.CandleCount, c.BlowCount, util.HumanTime(),
	)

	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}
