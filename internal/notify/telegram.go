// Package notify delivers operator alerts to a Telegram chat via the Bot API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Notifier sends alerts to a Telegram chat. Notifications are enabled only
// when both botToken and chatID are non-empty; a disabled notifier is a no-op.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyCooldown alerts that the resource monitor halted a session.
func (n *Notifier) NotifyCooldown(ctx context.Context) error {
	return n.Send(ctx, "<b>Resource Cooldown</b>\nHost limits breached. Session stopped.")
}

// NotifySessionEnd sends a session summary.
func (n *Notifier) NotifySessionEnd(ctx context.Context, cause string, profit float64, trades int) error {
	msg := fmt.Sprintf("<b>Session Finished</b>\nCause: %s\nPnL: %.2f USD\nTrades: %d", cause, profit, trades)
	return n.Send(ctx, msg)
}

// NotifyLock alerts that the sequencer converged and locked parameters.
func (n *Notifier) NotifyLock(ctx context.Context, cycles int, profit float64) error {
	msg := fmt.Sprintf("<b>Parameters Locked</b>\nConverged after cycle %d\nPnL: %.2f USD", cycles, profit)
	return n.Send(ctx, msg)
}

// NotifyRollback alerts that an emergency snapshot was taken.
func (n *Notifier) NotifyRollback(ctx context.Context, cycle int, dir string) error {
	msg := fmt.Sprintf("<b>Emergency Snapshot</b>\nCycle %d failed hard.\nState saved to <code>%s</code>", cycle, dir)
	return n.Send(ctx, msg)
}
