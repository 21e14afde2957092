// Package notifier implements the polymorphic crash/error sink described in
// spec.md §4.7: a chat-channel variant, a generic webhook variant, and a
// composite that tries the channel first and falls back to the webhook on
// failure. Every call is fire-and-forget with a bounded outbound timeout; a
// failed notification never rolls back the state change that triggered it.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gamepanel/control-plane/internal/store"
)

// ErrorPayload mirrors the client-reported error body accepted by
// POST /notifications/error.
type ErrorPayload struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	URL       string `json:"url,omitempty"`
	Component string `json:"component,omitempty"`
}

// Sink is the capability set the Scheduler and Control Plane API drive.
type Sink interface {
	Crash(serverName string)
	Error(payload ErrorPayload)
}

const outboundTimeout = 5 * time.Second

// ChannelNotifier posts rich messages to a chat channel using a bot token
// and channel ids pulled from the bot settings bag at call time.
type ChannelNotifier struct {
	store      *store.Store
	httpClient *http.Client
	apiBase    string
	log        *slog.Logger
}

// NewChannelNotifier builds a ChannelNotifier. apiBase is the chat
// provider's message-post endpoint template, e.g.
// "https://discord.com/api/v10/channels/%s/messages".
func NewChannelNotifier(st *store.Store, apiBase string, logger *slog.Logger) *ChannelNotifier {
	return &ChannelNotifier{
		store:      st,
		httpClient: &http.Client{Timeout: outboundTimeout},
		apiBase:    apiBase,
		log:        logger,
	}
}

func (c *ChannelNotifier) Crash(serverName string) {
	if err := c.postCrash(serverName); err != nil {
		c.log.Warn("notifier_channel_crash_failed", slog.String("error", err.Error()))
	}
}

func (c *ChannelNotifier) Error(payload ErrorPayload) {
	if err := c.postError(payload); err != nil {
		c.log.Warn("notifier_channel_error_failed", slog.String("error", err.Error()))
	}
}

func (c *ChannelNotifier) postCrash(serverName string) error {
	content := fmt.Sprintf("⚠️ **%s** has stopped unexpectedly and was marked crashed.", serverName)
	return c.post("crashes_channel_id", content)
}

func (c *ChannelNotifier) postError(payload ErrorPayload) error {
	content := fmt.Sprintf("Error reported: %s", payload.Message)
	if payload.Component != "" {
		content += fmt.Sprintf(" (component: %s)", payload.Component)
	}
	return c.post("errors_channel_id", content)
}

func (c *ChannelNotifier) post(channelSettingKey, content string) error {
	botToken, err := c.store.GetSetting(store.ScopeBot, "bot_token")
	if err != nil {
		return fmt.Errorf("look up bot token: %w", err)
	}
	if botToken == "" {
		return fmt.Errorf("no bot token configured")
	}
	channelID, err := c.store.GetSetting(store.ScopeBot, channelSettingKey)
	if err != nil {
		return fmt.Errorf("look up %s: %w", channelSettingKey, err)
	}
	if channelID == "" {
		return fmt.Errorf("no %s configured", channelSettingKey)
	}

	body, _ := json.Marshal(map[string]string{"content": content})
	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()

	url := fmt.Sprintf(c.apiBase, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post channel message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("channel post rejected with status %d", resp.StatusCode)
	}
	return nil
}

// WebhookNotifier posts a flat JSON payload to a single configured URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{url: url, httpClient: &http.Client{Timeout: outboundTimeout}, log: logger}
}

func (w *WebhookNotifier) Crash(serverName string) {
	if err := w.post(map[string]string{"event": "crash", "server_name": serverName}); err != nil {
		w.log.Warn("notifier_webhook_crash_failed", slog.String("error", err.Error()))
	}
}

func (w *WebhookNotifier) Error(payload ErrorPayload) {
	fields := map[string]string{"event": "error", "message": payload.Message}
	if payload.Component != "" {
		fields["component"] = payload.Component
	}
	if err := w.post(fields); err != nil {
		w.log.Warn("notifier_webhook_error_failed", slog.String("error", err.Error()))
	}
}

func (w *WebhookNotifier) post(fields map[string]string) error {
	if w.url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	body, _ := json.Marshal(fields)
	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Composite tries the channel path first and falls back to the webhook
// only if the channel attempt failed.
type Composite struct {
	channel *ChannelNotifier
	webhook *WebhookNotifier
	log     *slog.Logger
}

func NewComposite(channel *ChannelNotifier, webhook *WebhookNotifier, logger *slog.Logger) *Composite {
	return &Composite{channel: channel, webhook: webhook, log: logger}
}

func (c *Composite) Crash(serverName string) {
	if c.channel != nil {
		if err := c.channel.postCrash(serverName); err == nil {
			return
		} else {
			c.log.Warn("notifier_channel_fallback", slog.String("error", err.Error()))
		}
	}
	if c.webhook != nil {
		c.webhook.Crash(serverName)
	}
}

func (c *Composite) Error(payload ErrorPayload) {
	if c.channel != nil {
		if err := c.channel.postError(payload); err == nil {
			return
		} else {
			c.log.Warn("notifier_channel_fallback", slog.String("error", err.Error()))
		}
	}
	if c.webhook != nil {
		c.webhook.Error(payload)
	}
}
