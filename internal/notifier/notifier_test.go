package notifier

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gamepanel/control-plane/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestChannelNotifierPostsCrashMessage(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		if r.Header.Get("Authorization") != "Bot tok123" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t)
	_ = st.SetSetting(store.ScopeBot, "bot_token", "tok123")
	_ = st.SetSetting(store.ScopeBot, "crashes_channel_id", "chan1")

	c := NewChannelNotifier(st, srv.URL+"/%s", testLogger())
	c.Crash("mc")

	if received["content"] == "" {
		t.Fatalf("expected a posted message, got %+v", received)
	}
}

func TestChannelNotifierSkipsWithoutConfiguredChannel(t *testing.T) {
	st := newTestStore(t)
	_ = st.SetSetting(store.ScopeBot, "bot_token", "tok123")
	c := NewChannelNotifier(st, "http://127.0.0.1:0/%s", testLogger())
	// No crashes_channel_id set; postCrash must fail locally without any
	// network attempt.
	if err := c.postCrash("mc"); err == nil {
		t.Fatalf("expected error when channel id is unset")
	}
}

func TestCompositeFallsBackToWebhookOnChannelFailure(t *testing.T) {
	var gotWebhook bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWebhook = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := newTestStore(t) // no bot token/channel configured -> channel post fails
	channel := NewChannelNotifier(st, "http://127.0.0.1:0/%s", testLogger())
	webhook := NewWebhookNotifier(srv.URL, testLogger())
	composite := NewComposite(channel, webhook, testLogger())

	composite.Crash("mc")

	if !gotWebhook {
		t.Fatalf("expected webhook fallback to be invoked")
	}
}

func TestWebhookNotifierNoURLConfigured(t *testing.T) {
	w := NewWebhookNotifier("", testLogger())
	// Must not panic; error is logged and swallowed.
	w.Crash("mc")
}
