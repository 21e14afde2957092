package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gamepanel/control-plane/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := FromContext(r.Context())
		w.Header().Set("X-Principal-Kind", string(p.Kind))
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireUserAcceptsValidSession(t *testing.T) {
	st := newTestStore(t)
	if err := st.UpsertAuthSession(store.AuthSession{Token: "tok1", PrincipalID: "u1", ExpiresAt: store.Now().Unix() + 3600}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	r := NewResolver(st, "bot-secret")

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "tok1"})
	rr := httptest.NewRecorder()
	r.RequireUser(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Principal-Kind") != string(KindUser) {
		t.Fatalf("expected user principal, got %q", rr.Header().Get("X-Principal-Kind"))
	}
}

func TestRequireUserRejectsExpiredSession(t *testing.T) {
	st := newTestStore(t)
	if err := st.UpsertAuthSession(store.AuthSession{Token: "tok1", PrincipalID: "u1", ExpiresAt: store.Now().Unix() - 10}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	r := NewResolver(st, "bot-secret")

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "tok1"})
	rr := httptest.NewRecorder()
	r.RequireUser(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireEitherAcceptsBotKey(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st, "bot-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/servers/mc/start", nil)
	req.Header.Set(botAPIKeyHeader, "bot-secret")
	rr := httptest.NewRecorder()
	r.RequireEither(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Principal-Kind") != string(KindBot) {
		t.Fatalf("expected bot principal, got %q", rr.Header().Get("X-Principal-Kind"))
	}
}

func TestRequireEitherRejectsWrongBotKey(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st, "bot-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/servers/mc/start", nil)
	req.Header.Set(botAPIKeyHeader, "wrong")
	rr := httptest.NewRecorder()
	r.RequireEither(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestBearerTokenFallback(t *testing.T) {
	st := newTestStore(t)
	if err := st.UpsertAuthSession(store.AuthSession{Token: "tok2", PrincipalID: "u2", ExpiresAt: store.Now().Unix() + 3600}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	r := NewResolver(st, "bot-secret")

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer tok2")
	rr := httptest.NewRecorder()
	r.RequireUser(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
