// Package auth resolves the two admission policies from spec.md §4.6: a
// user principal backed by an AuthSession row (cookie or bearer token) and
// a bot principal backed by a shared X-Bot-Api-Key header.
package auth

import (
	"context"
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/gamepanel/control-plane/internal/store"
)

const (
	sessionCookieName = "gamepanel_session"
	botAPIKeyHeader   = "X-Bot-Api-Key"
)

// PrincipalKind distinguishes how a request was authenticated.
type PrincipalKind string

const (
	KindUser PrincipalKind = "user"
	KindBot  PrincipalKind = "bot"
)

// Principal is the opaque authenticated identity attached to a request
// context; downstream handlers never see the cookie/token/key directly.
type Principal struct {
	Kind        PrincipalKind
	ID          string
	DisplayName string
}

type principalContextKey struct{}

// FromContext returns the Principal attached by a Resolver middleware, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Resolver computes request principals against the bot secret and the
// sessions table.
type Resolver struct {
	store     *store.Store
	botAPIKey string
}

func NewResolver(st *store.Store, botAPIKey string) *Resolver {
	return &Resolver{store: st, botAPIKey: botAPIKey}
}

// resolve implements "compute is-bot-principal first; otherwise fall
// through to session resolution" from spec.md §4.6.
func (r *Resolver) resolve(req *http.Request) (Principal, bool) {
	if key := req.Header.Get(botAPIKeyHeader); key != "" {
		if r.botAPIKey != "" && hmac.Equal([]byte(key), []byte(r.botAPIKey)) {
			return Principal{Kind: KindBot, ID: "bot"}, true
		}
		return Principal{}, false
	}

	token := sessionToken(req)
	if token == "" {
		return Principal{}, false
	}
	session, ok, err := r.store.GetAuthSession(token, store.Now().Unix())
	if err != nil || !ok {
		return Principal{}, false
	}
	return Principal{Kind: KindUser, ID: session.PrincipalID, DisplayName: session.DisplayName}, true
}

func sessionToken(req *http.Request) string {
	if c, err := req.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"Authentication required.","details":null}}`))
}

// RequireUser admits only resolved user-session principals.
func (r *Resolver) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, ok := r.resolve(req)
		if !ok || p.Kind != KindUser {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalContextKey{}, p)))
	})
}

// RequireEither admits either a bot or a user-session principal.
func (r *Resolver) RequireEither(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, ok := r.resolve(req)
		if !ok {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalContextKey{}, p)))
	})
}

// Open attaches no principal and admits every request; used for the
// unauthenticated endpoints in spec.md §6.
func Open(next http.Handler) http.Handler { return next }
