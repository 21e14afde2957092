package auth

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gamepanel/control-plane/internal/config"
	"github.com/gamepanel/control-plane/internal/metrics"
)

// RateLimiter enforces a global limiter plus one per-IP limiter, both built
// on golang.org/x/time/rate token buckets.
type RateLimiter struct {
	cfg    config.RateLimitConfig
	global *rate.Limiter
	reg    *metrics.Registry

	mu    sync.Mutex
	perIP map[string]*rate.Limiter
}

func NewRateLimiter(cfg config.RateLimitConfig, reg *metrics.Registry) *RateLimiter {
	return &RateLimiter{
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		reg:    reg,
		perIP:  map[string]*rate.Limiter{},
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r) {
			if rl.reg != nil {
				rl.reg.IncRateLimited()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"throttled","message":"Rate limit exceeded.","details":null}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(r *http.Request) bool {
	if !rl.global.Allow() {
		return false
	}
	return rl.limiterFor(parseIP(r.RemoteAddr)).Allow()
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.perIP[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rl.cfg.PerIPRPS), rl.cfg.PerIPBurst)
		rl.perIP[ip] = lim
	}
	return lim
}

func parseIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
