package httpapi

import (
	"net/http"
	"strconv"

	"aidpanel.org/internal/audit"
	"aidpanel.org/internal/obs"
	"aidpanel.org/internal/ratelimit"
)

// RateLimit counts each request against the named profile, keyed by keyFn.
func (a *API) RateLimit(profile string, keyFn ratelimit.KeyFunc) func(http.Handler) http.Handler {
	p := a.profiles.MustLookup(profile)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.allow(w, r, p, keyFn) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow applies p to the request and writes the 429 reply when it is denied.
func (a *API) allow(w http.ResponseWriter, r *http.Request, p ratelimit.Profile, keyFn ratelimit.KeyFunc) bool {
	key := keyFn(r)
	res, err := a.limiter.Allow(r.Context(), key, p)
	if err != nil {
		obs.Log("error", "rate limit store failure", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"profile":    p.Name,
			"error":      err.Error(),
		})
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if res.Allowed {
		return true
	}

	retry := res.RetryAfter(a.now())
	h.Set("Retry-After", strconv.Itoa(retry))
	_ = audit.LogEvent(r.Context(), audit.EventRateLimited, map[string]any{
		"profile": p.Name,
		"key":     key,
		"path":    r.URL.Path,
	})
	payload := map[string]any{
		"error":      "too many requests",
		"code":       "RATE_LIMIT_EXCEEDED",
		"retryAfter": retry,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusTooManyRequests, payload)
	return false
}

type profileView struct {
	Name     string `json:"name"`
	Max      int    `json:"max"`
	WindowMS int64  `json:"windowMs"`
}

// RateLimits lists the configured profiles.
func (a *API) RateLimits(w http.ResponseWriter, r *http.Request) {
	all := a.profiles.All()
	out := make([]profileView, 0, len(all))
	for _, p := range all {
		out = append(out, profileView{Name: p.Name, Max: p.Max, WindowMS: p.Window.Milliseconds()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}
