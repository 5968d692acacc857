package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"aidpanel.org/internal/auth"
)

// KeyFunc derives the caller key of a request.
type KeyFunc func(r *http.Request) string

// addressHeaders are consulted in order after X-Forwarded-For.
var addressHeaders = []string{"X-Real-IP", "CF-Connecting-IP", "X-Client-IP"}

// IPKey returns the first X-Forwarded-For address, then the first of the other
// proxy address headers, then the connection address. Requests with none of
// these share the UnknownKey bucket.
func IPKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, h := range addressHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return UnknownKey
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

// UserKey returns the authenticated user id, falling back to IPKey.
func UserKey(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + id
	}
	return IPKey(r)
}
