package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"aidpanel.org/internal/audit"
	"aidpanel.org/internal/auth"
	"aidpanel.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	orgHeader  = "X-Organization-ID"
)

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

var errMissingToken = errors.New("missing bearer token")

// authenticate attaches the caller identity when a bearer token is present.
// Anonymous requests pass through; Authorize rejects them where it matters.
func (a *API) authenticate(next http.Handler) http.Handler {
	if a.authn == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if r.Method == http.MethodOptions || strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		id, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				obs.Log("error", "authentication failed", map[string]any{
					"request_id": RequestIDFromContext(r.Context()),
					"error":      err.Error(),
				})
			}
			unauthorized(w, r, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// Authorize resolves the caller's membership in the organization named by
// X-Organization-ID and rejects the request unless req holds.
func (a *API) Authorize(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := auth.IdentityFromContext(r.Context())
			res := a.resolver.Check(r.Context(), id, r.Header.Get(orgHeader), req)
			if !res.Success {
				_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
					"status": res.Response.Status,
					"reason": res.Response.Body["error"],
				})
				writeDenial(w, r, res.Response)
				return
			}
			ctx := auth.ContextWithMembership(r.Context(), *res.Membership)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeDenial(w http.ResponseWriter, r *http.Request, resp *auth.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	body := make(map[string]any, len(resp.Body)+1)
	for k, v := range resp.Body {
		body[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, resp.Status, body)
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="aidpanel", error="invalid_token"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
