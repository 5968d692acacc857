// Package httpapi is the HTTP surface of aidpanel: health endpoints, the
// caller's permission view and the workflow handoff routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"aidpanel.org/internal/auth"
	"aidpanel.org/internal/obs"
	"aidpanel.org/internal/ratelimit"
	"aidpanel.org/internal/workflow"
)

const serviceName = "aidpanel-api"

// Pinger is a dependency probed by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every named dependency.
type ReadyProbe map[string]Pinger

// Check returns the first failure keyed by dependency name.
func (rp ReadyProbe) Check(ctx context.Context) map[string]string {
	failed := map[string]string{}
	for name, p := range rp {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

// Config carries the collaborators of the HTTP layer.
type Config struct {
	Version       string
	Resolver      *auth.Resolver
	Authenticator Authenticator
	Limiter       *ratelimit.Limiter
	Profiles      ratelimit.Profiles
	Engine        workflow.Engine
	Ready         ReadyProbe

	CORSOrigins        []string
	SlackSigningSecret string
	MaxBodyBytes       int64

	// Now overrides the clock used for Retry-After and Slack timestamps.
	Now func() time.Time
}

// API is the HTTP layer.
type API struct {
	router      chi.Router
	resolver    *auth.Resolver
	authn       Authenticator
	limiter     *ratelimit.Limiter
	profiles    ratelimit.Profiles
	engine      workflow.Engine
	ready       ReadyProbe
	version     string
	origins     []string
	slackSecret string
	maxBody     int64
	now         func() time.Time
}

// New wires the router. Resolver, Limiter and Engine are required.
func New(cfg Config) (*API, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, errors.New("httpapi: resolver is required")
	case cfg.Limiter == nil:
		return nil, errors.New("httpapi: limiter is required")
	case cfg.Engine == nil:
		return nil, errors.New("httpapi: workflow engine is required")
	}
	for _, name := range []string{ratelimit.ProfileStandard, ratelimit.ProfileSensitive, ratelimit.ProfileDonationCreate,
		ratelimit.ProfileSMS, ratelimit.ProfileEmail, ratelimit.ProfilePublic} {
		if _, ok := cfg.Profiles.Lookup(name); !ok {
			return nil, errors.New("httpapi: missing rate limit profile " + name)
		}
	}
	a := &API{
		resolver:    cfg.Resolver,
		authn:       cfg.Authenticator,
		limiter:     cfg.Limiter,
		profiles:    cfg.Profiles,
		engine:      cfg.Engine,
		ready:       cfg.Ready,
		version:     cfg.Version,
		origins:     cfg.CORSOrigins,
		slackSecret: cfg.SlackSigningSecret,
		maxBody:     cfg.MaxBodyBytes,
		now:         cfg.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders)
	r.Use(a.corsHandler())
	r.Use(MaxBodyBytes(a.maxBody))
	r.Use(a.authenticate)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Get("/v1/rate-limits", a.RateLimits)

	r.With(a.RateLimit(ratelimit.ProfileStandard, ratelimit.UserKey), a.Authorize(auth.Requirement{})).
		Get("/v1/me/permissions", a.MyPermissions)

	r.Route("/v1/workflows", func(r chi.Router) {
		reviewers := auth.Requirement{AllowedRoles: []auth.Role{auth.RoleAdmin, auth.RoleModerator}}

		r.With(a.RateLimit(ratelimit.ProfileStandard, ratelimit.UserKey),
			a.Authorize(auth.Requirement{Permission: auth.PermApproveApplications})).
			Post("/approve-application", a.approveApplication)
		r.With(a.RateLimit(ratelimit.ProfileSensitive, ratelimit.UserKey),
			a.Authorize(auth.Requirement{Permission: auth.PermCreate})).
			Post("/dual-approval", a.dualApproval)
		r.With(a.RateLimit(ratelimit.ProfileDonationCreate, ratelimit.UserKey),
			a.Authorize(auth.Requirement{Permission: auth.PermCreate})).
			Post("/process-donation", a.processDonation)
		// The handler also counts the send against its channel profile.
		r.With(a.RateLimit(ratelimit.ProfileStandard, ratelimit.UserKey), a.Authorize(reviewers)).
			Post("/send-bulk-message", a.sendBulkMessage)
		r.With(a.RateLimit(ratelimit.ProfileStandard, ratelimit.UserKey), a.Authorize(reviewers)).
			Post("/hooks/resume", a.resumeHook)
		r.With(a.RateLimit(ratelimit.ProfilePublic, ratelimit.IPKey)).
			Post("/slack/message", a.slackMessage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	a.router = r
}

func (a *API) corsHandler() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", orgHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           600,
	}
	if len(a.origins) > 0 {
		opts.AllowedOrigins = a.origins
	} else {
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool { return isLocalOrigin(origin) }
	}
	return cors.Handler(opts)
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if failed := a.ready.Check(ctx); len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// MyPermissions reports the caller's role and effective permissions in the
// resolved organization.
func (a *API) MyPermissions(w http.ResponseWriter, r *http.Request) {
	m, _ := auth.MembershipFromContext(r.Context())
	userID, _ := auth.UserIDFromContext(r.Context())
	effective := a.resolver.Table().Effective(m.Role, m.Grants)
	perms := make([]string, 0, len(effective))
	for p := range effective {
		perms = append(perms, string(p))
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":         userID,
		"organizationId": m.OrganizationID,
		"organization":   m.OrganizationName,
		"role":           m.Role,
		"permissions":    perms,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var errBodyRequired = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
