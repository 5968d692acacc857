package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"aidpanel.org/internal/auth"
	"aidpanel.org/internal/ratelimit"
	"aidpanel.org/internal/workflow"
)

const (
	testSecret = "test-secret"
	testOrg    = "org-1"
)

// members maps "user|org" to a membership. An empty org is the default one.
type members map[string]auth.Membership

func (m members) Membership(_ context.Context, userID, orgID string) (auth.Membership, error) {
	if mm, ok := m[userID+"|"+orgID]; ok {
		return mm, nil
	}
	return auth.Membership{}, auth.ErrNoMembership
}

func testMembers() members {
	out := members{}
	for user, role := range map[string]auth.Role{
		"u-owner":  auth.RoleOwner,
		"u-admin":  auth.RoleAdmin,
		"u-mod":    auth.RoleModerator,
		"u-user":   auth.RoleUser,
		"u-viewer": auth.RoleViewer,
	} {
		m := auth.Membership{UserID: user, OrganizationID: testOrg, OrganizationName: "Relief", Role: role, OrgActive: true}
		out[user+"|"+testOrg] = m
		out[user+"|"] = m
	}
	out["u-suspended|"+testOrg] = auth.Membership{UserID: "u-suspended", OrganizationID: testOrg, Role: auth.RoleAdmin,
		OrgActive: true, SubscriptionStatus: auth.SubscriptionSuspended}
	return out
}

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	engine *workflow.LocalEngine
	authn  *auth.Authenticator
}

type envOption func(*Config)

func withProfiles(ps ratelimit.Profiles) envOption {
	return func(c *Config) { c.Profiles = ps }
}

func withEngine(e workflow.Engine) envOption {
	return func(c *Config) { c.Engine = e }
}

func withReady(rp ReadyProbe) envOption {
	return func(c *Config) { c.Ready = rp }
}

func withSlackSecret(secret string) envOption {
	return func(c *Config) { c.SlackSigningSecret = secret }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	authn, err := auth.NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	store, err := ratelimit.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	engine := workflow.NewLocalEngine()
	cfg := Config{
		Version:       "test",
		Resolver:      auth.NewResolver(auth.DefaultRoleTable(), testMembers()),
		Authenticator: authn,
		Limiter:       ratelimit.New(store),
		Profiles:      ratelimit.DefaultProfiles(1000, time.Minute),
		Engine:        engine,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	api, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, engine: engine, authn: authn}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tok, err := e.authn.GenerateToken(auth.Identity{ID: userID}, time.Hour)
	if err != nil {
		e.t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

// do sends a request as userID ("" for anonymous) within testOrg.
func (e *testEnv) do(method, path, userID string, body any) *http.Response {
	e.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
		req.Header.Set(orgHeader, testOrg)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	body := decodeBody(t, resp)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, want, body)
	}
	return body
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)

	body := expectStatus(t, env.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
	expectStatus(t, env.do(http.MethodGet, "/v1/info", "", nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/nope", "", nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodDelete, "/healthz", "", nil), http.StatusMethodNotAllowed)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsFailedDependency(t *testing.T) {
	env := newTestEnv(t, withReady(ReadyProbe{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}))

	body := expectStatus(t, env.do(http.MethodGet, "/readyz", "", nil), http.StatusServiceUnavailable)
	failed, _ := body["failed"].(map[string]any)
	if _, ok := failed["redis"]; !ok || len(failed) != 1 {
		t.Fatalf("expected only redis to fail, got %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/healthz", "", nil).Body.Close()

	resp := env.do(http.MethodGet, "/metrics", "", nil)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "http_requests_total") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}
}

func TestMyPermissions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/me/permissions", "", nil)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate on 401")
	}
	body := expectStatus(t, resp, http.StatusUnauthorized)
	if body["error"] != "authentication required" {
		t.Fatalf("unexpected error: %v", body["error"])
	}

	body = expectStatus(t, env.do(http.MethodGet, "/v1/me/permissions", "u-mod", nil), http.StatusOK)
	if body["role"] != string(auth.RoleModerator) || body["organizationId"] != testOrg || body["userId"] != "u-mod" {
		t.Fatalf("unexpected body: %v", body)
	}
	perms, _ := body["permissions"].([]any)
	has := func(p auth.Permission) bool {
		for _, v := range perms {
			if v == string(p) {
				return true
			}
		}
		return false
	}
	if !has(auth.PermApproveApplications) || has(auth.PermManageFinances) {
		t.Fatalf("unexpected moderator permissions: %v", perms)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	body := expectStatus(t, resp, http.StatusUnauthorized)
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestUnknownOrganizationForbidden(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/me/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+env.token("u-admin"))
	req.Header.Set(orgHeader, "org-other")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	body := expectStatus(t, resp, http.StatusForbidden)
	if body["error"] != "no organization membership" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestSuspendedSubscriptionForbidden(t *testing.T) {
	env := newTestEnv(t)
	body := expectStatus(t, env.do(http.MethodGet, "/v1/me/permissions", "u-suspended", nil), http.StatusForbidden)
	if body["error"] != "organization access is suspended" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	profiles, err := ratelimit.NewProfiles(
		ratelimit.Profile{Name: ratelimit.ProfileStandard, Window: time.Minute, Max: 2},
		ratelimit.Profile{Name: ratelimit.ProfileSensitive, Window: time.Hour, Max: 5},
		ratelimit.Profile{Name: ratelimit.ProfileDonationCreate, Window: time.Hour, Max: 5},
		ratelimit.Profile{Name: ratelimit.ProfileSMS, Window: time.Hour, Max: 1},
		ratelimit.Profile{Name: ratelimit.ProfileEmail, Window: time.Hour, Max: 5},
		ratelimit.Profile{Name: ratelimit.ProfilePublic, Window: time.Hour, Max: 5},
	)
	if err != nil {
		t.Fatalf("NewProfiles: %v", err)
	}
	env := newTestEnv(t, withProfiles(profiles))

	resp := env.do(http.MethodGet, "/v1/me/permissions", "u-viewer", nil)
	if resp.Header.Get("X-RateLimit-Limit") != "2" || resp.Header.Get("X-RateLimit-Remaining") != "1" || resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Fatalf("unexpected rate headers: %v", resp.Header)
	}
	expectStatus(t, resp, http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/v1/me/permissions", "u-viewer", nil), http.StatusOK)

	resp = env.do(http.MethodGet, "/v1/me/permissions", "u-viewer", nil)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After")
	}
	body := expectStatus(t, resp, http.StatusTooManyRequests)
	if body["code"] != "RATE_LIMIT_EXCEEDED" || body["error"] != "too many requests" {
		t.Fatalf("unexpected 429 body: %v", body)
	}
	if ra, _ := body["retryAfter"].(float64); ra < 1 {
		t.Fatalf("retryAfter = %v", body["retryAfter"])
	}

	// Buckets are per user.
	expectStatus(t, env.do(http.MethodGet, "/v1/me/permissions", "u-mod", nil), http.StatusOK)
}

func uniformProfiles(t *testing.T, limit int, overrides ...ratelimit.Profile) ratelimit.Profiles {
	t.Helper()
	byName := map[string]ratelimit.Profile{}
	for _, name := range []string{ratelimit.ProfileStandard, ratelimit.ProfileSensitive, ratelimit.ProfileDonationCreate,
		ratelimit.ProfileSMS, ratelimit.ProfileEmail, ratelimit.ProfilePublic} {
		byName[name] = ratelimit.Profile{Name: name, Window: time.Hour, Max: limit}
	}
	for _, p := range overrides {
		byName[p.Name] = p
	}
	list := make([]ratelimit.Profile, 0, len(byName))
	for _, p := range byName {
		list = append(list, p)
	}
	ps, err := ratelimit.NewProfiles(list...)
	if err != nil {
		t.Fatalf("NewProfiles: %v", err)
	}
	return ps
}

func TestBulkMessageChannelProfiles(t *testing.T) {
	env := newTestEnv(t, withProfiles(uniformProfiles(t, 10,
		ratelimit.Profile{Name: ratelimit.ProfileSMS, Window: time.Hour, Max: 1})))

	msg := map[string]any{"messageType": "sms", "content": "Distribution on Friday"}
	expectStatus(t, env.do(http.MethodPost, "/v1/workflows/send-bulk-message", "u-admin", msg), http.StatusAccepted)
	body := expectStatus(t, env.do(http.MethodPost, "/v1/workflows/send-bulk-message", "u-admin", msg), http.StatusTooManyRequests)
	if body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("unexpected 429 body: %v", body)
	}
	msg["messageType"] = "email"
	expectStatus(t, env.do(http.MethodPost, "/v1/workflows/send-bulk-message", "u-admin", msg), http.StatusAccepted)
}

func TestProtectedRoutesLimitBeforeAuthorization(t *testing.T) {
	routes := []string{
		"/v1/workflows/approve-application",
		"/v1/workflows/dual-approval",
		"/v1/workflows/process-donation",
		"/v1/workflows/send-bulk-message",
		"/v1/workflows/hooks/resume",
	}
	for _, path := range routes {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv(t, withProfiles(uniformProfiles(t, 2)))

			var got []int
			for i := 0; i < 5; i++ {
				resp := env.do(http.MethodPost, path, "", map[string]any{})
				resp.Body.Close()
				got = append(got, resp.StatusCode)
			}
			want := []int{http.StatusUnauthorized, http.StatusUnauthorized,
				http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}
			if !slices.Equal(got, want) {
				t.Fatalf("anonymous statuses = %v, want %v", got, want)
			}
		})
	}
}

func TestBulkMessageMalformedBodiesAreCounted(t *testing.T) {
	env := newTestEnv(t, withProfiles(uniformProfiles(t, 2)))

	var got []int
	for i := 0; i < 4; i++ {
		resp := env.do(http.MethodPost, "/v1/workflows/send-bulk-message", "u-mod", "{not json")
		resp.Body.Close()
		got = append(got, resp.StatusCode)
	}
	want := []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests, http.StatusTooManyRequests}
	if !slices.Equal(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without resolver")
	}
	store, _ := ratelimit.NewMemoryStore()
	_, err := New(Config{
		Resolver: auth.NewResolver(auth.DefaultRoleTable(), testMembers()),
		Limiter:  ratelimit.New(store),
		Engine:   workflow.NewLocalEngine(),
	})
	if err == nil {
		t.Fatal("expected error without profiles")
	}
}

func TestRateLimitsListing(t *testing.T) {
	env := newTestEnv(t)
	body := expectStatus(t, env.do(http.MethodGet, "/v1/rate-limits", "", nil), http.StatusOK)
	profiles, _ := body["profiles"].([]any)
	if len(profiles) != 8 {
		t.Fatalf("expected 8 profiles, got %d", len(profiles))
	}
}

func TestCORSOrigins(t *testing.T) {
	allowed := func(env *testEnv, origin string) string {
		req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/healthz", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Origin", origin)
		resp, err := env.srv.Client().Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		resp.Body.Close()
		return resp.Header.Get("Access-Control-Allow-Origin")
	}

	// Without configured origins only local development origins pass.
	env := newTestEnv(t)
	if got := allowed(env, "http://localhost:3000"); got != "http://localhost:3000" {
		t.Fatalf("localhost origin not allowed: %q", got)
	}
	if got := allowed(env, "https://panel.example.org"); got != "" {
		t.Fatalf("remote origin allowed without configuration: %q", got)
	}

	env = newTestEnv(t, func(c *Config) { c.CORSOrigins = []string{"https://panel.example.org"} })
	if got := allowed(env, "https://panel.example.org"); got != "https://panel.example.org" {
		t.Fatalf("configured origin not allowed: %q", got)
	}
	if got := allowed(env, "http://localhost:3000"); got != "" {
		t.Fatalf("localhost allowed despite explicit origins: %q", got)
	}
}
