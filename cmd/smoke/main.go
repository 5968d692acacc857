package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"aidpanel.org/internal/auth"
)

const (
	defaultBaseURL = "http://localhost:8080"
	// Seeded admin of the demo organization.
	defaultUser = "00000000-0000-0000-0000-000000000002"
	defaultOrg  = "00000000-0000-0000-0000-0000000000a1"
)

type client struct {
	base  string
	token string
	org   string
	http  *http.Client
}

func main() {
	base := getenv("AIDPANEL_SMOKE_URL", defaultBaseURL)
	user := getenv("AIDPANEL_SMOKE_USER", defaultUser)
	org := getenv("AIDPANEL_SMOKE_ORG", defaultOrg)

	authn, err := auth.NewAuthenticator(os.Getenv("AIDPANEL_AUTH_SECRET"),
		auth.WithIssuer(os.Getenv("AIDPANEL_AUTH_ISSUER")), auth.WithAudience(os.Getenv("AIDPANEL_AUTH_AUDIENCE")))
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}
	token, err := authn.GenerateToken(auth.Identity{ID: user}, 5*time.Minute)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	c := &client{base: base, token: token, org: org, http: &http.Client{Timeout: 5 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := c.call(ctx, http.MethodGet, "/healthz", nil, http.StatusOK); err != nil {
		log.Fatalf("healthz: %v", err)
	}

	me, err := c.call(ctx, http.MethodGet, "/v1/me/permissions", nil, http.StatusOK)
	if err != nil {
		log.Fatalf("permissions: %v", err)
	}
	role, _ := me["role"].(string)
	if role != string(auth.RoleAdmin) && role != string(auth.RoleOwner) {
		log.Fatalf("smoke user must be admin or owner, got %q", role)
	}

	started, err := c.call(ctx, http.MethodPost, "/v1/workflows/dual-approval", map[string]any{
		"needyPersonId":   "smoke-needy",
		"applicationType": "smoke",
		"requestedAmount": 1,
		"description":     "smoke test",
	}, http.StatusAccepted)
	if err != nil {
		log.Fatalf("dual approval: %v", err)
	}
	tokens, _ := started["approvalTokens"].(map[string]any)
	first, _ := tokens["first"].(string)
	if first == "" {
		log.Fatalf("no approval token in %v", started)
	}

	// The engine registers the hook asynchronously.
	var resumeErr error
	for attempt := 0; attempt < 5; attempt++ {
		_, resumeErr = c.call(ctx, http.MethodPost, "/v1/workflows/hooks/resume", map[string]any{
			"token":   first,
			"payload": map[string]any{"approved": true, "comment": "smoke"},
		}, http.StatusOK)
		if resumeErr == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	if resumeErr != nil {
		log.Fatalf("resume %s: %v", first, resumeErr)
	}

	fmt.Printf("aidpanel smoke test passed: application=%v role=%s\n", started["applicationId"], role)
}

func (c *client) call(ctx context.Context, method, path string, body any, want int) (map[string]any, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Organization-ID", c.org)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != want {
		return out, fmt.Errorf("%s %s: status %d, body %v", method, path, resp.StatusCode, out)
	}
	return out, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
