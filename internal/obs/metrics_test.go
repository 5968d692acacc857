package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/healthz?verbose=1":           "/healthz",
		"/v1/workflows/dual-approval":  "/v1/workflows/dual-approval",
		"/v1/workflows/dual-approval/": "/v1/workflows/dual-approval",
		"/v1/workflows/hooks/resume":   "/v1/workflows/hooks/resume",
		"/v1/workflows/nope":           "/v1/workflows/:unknown",
		"/wp-login.php":                "other",
		"/v1/me/permissions?org=abc":   "/v1/me/permissions",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentPassesStatusThrough(t *testing.T) {
	Init()
	Init()

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/workflows/process-donation", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestLogKeepsReservedKeys(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Log("warn", "authorization denied", map[string]any{"msg": "override", "user_id": "u-1"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "authorization denied" || entry["level"] != "warn" {
		t.Fatalf("reserved keys overridden: %v", entry)
	}
	if entry["user_id"] != "u-1" {
		t.Fatalf("missing field: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts: %v", entry)
	}
}
