package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aidpanel.org/internal/obs"
	"aidpanel.org/internal/workflow"
)

const slackMaxSkew = 5 * time.Minute

type slackEnvelope struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	Event     *slackEvent `json:"event"`
}

type slackEvent struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	BotID    string `json:"bot_id"`
}

// slackMessage forwards channel messages from the Slack Events API to the
// workflow listening on that channel.
func (a *API) slackMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable body")
		return
	}
	if a.slackSecret != "" {
		if err := verifySlackSignature(a.slackSecret, r.Header, body, a.now()); err != nil {
			obs.Log("warn", "slack signature rejected", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err.Error(),
			})
			writeError(w, r, http.StatusUnauthorized, "invalid slack signature")
			return
		}
	}

	var env slackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed JSON body")
		return
	}

	switch env.Type {
	case "url_verification":
		writeJSON(w, http.StatusOK, map[string]any{"challenge": env.Challenge})
		return
	case "event_callback":
		ev := env.Event
		if ev == nil || ev.Type != "message" || ev.BotID != "" || ev.Channel == "" {
			break
		}
		msg := workflow.SlackMessage{
			ChannelID: ev.Channel,
			UserID:    ev.User,
			UserName:  ev.User,
			Text:      ev.Text,
			Timestamp: ev.TS,
			ThreadTS:  ev.ThreadTS,
		}
		err := a.engine.Resume(r.Context(), workflow.SlackChannelToken(ev.Channel), msg)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "message forwarded to workflow"})
		case errors.Is(err, workflow.ErrHookNotFound):
			obs.Log("info", "no listener for slack channel", map[string]any{"channel": ev.Channel})
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "no active listener for this channel"})
		default:
			a.engineFailure(w, r, "slack", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// verifySlackSignature checks the v0 request signature and rejects stale timestamps.
func verifySlackSignature(secret string, h http.Header, body []byte, now time.Time) error {
	rawTS := h.Get("X-Slack-Request-Timestamp")
	sig := h.Get("X-Slack-Signature")
	if rawTS == "" || sig == "" {
		return errors.New("missing signature headers")
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return errors.New("malformed timestamp")
	}
	if d := now.Sub(time.Unix(ts, 0)); d > slackMaxSkew || d < -slackMaxSkew {
		return errors.New("stale timestamp")
	}
	got, ok := strings.CutPrefix(sig, "v0=")
	if !ok {
		return errors.New("unsupported signature version")
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return errors.New("malformed signature")
	}
	if !hmac.Equal(gotMAC, slackSignature(secret, rawTS, body)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func slackSignature(secret, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return mac.Sum(nil)
}
