package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"aidpanel.org/internal/audit"
	"aidpanel.org/internal/auth"
	"aidpanel.org/internal/ids"
	"aidpanel.org/internal/obs"
	"aidpanel.org/internal/ratelimit"
	"aidpanel.org/internal/workflow"
)

type approveApplicationRequest struct {
	ApplicationID   string   `json:"applicationId"`
	NeedyPersonID   string   `json:"needyPersonId"`
	ApplicationType string   `json:"applicationType"`
	Amount          *float64 `json:"amount"`
}

type dualApprovalRequest struct {
	ApplicationID   string  `json:"applicationId"`
	NeedyPersonID   string  `json:"needyPersonId"`
	ApplicationType string  `json:"applicationType"`
	RequestedAmount float64 `json:"requestedAmount"`
	Description     string  `json:"description"`
}

type donationRequest struct {
	DonationID   string  `json:"donationId"`
	DonorName    string  `json:"donorName"`
	DonorEmail   string  `json:"donorEmail"`
	DonorPhone   string  `json:"donorPhone"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	DonationType string  `json:"donationType"`
	Category     string  `json:"category"`
}

type bulkMessageRequest struct {
	MessageType     string         `json:"messageType"`
	Content         string         `json:"content"`
	Subject         string         `json:"subject"`
	RecipientFilter map[string]any `json:"recipientFilter"`
}

type resumeHookRequest struct {
	Token   string `json:"token"`
	Payload any    `json:"payload"`
}

func (a *API) approveApplication(w http.ResponseWriter, r *http.Request) {
	var req approveApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	input := workflow.ApplicationApproval{
		ApplicationID:   strings.TrimSpace(req.ApplicationID),
		NeedyPersonID:   strings.TrimSpace(req.NeedyPersonID),
		ApplicationType: strings.TrimSpace(req.ApplicationType),
		Amount:          req.Amount,
		ApprovedBy:      callerID(r),
	}
	run, ok := a.start(w, r, workflow.NameApproveApplication, input)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":       true,
		"runId":         run.ID,
		"applicationId": input.ApplicationID,
		"message":       "application approval started",
	})
}

func (a *API) dualApproval(w http.ResponseWriter, r *http.Request) {
	var req dualApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(req.ApplicationID)
	if id == "" {
		id = ids.NewUUID()
	}
	input := workflow.DualApproval{
		ID:              id,
		NeedyPersonID:   strings.TrimSpace(req.NeedyPersonID),
		ApplicationType: strings.TrimSpace(req.ApplicationType),
		RequestedAmount: req.RequestedAmount,
		Description:     req.Description,
		SubmittedBy:     callerID(r),
	}
	run, ok := a.start(w, r, workflow.NameDualApproval, input)
	if !ok {
		return
	}
	first, second := input.ApprovalTokens()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":       true,
		"runId":         run.ID,
		"applicationId": id,
		"message":       "dual approval started",
		"approvalTokens": map[string]string{
			"first":  first,
			"second": second,
		},
	})
}

func (a *API) processDonation(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = workflow.DefaultCurrency
	}
	input := workflow.DonationProcessing{
		ID:           strings.TrimSpace(req.DonationID),
		DonorName:    strings.TrimSpace(req.DonorName),
		DonorEmail:   strings.TrimSpace(req.DonorEmail),
		DonorPhone:   strings.TrimSpace(req.DonorPhone),
		Amount:       req.Amount,
		Currency:     currency,
		DonationType: strings.TrimSpace(req.DonationType),
		Category:     strings.TrimSpace(req.Category),
		CreatedBy:    callerID(r),
	}
	run, ok := a.start(w, r, workflow.NameProcessDonation, input)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"runId":      run.ID,
		"donationId": input.ID,
		"message":    "donation processing started",
	})
}

func (a *API) sendBulkMessage(w http.ResponseWriter, r *http.Request) {
	var req bulkMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	messageType := strings.ToLower(strings.TrimSpace(req.MessageType))

	profile := ratelimit.ProfileStandard
	switch messageType {
	case workflow.MessageSMS:
		profile = ratelimit.ProfileSMS
	case workflow.MessageEmail:
		profile = ratelimit.ProfileEmail
	}
	if !a.allow(w, r, a.profiles.MustLookup(profile), ratelimit.UserKey) {
		return
	}

	filter := req.RecipientFilter
	if filter == nil {
		filter = map[string]any{}
	}
	input := workflow.BulkMessage{
		MessageType:     messageType,
		Content:         req.Content,
		Subject:         req.Subject,
		RecipientFilter: filter,
		SenderID:        callerID(r),
	}
	run, ok := a.start(w, r, workflow.NameBulkMessage, input)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"runId":   run.ID,
		"message": "bulk " + messageType + " send started",
	})
}

func (a *API) resumeHook(w http.ResponseWriter, r *http.Request) {
	var req resumeHookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	payload := map[string]any{}
	switch p := req.Payload.(type) {
	case nil:
	case map[string]any:
		for k, v := range p {
			payload[k] = v
		}
	default:
		writeError(w, r, http.StatusBadRequest, "payload must be an object")
		return
	}
	payload["approvedBy"] = callerID(r)
	payload["approvedAt"] = a.now().UTC().Format(time.RFC3339)

	if err := a.engine.Resume(r.Context(), token, payload); err != nil {
		a.engineFailure(w, r, "resume", err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventHookResumed, map[string]any{"token": token})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "hook resumed",
		"token":   token,
	})
}

// start validates input and hands it to the engine. On failure it has already
// written the response.
func (a *API) start(w http.ResponseWriter, r *http.Request, name string, input any) (workflow.Run, bool) {
	if err := workflow.Validate(input); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return workflow.Run{}, false
	}
	run, err := a.engine.Start(r.Context(), name, input)
	if err != nil {
		a.engineFailure(w, r, name, err)
		return workflow.Run{}, false
	}
	_ = audit.LogEvent(r.Context(), audit.EventWorkflowStarted, map[string]any{
		"workflow": name,
		"run_id":   run.ID,
	})
	return run, true
}

func (a *API) engineFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, workflow.ErrHookNotFound) {
		writeError(w, r, http.StatusNotFound, "hook not found")
		return
	}
	obs.Log("error", "workflow engine call failed", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"op":         op,
		"error":      err.Error(),
	})
	writeError(w, r, http.StatusBadGateway, "workflow engine unavailable")
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), workflow.ErrInvalidInput.Error()+": ")
}

func callerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
