package workflow

import "time"

// Workflow names understood by the engine.
const (
	NameApproveApplication = "approve-application"
	NameDualApproval       = "dual-approval"
	NameProcessDonation    = "process-donation"
	NameBulkMessage        = "bulk-message"
)

// Run acknowledges a started workflow.
type Run struct {
	ID        string    `json:"runId"`
	Workflow  string    `json:"workflow"`
	StartedAt time.Time `json:"startedAt"`
}

// ApplicationApproval starts the single-step approval of an aid application.
type ApplicationApproval struct {
	ApplicationID   string   `json:"applicationId" validate:"required,max=128"`
	NeedyPersonID   string   `json:"needyPersonId" validate:"required,max=128"`
	ApplicationType string   `json:"applicationType" validate:"required,max=64"`
	Amount          *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	ApprovedBy      string   `json:"approvedBy" validate:"required"`
}

// DualApproval starts an application that needs two independent approvals.
type DualApproval struct {
	ID              string  `json:"id" validate:"required,max=128"`
	NeedyPersonID   string  `json:"needyPersonId" validate:"required,max=128"`
	ApplicationType string  `json:"applicationType" validate:"required,max=64"`
	RequestedAmount float64 `json:"requestedAmount" validate:"required,gt=0"`
	Description     string  `json:"description" validate:"max=2000"`
	SubmittedBy     string  `json:"submittedBy" validate:"required"`
}

// ApprovalTokens returns the hook tokens the first and second approver resume.
func (d DualApproval) ApprovalTokens() (first, second string) {
	return "approval:first:" + d.ID, "approval:second:" + d.ID
}

// DefaultCurrency applies when a donation omits its currency.
const DefaultCurrency = "TRY"

// DonationProcessing starts receipt and bookkeeping for a donation.
type DonationProcessing struct {
	ID           string  `json:"id" validate:"required,max=128"`
	DonorName    string  `json:"donorName" validate:"required,max=256"`
	DonorEmail   string  `json:"donorEmail,omitempty" validate:"omitempty,email"`
	DonorPhone   string  `json:"donorPhone,omitempty" validate:"omitempty,max=32"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	Currency     string  `json:"currency" validate:"required,len=3,alpha"`
	DonationType string  `json:"donationType" validate:"required,max=64"`
	Category     string  `json:"category" validate:"required,max=64"`
	CreatedBy    string  `json:"createdBy" validate:"required"`
}

// Message channels for bulk sends.
const (
	MessageSMS   = "sms"
	MessageEmail = "email"
)

// BulkMessage starts a bulk SMS or email send.
type BulkMessage struct {
	MessageType     string         `json:"messageType" validate:"required,oneof=sms email"`
	Content         string         `json:"content" validate:"required,max=10000"`
	Subject         string         `json:"subject,omitempty" validate:"max=256"`
	RecipientFilter map[string]any `json:"recipientFilter"`
	SenderID        string         `json:"senderId" validate:"required"`
}

// SlackMessage is forwarded to a workflow listening on a Slack channel.
type SlackMessage struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	ThreadTS  string `json:"threadTs,omitempty"`
}

// SlackChannelToken is the hook token a workflow waits on for channel messages.
func SlackChannelToken(channel string) string {
	return "slack:channel:" + channel
}
