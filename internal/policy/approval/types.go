// Package approval tracks tool calls waiting for a human decision.
package approval

import (
	"errors"
	"time"
)

var (
	// ErrApprovalTimeout indicates the approval request timed out.
	ErrApprovalTimeout = errors.New("approval: request timed out")

	// ErrRequestNotFound indicates the approval request was not found.
	ErrRequestNotFound = errors.New("approval: request not found")

	// ErrMaxPendingExceeded indicates too many pending approval requests.
	ErrMaxPendingExceeded = errors.New("approval: max pending requests exceeded")
)

// Decision is the type of approval decision.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
)

// Request is a tool call waiting for approval.
type Request struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	ToolName   string    `json:"tool_name"`
	Permission string    `json:"permission,omitempty"`
	Arguments  string    `json:"arguments"`
	Reason     string    `json:"reason"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Result is the outcome of an approval request.
type Result struct {
	Approved   bool      `json:"approved"`
	Message    string    `json:"message,omitempty"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
	Decision   Decision  `json:"decision"`
}

// Notifier is told about new and resolved requests. A notifier may answer a
// request by calling Manager.HandleResponse, synchronously or later.
type Notifier interface {
	NotifyRequest(req *Request) error
	NotifyResolved(req *Request, result *Result) error
}

// AuditLogger records approval events.
type AuditLogger interface {
	LogRequest(req *Request) error
	LogDecision(req *Request, result *Result) error
}
