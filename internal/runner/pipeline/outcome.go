package pipeline

import (
	"time"

	"coda/internal/tools"
)

// Kind classifies how a tool call ended.
type Kind string

const (
	KindSuccess              Kind = ""
	KindValidation           Kind = "validation_error"
	KindPermissionDenied     Kind = "permission_denied"
	KindApprovalRejected     Kind = "approval_rejected"
	KindExternalPathDisabled Kind = "external_path_disabled"
	KindShellCommandBlocked  Kind = "shell_command_blocked"
	KindExecutionFailure     Kind = "tool_execution_failed"
)

// Outcome is the terminal state of one call.
type Outcome struct {
	Kind   Kind
	Result tools.Result

	// Text is what the model sees as the tool output.
	Text string

	// Approved is set when a human (or the approval callback) allowed the call.
	Approved bool

	Duration time.Duration

	// Err is set only when the call was cut short by cancellation.
	Err error
}

// Failed reports whether the call did not produce a successful result.
func (o Outcome) Failed() bool {
	return o.Kind != KindSuccess
}

func blocked(kind Kind, msg string) Outcome {
	r := tools.Failure(string(kind), msg)
	return Outcome{Kind: kind, Result: r, Text: r.Text()}
}
