package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"coda/internal/policy/approval"
	"coda/internal/tools"
)

// Call is one tool invocation as the pipeline sees it.
type Call struct {
	ID        string
	Name      string
	Arguments string

	// Args are the decoded arguments after hooks and handle expansion.
	Args      map[string]any
	SessionID string

	// Reasons explains why approval is requested.
	Reasons []string

	// Forced is set when the approval may not be waived (dotenv access,
	// unsafe shell command, external path).
	Forced bool
}

// ApprovalFunc asks whether call may run. It may block on a human.
type ApprovalFunc func(ctx context.Context, call Call, def tools.Definition) (bool, error)

// AutoApprove approves everything.
func AutoApprove(context.Context, Call, tools.Definition) (bool, error) {
	return true, nil
}

// ManagerApprover routes approvals through a pending-request manager.
func ManagerApprover(m *approval.Manager) ApprovalFunc {
	return func(ctx context.Context, call Call, def tools.Definition) (bool, error) {
		args := call.Arguments
		if call.Args != nil {
			if raw, err := json.Marshal(call.Args); err == nil {
				args = string(raw)
			}
		}
		res, err := m.RequestApproval(ctx, &approval.Request{
			CallID:     call.ID,
			ToolName:   call.Name,
			Permission: def.PermissionName(),
			Arguments:  args,
			Reason:     strings.Join(call.Reasons, "; "),
			SessionID:  call.SessionID,
		})
		if err != nil {
			return false, err
		}
		return res.Approved, nil
	}
}
