package storage

import (
	"context"
	"database/sql"
	"time"

	"coda/internal/policy/approval"
)

var _ approval.AuditLogger = (*DB)(nil)

// ApprovalRecord is one audited approval request and its decision, if any.
type ApprovalRecord struct {
	Request   approval.Request
	Decision  approval.Decision
	Message   string
	DecidedBy string
	DecidedAt time.Time
}

// LogRequest records a new approval request.
func (db *DB) LogRequest(req *approval.Request) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO approvals
			(id, session_id, call_id, tool_name, permission, arguments, reason, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, req.CallID, req.ToolName, req.Permission, req.Arguments, req.Reason, req.CreatedAt.UTC(),
	)
	return err
}

// LogDecision records how a request was resolved. A decision for an unlogged
// request inserts the request as well.
func (db *DB) LogDecision(req *approval.Request, result *approval.Result) error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO approvals
				(id, session_id, call_id, tool_name, permission, arguments, reason, requested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ID, req.SessionID, req.CallID, req.ToolName, req.Permission, req.Arguments, req.Reason, req.CreatedAt.UTC(),
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			"UPDATE approvals SET decision = ?, message = ?, decided_by = ?, decided_at = ? WHERE id = ?",
			string(result.Decision), result.Message, result.ApprovedBy, result.DecidedAt.UTC(), req.ID,
		)
		return err
	})
}

// ListApprovals returns the audit trail of a session, oldest first.
func (db *DB) ListApprovals(ctx context.Context, sessionID string) ([]ApprovalRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, call_id, tool_name, permission, arguments, reason, requested_at,
			COALESCE(decision, ''), COALESCE(message, ''), COALESCE(decided_by, ''), decided_at
		FROM approvals WHERE session_id = ? ORDER BY requested_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		var decision string
		var decidedAt sql.NullTime
		if err := rows.Scan(
			&r.Request.ID, &r.Request.SessionID, &r.Request.CallID, &r.Request.ToolName,
			&r.Request.Permission, &r.Request.Arguments, &r.Request.Reason, &r.Request.CreatedAt,
			&decision, &r.Message, &r.DecidedBy, &decidedAt,
		); err != nil {
			return nil, err
		}
		r.Decision = approval.Decision(decision)
		if decidedAt.Valid {
			r.DecidedAt = decidedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
