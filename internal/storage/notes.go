package storage

import (
	"context"
	"time"

	"coda/internal/compaction"
)

var _ compaction.NoteWriter = (*DB)(nil)

// Note is a compaction summary kept for later sessions.
type Note struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendNote 追加一条会话笔记
func (db *DB) AppendNote(ctx context.Context, sessionID, content string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO notes (session_id, content, created_at) VALUES (?, ?, ?)",
		sessionID, content, time.Now().UTC(),
	)
	return err
}

// ListNotes returns the notes of a session, oldest first.
func (db *DB) ListNotes(ctx context.Context, sessionID string) ([]Note, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, session_id, content, created_at FROM notes WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
