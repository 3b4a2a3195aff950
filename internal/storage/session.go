package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coda/internal/session"
)

// SessionInfo is a listing row; the snapshot itself is loaded on demand.
type SessionInfo struct {
	ID        string       `json:"id"`
	Mode      session.Mode `json:"mode"`
	Messages  int          `json:"messages"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SaveSession stores the session snapshot, replacing any previous one.
func (db *DB) SaveSession(ctx context.Context, s *session.Session) error {
	snap := s.Snapshot()
	data, err := s.Export()
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	mode := snap.Mode
	if mode == "" {
		mode = session.ModeBuild
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (id, mode, messages, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			messages = excluded.messages,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		snap.ID, string(mode), len(snap.History), string(data), now, now,
	)
	return err
}

// LoadSession rebuilds a stored session.
func (db *DB) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	data, err := db.SessionSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Import(data)
}

// SessionSnapshot returns the raw snapshot JSON of a stored session.
func (db *DB) SessionSnapshot(ctx context.Context, id string) ([]byte, error) {
	var data string
	err := db.QueryRowContext(ctx, "SELECT snapshot FROM sessions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// DeleteSession 删除会话及其笔记
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM notes WHERE session_id = ?", id)
		return err
	})
}

// ListSessions 列出会话，最近更新的在前
func (db *DB) ListSessions(ctx context.Context, limit, offset int) ([]SessionInfo, error) {
	query := "SELECT id, mode, messages, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var mode string
		if err := rows.Scan(&info.ID, &mode, &info.Messages, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.Mode = session.Mode(mode)
		out = append(out, info)
	}
	return out, rows.Err()
}
