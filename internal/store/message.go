package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// InsertMessage persists a message, idempotent by id (a retry with the
// same id is a no-op), and bumps the owning session's updated_at per
// spec §3 invariant 1. Per invariant 2, text is trimmed in place and a
// whitespace-only message is silently dropped rather than persisted.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	suggestions, err := json.Marshal(msg.Suggestions)
	if err != nil {
		return err
	}
	var widget sql.NullString
	if msg.Widget != nil {
		data, err := json.Marshal(msg.Widget)
		if err != nil {
			return err
		}
		widget = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender, text, suggestions, widget, created_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.SessionID, msg.Sender, msg.Text, string(suggestions), widget,
		msg.CreatedAt.Format(timeLayout))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.Format(timeLayout), msg.SessionID); err != nil {
		return err
	}

	return tx.Commit()
}

// ListMessages returns a session's messages in ascending creation order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, text, suggestions, widget, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var suggestions string
		var widget sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &suggestions, &widget, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(suggestions), &m.Suggestions)
		if widget.Valid {
			_ = json.Unmarshal([]byte(widget.String), &m.Widget)
		}
		m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
