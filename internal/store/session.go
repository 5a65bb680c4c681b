package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dohr-michael/chatflow/internal/apperr"
)

const timeLayout = time.RFC3339Nano

// UpsertSession inserts a session or replaces it entirely if it already
// exists by id, per spec §4.1.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, visitor_id, contact_id, channel, status, priority,
			flow_id, assignee_agent_id, inbox_id, team_id, handover_active, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id=excluded.tenant_id, visitor_id=excluded.visitor_id, contact_id=excluded.contact_id,
			channel=excluded.channel, status=excluded.status, priority=excluded.priority,
			flow_id=excluded.flow_id, assignee_agent_id=excluded.assignee_agent_id,
			inbox_id=excluded.inbox_id, team_id=excluded.team_id,
			handover_active=excluded.handover_active, updated_at=excluded.updated_at
	`, sess.ID, sess.TenantID, sess.VisitorID, sess.ContactID, sess.Channel, sess.Status, sess.Priority,
		sess.FlowID, sess.AssigneeAgentID, sess.InboxID, sess.TeamID, boolToInt(sess.HandoverActive),
		sess.CreatedAt.Format(timeLayout), sess.UpdatedAt.Format(timeLayout))
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, visitor_id, contact_id, channel, status, priority,
			flow_id, assignee_agent_id, inbox_id, team_id, handover_active, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var handover int
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.VisitorID, &sess.ContactID, &sess.Channel,
		&sess.Status, &sess.Priority, &sess.FlowID, &sess.AssigneeAgentID, &sess.InboxID, &sess.TeamID,
		&handover, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session not found")
	}
	if err != nil {
		return nil, err
	}
	sess.HandoverActive = handover != 0
	sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	sess.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &sess, nil
}

// ListSessions returns sessions for tenant (or all tenants if empty)
// ordered by updated_at desc, each annotated with computed fields.
func (s *Store) ListSessions(ctx context.Context, tenantID string) ([]SessionSummary, error) {
	query := `
		SELECT id, tenant_id, visitor_id, contact_id, channel, status, priority,
			flow_id, assignee_agent_id, inbox_id, team_id, handover_active, created_at, updated_at
		FROM sessions`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sess Session
		var handover int
		var createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.TenantID, &sess.VisitorID, &sess.ContactID, &sess.Channel,
			&sess.Status, &sess.Priority, &sess.FlowID, &sess.AssigneeAgentID, &sess.InboxID, &sess.TeamID,
			&handover, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		sess.HandoverActive = handover != 0
		sess.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		sess.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

		summary, err := s.summarize(ctx, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *Store) summarize(ctx context.Context, sess Session) (SessionSummary, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sess.ID).Scan(&count); err != nil {
		return SessionSummary{}, err
	}
	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		return SessionSummary{}, err
	}
	summary := SessionSummary{Session: sess, MessageCount: count}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		summary.LastMessage = &last
	}
	return summary, nil
}

// SetSessionStatus updates status and reports whether it actually changed,
// per spec §4.1's (summary, changed) contract.
func (s *Store) SetSessionStatus(ctx context.Context, id, status string) (*SessionSummary, bool, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess.Status == status {
		summary, err := s.summarize(ctx, *sess)
		return &summary, false, err
	}
	sess.Status = status
	if err := s.UpsertSession(ctx, sess); err != nil {
		return nil, false, err
	}
	summary, err := s.summarize(ctx, *sess)
	return &summary, true, err
}

// SetSessionHandover updates handover_active and reports whether it changed.
func (s *Store) SetSessionHandover(ctx context.Context, id string, active bool) (*SessionSummary, bool, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sess.HandoverActive == active {
		summary, err := s.summarize(ctx, *sess)
		return &summary, false, err
	}
	sess.HandoverActive = active
	if err := s.UpsertSession(ctx, sess); err != nil {
		return nil, false, err
	}
	summary, err := s.summarize(ctx, *sess)
	return &summary, true, err
}

// MarkTriggerFired atomically inserts-if-absent a (session, event) guard
// row, returning true iff this call performed the insert.
func (s *Store) MarkTriggerFired(ctx context.Context, sessionID, event string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_triggers (session_id, trigger_event) VALUES (?, ?)
		ON CONFLICT(session_id, trigger_event) DO NOTHING`, sessionID, event)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindMostRecentSessionByVisitorID finds the most recently updated other
// session sharing visitorID that already has a contact linked, for the
// identity-carry-over described in spec §4.6 step 3.
func (s *Store) FindMostRecentSessionByVisitorID(ctx context.Context, tenantID, visitorID, excludeSessionID string) (contactID string, ok bool, err error) {
	if visitorID == "" {
		return "", false, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT contact_id FROM sessions
		WHERE tenant_id = ? AND visitor_id = ? AND id != ? AND contact_id != ''
		ORDER BY updated_at DESC LIMIT 1`, tenantID, visitorID, excludeSessionID)
	var cid string
	if err := row.Scan(&cid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return cid, true, nil
}

// LinkContactToAllVisitorSessions propagates a newly-resolved contact_id
// to every other session sharing visitorID that has none yet (spec
// §4.5.1 set_attribute email-linking + original app.rs resolve_contact_by_email).
func (s *Store) LinkContactToAllVisitorSessions(ctx context.Context, tenantID, visitorID, contactID, excludeSessionID string) error {
	if visitorID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET contact_id = ?, updated_at = ?
		WHERE tenant_id = ? AND visitor_id = ? AND id != ? AND contact_id = ''`,
		contactID, time.Now().UTC().Format(timeLayout), tenantID, visitorID, excludeSessionID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
