package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetAgent returns an agent by id, used for the condition evaluator's
// "assignee" attribute (resolved to the agent's email, per spec §4.5.4).
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, name, email FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.TenantID, &a.Name, &a.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) UpsertAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, tenant_id, name, email) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name, email=excluded.email`,
		a.ID, a.TenantID, a.Name, a.Email)
	return err
}

// GetTeam returns a team by id, used for the condition evaluator's "team"
// attribute (resolved to the team's name).
func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, name FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.TenantID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTeamByName resolves the assign node's team lookup by display name.
func (s *Store) FindTeamByName(ctx context.Context, tenantID, name string) (*Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name FROM teams WHERE tenant_id = ? AND lower(name) = lower(?) LIMIT 1`,
		tenantID, name).Scan(&t.ID, &t.TenantID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpsertTeam(ctx context.Context, t *Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, tenant_id, name) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name`,
		t.ID, t.TenantID, t.Name)
	return err
}

// GetInbox returns an inbox by id, used for the condition evaluator's
// "inbox" attribute (resolved to the inbox's name).
func (s *Store) GetInbox(ctx context.Context, id string) (*Inbox, error) {
	var ib Inbox
	err := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, name FROM inboxes WHERE id = ?`, id).
		Scan(&ib.ID, &ib.TenantID, &ib.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ib, nil
}

func (s *Store) UpsertInbox(ctx context.Context, ib *Inbox) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inboxes (id, tenant_id, name) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name`,
		ib.ID, ib.TenantID, ib.Name)
	return err
}

// UpsertTagByName finds-or-creates a tag row by (tenant, name), the
// upsert semantics the tag node requires (spec §4.5.1 "tag").
func (s *Store) UpsertTagByName(ctx context.Context, tenantID, name, id string) (*Tag, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, tenant_id, name) VALUES (?,?,?)
		ON CONFLICT(tenant_id, name) DO NOTHING`, id, tenantID, name)
	if err != nil {
		return nil, err
	}
	var t Tag
	err = s.db.QueryRowContext(ctx, `SELECT id, tenant_id, name FROM tags WHERE tenant_id = ? AND name = ?`,
		tenantID, name).Scan(&t.ID, &t.TenantID, &t.Name)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) AddConversationTag(ctx context.Context, sessionID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_tags (session_id, tag_id) VALUES (?,?)
		ON CONFLICT(session_id, tag_id) DO NOTHING`, sessionID, tagID)
	return err
}

func (s *Store) RemoveConversationTag(ctx context.Context, sessionID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_tags WHERE session_id = ? AND tag_id = ?`, sessionID, tagID)
	return err
}

// InsertConversationNote records an internal annotation. The note flow
// node writes one alongside a `note`-sender message, so both
// representations exist.
func (s *Store) InsertConversationNote(ctx context.Context, n *ConversationNote) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_notes (id, tenant_id, session_id, agent_id, text, created_at)
		VALUES (?,?,?,?,?,?)`,
		n.ID, n.TenantID, n.SessionID, n.AgentID, n.Text, n.CreatedAt.Format(timeLayout))
	return err
}

// SubmitCSAT records a visitor satisfaction rating for a session,
// replacing any prior rating (a visitor may only have one live survey
// result per session).
func (s *Store) SubmitCSAT(ctx context.Context, c *CSATSurvey) error {
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO csat_surveys (session_id, score, comment, submitted_at) VALUES (?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET score=excluded.score, comment=excluded.comment,
			submitted_at=excluded.submitted_at`,
		c.SessionID, c.Score, c.Comment, c.SubmittedAt.Format(timeLayout))
	return err
}

func (s *Store) GetCSAT(ctx context.Context, sessionID string) (*CSATSurvey, error) {
	var c CSATSurvey
	var submittedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, score, comment, submitted_at FROM csat_surveys WHERE session_id = ?`,
		sessionID).Scan(&c.SessionID, &c.Score, &c.Comment, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.SubmittedAt, _ = time.Parse(timeLayout, submittedAt)
	return &c, nil
}
