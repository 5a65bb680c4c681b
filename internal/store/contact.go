package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dohr-michael/chatflow/internal/apperr"
)

func (s *Store) GetContact(ctx context.Context, id string) (*Contact, error) {
	if id == "" {
		return nil, apperr.NotFound("contact not found")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, phone, company, location, created_at, updated_at
		FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

// FindContactByEmail performs the case-insensitive find half of the
// find-or-create-by-email flow (spec §4.5.1 set_attribute "email").
func (s *Store) FindContactByEmail(ctx context.Context, tenantID, email string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, phone, company, location, created_at, updated_at
		FROM contacts WHERE tenant_id = ? AND lower(email) = lower(?) LIMIT 1`, tenantID, email)
	c, err := scanContact(row)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func scanContact(row *sql.Row) (*Contact, error) {
	var c Contact
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Location,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("contact not found")
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	c.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &c, nil
}

// UpsertContact inserts or updates a contact by id.
func (s *Store) UpsertContact(ctx context.Context, c *Contact) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, tenant_id, name, email, phone, company, location, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, email=excluded.email, phone=excluded.phone, company=excluded.company,
			location=excluded.location, updated_at=excluded.updated_at`,
		c.ID, c.TenantID, c.Name, c.Email, c.Phone, c.Company, c.Location,
		c.CreatedAt.Format(timeLayout), c.UpdatedAt.Format(timeLayout))
	return err
}

func (s *Store) GetContactCustomAttribute(ctx context.Context, contactID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM contact_custom_attributes WHERE contact_id = ? AND attribute_key = ?`,
		contactID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetContactCustomAttribute(ctx context.Context, contactID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_custom_attributes (contact_id, attribute_key, value) VALUES (?,?,?)
		ON CONFLICT(contact_id, attribute_key) DO UPDATE SET value=excluded.value`,
		contactID, key, value)
	return err
}

func (s *Store) ListContactCustomAttributes(ctx context.Context, contactID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attribute_key, value FROM contact_custom_attributes WHERE contact_id = ?`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) GetConversationCustomAttribute(ctx context.Context, sessionID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM conversation_custom_attributes WHERE session_id = ? AND attribute_key = ?`,
		sessionID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetConversationCustomAttribute(ctx context.Context, sessionID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_custom_attributes (session_id, attribute_key, value) VALUES (?,?,?)
		ON CONFLICT(session_id, attribute_key) DO UPDATE SET value=excluded.value`,
		sessionID, key, value)
	return err
}
