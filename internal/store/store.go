// Package store is the durable persistence layer (C1): sessions, messages,
// flows, flow cursors, trigger-fires, contacts, tags, and CSAT surveys. It
// is backed by modernc.org/sqlite, the teacher's declared-but-previously-
// unwired pure-Go sqlite driver, through the standard database/sql
// interface — consumers never see SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB and exposes only the typed operations named in
// the flow interpreter / orchestrator contract.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and runs
// migrations. Pass ":memory:" for an ephemeral database, used by tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single shared connection avoids "database is locked" errors that
	// sqlite's writer-serialization otherwise produces under concurrent
	// access from multiple goroutines sharing one file.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	visitor_id TEXT NOT NULL DEFAULT '',
	contact_id TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT 'widget',
	status TEXT NOT NULL DEFAULT 'open',
	priority TEXT NOT NULL DEFAULT 'normal',
	flow_id TEXT NOT NULL DEFAULT '',
	assignee_agent_id TEXT NOT NULL DEFAULT '',
	inbox_id TEXT NOT NULL DEFAULT '',
	team_id TEXT NOT NULL DEFAULT '',
	handover_active INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant_updated ON sessions(tenant_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_visitor ON sessions(visitor_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	text TEXT NOT NULL,
	suggestions TEXT NOT NULL DEFAULT '[]',
	widget TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at ASC);

CREATE TABLE IF NOT EXISTS flows (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	input_variables TEXT NOT NULL DEFAULT '[]',
	ai_tool INTEGER NOT NULL DEFAULT 0,
	ai_tool_description TEXT NOT NULL DEFAULT '',
	nodes TEXT NOT NULL DEFAULT '[]',
	edges TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_tenant ON flows(tenant_id, enabled);

CREATE TABLE IF NOT EXISTS flow_cursors (
	tenant_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	flow_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	node_type TEXT NOT NULL,
	variables TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (tenant_id, session_id)
);

CREATE TABLE IF NOT EXISTS session_triggers (
	session_id TEXT NOT NULL,
	trigger_event TEXT NOT NULL,
	PRIMARY KEY (session_id, trigger_event)
);

CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_tenant_email ON contacts(tenant_id, email);

CREATE TABLE IF NOT EXISTS contact_custom_attributes (
	contact_id TEXT NOT NULL,
	attribute_key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (contact_id, attribute_key)
);

CREATE TABLE IF NOT EXISTS conversation_custom_attributes (
	session_id TEXT NOT NULL,
	attribute_key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, attribute_key)
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inboxes (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tags (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS conversation_tags (
	session_id TEXT NOT NULL,
	tag_id TEXT NOT NULL,
	PRIMARY KEY (session_id, tag_id)
);

CREATE TABLE IF NOT EXISTS conversation_notes (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT 'default',
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS csat_surveys (
	session_id TEXT PRIMARY KEY,
	score INTEGER NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	submitted_at TEXT NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
