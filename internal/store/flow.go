package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/dohr-michael/chatflow/internal/apperr"
)

// GetFlow returns the flow with the given id, or nil if none exists.
func (s *Store) GetFlow(ctx context.Context, id string) (*Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, enabled, input_variables, ai_tool, ai_tool_description,
			nodes, edges, created_at, updated_at
		FROM flows WHERE id = ?`, id)
	f, err := scanFlow(row)
	if err != nil && apperr.KindOf(err) == apperr.KindNotFound {
		return nil, nil
	}
	return f, err
}

func scanFlow(row *sql.Row) (*Flow, error) {
	var f Flow
	var enabled, aiTool int
	var inputVars, nodes, edges, createdAt, updatedAt string
	err := row.Scan(&f.ID, &f.TenantID, &f.Name, &enabled, &inputVars, &aiTool, &f.AIToolDescription,
		&nodes, &edges, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("flow not found")
	}
	if err != nil {
		return nil, err
	}
	f.Enabled = enabled != 0
	f.AITool = aiTool != 0
	_ = json.Unmarshal([]byte(inputVars), &f.InputVariables)
	_ = json.Unmarshal([]byte(nodes), &f.Nodes)
	_ = json.Unmarshal([]byte(edges), &f.Edges)
	f.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	f.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &f, nil
}

// ListFlows returns a tenant's flows, optionally filtered to enabled-only.
func (s *Store) ListFlows(ctx context.Context, tenantID string, enabledOnly bool) ([]Flow, error) {
	query := `SELECT id, tenant_id, name, enabled, input_variables, ai_tool, ai_tool_description,
		nodes, edges, created_at, updated_at FROM flows WHERE tenant_id = ?`
	args := []any{tenantID}
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Flow
	for rows.Next() {
		var f Flow
		var enabled, aiTool int
		var inputVars, nodes, edges, createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &enabled, &inputVars, &aiTool, &f.AIToolDescription,
			&nodes, &edges, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		f.Enabled = enabled != 0
		f.AITool = aiTool != 0
		_ = json.Unmarshal([]byte(inputVars), &f.InputVariables)
		_ = json.Unmarshal([]byte(nodes), &f.Nodes)
		_ = json.Unmarshal([]byte(edges), &f.Edges)
		f.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		f.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertFlow inserts or replaces a flow definition by id. Not named in
// spec §4.1 (flow authoring is out-of-scope admin CRUD) but required to
// seed flows for tests and for any future admin surface.
func (s *Store) UpsertFlow(ctx context.Context, f *Flow) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	inputVars, err := json.Marshal(f.InputVariables)
	if err != nil {
		return err
	}
	nodes, err := json.Marshal(f.Nodes)
	if err != nil {
		return err
	}
	edges, err := json.Marshal(f.Edges)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, tenant_id, name, enabled, input_variables, ai_tool, ai_tool_description,
			nodes, edges, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id=excluded.tenant_id, name=excluded.name, enabled=excluded.enabled,
			input_variables=excluded.input_variables, ai_tool=excluded.ai_tool,
			ai_tool_description=excluded.ai_tool_description, nodes=excluded.nodes, edges=excluded.edges,
			updated_at=excluded.updated_at`,
		f.ID, f.TenantID, f.Name, boolToInt(f.Enabled), string(inputVars), boolToInt(f.AITool),
		f.AIToolDescription, string(nodes), string(edges),
		f.CreatedAt.Format(timeLayout), f.UpdatedAt.Format(timeLayout))
	return err
}

// GetCursor returns the paused cursor for (tenant, session), or nil if none.
func (s *Store) GetCursor(ctx context.Context, tenantID, sessionID string) (*FlowCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, session_id, flow_id, node_id, node_type, variables
		FROM flow_cursors WHERE tenant_id = ? AND session_id = ?`, tenantID, sessionID)

	var c FlowCursor
	var variables string
	err := row.Scan(&c.TenantID, &c.SessionID, &c.FlowID, &c.NodeID, &c.NodeType, &variables)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(variables), &c.Variables)
	return &c, nil
}

// PutCursor writes the single paused cursor for a session, overwriting
// any prior cursor per spec §3 invariant 3.
func (s *Store) PutCursor(ctx context.Context, c *FlowCursor) error {
	variables, err := json.Marshal(c.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_cursors (tenant_id, session_id, flow_id, node_id, node_type, variables)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(tenant_id, session_id) DO UPDATE SET
			flow_id=excluded.flow_id, node_id=excluded.node_id, node_type=excluded.node_type,
			variables=excluded.variables`,
		c.TenantID, c.SessionID, c.FlowID, c.NodeID, c.NodeType, string(variables))
	return err
}

func (s *Store) DeleteCursor(ctx context.Context, tenantID, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flow_cursors WHERE tenant_id = ? AND session_id = ?`,
		tenantID, sessionID)
	return err
}
