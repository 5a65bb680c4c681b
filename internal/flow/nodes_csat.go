package flow

import (
	"context"

	"github.com/dohr-michael/chatflow/internal/store"
)

func (e *Engine) handleCSAT(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	question := dataString(node.Data, "question")
	if question == "" {
		question = "How would you rate this conversation?"
	}
	widget := map[string]any{"kind": "csat", "question": question}
	if err := e.sendAgentMessage(ctx, session.ID, "agent", question, nil, widget, 0); err != nil {
		return stepOutcome{}, err
	}
	if err := e.persistCursor(ctx, session, f.ID, node.ID, node.Type, vars); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{paused: true}, nil
}

// handleCloseConversation optionally emits a CSAT survey first (and
// pauses for the rating), otherwise closes the session immediately.
func (e *Engine) handleCloseConversation(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	if dataBool(node.Data, "csat") {
		question := dataString(node.Data, "question")
		if question == "" {
			question = "Before you go, how would you rate this conversation?"
		}
		widget := map[string]any{"kind": "csat", "question": question}
		if err := e.sendAgentMessage(ctx, session.ID, "agent", question, nil, widget, 0); err != nil {
			return stepOutcome{}, err
		}
		if err := e.persistCursor(ctx, session, f.ID, node.ID, "close_conversation", vars); err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{paused: true}, nil
	}

	e.closeSession(ctx, session)
	return stepOutcome{terminal: true}, nil
}

// ResumeAfterCSAT advances a cursor paused at a `csat` or
// `close_conversation` node once the visitor's rating has arrived over
// the dedicated CSAT REST endpoint (§4.5.5) — a plain chat message does
// not advance these, only this call does. A cursor paused anywhere else,
// or no cursor at all, is a no-op: the survey is still recorded by the
// caller regardless.
func (e *Engine) ResumeAfterCSAT(ctx context.Context, session *store.Session) error {
	cursor, err := e.store.GetCursor(ctx, session.TenantID, session.ID)
	if err != nil || cursor == nil {
		return err
	}

	switch cursor.NodeType {
	case "close_conversation":
		_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
		e.closeSession(ctx, session)
		return nil
	case "csat":
		f, err := e.store.GetFlow(ctx, cursor.FlowID)
		if err != nil {
			return err
		}
		if f == nil {
			_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
			return nil
		}
		vars := cloneVars(cursor.Variables)
		next, ok := e.nextNodeID(f, cursor.NodeID, "")
		_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
		if !ok {
			return nil
		}
		return e.run(ctx, session, f, next, vars)
	default:
		return nil
	}
}
