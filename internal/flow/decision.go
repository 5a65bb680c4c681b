package flow

import (
	"context"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/store"
)

// applyDecision carries out the side effects of an AI decision for the
// one-shot fallback reply path (the `ai` node handler applies its own):
// send the reply, optionally enable handover, optionally close the
// session, optionally kick off a triggered sub-flow.
func (e *Engine) applyDecision(ctx context.Context, session *store.Session, decision ai.Decision) error {
	if decision.Reply != "" {
		if err := e.sendAgentMessage(ctx, session.ID, "agent", decision.Reply, decision.Suggestions, nil, 500); err != nil {
			return err
		}
	}
	if decision.Handover {
		e.enableHandover(ctx, session)
	}
	if decision.CloseChat {
		e.closeSession(ctx, session)
	}
	if decision.TriggerFlow != nil {
		return e.invokeTriggeredSubFlow(ctx, session, decision.TriggerFlow)
	}
	return nil
}

func (e *Engine) enableHandover(ctx context.Context, session *store.Session) {
	if _, _, err := e.store.SetSessionHandover(ctx, session.ID, true); err != nil {
		return
	}
	session.HandoverActive = true
	e.hub.EmitToSession(session.ID, "session:updated", session)
}

func (e *Engine) closeSession(ctx context.Context, session *store.Session) {
	if _, _, err := e.store.SetSessionStatus(ctx, session.ID, "closed"); err != nil {
		return
	}
	session.Status = "closed"
	_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
	e.hub.EmitToSession(session.ID, "session:updated", session)
}

// invokeTriggeredSubFlow starts a flow an AI decision asked to trigger,
// bound by the variables the model extracted. Unlike start_flow nodes,
// a model-triggered flow has no variableBindings to interpolate — the
// decision's variables are used directly, pre-populated from contact
// for anything the model left out.
func (e *Engine) invokeTriggeredSubFlow(ctx context.Context, session *store.Session, trigger *ai.TriggerFlow) error {
	f, err := e.store.GetFlow(ctx, trigger.FlowID)
	if err != nil || f == nil {
		return err
	}
	node := startNode(f)
	if node == nil {
		return nil
	}
	vars := e.prepopulateVars(ctx, cloneVars(trigger.Variables), session.ContactID)
	next, ok := e.nextNodeID(f, node.ID, "")
	if !ok {
		return nil
	}
	return e.run(ctx, session, f, next, vars)
}
