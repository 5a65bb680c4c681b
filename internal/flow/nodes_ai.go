package flow

import (
	"context"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/store"
)

// handleAI calls the AI gateway with the node's configured prompt,
// applying the decision's side effects (handover, close, sub-flow
// trigger). A triggered sub-flow missing required variables pauses at
// this node to ask for them via the start_flow AI-collection path.
func (e *Engine) handleAI(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	prompt := interpolate(dataString(node.Data, "prompt"), vars)
	visitorText := vars["__last_message__"]

	tools := e.toolCatalog(ctx, session.TenantID)
	transcript := e.transcriptFor(ctx, session.ID)
	contact := e.toContactInfo(e.contactInfoFor(ctx, session))

	decision := e.ai.GenerateReply(ctx, prompt, transcript, contact, tools, visitorText)

	if decision.Reply != "" {
		if err := e.sendAgentMessage(ctx, session.ID, "agent", decision.Reply, decision.Suggestions, nil, 500); err != nil {
			return stepOutcome{}, err
		}
	}
	if decision.Handover {
		e.enableHandover(ctx, session)
		return stepOutcome{terminal: true}, nil
	}
	if decision.CloseChat {
		e.closeSession(ctx, session)
		return stepOutcome{terminal: true}, nil
	}
	if decision.TriggerFlow != nil {
		subVars := buildSubVars(decision.TriggerFlow.Variables, vars, false)
		return e.beginSubFlow(ctx, session, node, decision.TriggerFlow.FlowID, subVars, true)
	}
	return stepOutcome{}, nil
}

// toolCatalog lists the tenant's AI-triggerable flows for the model's
// tool catalog, per spec §4.4.
func (e *Engine) toolCatalog(ctx context.Context, tenantID string) []ai.ToolSpec {
	flows, err := e.store.ListFlows(ctx, tenantID, true)
	if err != nil {
		return nil
	}
	out := make([]ai.ToolSpec, 0, len(flows))
	for _, f := range flows {
		if !f.AITool {
			continue
		}
		params := make([]ai.ToolParam, 0, len(f.InputVariables))
		for _, v := range f.InputVariables {
			params = append(params, ai.ToolParam{Key: v.Key, Label: v.Label, Required: v.Required})
		}
		out = append(out, ai.ToolSpec{ID: f.ID, Name: f.Name, Description: f.AIToolDescription, Parameters: params})
	}
	return out
}
