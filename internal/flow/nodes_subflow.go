package flow

import (
	"context"
	"strings"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/store"
)

// reservedTargetFlowKey stashes the target flow id inside a paused
// start_flow cursor's variable snapshot, alongside the accumulated
// sub_vars, since FlowCursor only carries a flat string map.
const reservedTargetFlowKey = "__target_flow__"

func buildSubVars(bindings map[string]string, parentVars map[string]string, interpolateBindings bool) map[string]string {
	sub := map[string]string{}
	if interpolateBindings {
		bindings = interpolateMap(bindings, parentVars)
	}
	for k, v := range bindings {
		sub[k] = v
	}
	for k, v := range parentVars {
		if strings.HasPrefix(k, "__") && k != "__last_message__" {
			continue
		}
		if _, ok := sub[k]; !ok {
			sub[k] = v
		}
	}
	return sub
}

func missingRequiredVars(inputs []store.FlowInputVariable, vars map[string]string) []store.FlowInputVariable {
	var missing []store.FlowInputVariable
	for _, v := range inputs {
		if !v.Required {
			continue
		}
		if strings.TrimSpace(vars[v.Key]) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

func (e *Engine) handleStartFlow(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	targetFlowID := dataString(node.Data, "flowId")
	bindings := dataStringMap(node.Data, "variableBindings")
	aiCollect := dataBool(node.Data, "aiCollectInputs")

	subVars := buildSubVars(bindings, vars, true)
	return e.beginSubFlow(ctx, session, node, targetFlowID, subVars, aiCollect)
}

// beginSubFlow is the shared entry for both the start_flow node and an
// AI decision's triggerFlow directive: resolve the target flow, check
// its required variables, and either proceed or ask-and-pause.
func (e *Engine) beginSubFlow(ctx context.Context, session *store.Session, originNode *store.FlowNode, targetFlowID string, subVars map[string]string, aiCollect bool) (stepOutcome, error) {
	target, err := e.store.GetFlow(ctx, targetFlowID)
	if err != nil || target == nil {
		return stepOutcome{}, err
	}

	missing := missingRequiredVars(target.InputVariables, subVars)
	if len(missing) > 0 && aiCollect {
		extracted := e.extractForVars(ctx, session, missing, subVars["__last_message__"])
		for k, v := range extracted {
			subVars[k] = v
		}
		missing = missingRequiredVars(target.InputVariables, subVars)
	}

	if len(missing) > 0 {
		if err := e.askForMissingVars(ctx, session, missing); err != nil {
			return stepOutcome{}, err
		}
		snapshot := cloneVars(subVars)
		snapshot[reservedTargetFlowKey] = targetFlowID
		if err := e.persistCursor(ctx, session, "", originNode.ID, "start_flow", snapshot); err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{paused: true}, nil
	}

	return e.enterSubFlow(ctx, session, target, subVars)
}

// enterSubFlow runs the target flow from its start node with fully
// bound variables; per testable property §8.4 this never pauses for
// collection when variables are already complete.
func (e *Engine) enterSubFlow(ctx context.Context, session *store.Session, target *store.Flow, subVars map[string]string) (stepOutcome, error) {
	node := startNode(target)
	if node == nil {
		return stepOutcome{terminal: true}, nil
	}
	next, ok := e.nextNodeID(target, node.ID, "")
	if !ok {
		return stepOutcome{terminal: true}, nil
	}
	if err := e.run(ctx, session, target, next, subVars); err != nil {
		return stepOutcome{}, err
	}
	// The sub-flow ran its own walk (and may itself have paused with its
	// own cursor); the parent walk stops here either way.
	return stepOutcome{paused: true}, nil
}

func (e *Engine) extractForVars(ctx context.Context, session *store.Session, missing []store.FlowInputVariable, visitorText string) map[string]string {
	params := make([]ai.ToolParam, 0, len(missing))
	for _, v := range missing {
		params = append(params, ai.ToolParam{Key: v.Key, Label: v.Label, Required: v.Required})
	}
	transcript := e.transcriptFor(ctx, session.ID)
	contact := e.toContactInfo(e.contactInfoFor(ctx, session))
	return e.ai.ExtractVariables(ctx, transcript, contact, params, visitorText)
}

func (e *Engine) askForMissingVars(ctx context.Context, session *store.Session, missing []store.FlowInputVariable) error {
	var sb strings.Builder
	sb.WriteString("Could you share the following: ")
	for i, v := range missing {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.Label)
	}
	sb.WriteString("?")
	return e.sendAgentMessage(ctx, session.ID, "agent", sb.String(), nil, nil, 400)
}
