package flow

import (
	"context"
	"strings"

	"github.com/dohr-michael/chatflow/internal/events"
	"github.com/dohr-michael/chatflow/internal/store"
)

// resume loads the paused flow, applies node-kind-specific ingestion of
// the visitor's reply, and steps forward. A stale cursor (flow
// deleted) is cleared and the reply is re-dispatched through
// OnVisitorMessage, which falls back to trigger matching.
func (e *Engine) resume(ctx context.Context, session *store.Session, cursor *store.FlowCursor, reply string) error {
	if cursor.NodeType == "start_flow" {
		return e.resumeSubFlowCollection(ctx, session, cursor, reply)
	}
	if cursor.NodeType == "csat" || cursor.NodeType == "close_conversation" {
		// CSAT ratings arrive over the dedicated REST endpoint, not as a
		// chat message; a plain message while one is pending does not
		// advance the walk.
		return nil
	}

	f, err := e.store.GetFlow(ctx, cursor.FlowID)
	if err != nil {
		return err
	}
	if f == nil {
		_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
		return e.OnVisitorMessage(ctx, session, reply)
	}
	node := e.findNode(f, cursor.NodeID)
	if node == nil {
		_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
		return e.OnVisitorMessage(ctx, session, reply)
	}

	vars := cloneVars(cursor.Variables)
	vars["__last_message__"] = reply
	handle := ""

	switch cursor.NodeType {
	case "quick_input":
		name := dataString(node.Data, "variableName")
		if name != "" {
			vars[name] = reply
		}
	case "input_form":
		ingestInputForm(node.Data, reply, vars)
	case "buttons":
		choices := decodeChoices(node.Data, "buttons")
		handle = matchChoiceHandle(choices, reply, "btn")
	case "select":
		choices := decodeChoices(node.Data, "options")
		handle = matchChoiceHandle(choices, reply, "opt")
	}

	next, ok := e.nextNodeID(f, node.ID, handle)
	if !ok {
		_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
		return nil
	}
	_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
	e.publish(session.ID, events.SourceFlow, events.FlowStepPayload{FlowID: f.ID, NodeID: node.ID, Paused: false})
	return e.run(ctx, session, f, next, vars)
}

// ingestInputForm splits a reply by `,` and, for each field, looks for
// a "<Label>:" prefix in one of the comma-separated parts, storing the
// trimmed remainder under that field's name.
func ingestInputForm(data map[string]any, reply string, vars map[string]string) {
	fields := dataMapSlice(data, "fields")
	parts := strings.Split(reply, ",")
	for _, field := range fields {
		label := dataString(field, "label")
		name := dataString(field, "name")
		if label == "" || name == "" {
			continue
		}
		prefix := label + ":"
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), strings.ToLower(prefix)) {
				vars[name] = strings.TrimSpace(part[len(prefix):])
				break
			}
		}
	}
}

// resumeSubFlowCollection re-runs extract_variables across ALL of the
// target flow's required variables, merges non-empty results into the
// stored snapshot, and either proceeds into the sub-flow or re-asks
// and re-pauses.
func (e *Engine) resumeSubFlowCollection(ctx context.Context, session *store.Session, cursor *store.FlowCursor, reply string) error {
	targetFlowID := cursor.Variables[reservedTargetFlowKey]
	target, err := e.store.GetFlow(ctx, targetFlowID)
	if err != nil {
		return err
	}
	if target == nil {
		_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
		return e.OnVisitorMessage(ctx, session, reply)
	}

	subVars := cloneVars(cursor.Variables)
	delete(subVars, reservedTargetFlowKey)

	var required []store.FlowInputVariable
	for _, v := range target.InputVariables {
		if v.Required {
			required = append(required, v)
		}
	}
	extracted := e.extractForVars(ctx, session, required, reply)
	for k, v := range extracted {
		subVars[k] = v
	}

	missing := missingRequiredVars(target.InputVariables, subVars)
	_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)

	if len(missing) > 0 {
		if err := e.askForMissingVars(ctx, session, missing); err != nil {
			return err
		}
		snapshot := cloneVars(subVars)
		snapshot[reservedTargetFlowKey] = targetFlowID
		return e.persistCursor(ctx, session, "", cursor.NodeID, "start_flow", snapshot)
	}

	_, err = e.enterSubFlow(ctx, session, target, subVars)
	return err
}
