package flow

import (
	"context"

	"github.com/dohr-michael/chatflow/internal/events"
	"github.com/dohr-michael/chatflow/internal/store"
)

// stepOutcome is what a node handler reports back to the walker.
type stepOutcome struct {
	next     string   // next node id, if continuing
	handles  []string // branch handles to resolve the edge by, tried in order
	paused   bool     // handler persisted a cursor or ran a sub-flow walk; stop walking, cursor untouched
	terminal bool     // flow reached an end state; clear any cursor
}

// run executes the walker loop starting at nodeID, bounded by the
// configured non-pausing step count.
func (e *Engine) run(ctx context.Context, session *store.Session, f *store.Flow, nodeID string, vars map[string]string) error {
	steps := 0
	for nodeID != "" {
		if steps >= e.maxStep {
			return nil
		}
		steps++

		node := e.findNode(f, nodeID)
		if node == nil {
			return nil
		}

		outcome, err := e.dispatch(ctx, session, f, node, vars)
		if err != nil {
			return err
		}
		if outcome.paused {
			e.publish(session.ID, events.SourceFlow, events.FlowStepPayload{FlowID: f.ID, NodeID: node.ID, Paused: true})
			return nil
		}
		if outcome.terminal {
			_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
			return nil
		}

		next := outcome.next
		if next == "" {
			id, ok := e.nextNodeID(f, node.ID, outcome.handles...)
			if !ok {
				_ = e.store.DeleteCursor(ctx, session.TenantID, session.ID)
				return nil
			}
			next = id
		}
		nodeID = next
	}
	return nil
}

// dispatch routes a node to its kind-specific handler.
func (e *Engine) dispatch(ctx context.Context, session *store.Session, f *store.Flow, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	switch node.Type {
	case "message":
		return e.handleMessage(ctx, session, node, vars)
	case "buttons":
		return e.handleButtons(ctx, session, f, node, vars)
	case "select":
		return e.handleSelect(ctx, session, f, node, vars)
	case "input_form":
		return e.handleInputForm(ctx, session, f, node, vars)
	case "quick_input":
		return e.handleQuickInput(ctx, session, f, node, vars)
	case "carousel":
		return e.handleCarousel(ctx, session, node, vars)
	case "ai":
		return e.handleAI(ctx, session, f, node, vars)
	case "condition":
		return e.handleCondition(ctx, session, node, vars)
	case "wait":
		return e.handleWait(ctx, node)
	case "assign":
		return e.handleAssign(ctx, session, node, vars)
	case "tag":
		return e.handleTag(ctx, session, node)
	case "set_attribute":
		return e.handleSetAttribute(ctx, session, node, vars)
	case "note":
		return e.handleNote(ctx, session, node, vars)
	case "webhook":
		return e.handleWebhook(ctx, node, vars)
	case "csat":
		return e.handleCSAT(ctx, session, f, node, vars)
	case "close_conversation":
		return e.handleCloseConversation(ctx, session, f, node, vars)
	case "start_flow":
		return e.handleStartFlow(ctx, session, f, node, vars)
	case "end":
		return e.handleEnd(ctx, session, node, vars)
	default:
		return stepOutcome{terminal: true}, nil
	}
}

// persistCursor writes the single paused cursor for a session, per
// spec §3 invariant 3: at most one live cursor per session.
func (e *Engine) persistCursor(ctx context.Context, session *store.Session, flowID, nodeID, nodeType string, vars map[string]string) error {
	return e.store.PutCursor(ctx, &store.FlowCursor{
		TenantID:  session.TenantID,
		SessionID: session.ID,
		FlowID:    flowID,
		NodeID:    nodeID,
		NodeType:  nodeType,
		Variables: cloneVars(vars),
	})
}
