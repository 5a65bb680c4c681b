package flow

import (
	"context"
	"strings"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/events"
	"github.com/dohr-michael/chatflow/internal/store"
)

// resolveFlow picks the session's assigned flow, or the tenant's first
// enabled flow otherwise, per spec §4.5.6.
func (e *Engine) resolveFlow(ctx context.Context, session *store.Session) (*store.Flow, error) {
	if session.FlowID != "" {
		f, err := e.store.GetFlow(ctx, session.FlowID)
		if err == nil && f != nil {
			return f, nil
		}
	}
	flows, err := e.store.ListFlows(ctx, session.TenantID, true)
	if err != nil || len(flows) == 0 {
		return nil, err
	}
	return &flows[0], nil
}

// startNode returns a flow's trigger/start entry node.
func startNode(f *store.Flow) *store.FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].Type == "trigger" || f.Nodes[i].Type == "start" {
			return &f.Nodes[i]
		}
	}
	return nil
}

func keywordsMatch(data map[string]any, text string) bool {
	keywords := dataStringSlice(data, "keywords")
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (e *Engine) isFirstVisitorMessage(ctx context.Context, sessionID string) bool {
	msgs, err := e.store.ListMessages(ctx, sessionID)
	if err != nil {
		return false
	}
	count := 0
	for _, m := range msgs {
		if m.Sender == "visitor" {
			count++
		}
	}
	return count == 1
}

// OnPageEvent handles a page_open / widget_open event: the guarded,
// at-most-once trigger kinds.
func (e *Engine) OnPageEvent(ctx context.Context, session *store.Session, event string) error {
	first, err := e.store.MarkTriggerFired(ctx, session.ID, event)
	if err != nil || !first {
		return err
	}

	f, err := e.resolveFlow(ctx, session)
	if err != nil || f == nil {
		return err
	}
	node := startNode(f)
	if node == nil {
		return nil
	}
	if dataString(node.Data, "on") != event {
		return nil
	}
	e.publish(session.ID, events.SourceFlow, events.TriggerFiredPayload{FlowID: f.ID, TriggerID: node.ID})

	vars := e.prepopulateVars(ctx, map[string]string{}, session.ContactID)
	next, ok := e.nextNodeID(f, node.ID, "")
	if !ok {
		return nil
	}
	return e.run(ctx, session, f, next, vars)
}

// OnVisitorMessage is the interpreter's main entry point for a visitor
// message: resume a paused cursor if one exists, otherwise attempt a
// trigger match, otherwise fall back to a one-shot AI reply.
func (e *Engine) OnVisitorMessage(ctx context.Context, session *store.Session, text string) error {
	cursor, err := e.store.GetCursor(ctx, session.TenantID, session.ID)
	if err != nil {
		return err
	}
	if cursor != nil {
		return e.resume(ctx, session, cursor, text)
	}

	f, err := e.resolveFlow(ctx, session)
	if err != nil {
		return err
	}
	if f == nil {
		return e.fallbackAIReply(ctx, session, "", text)
	}

	node := startNode(f)
	if node == nil {
		return e.fallbackAIReply(ctx, session, "", text)
	}

	on := dataString(node.Data, "on")
	matched := false
	switch on {
	case "any_message":
		matched = keywordsMatch(node.Data, text)
	case "first_message":
		matched = e.isFirstVisitorMessage(ctx, session.ID) && keywordsMatch(node.Data, text)
	}

	if !matched {
		return e.fallbackAIReply(ctx, session, firstAIPrompt(f), text)
	}
	e.publish(session.ID, events.SourceFlow, events.TriggerFiredPayload{FlowID: f.ID, TriggerID: node.ID})

	vars := e.prepopulateVars(ctx, map[string]string{}, session.ContactID)
	vars["__last_message__"] = text
	next, ok := e.nextNodeID(f, node.ID, "")
	if !ok {
		return nil
	}
	return e.run(ctx, session, f, next, vars)
}

// firstAIPrompt finds the flow_prompt for a fallback reply: the first
// ai node's configured prompt, or empty for the gateway's default.
func firstAIPrompt(f *store.Flow) string {
	for _, n := range f.Nodes {
		if n.Type == "ai" {
			return dataString(n.Data, "prompt")
		}
	}
	return ""
}

func (e *Engine) fallbackAIReply(ctx context.Context, session *store.Session, flowPrompt, text string) error {
	transcript := e.transcriptFor(ctx, session.ID)
	contact := e.toContactInfo(e.contactInfoFor(ctx, session))
	decision := e.ai.GenerateReply(ctx, flowPrompt, transcript, contact, nil, text)
	return e.applyDecision(ctx, session, decision)
}

func (e *Engine) transcriptFor(ctx context.Context, sessionID string) []ai.Turn {
	msgs, err := e.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil
	}
	out := make([]ai.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.Turn{Sender: m.Sender, Text: m.Text})
	}
	return out
}

func (e *Engine) toContactInfo(c *store.Contact) ai.ContactInfo {
	if c == nil {
		return ai.ContactInfo{}
	}
	return ai.ContactInfo{Name: c.Name, Email: c.Email, Phone: c.Phone}
}
