package flow

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/dohr-michael/chatflow/internal/store"
)

func (e *Engine) handleCondition(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	rules, logicOperator := decodeRules(node.Data)

	lastMessage := vars["__last_message__"]
	cc := e.buildConditionCtx(ctx, session, lastMessage)

	var result bool
	if len(rules) == 0 {
		if legacy := dataString(node.Data, "contains"); legacy != "" {
			result = evalLegacyContains(lastMessage, legacy)
		} else {
			result = false
		}
	} else {
		result = evalRules(cc, rules, logicOperator)
	}

	if result {
		return stepOutcome{handles: []string{"true"}}, nil
	}
	// A false result tries "false" first, then "else", then "default",
	// before falling back to the first outgoing edge.
	return stepOutcome{handles: []string{"false", "else", "default"}}, nil
}

// handleWait sleeps for a duration capped by the engine's configured
// maximum, a hard guard against pathological flows.
func (e *Engine) handleWait(ctx context.Context, node *store.FlowNode) (stepOutcome, error) {
	duration := dataInt(node.Data, "duration")
	unit := dataString(node.Data, "unit")

	var d time.Duration
	switch unit {
	case "minutes":
		d = time.Duration(duration) * time.Minute
	case "hours":
		d = time.Duration(duration) * time.Hour
	case "days":
		d = time.Duration(duration) * 24 * time.Hour
	default:
		d = time.Duration(duration) * time.Second
	}
	if d > e.maxWait {
		d = e.maxWait
	}
	if d <= 0 {
		return stepOutcome{}, nil
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return stepOutcome{}, ctx.Err()
	}
	return stepOutcome{}, nil
}

func (e *Engine) handleAssign(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	teamName := dataString(node.Data, "team")
	agentID := dataString(node.Data, "agent")
	enableHandover := dataBool(node.Data, "handover")
	message := interpolate(dataString(node.Data, "message"), vars)

	changed := false
	if teamName != "" {
		if team, err := e.store.FindTeamByName(ctx, session.TenantID, teamName); err == nil && team != nil {
			session.TeamID = team.ID
			changed = true
		}
	}
	if agentID != "" {
		if agent, err := e.store.GetAgent(ctx, agentID); err == nil && agent != nil {
			session.AssigneeAgentID = agent.ID
			changed = true
		}
	}
	if enableHandover {
		session.HandoverActive = true
		changed = true
	}
	if changed {
		if err := e.store.UpsertSession(ctx, session); err != nil {
			return stepOutcome{}, err
		}
		e.hub.EmitToSession(session.ID, "session:updated", session)
	}

	if message != "" {
		if err := e.sendAgentMessage(ctx, session.ID, "system", message, nil, nil, 0); err != nil {
			return stepOutcome{}, err
		}
	}
	return stepOutcome{}, nil
}

func (e *Engine) handleTag(ctx context.Context, session *store.Session, node *store.FlowNode) (stepOutcome, error) {
	for _, name := range dataStringSlice(node.Data, "add") {
		tag, err := e.store.UpsertTagByName(ctx, session.TenantID, name, e.newID())
		if err != nil || tag == nil {
			continue
		}
		_ = e.store.AddConversationTag(ctx, session.ID, tag.ID)
	}
	for _, name := range dataStringSlice(node.Data, "remove") {
		tag, err := e.store.UpsertTagByName(ctx, session.TenantID, name, e.newID())
		if err != nil || tag == nil {
			continue
		}
		_ = e.store.RemoveConversationTag(ctx, session.ID, tag.ID)
	}
	return stepOutcome{}, nil
}

var contactScalarFields = map[string]struct{}{
	"name": {}, "email": {}, "phone": {}, "company": {}, "location": {},
}

func (e *Engine) handleSetAttribute(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	field := dataString(node.Data, "field")
	attributeKey := dataString(node.Data, "attributeKey")
	scope := dataString(node.Data, "scope") // "contact" | "conversation"
	value := interpolate(dataString(node.Data, "value"), vars)

	if _, isScalar := contactScalarFields[field]; isScalar && scope != "conversation" {
		return stepOutcome{}, e.setContactScalar(ctx, session, field, value)
	}

	if scope == "conversation" {
		return stepOutcome{}, e.store.SetConversationCustomAttribute(ctx, session.ID, attributeKey, value)
	}

	contact, err := e.ensureContact(ctx, session)
	if err != nil || contact == nil {
		return stepOutcome{}, err
	}
	return stepOutcome{}, e.store.SetContactCustomAttribute(ctx, contact.ID, attributeKey, value)
}

// setContactScalar sets one of the five named contact fields, creating
// the contact if the session has none yet. Setting email runs the
// find-or-create linking flow described in spec §4.6.
func (e *Engine) setContactScalar(ctx context.Context, session *store.Session, field, value string) error {
	if field == "email" {
		return e.linkContactByEmail(ctx, session, value)
	}
	contact, err := e.ensureContact(ctx, session)
	if err != nil || contact == nil {
		return err
	}
	switch field {
	case "name":
		contact.Name = value
	case "phone":
		contact.Phone = value
	case "company":
		contact.Company = value
	case "location":
		contact.Location = value
	}
	return e.store.UpsertContact(ctx, contact)
}

// ensureContact returns the session's linked contact, creating a bare
// one if none is linked yet.
func (e *Engine) ensureContact(ctx context.Context, session *store.Session) (*store.Contact, error) {
	if session.ContactID != "" {
		return e.store.GetContact(ctx, session.ContactID)
	}
	contact := &store.Contact{ID: e.newID(), TenantID: session.TenantID}
	if err := e.store.UpsertContact(ctx, contact); err != nil {
		return nil, err
	}
	session.ContactID = contact.ID
	if err := e.store.UpsertSession(ctx, session); err != nil {
		return nil, err
	}
	return contact, nil
}

// linkContactByEmail implements the find-or-create-by-email contact
// identity flow: reuse an existing contact with that email for this
// tenant, or set it on the session's own contact.
func (e *Engine) linkContactByEmail(ctx context.Context, session *store.Session, email string) error {
	if email == "" {
		return nil
	}
	existing, err := e.store.FindContactByEmail(ctx, session.TenantID, email)
	if err != nil {
		return err
	}
	if existing != nil {
		session.ContactID = existing.ID
		return e.store.UpsertSession(ctx, session)
	}
	contact, err := e.ensureContact(ctx, session)
	if err != nil || contact == nil {
		return err
	}
	contact.Email = email
	return e.store.UpsertContact(ctx, contact)
}

func (e *Engine) handleNote(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	text := interpolate(dataString(node.Data, "text"), vars)
	note := &store.ConversationNote{
		ID:        e.newID(),
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertConversationNote(ctx, note); err != nil {
		return stepOutcome{}, err
	}
	if err := e.sendAgentMessage(ctx, session.ID, "note", text, nil, nil, 0); err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{}, nil
}

// handleWebhook fires a fire-and-forget HTTP request; transport and
// status errors are swallowed per spec §4.5.7.
func (e *Engine) handleWebhook(ctx context.Context, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	url := interpolate(dataString(node.Data, "url"), vars)
	if url == "" {
		return stepOutcome{}, nil
	}
	method := dataString(node.Data, "method")
	if method == "" {
		method = http.MethodPost
	}
	body := interpolate(dataString(node.Data, "body"), vars)

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBufferString(body))
	if err != nil {
		return stepOutcome{}, nil
	}
	for k, v := range dataStringMap(node.Data, "headers") {
		req.Header.Set(k, interpolate(v, vars))
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return stepOutcome{}, nil
	}
	resp.Body.Close()
	return stepOutcome{}, nil
}

func (e *Engine) handleEnd(ctx context.Context, session *store.Session, node *store.FlowNode, vars map[string]string) (stepOutcome, error) {
	behavior := dataString(node.Data, "behavior")
	message := interpolate(dataString(node.Data, "message"), vars)
	if message != "" {
		if err := e.sendAgentMessage(ctx, session.ID, "agent", message, nil, nil, 0); err != nil {
			return stepOutcome{}, err
		}
	}
	switch behavior {
	case "close":
		e.closeSession(ctx, session)
	case "handover":
		e.enableHandover(ctx, session)
	}
	return stepOutcome{terminal: true}, nil
}
