package flow

import (
	"context"
	"sort"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/store"
)

// fakeStore is an in-memory Store double, grounded on the teacher's
// pattern of testing against a hand-rolled fake rather than a mock
// framework.
type fakeStore struct {
	sessions map[string]*store.Session
	messages map[string][]store.Message
	flows    map[string]*store.Flow
	cursors  map[string]*store.FlowCursor // keyed by tenant+session
	contacts map[string]*store.Contact
	triggers map[string]bool // sessionID+event
	tags     map[string]*store.Tag
	notes    []store.ConversationNote
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*store.Session{},
		messages: map[string][]store.Message{},
		flows:    map[string]*store.Flow{},
		cursors:  map[string]*store.FlowCursor{},
		contacts: map[string]*store.Contact{},
		triggers: map[string]bool{},
		tags:     map[string]*store.Tag{},
	}
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) UpsertSession(ctx context.Context, s *store.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) SetSessionStatus(ctx context.Context, id, status string) (*store.SessionSummary, bool, error) {
	s := f.sessions[id]
	changed := s.Status != status
	s.Status = status
	return &store.SessionSummary{Session: *s}, changed, nil
}

func (f *fakeStore) SetSessionHandover(ctx context.Context, id string, active bool) (*store.SessionSummary, bool, error) {
	s := f.sessions[id]
	changed := s.HandoverActive != active
	s.HandoverActive = active
	return &store.SessionSummary{Session: *s}, changed, nil
}

func (f *fakeStore) MarkTriggerFired(ctx context.Context, sessionID, event string) (bool, error) {
	key := sessionID + "|" + event
	if f.triggers[key] {
		return false, nil
	}
	f.triggers[key] = true
	return true, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], *msg)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	return f.messages[sessionID], nil
}

func (f *fakeStore) GetFlow(ctx context.Context, id string) (*store.Flow, error) {
	return f.flows[id], nil
}

func (f *fakeStore) ListFlows(ctx context.Context, tenantID string, enabledOnly bool) ([]store.Flow, error) {
	var ids []string
	for id, fl := range f.flows {
		if fl.TenantID != tenantID {
			continue
		}
		if enabledOnly && !fl.Enabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]store.Flow, 0, len(ids))
	for _, id := range ids {
		out = append(out, *f.flows[id])
	}
	return out, nil
}

func cursorKey(tenantID, sessionID string) string { return tenantID + "|" + sessionID }

func (f *fakeStore) GetCursor(ctx context.Context, tenantID, sessionID string) (*store.FlowCursor, error) {
	return f.cursors[cursorKey(tenantID, sessionID)], nil
}

func (f *fakeStore) PutCursor(ctx context.Context, c *store.FlowCursor) error {
	f.cursors[cursorKey(c.TenantID, c.SessionID)] = c
	return nil
}

func (f *fakeStore) DeleteCursor(ctx context.Context, tenantID, sessionID string) error {
	delete(f.cursors, cursorKey(tenantID, sessionID))
	return nil
}

func (f *fakeStore) GetContact(ctx context.Context, id string) (*store.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeStore) FindContactByEmail(ctx context.Context, tenantID, email string) (*store.Contact, error) {
	for _, c := range f.contacts {
		if c.TenantID == tenantID && c.Email == email {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertContact(ctx context.Context, c *store.Contact) error {
	f.contacts[c.ID] = c
	return nil
}

func (f *fakeStore) GetContactCustomAttribute(ctx context.Context, contactID, key string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeStore) SetContactCustomAttribute(ctx context.Context, contactID, key, value string) error {
	return nil
}

func (f *fakeStore) ListContactCustomAttributes(ctx context.Context, contactID string) (map[string]string, error) {
	return nil, nil
}

func (f *fakeStore) GetConversationCustomAttribute(ctx context.Context, sessionID, key string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeStore) SetConversationCustomAttribute(ctx context.Context, sessionID, key, value string) error {
	return nil
}

func (f *fakeStore) GetAgent(ctx context.Context, id string) (*store.Agent, error) { return nil, nil }
func (f *fakeStore) GetTeam(ctx context.Context, id string) (*store.Team, error)   { return nil, nil }
func (f *fakeStore) FindTeamByName(ctx context.Context, tenantID, name string) (*store.Team, error) {
	return nil, nil
}
func (f *fakeStore) GetInbox(ctx context.Context, id string) (*store.Inbox, error) { return nil, nil }

func (f *fakeStore) UpsertTagByName(ctx context.Context, tenantID, name, id string) (*store.Tag, error) {
	for _, t := range f.tags {
		if t.TenantID == tenantID && t.Name == name {
			return t, nil
		}
	}
	tag := &store.Tag{ID: id, TenantID: tenantID, Name: name}
	f.tags[id] = tag
	return tag, nil
}

func (f *fakeStore) AddConversationTag(ctx context.Context, sessionID, tagID string) error {
	return nil
}
func (f *fakeStore) RemoveConversationTag(ctx context.Context, sessionID, tagID string) error {
	return nil
}

func (f *fakeStore) InsertConversationNote(ctx context.Context, n *store.ConversationNote) error {
	f.notes = append(f.notes, *n)
	return nil
}

func (f *fakeStore) FindMostRecentSessionByVisitorID(ctx context.Context, tenantID, visitorID, excludeSessionID string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeStore) LinkContactToAllVisitorSessions(ctx context.Context, tenantID, visitorID, contactID, excludeSessionID string) error {
	return nil
}

// fakeBroadcaster records every emitted event for assertions.
type fakeBroadcaster struct {
	events []string
}

func (b *fakeBroadcaster) EmitToSession(sessionID, event string, data any) {
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) EmitToAgents(event string, data any) {
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) EmitMessageToSession(sessionID, event string, data any, visitorVisible bool) {
	b.events = append(b.events, event)
}

// fakeTyping records start/stop calls in order.
type fakeTyping struct {
	calls []string
}

func (t *fakeTyping) StartAuto(sessionID string) { t.calls = append(t.calls, "start:"+sessionID) }
func (t *fakeTyping) StopAuto(sessionID string)  { t.calls = append(t.calls, "stop:"+sessionID) }

// fakeAI returns canned decisions/extractions for deterministic tests.
type fakeAI struct {
	reply      ai.Decision
	extraction map[string]string
}

func (a *fakeAI) GenerateReply(ctx context.Context, flowPrompt string, transcript []ai.Turn, contact ai.ContactInfo, tools []ai.ToolSpec, visitorText string) ai.Decision {
	return a.reply
}

func (a *fakeAI) ExtractVariables(ctx context.Context, transcript []ai.Turn, contact ai.ContactInfo, vars []ai.ToolParam, visitorText string) map[string]string {
	if a.extraction == nil {
		return map[string]string{}
	}
	return a.extraction
}

func newTestEngine(st Store, hub Broadcaster, typ TypingController, gw AIGateway) *Engine {
	return New(st, hub, typ, gw, 24, 0)
}
