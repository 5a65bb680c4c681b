package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/chatflow/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	messages map[string][]store.Message
	contacts map[string]*store.Contact
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*store.Session{},
		messages: map[string][]store.Message{},
		contacts: map[string]*store.Contact{},
	}
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id], nil
}

func (f *fakeStore) UpsertSession(ctx context.Context, s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) SetSessionHandover(ctx context.Context, id string, active bool) (*store.SessionSummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	changed := s.HandoverActive != active
	s.HandoverActive = active
	return &store.SessionSummary{Session: *s}, changed, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], *msg)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}

func (f *fakeStore) FindMostRecentSessionByVisitorID(ctx context.Context, tenantID, visitorID, excludeSessionID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *store.Session
	for _, s := range f.sessions {
		if s.ID == excludeSessionID || s.TenantID != tenantID || s.VisitorID != visitorID || s.ContactID == "" {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.ContactID, true, nil
}

func (f *fakeStore) LinkContactToAllVisitorSessions(ctx context.Context, tenantID, visitorID, contactID, excludeSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == excludeSessionID || s.TenantID != tenantID || s.VisitorID != visitorID {
			continue
		}
		s.ContactID = contactID
	}
	return nil
}

func (f *fakeStore) GetContact(ctx context.Context, id string) (*store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts[id], nil
}

func (f *fakeStore) SubmitCSAT(ctx context.Context, survey *store.CSATSurvey) error {
	return nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) EmitToSession(sessionID, event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHub) EmitToOne(clientID, event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHub) EmitMessageToSession(sessionID, event string, data any, visitorVisible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

type fakeEngine struct {
	mu   sync.Mutex
	page []string
	msg  []string
}

func (e *fakeEngine) OnPageEvent(ctx context.Context, session *store.Session, event string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.page = append(e.page, session.ID+":"+event)
	return nil
}

func (e *fakeEngine) OnVisitorMessage(ctx context.Context, session *store.Session, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msg = append(e.msg, session.ID+":"+text)
	return nil
}

func (e *fakeEngine) ResumeAfterCSAT(ctx context.Context, session *store.Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msg = append(e.msg, session.ID+":__csat_resume__")
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestEnsureSessionFiresPageOpenOnceForNewSession(t *testing.T) {
	st := newFakeStore()
	hub := &fakeHub{}
	eng := &fakeEngine{}
	o := New(st, hub, eng)

	session, err := o.EnsureSession(context.Background(), "t1", "", "v1", "widget")
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.page) == 1
	})
	if eng.page[0] != session.ID+":page_open" {
		t.Fatalf("unexpected page events: %v", eng.page)
	}

	again, err := o.EnsureSession(context.Background(), "t1", session.ID, "v1", "widget")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != session.ID {
		t.Fatal("expected existing session to be returned, not recreated")
	}
}

// TestClosedSessionRetargeting checks testable property §8.6: a visitor
// POST to a closed session targets a new id and leaves the old session's
// history untouched.
func TestClosedSessionRetargeting(t *testing.T) {
	st := newFakeStore()
	hub := &fakeHub{}
	eng := &fakeEngine{}
	o := New(st, hub, eng)

	st.sessions["closed-1"] = &store.Session{ID: "closed-1", TenantID: "t1", Status: "closed", VisitorID: "v1"}
	st.messages["closed-1"] = []store.Message{{SessionID: "closed-1", Sender: "visitor", Text: "old"}}

	result, err := o.HandleVisitorMessage(context.Background(), "t1", "closed-1", "v1", "widget", "are you there")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Retargeted {
		t.Fatal("expected retargeting")
	}
	if result.Session.ID == "closed-1" {
		t.Fatal("expected a new session id")
	}
	if st.sessions["closed-1"].Status != "closed" {
		t.Fatal("expected original session to remain closed")
	}
	if len(st.messages["closed-1"]) != 1 {
		t.Fatal("expected original session's history unchanged")
	}
	if len(st.messages[result.Session.ID]) != 1 || st.messages[result.Session.ID][0].Text != "are you there" {
		t.Fatalf("expected new session to carry the visitor's message, got %+v", st.messages[result.Session.ID])
	}
}

// TestHandoverPhraseShortCircuitsBeforeInterpreter checks universal
// invariant §8.5 / scenario §8.6: the interpreter never runs.
func TestHandoverPhraseShortCircuitsBeforeInterpreter(t *testing.T) {
	st := newFakeStore()
	hub := &fakeHub{}
	eng := &fakeEngine{}
	o := New(st, hub, eng)

	st.sessions["s1"] = &store.Session{ID: "s1", TenantID: "t1", Status: "open"}

	result, err := o.HandleVisitorMessage(context.Background(), "t1", "s1", "", "widget", "please transfer me to a human")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Session.HandoverActive {
		t.Fatal("expected handover active")
	}

	time.Sleep(20 * time.Millisecond)
	eng.mu.Lock()
	invoked := len(eng.msg)
	eng.mu.Unlock()
	if invoked != 0 {
		t.Fatal("expected interpreter never invoked on handover shortcut")
	}

	msgs := st.messages["s1"]
	last := msgs[len(msgs)-1]
	if last.Sender != "system" || last.Text != handoverMessage {
		t.Fatalf("expected fixed system message, got %+v", last)
	}
}

// TestVisitorIDContactCarryOver checks spec §4.6 step 3.
func TestVisitorIDContactCarryOver(t *testing.T) {
	st := newFakeStore()
	hub := &fakeHub{}
	eng := &fakeEngine{}
	o := New(st, hub, eng)

	st.sessions["old"] = &store.Session{ID: "old", TenantID: "t1", VisitorID: "v1", ContactID: "c1", Status: "open", UpdatedAt: time.Unix(100, 0)}

	result, err := o.HandleVisitorMessage(context.Background(), "t1", "new", "v1", "widget", "hi again")
	if err != nil {
		t.Fatal(err)
	}
	if result.Session.ContactID != "c1" {
		t.Fatalf("expected carried-over contact id, got %q", result.Session.ContactID)
	}
}

func TestAgentMessagePersistsAsAgentSenderAndNeverDispatchesInterpreter(t *testing.T) {
	st := newFakeStore()
	hub := &fakeHub{}
	eng := &fakeEngine{}
	o := New(st, hub, eng)

	st.sessions["s1"] = &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	msg, err := o.HandleAgentMessage(context.Background(), st.sessions["s1"], "on it", false)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Sender != "agent" {
		t.Fatalf("expected agent sender, got %q", msg.Sender)
	}

	internalMsg, err := o.HandleAgentMessage(context.Background(), st.sessions["s1"], "internal note", true)
	if err != nil {
		t.Fatal(err)
	}
	if internalMsg.Sender != "team" {
		t.Fatalf("expected team sender for internal message, got %q", internalMsg.Sender)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.msg) != 0 {
		t.Fatal("expected agent messages never to dispatch to the interpreter")
	}
}

func TestExtractPreviewURLPrefersMarkdownLink(t *testing.T) {
	text := "see https://bare.example/x and also [docs](https://markdown.example/y)"
	got := extractPreviewURL(text)
	if got != "https://markdown.example/y" {
		t.Fatalf("expected markdown link preference, got %q", got)
	}
}
