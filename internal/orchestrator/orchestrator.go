// Package orchestrator is the session orchestrator (C6): the ingress point
// for every visitor and agent event. It owns closed-session retargeting,
// contact identity carry-over, the handover-intent shortcut, and dispatch
// into the flow interpreter, serialized per session.
package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/apperr"
	"github.com/dohr-michael/chatflow/internal/events"
	"github.com/dohr-michael/chatflow/internal/store"
)

// Store is the subset of internal/store.Store the orchestrator consumes.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpsertSession(ctx context.Context, s *store.Session) error
	SetSessionHandover(ctx context.Context, id string, active bool) (*store.SessionSummary, bool, error)
	InsertMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	FindMostRecentSessionByVisitorID(ctx context.Context, tenantID, visitorID, excludeSessionID string) (string, bool, error)
	LinkContactToAllVisitorSessions(ctx context.Context, tenantID, visitorID, contactID, excludeSessionID string) error
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	SubmitCSAT(ctx context.Context, survey *store.CSATSurvey) error
}

// Broadcaster is the subset of internal/realtime.Hub the orchestrator
// consumes to notify connected clients of session-level events.
type Broadcaster interface {
	EmitToSession(sessionID, event string, data any)
	EmitToOne(clientID, event string, data any)
	EmitMessageToSession(sessionID, event string, data any, visitorVisible bool)
}

// FlowEngine is the subset of internal/flow.Engine the orchestrator
// dispatches into once a visitor message has been persisted.
type FlowEngine interface {
	OnPageEvent(ctx context.Context, session *store.Session, event string) error
	OnVisitorMessage(ctx context.Context, session *store.Session, text string) error
	ResumeAfterCSAT(ctx context.Context, session *store.Session) error
}

const handoverMessage = "Conversation transferred to a human agent."

// Orchestrator wires the store, realtime hub, and flow interpreter
// together behind the ingress rules of spec §4.6.
type Orchestrator struct {
	store  Store
	hub    Broadcaster
	engine FlowEngine
	bus    *events.Bus
	http   *http.Client
	serial *Serializer
	now    func() time.Time
	newID  func() string
}

// Option configures optional Orchestrator behavior beyond the required
// collaborators passed to New.
type Option func(*Orchestrator)

// WithBus attaches an event bus that mirrors the orchestrator's own WS
// broadcasts as typed internal events, for consumers beyond connected sockets (e.g. a
// future webhook/analytics subscriber). Best-effort: publish never
// blocks or fails the caller.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

func New(st Store, hub Broadcaster, engine FlowEngine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		hub:    hub,
		engine: engine,
		http:   &http.Client{Timeout: 5 * time.Second},
		serial: NewSerializer(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// publish mirrors an event onto the bus if one is attached; a nil bus
// (the common case outside of serve wiring) is a silent no-op.
func (o *Orchestrator) publish(sessionID string, source events.EventSource, payload events.EventPayload) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewTypedEventWithSession(source, payload, sessionID))
}

// EnsureSession loads an existing session or creates one, firing the
// page_open trigger asynchronously for newly created sessions.
func (o *Orchestrator) EnsureSession(ctx context.Context, tenantID, sessionID, visitorID, channel string) (*store.Session, error) {
	if sessionID != "" {
		existing, err := o.store.GetSession(ctx, sessionID)
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := o.now()
	session := &store.Session{
		ID:        sessionID,
		TenantID:  tenantID,
		VisitorID: visitorID,
		Channel:   channel,
		Status:    "open",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.ID == "" {
		session.ID = o.newID()
	}
	if err := o.store.UpsertSession(ctx, session); err != nil {
		return nil, err
	}

	o.carryOverContact(ctx, session)

	o.serial.Run(session.ID, func() {
		if err := o.engine.OnPageEvent(context.Background(), session, "page_open"); err != nil {
			slog.Error("orchestrator: page_open trigger failed", "session_id", session.ID, "error", err)
		}
	})

	return session, nil
}

// carryOverContact copies contact_id from the most recent other session
// bearing the same visitor_id, per spec §4.6 step 3.
func (o *Orchestrator) carryOverContact(ctx context.Context, session *store.Session) {
	if session.VisitorID == "" || session.ContactID != "" {
		return
	}
	contactID, ok, err := o.store.FindMostRecentSessionByVisitorID(ctx, session.TenantID, session.VisitorID, session.ID)
	if err != nil || !ok {
		return
	}
	session.ContactID = contactID
	if err := o.store.UpsertSession(ctx, session); err != nil {
		slog.Warn("orchestrator: contact carry-over upsert failed", "session_id", session.ID, "error", err)
		return
	}
	_ = o.store.LinkContactToAllVisitorSessions(ctx, session.TenantID, session.VisitorID, contactID, session.ID)
}

// FireWidgetOpened handles the widget:opened WS event.
func (o *Orchestrator) FireWidgetOpened(ctx context.Context, session *store.Session) {
	o.serial.Run(session.ID, func() {
		if err := o.engine.OnPageEvent(context.Background(), session, "widget_open"); err != nil {
			slog.Error("orchestrator: widget_open trigger failed", "session_id", session.ID, "error", err)
		}
	})
}

// VisitorMessageResult reports the effective session a visitor message
// landed on, after any closed-session retargeting.
type VisitorMessageResult struct {
	Session    *store.Session
	Retargeted bool
}

// HandleVisitorMessage implements spec §4.6's five-step visitor ingress:
// closed-session retargeting, ensure-session, contact carry-over,
// persist+broadcast, then dispatch to the interpreter — serialized per
// effective session so pause/resume never races the same cursor.
func (o *Orchestrator) HandleVisitorMessage(ctx context.Context, tenantID, sessionID, visitorID, channel, text string) (VisitorMessageResult, error) {
	text = strings.TrimSpace(text)

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return VisitorMessageResult{}, err
	}

	retargeted := false
	if session != nil && session.Status == "closed" {
		newSession, err := o.EnsureSession(ctx, tenantID, "", visitorID, channel)
		if err != nil {
			return VisitorMessageResult{}, err
		}
		o.hub.EmitToSession(sessionID, "session:switched", map[string]string{"oldSessionId": sessionID, "sessionId": newSession.ID})
		o.publish(sessionID, events.SourceSystem, events.SessionLifecyclePayload{NewSessionID: newSession.ID})
		session = newSession
		retargeted = true
	} else if session == nil {
		session, err = o.EnsureSession(ctx, tenantID, sessionID, visitorID, channel)
		if err != nil {
			return VisitorMessageResult{}, err
		}
	}

	if !retargeted {
		o.carryOverContact(ctx, session)
	}

	// §3 invariant 2: whitespace-only text is silently dropped here,
	// after session resolution but before it ever reaches persistence,
	// broadcast, or the interpreter.
	if text == "" {
		return VisitorMessageResult{Session: session, Retargeted: retargeted}, nil
	}

	msg := &store.Message{
		ID:        o.newID(),
		SessionID: session.ID,
		Sender:    "visitor",
		Text:      text,
		CreatedAt: o.now(),
	}
	if err := o.store.InsertMessage(ctx, msg); err != nil {
		return VisitorMessageResult{}, err
	}
	o.hub.EmitMessageToSession(session.ID, "message:new", msg, msg.VisibleToWidget())
	o.publish(session.ID, events.SourceVisitor, events.MessageCreatedPayload{MessageID: msg.ID, Sender: msg.Sender, Text: msg.Text})

	if ai.DetectHandoverIntent(text) {
		o.shortCircuitHandover(ctx, session)
		return VisitorMessageResult{Session: session, Retargeted: retargeted}, nil
	}

	o.serial.Run(session.ID, func() {
		if err := o.engine.OnVisitorMessage(context.Background(), session, text); err != nil {
			slog.Error("orchestrator: interpreter dispatch failed", "session_id", session.ID, "error", err)
		}
	})

	return VisitorMessageResult{Session: session, Retargeted: retargeted}, nil
}

// shortCircuitHandover implements testable property §8.5: a handover
// phrase enables handover and posts a fixed system message without ever
// invoking the interpreter.
func (o *Orchestrator) shortCircuitHandover(ctx context.Context, session *store.Session) {
	if _, _, err := o.store.SetSessionHandover(ctx, session.ID, true); err != nil {
		slog.Error("orchestrator: handover shortcut failed", "session_id", session.ID, "error", err)
		return
	}
	session.HandoverActive = true

	msg := &store.Message{
		ID:        o.newID(),
		SessionID: session.ID,
		Sender:    "system",
		Text:      handoverMessage,
		CreatedAt: o.now(),
	}
	if err := o.store.InsertMessage(ctx, msg); err != nil {
		slog.Error("orchestrator: handover message persist failed", "session_id", session.ID, "error", err)
		return
	}
	o.hub.EmitMessageToSession(session.ID, "message:new", msg, msg.VisibleToWidget())
	o.hub.EmitToSession(session.ID, "session:updated", session)
	o.publish(session.ID, events.SourceSystem, events.MessageCreatedPayload{MessageID: msg.ID, Sender: msg.Sender, Text: msg.Text})
	o.publish(session.ID, events.SourceSystem, events.SessionLifecyclePayload{Status: session.Status, HandoverActive: session.HandoverActive})
}

// HandleAgentMessage posts an agent- or team-authored message. Agent
// messages never invoke the interpreter. A message containing a URL gets
// a link-preview widget attached, best-effort.
func (o *Orchestrator) HandleAgentMessage(ctx context.Context, session *store.Session, text string, internal bool) (*store.Message, error) {
	sender := "agent"
	if internal {
		sender = "team"
	}

	msg := &store.Message{
		ID:        o.newID(),
		SessionID: session.ID,
		Sender:    sender,
		Text:      text,
		CreatedAt: o.now(),
	}
	if widget := o.fetchLinkPreview(ctx, text); widget != nil {
		msg.Widget = widget
	}
	if err := o.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	o.hub.EmitMessageToSession(session.ID, "message:new", msg, msg.VisibleToWidget())
	o.publish(session.ID, events.SourceAgentUI, events.MessageCreatedPayload{MessageID: msg.ID, Sender: msg.Sender, Text: msg.Text, Widget: msg.Widget})
	return msg, nil
}

// SubmitCSAT records a visitor's satisfaction rating and, serialized
// per session like every other interpreter entry point, resumes any
// cursor paused at a `csat` or `close_conversation` node waiting for it
// (§4.5.5). The survey is recorded even if no cursor is paused.
func (o *Orchestrator) SubmitCSAT(ctx context.Context, session *store.Session, score int, comment string) error {
	survey := &store.CSATSurvey{
		SessionID:   session.ID,
		Score:       score,
		Comment:     comment,
		SubmittedAt: o.now(),
	}
	if err := o.store.SubmitCSAT(ctx, survey); err != nil {
		return err
	}
	o.publish(session.ID, events.SourceVisitor, events.CSATSubmittedPayload{Score: score, Comment: comment})

	o.serial.Run(session.ID, func() {
		if err := o.engine.ResumeAfterCSAT(context.Background(), session); err != nil {
			slog.Error("orchestrator: csat resume failed", "session_id", session.ID, "error", err)
		}
	})
	return nil
}
