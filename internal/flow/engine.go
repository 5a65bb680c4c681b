// Package flow is the flow interpreter (C5): a pausable graph walker
// over tenant-authored conversation flows, with persistent cursors for
// resumption across process restarts.
package flow

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/events"
	"github.com/dohr-michael/chatflow/internal/realtime"
	"github.com/dohr-michael/chatflow/internal/store"
	"github.com/dohr-michael/chatflow/internal/typing"
)

// Store is the subset of internal/store.Store the interpreter needs.
// Declared as an interface so tests can substitute a fake without
// standing up sqlite, matching the way the teacher decouples its
// session store behind an interface in internal/sessions.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpsertSession(ctx context.Context, s *store.Session) error
	SetSessionStatus(ctx context.Context, id, status string) (*store.SessionSummary, bool, error)
	SetSessionHandover(ctx context.Context, id string, active bool) (*store.SessionSummary, bool, error)
	MarkTriggerFired(ctx context.Context, sessionID, event string) (bool, error)
	InsertMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)

	GetFlow(ctx context.Context, id string) (*store.Flow, error)
	ListFlows(ctx context.Context, tenantID string, enabledOnly bool) ([]store.Flow, error)
	GetCursor(ctx context.Context, tenantID, sessionID string) (*store.FlowCursor, error)
	PutCursor(ctx context.Context, c *store.FlowCursor) error
	DeleteCursor(ctx context.Context, tenantID, sessionID string) error

	GetContact(ctx context.Context, id string) (*store.Contact, error)
	FindContactByEmail(ctx context.Context, tenantID, email string) (*store.Contact, error)
	UpsertContact(ctx context.Context, c *store.Contact) error
	GetContactCustomAttribute(ctx context.Context, contactID, key string) (string, bool, error)
	SetContactCustomAttribute(ctx context.Context, contactID, key, value string) error
	ListContactCustomAttributes(ctx context.Context, contactID string) (map[string]string, error)
	GetConversationCustomAttribute(ctx context.Context, sessionID, key string) (string, bool, error)
	SetConversationCustomAttribute(ctx context.Context, sessionID, key, value string) error

	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	GetTeam(ctx context.Context, id string) (*store.Team, error)
	FindTeamByName(ctx context.Context, tenantID, name string) (*store.Team, error)
	GetInbox(ctx context.Context, id string) (*store.Inbox, error)
	UpsertTagByName(ctx context.Context, tenantID, name, id string) (*store.Tag, error)
	AddConversationTag(ctx context.Context, sessionID, tagID string) error
	RemoveConversationTag(ctx context.Context, sessionID, tagID string) error
	InsertConversationNote(ctx context.Context, n *store.ConversationNote) error

	FindMostRecentSessionByVisitorID(ctx context.Context, tenantID, visitorID, excludeSessionID string) (string, bool, error)
	LinkContactToAllVisitorSessions(ctx context.Context, tenantID, visitorID, contactID, excludeSessionID string) error
}

// Broadcaster is the realtime surface the interpreter drives directly:
// message fan-out and session lifecycle notices. Satisfied by
// *realtime.Hub.
type Broadcaster interface {
	EmitToSession(sessionID, event string, data any)
	EmitToAgents(event string, data any)
	EmitMessageToSession(sessionID, event string, data any, visitorVisible bool)
}

// TypingController is the C3 surface the interpreter drives around
// every outgoing message delay.
type TypingController interface {
	StartAuto(sessionID string)
	StopAuto(sessionID string)
}

// AIGateway is the C4 surface consumed by ai nodes and start_flow
// AI-collection.
type AIGateway interface {
	GenerateReply(ctx context.Context, flowPrompt string, transcript []ai.Turn, contact ai.ContactInfo, tools []ai.ToolSpec, visitorText string) ai.Decision
	ExtractVariables(ctx context.Context, transcript []ai.Turn, contact ai.ContactInfo, vars []ai.ToolParam, visitorText string) map[string]string
}

var _ Broadcaster = (*realtime.Hub)(nil)
var _ TypingController = (*typing.Aggregator)(nil)
var _ AIGateway = (*ai.Gateway)(nil)

// Engine runs flows for a tenant. One Engine is shared across sessions;
// per-session serialization is the caller's responsibility (the
// orchestrator serializes per session, see internal/orchestrator).
type Engine struct {
	store   Store
	hub     Broadcaster
	typing  TypingController
	ai      AIGateway
	http    *http.Client
	bus     *events.Bus
	maxStep int
	maxWait time.Duration
	now     func() time.Time
	newID   func() string
}

type Option func(*Engine)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.http = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBus attaches an event bus that mirrors trigger-fire and
// pause/resume activity as typed internal events, mirroring the
// teacher's event-driven decoupling of producers from consumers.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// publish mirrors an event onto the bus if one is attached; a nil bus
// is a silent no-op.
func (e *Engine) publish(sessionID string, source events.EventSource, payload events.EventPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewTypedEventWithSession(source, payload, sessionID))
}

func New(st Store, hub Broadcaster, typ TypingController, gateway AIGateway, maxSteps int, maxWait time.Duration, opts ...Option) *Engine {
	if maxSteps <= 0 {
		maxSteps = 24
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	e := &Engine{
		store:   st,
		hub:     hub,
		typing:  typ,
		ai:      gateway,
		http:    &http.Client{Timeout: 10 * time.Second},
		maxStep: maxSteps,
		maxWait: maxWait,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) findNode(f *store.Flow, id string) *store.FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

func (e *Engine) edgesFrom(f *store.Flow, nodeID string) []store.FlowEdge {
	var out []store.FlowEdge
	for _, edge := range f.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}
	return out
}

// nextNodeID resolves the outgoing edge for a node, trying each handle
// in order (branching nodes may offer a fallback chain — e.g. a false
// condition result tries "false", then "else", then "default") and
// otherwise falling back to the first edge.
func (e *Engine) nextNodeID(f *store.Flow, nodeID string, handles ...string) (string, bool) {
	edges := e.edgesFrom(f, nodeID)
	if len(edges) == 0 {
		return "", false
	}
	for _, handle := range handles {
		if handle == "" {
			continue
		}
		for _, edge := range edges {
			if edge.SourceHandle == handle {
				return edge.Target, true
			}
		}
	}
	return edges[0].Target, true
}

func clampDelay(ms int) time.Duration {
	if ms < 120 {
		ms = 120
	}
	if ms > 6000 {
		ms = 6000
	}
	return time.Duration(ms) * time.Millisecond
}

// sendAgentMessage persists and broadcasts an agent-authored message,
// opening the typing aggregate, waiting out a clamped delay (120ms
// floor, 6000ms ceiling — every outgoing message shows typing, matching
// the original's always-routed-through-typing behavior), and closing it
// only after the message is persisted and broadcast, so watchers see
// typing:true ... message:new ... typing:false in that order.
func (e *Engine) sendAgentMessage(ctx context.Context, sessionID, sender, text string, suggestions []string, widget map[string]any, delayMs int) error {
	e.typing.StartAuto(sessionID)
	select {
	case <-time.After(clampDelay(delayMs)):
	case <-ctx.Done():
		e.typing.StopAuto(sessionID)
		return ctx.Err()
	}

	msg := &store.Message{
		ID:          e.newID(),
		SessionID:   sessionID,
		Sender:      sender,
		Text:        text,
		Suggestions: suggestions,
		Widget:      widget,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		slog.Warn("flow: insert message failed, continuing", "error", err, "session_id", sessionID)
	}
	e.hub.EmitMessageToSession(sessionID, "message:new", msg, msg.VisibleToWidget())
	e.typing.StopAuto(sessionID)
	return nil
}
