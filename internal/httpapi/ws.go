package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dohr-michael/chatflow/internal/realtime"
	"github.com/dohr-michael/chatflow/internal/store"
)

// visibleToWidget implements the §6 visibility filter, shared with the
// live broadcast path in internal/flow and internal/orchestrator.
func visibleToWidget(msg store.Message) bool {
	return msg.VisibleToWidget()
}

func widgetVisibleHistory(all []store.Message) []store.Message {
	out := make([]store.Message, 0, len(all))
	for _, m := range all {
		if visibleToWidget(m) {
			out = append(out, m)
		}
	}
	return out
}

type wsJoinPayload struct {
	SessionID string `json:"sessionId"`
	VisitorID string `json:"visitorId"`
}

type wsTokenPayload struct {
	Token string `json:"token"`
}

type wsMessagePayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Internal  bool   `json:"internal"`
}

type wsOpenedPayload struct {
	SessionID string `json:"sessionId"`
}

type wsVisitorTypingPayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Active    bool   `json:"active"`
}

type wsWatchPayload struct {
	SessionID string `json:"sessionId"`
}

type wsAgentTypingPayload struct {
	SessionID string `json:"sessionId"`
	Active    bool   `json:"active"`
}

// connState is the per-socket state the dispatch loop threads through
// handleEnvelope: which agent authenticated on this socket (if any) and
// the visitor_id it joined with, so later events don't need to repeat it.
type connState struct {
	clientID  string
	tenantID  string
	agentID   string
	isAgent   bool
	visitorID string
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("httpapi: ws accept failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	client := s.hub.Register(clientID)
	state := &connState{clientID: clientID, tenantID: s.defaultTenant}

	ctx := r.Context()
	done := make(chan struct{})
	go s.wsWritePump(ctx, conn, client, done)
	s.wsReadLoop(ctx, conn, state)

	close(done)
	s.hub.Unregister(clientID)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsWritePump(ctx context.Context, conn *websocket.Conn, client *realtime.Client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data, ok := <-client.Recv():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, state *connState) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue // malformed frame, per §7 the socket stays open
		}
		s.handleEnvelope(ctx, state, env)
	}
}

// handleEnvelope dispatches one inbound frame, per §6's event table.
// Malformed or unrecognized payloads are silently ignored; the socket
// never closes on a bad frame.
func (s *Server) handleEnvelope(ctx context.Context, state *connState, env realtime.Envelope) {
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return
	}

	switch env.Event {
	case "widget:join":
		var p wsJoinPayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" {
			return
		}
		state.visitorID = p.VisitorID
		s.hub.Watch(state.clientID, p.SessionID)
		s.replyHistory(ctx, state.clientID, p.SessionID)

	case "agent:join":
		var p wsTokenPayload
		if json.Unmarshal(raw, &p) != nil {
			s.hub.EmitToOne(state.clientID, "auth:error", map[string]string{"message": "missing token"})
			return
		}
		agentID, tenantID, ok := s.resolve(p.Token)
		if !ok {
			s.hub.EmitToOne(state.clientID, "auth:error", map[string]string{"message": "invalid token"})
			return
		}
		state.agentID = agentID
		state.tenantID = tenantID
		state.isAgent = true
		s.hub.MarkAgent(state.clientID)
		s.replySessionsList(ctx, state.clientID, tenantID)

	case "widget:message":
		var p wsMessagePayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" || p.Text == "" {
			return
		}
		result, err := s.orch.HandleVisitorMessage(ctx, state.tenantID, p.SessionID, state.visitorID, "widget", p.Text)
		if err != nil {
			slog.Error("httpapi: widget:message dispatch failed", "error", err)
			return
		}
		if result.Retargeted {
			s.hub.Watch(state.clientID, result.Session.ID)
		}

	case "widget:opened":
		var p wsOpenedPayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" {
			return
		}
		session, err := s.store.GetSession(ctx, p.SessionID)
		if err != nil || session == nil {
			return
		}
		s.orch.FireWidgetOpened(ctx, session)

	case "visitor:typing":
		var p wsVisitorTypingPayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" {
			return
		}
		// Visitor typing is a pure relay to agents, distinct from the
		// typing aggregator's agent_typing_active: §4.3 scopes
		// human_typers to agent composer indicators only.
		s.hub.EmitToAgents("visitor:typing", map[string]any{
			"sessionId": p.SessionID,
			"text":      p.Text,
			"active":    p.Active,
		})

	case "agent:watch-session", "agent:request-history":
		var p wsWatchPayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" {
			return
		}
		s.hub.Watch(state.clientID, p.SessionID)
		s.replyHistory(ctx, state.clientID, p.SessionID)

	case "agent:typing":
		var p wsAgentTypingPayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" {
			return
		}
		s.typing.SetHumanTyping(state.clientID, p.SessionID, p.Active)

	case "agent:message":
		var p wsMessagePayload
		if json.Unmarshal(raw, &p) != nil || p.SessionID == "" || p.Text == "" {
			return
		}
		session, err := s.store.GetSession(ctx, p.SessionID)
		if err != nil || session == nil {
			return
		}
		if _, err := s.orch.HandleAgentMessage(ctx, session, p.Text, p.Internal); err != nil {
			slog.Error("httpapi: agent:message dispatch failed", "error", err)
		}
	}
}

func (s *Server) replyHistory(ctx context.Context, clientID, sessionID string) {
	all, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return
	}
	s.hub.EmitToOne(clientID, "session:history", map[string]any{
		"sessionId": sessionID,
		"messages":  widgetVisibleHistory(all),
	})
	if s.typing.Active(sessionID) {
		s.hub.EmitToOne(clientID, "typing", map[string]any{"sessionId": sessionID, "active": true})
	}
}

func (s *Server) replySessionsList(ctx context.Context, clientID, tenantID string) {
	sessions, err := s.store.ListSessions(ctx, tenantID)
	if err != nil {
		return
	}
	s.hub.EmitToOne(clientID, "sessions:list", sessions)
}
