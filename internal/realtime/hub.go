// Package realtime is the in-memory connection registry (C2): connected
// widget and agent sockets, who is watching which session, and the
// event fan-out that bridges the rest of the system to those sockets.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Client is a connected WebSocket socket, identified by an opaque id
// assigned at connect time.
type Client struct {
	ID   string
	send chan []byte
}

// Send enqueues a raw frame for this client without blocking. A full
// queue drops the frame rather than stall the emitter.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("realtime: client queue full, dropping frame", "client_id", c.ID)
	}
}

// Recv returns the client's outbound queue, read by the connection's
// write pump.
func (c *Client) Recv() <-chan []byte {
	return c.send
}

// Hub is the single mutex-guarded registry described for the realtime
// component: connected clients, the agent subset, who watches which
// session, and the reverse index from client to watched session.
type Hub struct {
	mu sync.Mutex

	clients         map[string]*Client
	agents          map[string]struct{}
	sessionWatchers map[string]map[string]struct{} // session_id -> set<client_id>
	watchedSession  map[string]string              // client_id -> session_id

	disconnectHooks []func(clientID string)
}

// Envelope is the wire shape for every inbound and outbound frame:
// a bare event name plus an opaque JSON payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func New() *Hub {
	return &Hub{
		clients:         make(map[string]*Client),
		agents:          make(map[string]struct{}),
		sessionWatchers: make(map[string]map[string]struct{}),
		watchedSession:  make(map[string]string),
	}
}

// OnDisconnect registers a callback invoked with a client's id when it
// is unregistered, before its queue is closed. Used to wire the typing
// aggregator's cleanup without this package depending on it.
func (h *Hub) OnDisconnect(fn func(clientID string)) {
	h.mu.Lock()
	h.disconnectHooks = append(h.disconnectHooks, fn)
	h.mu.Unlock()
}

// Register adds a new client to the hub with an unbounded-ish outbound
// queue (bounded in practice to keep memory honest; a saturated queue
// means the socket is dead regardless).
func (h *Hub) Register(id string) *Client {
	c := &Client{ID: id, send: make(chan []byte, 1024)}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

// MarkAgent flags a client as an authenticated agent socket.
func (h *Hub) MarkAgent(clientID string) {
	h.mu.Lock()
	h.agents[clientID] = struct{}{}
	h.mu.Unlock()
}

// Watch switches a client's watched session, atomically leaving any
// previously watched session's watcher set.
func (h *Hub) Watch(clientID, sessionID string) {
	h.mu.Lock()
	if prev, ok := h.watchedSession[clientID]; ok && prev != "" {
		h.removeWatcherLocked(prev, clientID)
	}
	h.watchedSession[clientID] = sessionID
	if h.sessionWatchers[sessionID] == nil {
		h.sessionWatchers[sessionID] = make(map[string]struct{})
	}
	h.sessionWatchers[sessionID][clientID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeWatcherLocked(sessionID, clientID string) {
	if set, ok := h.sessionWatchers[sessionID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(h.sessionWatchers, sessionID)
		}
	}
}

// Unregister removes a client from every index the hub keeps, closing
// its outbound queue and clearing any typing presence it owned.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, clientID)
	delete(h.agents, clientID)
	if sessionID, ok := h.watchedSession[clientID]; ok {
		h.removeWatcherLocked(sessionID, clientID)
		delete(h.watchedSession, clientID)
	}
	hooks := append([]func(string){}, h.disconnectHooks...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(clientID)
	}
	close(c.send)
}

// Recipients of a session-scoped event: every watcher of that session
// plus every authenticated agent (agents see all sessions in their
// sidebar; watchers are visitors or an agent that opened the thread).
func (h *Hub) sessionRecipientsLocked(sessionID string) []string {
	seen := make(map[string]struct{})
	for id := range h.sessionWatchers[sessionID] {
		seen[id] = struct{}{}
	}
	for id := range h.agents {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Emit serializes (event, data) once and pushes it to each of
// recipients' queues. A send never blocks the caller.
func (h *Hub) Emit(event string, data any, recipients []string) {
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		slog.Error("realtime: marshal envelope", "event", event, "error", err)
		return
	}
	h.mu.Lock()
	clients := make([]*Client, 0, len(recipients))
	for _, id := range recipients {
		if c, ok := h.clients[id]; ok {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.Send(raw)
	}
}

// EmitToSession fans an event out to a session's watchers and every agent.
func (h *Hub) EmitToSession(sessionID, event string, data any) {
	h.mu.Lock()
	recipients := h.sessionRecipientsLocked(sessionID)
	h.mu.Unlock()
	h.Emit(event, data, recipients)
}

// EmitMessageToSession fans a message-bearing event to every agent, and
// additionally to the session's visitor watchers only when visitorVisible
// is true. Agents always see every message regardless of sender; visitor
// sockets only see what the sender-visibility filter (§6) allows through.
func (h *Hub) EmitMessageToSession(sessionID, event string, data any, visitorVisible bool) {
	if visitorVisible {
		h.EmitToSession(sessionID, event, data)
		return
	}
	h.EmitToAgents(event, data)
}

// EmitToOne sends an event to exactly one client, if still connected.
func (h *Hub) EmitToOne(clientID, event string, data any) {
	h.Emit(event, data, []string{clientID})
}

// EmitToAgents broadcasts an event to every authenticated agent socket,
// used for the `visitor:typing` relay and for agent-only messages.
func (h *Hub) EmitToAgents(event string, data any) {
	h.mu.Lock()
	recipients := make([]string, 0, len(h.agents))
	for id := range h.agents {
		recipients = append(recipients, id)
	}
	h.mu.Unlock()
	h.Emit(event, data, recipients)
}
