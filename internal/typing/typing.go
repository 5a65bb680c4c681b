// Package typing implements the typing-presence aggregator (C3): a
// per-session boolean derived from two independent sources, automatic
// bot typing and human agent composer typing.
package typing

import "sync"

// Broadcaster is the subset of the realtime hub a typing aggregator
// needs: fan a typing transition out to a session's watchers and
// agents.
type Broadcaster interface {
	EmitToSession(sessionID, event string, data any)
}

type sessionState struct {
	autoCount   int
	humanTypers map[string]struct{} // client_id -> present
}

func (s *sessionState) active() bool {
	return s.autoCount > 0 || len(s.humanTypers) > 0
}

// Aggregator tracks agent_typing_active per session and emits `typing`
// events on every boolean transition.
type Aggregator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	humanOf  map[string]string // client_id -> session_id it is currently a human typer for
	out      Broadcaster
}

func New(out Broadcaster) *Aggregator {
	return &Aggregator{
		sessions: make(map[string]*sessionState),
		humanOf:  make(map[string]string),
		out:      out,
	}
}

func (a *Aggregator) stateLocked(sessionID string) *sessionState {
	s, ok := a.sessions[sessionID]
	if !ok {
		s = &sessionState{humanTypers: make(map[string]struct{})}
		a.sessions[sessionID] = s
	}
	return s
}

func (a *Aggregator) emit(sessionID string, active bool) {
	a.out.EmitToSession(sessionID, "typing", map[string]any{
		"sessionId": sessionID,
		"active":    active,
	})
}

// StartAuto opens one nested bot-typing interval for a session, the
// interpreter's call before sending a delayed message.
func (a *Aggregator) StartAuto(sessionID string) {
	a.mu.Lock()
	s := a.stateLocked(sessionID)
	was := s.active()
	s.autoCount++
	transitioned := !was && s.active()
	a.mu.Unlock()
	if transitioned {
		a.emit(sessionID, true)
	}
}

// StopAuto closes one bot-typing interval, called after the message sends.
func (a *Aggregator) StopAuto(sessionID string) {
	a.mu.Lock()
	s := a.stateLocked(sessionID)
	was := s.active()
	if s.autoCount > 0 {
		s.autoCount--
	}
	transitioned := was && !s.active()
	a.mu.Unlock()
	if transitioned {
		a.emit(sessionID, false)
	}
}

// SetHumanTyping marks clientID as showing a composer typing indicator
// for sessionID. If clientID was previously a human typer for a
// different session, that membership is atomically cleared first and,
// if it transitions the old session's aggregate off, an off event is
// emitted for it.
func (a *Aggregator) SetHumanTyping(clientID, sessionID string, active bool) {
	a.mu.Lock()
	var offSession string
	var offTransitioned bool

	if prev, ok := a.humanOf[clientID]; ok && prev != sessionID {
		prevState := a.stateLocked(prev)
		wasPrev := prevState.active()
		delete(prevState.humanTypers, clientID)
		if len(prevState.humanTypers) == 0 && prevState.autoCount == 0 {
			delete(a.sessions, prev)
		}
		if wasPrev && !prevState.active() {
			offSession = prev
			offTransitioned = true
		}
		delete(a.humanOf, clientID)
	}

	s := a.stateLocked(sessionID)
	was := s.active()
	if active {
		s.humanTypers[clientID] = struct{}{}
		a.humanOf[clientID] = sessionID
	} else {
		delete(s.humanTypers, clientID)
		delete(a.humanOf, clientID)
	}
	transitioned := was != s.active()
	newActive := s.active()
	a.mu.Unlock()

	if offTransitioned {
		a.emit(offSession, false)
	}
	if transitioned {
		a.emit(sessionID, newActive)
	}
}

// Active reports the current aggregate for a session, used to answer
// `widget:join`'s "send current typing if active" requirement.
func (a *Aggregator) Active(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	return ok && s.active()
}

// DropClient clears every membership a disconnecting client owned,
// emitting an off event for any session whose aggregate transitions as
// a result. Registered with the realtime hub's disconnect hook.
func (a *Aggregator) DropClient(clientID string) {
	a.mu.Lock()
	sessionID, ok := a.humanOf[clientID]
	if !ok {
		a.mu.Unlock()
		return
	}
	s := a.stateLocked(sessionID)
	was := s.active()
	delete(s.humanTypers, clientID)
	delete(a.humanOf, clientID)
	if len(s.humanTypers) == 0 && s.autoCount == 0 {
		delete(a.sessions, sessionID)
	}
	transitioned := was && !s.active()
	a.mu.Unlock()

	if transitioned {
		a.emit(sessionID, false)
	}
}
