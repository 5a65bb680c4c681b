package events

// EventType values published on the bus for conversation lifecycle and
// flow-interpreter activity. Several correspond to events clients receive
// over the realtime WS envelope under other names (message.created to
// message:new, session.updated to session:updated, session.switched to
// session:switched, typing.changed to typing); trigger.fired,
// flow.paused/resumed and csat.submitted exist only on the bus.
const (
	EventMessageCreated  EventType = "message.created"
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventSessionClosed   EventType = "session.closed"
	EventSessionSwitched EventType = "session.switched"
	EventTypingChanged   EventType = "typing.changed"
	EventTriggerFired    EventType = "trigger.fired"
	EventFlowPaused      EventType = "flow.paused"
	EventFlowResumed     EventType = "flow.resumed"
	EventCSATSubmitted   EventType = "csat.submitted"
)

// EventSource identifies which component emitted an event.
const (
	SourceVisitor EventSource = "visitor"
	SourceAgentUI EventSource = "agent"
	SourceFlow    EventSource = "flow"
	SourceAI      EventSource = "ai"
	SourceSystem  EventSource = "system"
)
