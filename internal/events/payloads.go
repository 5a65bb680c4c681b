package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// MessageCreatedPayload announces a new chat message in a session.
type MessageCreatedPayload struct {
	MessageID   string         `json:"message_id"`
	Sender      string         `json:"sender"` // visitor | agent | team | system | note
	Text        string         `json:"text"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Widget      map[string]any `json:"widget,omitempty"`
}

func (MessageCreatedPayload) EventType() EventType { return EventMessageCreated }

// SessionLifecyclePayload covers updated/closed/switched transitions; its
// EventType never yields session.created.
type SessionLifecyclePayload struct {
	Status        string `json:"status,omitempty"`
	HandoverActive bool  `json:"handover_active,omitempty"`
	NewSessionID  string `json:"new_session_id,omitempty"` // only set for session.switched
}

func (p SessionLifecyclePayload) EventType() EventType {
	switch {
	case p.NewSessionID != "":
		return EventSessionSwitched
	case p.Status == "closed":
		return EventSessionClosed
	default:
		return EventSessionUpdated
	}
}

// TypingChangedPayload reports the aggregated typing state for a session.
type TypingChangedPayload struct {
	Typing bool `json:"typing"`
}

func (TypingChangedPayload) EventType() EventType { return EventTypingChanged }

// TriggerFiredPayload records which trigger matched and started a flow.
type TriggerFiredPayload struct {
	FlowID    string `json:"flow_id"`
	TriggerID string `json:"trigger_id"`
}

func (TriggerFiredPayload) EventType() EventType { return EventTriggerFired }

// FlowStepPayload reports the interpreter pausing or resuming at a node.
type FlowStepPayload struct {
	FlowID string `json:"flow_id"`
	NodeID string `json:"node_id"`
	Paused bool   `json:"paused"`
}

func (p FlowStepPayload) EventType() EventType {
	if p.Paused {
		return EventFlowPaused
	}
	return EventFlowResumed
}

// CSATSubmittedPayload records a visitor satisfaction rating.
type CSATSubmittedPayload struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

func (CSATSubmittedPayload) EventType() EventType { return EventCSATSubmitted }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetMessageCreatedPayload(e Event) (MessageCreatedPayload, bool) {
	return ExtractPayload[MessageCreatedPayload](e)
}

func GetSessionLifecyclePayload(e Event) (SessionLifecyclePayload, bool) {
	return ExtractPayload[SessionLifecyclePayload](e)
}

func GetTypingChangedPayload(e Event) (TypingChangedPayload, bool) {
	return ExtractPayload[TypingChangedPayload](e)
}

func GetTriggerFiredPayload(e Event) (TriggerFiredPayload, bool) {
	return ExtractPayload[TriggerFiredPayload](e)
}

func GetCSATSubmittedPayload(e Event) (CSATSubmittedPayload, bool) {
	return ExtractPayload[CSATSubmittedPayload](e)
}
