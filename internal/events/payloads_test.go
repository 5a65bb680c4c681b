package events

import "testing"

func TestTypedEvent_MessageCreated(t *testing.T) {
	payload := MessageCreatedPayload{MessageID: "m1", Sender: "visitor", Text: "hello"}
	evt := NewTypedEvent(SourceVisitor, payload)

	if evt.Type != EventMessageCreated {
		t.Fatalf("expected type %q, got %q", EventMessageCreated, evt.Type)
	}
	got, ok := ExtractPayload[MessageCreatedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Text != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", got.Text)
	}
}

func TestTypedEvent_SessionLifecycle(t *testing.T) {
	created := SessionLifecyclePayload{Status: "active"}
	if created.EventType() != EventSessionUpdated {
		t.Fatalf("expected session.updated for active status, got %q", created.EventType())
	}

	closed := SessionLifecyclePayload{Status: "closed"}
	if closed.EventType() != EventSessionClosed {
		t.Fatalf("expected session.closed, got %q", closed.EventType())
	}

	switched := SessionLifecyclePayload{NewSessionID: "sess_new"}
	if switched.EventType() != EventSessionSwitched {
		t.Fatalf("expected session.switched, got %q", switched.EventType())
	}

	evt := NewTypedEvent(SourceSystem, closed)
	got, ok := ExtractPayload[SessionLifecyclePayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Status != "closed" {
		t.Fatalf("expected status closed, got %q", got.Status)
	}
}

func TestTypedEvent_TypingChanged(t *testing.T) {
	payload := TypingChangedPayload{Typing: true}
	evt := NewTypedEvent(SourceFlow, payload)

	if evt.Type != EventTypingChanged {
		t.Fatalf("expected type %q, got %q", EventTypingChanged, evt.Type)
	}
	got, ok := ExtractPayload[TypingChangedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if !got.Typing {
		t.Fatal("expected typing=true")
	}
}

func TestTypedEvent_TriggerFired(t *testing.T) {
	payload := TriggerFiredPayload{FlowID: "flow_1", TriggerID: "trg_1"}
	evt := NewTypedEvent(SourceFlow, payload)

	got, ok := ExtractPayload[TriggerFiredPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.FlowID != "flow_1" || got.TriggerID != "trg_1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestTypedEvent_FlowStep(t *testing.T) {
	paused := FlowStepPayload{FlowID: "flow_1", NodeID: "wait_1", Paused: true}
	if paused.EventType() != EventFlowPaused {
		t.Fatalf("expected flow.paused, got %q", paused.EventType())
	}
	resumed := FlowStepPayload{FlowID: "flow_1", NodeID: "wait_1", Paused: false}
	if resumed.EventType() != EventFlowResumed {
		t.Fatalf("expected flow.resumed, got %q", resumed.EventType())
	}
}

func TestTypedEvent_CSATSubmitted(t *testing.T) {
	payload := CSATSubmittedPayload{Score: 5, Comment: "great"}
	evt := NewTypedEventWithSession(SourceVisitor, payload, "sess_abc123")

	if evt.SessionID != "sess_abc123" {
		t.Fatalf("expected session_id %q, got %q", "sess_abc123", evt.SessionID)
	}
	got, ok := ExtractPayload[CSATSubmittedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Score != 5 {
		t.Fatalf("expected score 5, got %d", got.Score)
	}
}

func TestExtractPayload_WrongType(t *testing.T) {
	payload := MessageCreatedPayload{MessageID: "m1", Sender: "visitor", Text: "hello"}
	evt := NewTypedEvent(SourceVisitor, payload)

	got, ok := ExtractPayload[TriggerFiredPayload](evt)
	// Extraction succeeds (JSON round-trip) but fields are zero-valued.
	if !ok {
		t.Fatal("ExtractPayload should succeed even for mismatched types (JSON is flexible)")
	}
	if got.FlowID != "" || got.TriggerID != "" {
		t.Fatalf("expected zero-valued payload for mismatched type, got %+v", got)
	}
}
