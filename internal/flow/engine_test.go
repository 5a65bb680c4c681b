package flow

import (
	"context"
	"testing"

	"github.com/dohr-michael/chatflow/internal/ai"
	"github.com/dohr-michael/chatflow/internal/store"
)

func node(id, typ string, data map[string]any) store.FlowNode {
	return store.FlowNode{ID: id, Type: typ, Data: data}
}

func edge(source, target, handle string) store.FlowEdge {
	return store.FlowEdge{ID: source + "->" + target, Source: source, Target: target, SourceHandle: handle}
}

// TestWelcomeFlowOnWidgetOpen exercises end-to-end scenario §8.1: two
// agent messages sent in order, session stays open.
func TestWelcomeFlowOnWidgetOpen(t *testing.T) {
	st := newFakeStore()
	hub := &fakeBroadcaster{}
	typ := &fakeTyping{}
	e := newTestEngine(st, hub, typ, &fakeAI{})

	st.sessions["s1"] = &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	st.flows["f1"] = &store.Flow{
		ID: "f1", TenantID: "t1", Enabled: true,
		Nodes: []store.FlowNode{
			node("n1", "trigger", map[string]any{"on": "widget_open"}),
			node("n2", "message", map[string]any{"text": "Hello!"}),
			node("n3", "message", map[string]any{"text": "This is a demo."}),
			node("n4", "end", map[string]any{"behavior": "stop"}),
		},
		Edges: []store.FlowEdge{edge("n1", "n2", ""), edge("n2", "n3", ""), edge("n3", "n4", "")},
	}

	if err := e.OnPageEvent(context.Background(), st.sessions["s1"], "widget_open"); err != nil {
		t.Fatal(err)
	}

	msgs := st.messages["s1"]
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Text != "Hello!" || msgs[1].Text != "This is a demo." {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
	if st.sessions["s1"].Status != "open" {
		t.Fatal("expected session to remain open")
	}
}

// TestPageOpenTriggerFiresOnce checks testable property §8.2 at the
// interpreter boundary: a second widget_open does not resend the flow.
func TestPageOpenTriggerFiresOnce(t *testing.T) {
	st := newFakeStore()
	hub := &fakeBroadcaster{}
	typ := &fakeTyping{}
	e := newTestEngine(st, hub, typ, &fakeAI{})

	st.sessions["s1"] = &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	st.flows["f1"] = &store.Flow{
		ID: "f1", TenantID: "t1", Enabled: true,
		Nodes: []store.FlowNode{
			node("n1", "trigger", map[string]any{"on": "widget_open"}),
			node("n2", "message", map[string]any{"text": "hi"}),
		},
		Edges: []store.FlowEdge{edge("n1", "n2", "")},
	}

	_ = e.OnPageEvent(context.Background(), st.sessions["s1"], "widget_open")
	_ = e.OnPageEvent(context.Background(), st.sessions["s1"], "widget_open")

	if len(st.messages["s1"]) != 1 {
		t.Fatalf("expected exactly 1 message across both triggers, got %d", len(st.messages["s1"]))
	}
}

// TestButtonBranchSelectsHandleByLabel exercises the buttons node's
// pause/resume contract and case-folded label matching.
func TestButtonBranchSelectsHandleByLabel(t *testing.T) {
	st := newFakeStore()
	hub := &fakeBroadcaster{}
	typ := &fakeTyping{}
	e := newTestEngine(st, hub, typ, &fakeAI{})

	session := &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	st.sessions["s1"] = session
	st.flows["f1"] = &store.Flow{
		ID: "f1", TenantID: "t1", Enabled: true,
		Nodes: []store.FlowNode{
			node("n1", "trigger", map[string]any{"on": "any_message"}),
			node("n2", "buttons", map[string]any{"text": "pick one", "buttons": []any{
				map[string]any{"label": "Sales"}, map[string]any{"label": "Support"},
			}}),
			node("n3", "message", map[string]any{"text": "routed to sales"}),
			node("n4", "message", map[string]any{"text": "routed to support"}),
		},
		Edges: []store.FlowEdge{
			edge("n1", "n2", ""),
			edge("n2", "n3", "btn-0"),
			edge("n2", "n4", "btn-1"),
		},
	}

	st.messages["s1"] = append(st.messages["s1"], store.Message{Sender: "visitor", Text: "hi"})
	if err := e.OnVisitorMessage(context.Background(), session, "hi"); err != nil {
		t.Fatal(err)
	}
	cursor, _ := st.GetCursor(context.Background(), "t1", "s1")
	if cursor == nil || cursor.NodeType != "buttons" {
		t.Fatalf("expected paused buttons cursor, got %+v", cursor)
	}

	st.messages["s1"] = append(st.messages["s1"], store.Message{Sender: "visitor", Text: "support"})
	if err := e.OnVisitorMessage(context.Background(), session, "support"); err != nil {
		t.Fatal(err)
	}

	msgs := st.messages["s1"]
	last := msgs[len(msgs)-1]
	if last.Text != "routed to support" {
		t.Fatalf("expected support branch, got %+v", last)
	}

	if cursor, _ := st.GetCursor(context.Background(), "t1", "s1"); cursor != nil {
		t.Fatalf("expected cursor cleared after resume, got %+v", cursor)
	}
}

// TestSubFlowFullyBoundDoesNotPause checks testable property §8.4.
func TestSubFlowFullyBoundDoesNotPause(t *testing.T) {
	st := newFakeStore()
	hub := &fakeBroadcaster{}
	typ := &fakeTyping{}
	e := newTestEngine(st, hub, typ, &fakeAI{})

	session := &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	st.sessions["s1"] = session

	st.flows["sub"] = &store.Flow{
		ID: "sub", TenantID: "t1", Enabled: true,
		InputVariables: []store.FlowInputVariable{{Key: "email", Label: "Email", Required: true}},
		Nodes: []store.FlowNode{
			node("sn1", "trigger", map[string]any{"on": "any_message"}),
			node("sn2", "message", map[string]any{"text": "thanks {{email}}"}),
		},
		Edges: []store.FlowEdge{edge("sn1", "sn2", "")},
	}
	st.flows["f1"] = &store.Flow{
		ID: "f1", TenantID: "t1", Enabled: true,
		Nodes: []store.FlowNode{
			node("n1", "trigger", map[string]any{"on": "any_message"}),
			node("n2", "start_flow", map[string]any{
				"flowId":           "sub",
				"variableBindings": map[string]any{"email": "a@b.com"},
			}),
		},
		Edges: []store.FlowEdge{edge("n1", "n2", "")},
	}

	st.messages["s1"] = append(st.messages["s1"], store.Message{Sender: "visitor", Text: "hi"})
	if err := e.OnVisitorMessage(context.Background(), session, "hi"); err != nil {
		t.Fatal(err)
	}

	if cursor, _ := st.GetCursor(context.Background(), "t1", "s1"); cursor != nil {
		t.Fatalf("expected no pause when sub-flow vars are fully bound, got %+v", cursor)
	}
	msgs := st.messages["s1"]
	last := msgs[len(msgs)-1]
	if last.Text != "thanks a@b.com" {
		t.Fatalf("expected interpolated sub-flow message, got %+v", last)
	}
}

// TestHandoverShortCircuitsInterpreter checks scenario §8.6: an AI
// decision carrying handover=true stops the walk without following
// further edges.
func TestHandoverShortCircuitsInterpreter(t *testing.T) {
	st := newFakeStore()
	hub := &fakeBroadcaster{}
	typ := &fakeTyping{}
	gw := &fakeAI{reply: ai.Decision{Reply: "Connecting you to a human.", Handover: true}}
	e := newTestEngine(st, hub, typ, gw)

	session := &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	st.sessions["s1"] = session
	st.flows["f1"] = &store.Flow{
		ID: "f1", TenantID: "t1", Enabled: true,
		Nodes: []store.FlowNode{
			node("n1", "trigger", map[string]any{"on": "any_message"}),
			node("n2", "ai", map[string]any{"prompt": "help"}),
			node("n3", "message", map[string]any{"text": "should not run"}),
		},
		Edges: []store.FlowEdge{edge("n1", "n2", ""), edge("n2", "n3", "")},
	}

	st.messages["s1"] = append(st.messages["s1"], store.Message{Sender: "visitor", Text: "I want a human"})
	if err := e.OnVisitorMessage(context.Background(), session, "I want a human"); err != nil {
		t.Fatal(err)
	}

	if !session.HandoverActive {
		t.Fatal("expected handover to be enabled")
	}
	for _, m := range st.messages["s1"] {
		if m.Text == "should not run" {
			t.Fatal("expected handover to short-circuit remaining nodes")
		}
	}
}

// TestConditionCaseInsensitiveContains exercises scenario §8.5.
func TestConditionCaseInsensitiveContains(t *testing.T) {
	st := newFakeStore()
	hub := &fakeBroadcaster{}
	typ := &fakeTyping{}
	e := newTestEngine(st, hub, typ, &fakeAI{})

	session := &store.Session{ID: "s1", TenantID: "t1", Status: "open"}
	st.sessions["s1"] = session
	st.flows["f1"] = &store.Flow{
		ID: "f1", TenantID: "t1", Enabled: true,
		Nodes: []store.FlowNode{
			node("n1", "trigger", map[string]any{"on": "any_message"}),
			node("n2", "condition", map[string]any{
				"logicOperator": "and",
				"rules": []any{
					map[string]any{"attribute": "message", "operator": "contains", "value": "REFUND"},
				},
			}),
			node("n3", "message", map[string]any{"text": "handling refund"}),
			node("n4", "message", map[string]any{"text": "generic reply"}),
		},
		Edges: []store.FlowEdge{
			edge("n1", "n2", ""),
			edge("n2", "n3", "true"),
			edge("n2", "n4", "false"),
		},
	}

	st.messages["s1"] = append(st.messages["s1"], store.Message{Sender: "visitor", Text: "I need a refund please"})
	if err := e.OnVisitorMessage(context.Background(), session, "I need a refund please"); err != nil {
		t.Fatal(err)
	}

	msgs := st.messages["s1"]
	last := msgs[len(msgs)-1]
	if last.Text != "handling refund" {
		t.Fatalf("expected case-insensitive contains match to route to refund branch, got %+v", last)
	}
}

// TestInterpolationRoundTrip checks testable property §8.8.
func TestInterpolationRoundTrip(t *testing.T) {
	vars := map[string]string{"contact.name": "Ada", "order_id": "42"}
	got := interpolate("Hi {{contact.name}}, your order {{order_id}} and {{missing}} is ready.", vars)
	want := "Hi Ada, your order 42 and  is ready."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// TestEmptyConditionListIsFalse checks testable property §8.9.
func TestEmptyConditionListIsFalse(t *testing.T) {
	cc := conditionCtx{Message: "anything"}
	if evalRules(cc, nil, "and") {
		t.Fatal("expected empty rule list to evaluate false")
	}
}
