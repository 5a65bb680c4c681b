package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{ID: "sess_1", TenantID: "t1", Status: "open", Priority: "normal", Channel: "widget"}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	got, err := s.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "open" || got.TenantID != "t1" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

// TestMessageBumpsSessionUpdatedAt checks testable property §8.1: after
// persisting a message M, S.updated_at >= M.created_at, and M is last.
func TestMessageBumpsSessionUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{ID: "sess_1", TenantID: "t1", Status: "open"}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	before, _ := s.GetSession(ctx, "sess_1")

	time.Sleep(2 * time.Millisecond)
	msg := &Message{ID: "m1", SessionID: "sess_1", Sender: "visitor", Text: "hi"}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	after, err := s.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("expected updated_at to advance, before=%v after=%v", before.UpdatedAt, after.UpdatedAt)
	}

	msgs, err := s.ListMessages(ctx, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[len(msgs)-1].ID != "m1" {
		t.Fatalf("expected message m1 as last, got %+v", msgs)
	}
}

func TestInsertMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.UpsertSession(ctx, &Session{ID: "sess_1", TenantID: "t1", Status: "open"})

	msg := &Message{ID: "m1", SessionID: "sess_1", Sender: "visitor", Text: "hi"}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 message after duplicate insert, got %d", len(msgs))
	}
}

// TestMarkTriggerFiredOnce checks testable property §8.2.
func TestMarkTriggerFiredOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkTriggerFired(ctx, "sess_1", "page_open")
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Fatal("expected first call to return true")
	}

	for i := 0; i < 3; i++ {
		fresh, err := s.MarkTriggerFired(ctx, "sess_1", "page_open")
		if err != nil {
			t.Fatal(err)
		}
		if fresh {
			t.Fatal("expected subsequent calls to return false")
		}
	}
}

// TestCursorAtMostOne checks testable property §8.3.
func TestCursorAtMostOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1 := &FlowCursor{TenantID: "t1", SessionID: "sess_1", FlowID: "f1", NodeID: "n1", NodeType: "buttons",
		Variables: map[string]string{"a": "1"}}
	if err := s.PutCursor(ctx, c1); err != nil {
		t.Fatal(err)
	}

	c2 := &FlowCursor{TenantID: "t1", SessionID: "sess_1", FlowID: "f1", NodeID: "n2", NodeType: "select",
		Variables: map[string]string{"b": "2"}}
	if err := s.PutCursor(ctx, c2); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCursor(ctx, "t1", "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.NodeID != "n2" {
		t.Fatalf("expected second cursor n2 to be the only visible one, got %+v", got)
	}

	if err := s.DeleteCursor(ctx, "t1", "sess_1"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetCursor(ctx, "t1", "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil cursor after delete, got %+v", got)
	}
}

func TestSetSessionStatusReportsChanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.UpsertSession(ctx, &Session{ID: "sess_1", TenantID: "t1", Status: "open"})

	_, changed, err := s.SetSessionStatus(ctx, "sess_1", "closed")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected status change to report changed=true")
	}

	_, changed, err = s.SetSessionStatus(ctx, "sess_1", "closed")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("expected no-op status set to report changed=false")
	}
}

func TestContactLinkingByVisitorID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.UpsertSession(ctx, &Session{ID: "sess_old", TenantID: "t1", VisitorID: "v1", ContactID: "c1", Status: "open"})
	_ = s.UpsertSession(ctx, &Session{ID: "sess_new", TenantID: "t1", VisitorID: "v1", Status: "open"})

	contactID, ok, err := s.FindMostRecentSessionByVisitorID(ctx, "t1", "v1", "sess_new")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || contactID != "c1" {
		t.Fatalf("expected to find contact c1, got %q ok=%v", contactID, ok)
	}
}
