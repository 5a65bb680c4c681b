package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func drain(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case raw := <-c.Recv():
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Envelope{}
	}
}

func TestEmitToSessionReachesWatchersAndAgents(t *testing.T) {
	h := New()
	h.Register("visitor-1")
	h.Register("agent-1")
	h.MarkAgent("agent-1")
	h.Watch("visitor-1", "sess_1")

	h.EmitToSession("sess_1", "message:new", map[string]string{"text": "hi"})

	v := drain(t, h.clients["visitor-1"])
	a := drain(t, h.clients["agent-1"])
	if v.Event != "message:new" || a.Event != "message:new" {
		t.Fatalf("expected both recipients to see message:new, got %+v %+v", v, a)
	}
}

func TestWatchSwitchLeavesPreviousSession(t *testing.T) {
	h := New()
	h.Register("agent-1")
	h.MarkAgent("agent-1")
	h.Watch("agent-1", "sess_1")
	h.Watch("agent-1", "sess_2")

	h.mu.Lock()
	_, stillInOld := h.sessionWatchers["sess_1"]
	_, inNew := h.sessionWatchers["sess_2"]["agent-1"]
	h.mu.Unlock()

	if stillInOld {
		t.Fatal("expected agent to be removed from sess_1 watcher set")
	}
	if !inNew {
		t.Fatal("expected agent to be registered as watcher of sess_2")
	}
}

func TestUnregisterTearsDownIndices(t *testing.T) {
	h := New()
	h.Register("visitor-1")
	h.Watch("visitor-1", "sess_1")

	var disconnected string
	h.OnDisconnect(func(clientID string) { disconnected = clientID })

	h.Unregister("visitor-1")

	if disconnected != "visitor-1" {
		t.Fatalf("expected disconnect hook to fire for visitor-1, got %q", disconnected)
	}
	h.mu.Lock()
	_, stillClient := h.clients["visitor-1"]
	_, stillWatching := h.sessionWatchers["sess_1"]
	h.mu.Unlock()
	if stillClient || stillWatching {
		t.Fatal("expected all indices to be torn down on unregister")
	}
}

func TestEmitNeverBlocksOnFullQueue(t *testing.T) {
	h := New()
	c := h.Register("visitor-1")
	for i := 0; i < cap(c.send)+10; i++ {
		h.Emit("typing", map[string]bool{"active": true}, []string{"visitor-1"})
	}
}
