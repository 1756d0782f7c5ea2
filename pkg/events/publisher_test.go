package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeSerialization(t *testing.T) {
	data := &ActionTakenData{
		ActionID:   "act-greet",
		ActionType: "text",
		IsTerminal: true,
	}

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}

	env := Envelope{
		ID:             "test-id",
		Type:           ActionTaken,
		Source:         "runner",
		ConversationID: "conv-123",
		Timestamp:      time.Now().UTC(),
		Data:           raw,
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	if decoded.Type != ActionTaken {
		t.Errorf("type = %q, want %q", decoded.Type, ActionTaken)
	}
	if decoded.Source != "runner" {
		t.Errorf("source = %q, want %q", decoded.Source, "runner")
	}
	if decoded.ConversationID != "conv-123" {
		t.Errorf("conversation_id = %q, want %q", decoded.ConversationID, "conv-123")
	}

	var payload ActionTakenData
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ActionID != "act-greet" {
		t.Errorf("action_id = %q, want %q", payload.ActionID, "act-greet")
	}
	if !payload.IsTerminal {
		t.Error("is_terminal lost in round trip")
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []EventType{
		SessionStarted, SessionEnded, SessionExpired,
		InputQueued, InputExpired,
		ActionTaken, LogicError,
		ReplayCompleted, DialogValidated,
		ModelSwitched,
		SystemError, WebhookTest,
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if et == "" {
			t.Error("empty event type constant")
		}
		if seen[et] {
			t.Errorf("duplicate event type: %q", et)
		}
		seen[et] = true
	}
}

func TestLocalSubscription(t *testing.T) {
	p := NewPublisher(nil, "runner", "events")

	ch := p.Subscribe("sub-1", 4)

	// Fan-out happens before the queue publish, so a nil queue manager only
	// affects the returned error, not local delivery.
	func() {
		defer func() { _ = recover() }()
		_ = p.Emit(t.Context(), SessionStarted, "conv-1", &SessionStartedData{
			AppID:     "app-1",
			SessionID: "sess-1",
		})
	}()

	select {
	case env := <-ch:
		if env.Type != SessionStarted || env.ConversationID != "conv-1" {
			t.Errorf("envelope = %+v", env)
		}
		if env.ID == "" {
			t.Error("envelope id not assigned")
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}

	p.Unsubscribe("sub-1")
	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
}
