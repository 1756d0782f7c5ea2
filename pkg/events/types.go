package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionStarted  EventType = "session.started"
	SessionEnded    EventType = "session.ended"
	SessionExpired  EventType = "session.expired"
	InputQueued     EventType = "input.queued"
	InputExpired    EventType = "input.expired"
	ActionTaken     EventType = "action.taken"
	LogicError      EventType = "logic.error"
	ReplayCompleted EventType = "replay.completed"
	DialogValidated EventType = "dialog.validated"
	ModelSwitched   EventType = "model.switched"
	SystemError     EventType = "error"
	WebhookTest     EventType = "webhook.test"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	Source         string            `json:"source"`
	ConversationID string            `json:"conversation_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Data           json.RawMessage   `json:"data"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SessionStartedData is the payload for session.started events.
type SessionStartedData struct {
	AppID     string `json:"app_id"`
	SessionID string `json:"session_id"`
}

// SessionEndedData is the payload for session.ended and session.expired
// events.
type SessionEndedData struct {
	AppID     string `json:"app_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// InputData is the payload for input.queued and input.expired events.
type InputData struct {
	InputID string `json:"input_id"`
}

// ActionTakenData is the payload for action.taken events.
type ActionTakenData struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	IsTerminal bool   `json:"is_terminal"`
}

// LogicErrorData is the payload for logic.error events.
type LogicErrorData struct {
	Callback string `json:"callback"`
	Error    string `json:"error"`
}

// ReplayCompletedData is the payload for replay.completed events.
type ReplayCompletedData struct {
	DialogID   string `json:"dialog_id"`
	Cleansed   bool   `json:"cleansed"`
	RoundCount int    `json:"round_count"`
}

// DialogValidatedData is the payload for dialog.validated events.
type DialogValidatedData struct {
	DialogID   string   `json:"dialog_id"`
	ErrorCount int      `json:"error_count"`
	ErrorTypes []string `json:"error_types,omitempty"`
}

// ModelSwitchedData is the payload for model.switched events.
type ModelSwitchedData struct {
	FromModelID string `json:"from_model_id"`
	ToModelID   string `json:"to_model_id"`
	// Dispatched is true when the originating model stays in charge for
	// future turns.
	Dispatched bool `json:"dispatched"`
}

// WebhookTestData is the payload for webhook.test events.
type WebhookTestData struct {
	WebhookID string `json:"webhook_id"`
	Message   string `json:"message"`
}
