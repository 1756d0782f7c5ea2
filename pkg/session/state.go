package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
)

const stateKeyPrefix = "session:"

// State is the persisted per-conversation session record.
type State struct {
	SessionID    string           `json:"sessionId"`
	AppID        string           `json:"appId"`
	LastActivity time.Time        `json:"lastActivity"`
	Mode         model.DialogMode `json:"mode"`
	// ActiveModelID is set when a change-model action switched the
	// conversation to another model.
	ActiveModelID string `json:"activeModelId,omitempty"`
	// InTeach marks an interactive teach/edit session, which bypasses the
	// input queue and never auto-terminates on end-session actions.
	InTeach bool `json:"inTeach,omitempty"`
}

func loadState(ctx context.Context, store memory.Store, conversationKey string) (*State, error) {
	raw, ok, err := store.Get(ctx, stateKeyPrefix+conversationKey)
	if err != nil {
		return nil, fmt.Errorf("load session state %q: %w", conversationKey, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode session state %q: %w", conversationKey, err)
	}
	return &st, nil
}

func saveState(ctx context.Context, store memory.Store, conversationKey string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, stateKeyPrefix+conversationKey, string(raw)); err != nil {
		return fmt.Errorf("persist session state %q: %w", conversationKey, err)
	}
	return nil
}

func clearState(ctx context.Context, store memory.Store, conversationKey string) error {
	return store.Delete(ctx, stateKeyPrefix+conversationKey)
}
