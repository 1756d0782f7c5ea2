// Package session owns conversation lifecycle: starting, extending,
// expiring, and ending sessions, and running the extract-score-act loop
// for each incoming turn.
package session

import (
	"context"

	"github.com/dialogforge/dialogforge/pkg/model"
)

// Info identifies a live session on the remote training service.
type Info struct {
	SessionID   string `json:"sessionId"`
	LogDialogID string `json:"logDialogId,omitempty"`
}

// Score is one scored action candidate.
type Score struct {
	ActionID string  `json:"actionId"`
	Score    float64 `json:"score"`
}

// Client is the remote dialog API the orchestrator drives: session
// lifecycle, entity extraction, and action scoring. Implementations
// surface any response status of 300 or above as an error.
type Client interface {
	StartSession(ctx context.Context, appID string) (*Info, error)
	EndSession(ctx context.Context, appID, sessionID string) error
	Extract(ctx context.Context, appID, sessionID, text string) ([]model.LabeledEntity, error)
	Score(ctx context.Context, appID, sessionID string, input model.ScorerInput) (*Score, error)
	GetApp(ctx context.Context, appID string) (*model.AppDefinition, error)
}
