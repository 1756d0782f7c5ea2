// Package client implements the HTTP client for the remote training
// service: session lifecycle, entity extraction, and action scoring.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/session"
)

// StatusError is returned for any response with status 300 or above.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("training service returned HTTP %d: %s", e.Code, e.Body)
}

// Config holds the client's connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

// Client talks to the remote dialog training service over HTTP.
// It implements session.Client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ session.Client = (*Client)(nil)

// New creates a training-service client.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// do executes one JSON round trip. out may be nil when the response body
// is not needed. Any status of 300 or above becomes a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	// Drain remainder for connection reuse.
	io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// StartSession opens a new session for the given app.
func (c *Client) StartSession(ctx context.Context, appID string) (*session.Info, error) {
	var info session.Info
	path := fmt.Sprintf("/app/%s/session", appID)
	if err := c.do(ctx, http.MethodPut, path, struct{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// EndSession terminates a session on the remote service.
func (c *Client) EndSession(ctx context.Context, appID, sessionID string) error {
	path := fmt.Sprintf("/app/%s/session/%s", appID, sessionID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	Text              string                `json:"text"`
	PredictedEntities []model.LabeledEntity `json:"predictedEntities"`
}

// Extract runs entity extraction on one user utterance.
func (c *Client) Extract(ctx context.Context, appID, sessionID, text string) ([]model.LabeledEntity, error) {
	var out extractResponse
	path := fmt.Sprintf("/app/%s/session/%s/extractor", appID, sessionID)
	if err := c.do(ctx, http.MethodPut, path, extractRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return out.PredictedEntities, nil
}

type scoreResponse struct {
	ScoredActions []session.Score `json:"scoredActions"`
}

// Score asks the service to rank actions for the current state and
// returns the top candidate.
func (c *Client) Score(ctx context.Context, appID, sessionID string, input model.ScorerInput) (*session.Score, error) {
	var out scoreResponse
	path := fmt.Sprintf("/app/%s/session/%s/scorer", appID, sessionID)
	if err := c.do(ctx, http.MethodPut, path, input, &out); err != nil {
		return nil, err
	}
	if len(out.ScoredActions) == 0 {
		return nil, fmt.Errorf("scorer returned no actions for session %q", sessionID)
	}
	best := out.ScoredActions[0]
	for _, s := range out.ScoredActions[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return &best, nil
}

// GetApp fetches the app definition from the remote service.
func (c *Client) GetApp(ctx context.Context, appID string) (*model.AppDefinition, error) {
	var app model.AppDefinition
	path := fmt.Sprintf("/app/%s", appID)
	if err := c.do(ctx, http.MethodGet, path, nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}
