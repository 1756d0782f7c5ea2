package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/dialogforge/dialogforge/pkg/events"
	"github.com/dialogforge/dialogforge/pkg/urlvalidation"
)

const maxBreakers = 10000

// DelivererConfig holds delivery-related settings.
type DelivererConfig struct {
	MaxRetries        int
	TimeoutSec        int
	BackoffInitialSec int
	BackoffMaxSec     int
	CBFailThreshold   int
	CBResetTimeoutSec int
}

// Deliverer posts event envelopes to registered endpoints.
type Deliverer struct {
	repo         *Repository
	httpClient   *http.Client
	config       DelivererConfig
	pool         workerpool.WorkerPool
	validateOpts []urlvalidation.Option

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewDeliverer creates a deliverer. repo may be nil, in which case
// delivery attempts and dead letters are not recorded.
func NewDeliverer(repo *Repository, cfg DelivererConfig, pool workerpool.WorkerPool, validateOpts ...urlvalidation.Option) *Deliverer {
	return &Deliverer{
		repo: repo,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:       cfg,
		pool:         pool,
		validateOpts: validateOpts,
		breakers:     make(map[string]*CircuitBreaker),
	}
}

func (d *Deliverer) getOrCreateBreaker(endpointID string) *CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[endpointID]
	if ok {
		return cb
	}

	// Evict an arbitrary entry if at capacity.
	if len(d.breakers) >= maxBreakers {
		for k := range d.breakers {
			delete(d.breakers, k)
			break
		}
	}

	cb = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    d.config.CBFailThreshold,
		ResetTimeout:        time.Duration(d.config.CBResetTimeoutSec) * time.Second,
		HalfOpenMaxAttempts: 1,
	})
	d.breakers[endpointID] = cb
	return cb
}

func (d *Deliverer) record(ctx context.Context, da *DeliveryAttempt) {
	if d.repo == nil {
		return
	}
	if err := d.repo.RecordDelivery(ctx, da); err != nil {
		slog.ErrorContext(ctx, "record delivery failed", slog.String("error", err.Error()))
	}
}

// Deliver attempts to POST an event envelope to an endpoint.
func (d *Deliverer) Deliver(ctx context.Context, ep Endpoint, env events.Envelope) {
	d.deliverWithRetry(ctx, ep, env, 1)
}

func (d *Deliverer) deliverWithRetry(ctx context.Context, ep Endpoint, env events.Envelope, attempt int) {
	if err := urlvalidation.ValidateWebhookURL(ep.URL, d.validateOpts...); err != nil {
		slog.ErrorContext(ctx, "endpoint URL failed SSRF validation",
			slog.String("endpoint_id", ep.ID),
			slog.String("url", ep.URL),
			slog.String("error", err.Error()))
		return
	}

	cb := d.getOrCreateBreaker(ep.ID)

	if !cb.AllowRequest() {
		d.handleFailure(ctx, ep, env, attempt, "circuit open")
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		d.handleFailure(ctx, ep, env, attempt, fmt.Sprintf("marshal: %v", err))
		return
	}

	sig := Sign(ep.Secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		d.handleFailure(ctx, ep, env, attempt, fmt.Sprintf("create request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)
	req.Header.Set("X-Dialogforge-Event", string(env.Type))
	req.Header.Set("X-Dialogforge-Delivery", env.ID)

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	durationMs := time.Since(start).Milliseconds()

	da := &DeliveryAttempt{
		EndpointID:    ep.ID,
		EventID:       env.ID,
		EventType:     string(env.Type),
		RequestBody:   string(body),
		AttemptNumber: attempt,
		DurationMs:    durationMs,
	}

	if err != nil {
		cb.RecordFailure()
		da.Status = "failed"
		da.Error = err.Error()
		d.record(ctx, da)
		d.handleFailure(ctx, ep, env, attempt, da.Error)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	// Drain remainder for connection reuse.
	io.Copy(io.Discard, resp.Body)

	da.ResponseCode = resp.StatusCode
	da.ResponseBody = string(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		cb.RecordSuccess()
		da.Status = "success"
		d.record(ctx, da)
		return
	}

	cb.RecordFailure()
	da.Status = "failed"
	da.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	d.record(ctx, da)
	d.handleFailure(ctx, ep, env, attempt, da.Error)
}

func (d *Deliverer) handleFailure(ctx context.Context, ep Endpoint, env events.Envelope, attempt int, errMsg string) {
	if attempt >= d.config.MaxRetries {
		if d.repo == nil {
			return
		}
		payload, _ := json.Marshal(env)
		if err := d.repo.CreateDeadLetter(ctx, &DeadLetter{
			EndpointID: ep.ID,
			EventID:    env.ID,
			EventType:  string(env.Type),
			Payload:    string(payload),
			LastError:  errMsg,
			Attempts:   attempt,
			Replayable: true,
		}); err != nil {
			slog.ErrorContext(ctx, "create dead letter failed", slog.String("error", err.Error()))
		}
		return
	}

	// Schedule retry with exponential backoff via worker pool.
	backoff := d.config.BackoffInitialSec * (1 << (attempt - 1))
	if backoff > d.config.BackoffMaxSec {
		backoff = d.config.BackoffMaxSec
	}

	retryFunc := func() {
		timer := time.NewTimer(time.Duration(backoff) * time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.deliverWithRetry(ctx, ep, env, attempt+1)
		}
	}

	if d.pool != nil {
		if err := d.pool.Submit(ctx, retryFunc); err != nil {
			slog.WarnContext(ctx, "retry pool full, dropping retry",
				slog.String("endpoint_id", ep.ID),
				slog.Int("attempt", attempt))
		}
	} else {
		time.AfterFunc(time.Duration(backoff)*time.Second, func() {
			d.deliverWithRetry(ctx, ep, env, attempt+1)
		})
	}
}
