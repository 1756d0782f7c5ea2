// Package inputqueue serializes user inputs per conversation: an ordered
// FIFO of pending inputs plus a single "currently processing" mutex slot,
// both persisted through the same key-value store as entity memory so the
// queue survives across process instances sharing storage.
//
// The queue assumes a single logical writer per conversation key at a
// time. It is not safe across concurrent processes unless the backing
// store serializes read-modify-write cycles per key; multi-instance
// deployments inherit that limitation from the original design.
package inputqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialogforge/dialogforge/pkg/memory"
)

// DefaultTimeout bounds both how long an input may wait in the queue and
// how long the mutex slot may be held before it is treated as abandoned.
const DefaultTimeout = 2 * time.Minute

const keyPrefix = "inputqueue:"

// Handler is invoked when an input reaches the head of the queue. ok is
// false when the input expired before its turn; an expired input is never
// retried.
type Handler func(ok bool)

type queuedInput struct {
	ID      string    `json:"id"`
	AddedAt time.Time `json:"addedAt"`
}

type queueState struct {
	Inputs []queuedInput `json:"inputs"`
	Mutex  *queuedInput  `json:"mutex,omitempty"`
}

// Queue is the per-conversation input serializer.
type Queue struct {
	store   memory.Store
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
}

// Option configures a Queue.
type Option func(*Queue)

// WithTimeout overrides the expiry timeout.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) { q.timeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an input queue over the given store.
func New(store memory.Store, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		timeout:  DefaultTimeout,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddInput pushes an input onto the conversation's queue and attempts to
// advance processing. The handler fires when the input occupies the mutex
// slot, or with ok=false when it expires first.
func (q *Queue) AddInput(ctx context.Context, conversationKey, inputID string, handler Handler) error {
	q.mu.Lock()
	q.handlers[inputID] = handler
	q.mu.Unlock()

	state, err := q.load(ctx, conversationKey)
	if err != nil {
		return err
	}
	state.Inputs = append(state.Inputs, queuedInput{ID: inputID, AddedAt: q.now()})
	if err := q.save(ctx, conversationKey, state); err != nil {
		return err
	}
	return q.advance(ctx, conversationKey)
}

// MessageHandled releases the mutex slot held by inputID and advances the
// queue. A mismatched or empty slot is logged, not treated as an error.
func (q *Queue) MessageHandled(ctx context.Context, conversationKey, inputID string) error {
	state, err := q.load(ctx, conversationKey)
	if err != nil {
		return err
	}

	switch {
	case state.Mutex == nil:
		slog.WarnContext(ctx, "input queue: released with no input in flight",
			slog.String("conversation", conversationKey),
			slog.String("input_id", inputID))
	case state.Mutex.ID != inputID:
		slog.WarnContext(ctx, "input queue: released by non-occupant",
			slog.String("conversation", conversationKey),
			slog.String("input_id", inputID),
			slog.String("occupant", state.Mutex.ID))
	default:
		state.Mutex = nil
		if err := q.save(ctx, conversationKey, state); err != nil {
			return err
		}
	}

	q.mu.Lock()
	delete(q.handlers, inputID)
	q.mu.Unlock()

	return q.advance(ctx, conversationKey)
}

// advance pops the queue head into the mutex slot. An abandoned mutex
// (older than the timeout) is cleared; expired heads are skipped with a
// failure signal. There is no heartbeat, age checks are the only liveness
// recovery.
func (q *Queue) advance(ctx context.Context, conversationKey string) error {
	state, err := q.load(ctx, conversationKey)
	if err != nil {
		return err
	}

	if state.Mutex != nil {
		if q.now().Sub(state.Mutex.AddedAt) <= q.timeout {
			return nil
		}
		slog.WarnContext(ctx, "input queue: clearing abandoned mutex",
			slog.String("conversation", conversationKey),
			slog.String("input_id", state.Mutex.ID))
		state.Mutex = nil
		if err := q.save(ctx, conversationKey, state); err != nil {
			return err
		}
		return q.advance(ctx, conversationKey)
	}

	if len(state.Inputs) == 0 {
		return nil
	}

	head := state.Inputs[0]
	state.Inputs = state.Inputs[1:]

	if q.now().Sub(head.AddedAt) > q.timeout {
		if err := q.save(ctx, conversationKey, state); err != nil {
			return err
		}
		q.fire(head.ID, false)
		return q.advance(ctx, conversationKey)
	}

	occupied := head
	occupied.AddedAt = q.now()
	state.Mutex = &occupied
	if err := q.save(ctx, conversationKey, state); err != nil {
		return err
	}
	q.fire(head.ID, true)
	return nil
}

func (q *Queue) fire(inputID string, ok bool) {
	q.mu.Lock()
	handler := q.handlers[inputID]
	if !ok {
		delete(q.handlers, inputID)
	}
	q.mu.Unlock()
	if handler != nil {
		handler(ok)
	}
}

func (q *Queue) load(ctx context.Context, conversationKey string) (*queueState, error) {
	raw, ok, err := q.store.Get(ctx, keyPrefix+conversationKey)
	if err != nil {
		return nil, fmt.Errorf("load input queue %q: %w", conversationKey, err)
	}
	state := &queueState{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), state); err != nil {
			return nil, fmt.Errorf("decode input queue %q: %w", conversationKey, err)
		}
	}
	return state, nil
}

func (q *Queue) save(ctx context.Context, conversationKey string, state *queueState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, keyPrefix+conversationKey, string(raw)); err != nil {
		return fmt.Errorf("persist input queue %q: %w", conversationKey, err)
	}
	return nil
}
