package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/dialogforge/dialogforge/pkg/callback"
	"github.com/dialogforge/dialogforge/pkg/events"
	"github.com/dialogforge/dialogforge/pkg/inputqueue"
	"github.com/dialogforge/dialogforge/pkg/interpret"
	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
)

// Defaults for orchestrator configuration.
const (
	DefaultSessionTimeout  = 20 * time.Minute
	DefaultMaxActionLoop   = 10
	DefaultActionLoopDelay = 300 * time.Millisecond
)

const memoryKeyPrefix = "memory:"

// ErrInputExpired is returned when an input aged out of the queue before
// its turn. An expired input is never retried.
var ErrInputExpired = errors.New("input expired before processing")

// SessionStartFunc seeds entity memory when a session starts.
type SessionStartFunc func(ctx context.Context, mem *callback.Manager) error

// SessionEndFunc runs when a session ends and returns the names of
// entities to preserve across the memory clear.
type SessionEndFunc func(ctx context.Context, mem *callback.Manager) ([]string, error)

// EntityDetectFunc is the bot's entity-detection callback.
type EntityDetectFunc func(ctx context.Context, text string, mem *callback.Manager) error

// Config bounds the orchestrator's timing behavior.
type Config struct {
	// SessionTimeout is the inactivity age after which a session is
	// treated as expired on the next turn. Expiry is checked lazily by
	// timestamp comparison; there is no background timer.
	SessionTimeout time.Duration
	// MaxActionLoop bounds consecutive non-terminal actions in one turn.
	// The remote service also caps this, but the bound here does not
	// depend on that.
	MaxActionLoop int
	// ActionLoopDelay spaces automatic loop iterations so the transport
	// is not overwhelmed.
	ActionLoopDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.MaxActionLoop <= 0 {
		c.MaxActionLoop = DefaultMaxActionLoop
	}
	if c.ActionLoopDelay < 0 {
		c.ActionLoopDelay = DefaultActionLoopDelay
	}
}

// TurnResult is the outcome of processing one user input.
type TurnResult struct {
	Responses []string
	Mode      model.DialogMode
	// Signal is non-empty when a dispatch or change-model action asks the
	// owner to route future input elsewhere.
	Signal interpret.Signal
}

// Orchestrator runs the per-conversation session state machine for one
// model: NONE -> active (wait | scorer | end-session) -> NONE.
type Orchestrator struct {
	appID  string
	client Client
	store  memory.Store
	queue  *inputqueue.Queue
	interp *interpret.Interpreter
	defs   func() (*model.AppDefinition, error)
	pub    *events.Publisher
	cfg    Config
	now    func() time.Time

	onSessionStart SessionStartFunc
	onSessionEnd   SessionEndFunc
	onEntityDetect EntityDetectFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionStart sets the session-start seeding callback.
func WithSessionStart(fn SessionStartFunc) Option {
	return func(o *Orchestrator) { o.onSessionStart = fn }
}

// WithSessionEnd sets the session-end callback.
func WithSessionEnd(fn SessionEndFunc) Option {
	return func(o *Orchestrator) { o.onSessionEnd = fn }
}

// WithEntityDetection sets the entity-detection callback.
func WithEntityDetection(fn EntityDetectFunc) Option {
	return func(o *Orchestrator) { o.onEntityDetect = fn }
}

// WithPublisher sets the event publisher.
func WithPublisher(pub *events.Publisher) Option {
	return func(o *Orchestrator) { o.pub = pub }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator for one app/model.
func New(appID string, client Client, store memory.Store, queue *inputqueue.Queue, interp *interpret.Interpreter, defs func() (*model.AppDefinition, error), cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		appID:  appID,
		client: client,
		store:  store,
		queue:  queue,
		interp: interp,
		defs:   defs,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AppID returns the model this orchestrator serves.
func (o *Orchestrator) AppID() string { return o.appID }

// ProcessInput handles one user turn. Inputs are serialized through the
// queue unless the conversation is mid-teach; the extract-score-act loop
// runs until a terminal action fires or the loop bound is hit.
func (o *Orchestrator) ProcessInput(ctx context.Context, conversationKey, text string) (*TurnResult, error) {
	st, err := loadState(ctx, o.store, conversationKey)
	if err != nil {
		return nil, err
	}

	inTeach := st != nil && st.InTeach
	if !inTeach {
		inputID := xid.New().String()
		released, err := o.acquireTurn(ctx, conversationKey, inputID)
		if err != nil {
			return nil, err
		}
		defer released()
	}

	st, defs, err := o.ensureSession(ctx, conversationKey, st)
	if err != nil {
		return nil, err
	}

	mem := memory.NewEntityMemory(o.store, memoryKeyPrefix+conversationKey, defs.Entities)

	if err := o.extract(ctx, st, mem, defs, text); err != nil {
		o.endSessionBestEffort(ctx, conversationKey, st, "extract failed")
		return nil, err
	}

	result, err := o.actLoop(ctx, conversationKey, st, mem, defs, text)
	if err != nil {
		o.endSessionBestEffort(ctx, conversationKey, st, "turn failed")
		return nil, err
	}

	if result.Mode != model.DialogModeEndSession {
		st.LastActivity = o.now()
		st.Mode = result.Mode
		if err := saveState(ctx, o.store, conversationKey, st); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// acquireTurn blocks until the input owns the conversation's mutex slot.
func (o *Orchestrator) acquireTurn(ctx context.Context, conversationKey, inputID string) (func(), error) {
	ch := make(chan bool, 1)
	if err := o.queue.AddInput(ctx, conversationKey, inputID, func(ok bool) { ch <- ok }); err != nil {
		return nil, err
	}
	o.emit(ctx, events.InputQueued, conversationKey, &events.InputData{InputID: inputID})

	select {
	case ok := <-ch:
		if !ok {
			o.emit(ctx, events.InputExpired, conversationKey, &events.InputData{InputID: inputID})
			return nil, ErrInputExpired
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return func() {
		if err := o.queue.MessageHandled(ctx, conversationKey, inputID); err != nil {
			slog.WarnContext(ctx, "input queue release failed",
				slog.String("conversation", conversationKey),
				slog.String("error", err.Error()))
		}
	}, nil
}

// ensureSession starts a session when none exists and replaces one that
// sat idle past the timeout, reloading definitions either way.
func (o *Orchestrator) ensureSession(ctx context.Context, conversationKey string, st *State) (*State, *model.AppDefinition, error) {
	defs, err := o.defs()
	if err != nil {
		return nil, nil, fmt.Errorf("load definitions for %q: %w", o.appID, err)
	}

	if st != nil && o.now().Sub(st.LastActivity) > o.cfg.SessionTimeout {
		o.emit(ctx, events.SessionExpired, conversationKey, &events.SessionEndedData{
			AppID:     st.AppID,
			SessionID: st.SessionID,
			Reason:    "inactivity",
		})
		o.endSessionBestEffort(ctx, conversationKey, st, "expired")
		st = nil
	}

	// A conversation handed over from another model gets a fresh session
	// here. Only the remote session is ended; entity memory stays, and the
	// recorded switch keeps routing future input to this model.
	var carryActive string
	if st != nil && st.AppID != o.appID {
		if err := o.client.EndSession(ctx, st.AppID, st.SessionID); err != nil {
			slog.WarnContext(ctx, "remote end session failed",
				slog.String("session_id", st.SessionID),
				slog.String("error", err.Error()))
		}
		o.emit(ctx, events.SessionEnded, conversationKey, &events.SessionEndedData{
			AppID:     st.AppID,
			SessionID: st.SessionID,
			Reason:    "model handoff",
		})
		carryActive = st.ActiveModelID
		st = nil
	}

	if st == nil {
		info, err := o.client.StartSession(ctx, o.appID)
		if err != nil {
			return nil, nil, fmt.Errorf("start session: %w", err)
		}
		st = &State{
			SessionID:     info.SessionID,
			AppID:         o.appID,
			LastActivity:  o.now(),
			Mode:          model.DialogModeWait,
			ActiveModelID: carryActive,
		}
		if err := saveState(ctx, o.store, conversationKey, st); err != nil {
			return nil, nil, err
		}

		mem := memory.NewEntityMemory(o.store, memoryKeyPrefix+conversationKey, defs.Entities)
		if o.onSessionStart != nil {
			if err := o.onSessionStart(ctx, callback.NewManager(mem)); err != nil {
				return nil, nil, fmt.Errorf("session start callback: %w", err)
			}
		}
		o.emit(ctx, events.SessionStarted, conversationKey, &events.SessionStartedData{
			AppID:     o.appID,
			SessionID: info.SessionID,
		})
	}
	return st, defs, nil
}

// extract runs remote extraction, writes labels to memory, and invokes the
// entity-detection callback. Callback failures are soft.
func (o *Orchestrator) extract(ctx context.Context, st *State, mem *memory.EntityMemory, defs *model.AppDefinition, text string) error {
	labels, err := o.client.Extract(ctx, st.AppID, st.SessionID, text)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	for _, label := range labels {
		entity, ok := model.EntityByID(defs.Entities, label.EntityID)
		if !ok {
			slog.WarnContext(ctx, "extraction returned unknown entity",
				slog.String("entity_id", label.EntityID))
			continue
		}
		mv := model.MemoryValue{
			UserText:    label.Text,
			Resolution:  label.Resolution,
			BuiltinType: label.BuiltinType,
		}
		if err := mem.Remember(ctx, entity.ID, mv, entity.IsMultivalue); err != nil {
			return err
		}
	}

	if o.onEntityDetect != nil {
		if err := invokeDetect(ctx, o.onEntityDetect, text, callback.NewManager(mem)); err != nil {
			o.emit(ctx, events.LogicError, st.SessionID, &events.LogicErrorData{
				Callback: "entity_detection",
				Error:    err.Error(),
			})
		}
	}
	return nil
}

func invokeDetect(ctx context.Context, fn EntityDetectFunc, text string, mgr *callback.Manager) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in entity detection callback: %v", r)
		}
	}()
	return fn(ctx, text, mgr)
}

// actLoop scores and takes actions until a terminal action fires, the
// session ends, control is handed to another model, or the bound is hit.
func (o *Orchestrator) actLoop(ctx context.Context, conversationKey string, st *State, mem *memory.EntityMemory, defs *model.AppDefinition, text string) (*TurnResult, error) {
	result := &TurnResult{Mode: model.DialogModeWait}

	for i := 0; i < o.cfg.MaxActionLoop; i++ {
		snapshot, err := mem.FilledEntities(ctx)
		if err != nil {
			return nil, err
		}

		score, err := o.client.Score(ctx, st.AppID, st.SessionID, model.ScorerInput{
			FilledEntities: snapshot,
			Text:           text,
		})
		if err != nil {
			return nil, fmt.Errorf("score: %w", err)
		}

		action, ok := model.ActionByID(defs.Actions, score.ActionID)
		if !ok {
			return nil, fmt.Errorf("scored action %q does not exist in the model", score.ActionID)
		}

		actResult, err := o.interp.TakeAction(ctx, action, mem, interpret.LogicAndRender, interpret.Input{})
		if err != nil {
			return nil, fmt.Errorf("take action %q: %w", action.ID, err)
		}
		if actResult.Response != "" {
			result.Responses = append(result.Responses, actResult.Response)
		}
		o.emit(ctx, events.ActionTaken, conversationKey, &events.ActionTakenData{
			ActionID:   action.ID,
			ActionType: string(action.Type),
			IsTerminal: action.IsTerminal,
		})

		switch actResult.Signal.Type {
		case interpret.SignalEndSession:
			if !st.InTeach {
				o.endSession(ctx, conversationKey, st, "end_session action")
			}
			result.Mode = model.DialogModeEndSession
			return result, nil

		case interpret.SignalDispatch, interpret.SignalChangeModel:
			if actResult.Signal.Type == interpret.SignalChangeModel {
				st.ActiveModelID = actResult.Signal.ModelID
			}
			o.emit(ctx, events.ModelSwitched, conversationKey, &events.ModelSwitchedData{
				FromModelID: o.appID,
				ToModelID:   actResult.Signal.ModelID,
				Dispatched:  actResult.Signal.Type == interpret.SignalDispatch,
			})
			result.Signal = actResult.Signal
			result.Mode = model.DialogModeWait
			return result, nil
		}

		if action.IsTerminal {
			result.Mode = model.DialogModeWait
			return result, nil
		}
		result.Mode = model.DialogModeScorer

		if o.cfg.ActionLoopDelay > 0 {
			select {
			case <-time.After(o.cfg.ActionLoopDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("exceeded %d consecutive non-terminal actions", o.cfg.MaxActionLoop)
}

// ActiveModelID reports the model a change-model action switched the
// conversation to, or "" when the conversation still belongs here.
func (o *Orchestrator) ActiveModelID(ctx context.Context, conversationKey string) (string, error) {
	st, err := loadState(ctx, o.store, conversationKey)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", nil
	}
	return st.ActiveModelID, nil
}

// EndSession terminates the conversation's session explicitly.
func (o *Orchestrator) EndSession(ctx context.Context, conversationKey, reason string) error {
	st, err := loadState(ctx, o.store, conversationKey)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	o.endSession(ctx, conversationKey, st, reason)
	return nil
}

func (o *Orchestrator) endSession(ctx context.Context, conversationKey string, st *State, reason string) {
	if err := o.client.EndSession(ctx, st.AppID, st.SessionID); err != nil {
		slog.WarnContext(ctx, "remote end session failed",
			slog.String("session_id", st.SessionID),
			slog.String("error", err.Error()))
	}

	mem := memory.NewEntityMemory(o.store, memoryKeyPrefix+conversationKey, nil)
	var preserveIDs []string
	if o.onSessionEnd != nil {
		if defs, err := o.defs(); err == nil {
			mem.SetDefinitions(defs.Entities)
		}
		names, err := o.onSessionEnd(ctx, callback.NewManager(mem))
		if err != nil {
			slog.WarnContext(ctx, "session end callback failed", slog.String("error", err.Error()))
		}
		for _, name := range names {
			if id, ok := mem.IDForName(name); ok {
				preserveIDs = append(preserveIDs, id)
			}
		}
	}
	if err := mem.Clear(ctx, preserveIDs); err != nil {
		slog.WarnContext(ctx, "memory clear failed", slog.String("error", err.Error()))
	}

	if err := clearState(ctx, o.store, conversationKey); err != nil {
		slog.WarnContext(ctx, "session state clear failed", slog.String("error", err.Error()))
	}
	o.emit(ctx, events.SessionEnded, conversationKey, &events.SessionEndedData{
		AppID:     st.AppID,
		SessionID: st.SessionID,
		Reason:    reason,
	})
}

// endSessionBestEffort is the hard-error boundary: try to terminate the
// session, report nothing further.
func (o *Orchestrator) endSessionBestEffort(ctx context.Context, conversationKey string, st *State, reason string) {
	if st == nil || st.SessionID == "" {
		return
	}
	o.endSession(ctx, conversationKey, st, reason)
}

func (o *Orchestrator) emit(ctx context.Context, et events.EventType, conversationID string, data any) {
	if o.pub == nil {
		return
	}
	if err := o.pub.Emit(ctx, et, conversationID, data); err != nil {
		slog.DebugContext(ctx, "event emit failed",
			slog.String("event_type", string(et)),
			slog.String("error", err.Error()))
	}
}
