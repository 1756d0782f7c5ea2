// Package runner assembles the per-model processing stack and keeps a
// registry of running models.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dialogforge/dialogforge/pkg/callback"
	"github.com/dialogforge/dialogforge/pkg/events"
	"github.com/dialogforge/dialogforge/pkg/inputqueue"
	"github.com/dialogforge/dialogforge/pkg/interpret"
	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/render"
	"github.com/dialogforge/dialogforge/pkg/replay"
	"github.com/dialogforge/dialogforge/pkg/session"
)

// Runner bundles everything one model needs to process conversations.
type Runner struct {
	ModelID      string
	Callbacks    *callback.Registry
	Interpreter  *interpret.Interpreter
	Orchestrator *session.Orchestrator
	Replayer     *replay.Engine
}

// Options configures a runner added to the registry.
type Options struct {
	Callbacks       *callback.Registry
	Templates       render.Provider
	SessionTimeout  time.Duration
	MaxActionLoop   int
	ActionLoopDelay time.Duration
	QueueTimeout    time.Duration
	Publisher       *events.Publisher
	OnSessionStart  session.SessionStartFunc
	OnSessionEnd    session.SessionEndFunc
	OnEntityDetect  EntityDetectFunc
}

// EntityDetectFunc is the per-runner entity detection callback.
type EntityDetectFunc = session.EntityDetectFunc

// Registry holds one runner per model id. The first model added becomes
// the default returned by Default; callers that serve a UI without an
// explicit model id get that one.
type Registry struct {
	client session.Client
	store  memory.Store
	loader *model.Loader

	mu        sync.RWMutex
	runners   map[string]*Runner
	defaultID string
}

// NewRegistry creates an empty runner registry.
func NewRegistry(client session.Client, store memory.Store, loader *model.Loader) *Registry {
	return &Registry{
		client:  client,
		store:   store,
		loader:  loader,
		runners: make(map[string]*Runner),
	}
}

// Add builds and registers a runner for modelID and returns it. Adding a
// model id twice replaces the previous runner but keeps the default slot.
func (r *Registry) Add(modelID string, opts Options) *Runner {
	callbacks := opts.Callbacks
	if callbacks == nil {
		callbacks = callback.NewRegistry()
	}

	interp := interpret.New(callbacks, opts.Templates)

	var queueOpts []inputqueue.Option
	if opts.QueueTimeout > 0 {
		queueOpts = append(queueOpts, inputqueue.WithTimeout(opts.QueueTimeout))
	}
	queue := inputqueue.New(r.store, queueOpts...)

	defsFn := func() (*model.AppDefinition, error) {
		defs, ok := r.loader.Get(modelID)
		if !ok {
			return nil, fmt.Errorf("model %q has no loaded definition", modelID)
		}
		return defs, nil
	}

	sessionOpts := []session.Option{
		session.WithPublisher(opts.Publisher),
	}
	if opts.OnSessionStart != nil {
		sessionOpts = append(sessionOpts, session.WithSessionStart(opts.OnSessionStart))
	}
	if opts.OnSessionEnd != nil {
		sessionOpts = append(sessionOpts, session.WithSessionEnd(opts.OnSessionEnd))
	}
	if opts.OnEntityDetect != nil {
		sessionOpts = append(sessionOpts, session.WithEntityDetection(opts.OnEntityDetect))
	}

	orch := session.New(modelID, r.client, r.store, queue, interp, defsFn, session.Config{
		SessionTimeout:  opts.SessionTimeout,
		MaxActionLoop:   opts.MaxActionLoop,
		ActionLoopDelay: opts.ActionLoopDelay,
	}, sessionOpts...)

	replayOpts := []replay.Option{}
	if opts.OnSessionStart != nil {
		replayOpts = append(replayOpts, replay.WithSessionStart(replay.SessionStartFunc(opts.OnSessionStart)))
	}
	if opts.OnEntityDetect != nil {
		replayOpts = append(replayOpts, replay.WithEntityDetection(replay.EntityDetectFunc(opts.OnEntityDetect)))
	}
	engine := replay.NewEngine(interp, replayOpts...)

	runner := &Runner{
		ModelID:      modelID,
		Callbacks:    callbacks,
		Interpreter:  interp,
		Orchestrator: orch,
		Replayer:     engine,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runners[modelID]; !exists && r.defaultID == "" {
		r.defaultID = modelID
	}
	r.runners[modelID] = runner
	return runner
}

// Get returns the runner for modelID.
func (r *Registry) Get(modelID string) (*Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[modelID]
	return runner, ok
}

// Default returns the first runner that was added, or nil when the
// registry is empty.
func (r *Registry) Default() *Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultID == "" {
		return nil
	}
	return r.runners[r.defaultID]
}

// ModelIDs returns the registered model ids.
func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	return ids
}

// Route resolves which runner should process input for a conversation,
// honoring a change-model switch recorded in session state.
func (r *Registry) Route(ctx context.Context, conversationKey string) (*Runner, error) {
	def := r.Default()
	if def == nil {
		return nil, fmt.Errorf("no models registered")
	}

	active, err := def.Orchestrator.ActiveModelID(ctx, conversationKey)
	if err != nil {
		return nil, err
	}
	if active == "" {
		return def, nil
	}
	if runner, ok := r.Get(active); ok {
		return runner, nil
	}
	return def, nil
}
