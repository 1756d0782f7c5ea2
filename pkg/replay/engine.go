// Package replay re-derives a stored dialog against current model
// definitions: it recomputes entity memory round by round, refreshes
// captured logic results, classifies inconsistencies introduced by model
// edits, and re-materializes the bot's turn-by-turn activities.
package replay

import (
	"context"
	"fmt"

	"github.com/rs/xid"

	"github.com/dialogforge/dialogforge/pkg/callback"
	"github.com/dialogforge/dialogforge/pkg/interpret"
	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
)

// SessionStartFunc seeds entity memory at session start, before any
// recorded initial entities are layered on top.
type SessionStartFunc func(ctx context.Context, mem *callback.Manager) error

// EntityDetectFunc is the bot's entity-detection callback, invoked after
// labeled entities have been written to memory.
type EntityDetectFunc func(ctx context.Context, text string, mem *callback.Manager) error

// Engine replays stored dialogs. Replay always completes: inconsistencies
// become recorded errors, never aborts.
type Engine struct {
	interp         *interpret.Interpreter
	newStore       func() memory.Store
	onSessionStart SessionStartFunc
	onEntityDetect EntityDetectFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithSessionStart sets the session-start seeding callback.
func WithSessionStart(fn SessionStartFunc) Option {
	return func(e *Engine) { e.onSessionStart = fn }
}

// WithEntityDetection sets the entity-detection callback.
func WithEntityDetection(fn EntityDetectFunc) Option {
	return func(e *Engine) { e.onEntityDetect = fn }
}

// WithStoreFactory overrides how scratch stores are created.
func WithStoreFactory(fn func() memory.Store) Option {
	return func(e *Engine) { e.newStore = fn }
}

// NewEngine creates a replay engine over the given interpreter.
func NewEngine(interp *interpret.Interpreter, opts ...Option) *Engine {
	e := &Engine{
		interp:   interp,
		newStore: func() memory.Store { return memory.NewMapStore() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Replay replays the dialog from scratch against defs, returning a new
// dialog with recomputed scorer inputs and logic results. With cleanse set,
// malformed rounds whose first scorer step has no labeled action are
// dropped and no empty stand-ins are papered over missing required
// entities.
func (e *Engine) Replay(ctx context.Context, dialog *model.TrainDialog, defs *model.AppDefinition, cleanse bool) (*model.TrainDialog, error) {
	out := dialog.Clone()

	mem, err := e.seedMemory(ctx, out, defs)
	if err != nil {
		return nil, err
	}

	for ri := range out.Rounds {
		round := &out.Rounds[ri]

		detectErr := e.processExtraction(ctx, round, mem, defs)

		if len(round.ScorerSteps) == 0 {
			// Represent the "awaiting scorer" state with one synthetic
			// step carrying just the memory snapshot.
			snapshot, err := mem.FilledEntities(ctx)
			if err != nil {
				return nil, err
			}
			round.ScorerSteps = []model.ScorerStep{{
				Input: model.ScorerInput{FilledEntities: snapshot},
			}}
			continue
		}

		if err := backfillResolutions(ctx, round, mem); err != nil {
			return nil, err
		}

		if detectErr != nil {
			// Entity-detection exceptions attach to the round's first
			// scorer step instead of aborting the replay.
			lr := round.ScorerSteps[0].LogicResult
			if lr == nil {
				lr = &model.LogicResult{}
				round.ScorerSteps[0].LogicResult = lr
			}
			lr.Error = detectErr.Error()
		}

		for si := range round.ScorerSteps {
			if err := e.processScorerStep(ctx, &round.ScorerSteps[si], mem, defs, cleanse); err != nil {
				return nil, err
			}
		}
	}

	if cleanse {
		kept := out.Rounds[:0]
		for _, round := range out.Rounds {
			if len(round.ScorerSteps) == 0 || round.ScorerSteps[0].LabelAction == "" {
				continue
			}
			kept = append(kept, round)
		}
		out.Rounds = kept
	}

	return out, nil
}

// seedMemory resets entity memory, runs the session-start callback against
// current definitions, then layers the dialog's recorded initial entities
// on top so recorded values take precedence.
func (e *Engine) seedMemory(ctx context.Context, dialog *model.TrainDialog, defs *model.AppDefinition) (*memory.EntityMemory, error) {
	mem := memory.NewEntityMemory(e.newStore(), "replay:"+xid.New().String(), defs.Entities)

	if e.onSessionStart != nil {
		if err := e.onSessionStart(ctx, callback.NewManager(mem)); err != nil {
			return nil, fmt.Errorf("session start callback: %w", err)
		}
	}
	if len(dialog.InitialFilledEntities) > 0 {
		if err := mem.RestoreFromDelta(ctx, dialog.InitialFilledEntities); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

// processExtraction writes the round's labeled entities into memory and
// runs the entity-detection callback. The callback's error is returned for
// recording, not raised.
func (e *Engine) processExtraction(ctx context.Context, round *model.Round, mem *memory.EntityMemory, defs *model.AppDefinition) error {
	if len(round.ExtractorStep.TextVariations) == 0 {
		return nil
	}
	tv := round.ExtractorStep.TextVariations[0]

	for _, label := range tv.LabeledEntities {
		entity, ok := model.EntityByID(defs.Entities, label.EntityID)
		if !ok {
			// Undefined labels are classified by validation, not here.
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

	if e.onEntityDetect != nil {
		if err := invokeDetect(ctx, e.onEntityDetect, tv.Text, callback.NewManager(mem)); err != nil {
			return err
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

// backfillResolutions copies resolver metadata from recomputed memory back
// onto the round's labels, so pretrained resolutions survive replay.
func backfillResolutions(ctx context.Context, round *model.Round, mem *memory.EntityMemory) error {
	snapshot, err := mem.FilledEntities(ctx)
	if err != nil {
		return err
	}
	byID := model.FilledEntityMap(snapshot)

	for ti := range round.ExtractorStep.TextVariations {
		tv := &round.ExtractorStep.TextVariations[ti]
		for li := range tv.LabeledEntities {
			label := &tv.LabeledEntities[li]
			if label.Resolution != "" {
				continue
			}
			f, ok := byID[label.EntityID]
			if !ok {
				continue
			}
			for _, v := range f.Values {
				if v.UserText == label.Text {
					label.Resolution = v.Resolution
					label.BuiltinType = v.BuiltinType
					break
				}
			}
		}
	}
	return nil
}

func (e *Engine) processScorerStep(ctx context.Context, step *model.ScorerStep, mem *memory.EntityMemory, defs *model.AppDefinition, cleanse bool) error {
	action, actionKnown := model.ActionByID(defs.Actions, step.LabelAction)

	if actionKnown && action.Type == model.ActionTypeAPI && action.API.IsPlaceholder {
		// Restore the previously captured placeholder deltas directly; a
		// placeholder has no callback to re-run.
		if step.LogicResult != nil {
			if err := mem.RestoreFromDelta(ctx, step.LogicResult.ChangedFilledEntities); err != nil {
				return err
			}
		}
		snapshot, err := mem.FilledEntities(ctx)
		if err != nil {
			return err
		}
		step.Input.FilledEntities = snapshot
		return nil
	}

	snapshot, err := mem.FilledEntities(ctx)
	if err != nil {
		return err
	}

	if actionKnown && !cleanse {
		// Fill empty stand-ins for required entities missing from memory.
		// Cleanse skips this: it is meant to surface gaps, not paper over
		// them.
		present := model.FilledEntityMap(snapshot)
		for _, id := range action.RequiredEntities {
			if _, ok := present[id]; !ok {
				snapshot = append(snapshot, model.FilledEntity{EntityID: id})
			}
		}
	}
	step.Input.FilledEntities = snapshot

	if !actionKnown || step.IsStub() {
		return nil
	}

	switch action.Type {
	case model.ActionTypeAPI, model.ActionTypeEndSession, model.ActionTypeSetEntity, model.ActionTypeChangeModel:
		result, err := e.interp.TakeAction(ctx, action, mem, interpret.LogicOnly, interpret.Input{})
		if err != nil {
			// Hard action failures are recorded on the step, keeping the
			// replay alive.
			step.LogicResult = &model.LogicResult{Error: err.Error()}
			return nil
		}
		if result.LogicResult != nil {
			step.LogicResult = result.LogicResult
		}
	}
	return nil
}
