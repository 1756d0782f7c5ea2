// Package interpret resolves one scored action into a concrete effect: a
// rendered response, a captured logic result, and a control signal for the
// orchestrator.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialogforge/dialogforge/pkg/callback"
	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/render"
)

// APIMode selects which halves of an API callback run.
type APIMode int

const (
	// LogicAndRender runs the logic callback then the render callback.
	// This is the live-turn mode.
	LogicAndRender APIMode = iota
	// LogicOnly runs just the logic callback, used during replay capture.
	LogicOnly
	// RenderOnly re-applies a previously captured logic result and
	// renders, so side effects are not repeated during reconstruction.
	RenderOnly
)

// SignalType tells the orchestrator what to do after the action fires.
type SignalType string

const (
	SignalNone        SignalType = ""
	SignalEndSession  SignalType = "end_session"
	SignalDispatch    SignalType = "dispatch"
	SignalChangeModel SignalType = "change_model"
)

// Signal is a control directive produced by an action. Dispatch keeps the
// originating model in charge for future turns; change-model switches the
// active model for the conversation going forward.
type Signal struct {
	Type      SignalType
	ModelID   string
	ModelName string
}

// ActionResult is the resolved effect of one action.
type ActionResult struct {
	Response    string
	LogicResult *model.LogicResult
	Signal      Signal
	// ReplayError notes a soft condition encountered while acting
	// (placeholder hit, missing callback, captured exception).
	ReplayError *model.ReplayError
}

// Input carries per-invocation context for TakeAction.
type Input struct {
	// StoredLogicResult is the previously captured result re-applied in
	// RenderOnly mode.
	StoredLogicResult *model.LogicResult
	// PlaceholderFilled are the explicit entity values a placeholder API
	// applies instead of calling developer code.
	PlaceholderFilled []model.FilledEntity
}

// Interpreter dispatches over the closed set of action variants. It keeps
// no state of its own beyond what it writes into entity memory.
type Interpreter struct {
	callbacks *callback.Registry
	templates render.Provider
}

// New creates an interpreter over the given callback registry and template
// provider.
func New(callbacks *callback.Registry, templates render.Provider) *Interpreter {
	return &Interpreter{callbacks: callbacks, templates: templates}
}

// TakeAction resolves the action against entity memory. Hard errors (a
// set-entity action with a broken target, text referencing an empty
// entity) return a non-nil error; callback failures and rendering problems
// are soft and land in the result instead.
func (i *Interpreter) TakeAction(ctx context.Context, action model.Action, mem *memory.EntityMemory, mode APIMode, in Input) (*ActionResult, error) {
	switch action.Type {
	case model.ActionTypeText:
		return i.takeTextAction(ctx, action, mem)
	case model.ActionTypeCard:
		return i.takeCardAction(ctx, action, mem)
	case model.ActionTypeAPI:
		if action.API != nil && action.API.IsPlaceholder {
			return i.takePlaceholderAction(ctx, action, mem, in)
		}
		return i.takeAPIAction(ctx, action, mem, mode, in)
	case model.ActionTypeEndSession:
		return i.takeEndSessionAction(ctx, action, mem)
	case model.ActionTypeSetEntity:
		return i.takeSetEntityAction(ctx, action, mem)
	case model.ActionTypeDispatch:
		return &ActionResult{Signal: Signal{
			Type:      SignalDispatch,
			ModelID:   action.Model.ModelID,
			ModelName: action.Model.ModelName,
		}}, nil
	case model.ActionTypeChangeModel:
		return &ActionResult{Signal: Signal{
			Type:      SignalChangeModel,
			ModelID:   action.Model.ModelID,
			ModelName: action.Model.ModelName,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (i *Interpreter) takeTextAction(ctx context.Context, action model.Action, mem *memory.EntityMemory) (*ActionResult, error) {
	values, err := mem.ValueMap(ctx)
	if err != nil {
		return nil, err
	}
	text, err := render.RenderText(action.Text.Text, values)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Response: text}, nil
}

func (i *Interpreter) takeCardAction(ctx context.Context, action model.Action, mem *memory.EntityMemory) (*ActionResult, error) {
	values, err := mem.ValueMap(ctx)
	if err != nil {
		return nil, err
	}

	args := make([]render.TemplateArg, 0, len(action.Card.Arguments))
	for _, a := range action.Card.Arguments {
		resolved := render.SubstituteOptional(a.Value, values)
		if resolved == "" || resolved == a.Value && strings.HasPrefix(a.Value, "{") {
			// Unresolved entity reference renders as an explicit marker
			// rather than failing the whole card.
			resolved = fmt.Sprintf("[missing entity %s]", strings.Trim(a.Value, "{}"))
		}
		args = append(args, render.TemplateArg{Parameter: a.Parameter, Value: resolved})
	}

	body, err := i.templates.Render(action.Card.Template, args)
	if err != nil {
		slog.WarnContext(ctx, "card render failed",
			slog.String("template", action.Card.Template),
			slog.String("error", err.Error()))
		return &ActionResult{
			Response: fmt.Sprintf("ERROR rendering card %q: %v", action.Card.Template, err),
			ReplayError: &model.ReplayError{
				Type:   model.ReplayErrorAPIBadCard,
				Value:  action.Card.Template,
				Detail: err.Error(),
			},
		}, nil
	}
	return &ActionResult{Response: body}, nil
}

func (i *Interpreter) takePlaceholderAction(ctx context.Context, action model.Action, mem *memory.EntityMemory, in Input) (*ActionResult, error) {
	if err := mem.RestoreFromDelta(ctx, in.PlaceholderFilled); err != nil {
		return nil, err
	}
	lr := &model.LogicResult{ChangedFilledEntities: in.PlaceholderFilled}
	return &ActionResult{
		Response:    fmt.Sprintf("Placeholder API %q", action.API.Name),
		LogicResult: lr,
		ReplayError: &model.ReplayError{
			Type:  model.ReplayErrorAPIPlaceholder,
			Value: action.API.Name,
		},
	}, nil
}

func (i *Interpreter) takeAPIAction(ctx context.Context, action model.Action, mem *memory.EntityMemory, mode APIMode, in Input) (*ActionResult, error) {
	cb, ok := i.callbacks.Get(action.API.Name)
	if !ok {
		replayErr := &model.ReplayError{Type: model.ReplayErrorAPIUndefined, Value: action.API.Name}
		return &ActionResult{
			Response:    fmt.Sprintf("ERROR: callback %q is not registered", action.API.Name),
			LogicResult: &model.LogicResult{Error: replayErr.Message()},
			ReplayError: replayErr,
		}, nil
	}

	values, err := mem.ValueMap(ctx)
	if err != nil {
		return nil, err
	}

	result := &ActionResult{}
	var logicValue any

	switch mode {
	case RenderOnly:
		if in.StoredLogicResult != nil {
			if in.StoredLogicResult.Error != "" {
				result.LogicResult = in.StoredLogicResult
				result.ReplayError = &model.ReplayError{
					Type:   model.ReplayErrorAPIException,
					Value:  action.API.Name,
					Detail: in.StoredLogicResult.Error,
				}
				return result, nil
			}
			if err := mem.RestoreFromDelta(ctx, in.StoredLogicResult.ChangedFilledEntities); err != nil {
				return nil, err
			}
			if in.StoredLogicResult.LogicValue != "" {
				if err := json.Unmarshal([]byte(in.StoredLogicResult.LogicValue), &logicValue); err != nil {
					return nil, fmt.Errorf("decode stored logic value for %q: %w", action.API.Name, err)
				}
			}
			result.LogicResult = in.StoredLogicResult
		}

	case LogicOnly, LogicAndRender:
		if cb.Logic != nil {
			mgr := callback.NewManager(mem)
			args := resolveArgs(action.API.LogicArgs, cb.LogicArgs, values)

			var logicErr error
			logicValue, logicErr = invokeLogic(ctx, cb, mgr, args)

			lr := &model.LogicResult{}
			if logicErr != nil {
				lr.Error = logicErr.Error()
				result.LogicResult = lr
				result.ReplayError = &model.ReplayError{
					Type:   model.ReplayErrorAPIException,
					Value:  action.API.Name,
					Detail: logicErr.Error(),
				}
				return result, nil
			}

			delta, err := mgr.Delta(ctx)
			if err != nil {
				return nil, err
			}
			lr.ChangedFilledEntities = delta
			if logicValue != nil {
				raw, err := json.Marshal(logicValue)
				if err != nil {
					return nil, fmt.Errorf("encode logic value for %q: %w", action.API.Name, err)
				}
				lr.LogicValue = string(raw)
			}
			result.LogicResult = lr
		}
	}

	if mode == LogicOnly {
		return result, nil
	}

	if logicValue != nil && cb.Render == nil {
		result.ReplayError = &model.ReplayError{Type: model.ReplayErrorAPIMalformed, Value: action.API.Name}
		result.Response = fmt.Sprintf("ERROR: callback %q returned a value but declares no render function", action.API.Name)
		return result, nil
	}

	if cb.Render != nil {
		args := resolveArgs(action.API.RenderArgs, cb.RenderArgs, values)
		mgr := callback.NewManager(mem)
		rendered, renderErr := invokeRender(ctx, cb, logicValue, mgr, args)
		if renderErr != nil {
			// Rendering failures degrade to a diagnostic string.
			result.Response = fmt.Sprintf("ERROR rendering %q: %v", action.API.Name, renderErr)
			result.ReplayError = &model.ReplayError{
				Type:   model.ReplayErrorAPIException,
				Value:  action.API.Name,
				Detail: renderErr.Error(),
			}
			return result, nil
		}
		result.Response = rendered
	}

	return result, nil
}

func (i *Interpreter) takeEndSessionAction(ctx context.Context, action model.Action, mem *memory.EntityMemory) (*ActionResult, error) {
	values, err := mem.ValueMap(ctx)
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		Response: render.SubstituteOptional(action.Session.Text, values),
		Signal:   Signal{Type: SignalEndSession},
	}, nil
}

func (i *Interpreter) takeSetEntityAction(ctx context.Context, action model.Action, mem *memory.EntityMemory) (*ActionResult, error) {
	entity, ok := mem.Entity(action.SetEntity.EntityID)
	if !ok {
		return nil, fmt.Errorf("set-entity: entity %q does not exist", action.SetEntity.EntityID)
	}
	if entity.Type != model.EntityTypeEnum {
		return nil, fmt.Errorf("set-entity: entity %q is not an enum entity", entity.Name)
	}
	ev, ok := entity.EnumValueByID(action.SetEntity.EnumValueID)
	if !ok {
		return nil, fmt.Errorf("set-entity: enum value %q does not exist on entity %q",
			action.SetEntity.EnumValueID, entity.Name)
	}

	mv := model.MemoryValue{UserText: ev.Value, EnumValueID: ev.ID}
	if err := mem.Remember(ctx, entity.ID, mv, false); err != nil {
		return nil, err
	}
	return &ActionResult{
		LogicResult: &model.LogicResult{
			ChangedFilledEntities: []model.FilledEntity{
				{EntityID: entity.ID, Values: []model.MemoryValue{mv}},
			},
		},
	}, nil
}

// invokeLogic runs the logic callback, converting panics into ordinary
// errors so a misbehaving callback can never abort a turn or a replay.
func invokeLogic(ctx context.Context, cb callback.Callback, mgr *callback.Manager, args map[string]string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in logic callback %q: %v", cb.Name, r)
		}
	}()
	return cb.Logic(ctx, mgr, args)
}

func invokeRender(ctx context.Context, cb callback.Callback, logicValue any, mem callback.ReadOnly, args map[string]string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in render callback %q: %v", cb.Name, r)
		}
	}()
	return cb.Render(ctx, logicValue, mem, args)
}

// resolveArgs maps declared argument names to their bound values, with
// entity references substituted. Bindings with no declared counterpart are
// dropped.
func resolveArgs(bound []model.CardArgument, declared []string, values map[string]string) map[string]string {
	wanted := make(map[string]struct{}, len(declared))
	for _, d := range declared {
		wanted[d] = struct{}{}
	}
	out := make(map[string]string, len(bound))
	for _, b := range bound {
		if _, ok := wanted[b.Parameter]; !ok {
			continue
		}
		out[b.Parameter] = render.SubstituteOptional(b.Value, values)
	}
	return out
}
