package interpret

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dialogforge/dialogforge/pkg/callback"
	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/render"
)

func interpEntities() []model.Entity {
	return []model.Entity{
		{ID: "ent-name", Name: "user-name", Type: model.EntityTypeCustom},
		{ID: "ent-topping", Name: "toppings", Type: model.EntityTypeCustom, IsMultivalue: true},
		{ID: "ent-status", Name: "order-status", Type: model.EntityTypeEnum, EnumValues: []model.EnumValue{
			{ID: "ev-open", Value: "open"},
		}},
	}
}

func newTestMemory(t *testing.T) *memory.EntityMemory {
	t.Helper()
	return memory.NewEntityMemory(memory.NewMapStore(), "memory:test", interpEntities())
}

func newInterpreter(t *testing.T, cbs ...callback.Callback) *Interpreter {
	t.Helper()
	reg := callback.NewRegistry()
	for _, cb := range cbs {
		if err := reg.Add(cb); err != nil {
			t.Fatalf("register %q: %v", cb.Name, err)
		}
	}
	templates := render.NewFileProvider("")
	templates.Add(render.CardTemplate{Name: "order-card", Title: "Order: {{.items}}"})
	return New(reg, templates)
}

func TestTextAction(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()
	mem.Remember(ctx, "ent-name", model.MemoryValue{UserText: "Alice"}, false)

	i := newInterpreter(t)
	action := model.Action{
		ID:   "act-text",
		Type: model.ActionTypeText,
		Text: &model.TextPayload{Text: "Hello {user-name}!"},
	}

	res, err := i.TakeAction(ctx, action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.Response != "Hello Alice!" {
		t.Errorf("response = %q", res.Response)
	}
}

func TestTextActionMissingEntityIsHardError(t *testing.T) {
	mem := newTestMemory(t)
	i := newInterpreter(t)
	action := model.Action{
		ID:   "act-text",
		Type: model.ActionTypeText,
		Text: &model.TextPayload{Text: "Hello {user-name}!"},
	}

	_, err := i.TakeAction(t.Context(), action, mem, LogicAndRender, Input{})
	var missing *render.EntityMissingValueError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want EntityMissingValueError", err)
	}
}

func TestCardAction(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()
	mem.Remember(ctx, "ent-topping", model.MemoryValue{UserText: "cheese"}, true)

	i := newInterpreter(t)
	action := model.Action{
		ID:   "act-card",
		Type: model.ActionTypeCard,
		Card: &model.CardPayload{
			Template:  "order-card",
			Arguments: []model.CardArgument{{Parameter: "items", Value: "{toppings}"}},
		},
	}

	res, err := i.TakeAction(ctx, action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.Response != "Order: cheese" {
		t.Errorf("response = %q", res.Response)
	}
}

func TestCardActionMissingTemplateIsSoft(t *testing.T) {
	mem := newTestMemory(t)
	i := newInterpreter(t)
	action := model.Action{
		ID:   "act-card",
		Type: model.ActionTypeCard,
		Card: &model.CardPayload{Template: "absent"},
	}

	res, err := i.TakeAction(t.Context(), action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.ReplayError == nil || res.ReplayError.Type != model.ReplayErrorAPIBadCard {
		t.Errorf("replay error = %+v, want api_bad_card", res.ReplayError)
	}
	if !strings.HasPrefix(res.Response, "ERROR") {
		t.Errorf("response = %q, want diagnostic", res.Response)
	}
}

func TestAPIActionLogicAndRender(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()

	cb := callback.Callback{
		Name:      "SaveName",
		LogicArgs: []string{"name"},
		Logic: func(ctx context.Context, mgr *callback.Manager, args map[string]string) (any, error) {
			if err := mgr.RememberEntity(ctx, "user-name", args["name"]); err != nil {
				return nil, err
			}
			return map[string]string{"saved": args["name"]}, nil
		},
		Render: func(ctx context.Context, logicValue any, mem callback.ReadOnly, _ map[string]string) (string, error) {
			v, _ := mem.Value(ctx, "user-name")
			return "Saved " + v, nil
		},
	}

	i := newInterpreter(t, cb)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API: &model.APIPayload{
			Name:      "SaveName",
			LogicArgs: []model.CardArgument{{Parameter: "name", Value: "Alice"}},
		},
	}

	res, err := i.TakeAction(ctx, action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.Response != "Saved Alice" {
		t.Errorf("response = %q", res.Response)
	}
	if res.LogicResult == nil || len(res.LogicResult.ChangedFilledEntities) != 1 {
		t.Fatalf("logic result = %+v", res.LogicResult)
	}
	if res.LogicResult.ChangedFilledEntities[0].EntityID != "ent-name" {
		t.Errorf("delta = %+v", res.LogicResult.ChangedFilledEntities)
	}
	if res.LogicResult.LogicValue == "" {
		t.Error("logic value should be captured")
	}
}

func TestAPIActionUndefinedCallbackIsSoft(t *testing.T) {
	mem := newTestMemory(t)
	i := newInterpreter(t)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API:  &model.APIPayload{Name: "Nope"},
	}

	res, err := i.TakeAction(t.Context(), action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.ReplayError == nil || res.ReplayError.Type != model.ReplayErrorAPIUndefined {
		t.Errorf("replay error = %+v, want api_undefined", res.ReplayError)
	}
}

func TestAPIActionLogicPanicBecomesException(t *testing.T) {
	mem := newTestMemory(t)
	cb := callback.Callback{
		Name: "Boom",
		Logic: func(context.Context, *callback.Manager, map[string]string) (any, error) {
			panic("kaboom")
		},
	}

	i := newInterpreter(t, cb)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API:  &model.APIPayload{Name: "Boom"},
	}

	res, err := i.TakeAction(t.Context(), action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("panic should not become a hard error: %v", err)
	}
	if res.ReplayError == nil || res.ReplayError.Type != model.ReplayErrorAPIException {
		t.Errorf("replay error = %+v, want api_exception", res.ReplayError)
	}
	if res.LogicResult == nil || res.LogicResult.Error == "" {
		t.Errorf("logic result = %+v, want captured error", res.LogicResult)
	}
}

func TestAPIActionLogicValueWithoutRenderIsMalformed(t *testing.T) {
	mem := newTestMemory(t)
	cb := callback.Callback{
		Name: "OnlyLogic",
		Logic: func(context.Context, *callback.Manager, map[string]string) (any, error) {
			return "value", nil
		},
	}

	i := newInterpreter(t, cb)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API:  &model.APIPayload{Name: "OnlyLogic"},
	}

	res, err := i.TakeAction(t.Context(), action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.ReplayError == nil || res.ReplayError.Type != model.ReplayErrorAPIMalformed {
		t.Errorf("replay error = %+v, want api_malformed", res.ReplayError)
	}
}

func TestAPIActionRenderOnlyReappliesDelta(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()

	var logicCalls int
	cb := callback.Callback{
		Name: "SaveName",
		Logic: func(context.Context, *callback.Manager, map[string]string) (any, error) {
			logicCalls++
			return nil, nil
		},
		Render: func(ctx context.Context, _ any, mem callback.ReadOnly, _ map[string]string) (string, error) {
			v, _ := mem.Value(ctx, "user-name")
			return "Hello " + v, nil
		},
	}

	i := newInterpreter(t, cb)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API:  &model.APIPayload{Name: "SaveName"},
	}

	stored := &model.LogicResult{
		ChangedFilledEntities: []model.FilledEntity{
			{EntityID: "ent-name", Values: []model.MemoryValue{{UserText: "Alice"}}},
		},
	}

	res, err := i.TakeAction(ctx, action, mem, RenderOnly, Input{StoredLogicResult: stored})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if logicCalls != 0 {
		t.Error("logic must not run in RenderOnly mode")
	}
	if res.Response != "Hello Alice" {
		t.Errorf("response = %q", res.Response)
	}
}

func TestAPIActionRenderOnlySurfacesStoredError(t *testing.T) {
	mem := newTestMemory(t)
	cb := callback.Callback{
		Name:  "SaveName",
		Logic: func(context.Context, *callback.Manager, map[string]string) (any, error) { return nil, nil },
	}

	i := newInterpreter(t, cb)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API:  &model.APIPayload{Name: "SaveName"},
	}

	stored := &model.LogicResult{Error: "it broke"}
	res, err := i.TakeAction(t.Context(), action, mem, RenderOnly, Input{StoredLogicResult: stored})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.ReplayError == nil || res.ReplayError.Type != model.ReplayErrorAPIException {
		t.Errorf("replay error = %+v", res.ReplayError)
	}
	if res.ReplayError.Detail != "it broke" {
		t.Errorf("detail = %q", res.ReplayError.Detail)
	}
}

func TestPlaceholderAction(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()

	i := newInterpreter(t)
	action := model.Action{
		ID:   "act-api",
		Type: model.ActionTypeAPI,
		API:  &model.APIPayload{Name: "FutureAPI", IsPlaceholder: true},
	}

	filled := []model.FilledEntity{
		{EntityID: "ent-name", Values: []model.MemoryValue{{UserText: "Alice"}}},
	}
	res, err := i.TakeAction(ctx, action, mem, LogicAndRender, Input{PlaceholderFilled: filled})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.ReplayError == nil || res.ReplayError.Type != model.ReplayErrorAPIPlaceholder {
		t.Errorf("replay error = %+v, want api_placeholder", res.ReplayError)
	}
	if v, _ := mem.Value(ctx, "user-name"); v != "Alice" {
		t.Errorf("placeholder should apply its filled entities, got %q", v)
	}
}

func TestEndSessionAction(t *testing.T) {
	mem := newTestMemory(t)
	i := newInterpreter(t)
	action := model.Action{
		ID:      "act-end",
		Type:    model.ActionTypeEndSession,
		Session: &model.SessionPayload{Text: "Bye {user-name}!"},
	}

	res, err := i.TakeAction(t.Context(), action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.Signal.Type != SignalEndSession {
		t.Errorf("signal = %q", res.Signal.Type)
	}
	// Missing references are tolerated in parting messages.
	if res.Response != "Bye {user-name}!" {
		t.Errorf("response = %q", res.Response)
	}
}

func TestSetEntityAction(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()
	i := newInterpreter(t)

	action := model.Action{
		ID:        "act-set",
		Type:      model.ActionTypeSetEntity,
		SetEntity: &model.SetEntityPayload{EntityID: "ent-status", EnumValueID: "ev-open"},
	}

	res, err := i.TakeAction(ctx, action, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if v, _ := mem.Value(ctx, "order-status"); v != "open" {
		t.Errorf("order-status = %q", v)
	}
	if res.LogicResult == nil || len(res.LogicResult.ChangedFilledEntities) != 1 {
		t.Errorf("logic result = %+v", res.LogicResult)
	}
}

func TestSetEntityActionHardErrors(t *testing.T) {
	mem := newTestMemory(t)
	ctx := t.Context()
	i := newInterpreter(t)

	cases := []model.SetEntityPayload{
		{EntityID: "ent-missing", EnumValueID: "ev-open"},
		{EntityID: "ent-name", EnumValueID: "ev-open"},   // not an enum
		{EntityID: "ent-status", EnumValueID: "ev-nope"}, // unknown value
	}
	for _, p := range cases {
		p := p
		action := model.Action{ID: "act-set", Type: model.ActionTypeSetEntity, SetEntity: &p}
		if _, err := i.TakeAction(ctx, action, mem, LogicAndRender, Input{}); err == nil {
			t.Errorf("payload %+v: expected hard error", p)
		}
	}
}

func TestDispatchAndChangeModelSignals(t *testing.T) {
	mem := newTestMemory(t)
	i := newInterpreter(t)

	dispatch := model.Action{
		ID:    "act-dispatch",
		Type:  model.ActionTypeDispatch,
		Model: &model.ModelPayload{ModelID: "model-b"},
	}
	res, err := i.TakeAction(t.Context(), dispatch, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.Signal.Type != SignalDispatch || res.Signal.ModelID != "model-b" {
		t.Errorf("signal = %+v", res.Signal)
	}

	change := model.Action{
		ID:    "act-change",
		Type:  model.ActionTypeChangeModel,
		Model: &model.ModelPayload{ModelID: "model-c"},
	}
	res, err = i.TakeAction(t.Context(), change, mem, LogicAndRender, Input{})
	if err != nil {
		t.Fatalf("TakeAction: %v", err)
	}
	if res.Signal.Type != SignalChangeModel || res.Signal.ModelID != "model-c" {
		t.Errorf("signal = %+v", res.Signal)
	}
}
