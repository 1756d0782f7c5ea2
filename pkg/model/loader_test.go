package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const pizzaYAML = `app_id: app-pizza
app_name: Pizza Bot
entities:
  - id: ent-topping
    name: toppings
    type: custom
    multivalue: true
  - id: ent-status
    name: order-status
    type: enum
    enum_values:
      - id: ev-open
        value: open
actions:
  - id: act-ask
    type: text
    terminal: true
    text_payload:
      text: What toppings would you like?
  - id: act-open
    type: set_entity
    set_entity_payload:
      entity_id: ent-status
      enum_value_id: ev-open
`

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "pizza.yaml", pizzaYAML)
	writeDefinition(t, dir, "notes.txt", "not a definition")

	l := NewLoader(dir)
	apps, err := l.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("loaded %d apps, want 1", len(apps))
	}

	app, ok := l.Get("app-pizza")
	if !ok {
		t.Fatal("app-pizza not found after load")
	}
	if app.AppName != "Pizza Bot" {
		t.Errorf("app name = %q", app.AppName)
	}
	if len(app.Entities) != 2 || len(app.Actions) != 2 {
		t.Errorf("entities = %d, actions = %d", len(app.Entities), len(app.Actions))
	}
	if !app.Entities[0].IsMultivalue {
		t.Error("multivalue flag lost in parsing")
	}
	if app.Actions[1].SetEntity.EnumValueID != "ev-open" {
		t.Errorf("set-entity payload = %+v", app.Actions[1].SetEntity)
	}
}

func TestLoaderRejectsBrokenReferences(t *testing.T) {
	broken := `app_id: app-broken
entities:
  - id: ent-a
    name: thing
    type: custom
actions:
  - id: act-x
    type: text
    required_entities: [ent-missing]
    text_payload:
      text: hello
`
	dir := t.TempDir()
	writeDefinition(t, dir, "broken.yaml", broken)

	l := NewLoader(dir)
	if _, err := l.LoadAll(); err == nil || !strings.Contains(err.Error(), "ent-missing") {
		t.Errorf("err = %v, want unknown entity reference", err)
	}
}

func TestValidateDefinition(t *testing.T) {
	valid := func() *AppDefinition {
		return &AppDefinition{
			AppID: "app-v",
			Entities: []Entity{
				{ID: "ent-a", Name: "thing", Type: EntityTypeCustom},
				{ID: "ent-e", Name: "status", Type: EntityTypeEnum, EnumValues: []EnumValue{{ID: "ev-1", Value: "on"}}},
			},
			Actions: []Action{
				{ID: "act-1", Type: ActionTypeText, Text: &TextPayload{Text: "hi"}},
			},
		}
	}

	if err := ValidateDefinition(valid()); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AppDefinition)
	}{
		{"duplicate entity id", func(a *AppDefinition) {
			a.Entities = append(a.Entities, Entity{ID: "ent-a", Name: "other", Type: EntityTypeCustom})
		}},
		{"duplicate action id", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-1", Type: ActionTypeText, Text: &TextPayload{Text: "x"}})
		}},
		{"unknown negatable pair", func(a *AppDefinition) {
			a.Entities[0].NegativeEntityID = "ent-gone"
		}},
		{"text action without payload", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-2", Type: ActionTypeText})
		}},
		{"card action without template", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-2", Type: ActionTypeCard, Card: &CardPayload{}})
		}},
		{"set-entity on non-enum", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-2", Type: ActionTypeSetEntity,
				SetEntity: &SetEntityPayload{EntityID: "ent-a", EnumValueID: "ev-1"}})
		}},
		{"set-entity with unknown value", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-2", Type: ActionTypeSetEntity,
				SetEntity: &SetEntityPayload{EntityID: "ent-e", EnumValueID: "ev-gone"}})
		}},
		{"dispatch without model", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-2", Type: ActionTypeDispatch})
		}},
		{"unknown action type", func(a *AppDefinition) {
			a.Actions = append(a.Actions, Action{ID: "act-2", Type: "mystery"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := valid()
			tc.mutate(app)
			if err := ValidateDefinition(app); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTrainDialogClone(t *testing.T) {
	orig := &TrainDialog{
		DialogID: "dlg-1",
		InitialFilledEntities: []FilledEntity{
			{EntityID: "ent-a", Values: []MemoryValue{{UserText: "x"}}},
		},
		Rounds: []Round{
			{
				ExtractorStep: ExtractorStep{TextVariations: []TextVariation{
					{Text: "hello", LabeledEntities: []LabeledEntity{{EntityID: "ent-a", Text: "x"}}},
				}},
				ScorerSteps: []ScorerStep{
					{
						LabelAction: "act-1",
						LogicResult: &LogicResult{
							ChangedFilledEntities: []FilledEntity{{EntityID: "ent-a"}},
						},
					},
				},
			},
		},
	}

	clone := orig.Clone()

	clone.InitialFilledEntities[0].Values[0].UserText = "changed"
	clone.Rounds[0].ExtractorStep.TextVariations[0].LabeledEntities[0].Text = "changed"
	clone.Rounds[0].ScorerSteps[0].LogicResult.Error = "changed"
	clone.Rounds[0].ScorerSteps[0].Input.FilledEntities = []FilledEntity{{EntityID: "ent-b"}}

	if orig.InitialFilledEntities[0].Values[0].UserText != "x" {
		t.Error("clone shares initial filled entities")
	}
	if orig.Rounds[0].ExtractorStep.TextVariations[0].LabeledEntities[0].Text != "x" {
		t.Error("clone shares labeled entities")
	}
	if orig.Rounds[0].ScorerSteps[0].LogicResult.Error != "" {
		t.Error("clone shares logic results")
	}
	if len(orig.Rounds[0].ScorerSteps[0].Input.FilledEntities) != 0 {
		t.Error("clone shares scorer inputs")
	}
}
