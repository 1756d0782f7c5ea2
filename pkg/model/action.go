package model

import "strconv"

// ActionType identifies the variant of an action.
type ActionType string

const (
	ActionTypeText        ActionType = "text"
	ActionTypeCard        ActionType = "card"
	ActionTypeAPI         ActionType = "api"
	ActionTypeEndSession  ActionType = "end_session"
	ActionTypeSetEntity   ActionType = "set_entity"
	ActionTypeDispatch    ActionType = "dispatch"
	ActionTypeChangeModel ActionType = "change_model"
)

// Comparison operators for conditions.
const (
	ComparisonEqual          = "eq"
	ComparisonNotEqual       = "ne"
	ComparisonGreaterThan    = "gt"
	ComparisonGreaterOrEqual = "ge"
	ComparisonLessThan       = "lt"
	ComparisonLessOrEqual    = "le"
)

// Condition compares an entity's current value against an enum value or a
// number.
type Condition struct {
	EntityID   string   `yaml:"entity_id"  json:"entityId"`
	ValueID    string   `yaml:"value_id"   json:"valueId,omitempty"`
	Value      *float64 `yaml:"value"      json:"value,omitempty"`
	Comparison string   `yaml:"comparison" json:"condition"`
}

// TextPayload is the body of a text action. Entity references use
// {entityName} placeholders.
type TextPayload struct {
	Text string `yaml:"text" json:"text"`
}

// CardArgument binds one template parameter to an entity reference or
// literal text.
type CardArgument struct {
	Parameter string `yaml:"parameter" json:"parameter"`
	Value     string `yaml:"value"     json:"value"`
}

// CardPayload names a card template plus its argument bindings.
type CardPayload struct {
	Template  string         `yaml:"template"  json:"payload"`
	Arguments []CardArgument `yaml:"arguments" json:"arguments,omitempty"`
}

// APIPayload names a registered callback plus its argument bindings.
// A placeholder API has no backing callback yet.
type APIPayload struct {
	Name          string         `yaml:"name"           json:"payload"`
	LogicArgs     []CardArgument `yaml:"logic_args"     json:"logicArguments,omitempty"`
	RenderArgs    []CardArgument `yaml:"render_args"    json:"renderArguments,omitempty"`
	IsPlaceholder bool           `yaml:"is_placeholder" json:"isPlaceholder,omitempty"`
}

// SessionPayload is the parting message of an end-session action.
type SessionPayload struct {
	Text string `yaml:"text" json:"sessionText"`
}

// SetEntityPayload assigns an enum value to an enum entity.
type SetEntityPayload struct {
	EntityID    string `yaml:"entity_id"     json:"entityId"`
	EnumValueID string `yaml:"enum_value_id" json:"enumValueId"`
}

// ModelPayload targets another model for dispatch or change-model actions.
type ModelPayload struct {
	ModelID   string `yaml:"model_id"   json:"modelId"`
	ModelName string `yaml:"model_name" json:"modelName,omitempty"`
}

// Action is a tagged union over the closed set of action variants. Exactly
// one payload field matching Type is populated.
type Action struct {
	ID         string     `yaml:"id"          json:"actionId"`
	Type       ActionType `yaml:"type"        json:"actionType"`
	IsTerminal bool       `yaml:"terminal"    json:"isTerminal"`

	RequiredEntities   []string    `yaml:"required_entities"   json:"requiredEntities,omitempty"`
	NegativeEntities   []string    `yaml:"negative_entities"   json:"negativeEntities,omitempty"`
	RequiredConditions []Condition `yaml:"required_conditions" json:"requiredConditions,omitempty"`
	NegativeConditions []Condition `yaml:"negative_conditions" json:"negativeConditions,omitempty"`

	Text        *TextPayload      `yaml:"text_payload"         json:"textPayload,omitempty"`
	Card        *CardPayload      `yaml:"card_payload"         json:"cardPayload,omitempty"`
	API         *APIPayload       `yaml:"api_payload"          json:"apiPayload,omitempty"`
	Session     *SessionPayload   `yaml:"session_payload"      json:"sessionPayload,omitempty"`
	SetEntity   *SetEntityPayload `yaml:"set_entity_payload"   json:"setEntityPayload,omitempty"`
	Model       *ModelPayload     `yaml:"model_payload"        json:"modelPayload,omitempty"`
}

// ActionByID returns the action definition with the given id.
func ActionByID(actions []Action, id string) (Action, bool) {
	for _, a := range actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// EvalCondition evaluates one condition against the filled entities.
// An entity with no value never satisfies a condition.
func EvalCondition(c Condition, filled map[string]FilledEntity) bool {
	f, ok := filled[c.EntityID]
	if !ok || !f.HasValue() {
		return false
	}

	if c.ValueID != "" {
		match := f.Values[0].EnumValueID == c.ValueID
		if c.Comparison == ComparisonNotEqual {
			return !match
		}
		return match
	}

	if c.Value == nil {
		return false
	}
	n, err := strconv.ParseFloat(f.Values[0].UserText, 64)
	if err != nil {
		return false
	}
	switch c.Comparison {
	case ComparisonEqual:
		return n == *c.Value
	case ComparisonNotEqual:
		return n != *c.Value
	case ComparisonGreaterThan:
		return n > *c.Value
	case ComparisonGreaterOrEqual:
		return n >= *c.Value
	case ComparisonLessThan:
		return n < *c.Value
	case ComparisonLessOrEqual:
		return n <= *c.Value
	}
	return false
}

// IsActionAvailable reports whether the action may fire given the current
// filled entities. Availability is always recomputed, never cached: every
// required condition must hold, every negative condition must not, every
// required entity must have a value, and no negative entity may have one.
func IsActionAvailable(a Action, filled []FilledEntity) bool {
	byID := FilledEntityMap(filled)

	for _, c := range a.RequiredConditions {
		if !EvalCondition(c, byID) {
			return false
		}
	}
	for _, c := range a.NegativeConditions {
		if EvalCondition(c, byID) {
			return false
		}
	}
	for _, id := range a.RequiredEntities {
		f, ok := byID[id]
		if !ok || !f.HasValue() {
			return false
		}
	}
	for _, id := range a.NegativeEntities {
		if f, ok := byID[id]; ok && f.HasValue() {
			return false
		}
	}
	return true
}
