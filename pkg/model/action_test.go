package model

import "testing"

func filledWith(id string, texts ...string) FilledEntity {
	f := FilledEntity{EntityID: id}
	for _, t := range texts {
		f.Values = append(f.Values, MemoryValue{UserText: t})
	}
	return f
}

func TestIsActionAvailableRequiredEntities(t *testing.T) {
	a := Action{
		ID:               "act-1",
		Type:             ActionTypeText,
		RequiredEntities: []string{"ent-a", "ent-b"},
	}

	if IsActionAvailable(a, []FilledEntity{filledWith("ent-a", "x")}) {
		t.Error("action should be unavailable with a required entity missing")
	}
	if !IsActionAvailable(a, []FilledEntity{filledWith("ent-a", "x"), filledWith("ent-b", "y")}) {
		t.Error("action should be available with all required entities filled")
	}
}

func TestIsActionAvailableNegativeEntities(t *testing.T) {
	a := Action{
		ID:               "act-1",
		Type:             ActionTypeText,
		NegativeEntities: []string{"ent-block"},
	}

	if !IsActionAvailable(a, nil) {
		t.Error("action should be available when blocking entity is empty")
	}
	if IsActionAvailable(a, []FilledEntity{filledWith("ent-block", "x")}) {
		t.Error("action should be unavailable when blocking entity has a value")
	}
}

// Adding values to entities that are not named by the action never
// changes availability.
func TestIsActionAvailableUnrelatedEntitiesIrrelevant(t *testing.T) {
	a := Action{
		ID:               "act-1",
		Type:             ActionTypeText,
		RequiredEntities: []string{"ent-a"},
	}

	base := []FilledEntity{filledWith("ent-a", "x")}
	if !IsActionAvailable(a, base) {
		t.Fatal("baseline should be available")
	}

	grown := append(base,
		filledWith("ent-other", "1"),
		filledWith("ent-more", "2", "3"),
	)
	if !IsActionAvailable(a, grown) {
		t.Error("filling unrelated entities must not flip availability")
	}
}

func TestEvalConditionEnumValue(t *testing.T) {
	filled := map[string]FilledEntity{
		"ent-color": {
			EntityID: "ent-color",
			Values:   []MemoryValue{{UserText: "red", EnumValueID: "ev-red"}},
		},
	}

	eq := Condition{EntityID: "ent-color", ValueID: "ev-red", Comparison: ComparisonEqual}
	if !EvalCondition(eq, filled) {
		t.Error("equal enum condition should hold")
	}

	ne := Condition{EntityID: "ent-color", ValueID: "ev-red", Comparison: ComparisonNotEqual}
	if EvalCondition(ne, filled) {
		t.Error("not-equal enum condition should fail for matching value")
	}

	missing := Condition{EntityID: "ent-absent", ValueID: "ev-red", Comparison: ComparisonEqual}
	if EvalCondition(missing, filled) {
		t.Error("condition on an empty entity never holds")
	}
}

func TestEvalConditionNumeric(t *testing.T) {
	filled := map[string]FilledEntity{
		"ent-count": {EntityID: "ent-count", Values: []MemoryValue{{UserText: "5"}}},
		"ent-word":  {EntityID: "ent-word", Values: []MemoryValue{{UserText: "five"}}},
	}

	val := func(f float64) *float64 { return &f }

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt true", Condition{EntityID: "ent-count", Value: val(3), Comparison: ComparisonGreaterThan}, true},
		{"gt false", Condition{EntityID: "ent-count", Value: val(5), Comparison: ComparisonGreaterThan}, false},
		{"ge boundary", Condition{EntityID: "ent-count", Value: val(5), Comparison: ComparisonGreaterOrEqual}, true},
		{"lt false", Condition{EntityID: "ent-count", Value: val(5), Comparison: ComparisonLessThan}, false},
		{"le boundary", Condition{EntityID: "ent-count", Value: val(5), Comparison: ComparisonLessOrEqual}, true},
		{"eq", Condition{EntityID: "ent-count", Value: val(5), Comparison: ComparisonEqual}, true},
		{"ne", Condition{EntityID: "ent-count", Value: val(5), Comparison: ComparisonNotEqual}, false},
		{"non-numeric value", Condition{EntityID: "ent-word", Value: val(5), Comparison: ComparisonEqual}, false},
	}

	for _, tc := range cases {
		if got := EvalCondition(tc.cond, filled); got != tc.want {
			t.Errorf("%s: EvalCondition = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestActionByID(t *testing.T) {
	actions := []Action{{ID: "a1"}, {ID: "a2"}}

	if _, ok := ActionByID(actions, "a2"); !ok {
		t.Error("existing action not found")
	}
	if _, ok := ActionByID(actions, "a3"); ok {
		t.Error("missing action reported found")
	}
}
