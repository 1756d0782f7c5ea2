package callback

import (
	"testing"

	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
)

func managerEntities() []model.Entity {
	return []model.Entity{
		{ID: "ent-topping", Name: "toppings", Type: model.EntityTypeCustom, IsMultivalue: true},
		{ID: "ent-name", Name: "user-name", Type: model.EntityTypeCustom},
		{ID: "ent-status", Name: "order-status", Type: model.EntityTypeEnum, EnumValues: []model.EnumValue{
			{ID: "ev-open", Value: "open"},
			{ID: "ev-closed", Value: "closed"},
		}},
	}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	mem := memory.NewEntityMemory(memory.NewMapStore(), "memory:test", managerEntities())
	return NewManager(mem)
}

func TestRememberEntityByName(t *testing.T) {
	m := newManager(t)
	ctx := t.Context()

	if err := m.RememberEntity(ctx, "user-name", "Alice"); err != nil {
		t.Fatalf("RememberEntity: %v", err)
	}

	v, err := m.Value(ctx, "user-name")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "Alice" {
		t.Errorf("value = %q, want Alice", v)
	}
}

func TestRememberEntityUnknownName(t *testing.T) {
	m := newManager(t)
	if err := m.RememberEntity(t.Context(), "not-an-entity", "x"); err == nil {
		t.Error("remembering an undefined entity should fail")
	}
}

func TestRememberEntitiesMultivalueCheck(t *testing.T) {
	m := newManager(t)
	ctx := t.Context()

	if err := m.RememberEntities(ctx, "user-name", []string{"a", "b"}); err == nil {
		t.Error("batch write to a single-value entity should fail")
	}
	if err := m.RememberEntities(ctx, "toppings", []string{"a", "b"}); err != nil {
		t.Errorf("batch write to a multivalue entity: %v", err)
	}
}

func TestRememberEnumValidatesValue(t *testing.T) {
	m := newManager(t)
	ctx := t.Context()

	if err := m.RememberEntity(ctx, "order-status", "pending"); err == nil {
		t.Error("value outside the enum set should fail")
	}

	if err := m.RememberEntity(ctx, "order-status", "open"); err != nil {
		t.Fatalf("RememberEntity: %v", err)
	}

	filled, _ := m.FilledEntities(ctx)
	byID := model.FilledEntityMap(filled)
	if got := byID["ent-status"].Values[0].EnumValueID; got != "ev-open" {
		t.Errorf("enum value id = %q, want ev-open", got)
	}
}

func TestDeltaTracksTouchedEntities(t *testing.T) {
	m := newManager(t)
	ctx := t.Context()

	// Pre-existing value written outside this invocation.
	m.mem.Remember(ctx, "ent-name", model.MemoryValue{UserText: "Alice"}, false)

	if err := m.RememberEntity(ctx, "toppings", "cheese"); err != nil {
		t.Fatalf("RememberEntity: %v", err)
	}
	if err := m.ForgetEntity(ctx, "order-status", ""); err != nil {
		t.Fatalf("ForgetEntity: %v", err)
	}

	delta, err := m.Delta(ctx)
	if err != nil {
		t.Fatalf("Delta: %v", err)
	}

	if len(delta) != 2 {
		t.Fatalf("delta = %+v, want 2 entries", delta)
	}
	// Sorted by entity id: ent-status before ent-topping.
	if delta[0].EntityID != "ent-status" || len(delta[0].Values) != 0 {
		t.Errorf("cleared entity entry = %+v, want empty values", delta[0])
	}
	if delta[1].EntityID != "ent-topping" || len(delta[1].Values) != 1 {
		t.Errorf("written entity entry = %+v", delta[1])
	}
}
