package callback

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
)

// ReadOnly is the memory view handed to render functions.
type ReadOnly interface {
	Value(ctx context.Context, entityName string) (string, error)
	Values(ctx context.Context, entityName string) ([]string, error)
	FilledEntities(ctx context.Context) ([]model.FilledEntity, error)
}

// Manager is the mutable memory view handed to logic functions. It tracks
// which entities the callback touched so the interpreter can capture the
// resulting delta as a LogicResult.
type Manager struct {
	mem *memory.EntityMemory

	mu      sync.Mutex
	changed map[string]struct{}
}

var _ ReadOnly = (*Manager)(nil)

// NewManager wraps entity memory for one callback invocation.
func NewManager(mem *memory.EntityMemory) *Manager {
	return &Manager{mem: mem, changed: make(map[string]struct{})}
}

// RememberEntity stores one value for the named entity.
func (m *Manager) RememberEntity(ctx context.Context, entityName, value string) error {
	return m.RememberEntities(ctx, entityName, []string{value})
}

// RememberEntities stores a batch of values for the named entity.
func (m *Manager) RememberEntities(ctx context.Context, entityName string, values []string) error {
	id, ok := m.mem.IDForName(entityName)
	if !ok {
		return fmt.Errorf("entity %q does not exist", entityName)
	}
	e, _ := m.mem.Entity(id)
	if !e.IsMultivalue && len(values) > 1 {
		return fmt.Errorf("entity %q is not multivalue", entityName)
	}

	mvs := make([]model.MemoryValue, 0, len(values))
	for _, v := range values {
		mv := model.MemoryValue{UserText: v}
		if e.Type == model.EntityTypeEnum {
			found := false
			for _, ev := range e.EnumValues {
				if ev.Value == v {
					mv.EnumValueID = ev.ID
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("value %q is not part of enum entity %q", v, entityName)
			}
		}
		mvs = append(mvs, mv)
	}

	if err := m.mem.RememberMany(ctx, id, mvs, e.IsMultivalue); err != nil {
		return err
	}
	m.markChanged(id)
	if e.PositiveEntityID != "" {
		m.markChanged(e.PositiveEntityID)
	}
	return nil
}

// ForgetEntity removes one value (or everything, when value is empty) from
// the named entity.
func (m *Manager) ForgetEntity(ctx context.Context, entityName, value string) error {
	id, ok := m.mem.IDForName(entityName)
	if !ok {
		return fmt.Errorf("entity %q does not exist", entityName)
	}
	e, _ := m.mem.Entity(id)
	if err := m.mem.Forget(ctx, id, value, e.IsMultivalue); err != nil {
		return err
	}
	m.markChanged(id)
	return nil
}

func (m *Manager) markChanged(id string) {
	m.mu.Lock()
	m.changed[id] = struct{}{}
	m.mu.Unlock()
}

// Value returns the display value of the named entity.
func (m *Manager) Value(ctx context.Context, entityName string) (string, error) {
	return m.mem.Value(ctx, entityName)
}

// Values returns all display values of the named entity.
func (m *Manager) Values(ctx context.Context, entityName string) ([]string, error) {
	return m.mem.Values(ctx, entityName)
}

// FilledEntities returns a snapshot of the whole memory map.
func (m *Manager) FilledEntities(ctx context.Context) ([]model.FilledEntity, error) {
	return m.mem.FilledEntities(ctx)
}

// Delta returns the post-invocation state of every touched entity. An
// entity the callback cleared appears with no values, so applying the
// delta elsewhere reproduces the removal.
func (m *Manager) Delta(ctx context.Context) ([]model.FilledEntity, error) {
	snapshot, err := m.mem.FilledEntities(ctx)
	if err != nil {
		return nil, err
	}
	byID := model.FilledEntityMap(snapshot)

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FilledEntity, 0, len(m.changed))
	for id := range m.changed {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		} else {
			out = append(out, model.FilledEntity{EntityID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}
