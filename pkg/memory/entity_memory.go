package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dialogforge/dialogforge/pkg/model"
)

// EntityMemory is the per-conversation accumulated entity state. The
// canonical map is keyed by entity id; a derived name index is rebuilt
// whenever definitions change, so name and id lookups always resolve to
// the same record.
//
// The map is lazily loaded from the backing store on first access and
// every mutation persists the whole map synchronously.
type EntityMemory struct {
	store Store
	key   string

	mu        sync.Mutex
	loaded    bool
	filled    map[string]model.FilledEntity
	entities  map[string]model.Entity
	nameIndex map[string]string
}

// DumpEntry is one audit row produced by Dump.
type DumpEntry struct {
	EntityID    string   `json:"entityId"`
	EntityName  string   `json:"entityName"`
	Values      []string `json:"values"`
	BuiltinType string   `json:"builtinType,omitempty"`
}

// NewEntityMemory creates entity memory persisted under the given key.
func NewEntityMemory(store Store, key string, entities []model.Entity) *EntityMemory {
	m := &EntityMemory{
		store:  store,
		key:    key,
		filled: make(map[string]model.FilledEntity),
	}
	m.rebuildIndexLocked(entities)
	return m
}

// SetDefinitions replaces the entity definitions and rebuilds the name
// index.
func (m *EntityMemory) SetDefinitions(entities []model.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildIndexLocked(entities)
}

func (m *EntityMemory) rebuildIndexLocked(entities []model.Entity) {
	m.entities = make(map[string]model.Entity, len(entities))
	m.nameIndex = make(map[string]string, len(entities))
	for _, e := range entities {
		m.entities[e.ID] = e
		m.nameIndex[e.Name] = e.ID
	}
}

// IDForName resolves an entity name to its id.
func (m *EntityMemory) IDForName(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.nameIndex[name]
	return id, ok
}

func (m *EntityMemory) loadLocked(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	raw, ok, err := m.store.Get(ctx, m.key)
	if err != nil {
		return fmt.Errorf("load entity memory %q: %w", m.key, err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.filled); err != nil {
			return fmt.Errorf("decode entity memory %q: %w", m.key, err)
		}
	}
	m.loaded = true
	return nil
}

func (m *EntityMemory) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(m.filled)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.key, string(raw)); err != nil {
		return fmt.Errorf("persist entity memory %q: %w", m.key, err)
	}
	return nil
}

// Remember appends or replaces a value for the entity. For a negative-side
// entity the value is instead forgotten from its positive pair.
func (m *EntityMemory) Remember(ctx context.Context, entityID string, value model.MemoryValue, multivalue bool) error {
	return m.RememberMany(ctx, entityID, []model.MemoryValue{value}, multivalue)
}

// RememberMany is Remember with a batch of values.
func (m *EntityMemory) RememberMany(ctx context.Context, entityID string, values []model.MemoryValue, multivalue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return err
	}

	if e, ok := m.entities[entityID]; ok && e.PositiveEntityID != "" {
		for _, v := range values {
			m.forgetLocked(e.PositiveEntityID, v.UserText, multivalue)
		}
		return m.persistLocked(ctx)
	}

	f := m.filled[entityID]
	f.EntityID = entityID
	if multivalue {
		f.Values = append(f.Values, values...)
	} else {
		f.Values = append([]model.MemoryValue(nil), values...)
	}
	m.filled[entityID] = f
	return m.persistLocked(ctx)
}

// Forget removes a value, or the whole entry when value is empty.
func (m *EntityMemory) Forget(ctx context.Context, entityID, value string, multivalue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	m.forgetLocked(entityID, value, multivalue)
	return m.persistLocked(ctx)
}

func (m *EntityMemory) forgetLocked(entityID, value string, multivalue bool) {
	if value == "" || !multivalue {
		delete(m.filled, entityID)
		return
	}
	f, ok := m.filled[entityID]
	if !ok {
		return
	}
	// Filter into a fresh slice: the stored values may alias a slice the
	// caller handed to RestoreFromDelta and still holds.
	kept := make([]model.MemoryValue, 0, len(f.Values))
	for _, v := range f.Values {
		if v.UserText != value {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(m.filled, entityID)
		return
	}
	f.Values = kept
	m.filled[entityID] = f
}

// Clear resets the map, keeping entries whose id is in preserveIDs.
func (m *EntityMemory) Clear(ctx context.Context, preserveIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	preserved := make(map[string]model.FilledEntity)
	for _, id := range preserveIDs {
		if f, ok := m.filled[id]; ok {
			preserved[id] = f
		}
	}
	m.filled = preserved
	return m.persistLocked(ctx)
}

// RestoreFromMap bulk-replaces the whole map.
func (m *EntityMemory) RestoreFromMap(ctx context.Context, filled []model.FilledEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true
	m.filled = make(map[string]model.FilledEntity, len(filled))
	for _, f := range filled {
		m.filled[f.EntityID] = f
	}
	return m.persistLocked(ctx)
}

// RestoreFromDelta applies a captured delta: each listed entity replaces
// its entry, and an entity with no values is removed.
func (m *EntityMemory) RestoreFromDelta(ctx context.Context, delta []model.FilledEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	for _, f := range delta {
		if len(f.Values) == 0 {
			delete(m.filled, f.EntityID)
			continue
		}
		m.filled[f.EntityID] = f
	}
	return m.persistLocked(ctx)
}

// FilledEntities returns a snapshot of all entries, ordered by entity id.
func (m *EntityMemory) FilledEntities(ctx context.Context) ([]model.FilledEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	return m.snapshotLocked(), nil
}

func (m *EntityMemory) snapshotLocked() []model.FilledEntity {
	out := make([]model.FilledEntity, 0, len(m.filled))
	for _, f := range m.filled {
		out = append(out, model.FilledEntity{
			EntityID: f.EntityID,
			Values:   append([]model.MemoryValue(nil), f.Values...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Value returns the display value for an entity name, multivalue entries
// joined with ", ".
func (m *EntityMemory) Value(ctx context.Context, name string) (string, error) {
	vals, err := m.Values(ctx, name)
	if err != nil {
		return "", err
	}
	return joinValues(vals), nil
}

// Values returns all display values for an entity name.
func (m *EntityMemory) Values(ctx context.Context, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	id, ok := m.nameIndex[name]
	if !ok {
		return nil, nil
	}
	f, ok := m.filled[id]
	if !ok {
		return nil, nil
	}
	return f.ValueStrings(), nil
}

// ValueMap returns name -> joined display value for all entities with
// values, used for template substitution.
func (m *EntityMemory) ValueMap(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m.filled))
	for id, f := range m.filled {
		e, ok := m.entities[id]
		if !ok {
			continue
		}
		if f.HasValue() {
			out[e.Name] = joinValues(f.ValueStrings())
		}
	}
	return out, nil
}

// Dump produces an immutable audit snapshot for display and diffing.
func (m *EntityMemory) Dump(ctx context.Context) ([]DumpEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]DumpEntry, 0, len(m.filled))
	for id, f := range m.filled {
		entry := DumpEntry{EntityID: id, Values: f.ValueStrings()}
		if e, ok := m.entities[id]; ok {
			entry.EntityName = e.Name
		}
		if len(f.Values) > 0 {
			entry.BuiltinType = f.Values[0].BuiltinType
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Entity returns the definition backing an entity id, if known.
func (m *EntityMemory) Entity(id string) (model.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	return e, ok
}

func joinValues(vals []string) string {
	switch len(vals) {
	case 0:
		return ""
	case 1:
		return vals[0]
	}
	out := vals[0]
	for _, v := range vals[1:] {
		out += ", " + v
	}
	return out
}
