package model

// EntityType classifies how an entity's values are produced.
type EntityType string

const (
	// EntityTypeCustom entities are labeled by the trained extractor.
	EntityTypeCustom EntityType = "custom"
	// EntityTypePretrained entities come from a builtin recognizer.
	EntityTypePretrained EntityType = "pretrained"
	// EntityTypeEnum entities hold exactly one value from a closed set.
	EntityTypeEnum EntityType = "enum"
	// EntityTypeProgrammatic entities are only set from callback code.
	EntityTypeProgrammatic EntityType = "programmatic"
)

// EnumValue is one allowed value of an enum entity.
type EnumValue struct {
	ID    string `yaml:"id"    json:"enumValueId"`
	Value string `yaml:"value" json:"enumValue"`
}

// Entity is one entity definition from the model.
type Entity struct {
	ID           string     `yaml:"id"            json:"entityId"`
	Name         string     `yaml:"name"          json:"entityName"`
	Type         EntityType `yaml:"type"          json:"entityType"`
	IsMultivalue bool       `yaml:"multivalue"    json:"isMultivalue,omitempty"`
	IsNegatable  bool       `yaml:"negatable"     json:"isNegatable,omitempty"`

	// Negatable entities come in pairs. Each side references the other by
	// id; there is no name-based pairing convention.
	PositiveEntityID string `yaml:"positive_entity_id" json:"positiveId,omitempty"`
	NegativeEntityID string `yaml:"negative_entity_id" json:"negativeId,omitempty"`

	// ResolverType links a custom entity to a pretrained resolver.
	ResolverType string      `yaml:"resolver_type" json:"resolverType,omitempty"`
	EnumValues   []EnumValue `yaml:"enum_values"   json:"enumValues,omitempty"`
}

// EnumValueByID returns the enum value with the given id.
func (e *Entity) EnumValueByID(id string) (EnumValue, bool) {
	for _, ev := range e.EnumValues {
		if ev.ID == id {
			return ev, true
		}
	}
	return EnumValue{}, false
}

// MemoryValue is one accumulated value for an entity.
type MemoryValue struct {
	UserText    string `json:"userText"`
	DisplayText string `json:"displayText,omitempty"`
	// Resolution carries the raw resolver output, when present.
	Resolution  string `json:"resolution,omitempty"`
	BuiltinType string `json:"builtinType,omitempty"`
	// EnumValueID is set when the value was assigned from an enum.
	EnumValueID string `json:"enumValueId,omitempty"`
}

// Display returns the preferred display form of the value.
func (v MemoryValue) Display() string {
	if v.DisplayText != "" {
		return v.DisplayText
	}
	return v.UserText
}

// FilledEntity is the accumulated memory for one entity.
type FilledEntity struct {
	EntityID string        `json:"entityId"`
	Values   []MemoryValue `json:"values"`
}

// HasValue reports whether the entity holds at least one non-empty value.
func (f FilledEntity) HasValue() bool {
	for _, v := range f.Values {
		if v.UserText != "" || v.DisplayText != "" {
			return true
		}
	}
	return false
}

// ValueStrings returns the display form of every value, in order.
func (f FilledEntity) ValueStrings() []string {
	out := make([]string, 0, len(f.Values))
	for _, v := range f.Values {
		out = append(out, v.Display())
	}
	return out
}

// FilledEntityMap indexes filled entities by entity id.
func FilledEntityMap(filled []FilledEntity) map[string]FilledEntity {
	m := make(map[string]FilledEntity, len(filled))
	for _, f := range filled {
		m[f.EntityID] = f
	}
	return m
}

// EntityByID returns the entity definition with the given id.
func EntityByID(entities []Entity, id string) (Entity, bool) {
	for _, e := range entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// EntityByName returns the entity definition with the given name.
func EntityByName(entities []Entity, name string) (Entity, bool) {
	for _, e := range entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}
