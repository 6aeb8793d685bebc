package ftm

import "sort"

// Context carries ingest metadata that is not part of the entity properties.
type Context struct {
	RoleID    []string `json:"role_id,omitempty"`
	ProfileID []string `json:"profile_id,omitempty"`
	Mutable   *bool    `json:"mutable,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Origin    []string `json:"origin,omitempty"`
}

// Entity is one input record: an id, a schema name, and ordered string
// values per property.
type Entity struct {
	ID         string              `json:"id"`
	Schema     string              `json:"schema"`
	Properties map[string][]string `json:"properties"`
	Context
}

// Values returns the values of one property.
func (e *Entity) Values(prop string) []string {
	return e.Properties[prop]
}

// First returns the first value of a property, or "".
func (e *Entity) First(prop string) string {
	values := e.Properties[prop]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Has reports whether the entity carries at least one value for a property.
func (e *Entity) Has(prop string) bool {
	return len(e.Properties[prop]) > 0
}

// TypedValues collects all values of properties with the given type,
// deduplicated, in sorted property-name order.
func (e *Entity) TypedValues(schema *Schema, t PropertyType) []string {
	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		prop := schema.Property(name)
		if prop == nil || prop.Type != t {
			continue
		}
		for _, value := range e.Properties[name] {
			if value == "" || seen[value] {
				continue
			}
			seen[value] = true
			out = append(out, value)
		}
	}
	return out
}

// Names returns all name-typed values of the entity.
func (e *Entity) Names(schema *Schema) []string {
	return e.TypedValues(schema, TypeName)
}

// Caption returns the first value of the schema's caption properties.
func (e *Entity) Caption(schema *Schema) string {
	for _, prop := range schema.CaptionNames() {
		if value := e.First(prop); value != "" {
			return value
		}
	}
	return ""
}

// NumValues is the total count of leaf property values.
func (e *Entity) NumValues() int {
	total := 0
	for _, values := range e.Properties {
		total += len(values)
	}
	return total
}
