package ftm

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed model.yaml
var defaultModelData []byte

var (
	defaultModel     *Model
	defaultModelOnce sync.Once
)

// Property is a typed attribute declared by a schema.
type Property struct {
	Name   string
	Label  string
	Type   PropertyType
	Hidden bool
}

// Group returns the shared group field collecting this property's values,
// or "" when its type has none.
func (p *Property) Group() string {
	return p.Type.Group()
}

// Schema is a node in the entity type hierarchy.
type Schema struct {
	Name      string
	Label     string
	Abstract  bool
	Matchable bool

	extends     []*Schema
	ancestors   map[string]bool
	properties  map[string]*Property
	caption     []string
	descendants []string
	model       *Model
}

// Model is a resolved set of schemata.
type Model struct {
	schemata map[string]*Schema
}

type propertySpec struct {
	Label  string       `yaml:"label"`
	Type   PropertyType `yaml:"type"`
	Hidden bool         `yaml:"hidden"`
}

type schemaSpec struct {
	Label      string                  `yaml:"label"`
	Abstract   bool                    `yaml:"abstract"`
	Matchable  bool                    `yaml:"matchable"`
	Extends    []string                `yaml:"extends"`
	Caption    []string                `yaml:"caption"`
	Properties map[string]propertySpec `yaml:"properties"`
}

// Default returns the embedded model, parsed once.
func Default() *Model {
	defaultModelOnce.Do(func() {
		model, err := NewModel(defaultModelData)
		if err != nil {
			panic(fmt.Sprintf("invalid embedded schema model: %v", err))
		}
		defaultModel = model
	})
	return defaultModel
}

// NewModel parses and resolves a schema model from YAML.
func NewModel(data []byte) (*Model, error) {
	specs := map[string]schemaSpec{}
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse schema model: %w", err)
	}

	model := &Model{schemata: make(map[string]*Schema, len(specs))}
	for name, spec := range specs {
		schema := &Schema{
			Name:      name,
			Label:     spec.Label,
			Abstract:  spec.Abstract,
			Matchable: spec.Matchable,
			caption:   spec.Caption,
			model:     model,
		}
		schema.properties = make(map[string]*Property, len(spec.Properties))
		for propName, propSpec := range spec.Properties {
			propType := propSpec.Type
			if propType == "" {
				propType = TypeString
			}
			if _, ok := Groups[propType]; !ok {
				switch propType {
				case TypeString, TypeText, TypeHTML, TypeJSON, TypeNumber:
				default:
					return nil, fmt.Errorf("schema %s property %s has unknown type %q", name, propName, propType)
				}
			}
			schema.properties[propName] = &Property{
				Name:   propName,
				Label:  propSpec.Label,
				Type:   propType,
				Hidden: propSpec.Hidden,
			}
		}
		model.schemata[name] = schema
	}

	for name, spec := range specs {
		schema := model.schemata[name]
		for _, parent := range spec.Extends {
			parentSchema, ok := model.schemata[parent]
			if !ok {
				return nil, fmt.Errorf("schema %s extends unknown schema %q", name, parent)
			}
			schema.extends = append(schema.extends, parentSchema)
		}
	}

	for _, schema := range model.schemata {
		if err := model.resolve(schema, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	for _, schema := range model.schemata {
		for ancestor := range schema.ancestors {
			if ancestor == schema.Name {
				continue
			}
			parent := model.schemata[ancestor]
			parent.descendants = append(parent.descendants, schema.Name)
		}
	}
	for _, schema := range model.schemata {
		sort.Strings(schema.descendants)
	}
	return model, nil
}

// resolve fills ancestors, inherited properties and caption for one schema.
func (m *Model) resolve(schema *Schema, visiting map[string]bool) error {
	if schema.ancestors != nil {
		return nil
	}
	if visiting[schema.Name] {
		return fmt.Errorf("schema inheritance cycle at %s", schema.Name)
	}
	visiting[schema.Name] = true
	defer delete(visiting, schema.Name)

	ancestors := map[string]bool{schema.Name: true}
	resolved := map[string]*Property{}
	for _, parent := range schema.extends {
		if err := m.resolve(parent, visiting); err != nil {
			return err
		}
		for name := range parent.ancestors {
			ancestors[name] = true
		}
		// First-listed parent wins on property name clashes between parents.
		for name, prop := range parent.properties {
			if _, ok := resolved[name]; !ok {
				resolved[name] = prop
			}
		}
	}
	// Own declarations override inherited ones.
	for name, prop := range schema.properties {
		resolved[name] = prop
	}
	if len(schema.caption) == 0 {
		for _, parent := range schema.extends {
			if len(parent.caption) > 0 {
				schema.caption = parent.caption
				break
			}
		}
	}
	schema.ancestors = ancestors
	schema.properties = resolved
	return nil
}

// Get returns a schema by name, or nil when unknown.
func (m *Model) Get(name string) *Schema {
	return m.schemata[name]
}

// Schemata returns all schemata sorted by name.
func (m *Model) Schemata() []*Schema {
	out := make([]*Schema, 0, len(m.schemata))
	for _, schema := range m.schemata {
		out = append(out, schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Schema) String() string {
	return s.Name
}

// IsA reports whether the schema is or descends from the named schema.
func (s *Schema) IsA(name string) bool {
	return s.ancestors[name]
}

// Names returns the schema name followed by its ancestors, sorted.
func (s *Schema) Names() []string {
	rest := make([]string, 0, len(s.ancestors)-1)
	for name := range s.ancestors {
		if name != s.Name {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append([]string{s.Name}, rest...)
}

// Properties returns the resolved property set including inherited ones.
// The returned map is shared and must not be mutated.
func (s *Schema) Properties() map[string]*Property {
	return s.properties
}

// Property returns a resolved property by name, or nil.
func (s *Schema) Property(name string) *Property {
	return s.properties[name]
}

// CaptionNames returns the property names whose values stand in as the
// entity's display name, in priority order.
func (s *Schema) CaptionNames() []string {
	return s.caption
}

// Descendants returns all strict descendants, sorted by name.
func (s *Schema) Descendants() []*Schema {
	out := make([]*Schema, 0, len(s.descendants))
	for _, name := range s.descendants {
		out = append(out, s.model.schemata[name])
	}
	return out
}

// WithDescendants returns the schema and all its descendants.
func (s *Schema) WithDescendants() []*Schema {
	return append([]*Schema{s}, s.Descendants()...)
}

// MatchableSchemata returns every matchable schema reachable from this one
// through ancestors or descendants, sorted by name.
func (s *Schema) MatchableSchemata() []*Schema {
	seen := map[string]bool{}
	for name := range s.ancestors {
		seen[name] = true
	}
	for _, name := range s.descendants {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		if s.model.schemata[name].Matchable {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*Schema, 0, len(names))
	for _, name := range names {
		out = append(out, s.model.schemata[name])
	}
	return out
}

// MatchableNames returns the names of MatchableSchemata.
func (s *Schema) MatchableNames() []string {
	schemata := s.MatchableSchemata()
	out := make([]string, 0, len(schemata))
	for _, schema := range schemata {
		out = append(out, schema.Name)
	}
	return out
}
