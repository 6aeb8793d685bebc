// Package mapping synthesizes the per-bucket index mappings from the schema
// model. Everything here is pure and deterministic: the same model always
// yields the same mapping.
package mapping

import (
	"sort"

	"github.com/openaleph/openaleph-search/internal/ftm"
)

// DefaultAnalyzer is the analyzer bound to the full-text field.
const DefaultAnalyzer = "default"

// DateFormat accepts progressively truncated dates down to a bare year.
const DateFormat = "yyyy-MM-dd'T'HH:mm:ss||yyyy-MM-dd'T'HH:mm||yyyy-MM-dd||yyyy-MM||yyyy"

// Field names of the denormalized document.
const (
	FieldDataset      = "dataset"
	FieldCaption      = "caption"
	FieldName         = "name"
	FieldSchema       = "schema"
	FieldSchemata     = "schemata"
	FieldNames        = "names"
	FieldNameKeys     = "name_keys"
	FieldNameParts    = "name_parts"
	FieldNameSymbols  = "name_symbols"
	FieldNamePhonetic = "name_phonetic"
	FieldProperties   = "properties"
	FieldNumeric      = "numeric"
	FieldGeoPoint     = "geo_point"
	FieldText         = "text"
	FieldContent      = "content"
	FieldTranslation  = "translation"
	FieldNumValues    = "num_values"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"
	FieldRole         = "role_id"
	FieldProfile      = "profile_id"
	FieldOrigin       = "origin"
	FieldTags         = "tags"
	FieldIndexVersion = "index_version"
	FieldIndexedAt    = "indexed_at"
)

// Map is a JSON-shaped mapping fragment.
type Map = map[string]interface{}

// Field type constructors. Each call returns a fresh map so callers can
// attach copy_to targets without sharing state.
func Keyword() Map  { return Map{"type": "keyword"} }
func Date() Map     { return Map{"type": "date"} }
func Numeric() Map  { return Map{"type": "double"} }
func GeoPoint() Map { return Map{"type": "geo_point"} }
func Integer() Map  { return Map{"type": "integer"} }
func Float() Map    { return Map{"type": "float"} }

func PartialDate() Map {
	return Map{"type": "date", "format": DateFormat}
}

func KeywordCopy(targets ...string) Map {
	m := Keyword()
	m["copy_to"] = targets
	return m
}

func Text() Map {
	return Map{
		"type":            "text",
		"analyzer":        DefaultAnalyzer,
		"search_analyzer": DefaultAnalyzer,
		"term_vector":     "with_positions_offsets",
		"index_phrases":   true,
	}
}

// NotIndexed marks purely informational metadata fields.
func NotIndexed() Map {
	return Map{"type": "keyword", "index": false}
}

// typeMapping returns the base field config for a property type. Group and
// plain string types become keywords; heavy text types are stored but not
// directly indexed (they reach the index through copy_to fan-out).
func typeMapping(t ftm.PropertyType) Map {
	switch t {
	case ftm.TypeText, ftm.TypeHTML, ftm.TypeJSON:
		return Map{"type": "text", "index": false}
	case ftm.TypeDate:
		return PartialDate()
	default:
		return Keyword()
	}
}

// IndexFieldType reports the backend field type for a property type.
func IndexFieldType(t ftm.PropertyType) string {
	if t.IsNumeric() {
		return "double"
	}
	m := typeMapping(t)
	s, _ := m["type"].(string)
	return s
}

// PropertyField returns the document field path of a property.
func PropertyField(prop string) string {
	return FieldProperties + "." + prop
}

// SourceExcludes lists fields computed at index time which are queryable
// but not returned in _source unless explicitly requested.
func SourceExcludes() []string {
	excludes := append(ftm.GroupFields(),
		FieldText,
		FieldNames,
		FieldNameKeys,
		FieldNameParts,
		FieldNameSymbols,
		FieldNamePhonetic,
	)
	sort.Strings(excludes)
	return excludes
}

// GroupMapping maps every type group field. All groups are keywords except
// dates, which accept partial date values.
func GroupMapping() Map {
	m := Map{}
	for _, group := range ftm.GroupFields() {
		if group == ftm.TypeDate.Group() {
			m[group] = PartialDate()
		} else {
			m[group] = Keyword()
		}
	}
	return m
}

// NumericMapping is the union of all numeric- and date-typed properties
// across the model, each cast to double.
func NumericMapping(model *ftm.Model) Map {
	m := Map{}
	for _, schema := range model.Schemata() {
		for name, prop := range schema.Properties() {
			if prop.Type.IsNumeric() {
				m[name] = Numeric()
			}
		}
	}
	return m
}

// BaseProperties is the property block shared by every bucket.
func BaseProperties(storeContent bool) Map {
	props := Map{
		FieldDataset:  Keyword(),
		FieldSchema:   Keyword(),
		FieldSchemata: Keyword(),
		FieldCaption:  KeywordCopy(FieldName),
		// The name field collects caption values for ranked name search;
		// names carries every name with a low length penalty.
		FieldName: Map{
			"type":            "text",
			"analyzer":        DefaultAnalyzer,
			"search_analyzer": DefaultAnalyzer,
			"similarity":      "weak_length_norm",
		},
		FieldNames: Map{
			"type":       "keyword",
			"copy_to":    []string{FieldText},
			"normalizer": "name-kw-normalizer",
			"similarity": "weak_length_norm",
		},
		FieldNameKeys:     Keyword(),
		FieldNameParts:    KeywordCopy(FieldText),
		FieldNameSymbols:  Keyword(),
		FieldNamePhonetic: Keyword(),
		FieldGeoPoint:     GeoPoint(),
		FieldText:         Text(),
		FieldContent: Map{
			"type":            "text",
			"analyzer":        "strip-html",
			"search_analyzer": "strip-html",
			"term_vector":     "with_positions_offsets",
			"store":           storeContent,
		},
		FieldTranslation: Map{
			"type":            "text",
			"analyzer":        DefaultAnalyzer,
			"search_analyzer": DefaultAnalyzer,
		},
		FieldCreatedAt:    Date(),
		FieldUpdatedAt:    Date(),
		FieldRole:         Keyword(),
		FieldProfile:      Keyword(),
		FieldOrigin:       Keyword(),
		"tags":            Keyword(),
		FieldNumValues:    Integer(),
		FieldIndexVersion: NotIndexed(),
		FieldIndexedAt:    Map{"type": "date", "index": false},
	}
	for group, config := range GroupMapping() {
		props[group] = config
	}
	return props
}

// SchemaMapping builds the properties.<name> block for a set of schemata.
// Each property fans out into text, its type group, and (for caption
// properties) the name field. When schemata disagree on a property's type,
// the copy_to union is taken and the type resolves to keyword.
func SchemaMapping(schemata []*ftm.Schema) Map {
	type pending struct {
		types   map[string]bool
		targets map[string]bool
		prop    *ftm.Property
	}
	byName := map[string]*pending{}
	for _, schema := range schemata {
		captions := map[string]bool{}
		for _, name := range schema.CaptionNames() {
			captions[name] = true
		}
		for name, prop := range schema.Properties() {
			p := byName[name]
			if p == nil {
				p = &pending{types: map[string]bool{}, targets: map[string]bool{}, prop: prop}
				byName[name] = p
			}
			config := typeMapping(prop.Type)
			fieldType, _ := config["type"].(string)
			p.types[fieldType] = true
			p.targets[FieldText] = true
			if group := prop.Group(); group != "" {
				p.targets[group] = true
			}
			if captions[name] {
				p.targets[FieldName] = true
			}
		}
	}

	m := Map{}
	for name, p := range byName {
		var config Map
		if len(p.types) > 1 {
			config = Keyword()
		} else {
			config = typeMapping(p.prop.Type)
		}
		targets := make([]string, 0, len(p.targets))
		for target := range p.targets {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		config["copy_to"] = targets
		m[name] = config
	}
	return m
}

// ObjectType wraps a property block as a non-dynamic object field.
func ObjectType(properties Map) Map {
	return Map{"type": "object", "properties": properties}
}

// MakeMapping assembles the complete mapping for one bucket's property
// block. Content is only stored in the pages bucket.
func MakeMapping(model *ftm.Model, schemaProps Map, storeContent bool) Map {
	props := BaseProperties(storeContent)
	props[FieldNumeric] = ObjectType(NumericMapping(model))
	props[FieldProperties] = ObjectType(schemaProps)
	return Map{
		"date_detection": false,
		"dynamic":        false,
		"_source":        Map{"excludes": SourceExcludes()},
		"properties":     props,
	}
}
