// Package transform denormalizes entities into backend documents.
package transform

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/indexer"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/mapping"
	"github.com/openaleph/openaleph-search/internal/names"
)

// IndexVersion is stamped on every document for provenance.
const IndexVersion = "0.1.0"

// TranslationMarker prefixes index text values holding machine-translated
// content, which is routed into a separate field.
const TranslationMarker = "__translation__ "

// Validation errors. Entities failing these are skipped, not fatal.
var (
	ErrAbstractSchema = errors.New("cannot index abstract schema")
	ErrUnknownSchema  = errors.New("unknown schema")
	ErrInvalidDataset = errors.New("invalid dataset")
)

var log = logger.New("transform")

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ValidDataset rejects empty dataset names and the literal "default",
// which the backend treats as a reserved routing value.
func ValidDataset(dataset string) error {
	if strings.TrimSpace(dataset) == "" || dataset == "default" {
		return fmt.Errorf("%w: %q", ErrInvalidDataset, dataset)
	}
	return nil
}

// FormatEntity denormalizes one entity into a bulk action targeting its
// write index, routed by dataset. Returns a validation error when the
// entity cannot be indexed; callers log and skip.
func FormatEntity(dataset string, entity *ftm.Entity) (*indexer.Action, error) {
	if err := ValidDataset(dataset); err != nil {
		return nil, err
	}
	schema := ftm.Default().Get(entity.Schema)
	if schema == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, entity.Schema)
	}
	// Abstract entities can appear when fragments for a missing entity
	// are still around.
	if schema.Abstract {
		return nil, fmt.Errorf("%w: %s", ErrAbstractSchema, schema.Name)
	}
	writeIndex, err := index.EntitiesWriteIndex(schema)
	if err != nil {
		return nil, err
	}
	bucket := index.SchemaBucket(schema)

	properties := map[string][]string{}
	for name, values := range entity.Properties {
		if len(values) > 0 && schema.Property(name) != nil {
			properties[name] = append([]string(nil), values...)
		}
	}

	// Text previews for search: the indexText of a Pages entity is joined
	// into bodyText so result serializers can show a snippet.
	if schema.Name == "Pages" && len(properties["indexText"]) > 0 {
		properties["bodyText"] = append(properties["bodyText"],
			strings.Join(properties["indexText"], " "))
	}

	source := map[string]interface{}{}
	source[mapping.FieldSchema] = schema.Name
	source[mapping.FieldSchemata] = schema.Names()
	source[mapping.FieldDataset] = dataset
	source[mapping.FieldCaption] = entity.Caption(schema)

	entityNames := entity.Names(schema)
	source[mapping.FieldNames] = entityNames
	source[mapping.FieldNameSymbols] = Symbols(schema, entityNames)
	source[mapping.FieldNameKeys] = names.Keys(entityNames)
	source[mapping.FieldNameParts] = nameParts(entityNames)
	source[mapping.FieldNamePhonetic] = names.Phonetics(entityNames)

	// indexText is a magic property: its values leave the properties map
	// and become full text. Translated fragments go to their own field.
	indexText := properties["indexText"]
	delete(properties, "indexText")
	var text, translation []string
	for _, value := range indexText {
		if rest, ok := strings.CutPrefix(value, TranslationMarker); ok {
			translation = append(translation, rest)
			continue
		}
		text = append(text, value)
	}
	if bucket == index.BucketPages {
		source[mapping.FieldContent] = text
		source[mapping.FieldText] = []string{}
	} else {
		source[mapping.FieldText] = text
	}
	if len(translation) > 0 {
		source[mapping.FieldTranslation] = translation
	}

	// Group type projections.
	for group, values := range groupValues(schema, properties) {
		source[group] = values
	}

	numeric := map[string]interface{}{}
	for name, values := range properties {
		prop := schema.Property(name)
		if prop != nil && prop.Type.IsNumeric() {
			numeric[name] = NumericValues(prop.Type, values)
		}
	}
	numeric["dates"] = NumericValues(ftm.TypeDate, entity.TypedValues(schema, ftm.TypeDate))
	source[mapping.FieldNumeric] = numeric

	if schema.Property("latitude") != nil && schema.Property("longitude") != nil {
		source[mapping.FieldGeoPoint] = GeoPoints(entity)
	}

	numValues := 0
	for _, values := range properties {
		numValues += len(values)
	}
	source[mapping.FieldNumValues] = numValues
	source[mapping.FieldProperties] = properties

	// Context data from the surrounding system, not the schema model.
	source[mapping.FieldRole] = first(entity.RoleID)
	source[mapping.FieldProfile] = first(entity.ProfileID)
	source["mutable"] = false // deprecated
	source[mapping.FieldOrigin] = emptyList(entity.Origin)
	source["tags"] = emptyList(entity.Tags)
	createdAt, updatedAt := timestampRange(entity)
	if createdAt != "" {
		source[mapping.FieldCreatedAt] = createdAt
	}
	if updatedAt != "" {
		source[mapping.FieldUpdatedAt] = updatedAt
	}
	source[mapping.FieldIndexVersion] = IndexVersion
	source[mapping.FieldIndexedAt] = time.Now().UTC().Format(time.RFC3339)

	return &indexer.Action{
		ID:      EntityID(dataset, entity.ID),
		Index:   writeIndex,
		Routing: dataset,
		Source:  source,
	}, nil
}

// FormatEntities transforms a stream of entities, skipping invalid ones
// with a warning.
func FormatEntities(dataset string, entities <-chan *ftm.Entity, actions chan<- *indexer.Action) error {
	defer close(actions)
	for entity := range entities {
		action, err := FormatEntity(dataset, entity)
		if err != nil {
			if errors.Is(err, ErrInvalidDataset) {
				return err
			}
			log.Warn("Skipping entity",
				logger.String("entity_id", entity.ID),
				logger.String("error", err.Error()))
			continue
		}
		actions <- action
	}
	return nil
}

// EntityID applies the deterministic namespace transform when configured:
// the id is suffixed with an HMAC of itself keyed by the dataset. Entities
// with the same id in different datasets stay distinct documents.
func EntityID(dataset, id string) string {
	if !config.Get().Index.NamespaceIDs {
		return id
	}
	mac := hmac.New(sha1.New, []byte(dataset))
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

// Symbols runs the appropriate name taggers for a schema: person names for
// Person, organization markers for Organization, both for other legal
// entities. Non-name-bearing schemata yield nothing.
func Symbols(schema *ftm.Schema, entityNames []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(symbols []string) {
		for _, s := range symbols {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, name := range entityNames {
		switch {
		case schema.IsA("Person"):
			add(names.TagPersonName(name))
		case schema.IsA("Organization"):
			add(names.TagOrgName(name))
		case schema.IsA("LegalEntity"):
			add(names.TagName(name))
		}
	}
	sort.Strings(out)
	return out
}

// NumericValues casts values of a numeric-typed property to float64;
// dates become epoch seconds. Unparseable values are dropped, not zeroed.
func NumericValues(t ftm.PropertyType, values []string) []float64 {
	out := make([]float64, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if t == ftm.TypeDate {
			if epoch, ok := parseDateEpoch(value); ok {
				out = append(out, epoch)
			}
			continue
		}
		if number, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err == nil {
			out = append(out, number)
		}
	}
	return out
}

func parseDateEpoch(value string) (float64, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return float64(t.UTC().Unix()), true
		}
	}
	return 0, false
}

// GeoPoints returns the Cartesian product of the entity's longitude and
// latitude values as backend geo points.
func GeoPoints(entity *ftm.Entity) []map[string]string {
	points := []map[string]string{}
	for _, lon := range entity.Values("longitude") {
		for _, lat := range entity.Values("latitude") {
			points = append(points, map[string]string{"lon": lon, "lat": lat})
		}
	}
	return points
}

func groupValues(schema *ftm.Schema, properties map[string][]string) map[string][]string {
	groups := map[string][]string{}
	propNames := make([]string, 0, len(properties))
	for name := range properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)
	for _, name := range propNames {
		prop := schema.Property(name)
		if prop == nil {
			continue
		}
		group := prop.Group()
		if group == "" {
			continue
		}
		seen := map[string]bool{}
		for _, existing := range groups[group] {
			seen[existing] = true
		}
		for _, value := range properties[name] {
			if value != "" && !seen[value] {
				seen[value] = true
				groups[group] = append(groups[group], value)
			}
		}
	}
	return groups
}

func nameParts(entityNames []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range entityNames {
		for _, part := range names.Parts(name) {
			if !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}

func timestampRange(entity *ftm.Entity) (string, string) {
	created := entity.CreatedAt
	updated := entity.UpdatedAt
	if updated == "" {
		updated = created
	}
	if created != "" && updated != "" && updated < created {
		created, updated = updated, created
	}
	return created, updated
}

func first(values []string) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func emptyList(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
