package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
)

func formatted(t *testing.T, entity *ftm.Entity) map[string]interface{} {
	t.Helper()
	action, err := FormatEntity("luanda", entity)
	require.NoError(t, err)
	return action.Source
}

func TestValidDataset(t *testing.T) {
	assert.NoError(t, ValidDataset("luanda"))
	assert.Error(t, ValidDataset(""))
	assert.Error(t, ValidDataset("  "))
	assert.Error(t, ValidDataset("default"))
}

func TestFormatEntityPerson(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	entity := &ftm.Entity{
		ID:     "person-1",
		Schema: "Person",
		Properties: map[string][]string{
			"name":        {"Vladimir Putin"},
			"birthDate":   {"1952-10-07"},
			"nationality": {"ru"},
		},
	}
	action, err := FormatEntity("luanda", entity)
	require.NoError(t, err)

	assert.Equal(t, "person-1", action.ID)
	assert.Equal(t, "openaleph-entity-things-v1", action.Index)
	assert.Equal(t, "luanda", action.Routing)

	source := action.Source
	assert.Equal(t, "Person", source["schema"])
	assert.Contains(t, source["schemata"], "Person")
	assert.Contains(t, source["schemata"], "LegalEntity")
	assert.Contains(t, source["schemata"], "Thing")
	assert.Equal(t, "luanda", source["dataset"])
	assert.Equal(t, "Vladimir Putin", source["caption"])
	assert.Equal(t, []string{"Vladimir Putin"}, source["names"])
	assert.Contains(t, source["name_parts"], "putin")
	assert.NotEmpty(t, source["name_keys"])
	assert.NotEmpty(t, source["name_phonetic"])

	// Country group projection from nationality.
	assert.Equal(t, []string{"ru"}, source["countries"])

	numeric := source["numeric"].(map[string]interface{})
	dates := numeric["dates"].([]float64)
	require.Len(t, dates, 1)
	assert.InDelta(t, float64(-543888000), dates[0], 86400)

	assert.Equal(t, 3, source["num_values"])
	assert.Equal(t, IndexVersion, source["index_version"])
}

func TestFormatEntityDocumentText(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	entity := &ftm.Entity{
		ID:     "doc-1",
		Schema: "Document",
		Properties: map[string][]string{
			"title":     {"Annual Report"},
			"indexText": {"some extracted text", "__translation__ ein Text"},
		},
	}
	action, err := FormatEntity("luanda", entity)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-documents-v1", action.Index)

	// indexText leaves the properties map and splits by translation marker.
	source := action.Source
	properties := source["properties"].(map[string][]string)
	assert.NotContains(t, properties, "indexText")
	assert.Equal(t, []string{"some extracted text"}, source["text"])
	assert.Equal(t, []string{"ein Text"}, source["translation"])
}

func TestFormatEntityPages(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	entity := &ftm.Entity{
		ID:     "pages-1",
		Schema: "Pages",
		Properties: map[string][]string{
			"title":     {"Annual Report"},
			"indexText": {"page one", "page two"},
		},
	}
	action, err := FormatEntity("luanda", entity)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-pages-v1", action.Index)

	source := action.Source
	assert.Equal(t, []string{"page one", "page two"}, source["content"])
	assert.Equal(t, []string{}, source["text"])
	properties := source["properties"].(map[string][]string)
	assert.Equal(t, []string{"page one page two"}, properties["bodyText"])
}

func TestFormatEntityRejects(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	_, err := FormatEntity("default", &ftm.Entity{ID: "x", Schema: "Person"})
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = FormatEntity("luanda", &ftm.Entity{ID: "x", Schema: "Banana"})
	assert.ErrorIs(t, err, ErrUnknownSchema)

	_, err = FormatEntity("luanda", &ftm.Entity{ID: "x", Schema: "Asset"})
	assert.ErrorIs(t, err, ErrAbstractSchema)
}

func TestEntityIDNamespacing(t *testing.T) {
	settings := config.Default()
	settings.Index.NamespaceIDs = true
	config.Set(settings)
	defer config.Reset()

	namespaced := EntityID("luanda", "abc")
	assert.True(t, strings.HasPrefix(namespaced, "abc."))
	assert.Equal(t, namespaced, EntityID("luanda", "abc"))
	assert.NotEqual(t, namespaced, EntityID("panama", "abc"))

	settings.Index.NamespaceIDs = false
	assert.Equal(t, "abc", EntityID("luanda", "abc"))
}

func TestSymbolsBySchema(t *testing.T) {
	model := ftm.Default()
	person := Symbols(model.Get("Person"), []string{"Vladimir Putin"})
	assert.NotEmpty(t, person)

	// Non-name-bearing schemata yield nothing.
	assert.Empty(t, Symbols(model.Get("Document"), []string{"report.pdf"}))
}

func TestNumericValues(t *testing.T) {
	assert.Equal(t, []float64{1500000, 2.5},
		NumericValues(ftm.TypeNumber, []string{"1,500,000", "2.5", "n/a", ""}))

	dates := NumericValues(ftm.TypeDate, []string{"2020-01-01", "2020", "junk"})
	assert.Len(t, dates, 2)
}

func TestGeoPoints(t *testing.T) {
	entity := &ftm.Entity{
		ID:     "addr-1",
		Schema: "Address",
		Properties: map[string][]string{
			"latitude":  {"48.2"},
			"longitude": {"16.3", "16.4"},
		},
	}
	points := GeoPoints(entity)
	assert.Len(t, points, 2)
	assert.Contains(t, points, map[string]string{"lat": "48.2", "lon": "16.3"})
}

func TestTimestampRangeSwaps(t *testing.T) {
	entity := &ftm.Entity{}
	entity.CreatedAt = "2024-06-01"
	entity.UpdatedAt = "2024-01-01"
	created, updated := timestampRange(entity)
	assert.Equal(t, "2024-01-01", created)
	assert.Equal(t, "2024-06-01", updated)
}
