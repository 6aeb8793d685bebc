package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
)

func TestSchemaBucket(t *testing.T) {
	model := ftm.Default()
	assert.Equal(t, BucketThings, SchemaBucket(model.Get("Person")))
	assert.Equal(t, BucketThings, SchemaBucket(model.Get("Company")))
	assert.Equal(t, BucketDocuments, SchemaBucket(model.Get("Email")))
	assert.Equal(t, BucketDocuments, SchemaBucket(model.Get("Folder")))
	assert.Equal(t, BucketPages, SchemaBucket(model.Get("Page")))
	assert.Equal(t, BucketPages, SchemaBucket(model.Get("Pages")))
	assert.Equal(t, BucketIntervals, SchemaBucket(model.Get("Ownership")))
}

func TestIndexNames(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	assert.Equal(t, "openaleph-entity-things-v1", BucketIndex(BucketThings, "v1"))
	assert.Equal(t, "openaleph-xref-v1", XrefIndex())

	model := ftm.Default()
	name, err := SchemaIndex(model.Get("Person"), "v2")
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-things-v2", name)

	_, err = SchemaIndex(model.Get("Asset"), "v1")
	assert.Error(t, err, "abstract schemata have no index")
}

func TestEntitiesReadIndex(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	// Default scope is everything: all four buckets.
	all, err := EntitiesReadIndex(nil, true)
	require.NoError(t, err)
	assert.Contains(t, all, "openaleph-entity-things-v1")
	assert.Contains(t, all, "openaleph-entity-intervals-v1")
	assert.Contains(t, all, "openaleph-entity-documents-v1")
	assert.Contains(t, all, "openaleph-entity-pages-v1")

	// A single concrete schema resolves to its bucket only.
	person, err := EntitiesReadIndex([]string{"Person"}, false)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-things-v1", person)

	// Expansion pulls in descendant buckets.
	docs, err := EntitiesReadIndex([]string{"Document"}, true)
	require.NoError(t, err)
	assert.Contains(t, docs, "openaleph-entity-documents-v1")
	assert.Contains(t, docs, "openaleph-entity-pages-v1")
	assert.NotContains(t, docs, "things")

	_, err = EntitiesReadIndex([]string{"Banana"}, false)
	assert.Error(t, err)
}

func TestEntitiesReadIndexMultipleVersions(t *testing.T) {
	settings := config.Default()
	settings.Index.Read = []string{"v1", "v2"}
	config.Set(settings)
	defer config.Reset()

	person, err := EntitiesReadIndex([]string{"Person"}, false)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-things-v1,openaleph-entity-things-v2", person)
}

func TestEntitiesReadIndexClauseLimit(t *testing.T) {
	settings := config.Default()
	settings.Index.Read = []string{"v1", "v2", "v3"}
	settings.Index.ExpandClauseLimit = 4
	config.Set(settings)
	defer config.Reset()

	// Twelve bucket-version names exceed the limit and collapse to a
	// wildcard; a single-bucket scope stays enumerated.
	all, err := EntitiesReadIndex(nil, true)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-*", all)

	person, err := EntitiesReadIndex([]string{"Person"}, false)
	require.NoError(t, err)
	assert.Equal(t,
		"openaleph-entity-things-v1,openaleph-entity-things-v2,openaleph-entity-things-v3",
		person)
}

func TestAllIndexes(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	all := AllIndexes()
	assert.Contains(t, all, "openaleph-xref-v1")
	assert.Contains(t, all, "openaleph-entity-things-v1")
	assert.Contains(t, all, "openaleph-entity-pages-v1")
}
