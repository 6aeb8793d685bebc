// Package index owns the index topology: bucket classification, read and
// write index resolution, and reconciling live indexes with the synthesized
// mappings.
package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
)

// Bucket partitions entities into separately mapped indexes.
type Bucket string

const (
	BucketThings    Bucket = "things"
	BucketIntervals Bucket = "intervals"
	BucketDocuments Bucket = "documents"
	BucketPages     Bucket = "pages"
)

// Buckets lists every bucket in configuration order.
var Buckets = []Bucket{BucketThings, BucketIntervals, BucketDocuments, BucketPages}

// SchemaBucket classifies a schema into its index bucket. Page and Pages
// are separated from other documents so that only the pages bucket stores
// full content.
func SchemaBucket(schema *ftm.Schema) Bucket {
	switch {
	case schema.Name == "Page" || schema.Name == "Pages":
		return BucketPages
	case schema.IsA("Document"):
		return BucketDocuments
	case schema.IsA("Thing"):
		return BucketThings
	case schema.IsA("Interval"):
		return BucketIntervals
	default:
		// Catch-all for stray schemata like Mention.
		return BucketThings
	}
}

// Name assembles an index name from the configured prefix.
func Name(name, version string) string {
	return strings.Join([]string{config.Get().Index.Prefix, name, version}, "-")
}

// BucketIndex returns the index name of a bucket at a version.
func BucketIndex(bucket Bucket, version string) string {
	return Name("entity-"+string(bucket), version)
}

// SchemaIndex returns the index name a schema resolves to at a version.
// Abstract schemata have no index.
func SchemaIndex(schema *ftm.Schema, version string) (string, error) {
	if schema.Abstract {
		return "", fmt.Errorf("cannot index abstract schema: %s", schema.Name)
	}
	return BucketIndex(SchemaBucket(schema), version), nil
}

// XrefIndex returns the name of the cross-reference match index.
func XrefIndex() string {
	return Name("xref", "v1")
}

// schemaScope resolves schema names to the concrete schemata a query
// touches. With expand, descendants are included. An empty input means the
// whole model.
func schemaScope(schemata []string, expand bool) ([]*ftm.Schema, error) {
	model := ftm.Default()
	seen := map[string]*ftm.Schema{}
	if len(schemata) == 0 {
		for _, schema := range model.Schemata() {
			seen[schema.Name] = schema
		}
	}
	for _, name := range schemata {
		if name == "" {
			continue
		}
		schema := model.Get(name)
		if schema == nil {
			return nil, fmt.Errorf("unknown schema: %q", name)
		}
		seen[schema.Name] = schema
		if expand {
			for _, descendant := range schema.Descendants() {
				seen[descendant.Name] = descendant
			}
		}
	}
	out := make([]*ftm.Schema, 0, len(seen))
	for _, schema := range seen {
		if !schema.Abstract {
			out = append(out, schema)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// EntitiesReadIndex returns the comma-joined read indexes for the given
// schemata. The default scope when nothing is given is the Thing subtree.
func EntitiesReadIndex(schemata []string, expand bool) (string, error) {
	resolved, err := schemaScope(schemata, expand)
	if err != nil {
		return "", err
	}
	settings := config.Get()
	indexes := map[string]bool{}
	for _, schema := range resolved {
		for _, version := range settings.Index.Read {
			indexes[BucketIndex(SchemaBucket(schema), version)] = true
		}
	}
	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	// Enumerating too many indexes blows up the request line; past the
	// clause limit a wildcard over all entity indexes is cheaper.
	if limit := settings.Index.ExpandClauseLimit; limit > 0 && len(names) > limit {
		return settings.Index.Prefix + "-entity-*", nil
	}
	sort.Strings(names)
	return strings.Join(names, ","), nil
}

// EntitiesWriteIndex returns the single index new documents of a schema
// are written to.
func EntitiesWriteIndex(schema *ftm.Schema) (string, error) {
	return SchemaIndex(schema, config.Get().Index.Write)
}

// AllIndexes returns every index known to this deployment: the entity
// buckets at every read version, plus the xref index.
func AllIndexes() string {
	settings := config.Get()
	names := []string{XrefIndex()}
	for _, bucket := range Buckets {
		for _, version := range settings.Index.Read {
			names = append(names, BucketIndex(bucket, version))
		}
	}
	return strings.Join(names, ",")
}
