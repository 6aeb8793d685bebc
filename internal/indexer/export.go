package indexer

import (
	"context"
	"encoding/json"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/logger"
)

// ExportOptions tunes an index export.
type ExportOptions struct {
	// Index is a name, pattern or prefix; the default is every index
	// under the configured prefix.
	Index string
	// Query filters the exported documents; nil exports everything.
	Query map[string]interface{}
	// IncludeExcludedFields re-attaches the synthesized fields that are
	// excluded from _source, via docvalue retrieval. Without it the
	// export cannot fully re-create an index.
	IncludeExcludedFields bool
}

// docvalueFields are the synthesized fields recoverable outside _source.
var docvalueFields = []string{
	"names", "name_keys", "name_parts", "name_symbols", "name_phonetic",
}

// Export scans an index pattern into re-indexable actions.
func (ing *Ingester) Export(ctx context.Context, opts *ExportOptions, fn func(action *Action) error) error {
	if opts == nil {
		opts = &ExportOptions{}
	}
	indexPattern := opts.Index
	if indexPattern == "" {
		indexPattern = config.Get().Index.Prefix + "-*"
	}
	query := opts.Query
	if query == nil {
		query = map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	log.Info("Starting index export", logger.String("index", indexPattern))

	scanOpts := &ScanOptions{}
	if opts.IncludeExcludedFields {
		scanOpts.DocvalueFields = docvalueFields
	}
	return ing.Scan(ctx, indexPattern, query, scanOpts, func(hit *client.Hit) error {
		source := map[string]interface{}{}
		if len(hit.Source) > 0 {
			if err := json.Unmarshal(hit.Source, &source); err != nil {
				return err
			}
		}
		if opts.IncludeExcludedFields {
			for field, values := range hit.Fields {
				source[field] = values
			}
		}
		routing, _ := source["dataset"].(string)
		return fn(&Action{
			ID:      hit.ID,
			Index:   hit.Index,
			Routing: routing,
			Source:  source,
		})
	})
}
