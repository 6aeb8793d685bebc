package indexer

import (
	"context"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/metrics"
)

// BucketPair orders two buckets for duplicate cleanup: entities present in
// both are kept in Keep and removed from Delete.
type BucketPair struct {
	Keep   index.Bucket
	Delete index.Bucket
}

// DefaultCleanupPairs lists where cross-bucket duplicates occur after
// historical mapping changes, most specific bucket first.
var DefaultCleanupPairs = []BucketPair{
	{Keep: index.BucketPages, Delete: index.BucketDocuments},
}

// ReaperOptions tunes one cleanup run.
type ReaperOptions struct {
	Pairs     []BucketPair
	Dataset   string
	BatchSize int
	// Execute performs deletions; the default is a dry run that only
	// reports.
	Execute bool
	Sync    bool
}

// ReaperStats tallies one cleanup run.
type ReaperStats struct {
	Found   int
	Deleted int
	Errors  int
}

// ReapDuplicates finds ids present in both buckets of each pair and
// deletes the copy in the less specific bucket. A failed batch counts its
// size as errors but does not abort the run.
func (ing *Ingester) ReapDuplicates(ctx context.Context, opts *ReaperOptions) (*ReaperStats, error) {
	if opts == nil {
		opts = &ReaperOptions{}
	}
	pairs := opts.Pairs
	if len(pairs) == 0 {
		pairs = DefaultCleanupPairs
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}
	stats := &ReaperStats{}
	version := config.Get().Index.Write
	for _, pair := range pairs {
		keepIndex := index.BucketIndex(pair.Keep, version)
		deleteIndex := index.BucketIndex(pair.Delete, version)
		log.Info("Scanning for cross-bucket duplicates",
			logger.String("keep", keepIndex),
			logger.String("delete", deleteIndex),
			logger.String("dataset", opts.Dataset),
			logger.Bool("execute", opts.Execute))

		batch := make([]string, 0, batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			ids := batch
			batch = make([]string, 0, batchSize)
			if err := ing.reapBatch(ctx, deleteIndex, ids, opts, stats); err != nil {
				stats.Errors += len(ids)
				log.Warn("Duplicate cleanup batch failed",
					logger.Int("batch", len(ids)),
					logger.String("error", err.Error()))
			}
		}

		query := map[string]interface{}{"match_all": map[string]interface{}{}}
		if opts.Dataset != "" {
			query = map[string]interface{}{
				"term": map[string]interface{}{"dataset": opts.Dataset},
			}
		}
		err := ing.Scan(ctx, keepIndex, query, &ScanOptions{Size: batchSize, Excludes: []string{"*"}}, func(hit *client.Hit) error {
			batch = append(batch, hit.ID)
			if len(batch) >= batchSize {
				flush()
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
		flush()
	}
	log.Info("Duplicate cleanup finished",
		logger.Int("found", stats.Found),
		logger.Int("deleted", stats.Deleted),
		logger.Int("errors", stats.Errors))
	return stats, nil
}

// reapBatch probes the delete bucket for colliding ids and removes them.
func (ing *Ingester) reapBatch(ctx context.Context, deleteIndex string, ids []string, opts *ReaperOptions, stats *ReaperStats) error {
	duplicates, err := ing.findIDs(ctx, deleteIndex, ids, opts.Dataset)
	if err != nil {
		return err
	}
	if len(duplicates) == 0 {
		return nil
	}
	stats.Found += len(duplicates)
	if !opts.Execute {
		log.Info("Would delete duplicates (dry run)",
			logger.Int("count", len(duplicates)),
			logger.String("index", deleteIndex))
		return nil
	}
	query := idsQuery(duplicates, opts.Dataset)
	if err := ing.QueryDelete(ctx, deleteIndex, query, opts.Sync); err != nil {
		return err
	}
	stats.Deleted += len(duplicates)
	metrics.ReaperDeleted.Add(float64(len(duplicates)))
	return nil
}

// findIDs returns the subset of ids that exist in the index.
func (ing *Ingester) findIDs(ctx context.Context, indexName string, ids []string, dataset string) ([]string, error) {
	c, err := ing.pool.Search(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"query":   idsQuery(ids, dataset),
		"_source": false,
		"size":    len(ids),
	}
	reader, err := client.EncodeBody(body)
	if err != nil {
		return nil, err
	}
	res, err := c.ES.Search(
		c.ES.Search.WithContext(ctx),
		c.ES.Search.WithIndex(indexName),
		c.ES.Search.WithBody(reader))
	if err != nil {
		return nil, err
	}
	var decoded client.SearchResponse
	if err := client.DecodeResponse(res, &decoded); err != nil {
		return nil, err
	}
	found := make([]string, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		found = append(found, hit.ID)
	}
	return found, nil
}

func idsQuery(ids []string, dataset string) map[string]interface{} {
	query := map[string]interface{}{
		"ids": map[string]interface{}{"values": ids},
	}
	if dataset == "" {
		return query
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must": []interface{}{
				query,
				map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}},
			},
		},
	}
}
