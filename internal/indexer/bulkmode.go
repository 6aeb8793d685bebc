package indexer

import (
	"context"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/logger"
)

// bulkModeSettings trades durability for throughput while a large ingest
// runs: near-disabled refresh, async translog and no replicas.
func bulkModeSettings() map[string]interface{} {
	return map[string]interface{}{
		"index": map[string]interface{}{
			"refresh_interval":       "300s",
			"translog.durability":    "async",
			"translog.sync_interval": "30s",
			"number_of_replicas":     "0",
		},
	}
}

// restoredSettings returns the configured steady-state values.
func restoredSettings() map[string]interface{} {
	cfg := config.Get()
	replicas := cfg.Index.Replicas
	if cfg.Testing {
		replicas = 0
	}
	return map[string]interface{}{
		"index": map[string]interface{}{
			"refresh_interval":       cfg.Index.RefreshInterval,
			"translog.durability":    "request",
			"translog.sync_interval": "5s",
			"number_of_replicas":     replicas,
		},
	}
}

// entityIndexes returns every entity index at every read version.
func entityIndexes() string {
	indexes, _ := index.EntitiesReadIndex(nil, false)
	return indexes
}

// WithBulkIndexingMode runs fn with bulk-friendly index settings applied
// across the entity indexes. The prior configured settings are restored on
// every exit path, including error and cancellation.
func (ing *Ingester) WithBulkIndexingMode(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	indexes := entityIndexes()
	log.Info("Entering bulk indexing mode", logger.String("indexes", indexes))
	if err := index.PutSettings(ctx, ing.pool, indexes, bulkModeSettings()); err != nil {
		return err
	}
	defer func() {
		// Restore even when the context driving fn was cancelled.
		restoreCtx := ctx
		if restoreCtx.Err() != nil {
			restoreCtx = context.Background()
		}
		log.Info("Leaving bulk indexing mode", logger.String("indexes", indexes))
		if restoreErr := index.PutSettings(restoreCtx, ing.pool, indexes, restoredSettings()); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()
	return fn(ctx)
}
