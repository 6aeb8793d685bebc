// Command openaleph-search manages the entity search index: create and
// upgrade mappings, bulk-index entities, reap duplicates, search and
// export.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/openaleph/openaleph-search/internal/cache"
	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/indexer"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/query"
	"github.com/openaleph/openaleph-search/internal/search"
	"github.com/openaleph/openaleph-search/internal/transform"
	"github.com/openaleph/openaleph-search/internal/xref"
)

const version = "0.1.0"

const usage = `Usage: openaleph-search <command> [options]

Commands:
  upgrade             Create or upgrade the index mappings
  reset               Drop all indexes and re-create them
  index-entities      Index newline-delimited JSON entities into a dataset
  delete-dataset      Remove all documents of a dataset
  cleanup-duplicates  Remove page documents duplicated into other buckets
  search              Run a query-string search and print the results
  export              Dump indexed documents as newline-delimited JSON
  settings            Print the resolved configuration
  version             Print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	settings := config.Get()
	logger.Initialize(logger.Config{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: settings.Logging.Output,
	})
	log := logger.New("cli").WithFields(logger.String("run_id", uuid.NewString()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := client.NewPool(settings)
	defer pool.Close()

	var err error
	switch os.Args[1] {
	case "upgrade":
		err = runUpgrade(ctx, pool)
	case "reset":
		err = runReset(ctx, pool)
	case "index-entities":
		err = runIndexEntities(ctx, pool, log, os.Args[2:])
	case "delete-dataset":
		err = runDeleteDataset(ctx, pool, os.Args[2:])
	case "cleanup-duplicates":
		err = runCleanupDuplicates(ctx, pool, os.Args[2:])
	case "search":
		err = runSearch(ctx, pool, os.Args[2:])
	case "export":
		err = runExport(ctx, pool, os.Args[2:])
	case "settings":
		err = runSettings(settings)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error("Command failed", logger.Error(err))
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func runUpgrade(ctx context.Context, pool *client.Pool) error {
	if err := search.Upgrade(ctx, pool); err != nil {
		return err
	}
	color.Green("Indexes configured")
	return nil
}

func runReset(ctx context.Context, pool *client.Pool) error {
	if err := index.Delete(ctx, pool); err != nil {
		return err
	}
	if err := search.Upgrade(ctx, pool); err != nil {
		return err
	}
	color.Green("Indexes reset")
	return nil
}

func runIndexEntities(ctx context.Context, pool *client.Pool, log logger.Logger, args []string) error {
	flags := flag.NewFlagSet("index-entities", flag.ExitOnError)
	dataset := flags.String("d", "", "dataset to index into")
	input := flags.String("i", "-", "input uri, - for stdin")
	sync := flags.Bool("sync", false, "wait for refresh after every chunk")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := transform.ValidDataset(*dataset); err != nil {
		return err
	}

	reader, closeInput, err := openInput(*input)
	if err != nil {
		return err
	}
	defer closeInput()

	entityCache, err := cache.New(&config.Get().Cache)
	if err != nil {
		return err
	}
	defer entityCache.Close()

	ing := indexer.New(pool)
	ing.Cache = entityCache
	if config.Get().Debug {
		ing.Monitor = indexer.NewMonitor()
		ing.Monitor.Start()
		defer ing.Monitor.Stop()
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("indexing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14))

	var result *indexer.BulkResult
	err = ing.WithBulkIndexingMode(ctx, func(ctx context.Context) error {
		entities := make(chan *ftm.Entity, 100)
		actions := make(chan *indexer.Action, 100)

		readErr := make(chan error, 1)
		go func() {
			readErr <- readEntities(ctx, reader, entities)
		}()
		formatErr := make(chan error, 1)
		go func() {
			formatErr <- transform.FormatEntities(*dataset, entities, actions)
		}()

		var bulkErr error
		result, bulkErr = ing.BulkActions(ctx, actions, &indexer.BulkOptions{
			Sync:     *sync,
			Progress: func(n int) { bar.Add(n) },
		})
		// Unblock the producers when the consumer aborted early.
		go func() {
			for range actions {
			}
		}()
		if err := <-readErr; err != nil && bulkErr == nil {
			bulkErr = err
		}
		if err := <-formatErr; err != nil && bulkErr == nil {
			bulkErr = err
		}
		return bulkErr
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	log.Info("Indexing finished",
		logger.String("dataset", *dataset),
		logger.Int("success", result.Success),
		logger.Int("failed", result.Failed))
	if result.Failed > 0 {
		return fmt.Errorf("%d entities failed to index", result.Failed)
	}
	color.Green("Indexed %d entities into %s", result.Success, *dataset)
	return nil
}

// readEntities decodes newline-delimited JSON entities into the channel.
func readEntities(ctx context.Context, r io.Reader, entities chan<- *ftm.Entity) error {
	defer close(entities)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		entity := &ftm.Entity{}
		if err := json.Unmarshal(data, entity); err != nil {
			return fmt.Errorf("invalid entity on line %d: %w", line, err)
		}
		select {
		case entities <- entity:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func runDeleteDataset(ctx context.Context, pool *client.Pool, args []string) error {
	flags := flag.NewFlagSet("delete-dataset", flag.ExitOnError)
	dataset := flags.String("d", "", "dataset to delete")
	sync := flags.Bool("sync", false, "wait for refresh")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := transform.ValidDataset(*dataset); err != nil {
		return err
	}
	ing := indexer.New(pool)
	q := map[string]interface{}{
		"term": map[string]interface{}{"dataset": *dataset},
	}
	if err := ing.QueryDelete(ctx, index.AllIndexes(), q, *sync); err != nil {
		return err
	}
	if err := xref.Delete(ctx, ing, *dataset, "", *sync); err != nil {
		return err
	}
	color.Green("Deleted dataset %s", *dataset)
	return nil
}

func runCleanupDuplicates(ctx context.Context, pool *client.Pool, args []string) error {
	flags := flag.NewFlagSet("cleanup-duplicates", flag.ExitOnError)
	dataset := flags.String("d", "", "restrict to one dataset")
	execute := flags.Bool("execute", false, "actually delete, not just report")
	sync := flags.Bool("sync", false, "wait for refresh")
	if err := flags.Parse(args); err != nil {
		return err
	}
	ing := indexer.New(pool)
	stats, err := ing.ReapDuplicates(ctx, &indexer.ReaperOptions{
		Dataset: *dataset,
		Execute: *execute,
		Sync:    *sync,
	})
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Found", "Deleted", "Errors"})
	table.Append([]string{
		fmt.Sprint(stats.Found), fmt.Sprint(stats.Deleted), fmt.Sprint(stats.Errors),
	})
	table.Render()
	if !*execute {
		color.Yellow("Dry run, pass -execute to delete")
	}
	if stats.Errors > 0 {
		return fmt.Errorf("%d documents failed to delete", stats.Errors)
	}
	return nil
}

func runSearch(ctx context.Context, pool *client.Pool, args []string) error {
	flags := flag.NewFlagSet("search", flag.ExitOnError)
	q := flags.String("q", "", "query string")
	extra := flags.String("args", "", "additional url-style query args")
	if err := flags.Parse(args); err != nil {
		return err
	}
	auth := query.NewSearchAuth(nil, true, true)
	res, err := search.SearchQueryString(ctx, pool, *q, *extra, auth)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Schema", "Caption", "Dataset", "Score"})
	table.SetAutoWrapText(false)
	for i := range res.Hits.Hits {
		result, err := res.Hits.Hits[i].Unpack()
		if err != nil {
			return err
		}
		if result == nil {
			continue
		}
		score := ""
		if s, ok := result["score"].(float64); ok {
			score = fmt.Sprintf("%.2f", s)
		}
		table.Append([]string{
			result.ID(),
			result.Str("schema"),
			result.Str("caption"),
			result.Str("dataset"),
			score,
		})
	}
	table.Render()
	fmt.Printf("%d results (%d ms)\n", res.Hits.Total.Value, res.Took)
	return nil
}

func runExport(ctx context.Context, pool *client.Pool, args []string) error {
	flags := flag.NewFlagSet("export", flag.ExitOnError)
	indexName := flags.String("index", "", "index pattern, defaults to all")
	output := flags.String("o", "-", "output uri, - for stdout")
	includeExcluded := flags.Bool("include-excluded-fields", false,
		"re-attach fields excluded from the stored source")
	if err := flags.Parse(args); err != nil {
		return err
	}
	writer, closeOutput, err := openOutput(*output)
	if err != nil {
		return err
	}
	defer closeOutput()

	buffered := bufio.NewWriter(writer)
	ing := indexer.New(pool)
	err = ing.Export(ctx, &indexer.ExportOptions{
		Index:                 *indexName,
		IncludeExcludedFields: *includeExcluded,
	}, func(action *indexer.Action) error {
		data, err := json.Marshal(action.Source)
		if err != nil {
			return err
		}
		if _, err := buffered.Write(data); err != nil {
			return err
		}
		return buffered.WriteByte('\n')
	})
	if err != nil {
		return err
	}
	return buffered.Flush()
}

func runSettings(settings *config.Settings) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Setting", "Value"})
	table.SetAutoWrapText(false)
	rows := [][2]string{
		{"elasticsearch.url", settings.Elasticsearch.URL},
		{"elasticsearch.ingest_url", settings.Elasticsearch.IngestURL},
		{"elasticsearch.timeout", settings.Elasticsearch.Timeout.String()},
		{"elasticsearch.max_retries", fmt.Sprint(settings.Elasticsearch.MaxRetries)},
		{"indexer.concurrency", fmt.Sprint(settings.Indexer.Concurrency)},
		{"indexer.chunk_size", fmt.Sprint(settings.Indexer.ChunkSize)},
		{"indexer.max_chunk_bytes", fmt.Sprint(settings.Indexer.MaxChunkBytes)},
		{"index.prefix", settings.Index.Prefix},
		{"index.write", settings.Index.Write},
		{"index.read", fmt.Sprint(settings.Index.Read)},
		{"index.shards", fmt.Sprint(settings.Index.Shards)},
		{"index.replicas", fmt.Sprint(settings.Index.Replicas)},
		{"index.namespace_ids", fmt.Sprint(settings.Index.NamespaceIDs)},
		{"xref.scroll", settings.Xref.Scroll},
		{"xref.scroll_size", fmt.Sprint(settings.Xref.ScrollSize)},
		{"cache.redis_url", settings.Cache.RedisURL},
		{"testing", fmt.Sprint(settings.Testing)},
		{"search_auth", fmt.Sprint(settings.SearchAuth)},
	}
	for _, row := range rows {
		table.Append(row[:])
	}
	table.Render()
	return nil
}

func openInput(uri string) (io.Reader, func() error, error) {
	if uri == "" || uri == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	file, err := os.Open(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return file, file.Close, nil
}

func openOutput(uri string) (io.Writer, func() error, error) {
	if uri == "" || uri == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	file, err := os.Create(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}
	return file, file.Close, nil
}
