package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every recognized environment variable.
const envPrefix = "OPENALEPH_"

// Settings is the full runtime configuration. Values are resolved in order:
// built-in defaults, optional YAML file, environment variables.
type Settings struct {
	Elasticsearch ElasticsearchSettings `yaml:"elasticsearch"`
	Indexer       IndexerSettings       `yaml:"indexer"`
	Index         IndexSettings         `yaml:"index"`
	Xref          XrefSettings          `yaml:"xref"`
	Highlight     HighlightSettings     `yaml:"highlight"`
	Cache         CacheSettings         `yaml:"cache"`
	Logging       LoggingSettings       `yaml:"logging"`

	// Testing forces refresh=true on every write so tests see documents
	// immediately, and shrinks the shard count to one.
	Testing bool `yaml:"testing" env:"OPENALEPH_TESTING"`
	Debug   bool `yaml:"debug" env:"OPENALEPH_DEBUG"`

	// SearchAuth makes an auth context mandatory on every search request.
	SearchAuth bool `yaml:"search_auth" env:"OPENALEPH_SEARCH_AUTH"`
}

// ElasticsearchSettings configures the backend connection pool.
type ElasticsearchSettings struct {
	// URL accepts one or more comma-separated endpoints for the search role.
	URL string `yaml:"url" env:"OPENALEPH_ELASTICSEARCH_URL" validate:"required"`
	// IngestURL optionally points the ingest role at dedicated nodes.
	// Empty means the search endpoints are shared.
	IngestURL      string        `yaml:"ingest_url" env:"OPENALEPH_ELASTICSEARCH_INGEST_URL"`
	Timeout        time.Duration `yaml:"timeout" env:"OPENALEPH_ELASTICSEARCH_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"OPENALEPH_ELASTICSEARCH_MAX_RETRIES" validate:"min=0"`
	RetryOnTimeout bool          `yaml:"retry_on_timeout" env:"OPENALEPH_ELASTICSEARCH_RETRY_ON_TIMEOUT"`
	// ConnectAttempts bounds the ping loop at pool construction.
	ConnectAttempts int           `yaml:"connect_attempts" env:"OPENALEPH_ELASTICSEARCH_CONNECT_ATTEMPTS" validate:"min=1"`
	ConnectDelay    time.Duration `yaml:"connect_delay" env:"OPENALEPH_ELASTICSEARCH_CONNECT_DELAY"`
}

// IndexerSettings configures the bulk ingest pipeline.
type IndexerSettings struct {
	Concurrency   int `yaml:"concurrency" env:"OPENALEPH_INDEXER_CONCURRENCY" validate:"min=1"`
	ChunkSize     int `yaml:"chunk_size" env:"OPENALEPH_INDEXER_CHUNK_SIZE" validate:"min=1"`
	MaxChunkBytes int `yaml:"max_chunk_bytes" env:"OPENALEPH_INDEXER_MAX_CHUNK_BYTES" validate:"min=1024"`
	// RateLimit caps ingested documents per second. Zero disables the limiter.
	RateLimit float64 `yaml:"rate_limit" env:"OPENALEPH_INDEXER_RATE_LIMIT" validate:"min=0"`
}

// IndexSettings configures index topology and write behavior.
type IndexSettings struct {
	Prefix          string   `yaml:"prefix" env:"OPENALEPH_INDEX_PREFIX" validate:"required,excludesall= "`
	Write           string   `yaml:"write" env:"OPENALEPH_INDEX_WRITE" validate:"required"`
	Read            []string `yaml:"read" env:"OPENALEPH_INDEX_READ" validate:"min=1"`
	Shards          int      `yaml:"shards" env:"OPENALEPH_INDEX_SHARDS" validate:"min=1"`
	Replicas        int      `yaml:"replicas" env:"OPENALEPH_INDEX_REPLICAS" validate:"min=0"`
	RefreshInterval string   `yaml:"refresh_interval" env:"OPENALEPH_INDEX_REFRESH_INTERVAL"`
	// ExpandClauseLimit bounds descendant expansion in read-index resolution.
	ExpandClauseLimit      int  `yaml:"expand_clause_limit" env:"OPENALEPH_INDEX_EXPAND_CLAUSE_LIMIT" validate:"min=1"`
	DeleteByQueryBatchSize int  `yaml:"delete_by_query_batchsize" env:"OPENALEPH_INDEX_DELETE_BY_QUERY_BATCHSIZE" validate:"min=1"`
	NamespaceIDs           bool `yaml:"namespace_ids" env:"OPENALEPH_INDEX_NAMESPACE_IDS"`
}

// XrefSettings configures cross-reference match storage.
type XrefSettings struct {
	Scroll     string `yaml:"scroll" env:"OPENALEPH_XREF_SCROLL"`
	ScrollSize int    `yaml:"scroll_size" env:"OPENALEPH_XREF_SCROLL_SIZE" validate:"min=1"`
}

// HighlightSettings selects the highlighter for stored page content.
type HighlightSettings struct {
	// ContentType is "unified" or "fvh".
	ContentType       string `yaml:"content_type" env:"OPENALEPH_HIGHLIGHT_CONTENT_TYPE" validate:"oneof=unified fvh"`
	FragmentSize      int    `yaml:"fragment_size" env:"OPENALEPH_HIGHLIGHT_FRAGMENT_SIZE" validate:"min=1"`
	NumberOfFragments int    `yaml:"number_of_fragments" env:"OPENALEPH_HIGHLIGHT_NUMBER_OF_FRAGMENTS" validate:"min=1"`
	MaxAnalyzedOffset int    `yaml:"max_analyzed_offset" env:"OPENALEPH_HIGHLIGHT_MAX_ANALYZED_OFFSET" validate:"min=1"`
}

// CacheSettings configures the optional Redis entity cache.
type CacheSettings struct {
	// RedisURL enables the cache when non-empty, e.g. redis://localhost:6379/0.
	RedisURL string        `yaml:"redis_url" env:"OPENALEPH_REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" env:"OPENALEPH_CACHE_TTL"`
	Prefix   string        `yaml:"prefix" env:"OPENALEPH_CACHE_PREFIX"`
}

// LoggingSettings configures the process logger.
type LoggingSettings struct {
	Level  string `yaml:"level" env:"OPENALEPH_LOG_LEVEL" validate:"oneof=trace debug info warn warning error fatal"`
	Format string `yaml:"format" env:"OPENALEPH_LOG_FORMAT" validate:"oneof=json console"`
	Output string `yaml:"output" env:"OPENALEPH_LOG_OUTPUT"`
}

var (
	global   *Settings
	globalMu sync.Mutex
)

// Default returns settings with every default applied.
func Default() *Settings {
	s := &Settings{}
	setDefaults(s)
	return s
}

// Load resolves settings from an optional YAML file and the environment.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	if path != "" {
		if err := loadFromFile(path, s); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	loadFromEnvironment(s)
	setDefaults(s)
	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Get returns the process-wide settings, initializing defaults plus
// environment overrides on first use.
func Get() *Settings {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		s := &Settings{}
		loadFromEnvironment(s)
		setDefaults(s)
		global = s
	}
	return global
}

// Set replaces the process-wide settings. Intended for main and for tests.
func Set(s *Settings) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = s
}

// Reset discards the process-wide settings so the next Get re-reads the
// environment. Intended for tests.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}

func loadFromFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func loadFromEnvironment(s *Settings) {
	setString(&s.Elasticsearch.URL, "ELASTICSEARCH_URL")
	setString(&s.Elasticsearch.IngestURL, "ELASTICSEARCH_INGEST_URL")
	setDuration(&s.Elasticsearch.Timeout, "ELASTICSEARCH_TIMEOUT")
	setInt(&s.Elasticsearch.MaxRetries, "ELASTICSEARCH_MAX_RETRIES")
	setBool(&s.Elasticsearch.RetryOnTimeout, "ELASTICSEARCH_RETRY_ON_TIMEOUT")
	setInt(&s.Elasticsearch.ConnectAttempts, "ELASTICSEARCH_CONNECT_ATTEMPTS")
	setDuration(&s.Elasticsearch.ConnectDelay, "ELASTICSEARCH_CONNECT_DELAY")

	setInt(&s.Indexer.Concurrency, "INDEXER_CONCURRENCY")
	setInt(&s.Indexer.ChunkSize, "INDEXER_CHUNK_SIZE")
	setInt(&s.Indexer.MaxChunkBytes, "INDEXER_MAX_CHUNK_BYTES")
	setFloat(&s.Indexer.RateLimit, "INDEXER_RATE_LIMIT")

	setString(&s.Index.Prefix, "INDEX_PREFIX")
	setString(&s.Index.Write, "INDEX_WRITE")
	setStrings(&s.Index.Read, "INDEX_READ")
	setInt(&s.Index.Shards, "INDEX_SHARDS")
	setInt(&s.Index.Replicas, "INDEX_REPLICAS")
	setString(&s.Index.RefreshInterval, "INDEX_REFRESH_INTERVAL")
	setInt(&s.Index.ExpandClauseLimit, "INDEX_EXPAND_CLAUSE_LIMIT")
	setInt(&s.Index.DeleteByQueryBatchSize, "INDEX_DELETE_BY_QUERY_BATCHSIZE")
	setBool(&s.Index.NamespaceIDs, "INDEX_NAMESPACE_IDS")

	setString(&s.Xref.Scroll, "XREF_SCROLL")
	setInt(&s.Xref.ScrollSize, "XREF_SCROLL_SIZE")

	setString(&s.Highlight.ContentType, "HIGHLIGHT_CONTENT_TYPE")
	setInt(&s.Highlight.FragmentSize, "HIGHLIGHT_FRAGMENT_SIZE")
	setInt(&s.Highlight.NumberOfFragments, "HIGHLIGHT_NUMBER_OF_FRAGMENTS")
	setInt(&s.Highlight.MaxAnalyzedOffset, "HIGHLIGHT_MAX_ANALYZED_OFFSET")

	setString(&s.Cache.RedisURL, "REDIS_URL")
	setDuration(&s.Cache.TTL, "CACHE_TTL")
	setString(&s.Cache.Prefix, "CACHE_PREFIX")

	setString(&s.Logging.Level, "LOG_LEVEL")
	setString(&s.Logging.Format, "LOG_FORMAT")
	setString(&s.Logging.Output, "LOG_OUTPUT")

	setBool(&s.Testing, "TESTING")
	setBool(&s.Debug, "DEBUG")
	setBool(&s.SearchAuth, "SEARCH_AUTH")
}

func setDefaults(s *Settings) {
	if s.Elasticsearch.URL == "" {
		s.Elasticsearch.URL = "http://localhost:9200"
	}
	if s.Elasticsearch.Timeout == 0 {
		s.Elasticsearch.Timeout = 60 * time.Second
	}
	if s.Elasticsearch.MaxRetries == 0 {
		s.Elasticsearch.MaxRetries = 3
	}
	if s.Elasticsearch.ConnectAttempts == 0 {
		s.Elasticsearch.ConnectAttempts = 60
	}
	if s.Elasticsearch.ConnectDelay == 0 {
		s.Elasticsearch.ConnectDelay = 5 * time.Second
	}

	if s.Indexer.Concurrency == 0 {
		s.Indexer.Concurrency = 8
	}
	if s.Indexer.ChunkSize == 0 {
		s.Indexer.ChunkSize = 1000
	}
	if s.Indexer.MaxChunkBytes == 0 {
		s.Indexer.MaxChunkBytes = 100 << 20
	}

	if s.Index.Prefix == "" {
		s.Index.Prefix = "openaleph"
	}
	if s.Index.Write == "" {
		s.Index.Write = "v1"
	}
	if len(s.Index.Read) == 0 {
		s.Index.Read = []string{s.Index.Write}
	}
	if s.Index.Shards == 0 {
		s.Index.Shards = 25
	}
	if s.Index.RefreshInterval == "" {
		s.Index.RefreshInterval = "1s"
	}
	if s.Index.ExpandClauseLimit == 0 {
		s.Index.ExpandClauseLimit = 10
	}
	if s.Index.DeleteByQueryBatchSize == 0 {
		s.Index.DeleteByQueryBatchSize = 100
	}
	if s.Testing {
		s.Index.Shards = 1
		s.Index.Replicas = 0
	}

	if s.Xref.Scroll == "" {
		s.Xref.Scroll = "5m"
	}
	if s.Xref.ScrollSize == 0 {
		s.Xref.ScrollSize = 1000
	}

	if s.Highlight.ContentType == "" {
		s.Highlight.ContentType = "unified"
	}
	if s.Highlight.FragmentSize == 0 {
		s.Highlight.FragmentSize = 200
	}
	if s.Highlight.NumberOfFragments == 0 {
		s.Highlight.NumberOfFragments = 5
	}
	if s.Highlight.MaxAnalyzedOffset == 0 {
		s.Highlight.MaxAnalyzedOffset = 999999
	}

	if s.Cache.TTL == 0 {
		s.Cache.TTL = 2 * time.Hour
	}
	if s.Cache.Prefix == "" {
		s.Cache.Prefix = "oas"
	}

	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "json"
	}
	if s.Logging.Output == "" {
		s.Logging.Output = "stderr"
	}
}

// Validate checks structural constraints on the settings.
func Validate(s *Settings) error {
	v := validator.New()
	if err := v.Struct(s); err != nil {
		return err
	}
	for _, version := range s.Index.Read {
		if strings.TrimSpace(version) == "" {
			return fmt.Errorf("empty read version in index.read")
		}
	}
	return nil
}

// SearchURLs returns the endpoint list for the search role.
func (s *Settings) SearchURLs() []string {
	return splitList(s.Elasticsearch.URL)
}

// IngestURLs returns the endpoint list for the ingest role, falling back to
// the search endpoints.
func (s *Settings) IngestURLs() []string {
	if s.Elasticsearch.IngestURL != "" {
		return splitList(s.Elasticsearch.IngestURL)
	}
	return s.SearchURLs()
}

// RefreshSync maps the per-call sync flag to a refresh value, honoring the
// global testing override.
func (s *Settings) RefreshSync(sync bool) bool {
	return s.Testing || sync
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envKey(name string) string {
	return envPrefix + name
}

func setString(target *string, name string) {
	if v := os.Getenv(envKey(name)); v != "" {
		*target = v
	}
}

func setStrings(target *[]string, name string) {
	if v := os.Getenv(envKey(name)); v != "" {
		*target = splitList(v)
	}
}

func setInt(target *int, name string) {
	if v := os.Getenv(envKey(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setFloat(target *float64, name string) {
	if v := os.Getenv(envKey(name)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setBool(target *bool, name string) {
	if v := os.Getenv(envKey(name)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// setDuration accepts Go duration strings and bare integer seconds.
func setDuration(target *time.Duration, name string) {
	v := os.Getenv(envKey(name))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*target = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*target = time.Duration(n) * time.Second
	}
}
