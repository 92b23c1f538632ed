// Package config provides configuration loading and structs for the Chaja server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the item database and indices.
type StorageConfig struct {
	// DataDir holds the vector index snapshot, mapping snapshot, and lock file.
	DataDir string `yaml:"data_dir"`
	// DatabasePath is the SQLite item metadata database.
	DatabasePath string `yaml:"database_path"`
	// KeywordIndexPath is the Bleve index over item text.
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds embedding gateway settings.
type EmbeddingConfig struct {
	// Endpoint is the text embedding endpoint of the model server.
	Endpoint string `yaml:"endpoint"`
	// CaptionEndpoint is the image captioning endpoint of the model server.
	CaptionEndpoint string `yaml:"caption_endpoint"`
	Dimension       int    `yaml:"dimension"`
	CacheSize       int    `yaml:"cache_size"`
	// TimeoutSeconds bounds a single gateway call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the gateway call timeout as a duration.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// IndexKind selects the vector index implementation.
type IndexKind string

const (
	// IndexKindExact uses brute-force inner-product search with physical removal.
	IndexKindExact IndexKind = "exact"
	// IndexKindApproximate uses a graph index; deletions are mapping-only.
	IndexKindApproximate IndexKind = "approximate"
)

// IndexConfig holds vector index store settings.
type IndexConfig struct {
	Kind IndexKind `yaml:"kind"`
	// PersistBatchSize defers snapshot writes for up to this many additions.
	PersistBatchSize int `yaml:"persist_batch_size"`
	// ApproxBuildFanout is the graph out-degree used during construction.
	ApproxBuildFanout int `yaml:"approx_build_fanout"`
	// ApproxBuildSearchWidth is the candidate width during construction.
	ApproxBuildSearchWidth int `yaml:"approx_build_search_width"`
	// ApproxQuerySearchWidth is the minimum candidate width during queries.
	ApproxQuerySearchWidth int `yaml:"approx_query_search_width"`
	// LockRetries bounds non-blocking lock attempts before the blocking fallback.
	LockRetries int `yaml:"lock_retries"`
	// LockRetryDelayMS is the base backoff between lock attempts.
	LockRetryDelayMS int `yaml:"lock_retry_delay_ms"`
}

// SearchConfig holds retrieval and ranking settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
	// MinSimilarity drops raw candidates below this inner-product value.
	MinSimilarity float64 `yaml:"min_similarity"`
	// MinResultsFloor relaxes the threshold when fewer candidates survive.
	MinResultsFloor int `yaml:"min_results_floor"`
	// OversampleFactor retrieves factor*k candidates before gating.
	OversampleFactor int `yaml:"oversample_factor"`
	// OversampleMargin retrieves at least k+margin candidates before gating.
	OversampleMargin int `yaml:"oversample_margin"`
	// KeywordBackfill enables keyword-index backfill when vector candidates run short.
	KeywordBackfill bool `yaml:"keyword_backfill"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
