package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5001
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/chaja/data/index"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/chaja/data/db/items.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/chaja/data/indices/bleve"
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:8100/embed"
	}
	if cfg.Embedding.CaptionEndpoint == "" {
		cfg.Embedding.CaptionEndpoint = "http://localhost:8100/caption"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 768
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 60
	}
	if cfg.Index.Kind == "" {
		cfg.Index.Kind = IndexKindExact
	}
	if cfg.Index.PersistBatchSize == 0 {
		cfg.Index.PersistBatchSize = 10
	}
	if cfg.Index.ApproxBuildFanout == 0 {
		cfg.Index.ApproxBuildFanout = 16
	}
	if cfg.Index.ApproxBuildSearchWidth == 0 {
		cfg.Index.ApproxBuildSearchWidth = 200
	}
	if cfg.Index.ApproxQuerySearchWidth == 0 {
		cfg.Index.ApproxQuerySearchWidth = 64
	}
	if cfg.Index.LockRetries == 0 {
		cfg.Index.LockRetries = 5
	}
	if cfg.Index.LockRetryDelayMS == 0 {
		cfg.Index.LockRetryDelayMS = 50
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.MinSimilarity == 0 {
		cfg.Search.MinSimilarity = 0.3
	}
	if cfg.Search.MinResultsFloor == 0 {
		cfg.Search.MinResultsFloor = 3
	}
	if cfg.Search.OversampleFactor == 0 {
		cfg.Search.OversampleFactor = 3
	}
	if cfg.Search.OversampleMargin == 0 {
		cfg.Search.OversampleMargin = 50
	}
}
