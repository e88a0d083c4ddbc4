package config

import "time"

// Config represents the full application configuration.
type Config struct {
	DataRoot      string              `yaml:"dataRoot"`
	Routes        map[string]Route    `yaml:"routes"`
	Store         StoreConfig         `yaml:"store"`
	Retention     RetentionConfig     `yaml:"retention"`
	Indexer       IndexerConfig       `yaml:"indexer"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Route configures a single receiving AE title and its forwarding
// destinations.
type Route struct {
	AETitle      string        `yaml:"aeTitle"`
	Destinations []Destination `yaml:"destinations"`
}

// Destination describes a single forwarding target for a route.
type Destination struct {
	Name          string `yaml:"name"`
	Kind          string `yaml:"kind"` // "file_tree" | "dicom_peer"
	Path          string `yaml:"path,omitempty"`
	Host          string `yaml:"host,omitempty"`
	Port          int    `yaml:"port,omitempty"`
	CalledAETitle string `yaml:"calledAETitle,omitempty"`
}

// StoreConfig configures the relational persistence layer.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RetentionConfig holds retention windows. StorageDays sets the
// StorageReaper's cutoff. MinuteCount, HourCount and DayCount are loaded
// but not read: the MetricsAggregator keeps fixed windows of 60 minute,
// 24 hour and 30 day points.
type RetentionConfig struct {
	StorageDays time.Duration `yaml:"storageDays"`
	MinuteCount int           `yaml:"minuteCount"`
	HourCount   int           `yaml:"hourCount"`
	DayCount    int           `yaml:"dayCount"`
}

// IndexerConfig configures the Indexer's worker pool. Workers sets the
// number of concurrent file parses; BatchSize is loaded but not read, as
// the Indexer uses a fixed batch of 100 files.
type IndexerConfig struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batchSize"`
}

// MetricsConfig holds a rollup cadence. RollupInterval is loaded but not
// read: the MetricsAggregator rolls up on a fixed one-minute ticker.
type MetricsConfig struct {
	RollupInterval time.Duration `yaml:"rollupInterval"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds a logging level. Level is loaded but not read: the
// process-wide StdLogger writes every level.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, error
}

// Merge combines multiple configuration instances, prioritising the
// latter ones. A non-empty DataRoot, store path or logging level
// replaces the base's; routes are unioned by key, an overlay route
// replacing a same-named base route whole; Retention and Indexer are
// replaced whole when the overlay sets any of their fields, so the
// overlay's zero fields then replace the base's too; Metrics is replaced
// when RollupInterval is set.
func Merge(configs ...Config) Config {
	result := Config{}
	for _, cfg := range configs {
		result = merge(result, cfg)
	}
	return result
}

func merge(base, overlay Config) Config {
	result := base

	if overlay.DataRoot != "" {
		result.DataRoot = overlay.DataRoot
	}
	result.Routes = mergeRoutes(base.Routes, overlay.Routes)
	result.Store = chooseStore(base.Store, overlay.Store)
	result.Retention = chooseRetention(base.Retention, overlay.Retention)
	result.Indexer = chooseIndexer(base.Indexer, overlay.Indexer)
	result.Metrics = chooseMetrics(base.Metrics, overlay.Metrics)
	result.Observability = chooseObservability(base.Observability, overlay.Observability)

	return result
}

func mergeRoutes(base, overlay map[string]Route) map[string]Route {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	result := make(map[string]Route, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		result[k] = v
	}
	return result
}

func chooseStore(base, overlay StoreConfig) StoreConfig {
	if overlay.Path != "" {
		return overlay
	}
	return base
}

func chooseRetention(base, overlay RetentionConfig) RetentionConfig {
	if overlay.StorageDays != 0 || overlay.MinuteCount != 0 || overlay.HourCount != 0 || overlay.DayCount != 0 {
		return overlay
	}
	return base
}

func chooseIndexer(base, overlay IndexerConfig) IndexerConfig {
	if overlay.Workers != 0 || overlay.BatchSize != 0 {
		return overlay
	}
	return base
}

func chooseMetrics(base, overlay MetricsConfig) MetricsConfig {
	if overlay.RollupInterval != 0 {
		return overlay
	}
	return base
}

func chooseObservability(base, overlay ObservabilityConfig) ObservabilityConfig {
	result := base
	if overlay.Logging.Level != "" {
		result.Logging = overlay.Logging
	}
	return result
}
