package config_test

import (
	"testing"
	"time"

	"github.com/dicomgw/gateway/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestMerge_OverlayWinsWhenSet(t *testing.T) {
	base := config.Config{
		DataRoot: "/base",
		Store:    config.StoreConfig{Path: "/base/gateway.db"},
	}
	overlay := config.Config{
		DataRoot: "/overlay",
	}

	merged := config.Merge(base, overlay)

	assert.Equal(t, "/overlay", merged.DataRoot)
	assert.Equal(t, "/base/gateway.db", merged.Store.Path, "overlay left Store unset, base should survive")
}

func TestMerge_EmptyOverlayKeepsBase(t *testing.T) {
	base := config.Config{
		Retention: config.RetentionConfig{StorageDays: 30 * 24 * time.Hour, MinuteCount: 60},
	}
	merged := config.Merge(base, config.Config{})

	assert.Equal(t, base.Retention, merged.Retention)
}

func TestMerge_RoutesAreUnionedOverlayWins(t *testing.T) {
	base := config.Config{
		Routes: map[string]config.Route{
			"RTE_A": {AETitle: "RTE_A"},
		},
	}
	overlay := config.Config{
		Routes: map[string]config.Route{
			"RTE_A": {AETitle: "RTE_A", Destinations: []config.Destination{{Name: "pacs", Kind: "dicom_peer"}}},
			"RTE_B": {AETitle: "RTE_B"},
		},
	}

	merged := config.Merge(base, overlay)

	assert.Len(t, merged.Routes, 2)
	assert.Len(t, merged.Routes["RTE_A"].Destinations, 1)
}

func TestMerge_IndexerPartialOverlayReplacesWhole(t *testing.T) {
	base := config.Config{Indexer: config.IndexerConfig{Workers: 4, BatchSize: 100}}
	overlay := config.Config{Indexer: config.IndexerConfig{Workers: 8}}

	merged := config.Merge(base, overlay)

	assert.Equal(t, 8, merged.Indexer.Workers)
	assert.Equal(t, 0, merged.Indexer.BatchSize, "overlay with any non-zero field replaces the whole struct")
}

func TestMerge_ObservabilityMergesFieldwise(t *testing.T) {
	base := config.Config{Observability: config.ObservabilityConfig{Logging: config.LoggingConfig{Level: "debug"}}}
	merged := config.Merge(base, config.Config{})

	assert.Equal(t, "debug", merged.Observability.Logging.Level)
}

func TestMerge_MultipleLayersApplyInOrder(t *testing.T) {
	defaults := config.Config{DataRoot: "/defaults"}
	file := config.Config{DataRoot: "/file"}
	env := config.Config{}

	merged := config.Merge(defaults, file, env)

	assert.Equal(t, "/file", merged.DataRoot)
}
