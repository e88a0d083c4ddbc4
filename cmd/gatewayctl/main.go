package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dicomgw/gateway/internal/adapter/cli"
	jsonwriter "github.com/dicomgw/gateway/internal/adapter/output/json"
	"github.com/dicomgw/gateway/internal/adapter/store/sqlite"
	"github.com/dicomgw/gateway/internal/archive"
	"github.com/dicomgw/gateway/internal/compare"
	"github.com/dicomgw/gateway/internal/config"
	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/indexer"
	"github.com/dicomgw/gateway/internal/metrics"
	"github.com/dicomgw/gateway/internal/observability"
	"github.com/dicomgw/gateway/internal/reaper"
	"github.com/dicomgw/gateway/internal/review"
	"github.com/dicomgw/gateway/internal/tracker"
	"github.com/dicomgw/gateway/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: defaultConfigPaths(),
		FileName:    "gatewayctl",
		EnvPrefix:   "DICOMGW",
	})
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	logger := observability.NewStdLogger()

	storeDir := filepath.Dir(cfg.Store.Path)
	if storeDir != "." {
		if err := os.MkdirAll(storeDir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sqlite.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	arc := archive.New(cfg.DataRoot)

	aggregator := metrics.New(db, logger)
	if err := aggregator.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate metrics: %w", err)
	}
	aggregator.Start(ctx)
	defer aggregator.Stop()

	routeRecorder := &routeStatsRecorder{store: db, metrics: aggregator}
	trk := tracker.New(cfg.DataRoot, routeRecorder, logger)

	approvalCallback := &forwardOnApproval{tracker: trk, routes: cfg.Routes, logger: logger}
	reviewCoordinator := review.New(cfg.DataRoot, arc, approvalCallback, logger)

	ix := indexer.New(db, logger, cfg.Indexer.Workers)

	comparer := compare.New(arc, nil)

	retentionDays := int(cfg.Retention.StorageDays / (24 * time.Hour))
	if retentionDays <= 0 {
		retentionDays = 30
	}
	reap := reaper.New(cfg.DataRoot, retentionDays, logger)
	reap.Start(ctx)
	defer reap.Stop()

	nowFunc := func() string { return time.Now().UTC().Format("20060102T150405Z") }
	writer := jsonwriter.NewWriter(nowFunc)

	root := cli.NewRootCommand(cli.Dependencies{
		Indexer:       ix,
		Jobs:          db,
		Review:        reviewCoordinator,
		Transfers:     trk,
		Metrics:       aggregator,
		Compare:       comparer,
		Writer:        writer,
		RemoteQuerier: func() indexer.RemoteQuerier { return indexer.NewDicomNetQuerier() },
		Version:       version.Value(),
	})

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, cli.ErrVersionRequested) {
			return nil
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gatewayctl"))
	}
	return paths
}

// routeStatsRecorder fans a terminal transfer transition out to both
// the persistent per-route counters and the in-memory metrics
// aggregator's Prometheus counters, so the Tracker has a single
// collaborator to call at finishTransfer.
type routeStatsRecorder struct {
	store   tracker.RouteStatsRecorder
	metrics *metrics.Aggregator
}

func (r *routeStatsRecorder) UpdateRouteStats(ctx context.Context, aeTitle string, success bool, bytes int64, files int) error {
	if success {
		r.metrics.RecordTransferSuccess(aeTitle, bytes, files)
	} else {
		r.metrics.RecordTransferFailed(aeTitle)
	}
	return r.store.UpdateRouteStats(ctx, aeTitle, success, bytes, files)
}

// forwardOnApproval is the ApprovalCallback that advances a study's
// in-flight transfer into FORWARDING once a human reviewer has
// approved its anonymization, resolving the destination names from
// the route the transfer was received on.
type forwardOnApproval struct {
	tracker *tracker.Tracker
	routes  map[string]config.Route
	logger  observability.Logger
}

func (f *forwardOnApproval) OnApproved(ctx context.Context, rv domain.ReviewMetadata, study archive.ArchivedStudy) error {
	destinations := routeDestinations(f.routes, rv.AETitle)
	if len(destinations) == 0 {
		f.logger.LogWarning(ctx, "approved study has no configured destinations", map[string]interface{}{
			"aeTitle": rv.AETitle, "studyUid": rv.StudyUID,
		})
		return nil
	}

	transfers := f.tracker.GetTransfersByStudyUID(rv.StudyUID)
	if len(transfers) == 0 {
		return fmt.Errorf("no in-flight transfer found for study %s", rv.StudyUID)
	}

	for _, t := range transfers {
		if err := f.tracker.StartForwarding(t.TransferID, destinations); err != nil {
			return fmt.Errorf("start forwarding %s: %w", t.TransferID, err)
		}
	}
	return nil
}

func routeDestinations(routes map[string]config.Route, aeTitle string) []string {
	route, ok := routes[aeTitle]
	if !ok {
		return nil
	}
	names := make([]string, len(route.Destinations))
	for i, d := range route.Destinations {
		names[i] = d.Name
	}
	return names
}
