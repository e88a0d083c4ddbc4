package cli_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dicomgw/gateway/internal/adapter/cli"
	"github.com/dicomgw/gateway/internal/compare"
	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/indexer"
)

type indexerStub struct {
	startFSID       string
	startFSErr      error
	startFSRoot     string
	startFSRoute    string
	startRemoteID   string
	startRemoteErr  error
	cancelled       bool
	currentJobID    string
	currentJobFound bool
}

func (s *indexerStub) StartFilesystemScan(ctx context.Context, root, sourceRoute string) (string, error) {
	s.startFSRoot = root
	s.startFSRoute = sourceRoute
	return s.startFSID, s.startFSErr
}

func (s *indexerStub) StartRemoteScan(ctx context.Context, querier indexer.RemoteQuerier, params indexer.RemoteScanParams, from, to string, size indexer.ChunkSize) (string, error) {
	return s.startRemoteID, s.startRemoteErr
}

func (s *indexerStub) CancelCurrentJob() bool {
	return s.cancelled
}

func (s *indexerStub) CurrentJobID() (string, bool) {
	return s.currentJobID, s.currentJobFound
}

type jobStoreStub struct {
	job domain.ReindexJob
	err error
}

func (s *jobStoreStub) GetReindexJob(ctx context.Context, id string) (domain.ReindexJob, error) {
	return s.job, s.err
}

func (s *jobStoreStub) GetLatestReindexJob(ctx context.Context) (domain.ReindexJob, error) {
	return s.job, s.err
}

type reviewStub struct {
	pending      []domain.ReviewMetadata
	approveOK    bool
	approveErr   error
	rejectOK     bool
	rejectErr    error
	approvedID   string
	rejectedID   string
	rejectReason string
}

func (s *reviewStub) GetAllPendingReviews() ([]domain.ReviewMetadata, error) {
	return s.pending, nil
}

func (s *reviewStub) GetPendingReviews(aeTitle string) ([]domain.ReviewMetadata, error) {
	return s.pending, nil
}

func (s *reviewStub) ApproveReview(ctx context.Context, reviewID, userID, notes string) (bool, error) {
	s.approvedID = reviewID
	return s.approveOK, s.approveErr
}

func (s *reviewStub) RejectReview(reviewID, userID, reason string) (bool, error) {
	s.rejectedID = reviewID
	s.rejectReason = reason
	return s.rejectOK, s.rejectErr
}

type transfersStub struct {
	active  []domain.TransferRecord
	history []domain.TransferRecord
}

func (s *transfersStub) GetActiveTransfers(aeTitle string) []domain.TransferRecord {
	return s.active
}

func (s *transfersStub) GetTransferHistory(aeTitle string, limit int) ([]domain.TransferRecord, error) {
	return s.history, nil
}

type metricsStub struct {
	routes          []domain.RouteStats
	transfersPerMin float64
	bytesPerMin     float64
	minutePoints    []domain.MetricPoint
}

func (s *metricsStub) RouteSummary(ctx context.Context, aeTitle string) (domain.RouteStats, error) {
	for _, r := range s.routes {
		if r.AETitle == aeTitle {
			return r, nil
		}
	}
	return domain.RouteStats{AETitle: aeTitle}, nil
}

func (s *metricsStub) AllRouteSummaries(ctx context.Context) ([]domain.RouteStats, error) {
	return s.routes, nil
}

func (s *metricsStub) CurrentThroughput() (float64, float64) {
	return s.transfersPerMin, s.bytesPerMin
}

func (s *metricsStub) RouteMinutePoints(aeTitle string) []domain.MetricPoint {
	return s.minutePoints
}

type compareStub struct {
	result compare.StudyComparison
	err    error
}

func (s *compareStub) Compare(aeTitle, studyUID, brokerName string) (compare.StudyComparison, error) {
	return s.result, s.err
}

type writerStub struct {
	path      string
	err       error
	outputDir string
	name      string
	value     interface{}
}

func (s *writerStub) Write(ctx context.Context, outputDir, name string, v interface{}) (string, error) {
	s.outputDir = outputDir
	s.name = name
	s.value = v
	return s.path, s.err
}

func newTestRoot(t *testing.T) (*cli.Dependencies, *strings.Builder) {
	t.Helper()
	out := &strings.Builder{}
	deps := cli.Dependencies{
		Indexer:   &indexerStub{},
		Jobs:      &jobStoreStub{},
		Review:    &reviewStub{},
		Transfers: &transfersStub{},
		Metrics:   &metricsStub{},
		Compare:   &compareStub{},
		Writer:    &writerStub{path: "report.json"},
		Args:      cli.Arguments{OutWriter: out, ErrWriter: io.Discard},
		Version:   "v1.0.0",
	}
	return &deps, out
}

func TestReindexStartFSRequiresRoot(t *testing.T) {
	deps, _ := newTestRoot(t)
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"reindex", "start-fs"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error when --root is missing")
	}
}

func TestReindexStartFSInvokesIndexer(t *testing.T) {
	deps, out := newTestRoot(t)
	stub := &indexerStub{startFSID: "job-123"}
	deps.Indexer = stub
	root := cli.NewRootCommand(*deps)

	root.SetArgs([]string{"reindex", "start-fs", "--root", "/data/incoming", "--route", "RTE_A"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if stub.startFSRoot != "/data/incoming" || stub.startFSRoute != "RTE_A" {
		t.Fatalf("indexer not invoked with expected args: %+v", stub)
	}
	if !strings.Contains(out.String(), "job-123") {
		t.Fatalf("expected output to mention job id, got %q", out.String())
	}
}

func TestReindexCancelReportsNoJob(t *testing.T) {
	deps, out := newTestRoot(t)
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"reindex", "cancel"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if !strings.Contains(out.String(), "no reindex job") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestReindexStatusPrintsJob(t *testing.T) {
	deps, out := newTestRoot(t)
	deps.Jobs = &jobStoreStub{job: domain.ReindexJob{
		ID:         "job-9",
		Status:     domain.ReindexCompleted,
		TotalFiles: 10,
		Processed:  10,
	}}
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"reindex", "status"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if !strings.Contains(out.String(), "job-9") || !strings.Contains(out.String(), "completed") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestReviewListShowsNoneWhenEmpty(t *testing.T) {
	deps, out := newTestRoot(t)
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"review", "list"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if !strings.Contains(out.String(), "no studies pending review") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestReviewApproveInvokesCoordinator(t *testing.T) {
	deps, out := newTestRoot(t)
	stub := &reviewStub{approveOK: true}
	deps.Review = stub
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"review", "approve", "rev-1", "--user", "alice"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if stub.approvedID != "rev-1" {
		t.Fatalf("expected review rev-1 to be approved, got %q", stub.approvedID)
	}
	if !strings.Contains(out.String(), "approved") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestReviewRejectRequiresReason(t *testing.T) {
	deps, _ := newTestRoot(t)
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"review", "reject", "rev-1", "--user", "alice"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error when --reason is missing")
	}
}

func TestTransfersActiveListsRecords(t *testing.T) {
	deps, out := newTestRoot(t)
	deps.Transfers = &transfersStub{active: []domain.TransferRecord{
		{TransferID: "t1", AETitle: "RTE_A", StudyUID: "1.2", Status: domain.TransferForwarding, FileCount: 3, TotalSize: 4096},
	}}
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"transfers", "active"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if !strings.Contains(out.String(), "t1") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestMetricsShowPrintsThroughputAndRoutes(t *testing.T) {
	deps, out := newTestRoot(t)
	deps.Metrics = &metricsStub{
		transfersPerMin: 2.5,
		bytesPerMin:     1024,
		routes:          []domain.RouteStats{{AETitle: "RTE_A", TotalTransfers: 10}},
	}
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"metrics", "show"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if !strings.Contains(out.String(), "RTE_A") || !strings.Contains(out.String(), "2.50") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestCompareWithoutOutputPrintsSummary(t *testing.T) {
	deps, out := newTestRoot(t)
	deps.Compare = &compareStub{result: compare.StudyComparison{ScanCount: 2, FileCount: 10, ScriptUsed: "anon.py"}}
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"compare", "RTE_A", "1.2.3"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if !strings.Contains(out.String(), "scanCount=2") || !strings.Contains(out.String(), "anon.py") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestCompareWithOutputWritesReport(t *testing.T) {
	deps, out := newTestRoot(t)
	writer := &writerStub{path: "/tmp/reports/comparison.json"}
	deps.Writer = writer
	deps.Compare = &compareStub{result: compare.StudyComparison{ScanCount: 1}}
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"compare", "RTE_A", "1.2.3", "--output", "/tmp/reports"})
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}
	if writer.outputDir != "/tmp/reports" {
		t.Fatalf("expected writer to receive output dir, got %q", writer.outputDir)
	}
	if !strings.Contains(out.String(), "/tmp/reports/comparison.json") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestVersionFlagEmitsVersion(t *testing.T) {
	deps, out := newTestRoot(t)
	deps.Version = "v9.9.9"
	root := cli.NewRootCommand(*deps)
	root.SetArgs([]string{"--version"})
	err := root.Execute()
	if !errors.Is(err, cli.ErrVersionRequested) {
		t.Fatalf("expected version sentinel, got %v", err)
	}
	if strings.TrimSpace(out.String()) != "v9.9.9" {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}
