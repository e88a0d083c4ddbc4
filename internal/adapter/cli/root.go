// Package cli implements gatewayctl, the operator command line for the
// DICOM routing and compliance gateway.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dicomgw/gateway/internal/compare"
	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/indexer"
)

// ArtifactWriter persists an arbitrary value as a JSON file, used to
// export a comparison report to disk.
type ArtifactWriter interface {
	Write(ctx context.Context, outputDir, name string, v interface{}) (string, error)
}

// CompareService is the subset of the ComparisonEngine the CLI drives.
type CompareService interface {
	Compare(aeTitle, studyUID, brokerName string) (compare.StudyComparison, error)
}

// ErrVersionRequested indicates the user requested the CLI version and no further work should be done.
var ErrVersionRequested = errors.New("version requested")

// IndexerService is the subset of the Indexer's behavior the CLI drives.
type IndexerService interface {
	StartFilesystemScan(ctx context.Context, root, sourceRoute string) (string, error)
	StartRemoteScan(ctx context.Context, querier indexer.RemoteQuerier, params indexer.RemoteScanParams, from, to string, size indexer.ChunkSize) (string, error)
	CancelCurrentJob() bool
	CurrentJobID() (string, bool)
}

// JobStore looks up reindex job bookkeeping for status reporting.
type JobStore interface {
	GetReindexJob(ctx context.Context, id string) (domain.ReindexJob, error)
	GetLatestReindexJob(ctx context.Context) (domain.ReindexJob, error)
}

// ReviewService is the subset of the ReviewCoordinator the CLI drives.
type ReviewService interface {
	GetAllPendingReviews() ([]domain.ReviewMetadata, error)
	GetPendingReviews(aeTitle string) ([]domain.ReviewMetadata, error)
	ApproveReview(ctx context.Context, reviewID, userID, notes string) (bool, error)
	RejectReview(reviewID, userID, reason string) (bool, error)
}

// TransferService is the subset of the Tracker the CLI drives.
type TransferService interface {
	GetActiveTransfers(aeTitle string) []domain.TransferRecord
	GetTransferHistory(aeTitle string, limit int) ([]domain.TransferRecord, error)
}

// MetricsService is the subset of the MetricsAggregator the CLI drives.
type MetricsService interface {
	RouteSummary(ctx context.Context, aeTitle string) (domain.RouteStats, error)
	AllRouteSummaries(ctx context.Context) ([]domain.RouteStats, error)
	CurrentThroughput() (transfersPerMin, bytesPerMin float64)
	RouteMinutePoints(aeTitle string) []domain.MetricPoint
}

// RemoteQuerierFactory builds the C-FIND collaborator used by a remote
// reindex scan. Kept as a factory rather than a field so the CLI does not
// need to know about the network transport at wiring time.
type RemoteQuerierFactory func() indexer.RemoteQuerier

// Arguments encapsulates IO writers injected from the host process.
type Arguments struct {
	OutWriter io.Writer
	ErrWriter io.Writer
}

// Dependencies captures the collaborators for the CLI.
type Dependencies struct {
	Indexer       IndexerService
	Jobs          JobStore
	Review        ReviewService
	Transfers     TransferService
	Metrics       MetricsService
	Compare       CompareService
	Writer        ArtifactWriter
	RemoteQuerier RemoteQuerierFactory
	Args          Arguments
	Version       string
}

// NewRootCommand constructs the root Cobra command.
func NewRootCommand(deps Dependencies) *cobra.Command {
	versionString := deps.Version
	if versionString == "" {
		versionString = "v0.0.0"
	}

	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Operate the DICOM routing and compliance gateway",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	outWriter := deps.Args.OutWriter
	if outWriter == nil {
		outWriter = os.Stdout
	}
	errWriter := deps.Args.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}
	root.SetOut(outWriter)
	root.SetErr(errWriter)

	root.AddCommand(reindexCommand(deps))
	root.AddCommand(reviewCommand(deps))
	root.AddCommand(transfersCommand(deps))
	root.AddCommand(metricsCommand(deps))
	root.AddCommand(compareCommand(deps))

	var showVersion bool
	root.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
	versionHandler := func(cmd *cobra.Command, args []string) error {
		if showVersion {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), versionString)
			return ErrVersionRequested
		}
		return nil
	}
	root.PersistentPreRunE = versionHandler
	root.PreRunE = versionHandler
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if err := versionHandler(cmd, args); err != nil {
			return err
		}
		return cmd.Help()
	}

	return root
}

func reindexCommand(deps Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Manage the filesystem and remote index scans",
	}
	cmd.AddCommand(reindexStartFSCommand(deps))
	cmd.AddCommand(reindexStartRemoteCommand(deps))
	cmd.AddCommand(reindexCancelCommand(deps))
	cmd.AddCommand(reindexStatusCommand(deps))
	return cmd
}

func reindexStartFSCommand(deps Dependencies) *cobra.Command {
	var root string
	var route string

	cmd := &cobra.Command{
		Use:   "start-fs",
		Short: "Scan a filesystem tree and index any DICOM files found",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				return fmt.Errorf("--root is required")
			}
			id, err := deps.Indexer.StartFilesystemScan(cmd.Context(), root, route)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "started reindex job %s\n", id)
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Filesystem root to scan")
	cmd.Flags().StringVar(&route, "route", "", "Source route label to attach to indexed studies")
	return cmd
}

func reindexStartRemoteCommand(deps Dependencies) *cobra.Command {
	var host string
	var port int
	var callingAE string
	var calledAE string
	var route string
	var from string
	var to string
	var chunkSize string

	cmd := &cobra.Command{
		Use:   "start-remote",
		Short: "Query a remote DICOM peer via C-FIND and index the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" || callingAE == "" || calledAE == "" {
				return fmt.Errorf("--host, --calling-ae and --called-ae are required")
			}
			if deps.RemoteQuerier == nil {
				return fmt.Errorf("no remote query transport configured")
			}
			params := indexer.RemoteScanParams{
				Host:           host,
				Port:           port,
				CallingAETitle: callingAE,
				CalledAETitle:  calledAE,
				SourceRoute:    route,
			}
			id, err := deps.Indexer.StartRemoteScan(cmd.Context(), deps.RemoteQuerier(), params, from, to, indexer.ChunkSize(strings.ToUpper(chunkSize)))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "started reindex job %s\n", id)
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Remote AE hostname or IP")
	cmd.Flags().IntVar(&port, "port", 104, "Remote AE port")
	cmd.Flags().StringVar(&callingAE, "calling-ae", "", "Calling AE title")
	cmd.Flags().StringVar(&calledAE, "called-ae", "", "Called AE title")
	cmd.Flags().StringVar(&route, "route", "", "Source route label to attach to indexed studies")
	cmd.Flags().StringVar(&from, "from", "", "Range start date, YYYYMMDD")
	cmd.Flags().StringVar(&to, "to", "", "Range end date, YYYYMMDD")
	cmd.Flags().StringVar(&chunkSize, "chunk-size", "NONE", "Date range chunking: HOURLY, DAILY, WEEKLY, MONTHLY, YEARLY, NONE")
	return cmd
}

func reindexCancelCommand(deps Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the currently running reindex job, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !deps.Indexer.CancelCurrentJob() {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no reindex job is currently running")
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "cancellation requested")
			return err
		},
	}
}

func reindexStatusCommand(deps Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the status of a reindex job, or the most recent one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job domain.ReindexJob
			var err error
			if len(args) == 1 {
				job, err = deps.Jobs.GetReindexJob(cmd.Context(), args[0])
			} else {
				job, err = deps.Jobs.GetLatestReindexJob(cmd.Context())
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%s\n", job.ID)
			fmt.Fprintf(w, "STATUS\t%s\n", job.Status)
			fmt.Fprintf(w, "TOTAL\t%d\n", job.TotalFiles)
			fmt.Fprintf(w, "PROCESSED\t%d\n", job.Processed)
			fmt.Fprintf(w, "ERRORS\t%d\n", job.Errors)
			fmt.Fprintf(w, "MESSAGE\t%s\n", job.Message)
			return w.Flush()
		},
	}
}

func reviewCommand(deps Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manage studies held for anonymization compliance review",
	}
	cmd.AddCommand(reviewListCommand(deps))
	cmd.AddCommand(reviewApproveCommand(deps))
	cmd.AddCommand(reviewRejectCommand(deps))
	return cmd
}

func reviewListCommand(deps Dependencies) *cobra.Command {
	var aeTitle string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List studies pending compliance review",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reviews []domain.ReviewMetadata
			var err error
			if aeTitle == "" {
				reviews, err = deps.Review.GetAllPendingReviews()
			} else {
				reviews, err = deps.Review.GetPendingReviews(aeTitle)
			}
			if err != nil {
				return err
			}
			if len(reviews) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no studies pending review")
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "REVIEW ID\tAE TITLE\tSTUDY UID\tSUBMITTED\tSCRIPT")
			for _, r := range reviews {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ReviewID, r.AETitle, r.StudyUID, r.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"), r.ScriptUsed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&aeTitle, "ae-title", "", "Restrict to a single route's pending reviews")
	return cmd
}

func reviewApproveCommand(deps Dependencies) *cobra.Command {
	var user string
	var notes string
	cmd := &cobra.Command{
		Use:   "approve [review-id]",
		Short: "Approve a held study for forwarding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := deps.Review.ApproveReview(cmd.Context(), args[0], user, notes)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("review %s was not approved", args[0])
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "review %s approved\n", args[0])
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Reviewer user ID")
	cmd.Flags().StringVar(&notes, "notes", "", "Optional review notes")
	return cmd
}

func reviewRejectCommand(deps Dependencies) *cobra.Command {
	var user string
	var reason string
	cmd := &cobra.Command{
		Use:   "reject [review-id]",
		Short: "Reject a held study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			ok, err := deps.Review.RejectReview(args[0], user, reason)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("review %s was not rejected", args[0])
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "review %s rejected\n", args[0])
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Reviewer user ID")
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	return cmd
}

func transfersCommand(deps Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Inspect in-flight and historical transfers",
	}
	cmd.AddCommand(transfersActiveCommand(deps))
	cmd.AddCommand(transfersHistoryCommand(deps))
	return cmd
}

func transfersActiveCommand(deps Dependencies) *cobra.Command {
	var aeTitle string
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List transfers that have not yet reached a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			transfers := deps.Transfers.GetActiveTransfers(aeTitle)
			return printTransfers(cmd.OutOrStdout(), transfers)
		},
	}
	cmd.Flags().StringVar(&aeTitle, "ae-title", "", "Restrict to a single route")
	return cmd
}

func transfersHistoryCommand(deps Dependencies) *cobra.Command {
	var aeTitle string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			transfers, err := deps.Transfers.GetTransferHistory(aeTitle, limit)
			if err != nil {
				return err
			}
			return printTransfers(cmd.OutOrStdout(), transfers)
		},
	}
	cmd.Flags().StringVar(&aeTitle, "ae-title", "", "Restrict to a single route")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records to return")
	return cmd
}

func printTransfers(out io.Writer, transfers []domain.TransferRecord) error {
	if len(transfers) == 0 {
		_, err := fmt.Fprintln(out, "no transfers found")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSFER ID\tAE TITLE\tSTUDY UID\tSTATUS\tFILES\tBYTES")
	for _, tr := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", tr.TransferID, tr.AETitle, tr.StudyUID, tr.Status, tr.FileCount, tr.TotalSize)
	}
	return w.Flush()
}

func compareCommand(deps Dependencies) *cobra.Command {
	var broker string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "compare [ae-title] [study-uid]",
		Short: "Compare an original and anonymized study and write a report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := deps.Compare.Compare(args[0], args[1], broker)
			if err != nil {
				return err
			}
			if outputDir == "" {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "scanCount=%d fileCount=%d scriptUsed=%s\n", result.ScanCount, result.FileCount, result.ScriptUsed)
				return err
			}
			path, err := deps.Writer.Write(cmd.Context(), outputDir, fmt.Sprintf("%s_%s", args[0], args[1]), result)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "comparison report written to %s\n", path)
			return err
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "", "Crosswalk broker name, when the route hashes UIDs")
	cmd.Flags().StringVar(&outputDir, "output", "", "Directory to write the comparison report as JSON; when omitted, only a one-line summary is printed")
	return cmd
}

func metricsCommand(deps Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show route throughput and rolling metrics",
	}
	cmd.AddCommand(metricsShowCommand(deps))
	return cmd
}

func metricsShowCommand(deps Dependencies) *cobra.Command {
	var aeTitle string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show cumulative and current-throughput metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			transfersPerMin, bytesPerMin := deps.Metrics.CurrentThroughput()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "current throughput: %.2f transfers/min, %.2f bytes/min\n", transfersPerMin, bytesPerMin)
			if err != nil {
				return err
			}

			var routes []domain.RouteStats
			if aeTitle == "" {
				routes, err = deps.Metrics.AllRouteSummaries(cmd.Context())
			} else {
				var stats domain.RouteStats
				stats, err = deps.Metrics.RouteSummary(cmd.Context(), aeTitle)
				routes = []domain.RouteStats{stats}
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "AE TITLE\tTRANSFERS\tSUCCESSFUL\tFAILED\tBYTES")
			for _, r := range routes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.AETitle, strconv.FormatInt(r.TotalTransfers, 10), strconv.FormatInt(r.SuccessfulTransfers, 10), strconv.FormatInt(r.FailedTransfers, 10), strconv.FormatInt(r.TotalBytes, 10))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if aeTitle != "" {
				points := deps.Metrics.RouteMinutePoints(aeTitle)
				mw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(mw, "MINUTE\tTRANSFERS\tSUCCESSFUL\tFAILED\tBYTES\tFILES")
				for _, p := range points {
					fmt.Fprintf(mw, "%d\t%s\t%s\t%s\t%s\t%s\n", p.Timestamp, strconv.FormatInt(p.Transfers, 10), strconv.FormatInt(p.Successful, 10), strconv.FormatInt(p.Failed, 10), strconv.FormatInt(p.Bytes, 10), strconv.FormatInt(p.Files, 10))
				}
				return mw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&aeTitle, "ae-title", "", "Restrict to a single route, and show its per-minute range")
	return cmd
}
