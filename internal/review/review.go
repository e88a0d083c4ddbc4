// Package review implements the file-backed pending/approved/rejected
// review workflow: a human approval gate between archival and
// forwarding.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/dicomgw/gateway/internal/archive"
	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/observability"
	"github.com/google/uuid"
)

// ApprovalCallback is invoked synchronously within ApproveReview once a
// pending review has been marked approved. Implementations that need
// throughput should hand off to a queue internally rather than block
// the coordinator.
type ApprovalCallback interface {
	OnApproved(ctx context.Context, review domain.ReviewMetadata, study archive.ArchivedStudy) error
}

var uidSanitizer = regexp.MustCompile(`[^A-Za-z0-9.\-]`)

func sanitizeUID(uid string) string {
	return uidSanitizer.ReplaceAllString(uid, "_")
}

// Coordinator is the ReviewCoordinator component.
type Coordinator struct {
	baseDir  string
	archive  *archive.Archive
	callback ApprovalCallback
	logger   observability.Logger

	mu sync.Mutex
}

// New returns a Coordinator rooted at baseDir, using arc to look up the
// archived study handed to the approval callback.
func New(baseDir string, arc *archive.Archive, callback ApprovalCallback, logger observability.Logger) *Coordinator {
	return &Coordinator{baseDir: baseDir, archive: arc, callback: callback, logger: logger}
}

func (c *Coordinator) pendingDir(aeTitle, studyUID string) string {
	return filepath.Join(c.baseDir, aeTitle, "pending_review", "study_"+sanitizeUID(studyUID))
}

func (c *Coordinator) rejectedDir(aeTitle, studyUID string) string {
	return filepath.Join(c.baseDir, aeTitle, "rejected", "study_"+sanitizeUID(studyUID))
}

// SubmitForReview creates the pending directory and writes
// review_metadata.json. A second submission for the same study
// overwrites — idempotency is the caller's responsibility.
func (c *Coordinator) SubmitForReview(aeTitle, studyUID, scriptName string, phiFieldsModified, warnings []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reviewID := uuid.NewString()
	dir := c.pendingDir(aeTitle, studyUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("review: submit %s/%s: %w", aeTitle, studyUID, err)
	}

	meta := domain.ReviewMetadata{
		ReviewID:          reviewID,
		StudyUID:          studyUID,
		AETitle:           aeTitle,
		ArchivePath:       dir,
		SubmittedAt:       time.Now(),
		Status:            domain.ReviewPending,
		ScriptUsed:        scriptName,
		PhiFieldsModified: phiFieldsModified,
		Warnings:          warnings,
	}

	if err := writeMetadata(filepath.Join(dir, "review_metadata.json"), meta); err != nil {
		return "", fmt.Errorf("review: submit %s/%s: %w", aeTitle, studyUID, err)
	}
	return reviewID, nil
}

// ApproveReview loads the pending metadata, requires it to be
// PENDING_REVIEW, invokes the approval callback synchronously, then
// deletes the pending directory regardless of callback outcome
// (callback errors are logged, not propagated). Returns false without
// side effects if no matching pending review exists or it is not
// PENDING_REVIEW.
func (c *Coordinator) ApproveReview(ctx context.Context, reviewID, userID, notes string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, meta, err := c.findPending(reviewID)
	if err != nil {
		return false, nil
	}
	if meta.Status != domain.ReviewPending {
		return false, nil
	}

	now := time.Now()
	meta.Status = domain.ReviewApproved
	meta.ReviewedAt = &now
	meta.ReviewedBy = userID
	meta.ReviewNotes = notes

	if c.callback != nil {
		study, err := c.archive.Read(meta.AETitle, meta.StudyUID)
		if err != nil {
			c.logger.LogError(ctx, "approval callback: could not read archived study", map[string]interface{}{
				"reviewId": reviewID, "err": err.Error(),
			})
		} else if err := c.callback.OnApproved(ctx, meta, study); err != nil {
			c.logger.LogError(ctx, "approval callback failed", map[string]interface{}{
				"reviewId": reviewID, "err": err.Error(),
			})
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("review: approve %s: remove pending dir: %w", reviewID, err)
	}
	return true, nil
}

// RejectReview writes rejection_metadata.json to rejected/ and deletes
// the pending directory. Returns false without side effects if the
// review is not pending.
func (c *Coordinator) RejectReview(reviewID, userID, reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, meta, err := c.findPending(reviewID)
	if err != nil {
		return false, nil
	}
	if meta.Status != domain.ReviewPending {
		return false, nil
	}

	now := time.Now()
	meta.Status = domain.ReviewRejected
	meta.ReviewedAt = &now
	meta.ReviewedBy = userID
	meta.RejectionReason = reason

	rejDir := c.rejectedDir(meta.AETitle, meta.StudyUID)
	if err := os.MkdirAll(rejDir, 0o755); err != nil {
		return false, fmt.Errorf("review: reject %s: %w", reviewID, err)
	}
	if err := writeMetadata(filepath.Join(rejDir, "rejection_metadata.json"), meta); err != nil {
		return false, fmt.Errorf("review: reject %s: %w", reviewID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("review: reject %s: remove pending dir: %w", reviewID, err)
	}
	return true, nil
}

// findPending searches every route's pending_review directory for a
// review_metadata.json whose reviewId matches.
func (c *Coordinator) findPending(reviewID string) (string, domain.ReviewMetadata, error) {
	routes, err := os.ReadDir(c.baseDir)
	if err != nil {
		return "", domain.ReviewMetadata{}, fmt.Errorf("review: list routes: %w", err)
	}

	for _, route := range routes {
		if !route.IsDir() {
			continue
		}
		pendingRoot := filepath.Join(c.baseDir, route.Name(), "pending_review")
		studies, err := os.ReadDir(pendingRoot)
		if err != nil {
			continue
		}
		for _, study := range studies {
			dir := filepath.Join(pendingRoot, study.Name())
			meta, err := readMetadata(filepath.Join(dir, "review_metadata.json"))
			if err != nil {
				continue
			}
			if meta.ReviewID == reviewID {
				return dir, meta, nil
			}
		}
	}
	return "", domain.ReviewMetadata{}, fmt.Errorf("review: %s not found", reviewID)
}

// GetPendingReviews lists pending reviews for one route.
func (c *Coordinator) GetPendingReviews(aeTitle string) ([]domain.ReviewMetadata, error) {
	pendingRoot := filepath.Join(c.baseDir, aeTitle, "pending_review")
	studies, err := os.ReadDir(pendingRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("review: list pending for %s: %w", aeTitle, err)
	}

	var out []domain.ReviewMetadata
	for _, study := range studies {
		meta, err := readMetadata(filepath.Join(pendingRoot, study.Name(), "review_metadata.json"))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// GetAllPendingReviews lists pending reviews across every route.
func (c *Coordinator) GetAllPendingReviews() ([]domain.ReviewMetadata, error) {
	routes, err := os.ReadDir(c.baseDir)
	if err != nil {
		return nil, fmt.Errorf("review: list routes: %w", err)
	}

	var out []domain.ReviewMetadata
	for _, route := range routes {
		if !route.IsDir() {
			continue
		}
		reviews, err := c.GetPendingReviews(route.Name())
		if err != nil {
			continue
		}
		out = append(out, reviews...)
	}
	return out, nil
}

// GetReview searches every route for a review by id.
func (c *Coordinator) GetReview(reviewID string) (domain.ReviewMetadata, error) {
	_, meta, err := c.findPending(reviewID)
	return meta, err
}

// GetReviewByStudyUID looks up a route's pending review directly by
// its sanitized study uid, avoiding a full scan.
func (c *Coordinator) GetReviewByStudyUID(aeTitle, studyUID string) (domain.ReviewMetadata, bool) {
	meta, err := readMetadata(filepath.Join(c.pendingDir(aeTitle, studyUID), "review_metadata.json"))
	if err != nil {
		return domain.ReviewMetadata{}, false
	}
	return meta, true
}

// GetRejectedStudies returns up to limit rejected reviews for a route,
// most recently reviewed first.
func (c *Coordinator) GetRejectedStudies(aeTitle string, limit int) ([]domain.ReviewMetadata, error) {
	rejectedRoot := filepath.Join(c.baseDir, aeTitle, "rejected")
	studies, err := os.ReadDir(rejectedRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("review: list rejected for %s: %w", aeTitle, err)
	}

	var out []domain.ReviewMetadata
	for _, study := range studies {
		meta, err := readMetadata(filepath.Join(rejectedRoot, study.Name(), "rejection_metadata.json"))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReviewedAt == nil || out[j].ReviewedAt == nil {
			return false
		}
		return out[i].ReviewedAt.After(*out[j].ReviewedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPendingReviewCount is a cheap count without full metadata parsing.
func (c *Coordinator) GetPendingReviewCount(aeTitle string) (int, error) {
	pendingRoot := filepath.Join(c.baseDir, aeTitle, "pending_review")
	studies, err := os.ReadDir(pendingRoot)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("review: count pending for %s: %w", aeTitle, err)
	}
	return len(studies), nil
}

func writeMetadata(path string, meta domain.ReviewMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readMetadata(path string) (domain.ReviewMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ReviewMetadata{}, err
	}
	var meta domain.ReviewMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.ReviewMetadata{}, err
	}
	return meta, nil
}
