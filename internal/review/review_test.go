package review_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dicomgw/gateway/internal/archive"
	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/observability"
	"github.com/dicomgw/gateway/internal/review"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallback struct {
	calls []domain.ReviewMetadata
	err   error
}

func (f *fakeCallback) OnApproved(ctx context.Context, meta domain.ReviewMetadata, study archive.ArchivedStudy) error {
	f.calls = append(f.calls, meta)
	return f.err
}

func setup(t *testing.T, cb review.ApprovalCallback) (*review.Coordinator, *archive.Archive, string) {
	t.Helper()
	base := t.TempDir()
	arc := archive.New(base)
	c := review.New(base, arc, cb, observability.NewStdLogger())
	return c, arc, base
}

func stageStudy(t *testing.T, arc *archive.Archive, aeTitle, studyUID string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dcm")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	_, err := arc.Stage(aeTitle, studyUID, []archive.SourceFile{{RelPath: "f.dcm", AbsPath: path}})
	require.NoError(t, err)
}

func TestCoordinator_SubmitAndApprove(t *testing.T) {
	cb := &fakeCallback{}
	c, arc, base := setup(t, cb)
	stageStudy(t, arc, "RTE_A", "1.2.3")

	reviewID, err := c.SubmitForReview("RTE_A", "1.2.3", "deid-v3", []string{"PatientName"}, nil)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(base, "RTE_A", "pending_review", "study_1.2.3"))

	ok, err := c.ApproveReview(context.Background(), reviewID, "alice", "looks good")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoDirExists(t, filepath.Join(base, "RTE_A", "pending_review", "study_1.2.3"))
	require.Len(t, cb.calls, 1)
	assert.Equal(t, domain.ReviewApproved, cb.calls[0].Status)
}

func TestCoordinator_ApproveAlreadyApproved_ReturnsFalse(t *testing.T) {
	cb := &fakeCallback{}
	c, arc, _ := setup(t, cb)
	stageStudy(t, arc, "RTE_A", "1.2.3")

	reviewID, err := c.SubmitForReview("RTE_A", "1.2.3", "deid-v3", nil, nil)
	require.NoError(t, err)

	ok, err := c.ApproveReview(context.Background(), reviewID, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ApproveReview(context.Background(), reviewID, "alice", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, cb.calls, 1, "second approve must not re-invoke callback")
}

func TestCoordinator_Reject(t *testing.T) {
	c, arc, base := setup(t, nil)
	stageStudy(t, arc, "RTE_A", "1.2.3")

	reviewID, err := c.SubmitForReview("RTE_A", "1.2.3", "deid-v3", nil, nil)
	require.NoError(t, err)

	ok, err := c.RejectReview(reviewID, "bob", "PHI leak in overlay")
	require.NoError(t, err)
	assert.True(t, ok)

	rejectedPath := filepath.Join(base, "RTE_A", "rejected", "study_1.2.3", "rejection_metadata.json")
	assert.FileExists(t, rejectedPath)
	assert.NoDirExists(t, filepath.Join(base, "RTE_A", "pending_review", "study_1.2.3"))

	ok, err = c.RejectReview(reviewID, "bob", "again")
	require.NoError(t, err)
	assert.False(t, ok, "rejecting a rejected review is a no-op")
}

func TestCoordinator_CallbackErrorStillRemovesDir(t *testing.T) {
	cb := &fakeCallback{err: assertError{}}
	c, arc, base := setup(t, cb)
	stageStudy(t, arc, "RTE_A", "1.2.3")

	reviewID, err := c.SubmitForReview("RTE_A", "1.2.3", "deid-v3", nil, nil)
	require.NoError(t, err)

	ok, err := c.ApproveReview(context.Background(), reviewID, "alice", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoDirExists(t, filepath.Join(base, "RTE_A", "pending_review", "study_1.2.3"))
}

type assertError struct{}

func (assertError) Error() string { return "callback failed" }

func TestCoordinator_GetPendingReviews(t *testing.T) {
	c, arc, _ := setup(t, nil)
	stageStudy(t, arc, "RTE_A", "1.2.3")
	stageStudy(t, arc, "RTE_A", "1.2.4")

	_, err := c.SubmitForReview("RTE_A", "1.2.3", "deid-v3", nil, nil)
	require.NoError(t, err)
	_, err = c.SubmitForReview("RTE_A", "1.2.4", "deid-v3", nil, nil)
	require.NoError(t, err)

	pending, err := c.GetPendingReviews("RTE_A")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	count, err := c.GetPendingReviewCount("RTE_A")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
