package archive_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dicomgw/gateway/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "instance.dcm")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestArchive_StageAndRead(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	src := writeTempFile(t, "original bytes")
	dir, err := a.Stage("ROUTE1", "1.2.3", []archive.SourceFile{
		{RelPath: "instance.dcm", AbsPath: src},
	})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "originals"))

	got, err := a.Read("ROUTE1", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "ROUTE1", got.AETitle)
	assert.FileExists(t, filepath.Join(got.OriginalsDir, "instance.dcm"))
	assert.Nil(t, got.AuditReport)
}

func TestArchive_PutAnonymizedAndAuditReport(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	src := writeTempFile(t, "original bytes")
	_, err := a.Stage("ROUTE1", "1.2.3", []archive.SourceFile{{RelPath: "instance.dcm", AbsPath: src}})
	require.NoError(t, err)

	anon := writeTempFile(t, "anonymized bytes")
	require.NoError(t, a.PutAnonymized("ROUTE1", "1.2.3", []archive.SourceFile{{RelPath: "instance.dcm", AbsPath: anon}}))

	report := archive.AuditReport{
		ScriptUsed:        "deid-v3",
		PhiFieldsModified: []string{"PatientName", "PatientID"},
		HashUids:          true,
	}
	require.NoError(t, a.WriteAuditReport("ROUTE1", "1.2.3", report))

	got, err := a.Read("ROUTE1", "1.2.3")
	require.NoError(t, err)
	require.NotNil(t, got.AuditReport)
	assert.Equal(t, "deid-v3", got.AuditReport.ScriptUsed)
	assert.True(t, got.AuditReport.HashUids)
	assert.FileExists(t, filepath.Join(got.AnonymizedDir, "instance.dcm"))
}

func TestArchive_PromoteCompleted(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	src := writeTempFile(t, "data")
	_, err := a.Stage("ROUTE1", "1.2.3", []archive.SourceFile{{RelPath: "f.dcm", AbsPath: src}})
	require.NoError(t, err)

	require.NoError(t, a.Promote("ROUTE1", "1.2.3", archive.OutcomeCompleted))

	completedDir := filepath.Join(base, "ROUTE1", "completed", "study_1.2.3")
	assert.DirExists(t, completedDir)

	processingDir := filepath.Join(base, "ROUTE1", "processing", "study_1.2.3")
	assert.NoDirExists(t, processingDir)
}

func TestArchive_Release(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	src := writeTempFile(t, "data")
	dir, err := a.Stage("ROUTE1", "1.2.3", []archive.SourceFile{{RelPath: "f.dcm", AbsPath: src}})
	require.NoError(t, err)
	require.DirExists(t, dir)

	require.NoError(t, a.Release("ROUTE1", "1.2.3"))
	assert.NoDirExists(t, dir)
}

func TestSanitizeUID(t *testing.T) {
	assert.Equal(t, "1.2.3", archive.SanitizeUID("1.2.3"))
	assert.Equal(t, "1_2_3", archive.SanitizeUID("1/2\\3"))
	assert.Equal(t, "a_b_c", archive.SanitizeUID("a b:c"))
}

func TestArchive_Read_NotStaged(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	_, err := a.Read("ROUTE1", "nope")
	require.Error(t, err)
}

func TestArchive_Stage_RejectsPathTraversal(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	src := writeTempFile(t, "payload")
	_, err := a.Stage("ROUTE1", "1.2.3", []archive.SourceFile{
		{RelPath: "../../../etc/passwd", AbsPath: src},
	})
	require.Error(t, err)

	escaped := filepath.Join(base, "..", "..", "..", "etc", "passwd")
	assert.NoFileExists(t, escaped)
}

func TestArchive_PutAnonymized_RejectsPathTraversal(t *testing.T) {
	base := t.TempDir()
	a := archive.New(base)

	src := writeTempFile(t, "payload")
	_, err := a.Stage("ROUTE1", "1.2.3", nil)
	require.NoError(t, err)

	err = a.PutAnonymized("ROUTE1", "1.2.3", []archive.SourceFile{
		{RelPath: "../outside.dcm", AbsPath: src},
	})
	require.Error(t, err)
}
