package compare

import (
	"strings"
	"testing"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagFor(t *testing.T, keyword string) int64 {
	t.Helper()
	v := domain.ParseTag(keyword)
	require.NotEqual(t, domain.NoTag, v)
	return v
}

// TestBuildHeaderComparison_S5 is scenario S5 from spec.md §8, literal:
// a file with PatientName and PatientID removed in the anonymized copy
// yields phiTags>=2, removedTags=2, changedTags=0, addedTags=0.
func TestBuildHeaderComparison_S5(t *testing.T) {
	original := map[int64]string{
		tagFor(t, "PatientName"): "Doe^J",
		tagFor(t, "PatientID"):   "P1",
	}
	anonymized := map[int64]string{}

	hc := BuildHeaderComparison(original, anonymized)

	assert.GreaterOrEqual(t, hc.PhiTagCount, 2)
	assert.Equal(t, 2, hc.RemovedCount)
	assert.Equal(t, 0, hc.ChangedCount)
	assert.Equal(t, 0, hc.AddedCount)
}

func TestBuildHeaderComparison_Changed(t *testing.T) {
	original := map[int64]string{tagFor(t, "PatientName"): "Doe^J"}
	anonymized := map[int64]string{tagFor(t, "PatientName"): "Anon^1"}

	hc := BuildHeaderComparison(original, anonymized)

	require.Len(t, hc.Tags, 1)
	assert.True(t, hc.Tags[0].Changed)
	assert.False(t, hc.Tags[0].Removed)
	assert.False(t, hc.Tags[0].Added)
	assert.True(t, hc.Tags[0].IsPHI)
}

func TestBuildHeaderComparison_Added(t *testing.T) {
	original := map[int64]string{}
	anonymized := map[int64]string{tagFor(t, "PatientID"): "synthetic-1"}

	hc := BuildHeaderComparison(original, anonymized)

	require.Len(t, hc.Tags, 1)
	assert.True(t, hc.Tags[0].Added)
}

func TestBuildHeaderComparison_ExcludesPixelData(t *testing.T) {
	pixelDataTag := int64(0x7FE00010)
	original := map[int64]string{pixelDataTag: "ignored"}
	anonymized := map[int64]string{}

	hc := BuildHeaderComparison(original, anonymized)
	assert.Empty(t, hc.Tags)
}

func TestTruncateValue_TruncatesAt200(t *testing.T) {
	long := strings.Repeat("a", 500)
	assert.Len(t, truncateValue(long), valueTruncateLen)
}

func TestTruncateValue_ShortValuePassesThrough(t *testing.T) {
	assert.Equal(t, "hello", truncateValue("hello"))
}

type fakeCrosswalk struct {
	entry domain.CrosswalkEntry
	ok    bool
}

func (f *fakeCrosswalk) Lookup(brokerName, originalID, idType string) (domain.CrosswalkEntry, bool) {
	return f.entry, f.ok
}

func TestEngine_Pair_Basename(t *testing.T) {
	e := New(nil, nil)
	orig := map[int64]string{tagFor(t, "SeriesInstanceUID"): "1.2", tagFor(t, "InstanceNumber"): "1"}
	anon := map[string]map[int64]string{
		"sub/img1.dcm": {tagFor(t, "SOPInstanceUID"): "9.9.9"},
	}

	rel, strategy := e.pair("other/img1.dcm", orig, anon, "1.2", "", false)
	assert.Equal(t, "sub/img1.dcm", rel)
	assert.Equal(t, "basename", strategy)
}

func TestEngine_Pair_SopUID(t *testing.T) {
	e := New(nil, nil)
	orig := map[int64]string{tagFor(t, "SOPInstanceUID"): "1.2.3"}
	anon := map[string]map[int64]string{
		"anon1.dcm": {tagFor(t, "SOPInstanceUID"): "1.2.3"},
	}

	rel, strategy := e.pair("orig1.dcm", orig, anon, "1.2", "", false)
	assert.Equal(t, "anon1.dcm", rel)
	assert.Equal(t, "sop_uid", strategy)
}

func TestEngine_Pair_InstanceNumber(t *testing.T) {
	e := New(nil, nil)
	orig := map[int64]string{
		tagFor(t, "SeriesInstanceUID"): "1.2",
		tagFor(t, "InstanceNumber"):    "3",
	}
	anon := map[string]map[int64]string{
		"anon_x.dcm": {
			tagFor(t, "SeriesInstanceUID"): "1.2",
			tagFor(t, "InstanceNumber"):    "3",
		},
	}

	rel, strategy := e.pair("orig_x.dcm", orig, anon, "1.2", "", false)
	assert.Equal(t, "anon_x.dcm", rel)
	assert.Equal(t, "instance_number", strategy)
}

func TestEngine_Pair_Crosswalk(t *testing.T) {
	cw := &fakeCrosswalk{entry: domain.CrosswalkEntry{SubstituteID: "sub-1"}, ok: true}
	e := New(nil, cw)
	orig := map[int64]string{tagFor(t, "SOPInstanceUID"): "1.2.3"}
	anon := map[string]map[int64]string{
		"anon1.dcm": {tagFor(t, "SOPInstanceUID"): "sub-1"},
	}

	rel, strategy := e.pair("orig1.dcm", orig, anon, "1.2", "broker1", true)
	assert.Equal(t, "anon1.dcm", rel)
	assert.Equal(t, "crosswalk", strategy)
}

func TestEngine_Pair_Unmatched(t *testing.T) {
	e := New(nil, nil)
	orig := map[int64]string{tagFor(t, "SOPInstanceUID"): "1.2.3"}
	anon := map[string]map[int64]string{}

	rel, strategy := e.pair("orig1.dcm", orig, anon, "1.2", "", false)
	assert.Empty(t, rel)
	assert.Equal(t, "unmatched", strategy)
}
