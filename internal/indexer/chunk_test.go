package indexer_test

import (
	"testing"
	"time"

	"github.com/dicomgw/gateway/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDicomDateRange(t *testing.T) {
	assert.Equal(t, "20240101-20240131", indexer.BuildDicomDateRange("20240101", "20240131"))
	assert.Equal(t, "20240101-", indexer.BuildDicomDateRange("20240101", ""))
	assert.Equal(t, "-20240131", indexer.BuildDicomDateRange("", "20240131"))
	assert.Equal(t, "", indexer.BuildDicomDateRange("", ""))
}

func TestGenerateDateChunks_MonthlyClips(t *testing.T) {
	chunks, swapped, err := indexer.GenerateDateChunks("20240101", "20240131", indexer.ChunkMonthly)
	require.NoError(t, err)
	assert.False(t, swapped)
	require.Len(t, chunks, 1)
	assert.Equal(t, indexer.DateChunk{From: "20240101", To: "20240131"}, chunks[0])
}

func TestGenerateDateChunks_Weekly(t *testing.T) {
	chunks, _, err := indexer.GenerateDateChunks("20240101", "20240131", indexer.ChunkWeekly)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	want := []indexer.DateChunk{
		{From: "20240101", To: "20240107"},
		{From: "20240108", To: "20240114"},
		{From: "20240115", To: "20240121"},
		{From: "20240122", To: "20240128"},
		{From: "20240129", To: "20240131"},
	}
	assert.Equal(t, want, chunks)
}

func TestGenerateDateChunks_NoneProducesSingleChunk(t *testing.T) {
	chunks, _, err := indexer.GenerateDateChunks("20240101", "20240131", indexer.ChunkNone)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, indexer.DateChunk{From: "20240101", To: "20240131"}, chunks[0])
}

func TestGenerateDateChunks_EmptyDatesProduceSingleChunk(t *testing.T) {
	chunks, swapped, err := indexer.GenerateDateChunks("", "", indexer.ChunkWeekly)
	require.NoError(t, err)
	assert.False(t, swapped)
	require.Len(t, chunks, 1)
	assert.Equal(t, indexer.DateChunk{}, chunks[0])
}

func TestGenerateDateChunks_ReversedDatesAreSwapped(t *testing.T) {
	chunks, swapped, err := indexer.GenerateDateChunks("20240131", "20240101", indexer.ChunkMonthly)
	require.NoError(t, err)
	assert.True(t, swapped)
	require.Len(t, chunks, 1)
	assert.Equal(t, indexer.DateChunk{From: "20240101", To: "20240131"}, chunks[0])
}

func TestGenerateDateChunks_YearlyContiguousNonOverlapping(t *testing.T) {
	chunks, _, err := indexer.GenerateDateChunks("20220301", "20240815", indexer.ChunkYearly)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i := 1; i < len(chunks); i++ {
		prevTo := chunks[i-1].To
		curFrom := chunks[i].From
		assert.NotEqual(t, prevTo, curFrom, "chunks must not overlap")
		prevEnd, err := time.Parse("20060102", prevTo)
		require.NoError(t, err)
		assert.Equal(t, prevEnd.AddDate(0, 0, 1).Format("20060102"), curFrom, "chunks must be contiguous")
	}
	assert.Equal(t, "20220301", chunks[0].From)
	assert.Equal(t, "20240815", chunks[len(chunks)-1].To)
}
