package indexer

import (
	"fmt"
	"time"
)

// ChunkSize enumerates the remote scan's date-range chunking width.
// HOURLY and DAILY both collapse to single-day chunks because DICOM
// StudyDate has day resolution.
type ChunkSize string

const (
	ChunkHourly  ChunkSize = "HOURLY"
	ChunkDaily   ChunkSize = "DAILY"
	ChunkWeekly  ChunkSize = "WEEKLY"
	ChunkMonthly ChunkSize = "MONTHLY"
	ChunkYearly  ChunkSize = "YEARLY"
	ChunkNone    ChunkSize = "NONE"
)

const dicomDateLayout = "20060102"

// DateChunk is one [from,to] inclusive study-date range, formatted
// YYYYMMDD, issued as a single C-FIND.
type DateChunk struct {
	From string
	To   string
}

// BuildDicomDateRange renders a DICOM date-range query value:
// "a-b" when both are non-empty, "a-" or "-b" when one is empty, and
// "" when both are empty.
func BuildDicomDateRange(from, to string) string {
	switch {
	case from != "" && to != "":
		return from + "-" + to
	case from != "":
		return from + "-"
	case to != "":
		return "-" + to
	default:
		return ""
	}
}

// GenerateDateChunks splits [from,to] into chunks of the requested
// width. Reversed endpoints are swapped (callers should log a
// warning when swapped is true). ChunkNone or empty endpoints produce
// a single unchunked pass-through range.
func GenerateDateChunks(from, to string, size ChunkSize) (chunks []DateChunk, swapped bool, err error) {
	if from == "" || to == "" || size == ChunkNone {
		return []DateChunk{{From: from, To: to}}, false, nil
	}

	fromT, err := time.Parse(dicomDateLayout, from)
	if err != nil {
		return nil, false, fmt.Errorf("indexer: invalid from date %q: %w", from, err)
	}
	toT, err := time.Parse(dicomDateLayout, to)
	if err != nil {
		return nil, false, fmt.Errorf("indexer: invalid to date %q: %w", to, err)
	}

	if fromT.After(toT) {
		fromT, toT = toT, fromT
		swapped = true
	}

	step := chunkStep(size)
	var out []DateChunk
	cursor := fromT
	for !cursor.After(toT) {
		end := step(cursor)
		if end.After(toT) {
			end = toT
		}
		out = append(out, DateChunk{From: cursor.Format(dicomDateLayout), To: end.Format(dicomDateLayout)})
		cursor = end.AddDate(0, 0, 1)
	}
	return out, swapped, nil
}

// chunkStep returns a function computing the inclusive end date of a
// chunk starting at start, before range clipping.
func chunkStep(size ChunkSize) func(start time.Time) time.Time {
	switch size {
	case ChunkHourly, ChunkDaily:
		return func(start time.Time) time.Time { return start }
	case ChunkWeekly:
		return func(start time.Time) time.Time { return start.AddDate(0, 0, 6) }
	case ChunkMonthly:
		return func(start time.Time) time.Time {
			return start.AddDate(0, 1, 0).AddDate(0, 0, -1)
		}
	case ChunkYearly:
		return func(start time.Time) time.Time {
			return start.AddDate(1, 0, 0).AddDate(0, 0, -1)
		}
	default:
		return func(start time.Time) time.Time { return start }
	}
}
