// Package json writes gateway artifacts to disk as indented JSON files.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer persists an arbitrary value as a JSON file with a timestamped
// name in an output directory, used to export ComparisonEngine reports
// for compliance review.
type Writer struct {
	now func() string
}

// NewWriter creates a new JSON writer. now supplies the timestamp segment
// used to namespace each write; production callers pass a wall-clock
// formatter, tests pass a fixed string.
func NewWriter(now func() string) *Writer {
	return &Writer{now: now}
}

// Write encodes v as indented JSON under outputDir/name-<timestamp>.json
// and returns the path written.
func (w *Writer) Write(ctx context.Context, outputDir, name string, v interface{}) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	filePath := filepath.Join(outputDir, fmt.Sprintf("%s-%s.json", name, w.now()))

	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("create json file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}

	return filePath, nil
}
