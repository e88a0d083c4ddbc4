// Package tracker implements the transfer lifecycle state machine: an
// in-memory active-transfer registry, per-route daily history files,
// and a per-route CSV event log.
package tracker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/observability"
)

// RouteStatsRecorder is the narrow slice of store.Store the Tracker
// needs: a route's cumulative counters, updated once per terminal
// transition.
type RouteStatsRecorder interface {
	UpdateRouteStats(ctx context.Context, aeTitle string, success bool, bytes int64, files int) error
}

// historyDocument is the JSON shape written to history/transfers_{date}.json.
type historyDocument struct {
	Date      string                  `json:"date"`
	AETitle   string                  `json:"aeTitle"`
	Transfers []domain.TransferRecord `json:"transfers"`
}

type routeCounters struct {
	received int64
	success  int64
	partial  int64
	failed   int64
}

// entry wraps an active TransferRecord with its own mutex so that
// concurrent updateDestinationResult calls for the same transfer
// serialize and exactly one observes the terminal transition.
type entry struct {
	mu     sync.Mutex
	record domain.TransferRecord
}

// Tracker is the TransferTracker component.
type Tracker struct {
	baseDir string
	store   RouteStatsRecorder
	logger  observability.Logger

	mu     sync.Mutex
	active map[string]*entry

	countersMu sync.Mutex
	counters   map[string]*routeCounters

	historyLocksMu sync.Mutex
	historyLocks   map[string]*sync.Mutex

	now func() time.Time
}

// New returns a Tracker rooted at baseDir, persisting cumulative route
// statistics through store.
func New(baseDir string, store RouteStatsRecorder, logger observability.Logger) *Tracker {
	return &Tracker{
		baseDir:      baseDir,
		store:        store,
		logger:       logger,
		active:       make(map[string]*entry),
		counters:     make(map[string]*routeCounters),
		historyLocks: make(map[string]*sync.Mutex),
		now:          time.Now,
	}
}

func (t *Tracker) routeCounter(aeTitle string) *routeCounters {
	t.countersMu.Lock()
	defer t.countersMu.Unlock()
	c, ok := t.counters[aeTitle]
	if !ok {
		c = &routeCounters{}
		t.counters[aeTitle] = c
	}
	return c
}

// CreateTransfer allocates a transferId, registers the record in the
// active registry, appends a RECEIVED event, and increments the
// route's received counter.
func (t *Tracker) CreateTransfer(aeTitle, studyUID, callingAE string, fileCount int, totalSize int64) (domain.TransferRecord, error) {
	now := t.now()
	id := transferID(aeTitle, studyUID, now)

	record := domain.TransferRecord{
		TransferID:     id,
		AETitle:        aeTitle,
		StudyUID:       studyUID,
		CallingAETitle: callingAE,
		FileCount:      fileCount,
		TotalSize:      totalSize,
		Status:         domain.TransferReceived,
		ReceivedAt:     now,
	}

	t.mu.Lock()
	t.active[id] = &entry{record: record}
	t.mu.Unlock()

	atomic.AddInt64(&t.routeCounter(aeTitle).received, 1)

	if err := t.appendEvent(aeTitle, id, "RECEIVED", studyUID, ""); err != nil {
		t.logger.LogWarning(context.Background(), "failed to append transfer event", map[string]interface{}{
			"transferId": id, "event": "RECEIVED", "err": err.Error(),
		})
	}

	return record, nil
}

func transferID(aeTitle, studyUID string, at time.Time) string {
	last8 := studyUID
	if len(last8) > 8 {
		last8 = last8[len(last8)-8:]
	}
	return fmt.Sprintf("%s_%s_%s", aeTitle, at.Format("20060102150405"), last8)
}

// StartProcessing advances a transfer to PROCESSING.
func (t *Tracker) StartProcessing(id string) error {
	e, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("tracker: unknown transfer %s", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := t.now()
	e.record.Status = domain.TransferProcessing
	e.record.ProcessingStartedAt = &now

	return t.appendEvent(e.record.AETitle, id, "PROCESSING", e.record.StudyUID, "")
}

// StartForwarding advances a transfer to FORWARDING and initializes a
// PENDING destinationResult for each destination.
func (t *Tracker) StartForwarding(id string, destinations []string) error {
	e, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("tracker: unknown transfer %s", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := t.now()
	e.record.Status = domain.TransferForwarding
	e.record.ForwardingStartedAt = &now
	e.record.DestinationResults = make([]domain.DestinationResult, len(destinations))
	for i, dest := range destinations {
		e.record.DestinationResults[i] = domain.DestinationResult{
			Destination: dest,
			Status:      domain.DestinationPending,
		}
	}

	return t.appendEvent(e.record.AETitle, id, "FORWARDING", e.record.StudyUID, "")
}

// UpdateDestinationResult mutates the matching destinationResult and,
// if every result has now reached SUCCESS|FAILED, performs the
// terminal transition exactly once: computes overall status, persists
// to history, updates route counters, and removes the record from the
// active registry.
func (t *Tracker) UpdateDestinationResult(id, dest string, status domain.DestinationStatus, message string, durationMs int64, filesTransferred int) error {
	e, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("tracker: unknown transfer %s", id)
	}

	e.mu.Lock()
	if e.record.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}

	found := false
	for i := range e.record.DestinationResults {
		if e.record.DestinationResults[i].Destination == dest {
			e.record.DestinationResults[i].Status = status
			e.record.DestinationResults[i].Message = message
			e.record.DestinationResults[i].DurationMs = durationMs
			e.record.DestinationResults[i].FilesTransferred = filesTransferred
			if status == domain.DestinationSuccess || status == domain.DestinationFailed {
				now := t.now()
				e.record.DestinationResults[i].CompletedAt = &now
			}
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("tracker: unknown destination %s for transfer %s", dest, id)
	}

	eventName := "DESTINATION_" + string(status)
	_ = t.appendEvent(e.record.AETitle, id, eventName, e.record.StudyUID, message)

	terminal, overall := evaluateTerminal(e.record.DestinationResults)
	if !terminal {
		e.mu.Unlock()
		return nil
	}

	now := t.now()
	e.record.Status = overall
	e.record.CompletedAt = &now
	record := e.record
	e.mu.Unlock()

	t.finishTransfer(record)
	return nil
}

// evaluateTerminal reports whether every destinationResult has reached
// SUCCESS|FAILED and, if so, the overall TransferStatus.
func evaluateTerminal(results []domain.DestinationResult) (bool, domain.TransferStatus) {
	if len(results) == 0 {
		return false, ""
	}

	successCount, failCount := 0, 0
	for _, r := range results {
		switch r.Status {
		case domain.DestinationSuccess:
			successCount++
		case domain.DestinationFailed:
			failCount++
		default:
			return false, ""
		}
	}

	switch {
	case failCount == 0:
		return true, domain.TransferCompleted
	case successCount == 0:
		return true, domain.TransferFailed
	default:
		return true, domain.TransferPartial
	}
}

// FailTransfer force-terminates a transfer as FAILED, for explicit
// failures reported before or during forwarding.
func (t *Tracker) FailTransfer(id, reason string) error {
	e, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("tracker: unknown transfer %s", id)
	}

	e.mu.Lock()
	if e.record.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}
	now := t.now()
	e.record.Status = domain.TransferFailed
	e.record.ErrorMessage = reason
	e.record.CompletedAt = &now
	record := e.record
	e.mu.Unlock()

	_ = t.appendEvent(record.AETitle, id, "FAILED", record.StudyUID, reason)
	t.finishTransfer(record)
	return nil
}

// finishTransfer performs the once-only terminal bookkeeping: persist
// to the day's history file, update route counters, remove from the
// active registry. Called with the entry's mutex already released —
// it operates on a snapshot. It runs once per transfer: the caller set
// the terminal status under the entry's mutex, and both
// UpdateDestinationResult and FailTransfer return early once the
// status is terminal.
func (t *Tracker) finishTransfer(record domain.TransferRecord) {
	t.mu.Lock()
	delete(t.active, record.TransferID)
	t.mu.Unlock()

	success := record.Status == domain.TransferCompleted
	c := t.routeCounter(record.AETitle)
	switch record.Status {
	case domain.TransferCompleted:
		atomic.AddInt64(&c.success, 1)
	case domain.TransferPartial:
		atomic.AddInt64(&c.partial, 1)
	case domain.TransferFailed:
		atomic.AddInt64(&c.failed, 1)
	}

	eventName := string(record.Status)
	_ = t.appendEvent(record.AETitle, record.TransferID, eventName, record.StudyUID, record.ErrorMessage)

	if err := t.writeHistory(record); err != nil {
		t.logger.LogError(context.Background(), "failed to write transfer history", map[string]interface{}{
			"transferId": record.TransferID, "err": err.Error(),
		})
	}

	if t.store != nil {
		filesSent := sumDestinationFiles(record.DestinationResults)
		if err := t.store.UpdateRouteStats(context.Background(), record.AETitle, success, record.TotalSize, filesSent); err != nil {
			t.logger.LogWarning(context.Background(), "failed to update route stats", map[string]interface{}{
				"aeTitle": record.AETitle, "err": err.Error(),
			})
		}
	}
}

func sumDestinationFiles(results []domain.DestinationResult) int {
	var filesSent int
	for _, r := range results {
		if r.Status == domain.DestinationSuccess {
			filesSent += r.FilesTransferred
		}
	}
	return filesSent
}

func (t *Tracker) lookup(id string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[id]
	return e, ok
}

// GetActiveTransfers returns a snapshot of active transfers, optionally
// filtered by aeTitle ("" for all routes).
func (t *Tracker) GetActiveTransfers(aeTitle string) []domain.TransferRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.TransferRecord
	for _, e := range t.active {
		e.mu.Lock()
		if aeTitle == "" || e.record.AETitle == aeTitle {
			out = append(out, e.record)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// GetTransfer returns the active record for id, if any.
func (t *Tracker) GetTransfer(id string) (domain.TransferRecord, bool) {
	e, ok := t.lookup(id)
	if !ok {
		return domain.TransferRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true
}

// GetTransfersByStudyUID scans the active registry for records
// matching a study.
func (t *Tracker) GetTransfersByStudyUID(uid string) []domain.TransferRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.TransferRecord
	for _, e := range t.active {
		e.mu.Lock()
		if e.record.StudyUID == uid {
			out = append(out, e.record)
		}
		e.mu.Unlock()
	}
	return out
}

func (t *Tracker) historyPath(aeTitle, date string) string {
	return filepath.Join(t.baseDir, aeTitle, "history", "transfers_"+date+".json")
}

func (t *Tracker) historyLock(key string) *sync.Mutex {
	t.historyLocksMu.Lock()
	defer t.historyLocksMu.Unlock()
	l, ok := t.historyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		t.historyLocks[key] = l
	}
	return l
}

// writeHistory appends record to today's history file for its route
// under a read-modify-write serialized per (aeTitle, date).
func (t *Tracker) writeHistory(record domain.TransferRecord) error {
	date := t.now().Format("2006-01-02")
	key := record.AETitle + "|" + date
	lock := t.historyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := t.historyPath(record.AETitle, date)
	doc := historyDocument{Date: date, AETitle: record.AETitle}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("tracker: parse history %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("tracker: read history %s: %w", path, err)
	}

	doc.Transfers = append(doc.Transfers, record)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tracker: mkdir for history %s: %w", path, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: marshal history %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tracker: write temp history %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("tracker: rename history %s: %w", path, err)
	}
	return nil
}

// GetHistory loads a single day's history document for a route.
func (t *Tracker) GetHistory(aeTitle, date string) ([]domain.TransferRecord, error) {
	path := t.historyPath(aeTitle, date)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: read history %s: %w", path, err)
	}

	var doc historyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tracker: parse history %s: %w", path, err)
	}
	return doc.Transfers, nil
}

// GetTransferHistory walks back up to 30 days collecting a route's
// history records, most recent day first, until limit is reached.
func (t *Tracker) GetTransferHistory(aeTitle string, limit int) ([]domain.TransferRecord, error) {
	var out []domain.TransferRecord
	now := t.now()

	for i := 0; i < 30 && len(out) < limit; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		records, err := t.GetHistory(aeTitle, date)
		if err != nil {
			return nil, err
		}
		for j := len(records) - 1; j >= 0 && len(out) < limit; j-- {
			out = append(out, records[j])
		}
	}
	return out, nil
}

// GetFailedTransfers walks history the same way as GetTransferHistory
// but keeps only FAILED and PARTIAL records.
func (t *Tracker) GetFailedTransfers(aeTitle string, limit int) ([]domain.TransferRecord, error) {
	var out []domain.TransferRecord
	now := t.now()

	for i := 0; i < 30 && len(out) < limit; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		records, err := t.GetHistory(aeTitle, date)
		if err != nil {
			return nil, err
		}
		for j := len(records) - 1; j >= 0 && len(out) < limit; j-- {
			r := records[j]
			if r.Status == domain.TransferFailed || r.Status == domain.TransferPartial {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// RouteSnapshot reports a route's in-memory counters and derived
// success rate.
type RouteSnapshot struct {
	AETitle     string
	Received    int64
	Success     int64
	Partial     int64
	Failed      int64
	SuccessRate float64
}

// RouteStats returns the tracker's in-memory counters for a route.
func (t *Tracker) RouteStats(aeTitle string) RouteSnapshot {
	c := t.routeCounter(aeTitle)
	s := RouteSnapshot{
		AETitle:  aeTitle,
		Received: atomic.LoadInt64(&c.received),
		Success:  atomic.LoadInt64(&c.success),
		Partial:  atomic.LoadInt64(&c.partial),
		Failed:   atomic.LoadInt64(&c.failed),
	}
	denom := s.Success + s.Partial + s.Failed
	if denom > 0 {
		s.SuccessRate = float64(s.Success) / float64(denom)
	}
	return s
}

func (t *Tracker) eventLogPath(aeTitle, date string) string {
	return filepath.Join(t.baseDir, aeTitle, "logs", "transfers_"+date+".csv")
}

// appendEvent appends one line to the route's daily CSV event log,
// writing the header first if the file does not yet exist.
func (t *Tracker) appendEvent(aeTitle, transferID, event, studyUID, message string) error {
	date := t.now().Format("2006-01-02")
	path := t.eventLogPath(aeTitle, date)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tracker: mkdir for event log %s: %w", path, err)
	}

	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("tracker: open event log %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write([]string{"timestamp", "transfer_id", "event", "study_uid", "message"}); err != nil {
			return fmt.Errorf("tracker: write event log header %s: %w", path, err)
		}
	}
	row := []string{t.now().Format(time.RFC3339), transferID, event, studyUID, message}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("tracker: write event log row %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}
