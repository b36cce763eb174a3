// Package reports renders the hours table to stored artifacts in the
// background and tracks each export request.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"workassign/internal/blob"
	"workassign/internal/core"
	"workassign/internal/report"
)

// Format is an artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ErrQueueFull is returned when the worker cannot accept another request.
var ErrQueueFull = errors.New("export queue full")

// ErrStopped is returned when the worker no longer accepts requests.
var ErrStopped = errors.New("export worker stopped")

// ErrUnknownFormat is returned for formats other than json and csv.
var ErrUnknownFormat = errors.New("unknown export format")

// ExportArtifact describes one stored rendering of the report.
type ExportArtifact struct {
	Key         string            `json:"key"`
	Format      Format            `json:"format"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	ETag        string            `json:"etag,omitempty"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ExportRecord tracks an export request and its artifacts.
type ExportRecord struct {
	ID          string           `json:"id"`
	Formats     []Format         `json:"formats"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	Rows        int              `json:"rows"`
	Columns     []string         `json:"columns,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	RequestedBy string           `json:"requested_by,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (r *ExportRecord) copy() ExportRecord {
	out := *r
	out.Formats = append([]Format(nil), r.Formats...)
	out.Columns = append([]string(nil), r.Columns...)
	if r.Artifacts != nil {
		out.Artifacts = make([]ExportArtifact, len(r.Artifacts))
		for i, a := range r.Artifacts {
			a.Metadata = cloneStrings(a.Metadata)
			out.Artifacts[i] = a
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ExportInput is an enqueue request. Empty Formats means json and csv.
type ExportInput struct {
	Formats     []Format `json:"formats"`
	RequestedBy string   `json:"requested_by"`
	Reason      string   `json:"reason"`
}

// ReportBuilder produces the table to export. *core.Service satisfies it.
type ReportBuilder interface {
	BuildReport(ctx context.Context) (report.Report, error)
}

// Option customises a Worker.
type Option func(*Worker)

// WithAuditRecorder records every status transition.
func WithAuditRecorder(r core.AuditRecorder) Option {
	return func(w *Worker) { w.audit = r }
}

// WithLogger sets the worker's logger.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithQueueSize bounds the number of pending requests.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithClock overrides the time source for record timestamps.
func WithClock(c core.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// Worker executes report exports asynchronously.
type Worker struct {
	builder   ReportBuilder
	store     blob.Store
	audit     core.AuditRecorder
	logger    core.Logger
	clock     core.Clock
	queueSize int

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewWorker constructs an export worker. Call Start to begin processing.
func NewWorker(builder ReportBuilder, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		builder:   builder,
		store:     store,
		logger:    nopLogger{},
		clock:     core.ClockFunc(func() time.Time { return time.Now().UTC() }),
		queueSize: 32,
		jobs:      make(map[string]*ExportRecord),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan string, w.queueSize)
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current export.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// EnqueueExport schedules an export and returns the queued record.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.ctx.Err() != nil {
		return ExportRecord{}, ErrStopped
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		if f != FormatJSON && f != FormatCSV {
			return ExportRecord{}, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}

	now := w.clock.Now()
	record := &ExportRecord{
		ID:          uuid.NewString(),
		Formats:     uniq,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	select {
	case w.queue <- record.ID:
	default:
		w.mu.Unlock()
		return ExportRecord{}, ErrQueueFull
	}
	w.jobs[record.ID] = record
	snapshot := record.copy()
	// recorded under the lock so "queued" precedes the worker's "running"
	w.record(ctx, snapshot.ID, ExportStatusQueued, "")
	w.mu.Unlock()
	return snapshot, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

// OpenArtifact streams the stored artifact of a finished export.
func (w *Worker) OpenArtifact(ctx context.Context, id string, format Format) (blob.Info, io.ReadCloser, error) {
	record, ok := w.GetExport(id)
	if !ok {
		return blob.Info{}, nil, fmt.Errorf("export %s: %w", id, blob.ErrNotFound)
	}
	for _, a := range record.Artifacts {
		if a.Format == format {
			return w.store.Get(ctx, a.Key)
		}
	}
	return blob.Info{}, nil, fmt.Errorf("export %s has no %s artifact: %w", id, format, blob.ErrNotFound)
}

func (w *Worker) process(id string) {
	w.transition(id, ExportStatusRunning, "")

	rep, err := w.builder.BuildReport(w.ctx)
	if err != nil {
		w.fail(id, fmt.Sprintf("build report: %v", err))
		return
	}
	record, ok := w.GetExport(id)
	if !ok {
		return
	}

	artifacts := make([]ExportArtifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := render(rep, format)
		if err != nil {
			w.fail(id, err.Error())
			return
		}
		key := fmt.Sprintf("reports/%s/table.%s", id, format)
		meta := map[string]string{
			"export_id": id,
			"rows":      strconv.Itoa(len(rep.Rows)),
			"columns":   strconv.Itoa(len(rep.Columns)),
		}
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType, Metadata: meta})
		if err != nil {
			w.fail(id, fmt.Sprintf("store artifact failed: %v", err))
			return
		}
		artifact := ExportArtifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   int64(len(payload)),
			ETag:        info.ETag,
			Metadata:    meta,
			CreatedAt:   w.clock.Now(),
		}
		url, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{})
		switch {
		case err == nil:
			artifact.URL = url
		case !errors.Is(err, blob.ErrUnsupported):
			w.logger.Warn("presign artifact", "export_id", id, "key", key, "error", err)
		}
		artifacts = append(artifacts, artifact)
	}

	now := w.clock.Now()
	w.mu.Lock()
	if r, ok := w.jobs[id]; ok {
		r.Status = ExportStatusSucceeded
		r.Error = ""
		r.Rows = len(rep.Rows)
		r.Columns = rep.Labels()
		r.Artifacts = artifacts
		r.UpdatedAt = now
		r.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Info("report exported", "export_id", id, "artifacts", len(artifacts), "rows", len(rep.Rows))
	w.record(w.ctx, id, ExportStatusSucceeded, "")
}

func render(rep report.Report, format Format) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(rep)
		if err != nil {
			return nil, "", fmt.Errorf("marshal json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		var buf bytes.Buffer
		if err := rep.WriteCSV(&buf); err != nil {
			return nil, "", fmt.Errorf("write csv: %w", err)
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func (w *Worker) transition(id string, status ExportStatus, message string) {
	w.mu.Lock()
	if r, ok := w.jobs[id]; ok {
		r.Status = status
		r.Error = message
		r.UpdatedAt = w.clock.Now()
	}
	w.mu.Unlock()
	w.record(w.ctx, id, status, message)
}

func (w *Worker) fail(id, reason string) {
	now := w.clock.Now()
	w.mu.Lock()
	if r, ok := w.jobs[id]; ok {
		r.Status = ExportStatusFailed
		r.Error = reason
		r.UpdatedAt = now
		r.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Error("report export failed", "export_id", id, "error", reason)
	w.record(w.ctx, id, ExportStatusFailed, reason)
}

func (w *Worker) record(ctx context.Context, id string, status ExportStatus, message string) {
	if w.audit == nil {
		return
	}
	entry := core.AuditEntry{
		Operation: "export_report." + string(status),
		Ref:       id,
		Status:    core.AuditStatusSuccess,
		Timestamp: w.clock.Now(),
	}
	if status == ExportStatusFailed {
		entry.Status = core.AuditStatusError
		entry.Error = message
	}
	w.audit.Record(ctx, entry)
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
