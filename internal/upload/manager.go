package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benengr/bbb-programmer/internal/metrics"
	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/benengr/bbb-programmer/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Job tracks one store-then-extract pipeline run.
type Job struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	StoredName  string                   `json:"storedName,omitempty"`
	SizeBytes   int64                    `json:"sizeBytes"`
	Stage       models.Stage             `json:"stage"`
	Error       string                   `json:"error,omitempty"`
	Result      *models.ExtractionResult `json:"result,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
	CompletedAt *time.Time               `json:"completedAt,omitempty"`
}

// Store defines the interface needed from the storage layer.
type Store interface {
	Stage(ctx context.Context, name string, r io.Reader) (*storage.Staged, error)
	Commit(staged *storage.Staged) (*models.ArchiveFile, error)
	Lock(storedName string) func()
	Get(storedName string) (*models.ArchiveFile, error)
}

// Extractor runs the extraction step for a stored archive.
type Extractor interface {
	Extract(ctx context.Context, archive *models.ArchiveFile) models.ExtractionResult
}

// Recorder persists finished jobs.
type Recorder interface {
	Record(ctx context.Context, rec *models.IngestRecord) error
}

// Manager runs upload pipelines and keeps their job state.
type Manager struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	store     Store
	extractor Extractor
	recorder  Recorder
	counters  *metrics.PipelineCounters
	events    *Broadcaster
	slots     *semaphore.Weighted
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder stores every finished job in rec.
func WithRecorder(rec Recorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

// WithCounters reports pipeline outcomes to c.
func WithCounters(c *metrics.PipelineCounters) Option {
	return func(m *Manager) { m.counters = c }
}

// WithMaxConcurrent bounds how many extractions run at once. n <= 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = semaphore.NewWeighted(int64(n))
		} else {
			m.slots = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a new pipeline manager.
func NewManager(store Store, extractor Extractor, opts ...Option) *Manager {
	m := &Manager{
		jobs:      make(map[string]*Job),
		store:     store,
		extractor: extractor,
		events:    NewBroadcaster(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process stores body under name and extracts it. The returned job is a
// snapshot of the finished run; err is non-nil whenever the job failed.
// Ingest errors are returned before any extraction is attempted.
func (m *Manager) Process(ctx context.Context, name string, body io.Reader) (*Job, error) {
	job := m.startJob(name)
	m.trackInFlight(1)
	defer m.trackInFlight(-1)

	staged, err := m.store.Stage(ctx, name, body)
	if err != nil {
		m.fail(job, err)
		return m.snapshot(job), err
	}

	unlock := m.store.Lock(staged.StoredName)
	defer unlock()

	archive, err := m.store.Commit(staged)
	if err != nil {
		m.fail(job, err)
		return m.snapshot(job), err
	}
	if m.counters != nil {
		m.counters.UploadBytes.Add(float64(archive.SizeBytes))
	}

	m.logger.Info("archive received", "job", job.ID, "name", archive.Name,
		"stored", archive.StoredName, "bytes", archive.SizeBytes)

	return m.extract(ctx, job, archive)
}

// Reextract runs extraction again for an archive retained in the upload directory.
func (m *Manager) Reextract(ctx context.Context, storedName string) (*Job, error) {
	first, err := m.store.Get(storedName)
	if err != nil {
		return nil, err
	}

	// Lock the sanitized name so aliases like " fw.zip" serialize with Process.
	unlock := m.store.Lock(first.StoredName)
	defer unlock()

	// Another run may have consumed the archive while we waited for the lock.
	archive, err := m.store.Get(first.StoredName)
	if err != nil {
		return nil, err
	}
	archive.Stage = models.StageReceived

	job := m.startJob(archive.Name)
	m.trackInFlight(1)
	defer m.trackInFlight(-1)

	return m.extract(ctx, job, archive)
}

// extract runs the extraction step with the name lock held by the caller.
// It is detached from ctx cancellation: once extraction starts it runs to completion.
func (m *Manager) extract(ctx context.Context, job *Job, archive *models.ArchiveFile) (*Job, error) {
	ctx = context.WithoutCancel(ctx)

	m.updateJob(job, func(j *Job) {
		j.StoredName = archive.StoredName
		j.SizeBytes = archive.SizeBytes
		j.Stage = models.StageReceived
	})

	if m.slots != nil {
		if err := m.slots.Acquire(ctx, 1); err != nil {
			err = fmt.Errorf("%w: waiting for extraction slot: %w", models.ErrExtractionFailed, err)
			m.fail(job, err)
			return m.snapshot(job), err
		}
		defer m.slots.Release(1)
	}

	m.updateJob(job, func(j *Job) { j.Stage = models.StageExtracting })

	result := m.extractor.Extract(ctx, archive)
	if m.counters != nil {
		m.counters.ExtractionDuration.Observe(result.Duration.Seconds())
	}

	if !result.Succeeded {
		m.updateJob(job, func(j *Job) { j.Result = &result })
		m.markJobError(job, result.Err)
		m.countOutcome(metrics.OutcomeFailed)
		m.logger.Error("extraction failed; archive retained", "job", job.ID,
			"archive", archive.StoredName, "error", result.ErrorDetail)
		return m.snapshot(job), result.Err
	}

	if result.CleanupWarning != "" && m.counters != nil {
		m.counters.CleanupFailures.Inc()
	}
	m.markJobComplete(job, &result)
	m.countOutcome(metrics.OutcomeExtracted)
	m.logger.Info("archive extracted", "job", job.ID, "archive", archive.StoredName,
		"entries", result.Entries, "bytes", result.Bytes, "duration", result.Duration)

	return m.snapshot(job), nil
}

// GetJob retrieves a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	c := *job
	return &c, true
}

// Jobs returns snapshots of all tracked jobs.
func (m *Manager) Jobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		c := *job
		list = append(list, &c)
	}
	return list
}

// Subscribe registers for stage events. Call the returned function to stop.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe(32)
}

func (m *Manager) startJob(name string) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Stage:     models.StageReceiving,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.publish(job)
	return job
}

// updateJob applies fn under the lock and publishes a stage event if the stage changed.
func (m *Manager) updateJob(job *Job, fn func(*Job)) {
	m.mu.Lock()
	before := job.Stage
	fn(job)
	changed := job.Stage != before
	m.mu.Unlock()

	if changed {
		m.publish(job)
	}
}

// markJobComplete marks job as extracted (thread-safe).
func (m *Manager) markJobComplete(job *Job, result *models.ExtractionResult) {
	m.mu.Lock()
	job.Stage = models.StageExtracted
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()

	m.publish(job)
	m.record(job)
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *Job, err error) {
	m.mu.Lock()
	job.Stage = models.StageFailed
	if err != nil {
		job.Error = err.Error()
	}
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()

	m.publish(job)
	m.record(job)
}

// fail marks job failed and counts it as rejected or failed depending on where err arose.
func (m *Manager) fail(job *Job, err error) {
	m.markJobError(job, err)
	if IsIngestError(err) {
		m.countOutcome(metrics.OutcomeRejected)
		m.logger.Warn("upload rejected", "job", job.ID, "name", job.Name, "error", err)
		return
	}
	m.countOutcome(metrics.OutcomeFailed)
}

func (m *Manager) snapshot(job *Job) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *job
	return &c
}

func (m *Manager) publish(job *Job) {
	m.mu.RLock()
	ev := Event{
		JobID:     job.ID,
		Name:      job.Name,
		Stage:     job.Stage,
		Error:     job.Error,
		Timestamp: time.Now().UnixMilli(),
	}
	m.mu.RUnlock()
	m.events.Publish(ev)
}

// record writes the finished job to the recorder. Failures are logged only.
func (m *Manager) record(job *Job) {
	if m.recorder == nil {
		return
	}

	m.mu.RLock()
	rec := &models.IngestRecord{
		ID:         job.ID,
		Name:       job.Name,
		StoredName: job.StoredName,
		SizeBytes:  job.SizeBytes,
		Stage:      job.Stage,
		Error:      job.Error,
		StartedAt:  job.CreatedAt,
	}
	if job.CompletedAt != nil {
		rec.CompletedAt = *job.CompletedAt
	}
	if job.Result != nil {
		rec.Entries = job.Result.Entries
		rec.Bytes = job.Result.Bytes
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.recorder.Record(ctx, rec); err != nil {
		m.logger.Warn("failed to record ingest", "job", rec.ID, "error", err)
	}
}

func (m *Manager) countOutcome(outcome string) {
	if m.counters != nil {
		m.counters.Uploads.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) trackInFlight(delta float64) {
	if m.counters != nil {
		m.counters.InFlight.Add(delta)
	}
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Stage.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// IsIngestError reports whether err stopped the pipeline before extraction.
func IsIngestError(err error) bool {
	return errors.Is(err, models.ErrPayloadTooLarge) ||
		errors.Is(err, models.ErrMissingField) ||
		errors.Is(err, models.ErrInvalidName) ||
		errors.Is(err, models.ErrIO)
}
