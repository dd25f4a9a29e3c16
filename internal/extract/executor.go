package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/benengr/bbb-programmer/internal/models"
)

// Executor runs the two-step extract-then-delete sequence for one archive.
type Executor struct {
	extractor Extractor
	destDir   string
	timeout   time.Duration
	logger    *slog.Logger
	remove    func(string) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds each extraction. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger used for cleanup warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithRemoveFunc replaces os.Remove for archive cleanup.
func WithRemoveFunc(fn func(string) error) Option {
	return func(e *Executor) { e.remove = fn }
}

// NewExecutor creates an Executor writing into destDir.
func NewExecutor(extractor Extractor, destDir string, opts ...Option) *Executor {
	e := &Executor{
		extractor: extractor,
		destDir:   destDir,
		logger:    slog.Default(),
		remove:    os.Remove,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract expands archive and, only if that succeeded, deletes it. A failure
// to delete is logged and reported as a warning; the result still succeeds.
func (e *Executor) Extract(ctx context.Context, archive *models.ArchiveFile) models.ExtractionResult {
	start := time.Now()
	archive.Stage = models.StageExtracting

	fail := func(err error) models.ExtractionResult {
		archive.Stage = models.StageFailed
		wrapped := fmt.Errorf("%w: %s: %w", models.ErrExtractionFailed, archive.StoredName, err)
		return models.ExtractionResult{
			Succeeded:   false,
			ErrorDetail: wrapped.Error(),
			Duration:    time.Since(start),
			Err:         wrapped,
		}
	}

	info, err := os.Stat(archive.Path)
	if err != nil {
		return fail(err)
	}
	if !info.Mode().IsRegular() {
		return fail(fmt.Errorf("%s is not a regular file", archive.Path))
	}

	if err := os.MkdirAll(e.destDir, 0755); err != nil {
		return fail(fmt.Errorf("creating destination: %w", err))
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stats, err := e.extractor.Extract(ctx, archive.Path, e.destDir)
	if err != nil {
		return fail(err)
	}

	archive.Stage = models.StageExtracted
	result := models.ExtractionResult{
		Succeeded: true,
		Entries:   stats.Entries,
		Bytes:     stats.Bytes,
	}

	if err := e.remove(archive.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cleanupErr := fmt.Errorf("%w: %s: %w", models.ErrCleanupFailed, archive.StoredName, err)
		result.CleanupWarning = cleanupErr.Error()
		e.logger.Warn("archive left on disk after extraction",
			"archive", archive.StoredName, "error", cleanupErr)
	}

	result.Duration = time.Since(start)
	return result
}
