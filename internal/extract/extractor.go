package extract

import (
	"context"
	"errors"
)

var (
	// ErrLimitExceeded is returned when an archive exceeds the entry-count or
	// decompressed-size ceiling.
	ErrLimitExceeded = errors.New("archive exceeds extraction limits")

	// ErrUnsafeEntry is returned for entries that would land outside the
	// destination directory, symlinks, or entries that would overwrite the
	// archive being extracted.
	ErrUnsafeEntry = errors.New("unsafe archive entry")
)

// Stats summarizes what an extractor wrote.
type Stats struct {
	Entries int
	Bytes   int64
}

// Extractor expands the archive at archivePath into destDir.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) (Stats, error)
}
