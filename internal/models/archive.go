package models

import "time"

// Stage is the lifecycle position of an uploaded archive.
type Stage string

const (
	StageReceiving  Stage = "receiving" // job only, before the file exists on disk
	StageReceived   Stage = "received"
	StageExtracting Stage = "extracting"
	StageExtracted  Stage = "extracted"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s Stage) Terminal() bool {
	return s == StageExtracted || s == StageFailed
}

// ArchiveFile represents one uploaded bundle stored in the upload directory.
type ArchiveFile struct {
	Name       string    `json:"name"`       // client-supplied filename, verbatim
	StoredName string    `json:"storedName"` // sanitized on-disk name
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"sizeBytes"`
	Stage      Stage     `json:"stage"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ExtractionResult describes the outcome of one extraction attempt.
type ExtractionResult struct {
	Succeeded      bool          `json:"succeeded"`
	ErrorDetail    string        `json:"errorDetail,omitempty"`
	Entries        int           `json:"entries"`
	Bytes          int64         `json:"bytes"`
	CleanupWarning string        `json:"cleanupWarning,omitempty"`
	Duration       time.Duration `json:"duration"`

	// Err is the wrapped failure for in-process callers.
	Err error `json:"-"`
}
