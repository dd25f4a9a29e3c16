package models

import "errors"

// Ingest-time errors abort the pipeline before extraction.
var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrMissingField    = errors.New("missing form field")
	ErrInvalidName     = errors.New("invalid archive name")
	ErrIO              = errors.New("io error")
)

// Extraction-time errors.
var (
	ErrExtractionFailed = errors.New("extraction failed")
	ErrCleanupFailed    = errors.New("cleanup failed")
)
