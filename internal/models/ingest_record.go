package models

import "time"

// IngestRecord is one ledger row describing a finished pipeline run.
type IngestRecord struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	StoredName  string    `json:"storedName" msgpack:"storedName"`
	SizeBytes   int64     `json:"sizeBytes" msgpack:"sizeBytes"`
	Stage       Stage     `json:"stage" msgpack:"stage"`
	Error       string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Entries     int       `json:"entries" msgpack:"entries"`
	Bytes       int64     `json:"bytes" msgpack:"bytes"`
	StartedAt   time.Time `json:"startedAt" msgpack:"startedAt"`
	CompletedAt time.Time `json:"completedAt" msgpack:"completedAt"`
}
