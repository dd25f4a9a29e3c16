// Package ledger keeps a DuckDB-backed history of finished pipeline runs.
package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/marcboeker/go-duckdb"
)

// ErrNotFound is returned when no record has the requested ID.
var ErrNotFound = errors.New("ingest record not found")

// Ledger stores ingest records.
type Ledger struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // serializes writers; DuckDB allows one writer per process
}

// Open opens or creates the ledger at dbPath. An empty path keeps the ledger in memory.
func Open(dbPath string) (*Ledger, error) {
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=1",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS ingests (
			id           VARCHAR PRIMARY KEY,
			name         VARCHAR NOT NULL,
			stored_name  VARCHAR NOT NULL,
			size_bytes   BIGINT NOT NULL,
			stage        VARCHAR NOT NULL,
			error        VARCHAR,
			entries      INTEGER NOT NULL,
			bytes        BIGINT NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Ledger{db: db, dbPath: dbPath}, nil
}

// Record inserts or replaces a record.
func (l *Ledger) Record(ctx context.Context, rec *models.IngestRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ingests
			(id, name, stored_name, size_bytes, stage, error, entries, bytes, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.StoredName, rec.SizeBytes, string(rec.Stage), nullString(rec.Error),
		rec.Entries, rec.Bytes, rec.StartedAt.UTC(), rec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording ingest %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]models.IngestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, stored_name, size_bytes, stage, error, entries, bytes, started_at, completed_at
		FROM ingests
		ORDER BY completed_at DESC, id
		LIMIT `+strconv.Itoa(limit))
	if err != nil {
		return nil, fmt.Errorf("querying ingests: %w", err)
	}
	defer rows.Close()

	records := make([]models.IngestRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the record with the given ID.
func (l *Ledger) Get(ctx context.Context, id string) (models.IngestRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, name, stored_name, size_bytes, stage, error, entries, bytes, started_at, completed_at
		FROM ingests WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

// CountByStage returns how many records ended in each stage.
func (l *Ledger) CountByStage(ctx context.Context) (map[models.Stage]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM ingests GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("counting ingests: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[models.Stage(stage)] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (models.IngestRecord, error) {
	var rec models.IngestRecord
	var stage string
	var errText sql.NullString
	var started, completed time.Time
	err := s.Scan(&rec.ID, &rec.Name, &rec.StoredName, &rec.SizeBytes, &stage, &errText,
		&rec.Entries, &rec.Bytes, &started, &completed)
	if err != nil {
		return rec, err
	}
	rec.Stage = models.Stage(stage)
	rec.Error = errText.String
	rec.StartedAt = started
	rec.CompletedAt = completed
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
