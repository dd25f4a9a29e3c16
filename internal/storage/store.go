package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/google/uuid"
)

// stagingPrefix marks in-flight uploads that have not been committed yet.
const stagingPrefix = ".ingest-"

// Store defines the ingest-side storage operations the pipeline needs.
type Store interface {
	Stage(ctx context.Context, name string, r io.Reader) (*Staged, error)
	Commit(staged *Staged) (*models.ArchiveFile, error)
	Lock(storedName string) func()
	Get(storedName string) (*models.ArchiveFile, error)
	List() ([]*models.ArchiveFile, error)
	Remove(storedName string) error
}

// Staged is an upload fully written to a private staging file.
type Staged struct {
	Name       string
	StoredName string
	Path       string
	Size       int64
}

// LocalStore implements Store on the local filesystem.
type LocalStore struct {
	uploadDir string
	maxSize   int64 // 0 disables the limit
	locks     *NameLocks
}

// NewLocalStore creates a LocalStore over an existing, writable upload directory.
func NewLocalStore(uploadDir string, maxSize int64) (*LocalStore, error) {
	info, err := os.Stat(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("upload directory %s is not a directory", uploadDir)
	}

	// Check writability up front so misconfiguration fails at start.
	tmp, err := os.CreateTemp(uploadDir, stagingPrefix+"check-*")
	if err != nil {
		return nil, fmt.Errorf("upload directory %s is not writable: %w", uploadDir, err)
	}
	tmp.Close()
	os.Remove(tmp.Name())

	return &LocalStore{
		uploadDir: uploadDir,
		maxSize:   maxSize,
		locks:     NewNameLocks(),
	}, nil
}

// Dir returns the upload directory.
func (s *LocalStore) Dir() string {
	return s.uploadDir
}

// Stage streams r into a uniquely named staging file and flushes it to disk.
// On any error the staging file is removed.
func (s *LocalStore) Stage(ctx context.Context, name string, r io.Reader) (*Staged, error) {
	stored, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.uploadDir, stagingPrefix+uuid.New().String()+".part")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating staging file: %v", models.ErrIO, err)
	}

	size, err := s.copyLimited(ctx, f, r)
	if err == nil {
		err = f.Sync()
		if err != nil {
			err = fmt.Errorf("%w: syncing staging file: %v", models.ErrIO, err)
		}
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: closing staging file: %v", models.ErrIO, cerr)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	return &Staged{
		Name:       name,
		StoredName: stored,
		Path:       path,
		Size:       size,
	}, nil
}

func (s *LocalStore) copyLimited(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	src := &ctxReader{ctx: ctx, r: r}
	if s.maxSize <= 0 {
		n, err := io.Copy(w, src)
		if err != nil {
			return n, classifyCopyErr(err)
		}
		return n, nil
	}

	// Read one byte past the limit to detect overruns without buffering.
	n, err := io.Copy(w, io.LimitReader(src, s.maxSize+1))
	if err != nil {
		return n, classifyCopyErr(err)
	}
	if n > s.maxSize {
		return n, fmt.Errorf("%w: exceeds %d bytes", models.ErrPayloadTooLarge, s.maxSize)
	}
	return n, nil
}

func classifyCopyErr(err error) error {
	if errors.Is(err, models.ErrPayloadTooLarge) {
		return err
	}
	return fmt.Errorf("%w: writing upload: %w", models.ErrIO, err)
}

// Commit atomically moves a staged upload onto its stored name, replacing any
// existing file of that name.
func (s *LocalStore) Commit(staged *Staged) (*models.ArchiveFile, error) {
	final := filepath.Join(s.uploadDir, staged.StoredName)
	if err := os.Rename(staged.Path, final); err != nil {
		os.Remove(staged.Path)
		return nil, fmt.Errorf("%w: committing upload: %v", models.ErrIO, err)
	}
	syncDir(s.uploadDir)

	return &models.ArchiveFile{
		Name:       staged.Name,
		StoredName: staged.StoredName,
		Path:       final,
		SizeBytes:  staged.Size,
		Stage:      models.StageReceived,
		ReceivedAt: time.Now(),
	}, nil
}

// Lock acquires the per-name lock for storedName.
func (s *LocalStore) Lock(storedName string) func() {
	return s.locks.Lock(storedName)
}

// Get returns the retained archive with the given stored name.
func (s *LocalStore) Get(storedName string) (*models.ArchiveFile, error) {
	clean, err := SanitizeName(storedName)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.uploadDir, clean)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("archive %s: %w", clean, fs.ErrNotExist)
	}
	return archiveFromInfo(path, info), nil
}

// List returns zip archives currently retained in the upload directory, newest first.
func (s *LocalStore) List() ([]*models.ArchiveFile, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return nil, fmt.Errorf("reading upload directory: %w", err)
	}

	var list []*models.ArchiveFile
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, stagingPrefix) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		list = append(list, archiveFromInfo(filepath.Join(s.uploadDir, name), info))
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ReceivedAt.After(list[j].ReceivedAt)
	})

	return list, nil
}

// Remove deletes a retained archive.
func (s *LocalStore) Remove(storedName string) error {
	clean, err := SanitizeName(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.uploadDir, clean)); err != nil {
		return fmt.Errorf("removing archive: %w", err)
	}
	return nil
}

func archiveFromInfo(path string, info fs.FileInfo) *models.ArchiveFile {
	// A file found on disk outside of a running pipeline is either waiting
	// for extraction or was left behind by a failed one.
	return &models.ArchiveFile{
		Name:       info.Name(),
		StoredName: info.Name(),
		Path:       path,
		SizeBytes:  info.Size(),
		Stage:      models.StageFailed,
		ReceivedAt: info.ModTime(),
	}
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// ctxReader stops reading once ctx is done, so a cancelled request aborts the write.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
