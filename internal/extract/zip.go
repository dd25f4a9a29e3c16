package extract

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ZipExtractor decodes zip archives in-process.
type ZipExtractor struct {
	MaxEntries int   // 0 disables the check
	MaxBytes   int64 // total decompressed bytes; 0 disables the check
}

// NewZipExtractor creates a ZipExtractor with the given ceilings.
func NewZipExtractor(maxEntries int, maxBytes int64) *ZipExtractor {
	return &ZipExtractor{MaxEntries: maxEntries, MaxBytes: maxBytes}
}

// Extract expands archivePath into destDir. On failure everything this call
// created is removed again; files it overwrote are not restored.
func (z *ZipExtractor) Extract(ctx context.Context, archivePath, destDir string) (Stats, error) {
	var stats Stats

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return stats, fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	if z.MaxEntries > 0 && len(r.File) > z.MaxEntries {
		return stats, fmt.Errorf("%w: %d entries, limit %d", ErrLimitExceeded, len(r.File), z.MaxEntries)
	}

	dest, err := filepath.Abs(destDir)
	if err != nil {
		return stats, err
	}
	self, err := filepath.Abs(archivePath)
	if err != nil {
		return stats, err
	}

	w := &writer{dest: dest}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			w.rollback()
			return stats, err
		}

		n, err := z.extractEntry(w, f, self, stats.Bytes)
		stats.Bytes += n
		if err != nil {
			w.rollback()
			return stats, fmt.Errorf("%s: %w", f.Name, err)
		}
		stats.Entries++
	}

	return stats, nil
}

func (z *ZipExtractor) extractEntry(w *writer, f *zip.File, self string, written int64) (int64, error) {
	target, err := w.resolve(f.Name)
	if err != nil {
		return 0, err
	}
	if target == self {
		return 0, fmt.Errorf("%w: entry overwrites the archive itself", ErrUnsafeEntry)
	}

	mode := f.Mode()
	if mode&fs.ModeSymlink != 0 {
		return 0, fmt.Errorf("%w: symlink", ErrUnsafeEntry)
	}
	if f.FileInfo().IsDir() {
		return 0, w.mkdirAll(target)
	}
	if err := w.mkdirAll(filepath.Dir(target)); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := w.create(target, mode.Perm()|0600)
	if err != nil {
		return 0, err
	}

	src := io.Reader(rc)
	remaining := int64(-1)
	if z.MaxBytes > 0 {
		remaining = z.MaxBytes - written
		src = io.LimitReader(rc, remaining+1)
	}

	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if remaining >= 0 && n > remaining {
		return n, fmt.Errorf("%w: more than %d decompressed bytes", ErrLimitExceeded, z.MaxBytes)
	}
	return n, nil
}

// writer creates files under dest and remembers what it created.
type writer struct {
	dest    string
	created []string
}

func (w *writer) resolve(name string) (string, error) {
	clean := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(clean, "/") || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: absolute path", ErrUnsafeEntry)
	}
	target := filepath.Join(w.dest, filepath.FromSlash(clean))
	rel, err := filepath.Rel(w.dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes destination", ErrUnsafeEntry)
	}
	return target, nil
}

func (w *writer) mkdirAll(dir string) error {
	var missing []string
	for d := dir; d != w.dest && strings.HasPrefix(d, w.dest); d = filepath.Dir(d) {
		if _, err := os.Lstat(d); err == nil {
			break
		}
		missing = append(missing, d)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		w.created = append(w.created, missing[i])
	}
	return nil
}

func (w *writer) create(path string, perm fs.FileMode) (*os.File, error) {
	_, statErr := os.Lstat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		w.created = append(w.created, path)
	}
	return f, nil
}

func (w *writer) rollback() {
	for i := len(w.created) - 1; i >= 0; i-- {
		os.Remove(w.created[i])
	}
	w.created = nil
}
