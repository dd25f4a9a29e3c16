// fixtures.go - Archive and request builders shared by package tests
package testutil

import (
	"bytes"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
)

// ZipBytes builds an in-memory zip archive from name -> content pairs.
// Names ending in "/" become directory entries.
func ZipBytes(t testing.TB, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes a zip archive into dir and returns its path.
func WriteZip(t testing.TB, dir, name string, files map[string]string) string {
	t.Helper()
	return WriteFile(t, dir, name, ZipBytes(t, files))
}

// WriteFile writes raw bytes into dir and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// MultipartBody builds a multipart/form-data body with a single file field.
// Extra form values are written before the file part.
func MultipartBody(t testing.TB, field, filename string, data []byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for k, v := range values {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("writing field %s: %v", k, err)
		}
	}
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		part.Write(data)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

// ListDir returns the sorted entry names of dir.
func ListDir(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
