// store_test.go - Tests for the ingest storage layer
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/benengr/bbb-programmer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T, maxSize int64) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), maxSize)
	require.NoError(t, err)
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("accepts existing directory", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewLocalStore(dir, 0)
		require.NoError(t, err)
		assert.Equal(t, dir, store.Dir())
		assert.Empty(t, testutil.ListDir(t, dir), "writability check must not leave files behind")
	})

	t.Run("rejects missing directory", func(t *testing.T) {
		_, err := NewLocalStore(filepath.Join(t.TempDir(), "missing"), 0)
		assert.Error(t, err)
	})

	t.Run("rejects regular file", func(t *testing.T) {
		path := testutil.WriteFile(t, t.TempDir(), "file", []byte("x"))
		_, err := NewLocalStore(path, 0)
		assert.Error(t, err)
	})
}

func TestLocalStore_StageAndCommit(t *testing.T) {
	t.Run("writes payload under sanitized name", func(t *testing.T) {
		store := createTestStore(t, 0)

		staged, err := store.Stage(context.Background(), "firmware.zip", strings.NewReader("payload"))
		require.NoError(t, err)
		assert.Equal(t, int64(7), staged.Size)
		assert.True(t, strings.HasPrefix(filepath.Base(staged.Path), stagingPrefix))

		archive, err := store.Commit(staged)
		require.NoError(t, err)
		assert.Equal(t, models.StageReceived, archive.Stage)
		assert.Equal(t, "firmware.zip", archive.StoredName)
		assert.Equal(t, filepath.Join(store.Dir(), "firmware.zip"), archive.Path)

		data, err := os.ReadFile(archive.Path)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
		assert.Equal(t, []string{"firmware.zip"}, testutil.ListDir(t, store.Dir()))
	})

	t.Run("keeps client name as metadata", func(t *testing.T) {
		store := createTestStore(t, 0)

		staged, err := store.Stage(context.Background(), "../../etc/fw.zip", strings.NewReader("x"))
		require.NoError(t, err)
		archive, err := store.Commit(staged)
		require.NoError(t, err)

		assert.Equal(t, "../../etc/fw.zip", archive.Name)
		assert.Equal(t, "fw.zip", archive.StoredName)
		assert.Equal(t, store.Dir(), filepath.Dir(archive.Path))
	})

	t.Run("oversized payload leaves no file", func(t *testing.T) {
		store := createTestStore(t, 16)

		_, err := store.Stage(context.Background(), "big.zip", bytes.NewReader(make([]byte, 17)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrPayloadTooLarge))
		assert.Empty(t, testutil.ListDir(t, store.Dir()))
	})

	t.Run("payload at the limit is accepted", func(t *testing.T) {
		store := createTestStore(t, 16)

		staged, err := store.Stage(context.Background(), "exact.zip", bytes.NewReader(make([]byte, 16)))
		require.NoError(t, err)
		assert.Equal(t, int64(16), staged.Size)
	})

	t.Run("read failure is an io error and discards", func(t *testing.T) {
		store := createTestStore(t, 0)
		r := io.MultiReader(strings.NewReader("partial"), &errReader{err: io.ErrUnexpectedEOF})

		_, err := store.Stage(context.Background(), "cut.zip", r)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrIO))
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
		assert.Empty(t, testutil.ListDir(t, store.Dir()))
	})

	t.Run("cancelled context aborts the write", func(t *testing.T) {
		store := createTestStore(t, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Stage(ctx, "fw.zip", strings.NewReader("data"))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Empty(t, testutil.ListDir(t, store.Dir()))
	})

	t.Run("invalid name is rejected before writing", func(t *testing.T) {
		store := createTestStore(t, 0)

		_, err := store.Stage(context.Background(), "..", strings.NewReader("data"))
		assert.True(t, errors.Is(err, models.ErrInvalidName))
		assert.Empty(t, testutil.ListDir(t, store.Dir()))
	})

	t.Run("same name twice keeps the second payload", func(t *testing.T) {
		store := createTestStore(t, 0)

		first, err := store.Stage(context.Background(), "fw.zip", strings.NewReader("first payload, longer"))
		require.NoError(t, err)
		second, err := store.Stage(context.Background(), "fw.zip", strings.NewReader("second"))
		require.NoError(t, err)

		_, err = store.Commit(first)
		require.NoError(t, err)
		archive, err := store.Commit(second)
		require.NoError(t, err)

		data, err := os.ReadFile(archive.Path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
		assert.Equal(t, []string{"fw.zip"}, testutil.ListDir(t, store.Dir()))
	})
}

func TestLocalStore_ListGetRemove(t *testing.T) {
	store := createTestStore(t, 0)
	dir := store.Dir()

	testutil.WriteFile(t, dir, "old.zip", []byte("old"))
	testutil.WriteFile(t, dir, "new.ZIP", []byte("new"))
	testutil.WriteFile(t, dir, "notes.txt", []byte("extracted content"))
	testutil.WriteFile(t, dir, stagingPrefix+"abc.part", []byte("in flight"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "boot.zip"), 0755))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.zip"), past, past))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new.ZIP", list[0].StoredName)
	assert.Equal(t, "old.zip", list[1].StoredName)
	assert.Equal(t, models.StageFailed, list[1].Stage)

	archive, err := store.Get("old.zip")
	require.NoError(t, err)
	assert.Equal(t, int64(3), archive.SizeBytes)

	_, err = store.Get("boot.zip")
	assert.Error(t, err)

	_, err = store.Get("missing.zip")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Remove("old.zip"))
	assert.NoFileExists(t, filepath.Join(dir, "old.zip"))
	assert.Error(t, store.Remove("old.zip"))
	assert.True(t, errors.Is(store.Remove("../x"), os.ErrNotExist))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "firmware.zip", want: "firmware.zip"},
		{in: "dir/sub/fw.zip", want: "fw.zip"},
		{in: `C:\Users\op\fw.zip`, want: "fw.zip"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: "  spaced.zip ", want: "spaced.zip"},
		{in: "fw; rm -rf.zip", want: "fw; rm -rf.zip"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "..", wantErr: true},
		{in: "dir/", wantErr: true},
		{in: "bad\x00name.zip", wantErr: true},
		{in: "line\nbreak.zip", wantErr: true},
		{in: stagingPrefix + "x.part", wantErr: true},
		{in: strings.Repeat("a", 256), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeName(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrInvalidName), "got %q, %v", got, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNameLocks(t *testing.T) {
	t.Run("serializes holders of the same name", func(t *testing.T) {
		locks := NewNameLocks()
		var mu sync.Mutex
		active, maxActive := 0, 0

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock("fw.zip")
				defer unlock()

				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, maxActive)
		assert.Equal(t, 0, locks.Len())
	})

	t.Run("different names do not block", func(t *testing.T) {
		locks := NewNameLocks()
		unlockA := locks.Lock("a.zip")
		done := make(chan struct{})
		go func() {
			unlock := locks.Lock("b.zip")
			unlock()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on b.zip blocked behind a.zip")
		}
		unlockA()
	})

	t.Run("unlock is idempotent", func(t *testing.T) {
		locks := NewNameLocks()
		unlock := locks.Lock("a.zip")
		unlock()
		unlock()
		assert.Equal(t, 0, locks.Len())
	})
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }
