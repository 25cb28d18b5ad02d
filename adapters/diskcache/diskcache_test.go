package diskcache_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/adapters/diskcache"
	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

type cacheFactory func(t *testing.T, maxSize int64) core.DiskCache

func factories() map[string]cacheFactory {
	return map[string]cacheFactory{
		"local": func(t *testing.T, maxSize int64) core.DiskCache {
			c, err := diskcache.NewLocal(t.TempDir(), maxSize, 0o600)
			require.NoError(t, err)
			return c
		},
		"sqlite": func(t *testing.T, maxSize int64) core.DiskCache {
			c, err := diskcache.NewSQLite(":memory:", maxSize)
			require.NoError(t, err)
			t.Cleanup(func() { c.Close() })
			return c
		},
	}
}

func put(t *testing.T, c core.DiskCache, key, data, meta string) {
	t.Helper()
	ed, err := c.Edit(context.Background(), key)
	require.NoError(t, err)
	w, err := ed.Data()
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	mw, err := ed.Metadata()
	require.NoError(t, err)
	_, err = io.WriteString(mw, meta)
	require.NoError(t, err)
	require.NoError(t, ed.Commit())
}

func read(t *testing.T, c core.DiskCache, key string) (string, string) {
	t.Helper()
	snap, err := c.OpenSnapshot(context.Background(), key)
	require.NoError(t, err)
	defer snap.Close()
	r, err := snap.Data()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	mr, err := snap.Metadata()
	require.NoError(t, err)
	meta, err := io.ReadAll(mr)
	require.NoError(t, err)
	mr.Close()
	return string(data), string(meta)
}

func TestDiskCache_CommitAndRead(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			c := newCache(t, 0)
			put(t, c, "https://example.com/a.jpg", "pixels", `{"w":1}`)

			data, meta := read(t, c, "https://example.com/a.jpg")
			assert.Equal(t, "pixels", data)
			assert.Equal(t, `{"w":1}`, meta)
		})
	}
}

func TestDiskCache_Miss(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			c := newCache(t, 0)
			_, err := c.OpenSnapshot(context.Background(), "absent")
			assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
		})
	}
}

func TestDiskCache_AbortLeavesNothing(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			c := newCache(t, 0)
			ed, err := c.Edit(context.Background(), "k")
			require.NoError(t, err)
			w, err := ed.Data()
			require.NoError(t, err)
			_, err = io.WriteString(w, "partial")
			require.NoError(t, err)
			require.NoError(t, ed.Abort())

			_, err = c.OpenSnapshot(context.Background(), "k")
			assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
		})
	}
}

func TestDiskCache_DoubleCommitFails(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			c := newCache(t, 0)
			ed, err := c.Edit(context.Background(), "k")
			require.NoError(t, err)
			require.NoError(t, ed.Commit())
			assert.True(t, apperrors.IsCategory(ed.Commit(), apperrors.CategoryCache))
		})
	}
}

func TestDiskCache_ReplaceRemoveClear(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCache(t, 0)
			put(t, c, "a", "one", "")
			put(t, c, "a", "two", "")
			put(t, c, "b", "bee", "")

			data, _ := read(t, c, "a")
			assert.Equal(t, "two", data)

			require.NoError(t, c.Remove(ctx, "a"))
			require.NoError(t, c.Remove(ctx, "a"))
			_, err := c.OpenSnapshot(ctx, "a")
			assert.ErrorIs(t, err, apperrors.ErrCacheMiss)

			require.NoError(t, c.Clear(ctx))
			_, err = c.OpenSnapshot(ctx, "b")
			assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
		})
	}
}

func TestDiskCache_EditCancelled(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			c := newCache(t, 0)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := c.Edit(ctx, "k")
			assert.True(t, apperrors.IsCancelled(err))
		})
	}
}

func TestDiskCache_CancelledBeforeCommit(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			c := newCache(t, 0)
			ctx, cancel := context.WithCancel(context.Background())
			ed, err := c.Edit(ctx, "k")
			require.NoError(t, err)
			w, err := ed.Data()
			require.NoError(t, err)
			_, err = io.WriteString(w, "payload")
			require.NoError(t, err)

			cancel()
			assert.True(t, apperrors.IsCancelled(ed.Commit()))
			_, err = c.OpenSnapshot(context.Background(), "k")
			assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
		})
	}
}

func TestLocal_TrimEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	c, err := diskcache.NewLocal(dir, 15, 0)
	require.NoError(t, err)

	put(t, c, "old", "0123456789", "")
	// Age the first entry so ordering does not depend on timer resolution.
	ageAll(t, dir, time.Now().Add(-time.Hour))
	put(t, c, "new", "abcdefghij", "")

	_, err = c.OpenSnapshot(context.Background(), "old")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
	data, _ := read(t, c, "new")
	assert.Equal(t, "abcdefghij", data)

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func ageAll(t *testing.T, dir string, when time.Time) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chtimes(path, when, when)
	})
	require.NoError(t, err)
}

func TestLocal_Permissions(t *testing.T) {
	dir := t.TempDir()
	c, err := diskcache.NewLocal(dir, 0, 0o600)
	require.NoError(t, err)
	put(t, c, "k", "v", "")

	var modes []os.FileMode
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			info, _ := d.Info()
			modes = append(modes, info.Mode().Perm())
		}
		return nil
	})
	require.Len(t, modes, 2)
	for _, m := range modes {
		assert.Equal(t, os.FileMode(0o600), m)
	}
}

func TestSQLite_TrimAndSize(t *testing.T) {
	ctx := context.Background()
	c, err := diskcache.NewSQLite(":memory:", 15)
	require.NoError(t, err)
	defer c.Close()

	put(t, c, "old", "0123456789", "")
	time.Sleep(2 * time.Millisecond)
	put(t, c, "new", "abcdefghij", "")

	_, err = c.OpenSnapshot(ctx, "old")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestSQLite_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := diskcache.NewSQLite(path, 0)
	require.NoError(t, err)
	put(t, c, "k", "persisted", "m")
	require.NoError(t, c.Close())

	reopened, err := diskcache.NewSQLite(path, 0)
	require.NoError(t, err)
	defer reopened.Close()
	data, meta := read(t, reopened, "k")
	assert.Equal(t, "persisted", data)
	assert.Equal(t, "m", meta)
}
