// Package diskcache provides core.DiskCache implementations.
package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Skryldev/sketch/core"
	apperrors "github.com/Skryldev/sketch/errors"
)

const (
	dataSuffix     = ".data"
	metadataSuffix = ".meta"
)

// Local stores entries as file pairs under a directory.  Writes go to
// temporary files that are renamed on Commit, so readers never see partial
// entries.  When MaxSize is positive, the least recently used entries are
// evicted after each commit until the total size fits.
type Local struct {
	rootDir     string
	permissions os.FileMode
	maxSize     int64

	mu sync.Mutex
}

var _ core.DiskCache = (*Local)(nil)

// NewLocal creates a Local cache rooted at dir.
func NewLocal(dir string, maxSize int64, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.mkdir", fmt.Errorf("%s: %w", dir, err))
	}
	return &Local{rootDir: dir, permissions: perm, maxSize: maxSize}, nil
}

// Dir is the root directory.
func (l *Local) Dir() string { return l.rootDir }

func (l *Local) basePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	// Two-character fan-out keeps directories small.
	return filepath.Join(l.rootDir, name[:2], name)
}

func (l *Local) OpenSnapshot(ctx context.Context, key string) (core.DiskSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.open", err)
	}
	base := l.basePath(key)
	if _, err := os.Stat(base + dataSuffix); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.ErrCacheMiss
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.open.stat", err)
	}
	now := time.Now()
	_ = os.Chtimes(base+dataSuffix, now, now)
	return &localSnapshot{base: base}, nil
}

func (l *Local) Edit(ctx context.Context, key string) (core.DiskEditor, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.edit", err)
	}
	return &localEditor{ctx: ctx, cache: l, base: l.basePath(key)}, nil
}

func (l *Local) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.remove", err)
	}
	base := l.basePath(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(base + dataSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryCache, "local.remove", err)
	}
	_ = os.Remove(base + metadataSuffix)
	return nil
}

func (l *Local) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.clear", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := os.ReadDir(l.rootDir)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.clear", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(l.rootDir, e.Name())); err != nil {
			return apperrors.Wrap(apperrors.CategoryCache, "local.clear", err)
		}
	}
	return nil
}

// Size returns the total bytes of committed entries.
func (l *Local) Size() (int64, error) {
	files, err := l.dataFiles()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

func (l *Local) Close() error { return nil }

type dataFile struct {
	base    string
	size    int64
	modTime time.Time
}

func (l *Local) dataFiles() ([]dataFile, error) {
	var files []dataFile
	err := filepath.WalkDir(l.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != dataSuffix {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		base := path[:len(path)-len(dataSuffix)]
		size := info.Size()
		if mi, err := os.Stat(base + metadataSuffix); err == nil {
			size += mi.Size()
		}
		files = append(files, dataFile{base: base, size: size, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.walk", err)
	}
	return files, nil
}

// trim evicts least recently used entries until the cache fits maxSize.
// Callers hold l.mu.
func (l *Local) trim() error {
	if l.maxSize <= 0 {
		return nil
	}
	files, err := l.dataFiles()
	if err != nil {
		return err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= l.maxSize {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files {
		if total <= l.maxSize {
			break
		}
		_ = os.Remove(f.base + dataSuffix)
		_ = os.Remove(f.base + metadataSuffix)
		total -= f.size
	}
	return nil
}

// ── Snapshot ──────────────────────────────────────────────────────────────────

type localSnapshot struct {
	base string
}

func (s *localSnapshot) Data() (io.ReadCloser, error) {
	f, err := os.Open(s.base + dataSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.ErrCacheMiss
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.snapshot.data", err)
	}
	return f, nil
}

func (s *localSnapshot) Metadata() (io.ReadCloser, error) {
	f, err := os.Open(s.base + metadataSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.snapshot.metadata", err)
	}
	return f, nil
}

func (s *localSnapshot) Close() error { return nil }

// ── Editor ────────────────────────────────────────────────────────────────────

type localEditor struct {
	ctx      context.Context
	cache    *Local
	base     string
	data     bytes.Buffer
	metadata bytes.Buffer
	done     bool
}

func (e *localEditor) Data() (io.Writer, error)     { return &e.data, nil }
func (e *localEditor) Metadata() (io.Writer, error) { return &e.metadata, nil }

func (e *localEditor) Commit() error {
	if e.done {
		return apperrors.New(apperrors.CategoryCache, "local.commit", errors.New("editor already closed"))
	}
	e.done = true

	l := e.cache
	if err := os.MkdirAll(filepath.Dir(e.base), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.commit.mkdir", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := e.ctx.Err(); err != nil {
		return apperrors.Cancelled("local.commit", err)
	}
	if err := writeAtomic(e.base+metadataSuffix, e.metadata.Bytes(), l.permissions); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.commit.metadata", err)
	}
	if err := writeAtomic(e.base+dataSuffix, e.data.Bytes(), l.permissions); err != nil {
		_ = os.Remove(e.base + metadataSuffix)
		return apperrors.Wrap(apperrors.CategoryCache, "local.commit.data", err)
	}
	return l.trim()
}

func (e *localEditor) Abort() error {
	e.done = true
	e.data.Reset()
	e.metadata.Reset()
	return nil
}

func writeAtomic(path string, b []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
