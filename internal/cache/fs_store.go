package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// Options 控制 Store 的可选行为。
type Options struct {
	// SizeCacheTTL 是占用统计结果的缓存时间，0 表示每次重新计算。
	SizeCacheTTL time.Duration
	Now          func() time.Time
}

// NewStore 以 basePath 为根目录构建磁盘缓存，所有站点复用一份实例。
func NewStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return NewStoreWithFs(afero.NewBasePathFs(osFs, abs), opts), nil
}

// NewStoreWithFs 基于任意 afero 文件系统构建 Store，根目录即文件系统的 "/"。
func NewStoreWithFs(fsys afero.Fs, opts Options) Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &fileStore{
		fs:      fsys,
		now:     now,
		sizeTTL: opts.SizeCacheTTL,
		locks:   make(map[string]*entryLock),
		usage:   make(map[string]Usage),
	}
}

// fileStore 通过 entryLock 串行化同一条目的 plain/gzip 写入，保证两者成对更新。
type fileStore struct {
	fs  afero.Fs
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock

	sizeTTL    time.Duration
	usageMu    sync.Mutex
	usage      map[string]Usage
	usageGroup singleflight.Group
	generation uint64
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Read(ctx context.Context, locator Locator, acceptGzip bool) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}

	candidates := []string{filePath}
	if acceptGzip {
		candidates = []string{filePath + gzipSuffix, filePath}
	}
	for _, candidate := range candidates {
		result, err := s.open(locator, candidate)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Entry.Gzip = strings.HasSuffix(candidate, gzipSuffix)
		return result, nil
	}
	return nil, ErrNotFound
}

func (s *fileStore) open(locator Locator, filePath string) (*ReadResult, error) {
	f, err := s.fs.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return &ReadResult{
		Entry: Entry{
			Locator:   locator,
			FilePath:  filePath,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Write(ctx context.Context, locator Locator, body []byte, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(locator)
	defer unlock()
	defer s.InvalidateUsage()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	dir := path.Dir(filePath)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s.ensureMarker(dir)

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = s.now()
	}
	modTime = modTime.UTC()

	entry := Entry{Locator: locator, FilePath: filePath, ModTime: modTime}

	if opts.GzipBody != nil {
		if err := s.writeGzip(ctx, filePath+gzipSuffix, opts.GzipBody, opts.GzipLevel, modTime); err != nil {
			entry.GzipErr = err
			s.fs.Remove(filePath + gzipSuffix)
		} else {
			entry.Gzip = true
		}
	}

	if err := s.writeAtomic(ctx, filePath, body, modTime); err != nil {
		if entry.Gzip {
			s.fs.Remove(filePath + gzipSuffix)
		}
		return nil, err
	}
	entry.SizeBytes = int64(len(body))
	return &entry, nil
}

func (s *fileStore) writeGzip(ctx context.Context, target string, body []byte, level int, modTime time.Time) error {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return err
	}
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return s.writeAtomic(ctx, target, buf.Bytes(), modTime)
}

func (s *fileStore) writeAtomic(ctx context.Context, target string, payload []byte, modTime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tempFile, err := afero.TempFile(s.fs, path.Dir(target), tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fs.Remove(tempName)
		return err
	}

	if err := s.fs.Rename(tempName, target); err != nil {
		s.fs.Remove(tempName)
		return err
	}
	return s.fs.Chtimes(target, modTime, modTime)
}

// ensureMarker 在目录中放置空的 index.php，已存在时不做任何事。
func (s *fileStore) ensureMarker(dir string) {
	marker := path.Join(dir, MarkerFile)
	if ok, _ := afero.Exists(s.fs, marker); ok {
		return
	}
	if f, err := s.fs.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	}
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locator.Dir + "::" + locator.Filename
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// dirPath 把相对目录转换为文件系统内的绝对路径，拒绝越界路径。
func (s *fileStore) dirPath(dir string) string {
	return path.Clean("/" + strings.TrimPrefix(dir, "/"))
}

func (s *fileStore) entryPath(locator Locator) (string, error) {
	name := locator.Filename
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", fmt.Errorf("invalid cache filename %q", name)
	}
	if name == MarkerFile {
		return "", errors.New("cache filename collides with marker file")
	}
	return path.Join(s.dirPath(locator.Dir), name), nil
}
