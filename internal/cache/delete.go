package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

func (s *fileStore) Delete(ctx context.Context, dir string, recursive bool) error {
	defer s.InvalidateUsage()

	target := s.dirPath(dir)
	info, err := s.fs.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return s.joinFailures([]error{s.removeFile(target)})
	}
	if !recursive {
		return s.deleteDirectFiles(ctx, target)
	}
	return s.deleteTree(ctx, target)
}

// deleteDirectFiles 删除目录下的直接文件（含 gzip 副本），保留子目录。
func (s *fileStore) deleteDirectFiles(ctx context.Context, target string) error {
	entries, err := afero.ReadDir(s.fs, target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var failures []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			continue
		}
		failures = append(failures, s.removeFile(path.Join(target, entry.Name())))
	}
	return s.joinFailures(failures)
}

// deleteTree 删除整棵目录树。文件删除失败会被汇总，目录删除失败则忽略。
func (s *fileStore) deleteTree(ctx context.Context, target string) error {
	var (
		failures []error
		dirs     []string
	)
	walkErr := afero.Walk(s.fs, target, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			failures = append(failures, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		failures = append(failures, s.removeFile(p))
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	// 深层目录先删除。
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	for _, d := range dirs {
		_ = s.fs.Remove(d)
	}
	return s.joinFailures(failures)
}

// removeFile 删除单个文件。删除失败但文件已经不存在时视为成功。
func (s *fileStore) removeFile(p string) error {
	err := s.fs.Remove(p)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if ok, _ := afero.Exists(s.fs, p); !ok {
		return nil
	}
	return fmt.Errorf("remove %s: %w", p, err)
}

func (s *fileStore) joinFailures(failures []error) error {
	joined := errors.Join(failures...)
	if joined == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPartialDelete, joined)
}

func (s *fileStore) IsEmpty(dir string) bool {
	entries, err := afero.ReadDir(s.fs, s.dirPath(dir))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Name() != MarkerFile {
			return false
		}
	}
	return true
}

func (s *fileStore) PurgeExpired(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	defer s.InvalidateUsage()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	var failures []error
	err := afero.Walk(s.fs, s.dirPath(dir), func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			failures = append(failures, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !countable(info.Name()) {
			return nil
		}
		// 与 Freshness 一致：恰好达到 TTL 的条目仍视为新鲜。
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if rmErr := s.removeFile(p); rmErr != nil {
			failures = append(failures, rmErr)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, s.joinFailures(failures)
}
