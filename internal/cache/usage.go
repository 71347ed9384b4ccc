package cache

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"
)

func (s *fileStore) SizeAndCount(ctx context.Context, dir string) (Usage, error) {
	key := s.dirPath(dir)
	now := s.now()

	s.usageMu.Lock()
	cached, ok := s.usage[key]
	s.usageMu.Unlock()
	if ok && s.sizeTTL > 0 && now.Sub(cached.ComputedAt) < s.sizeTTL {
		return cached, nil
	}

	gen := atomic.LoadUint64(&s.generation)
	value, err, _ := s.usageGroup.Do(key, func() (interface{}, error) {
		return s.walkUsage(ctx, key)
	})
	if err != nil {
		return Usage{}, err
	}
	usage := value.(Usage)

	// 统计期间发生了失效，不缓存可能过期的结果。
	if s.sizeTTL > 0 && atomic.LoadUint64(&s.generation) == gen {
		s.usageMu.Lock()
		s.usage[key] = usage
		s.usageMu.Unlock()
	}
	return usage, nil
}

func (s *fileStore) walkUsage(ctx context.Context, root string) (Usage, error) {
	usage := Usage{ComputedAt: s.now()}
	err := afero.Walk(s.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !countable(info.Name()) {
			return nil
		}
		usage.Bytes += info.Size()
		usage.Files++
		return nil
	})
	return usage, err
}

func (s *fileStore) InvalidateUsage() {
	atomic.AddUint64(&s.generation, 1)
	s.usageMu.Lock()
	clear(s.usage)
	s.usageMu.Unlock()
}

// countable 判断文件是否计入缓存占用：标记文件、.htaccess 与写入中的临时文件不计入。
func countable(name string) bool {
	if name == MarkerFile || name == htaccessFile {
		return false
	}
	return !strings.HasPrefix(name, tempPrefix)
}
