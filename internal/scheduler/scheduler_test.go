package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/settings"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSchedulerRunsTasksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var runs atomic.Int32
	s := New(Options{Logger: discardLogger(), MinInterval: 5 * time.Millisecond})
	s.Add(Task{
		Name: "counter",
		Run: func(context.Context) error {
			if runs.Add(1) == 3 {
				cancel()
			}
			return errors.New("failures are logged, not fatal")
		},
	})
	if s.Len() != 1 {
		t.Fatalf("期望 1 个任务，实际 %d", s.Len())
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run 返回错误: %v", err)
	}
	if runs.Load() < 3 {
		t.Fatalf("任务应至少执行 3 次，实际 %d", runs.Load())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("任务循环未按预期推进")
	}
}

func TestIntervalClampsToMinimum(t *testing.T) {
	s := New(Options{Logger: discardLogger()})
	if got := s.interval(Task{}); got != MinInterval {
		t.Fatalf("缺省间隔应为 %s，实际 %s", MinInterval, got)
	}
	if got := s.interval(Task{Interval: func() time.Duration { return time.Second }}); got != MinInterval {
		t.Fatalf("过短的间隔应提升到 %s，实际 %s", MinInterval, got)
	}
	if got := s.interval(Task{Interval: func() time.Duration { return 2 * time.Hour }}); got != 2*time.Hour {
		t.Fatalf("期望 2h，实际 %s", got)
	}
}

func newSite(t *testing.T, fs afero.Fs, mutate func(*settings.Settings)) *server.SiteRoute {
	t.Helper()
	store, err := settings.Open(settings.Options{
		Site:     "blog",
		SiteURL:  "https://blog.example.com/",
		Durable:  settings.NewMemoryBackend(),
		Snapshot: settings.NewSnapshotFile(fs, "/settings/config-blog.example.com.yaml"),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("打开配置失败: %v", err)
	}
	if _, err := store.Update(mutate); err != nil {
		t.Fatalf("更新配置失败: %v", err)
	}
	return &server.SiteRoute{Config: config.SiteConfig{Name: "blog"}, Settings: store}
}

func TestPurgeExpiredTask(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fs := afero.NewMemMapFs()
	store := cache.NewStoreWithFs(afero.NewBasePathFs(fs, "/cache"), cache.Options{Now: func() time.Time { return now }})
	site := newSite(t, fs, func(s *settings.Settings) {
		s.EnablePageCaching = true
		s.PageCacheLengthValue = 1
		s.PageCacheLengthUnit = settings.UnitHours
	})

	write := func(dir string, modTime time.Time) {
		if _, err := store.Write(context.Background(), cache.Locator{Dir: dir, Filename: "index.html"}, []byte("<html></html>"), cache.PutOptions{ModTime: modTime}); err != nil {
			t.Fatalf("写入缓存失败: %v", err)
		}
	}
	write("blog.example.com/old", now.Add(-2*time.Hour))
	write("blog.example.com/fresh", now.Add(-10*time.Minute))
	write("shop.example.com/old", now.Add(-2*time.Hour))

	task := PurgeExpiredTask(store, site, discardLogger())
	if got := task.Interval(); got != time.Hour {
		t.Fatalf("间隔应等于 TTL，实际 %s", got)
	}
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("任务返回错误: %v", err)
	}

	exists := func(dir string) bool {
		result, err := store.Read(context.Background(), cache.Locator{Dir: dir, Filename: "index.html"}, false)
		if err != nil {
			return false
		}
		result.Reader.Close()
		return true
	}
	if exists("blog.example.com/old") {
		t.Fatalf("过期条目应被删除")
	}
	if !exists("blog.example.com/fresh") {
		t.Fatalf("未过期条目应保留")
	}
	if !exists("shop.example.com/old") {
		t.Fatalf("其他站点的条目不应被删除")
	}
}

func TestPurgeExpiredTaskIdleWhenDisabled(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fs := afero.NewMemMapFs()
	store := cache.NewStoreWithFs(afero.NewBasePathFs(fs, "/cache"), cache.Options{Now: func() time.Time { return now }})
	site := newSite(t, fs, func(s *settings.Settings) {
		s.EnablePageCaching = true
		s.PageCacheLengthValue = 0
	})
	if _, err := store.Write(context.Background(), cache.Locator{Dir: "blog.example.com/old", Filename: "index.html"}, []byte("x"), cache.PutOptions{ModTime: now.AddDate(-1, 0, 0)}); err != nil {
		t.Fatalf("写入缓存失败: %v", err)
	}

	if err := PurgeExpiredTask(store, site, discardLogger()).Run(context.Background()); err != nil {
		t.Fatalf("任务返回错误: %v", err)
	}
	if _, err := store.Read(context.Background(), cache.Locator{Dir: "blog.example.com/old", Filename: "index.html"}, false); err != nil {
		t.Fatalf("TTL 为 0 时不应删除任何条目: %v", err)
	}
}

type countingRotator struct {
	calls int
}

func (r *countingRotator) Rotate() error {
	r.calls++
	return nil
}

func TestPruneLogsTask(t *testing.T) {
	rotator := &countingRotator{}
	task := PruneLogsTask(rotator, 168*time.Hour)
	if task.Interval() != 168*time.Hour {
		t.Fatalf("间隔不符合预期: %s", task.Interval())
	}
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("任务返回错误: %v", err)
	}
	if rotator.calls != 1 {
		t.Fatalf("应轮转一次，实际 %d", rotator.calls)
	}
}
