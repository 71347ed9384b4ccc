// Package scheduler runs the periodic maintenance tasks: removing expired
// page cache files for every site and pruning the purge log. Each task owns
// a timer whose interval is recomputed after every run so that settings
// changes take effect without a restart.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MinInterval 是任务两次执行之间的最短间隔。
const MinInterval = time.Minute

// Task 描述一个周期任务。
type Task struct {
	Name string
	// Interval 在每次执行前重新计算，返回值小于最短间隔时按最短间隔处理。
	Interval func() time.Duration
	Run      func(ctx context.Context) error
}

// Options 控制 Scheduler 的可选行为。
type Options struct {
	Logger *logrus.Logger
	// MinInterval 为 0 时使用包级 MinInterval。
	MinInterval time.Duration
}

// Scheduler 为每个任务维护独立的定时循环。
type Scheduler struct {
	logger      *logrus.Logger
	minInterval time.Duration
	tasks       []Task
}

// New 创建 Scheduler。
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = MinInterval
	}
	return &Scheduler{logger: logger, minInterval: minInterval}
}

// Add 注册任务，必须在 Run 之前调用。
func (s *Scheduler) Add(task Task) {
	s.tasks = append(s.tasks, task)
}

// Len 返回已注册的任务数。
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Run 启动全部任务并阻塞到 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, task)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	for {
		timer := time.NewTimer(s.interval(task))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.runOnce(ctx, task)
	}
}

func (s *Scheduler) interval(task Task) time.Duration {
	var d time.Duration
	if task.Interval != nil {
		d = task.Interval()
	}
	if d < s.minInterval {
		return s.minInterval
	}
	return d
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	started := time.Now()
	err := task.Run(ctx)
	fields := logrus.Fields{
		"action":     "scheduled_task",
		"task":       task.Name,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithFields(fields).WithError(err).Warn("scheduled_task_failed")
		return
	}
	s.logger.WithFields(fields).Debug("scheduled_task_complete")
}
