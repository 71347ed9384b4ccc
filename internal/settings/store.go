package settings

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPersist 表示配置已在内存生效，但持久化副本写入失败。
var ErrPersist = errors.New("settings not persisted")

// Durable 描述配置的持久化副本。
type Durable interface {
	Load(site string) (Settings, bool, error)
	Save(site string, s Settings) error
}

// Options 控制 Store 的初始化。
type Options struct {
	Site     string
	SiteURL  string
	Durable  Durable
	Snapshot *SnapshotFile
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Store 是站点配置的唯一写入入口，对外只暴露 Get/Update 契约。
type Store struct {
	site     string
	durable  Durable
	snapshot *SnapshotFile
	logger   *logrus.Logger
	now      func() time.Time

	// writeMu 串行化“读取当前值 → 计算新值 → 持久化 → 通知”的整个写入过程。
	writeMu   sync.Mutex
	mu        sync.RWMutex
	current   Settings
	listeners []func(prev, next Settings)
}

// Open 优先读取快照文件；快照缺失时回退到持久化副本并重新生成快照；
// 两者都不存在时写入默认配置。
func Open(opts Options) (*Store, error) {
	if opts.Durable == nil || opts.Snapshot == nil {
		return nil, errors.New("settings store requires durable and snapshot backends")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		site:     opts.Site,
		durable:  opts.Durable,
		snapshot: opts.Snapshot,
		logger:   logger,
		now:      now,
	}

	current, ok, err := s.snapshot.Load()
	if err != nil {
		logger.WithError(err).WithField("site", s.site).Warn("settings_snapshot_unreadable")
	}
	if !ok {
		current, ok, err = s.durable.Load(s.site)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if !ok {
			current = Defaults(opts.SiteURL)
			current.Version = 1
			current.UpdatedAt = now().UTC()
			if err := s.durable.Save(s.site, current); err != nil {
				logger.WithError(err).WithField("site", s.site).Warn("settings_defaults_not_saved")
			}
		}
		if err := s.snapshot.Save(current); err != nil {
			logger.WithError(err).WithField("site", s.site).Warn("settings_snapshot_not_saved")
		}
	}
	if current.SiteURL == "" {
		current.SiteURL = opts.SiteURL
	}
	current.Normalize()
	s.current = current
	return s, nil
}

// Site 返回配置所属站点名。
func (s *Store) Site() string {
	return s.site
}

// Get 返回当前配置的副本。
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// OnChange 注册配置变更回调，回调在写入持久化副本之后执行。
func (s *Store) OnChange(fn func(prev, next Settings)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Update 在当前配置的副本上执行 mutate，立即在内存生效，再同步两个持久化副本。
// 持久化失败时返回包裹 ErrPersist 的错误，但内存中的新配置保持不变。
func (s *Store) Update(mutate func(*Settings)) (Settings, error) {
	_, next, err := s.Transact(func(cur Settings) (Settings, error) {
		if mutate != nil {
			mutate(&cur)
		}
		return cur, nil
	})
	return next, err
}

// Transact 基于最新配置计算新值，并与其他写入互斥地完成内存替换、持久化与通知。
// compute 返回错误时配置保持不变，错误原样返回；持久化失败时返回包裹 ErrPersist 的错误。
func (s *Store) Transact(compute func(cur Settings) (Settings, error)) (prev, next Settings, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	prev = s.current.Clone()
	s.mu.RUnlock()

	next, err = compute(prev.Clone())
	if err != nil {
		return prev, prev, err
	}
	next.Normalize()
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.current = next.Clone()
	listeners := append([]func(prev, next Settings){}, s.listeners...)
	s.mu.Unlock()

	err = s.persist(next)
	for _, fn := range listeners {
		fn(prev.Clone(), next.Clone())
	}
	return prev, next.Clone(), err
}

// Replace 用完整配置替换当前值，版本号仍由 Store 维护。
func (s *Store) Replace(next Settings) (Settings, error) {
	return s.Update(func(cur *Settings) {
		version := cur.Version
		*cur = next.Clone()
		cur.Version = version
	})
}

// RegenerateSnapshot 根据持久化副本重写快照文件。
func (s *Store) RegenerateSnapshot() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok, err := s.durable.Load(s.site)
	if err != nil {
		return err
	}
	if !ok {
		current = s.Get()
	}
	if err := s.snapshot.Save(current); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Reload 重新读取快照文件，仅在其版本更新时替换内存配置。
func (s *Store) Reload() (bool, error) {
	loaded, ok, err := s.snapshot.Load()
	if err != nil || !ok {
		return false, err
	}
	loaded.Normalize()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	prev := s.current
	if loaded.Version <= prev.Version {
		s.mu.Unlock()
		return false, nil
	}
	s.current = loaded
	listeners := append([]func(prev, next Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(prev.Clone(), loaded.Clone())
	}
	return true, nil
}

func (s *Store) persist(next Settings) error {
	var errs []error
	if err := s.durable.Save(s.site, next); err != nil {
		errs = append(errs, err)
	}
	if err := s.snapshot.Save(next); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	s.logger.WithError(errors.Join(errs...)).WithFields(logrus.Fields{
		"action":  "settings_update",
		"site":    s.site,
		"version": next.Version,
	}).Warn("settings_persist_failed")
	return fmt.Errorf("%w: %w", ErrPersist, errors.Join(errs...))
}
