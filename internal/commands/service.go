package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/invalidation"
	"github.com/pressgate/pressgate/internal/logging"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/settings"
)

// Options 汇总 Service 的协作者。
type Options struct {
	Store  cache.Store
	Logger *logrus.Logger
	// PurgeLog 在关闭页面缓存时被轮转。
	PurgeLog logging.Rotator
	// CacheDirReady 返回缓存目录不可用的原因，nil 表示可用。
	CacheDirReady func() error
}

// Service 实现控制面命令，管理接口与 CLI 共用同一份实例。
type Service struct {
	store         cache.Store
	logger        *logrus.Logger
	purgeLog      logging.Rotator
	cacheDirReady func() error
}

// New 创建 Service。
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:         opts.Store,
		logger:        logger,
		purgeLog:      opts.PurgeLog,
		cacheDirReady: opts.CacheDirReady,
	}, nil
}

// SaveResult 是 SaveSettings 的返回值。
type SaveResult struct {
	Success   bool     `json:"success"`
	Enabled   bool     `json:"enabled"`
	PurgedFor []string `json:"purged_for,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Error     *Error   `json:"error,omitempty"`
}

// PurgeResult 是 Purge 的返回值，Size 为人类可读的剩余占用。
type PurgeResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Size      string `json:"size"`
	FileCount int64  `json:"file_count"`
}

// StatusResult 是 Status 的返回值。
type StatusResult struct {
	Enabled   bool     `json:"enabled"`
	Size      string   `json:"size"`
	Bytes     int64    `json:"bytes"`
	FileCount int64    `json:"file_count"`
	Messages  []string `json:"messages"`
	Message   string   `json:"message"`
}

// SaveSettings 合并部分配置并持久化。开启缓存时若影响缓存键的字段发生变化会清空站点缓存；
// 关闭缓存时清空站点缓存并轮转清理日志。持久化失败时新配置仍在内存生效。
func (s *Service) SaveSettings(ctx context.Context, site *server.SiteRoute, partial map[string]any) (SaveResult, error) {
	if err := requireSite(site); err != nil {
		return SaveResult{}, err
	}
	var (
		result   SaveResult
		dirErr   *Error
		mergeErr error
	)
	// 合并在写锁内基于最新配置进行，避免覆盖并发写入（例如失效事件同步的时区或固定链接）。
	prev, next, persistErr := site.Settings.Transact(func(cur settings.Settings) (settings.Settings, error) {
		merged, err := settings.Merge(cur, partial)
		if err != nil {
			mergeErr = err
			return settings.Settings{}, err
		}
		if merged.EnablePageCaching && !cur.EnablePageCaching && s.cacheDirReady != nil {
			if err := s.cacheDirReady(); err != nil {
				merged.EnablePageCaching = false
				dirErr = newError(CodeCacheDirUnavailable,
					fmt.Sprintf("Page caching could not be enabled: %v", err),
					"Make sure StoragePath exists and is writable by the pressgate process",
					err)
			}
		}
		return merged, nil
	})
	if mergeErr != nil {
		cmdErr := newError(CodeInvalidSettings, mergeErr.Error(), "", mergeErr)
		result.Enabled = prev.EnablePageCaching
		result.Error = cmdErr
		return result, cmdErr
	}
	result.Error = dirErr
	result.Enabled = next.EnablePageCaching
	result.Success = persistErr == nil

	fields := logrus.Fields{"action": "settings_save", "site": site.Config.Name, "version": next.Version}
	switch {
	case prev.EnablePageCaching && !next.EnablePageCaching:
		result.Warnings = append(result.Warnings, s.purgeAfterSave(ctx, site, "page caching disabled")...)
		if s.purgeLog != nil {
			if err := s.purgeLog.Rotate(); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("The purge log could not be pruned: %v", err))
			}
		}
	case next.EnablePageCaching:
		if changed := settings.PurgeRelevantChanges(prev, next); len(changed) > 0 {
			result.PurgedFor = changed
			reason := "settings changed: " + strings.Join(changed, ", ")
			result.Warnings = append(result.Warnings, s.purgeAfterSave(ctx, site, reason)...)
		}
	}

	if _, err := site.Invalidation.Dispatch(ctx, invalidation.Event{
		Trigger: invalidation.TriggerSettingsUpdated,
		Reason:  "settings saved",
	}); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Settings change could not be applied to the cache: %v", err))
	}

	if persistErr != nil {
		cmdErr := newError(CodeWriteCacheConfig,
			"The settings are active but could not be written to disk",
			"Check that SettingsPath exists and is writable, then save the settings again",
			persistErr)
		if result.Error != nil {
			result.Warnings = append(result.Warnings, result.Error.Message)
		}
		result.Error = cmdErr
		s.logger.WithFields(fields).WithError(persistErr).Error("settings_save_failed")
		return result, cmdErr
	}

	s.logger.WithFields(fields).WithField("enabled", result.Enabled).Info("settings_saved")
	return result, nil
}

func (s *Service) purgeAfterSave(ctx context.Context, site *server.SiteRoute, reason string) []string {
	res, err := site.Invalidation.PurgeAll(ctx, reason)
	if err != nil {
		return []string{fmt.Sprintf("The cache could not be purged: %v", err)}
	}
	if !res.Success {
		return []string{"The cache could not be fully purged"}
	}
	return nil
}

// Purge 清空站点缓存并返回剩余占用。缓存未开启时返回 not_enabled。
func (s *Service) Purge(ctx context.Context, site *server.SiteRoute) (PurgeResult, error) {
	if err := requireSite(site); err != nil {
		return PurgeResult{}, err
	}
	current := site.Settings.Get()
	if !current.EnablePageCaching {
		return PurgeResult{}, newError(CodeNotEnabled, "Cache is not enabled.", "", nil)
	}

	res, err := site.Invalidation.PurgeAll(ctx, "manual purge")
	if err != nil {
		return PurgeResult{}, err
	}
	usage, err := s.usage(ctx, site.Config.Name, current)
	if err != nil {
		return PurgeResult{}, err
	}

	out := PurgeResult{
		Success:   res.Success,
		Size:      humanize.Bytes(uint64(usage.Bytes)),
		FileCount: usage.Files,
	}
	if res.Success {
		out.Message = "Page cache purged successfully"
	}
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_purge_all",
		"site":    site.Config.Name,
		"success": res.Success,
	}).Info("cache_purged")
	return out, nil
}

// Status 返回缓存开关、占用与文件数，同时刷新占用 gauge。
func (s *Service) Status(ctx context.Context, site *server.SiteRoute) (StatusResult, error) {
	if err := requireSite(site); err != nil {
		return StatusResult{}, err
	}
	current := site.Settings.Get()
	usage, err := s.usage(ctx, site.Config.Name, current)
	if err != nil {
		return StatusResult{}, err
	}

	out := StatusResult{
		Enabled:   current.EnablePageCaching,
		Size:      humanize.Bytes(uint64(usage.Bytes)),
		Bytes:     usage.Bytes,
		FileCount: usage.Files,
	}
	if out.Enabled {
		out.Messages = append(out.Messages, "Caching is enabled")
	} else {
		out.Messages = append(out.Messages, "Caching is disabled")
	}
	out.Messages = append(out.Messages,
		fmt.Sprintf("Current cache size: %s", out.Size),
		fmt.Sprintf("Number of files: %d", out.FileCount),
	)
	out.Message = strings.Join(out.Messages, "\n")
	return out, nil
}

// PurgeURL 删除单个 URL 的缓存，返回是否成功。
func (s *Service) PurgeURL(ctx context.Context, site *server.SiteRoute, rawURL string) (bool, error) {
	if err := requireSite(site); err != nil {
		return false, err
	}
	res, err := site.Invalidation.PurgeURL(ctx, rawURL)
	if err != nil {
		if errors.Is(err, invalidation.ErrInvalidEvent) {
			return false, newError(CodeInvalidURL, fmt.Sprintf("%q is not a purgeable url", rawURL), "", err)
		}
		return false, err
	}
	return res.Success, nil
}

// Dispatch 把内容变更事件交给站点的失效路由。
func (s *Service) Dispatch(ctx context.Context, site *server.SiteRoute, ev invalidation.Event) (invalidation.Result, error) {
	if err := requireSite(site); err != nil {
		return invalidation.Result{}, err
	}
	res, err := site.Invalidation.Dispatch(ctx, ev)
	if err != nil && errors.Is(err, invalidation.ErrInvalidEvent) {
		return res, newError(CodeInvalidEvent, err.Error(), "", err)
	}
	return res, err
}

func (s *Service) usage(ctx context.Context, name string, current settings.Settings) (cache.Usage, error) {
	dir, err := invalidation.SiteDirectory(current)
	if err != nil {
		return cache.Usage{}, newError(CodeUsageUnavailable, "The site url has no host", "Set SiteURL for the site", err)
	}
	usage, err := s.store.SizeAndCount(ctx, dir)
	if err != nil {
		return cache.Usage{}, newError(CodeUsageUnavailable, "The cache size could not be computed", "", err)
	}
	metrics.ObserveUsage(name, usage.Bytes, usage.Files)
	return usage, nil
}

func requireSite(site *server.SiteRoute) error {
	if site == nil || site.Settings == nil || site.Invalidation == nil {
		return errors.New("site is not bound")
	}
	return nil
}
