package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/invalidation"
	"github.com/pressgate/pressgate/internal/logging"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/server"
)

// PurgeExpiredTask 按站点 TTL 周期性删除过期缓存文件。
// 缓存关闭或 TTL 为 0 时任务空转。
func PurgeExpiredTask(store cache.Store, site *server.SiteRoute, logger *logrus.Logger) Task {
	name := site.Config.Name
	return Task{
		Name: "purge_expired:" + name,
		Interval: func() time.Duration {
			return site.Settings.Get().TTL()
		},
		Run: func(ctx context.Context) error {
			s := site.Settings.Get()
			ttl := s.TTL()
			if !s.EnablePageCaching || ttl <= 0 {
				return nil
			}
			dir, err := invalidation.SiteDirectory(s)
			if err != nil {
				return err
			}
			removed, err := store.PurgeExpired(ctx, dir, ttl)
			if removed > 0 {
				metrics.ExpiredFiles.WithLabelValues(name).Add(float64(removed))
				logger.WithFields(logging.PurgeFields(name, "expired", "scheduler")).
					WithField("removed", removed).Info("cache_expired_purged")
			}
			return err
		},
	}
}

// PruneLogsTask 周期性轮转清理日志，lumberjack 按 LogMaxBackups 删除旧文件。
func PruneLogsTask(rotator logging.Rotator, interval time.Duration) Task {
	return Task{
		Name:     "prune_logs",
		Interval: func() time.Duration { return interval },
		Run: func(context.Context) error {
			return rotator.Rotate()
		},
	}
}
