package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/commands"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/logging"
	"github.com/pressgate/pressgate/internal/preload"
	"github.com/pressgate/pressgate/internal/server"
)

// appRuntime 持有进程内共享的组件，服务模式与一次性命令共用。
type appRuntime struct {
	cfg         *config.Config
	logger      *logrus.Logger
	purgeLogger *logrus.Logger
	rotator     logging.Rotator
	store       cache.Store
	warmer      *preload.Warmer
	registry    *server.SiteRegistry
	commands    *commands.Service
}

// bootstrap 构建磁盘缓存、清理日志、站点注册表与命令服务。withPreload 为 false 时
// 不创建预热队列，一次性命令不会回放请求。
func bootstrap(cfg *config.Config, logger *logrus.Logger, withPreload bool) (*appRuntime, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath, cache.Options{
		SizeCacheTTL: cfg.Global.SizeCacheTTL.DurationValue(),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	purgeLogger, rotator := logging.InitPurgeLogger(cfg.Global, logger)

	rt := &appRuntime{
		cfg:         cfg,
		logger:      logger,
		purgeLogger: purgeLogger,
		rotator:     rotator,
		store:       store,
	}

	deps := server.SiteDeps{
		Global:      cfg.Global,
		Store:       store,
		Logger:      logger,
		PurgeLogger: purgeLogger,
	}
	if withPreload {
		warmer, err := preload.New(preload.Options{
			Client:      server.NewUpstreamClient(cfg),
			BaseURL:     fmt.Sprintf("http://127.0.0.1:%d", cfg.Global.ListenPort),
			Concurrency: cfg.Global.PreloadConcurrency,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		rt.warmer = warmer
		deps.Preloader = warmer
	}

	dirReady := cache.DirReady(afero.NewOsFs(), cfg.Global.StoragePath)
	registry, err := server.NewSiteRegistry(cfg, server.RegistryOptions{
		Bind:          deps.Bind,
		Logger:        logger,
		CacheDirReady: dirReady,
	})
	if err != nil {
		return nil, fmt.Errorf("构建站点注册表失败: %w", err)
	}
	rt.registry = registry

	service, err := commands.New(commands.Options{
		Store:         store,
		Logger:        logger,
		PurgeLog:      rotator,
		CacheDirReady: dirReady,
	})
	if err != nil {
		return nil, err
	}
	rt.commands = service
	return rt, nil
}
