package server

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/invalidation"
	"github.com/pressgate/pressgate/internal/settings"
)

const settingsDBTimeout = 5 * time.Second

// SiteDeps 汇总构建站点绑定所需的共享组件。
type SiteDeps struct {
	Global      config.GlobalConfig
	Store       cache.Store
	Preloader   invalidation.Enqueuer
	Logger      *logrus.Logger
	PurgeLogger *logrus.Logger
	// Fs 为空时使用操作系统文件系统存放设置快照。
	Fs afero.Fs
	// Durable 为空时使用 SettingsPath 下的 bbolt 库。
	Durable settings.Durable
}

// Bind 实现 BindFunc：打开站点配置存储，并创建失效路由。
func (d SiteDeps) Bind(site config.SiteConfig) (SiteBinding, error) {
	store, err := OpenSiteSettings(d, site)
	if err != nil {
		return SiteBinding{}, err
	}
	router, err := invalidation.NewRouter(invalidation.Options{
		Site:      site.Name,
		Store:     d.Store,
		Settings:  store,
		Preloader: d.Preloader,
		Logger:    d.PurgeLogger,
	})
	if err != nil {
		return SiteBinding{}, err
	}
	return SiteBinding{Settings: store, Invalidation: router}, nil
}

// OpenSiteSettings 打开站点的配置存储：bbolt 持久化副本 + YAML 快照。
func OpenSiteSettings(d SiteDeps, site config.SiteConfig) (*settings.Store, error) {
	rt, err := config.BuildSiteRuntime(d.Global, site)
	if err != nil {
		return nil, err
	}
	fs := d.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	durable := d.Durable
	if durable == nil {
		durable = settings.NewBoltBackend(rt.SettingsDB, settingsDBTimeout)
	}
	return settings.Open(settings.Options{
		Site:     site.Name,
		SiteURL:  site.SiteURL,
		Durable:  durable,
		Snapshot: settings.NewSnapshotFile(fs, rt.SnapshotPath),
		Logger:   d.Logger,
	})
}
