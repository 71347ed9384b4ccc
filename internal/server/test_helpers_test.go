package server

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/settings"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memoryDeps 返回完全基于内存的站点依赖，避免测试触碰磁盘。
func memoryDeps(t *testing.T) SiteDeps {
	t.Helper()
	fs := afero.NewMemMapFs()
	return SiteDeps{
		Global:      config.GlobalConfig{ListenPort: 5000, SettingsPath: "/settings"},
		Store:       cache.NewStoreWithFs(afero.NewBasePathFs(fs, "/cache"), cache.Options{}),
		Logger:      discardLogger(),
		PurgeLogger: discardLogger(),
		Fs:          fs,
		Durable:     settings.NewMemoryBackend(),
	}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: port},
		Sites: []config.SiteConfig{
			{
				Name:    "blog",
				Domain:  "blog.example.com",
				Origin:  "http://127.0.0.1:8081",
				SiteURL: "https://blog.example.com/",
			},
			{
				Name:    "shop",
				Domain:  "shop.example.com",
				Origin:  "http://127.0.0.1:8082",
				SiteURL: "https://shop.example.com/",
			},
		},
	}
}
