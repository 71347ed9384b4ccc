package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// SettingsDBName 是所有站点共用的持久化设置库文件名。
const SettingsDBName = "settings.db"

// SiteRuntime 汇总单个站点在运行期需要的派生路径与解析后的源站地址。
type SiteRuntime struct {
	Config       SiteConfig
	Origin       *url.URL
	SettingsDB   string
	SnapshotPath string
}

// BuildSiteRuntime 根据全局配置推导站点的设置库路径与快照文件路径。
func BuildSiteRuntime(g GlobalConfig, site SiteConfig) (SiteRuntime, error) {
	origin, err := url.Parse(site.Origin)
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("%s: %w", siteField(site.Name, "Origin"), err)
	}
	return SiteRuntime{
		Config:       site,
		Origin:       origin,
		SettingsDB:   filepath.Join(g.SettingsPath, SettingsDBName),
		SnapshotPath: filepath.Join(g.SettingsPath, SnapshotFileName(site.SiteHost())),
	}, nil
}

// SnapshotFileName 生成 config-<host>[-port<port>].yaml 形式的快照文件名。
func SnapshotFileName(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	name, port := host, ""
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.HasSuffix(host, "]") {
		name, port = host[:idx], host[idx+1:]
	}
	if port != "" {
		return fmt.Sprintf("config-%s-port%s.yaml", name, port)
	}
	return fmt.Sprintf("config-%s.yaml", name)
}
