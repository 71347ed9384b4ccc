package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数，所有站点共享同一份。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	PurgeLogPath       string   `mapstructure:"PurgeLogPath"`
	StoragePath        string   `mapstructure:"StoragePath"`
	SettingsPath       string   `mapstructure:"SettingsPath"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	AdminToken         string   `mapstructure:"AdminToken"`
	Debug              bool     `mapstructure:"Debug"`
	SizeCacheTTL       Duration `mapstructure:"SizeCacheTTL"`
	PruneLogsInterval  Duration `mapstructure:"PruneLogsInterval"`
	PreloadConcurrency int      `mapstructure:"PreloadConcurrency"`
}

// SiteConfig 描述一个被加速的 WordPress 站点：对外域名、源站地址与站点 URL。
type SiteConfig struct {
	Name    string `mapstructure:"Name"`
	Domain  string `mapstructure:"Domain"`
	Origin  string `mapstructure:"Origin"`
	SiteURL string `mapstructure:"SiteURL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// SiteHost 返回 SiteURL 的 host（含端口），用于生成设置快照文件名。
func (s SiteConfig) SiteHost() string {
	parsed, err := url.Parse(s.SiteURL)
	if err != nil || parsed.Host == "" {
		return s.Domain
	}
	return parsed.Host
}

// FindSite 按名称查找站点，名称为空时返回第一个站点。
func (c *Config) FindSite(name string) (SiteConfig, bool) {
	if c == nil || len(c.Sites) == 0 {
		return SiteConfig{}, false
	}
	if strings.TrimSpace(name) == "" {
		return c.Sites[0], true
	}
	for _, site := range c.Sites {
		if site.Name == name {
			return site, true
		}
	}
	return SiteConfig{}, false
}
