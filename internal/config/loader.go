package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	absSettings, err := filepath.Abs(cfg.Global.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("无法解析设置目录: %w", err)
	}
	cfg.Global.SettingsPath = absSettings

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("PurgeLogPath", "")
	v.SetDefault("StoragePath", "./storage/cache")
	v.SetDefault("SettingsPath", "./storage/settings")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Debug", false)
	v.SetDefault("SizeCacheTTL", "24h")
	v.SetDefault("PruneLogsInterval", "168h")
	v.SetDefault("PreloadConcurrency", 2)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.SizeCacheTTL.DurationValue() < 0 {
		g.SizeCacheTTL = Duration(0)
	}
	if g.PruneLogsInterval.DurationValue() <= 0 {
		g.PruneLogsInterval = Duration(7 * 24 * time.Hour)
	}
	if g.PreloadConcurrency <= 0 {
		g.PreloadConcurrency = 1
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	s.Origin = strings.TrimSpace(s.Origin)
	s.SiteURL = strings.TrimSpace(s.SiteURL)
	if s.SiteURL == "" && s.Domain != "" {
		s.SiteURL = "https://" + s.Domain + "/"
	}
	if s.SiteURL != "" && !strings.HasSuffix(s.SiteURL, "/") {
		s.SiteURL += "/"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
