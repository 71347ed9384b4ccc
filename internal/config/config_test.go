package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.SizeCacheTTL.DurationValue() != 24*time.Hour {
		t.Fatalf("SizeCacheTTL 应该自动填充默认值, got %s", cfg.Global.SizeCacheTTL.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 应被解析为 10s")
	}
	if cfg.Global.StoragePath == "" || cfg.Global.SettingsPath == "" {
		t.Fatalf("存储目录应该被保留")
	}
	if len(cfg.Sites) != 1 || cfg.Sites[0].SiteURL != "https://blog.example.com/" {
		t.Fatalf("SiteURL 应补齐结尾斜杠: %+v", cfg.Sites)
	}
}

func TestValidateRejectsBadSite(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsDuplicateDomain(t *testing.T) {
	cfg := validConfig()
	cfg.Sites = append(cfg.Sites, SiteConfig{
		Name:    "mirror",
		Domain:  cfg.Sites[0].Domain,
		Origin:  "http://127.0.0.1:9000",
		SiteURL: "https://blog.example.com/",
	})
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Site[mirror].Domain" {
		t.Fatalf("重复域名应返回字段错误, got %v", err)
	}
}

func TestValidateRejectsNonHTTPOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Sites[0].Origin = "ftp://origin"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http 源站应报错")
	}
}

func TestSnapshotFileName(t *testing.T) {
	cases := map[string]string{
		"blog.example.com":      "config-blog.example.com.yaml",
		"Blog.Example.com:8443": "config-blog.example.com-port8443.yaml",
	}
	for host, want := range cases {
		if got := SnapshotFileName(host); got != want {
			t.Fatalf("SnapshotFileName(%q)=%q, want %q", host, got, want)
		}
	}
}

func TestBuildSiteRuntime(t *testing.T) {
	cfg := validConfig()
	rt, err := BuildSiteRuntime(cfg.Global, cfg.Sites[0])
	if err != nil {
		t.Fatalf("BuildSiteRuntime 返回错误: %v", err)
	}
	if rt.Origin.Host != "127.0.0.1:8081" {
		t.Fatalf("源站解析错误: %s", rt.Origin)
	}
	if rt.SnapshotPath != "/srv/settings/config-blog.example.com.yaml" {
		t.Fatalf("快照路径错误: %s", rt.SnapshotPath)
	}
	if rt.SettingsDB != "/srv/settings/settings.db" {
		t.Fatalf("设置库路径错误: %s", rt.SettingsDB)
	}
}

func TestFindSite(t *testing.T) {
	cfg := validConfig()
	if site, ok := cfg.FindSite(""); !ok || site.Name != "blog" {
		t.Fatalf("空名称应返回第一个站点")
	}
	if _, ok := cfg.FindSite("unknown"); ok {
		t.Fatalf("未知站点不应命中")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "/srv/cache",
			SettingsPath:    "/srv/settings",
			UpstreamTimeout: Duration(10 * time.Second),
		},
		Sites: []SiteConfig{{
			Name:    "blog",
			Domain:  "blog.example.com",
			Origin:  "http://127.0.0.1:8081",
			SiteURL: "https://blog.example.com/",
		}},
	}
}
