package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("PRESSGATE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsCommands(t *testing.T) {
	opts, err := parseCLIFlags([]string{"-site", "blog", "-purge-url", "https://blog.example.com/hello/"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.command() != "purge-url" || opts.site != "blog" {
		t.Fatalf("命令解析不符合预期: %+v", opts)
	}

	if _, err := parseCLIFlags([]string{"-status", "-purge"}); err == nil {
		t.Fatalf("同时指定多个命令应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "pressgate") {
		t.Fatalf("version 输出应包含 pressgate 标识")
	}
}

func commandConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return writeConfigFile(t, fmt.Sprintf(`
LogLevel = "error"
StoragePath = "%s"
SettingsPath = "%s"
ListenPort = 5000

[[Site]]
Name = "blog"
Domain = "blog.example.com"
Origin = "http://127.0.0.1:8081"
SiteURL = "https://blog.example.com/"
`, filepath.Join(dir, "cache"), filepath.Join(dir, "settings")))
}

func TestRunStatusCommand(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: commandConfig(t), status: true})
	if code != 0 {
		t.Fatalf("status 应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
	out := stdOutBuffer().String()
	if !strings.Contains(out, "Caching is disabled") || !strings.Contains(out, "Number of files: 0") {
		t.Fatalf("status 输出不符合预期: %s", out)
	}
}

func TestRunSaveSettingsThenPurge(t *testing.T) {
	cfgPath := commandConfig(t)

	useBufferWriters(t)
	if code := run(cliOptions{configPath: cfgPath, purge: true}); code == 0 {
		t.Fatalf("缓存未开启时 purge 应失败")
	}
	if !strings.Contains(stdErrBuffer().String(), "not_enabled") {
		t.Fatalf("应输出 not_enabled，实际 %s", stdErrBuffer().String())
	}

	settingsFile := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(settingsFile, []byte("enable_page_caching: true\npage_cache_length_value: 2\n"), 0o600); err != nil {
		t.Fatalf("写入设置文件失败: %v", err)
	}

	useBufferWriters(t)
	if code := run(cliOptions{configPath: cfgPath, site: "blog", saveSettings: settingsFile}); code != 0 {
		t.Fatalf("save-settings 应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
	if !strings.Contains(stdOutBuffer().String(), `"enabled": true`) {
		t.Fatalf("保存结果应显示缓存已开启: %s", stdOutBuffer().String())
	}

	useBufferWriters(t)
	if code := run(cliOptions{configPath: cfgPath, purge: true}); code != 0 {
		t.Fatalf("开启缓存后 purge 应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
	if !strings.Contains(stdOutBuffer().String(), "Page cache purged successfully") {
		t.Fatalf("purge 输出不符合预期: %s", stdOutBuffer().String())
	}
}

func TestRunUnknownSite(t *testing.T) {
	useBufferWriters(t)
	if code := run(cliOptions{configPath: commandConfig(t), site: "shop", status: true}); code == 0 {
		t.Fatalf("未知站点应返回非零退出码")
	}
}
