package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pressgate/pressgate/internal/commands"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/settings"
)

// runCommand 执行 -status/-purge/-purge-url/-save-settings 之一，并以 JSON 打印结果。
func runCommand(ctx context.Context, rt *appRuntime, opts cliOptions) int {
	site, ok := selectSite(rt, opts.site)
	if !ok {
		fmt.Fprintf(stdErr, "未找到站点 %q\n", opts.site)
		return 1
	}

	var (
		result any
		err    error
	)
	switch opts.command() {
	case "status":
		result, err = rt.commands.Status(ctx, site)
	case "purge":
		result, err = rt.commands.Purge(ctx, site)
	case "purge-url":
		var purged bool
		purged, err = rt.commands.PurgeURL(ctx, site, opts.purgeURL)
		result = map[string]bool{"success": purged}
	case "save-settings":
		result, err = saveSettingsFromFile(ctx, rt, site, opts.saveSettings)
	default:
		fmt.Fprintf(stdErr, "未知命令 %q\n", opts.command())
		return 2
	}

	// SaveSettings 失败时结果里仍带有错误详情与已生效状态。
	if result != nil && (err == nil || opts.command() == "save-settings") {
		if encodeErr := printJSON(result); encodeErr != nil {
			fmt.Fprintf(stdErr, "输出结果失败: %v\n", encodeErr)
			return 1
		}
	}
	if err != nil {
		if cmdErr, ok := commands.AsError(err); ok {
			fmt.Fprintf(stdErr, "%s: %s\n", cmdErr.Code, cmdErr.Message)
			if cmdErr.Remediation != "" {
				fmt.Fprintln(stdErr, cmdErr.Remediation)
			}
		} else {
			fmt.Fprintf(stdErr, "命令执行失败: %v\n", err)
		}
		return 1
	}
	return 0
}

func selectSite(rt *appRuntime, name string) (*server.SiteRoute, bool) {
	if name != "" {
		return rt.registry.LookupName(name)
	}
	sites := rt.registry.List()
	if len(sites) == 0 {
		return nil, false
	}
	return sites[0], true
}

func saveSettingsFromFile(ctx context.Context, rt *appRuntime, site *server.SiteRoute, path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取设置文件失败: %w", err)
	}
	partial, err := settings.DecodeYAML(raw)
	if err != nil {
		return nil, err
	}
	return rt.commands.SaveSettings(ctx, site, partial)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(stdOut)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
