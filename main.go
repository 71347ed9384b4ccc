package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/logging"
	"github.com/pressgate/pressgate/internal/proxy"
	"github.com/pressgate/pressgate/internal/scheduler"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/server/routes"
	"github.com/pressgate/pressgate/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool

	site         string
	status       bool
	purge        bool
	purgeURL     string
	saveSettings string
}

// command 返回本次需要执行的一次性命令，空字符串表示启动服务。
func (o cliOptions) command() string {
	switch {
	case o.status:
		return "status"
	case o.purge:
		return "purge"
	case o.purgeURL != "":
		return "purge-url"
	case o.saveSettings != "":
		return "save-settings"
	default:
		return ""
	}
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = len(cfg.Sites)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if cmd := opts.command(); cmd != "" {
		rt, err := bootstrap(cfg, logger, false)
		if err != nil {
			fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
			return 1
		}
		return runCommand(context.Background(), rt, opts)
	}

	// 启动顺序：配置 → 磁盘缓存 → 站点注册表（设置存储 + 失效路由）→ Fiber server，
	// 所有请求与后台任务共享同一份缓存与站点实例。
	rt, err := bootstrap(cfg, logger, true)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = len(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["debug"] = cfg.Global.Debug
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, rt); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("pressgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PRESSGATE_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.StringVar(&opts.site, "site", "", "命令作用的站点名称（默认第一个站点）")
	fs.BoolVar(&opts.status, "status", false, "输出缓存状态后退出")
	fs.BoolVar(&opts.purge, "purge", false, "清空站点页面缓存后退出")
	fs.StringVar(&opts.purgeURL, "purge-url", "", "清理单个 URL 的缓存后退出")
	fs.StringVar(&opts.saveSettings, "save-settings", "", "从 YAML 文件合并站点设置后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	selected := 0
	for _, on := range []bool{opts.status, opts.purge, opts.purgeURL != "", opts.saveSettings != ""} {
		if on {
			selected++
		}
	}
	if selected > 1 {
		return cliOptions{}, errors.New("-status、-purge、-purge-url、-save-settings 只能选择一个")
	}

	path := os.Getenv("PRESSGATE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}

// serve 启动 HTTP 服务以及设置监听、预热与定时任务，ctx 取消时整体退出。
func serve(ctx context.Context, rt *appRuntime) error {
	cfg := rt.cfg
	port := cfg.Global.ListenPort

	handler := proxy.NewHandler(server.NewUpstreamClient(cfg), rt.logger, rt.store, proxy.Options{Debug: cfg.Global.Debug})
	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		Registry:   rt.registry,
		Proxy:      proxy.NewForwarder(handler, rt.logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterAdminRoutes(app, routes.AdminOptions{
		Registry: rt.registry,
		Commands: rt.commands,
		Logger:   rt.logger,
		Token:    cfg.Global.AdminToken,
	})

	sched := scheduler.New(scheduler.Options{Logger: rt.logger})
	for _, site := range rt.registry.List() {
		sched.Add(scheduler.PurgeExpiredTask(rt.store, site, rt.purgeLogger))
	}
	sched.Add(scheduler.PruneLogsTask(rt.rotator, cfg.Global.PruneLogsInterval.DurationValue()))

	group, gctx := errgroup.WithContext(ctx)
	for _, site := range rt.registry.List() {
		group.Go(func() error {
			if err := site.Settings.Watch(gctx); err != nil {
				rt.logger.WithFields(logrus.Fields{
					"action": "settings_watch",
					"site":   site.Config.Name,
				}).WithError(err).Warn("settings_watch_stopped")
			}
			return nil
		})
	}
	if rt.warmer != nil {
		group.Go(func() error { return rt.warmer.Run(gctx) })
	}
	group.Go(func() error { return sched.Run(gctx) })
	group.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})
	group.Go(func() error {
		rt.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		err := app.Listen(fmt.Sprintf(":%d", port))
		if err == nil {
			err = context.Canceled
		}
		return err
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
