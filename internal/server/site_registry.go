package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/exceptions"
	"github.com/pressgate/pressgate/internal/invalidation"
	"github.com/pressgate/pressgate/internal/policy"
	"github.com/pressgate/pressgate/internal/proxy/hooks"
	"github.com/pressgate/pressgate/internal/settings"
)

// SiteRoute 将站点配置与运行期协作者（配置存储、失效路由、缓存判定器）
// 聚合在一起，供路由/代理层直接复用，避免重复解析配置。
type SiteRoute struct {
	// Config 是 config.toml 中声明的站点字段副本。
	Config config.SiteConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// OriginURL 在构造 Registry 时提前解析完成。
	OriginURL *url.URL
	// Settings 是站点缓存配置的唯一读写入口。
	Settings *settings.Store
	// Invalidation 处理该站点的内容变更事件。
	Invalidation *invalidation.Router

	logger        *logrus.Logger
	cacheDirReady func() error
	decider       atomic.Pointer[policy.Decider]
}

// Decider 返回与当前配置版本对应的判定器。
func (r *SiteRoute) Decider() *policy.Decider {
	if d := r.decider.Load(); d != nil {
		return d
	}
	return r.rebuildDecider(r.Settings.Get())
}

// rebuildDecider 根据配置快照重新编译例外规则。
func (r *SiteRoute) rebuildDecider(s settings.Settings) *policy.Decider {
	d := policy.New(s, policy.Options{
		Matcher:       exceptions.NewMatcher(s, r.logger),
		Hooks:         hooks.Registered(),
		CacheDirReady: r.cacheDirReady,
	})
	r.decider.Store(d)
	return d
}

// SiteBinding 是单个站点在运行期的有状态协作者。
type SiteBinding struct {
	Settings     *settings.Store
	Invalidation *invalidation.Router
}

// BindFunc 为站点打开配置存储并构建失效路由。
type BindFunc func(site config.SiteConfig) (SiteBinding, error)

// RegistryOptions 控制 SiteRegistry 的构建。
type RegistryOptions struct {
	Bind   BindFunc
	Logger *logrus.Logger
	// CacheDirReady 返回缓存目录不可用的原因，nil 表示可用。
	CacheDirReady func() error
}

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询能力，所有站点共享同一个监听端口。
type SiteRegistry struct {
	routes  map[string]*SiteRoute
	byName  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewSiteRegistry(cfg *config.Config, opts RegistryOptions) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if opts.Bind == nil {
		return nil, errors.New("site binder is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := &SiteRegistry{
		routes: make(map[string]*SiteRoute, len(cfg.Sites)),
		byName: make(map[string]*SiteRoute, len(cfg.Sites)),
	}

	for _, site := range cfg.Sites {
		normalizedHost := normalizeDomain(site.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := buildSiteRoute(cfg, site, opts, logger)
		if err != nil {
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.byName[site.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 SiteRoute。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// LookupName 按站点名查找，供管理接口与 CLI 使用。
func (r *SiteRegistry) LookupName(name string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[strings.TrimSpace(name)]
	return route, ok
}

// List 返回当前注册的 SiteRoute 列表（按配置定义的顺序）。
func (r *SiteRegistry) List() []*SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*SiteRoute(nil), r.ordered...)
}

func buildSiteRoute(cfg *config.Config, site config.SiteConfig, opts RegistryOptions, logger *logrus.Logger) (*SiteRoute, error) {
	originURL, err := url.Parse(site.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin for site %s: %w", site.Name, err)
	}

	binding, err := opts.Bind(site)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}
	if binding.Settings == nil {
		return nil, fmt.Errorf("site %s: settings store is required", site.Name)
	}

	route := &SiteRoute{
		Config:        site,
		ListenPort:    cfg.Global.ListenPort,
		OriginURL:     originURL,
		Settings:      binding.Settings,
		Invalidation:  binding.Invalidation,
		logger:        logger,
		cacheDirReady: opts.CacheDirReady,
	}
	route.rebuildDecider(binding.Settings.Get())
	binding.Settings.OnChange(func(_, next settings.Settings) {
		route.rebuildDecider(next)
	})
	return route, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
