package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/cachekey"
	"github.com/pressgate/pressgate/internal/logging"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/policy"
	"github.com/pressgate/pressgate/internal/server"
)

// Handler 负责 “缓存查找 → 过期淘汰 → 回源 → 捕获写缓存” 的全流程，
// 对外暴露 Fiber handler，内部复用共享 http.Client 与磁盘缓存。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
	store  cache.Store
	debug  bool
	now    func() time.Time
}

// Options 为 Handler 提供可选参数。
type Options struct {
	// Debug 允许通过 pressgate_debug 查询参数输出未缓存原因。
	Debug bool
	Now   func() time.Time
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/store.
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, opts Options) *Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		client: client,
		logger: logger,
		store:  store,
		debug:  opts.Debug,
		now:    now,
	}
}

// captureMode 决定回源后的响应是否进入捕获流程。
type captureMode int

const (
	modeBypass captureMode = iota
	modeCapture
)

// lookup 是一次缓存查找命中的条目。
type lookup struct {
	result  *cache.ReadResult
	locator cache.Locator
	feed    bool
}

// Handle 执行缓存判定、查找与回源，任何阶段出错都会输出结构化日志。
// 缓存层的故障只会让请求退化为回源，不会让请求失败。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := h.now()
	requestID := server.RequestID(c)
	decider := route.Decider()
	req := pageRequest(c, h.debug)
	site := route.Config.Name

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	decision := decider.ShouldServe(req)
	switch decision.Verdict {
	case policy.VerdictMiss:
		metrics.ObserveLookup(site, "bypass")
		return h.forward(c, route, req, decider, modeBypass, requestID, started)
	case policy.VerdictDisqualified:
		metrics.ObserveLookup(site, "disqualified")
		h.logger.WithFields(h.requestFields(route, req, pagectx.StatusNotCached, requestID)).
			WithField("reasons", decision.Reasons).Debug("cache_disqualified")
		c.Set(pagectx.HeaderCacheStatus, pagectx.StatusNotCached)
		c.Set(pagectx.HeaderCacheMessage, decision.Message())
		return h.forward(c, route, req, decider, modeBypass, requestID, started)
	}

	s := decider.Settings()
	dir := cachekey.DirectoryFor(req.CurrentURL())
	found := h.lookup(ctx, route, req, decider, dir)
	if found == nil {
		metrics.ObserveLookup(site, "miss")
		return h.forward(c, route, req, decider, modeCapture, requestID, started)
	}

	freshness := cache.Freshness{TTL: s.TTL(), Now: h.now}
	switch {
	case freshness.Expired(found.result.Entry):
		found.result.Reader.Close()
		h.evict(ctx, route, found.locator)
		metrics.ObserveLookup(site, "stale")
		return h.forward(c, route, req, decider, modeCapture, requestID, started)
	case notModified(req, found.result.Entry):
		found.result.Reader.Close()
		metrics.ObserveLookup(site, "not_modified")
		c.Set(fiber.HeaderLastModified, httpTime(found.result.Entry.ModTime))
		c.Set(pagectx.HeaderCacheStatus, pagectx.StatusCached)
		h.logResult(route, req, pagectx.StatusCached, requestID, fiber.StatusNotModified, started, nil)
		return c.SendStatus(fiber.StatusNotModified)
	case cachekey.NeedsCanonicalRedirect(req, s):
		found.result.Reader.Close()
		metrics.ObserveLookup(site, "bypass")
		return h.forward(c, route, req, decider, modeCapture, requestID, started)
	}

	metrics.ObserveLookup(site, "hit")
	return h.serveCached(c, route, req, found, requestID, started)
}

// lookup 依次尝试 .html 与（开启 feed 缓存时的）.rss-xml 变体。
func (h *Handler) lookup(ctx context.Context, route *server.SiteRoute, req *pagectx.Request, decider *policy.Decider, dir string) *lookup {
	s := decider.Settings()
	chain := decider.Hooks()
	extensions := []string{cachekey.ExtHTML}
	if s.EnableFeedCaching {
		extensions = append(extensions, cachekey.ExtFeed)
	}
	for _, ext := range extensions {
		locator := cache.Locator{Dir: dir, Filename: cachekey.FilenameFor(req, s, ext, chain.Filename)}
		result, err := h.store.Read(ctx, locator, req.AcceptsGzip())
		switch {
		case err == nil:
			return &lookup{result: result, locator: locator, feed: ext == cachekey.ExtFeed}
		case errors.Is(err, cache.ErrNotFound):
			continue
		default:
			h.logger.WithFields(h.requestFields(route, req, "", "")).
				WithError(err).Warn("cache_read_failed")
			return nil
		}
	}
	return nil
}

// evict 删除过期条目的正文与 gzip 副本。
func (h *Handler) evict(ctx context.Context, route *server.SiteRoute, locator cache.Locator) {
	base := strings.TrimSuffix(locator.Dir, "/") + "/" + locator.Filename
	for _, target := range []string{base, base + ".gz"} {
		if err := h.store.Delete(ctx, target, false); err != nil {
			h.logger.WithFields(logrus.Fields{
				"action": "cache_evict",
				"site":   route.Config.Name,
				"target": target,
			}).WithError(err).Warn("cache_evict_failed")
		}
	}
}

func (h *Handler) serveCached(c fiber.Ctx, route *server.SiteRoute, req *pagectx.Request, found *lookup, requestID string, started time.Time) error {
	result := found.result
	defer result.Reader.Close()

	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderLastModified, httpTime(result.Entry.ModTime))
	c.Set(fiber.HeaderContentType, servedContentType(found.locator.Dir, found.feed))
	if result.Entry.Gzip {
		c.Set(fiber.HeaderContentEncoding, "gzip")
		c.Set(fiber.HeaderVary, fiber.HeaderAcceptEncoding)
	}
	c.Set(pagectx.HeaderCacheStatus, pagectx.StatusCached)
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
		h.logResult(route, req, pagectx.StatusCached, requestID, fiber.StatusOK, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(route, req, pagectx.StatusCached, requestID, fiber.StatusOK, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// forward 回源并按 mode 决定是否进入捕获流程。
func (h *Handler) forward(c fiber.Ctx, route *server.SiteRoute, req *pagectx.Request, decider *policy.Decider, mode captureMode, requestID string, started time.Time) error {
	upstreamReq, err := h.buildUpstreamRequest(c, route, req)
	if err != nil {
		h.logResult(route, req, "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "origin_request_invalid")
	}
	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.logResult(route, req, "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "origin_unreachable")
	}
	defer resp.Body.Close()

	if mode == modeCapture {
		return h.capture(c, route, req, decider, resp, requestID, started)
	}

	copyResponseHeaders(c, resp.Header)
	c.Status(resp.StatusCode)
	if req.Method == http.MethodHead {
		h.logResult(route, req, string(c.Response().Header.Peek(pagectx.HeaderCacheStatus)), requestID, resp.StatusCode, started, nil)
		return nil
	}
	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, req, string(c.Response().Header.Peek(pagectx.HeaderCacheStatus)), requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, route *server.SiteRoute, req *pagectx.Request) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytesReader(append([]byte(nil), raw...))
	}

	target := strings.TrimRight(route.OriginURL.String(), "/") + req.RequestURI
	upstream, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(upstream.Header, fiberHeadersAsHTTP(c))
	upstream.Header.Del(fiber.HeaderAcceptEncoding)
	upstream.Header.Del(fiber.HeaderIfModifiedSince)
	upstream.Header.Del(fiber.HeaderIfNoneMatch)
	// WordPress 依据 Host 生成站内链接，因此保留客户端访问的域名。
	upstream.Host = req.Host
	upstream.Header.Set(fiber.HeaderXForwardedHost, req.Host)
	upstream.Header.Set(fiber.HeaderXForwardedProto, req.Scheme)
	if ip := c.IP(); ip != "" {
		if prior := upstream.Header.Get(fiber.HeaderXForwardedFor); prior != "" {
			upstream.Header.Set(fiber.HeaderXForwardedFor, prior+", "+ip)
		} else {
			upstream.Header.Set(fiber.HeaderXForwardedFor, ip)
		}
	}
	return upstream, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) requestFields(route *server.SiteRoute, req *pagectx.Request, cacheStatus, requestID string) logrus.Fields {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, req.CurrentURL(), cacheStatus, requestID)
	fields["action"] = "proxy"
	return fields
}

func (h *Handler) logResult(route *server.SiteRoute, req *pagectx.Request, cacheStatus, requestID string, status int, started time.Time, err error) {
	fields := h.requestFields(route, req, cacheStatus, requestID)
	fields["method"] = req.Method
	fields["upstream_status"] = status
	fields["elapsed_ms"] = h.now().Sub(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// notModified 判断客户端的 If-Modified-Since 是否与条目修改时间（精确到秒）一致。
func notModified(req *pagectx.Request, entry cache.Entry) bool {
	if req.IfModifiedSince == "" {
		return false
	}
	since, err := http.ParseTime(req.IfModifiedSince)
	if err != nil {
		return false
	}
	return since.Unix() == entry.ModTime.Unix()
}

// servedContentType 根据目录名与变体选择响应类型。
func servedContentType(dir string, feed bool) string {
	last := dir
	if idx := strings.LastIndexByte(dir, '/'); idx >= 0 {
		last = dir[idx+1:]
	}
	last = strings.ToLower(last)
	switch {
	case strings.HasSuffix(last, ".xml"):
		return "text/xml; charset=utf-8"
	case strings.HasSuffix(last, ".txt"):
		return "text/plain; charset=utf-8"
	case feed:
		return "application/rss+xml; charset=utf-8"
	default:
		return "text/html; charset=utf-8"
	}
}

func httpTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
