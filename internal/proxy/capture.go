package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/klauspost/compress/gzip"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/cachekey"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/policy"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/settings"
)

// 捕获路径会改写正文，这些源站头不能原样透传。
var rewrittenHeaders = []string{
	fiber.HeaderContentLength,
	fiber.HeaderContentEncoding,
	fiber.HeaderCacheControl,
	fiber.HeaderLastModified,
	fiber.HeaderExpires,
	fiber.HeaderETag,
}

// capture 读取完整的源站响应，判定是否写入缓存，再把正文返回给客户端。
// 写入缓存的副本带页脚注释，返回给客户端的正文不带。
func (h *Handler) capture(c fiber.Ctx, route *server.SiteRoute, req *pagectx.Request, decider *policy.Decider, resp *http.Response, requestID string, started time.Time) error {
	site := route.Config.Name
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logResult(route, req, "", requestID, resp.StatusCode, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "origin_read_failed")
	}

	page := pagectx.NewResponse(resp.StatusCode, resp.Header, body)
	decision := decider.ShouldStore(req, page)
	defer h.store.InvalidateUsage()

	if !decision.Store {
		metrics.ObserveStore(site, "skipped", 0)
		h.logger.WithFields(h.requestFields(route, req, pagectx.StatusNotCached, requestID)).
			WithField("reasons", decision.Reasons).Debug("cache_store_skipped")
		if req.Debug && hasClosingHTML(body) {
			body = append(body, notCachedComment(decision.Message())...)
		}
		c.Set(pagectx.HeaderCacheStatus, pagectx.StatusNotCached)
		c.Set(pagectx.HeaderCacheMessage, decision.Message())
		return h.respond(c, route, req, resp, body, false, 0, pagectx.StatusNotCached, requestID, started)
	}

	s := decider.Settings()
	chain := decider.Hooks()
	content := chain.PreCacheBuffer(req, body)
	content = fixMixedContent(req, s, content)

	modTime := h.now().UTC().Truncate(time.Second)
	stored := content
	var gzipBody []byte
	withFooter := hasClosingHTML(content) && chain.ShowCachedByComment(req, s.ShowCachedByComment)
	mobile := s.EnableMobileCaching && req.Mobile()
	if withFooter {
		stored = appendCopy(content, cachedByFooter(s, modTime, mobile, false))
	}
	if s.EnableGzip {
		gzipBody = content
		if withFooter {
			gzipBody = appendCopy(content, cachedByFooter(s, modTime, mobile, true))
		}
	}

	isFeed := page.Is(pagectx.PageFeed) || req.IsFeed()
	locator := cache.Locator{
		Dir:      cachekey.DirectoryFor(req.CurrentURL()),
		Filename: cachekey.FilenameFor(req, s, cachekey.ExtensionFor(isFeed, s), chain.Filename),
	}
	ctx := c.Context()
	entry, err := h.store.Write(ctx, locator, stored, cache.PutOptions{
		ModTime:   modTime,
		GzipBody:  gzipBody,
		GzipLevel: s.GzipLevel,
	})
	if err != nil {
		metrics.ObserveStore(site, "failed", 0)
		h.logger.WithFields(h.requestFields(route, req, pagectx.StatusNotCached, requestID)).
			WithError(err).Warn("cache_write_failed")
		c.Set(pagectx.HeaderCacheStatus, pagectx.StatusNotCached)
		return h.respond(c, route, req, resp, content, false, 0, pagectx.StatusNotCached, requestID, started)
	}
	if entry.GzipErr != nil {
		h.logger.WithFields(h.requestFields(route, req, pagectx.StatusSaving, requestID)).
			WithError(entry.GzipErr).Warn("cache_gzip_write_failed")
	}
	metrics.ObserveStore(site, "stored", len(stored))

	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderLastModified, httpTime(modTime))
	c.Set(pagectx.HeaderCacheStatus, pagectx.StatusSaving)
	compress := s.EnableGzip && req.AcceptsGzip()
	return h.respond(c, route, req, resp, content, compress, s.GzipLevel, pagectx.StatusSaving, requestID, started)
}

// respond 写出捕获流程的响应。compress 为真时在代理内完成 gzip 编码，
// 源站的 Content-Encoding 已在回源时通过去掉 Accept-Encoding 排除。
func (h *Handler) respond(c fiber.Ctx, route *server.SiteRoute, req *pagectx.Request, resp *http.Response, body []byte, compress bool, level int, cacheStatus, requestID string, started time.Time) error {
	copyResponseHeaders(c, resp.Header, rewrittenHeaders...)
	if cacheStatus != pagectx.StatusSaving {
		for _, key := range []string{fiber.HeaderCacheControl, fiber.HeaderLastModified, fiber.HeaderExpires, fiber.HeaderETag} {
			if value := resp.Header.Get(key); value != "" {
				c.Set(key, value)
			}
		}
	}
	c.Status(resp.StatusCode)

	if compress {
		encoded, err := gzipBytes(body, level)
		if err != nil {
			h.logger.WithFields(h.requestFields(route, req, cacheStatus, requestID)).
				WithError(err).Warn("response_gzip_failed")
		} else {
			body = encoded
			c.Set(fiber.HeaderContentEncoding, "gzip")
			c.Set(fiber.HeaderVary, fiber.HeaderAcceptEncoding)
		}
	}

	h.logResult(route, req, cacheStatus, requestID, resp.StatusCode, started, nil)
	if req.Method == http.MethodHead {
		c.Response().Header.SetContentLength(len(body))
		return nil
	}
	return c.Send(body)
}

// fixMixedContent 在 http 请求而站点首页为 https 时，把正文中的 http 首页地址替换为 https。
func fixMixedContent(req *pagectx.Request, s settings.Settings, body []byte) []byte {
	home := strings.TrimRight(s.HomeURL(), "/")
	if req.Scheme != "http" || !strings.HasPrefix(home, "https://") {
		return body
	}
	insecure := "http://" + strings.TrimPrefix(home, "https://")
	return bytes.ReplaceAll(body, []byte(insecure), []byte(home))
}

func appendCopy(body []byte, suffix string) []byte {
	out := make([]byte, 0, len(body)+len(suffix))
	out = append(out, body...)
	return append(out, suffix...)
}

func gzipBytes(body []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
