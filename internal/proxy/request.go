package proxy

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/server"
)

// 源站约定头只在代理与源站之间使用，不返回给客户端。
var originContractHeaders = map[string]struct{}{
	http.CanonicalHeaderKey(pagectx.HeaderPageTypes): {},
	http.CanonicalHeaderKey(pagectx.HeaderNoCache):   {},
}

// pageRequest 从 Fiber 上下文提取缓存判定所需的请求属性。
// 查询参数中的调试开关只有在全局 Debug 打开时才生效。
func pageRequest(c fiber.Ctx, debug bool) *pagectx.Request {
	scheme := strings.ToLower(strings.TrimSpace(c.Get(fiber.HeaderXForwardedProto)))
	if idx := strings.IndexByte(scheme, ','); idx >= 0 {
		scheme = strings.TrimSpace(scheme[:idx])
	}
	if scheme == "" {
		scheme = c.Scheme()
	}

	req := pagectx.NewRequest(c.Method(), scheme, hostHeader(c), string(c.Request().RequestURI()))
	c.Request().Header.VisitAllCookie(func(key, value []byte) {
		req.Cookies[string(key)] = string(value)
	})
	req.UserAgent = c.Get(fiber.HeaderUserAgent)
	req.Accept = c.Get(fiber.HeaderAccept)
	req.AcceptEncoding = c.Get(fiber.HeaderAcceptEncoding)
	req.IfModifiedSince = c.Get(fiber.HeaderIfModifiedSince)
	req.Debug = debug && req.Debug
	return req
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传源站响应头，跳过 hop-by-hop、源站约定头以及 skip 中的头。
func copyResponseHeaders(c fiber.Ctx, headers http.Header, skip ...string) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		if _, internal := originContractHeaders[http.CanonicalHeaderKey(key)]; internal {
			continue
		}
		if containsHeader(skip, key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func containsHeader(list []string, key string) bool {
	for _, item := range list {
		if strings.EqualFold(item, key) {
			return true
		}
	}
	return false
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
