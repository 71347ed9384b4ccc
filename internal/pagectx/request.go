// Package pagectx carries the per-request values the cache engine reads.
// Values that the engine memoizes, such as the current URL, live on the
// request value itself so concurrent requests never share them.
package pagectx

import (
	"net/url"
	"path"
	"strings"
)

// 与源站插件约定的响应头，以及代理输出的缓存状态头。
const (
	HeaderPageTypes    = "X-Pressgate-Page-Types"
	HeaderNoCache      = "X-Pressgate-No-Cache"
	HeaderCacheStatus  = "X-Pressgate-Cache-Status"
	HeaderCacheMessage = "X-Pressgate-Cache-Message"

	// DebugQueryVar 打开单次请求的缓存诊断输出。
	DebugQueryVar = "pressgate_debug"
)

// 缓存状态头的取值。
const (
	StatusCached    = "cached"
	StatusSaving    = "saving to cache"
	StatusNotCached = "not cached"
)

// wordpressAuthCookiePrefix 标识已登录用户。
const wordpressAuthCookiePrefix = "wordpress_logged_in_"

var mobileAgentFragments = []string{
	"Mobile",
	"Android",
	"Silk/",
	"Kindle",
	"BlackBerry",
	"Opera Mini",
	"Opera Mobi",
}

// Request 描述一次进入代理的请求中与缓存有关的全部属性。
type Request struct {
	Method          string
	Scheme          string
	Host            string
	RequestURI      string
	Cookies         map[string]string
	Query           url.Values
	UserAgent       string
	Accept          string
	AcceptEncoding  string
	IfModifiedSince string
	Debug           bool

	currentURL string
}

// NewRequest 补齐缺省字段并解析查询参数。
func NewRequest(method, scheme, host, requestURI string) *Request {
	if method == "" {
		method = "GET"
	}
	if scheme == "" {
		scheme = "http"
	}
	if requestURI == "" {
		requestURI = "/"
	}
	req := &Request{
		Method:     strings.ToUpper(method),
		Scheme:     strings.ToLower(scheme),
		Host:       strings.ToLower(host),
		RequestURI: requestURI,
		Cookies:    map[string]string{},
	}
	if idx := strings.IndexByte(requestURI, '?'); idx >= 0 {
		req.Query, _ = url.ParseQuery(requestURI[idx+1:])
	}
	if req.Query == nil {
		req.Query = url.Values{}
	}
	if _, ok := req.Query[DebugQueryVar]; ok {
		req.Debug = true
	}
	return req
}

// CurrentURL 返回 scheme://host + 原始请求 URI，去掉结尾斜杠；结果在请求内缓存。
func (r *Request) CurrentURL() string {
	if r.currentURL == "" {
		r.currentURL = strings.TrimRight(r.Scheme+"://"+r.Host+r.RequestURI, "/")
	}
	return r.currentURL
}

// Path 返回请求 URI 的路径部分（不含查询串）。
func (r *Request) Path() string {
	p := r.RequestURI
	if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}
	if p == "" {
		return "/"
	}
	return p
}

// RawQuery 返回原始查询串。
func (r *Request) RawQuery() string {
	if idx := strings.IndexByte(r.RequestURI, '?'); idx >= 0 {
		raw := r.RequestURI[idx+1:]
		if hash := strings.IndexByte(raw, '#'); hash >= 0 {
			raw = raw[:hash]
		}
		return raw
	}
	return ""
}

// Basename 返回请求路径的最后一段。
func (r *Request) Basename() string {
	return path.Base(r.Path())
}

// Cookie 返回指定 cookie 的值，不存在时返回空串。
func (r *Request) Cookie(name string) string {
	return r.Cookies[name]
}

// AcceptsGzip 表示客户端是否接受 gzip 编码。
func (r *Request) AcceptsGzip() bool {
	return strings.Contains(strings.ToLower(r.AcceptEncoding), "gzip")
}

// AcceptsWebP 表示客户端是否声明支持 webp 图片。
func (r *Request) AcceptsWebP() bool {
	return strings.Contains(strings.ToLower(r.Accept), "image/webp")
}

// LoggedIn 通过 WordPress 登录 cookie 判断当前用户是否已登录。
func (r *Request) LoggedIn() bool {
	for name := range r.Cookies {
		if strings.HasPrefix(name, wordpressAuthCookiePrefix) {
			return true
		}
	}
	return false
}

// Mobile 根据 User-Agent 判断是否为移动设备。
func (r *Request) Mobile() bool {
	return IsMobileUserAgent(r.UserAgent)
}

// IsREST 判断请求是否指向 WordPress REST API。
func (r *Request) IsREST() bool {
	if strings.HasPrefix(r.Path(), "/wp-json/") || r.Path() == "/wp-json" {
		return true
	}
	_, ok := r.Query["rest_route"]
	return ok
}

// IsMobileUserAgent 判断 User-Agent 是否来自移动设备。
func IsMobileUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	for _, fragment := range mobileAgentFragments {
		if strings.Contains(ua, fragment) {
			return true
		}
	}
	return false
}
