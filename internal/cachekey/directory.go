package cachekey

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var percentTriplet = regexp.MustCompile(`%[0-9a-fA-F]{2}`)

const (
	frontController        = "/index.php"
	frontControllerRewrite = "/index-php"
)

// DirectoryFor 将 URL 映射为相对缓存根目录的存储路径（host/path）。
// 查询串与片段不参与目录计算；百分号编码统一为大写；/index.php/ 改写为 /index-php/
// 以免与目录中的 index.php 标记文件冲突。无法解析的部分按空串处理。
func DirectoryFor(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + strings.TrimPrefix(raw, "//")
	}

	var host, p string
	if u, err := url.Parse(raw); err == nil {
		host = u.Hostname()
		p = u.EscapedPath()
	} else {
		host, p = splitLoose(raw)
	}
	host = strings.ToLower(host)

	p = percentTriplet.ReplaceAllStringFunc(p, strings.ToUpper)
	if p == frontController || strings.HasPrefix(p, frontController+"/") {
		p = frontControllerRewrite + p[len(frontController):]
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return host
	}
	return host + "/" + p
}

// splitLoose 在 url.Parse 失败时尽量拆出 host 与 path。
func splitLoose(raw string) (string, string) {
	if idx := strings.Index(raw, "://"); idx >= 0 {
		raw = raw[idx+3:]
	}
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	host, p, found := strings.Cut(raw, "/")
	if !found {
		return host, ""
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return host, "/" + p
}
