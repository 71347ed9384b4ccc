package cachekey

import (
	"path"
	"strings"

	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/settings"
)

// NeedsCanonicalRedirect 判断请求 URL 是否与固定链接结构不一致（例如缺少结尾斜杠），
// 此时不应命中缓存，而应交给源站完成重定向。
func NeedsCanonicalRedirect(req *pagectx.Request, s settings.Settings) bool {
	if s.PermalinkStructure == "" {
		return false
	}
	requested := req.Scheme + "://" + req.Host + req.RequestURI
	if requested == s.SiteURL {
		return false
	}

	p := req.Path()
	hasQuery := strings.Contains(req.RequestURI, "?")
	if (p == "" || p == "/") && !hasQuery {
		return false
	}

	uri := strings.TrimRight(req.RequestURI, "?")
	ext := path.Ext(strings.TrimRight(p, "/"))
	hasFragment := strings.Contains(req.RequestURI, "#")

	var canonical string
	if strings.HasSuffix(s.PermalinkStructure, "/") && ext == "" && req.RawQuery() == "" && !hasFragment {
		canonical = strings.TrimRight(uri, "/") + "/"
	} else {
		canonical = strings.TrimRight(uri, "/")
	}
	return canonical != uri
}
