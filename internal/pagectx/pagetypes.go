package pagectx

import (
	"net/url"
	"strings"
)

// PageTypeSet 是一组已知成立的页面类型。
type PageTypeSet map[string]bool

// Is 判断页面类型是否成立。
func (p PageTypeSet) Is(pageType string) bool {
	return p[strings.ToLower(pageType)]
}

// PageTypes 推断渲染之前仅凭请求即可确定的页面类型：首页、搜索与 feed。
func (r *Request) PageTypes(siteURL string) PageTypeSet {
	set := PageTypeSet{}
	if r.IsFrontPage(siteURL) {
		set[PageFrontPage] = true
	}
	if _, ok := r.Query["s"]; ok {
		set[PageSearch] = true
	}
	if r.IsFeed() {
		set[PageFeed] = true
	}
	return set
}

// IsFrontPage 判断请求是否指向站点首页。
func (r *Request) IsFrontPage(siteURL string) bool {
	sitePath := "/"
	if u, err := url.Parse(siteURL); err == nil && u.Path != "" {
		sitePath = u.Path
	}
	return strings.TrimRight(r.Path(), "/") == strings.TrimRight(sitePath, "/") && r.RawQuery() == ""
}

// IsFeed 判断请求路径是否为 WordPress feed 端点。
func (r *Request) IsFeed() bool {
	if _, ok := r.Query["feed"]; ok {
		return true
	}
	segments := strings.Split(strings.Trim(r.Path(), "/"), "/")
	for i := len(segments) - 1; i >= 0 && i >= len(segments)-2; i-- {
		if segments[i] == "feed" {
			return true
		}
	}
	return false
}
