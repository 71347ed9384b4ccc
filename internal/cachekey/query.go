package cachekey

import (
	"sort"

	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/settings"
)

// defaultIgnoredQueryVariables 既不参与缓存键也不会使页面失去缓存资格。
var defaultIgnoredQueryVariables = []string{
	pagectx.DebugQueryVar,
	"doing_wp_cron",
	"aiosp_sitemap_path",
	"aiosp_sitemap_page",
	"xml_sitemap",
	"seopress_sitemap",
	"seopress_news",
	"seopress_video",
	"seopress_cpt",
	"seopress_paged",
	"sitemap",
	"sitemap_n",
}

// IgnoredQueryVariables 返回内置与用户配置的忽略变量。
func IgnoredQueryVariables(s settings.Settings) []string {
	out := append([]string(nil), defaultIgnoredQueryVariables...)
	return append(out, s.CacheIgnoreQueryVariables...)
}

// RelevantQueryVariables 返回请求中除忽略变量之外的查询参数名，按名称排序。
func RelevantQueryVariables(req *pagectx.Request, s settings.Settings) []string {
	if len(req.Query) == 0 {
		return nil
	}
	ignored := make(map[string]struct{})
	for _, name := range IgnoredQueryVariables(s) {
		ignored[name] = struct{}{}
	}
	var names []string
	for name := range req.Query {
		if _, skip := ignored[name]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
