package policy

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/pressgate/pressgate/internal/cachekey"
	"github.com/pressgate/pressgate/internal/exceptions"
	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/proxy/hooks"
	"github.com/pressgate/pressgate/internal/settings"
)

// MinBodyBytes 是值得缓存的最小响应长度。
const MinBodyBytes = 255

var (
	activityStreamAccept = regexp.MustCompile(`(?i)application/(ld\+json|activity\+json|json)`)
	indexPHPSuffix       = regexp.MustCompile(`(?i)index\.php$`)
	sitemapRequest       = regexp.MustCompile(`(?i)sitemap([a-z0-9_-]+)?\.xml$`)
)

var commenterCookiePrefixes = []string{
	"comment_author_",
	"comment_author_email_",
	"comment_author_url_",
}

// Options 为 Decider 提供可选的协作者。
type Options struct {
	// Matcher 为空时根据配置现场编译。
	Matcher *exceptions.Matcher
	Hooks   hooks.Chain
	// CacheDirReady 返回缓存目录不可用的原因，nil 表示可用。
	CacheDirReady func() error
}

// Decider 针对一份配置快照做出缓存判定，可在并发请求间共享。
type Decider struct {
	settings      settings.Settings
	matcher       *exceptions.Matcher
	hooks         hooks.Chain
	cacheDirReady func() error
}

// New 构建 Decider。
func New(s settings.Settings, opts Options) *Decider {
	matcher := opts.Matcher
	if matcher == nil {
		matcher = exceptions.NewMatcher(s, nil)
	}
	return &Decider{
		settings:      s,
		matcher:       matcher,
		hooks:         opts.Hooks,
		cacheDirReady: opts.CacheDirReady,
	}
}

// Settings 返回判定所依据的配置快照。
func (d *Decider) Settings() settings.Settings {
	return d.settings
}

// Hooks 返回扩展点链。
func (d *Decider) Hooks() hooks.Chain {
	return d.hooks
}

// ShouldServe 在请求转发到源站之前判定能否使用缓存。
func (d *Decider) ShouldServe(req *pagectx.Request) ServeDecision {
	if !d.settings.EnablePageCaching {
		return miss()
	}
	if req.Basename() == "robots.txt" {
		return miss()
	}
	if req.Accept != "" && activityStreamAccept.MatchString(req.Accept) {
		return miss()
	}
	if req.Query.Get("infinity") == "scrolling" {
		return miss()
	}

	var reasons []string
	if d.matcher.UserAgentExcepted(req.UserAgent) {
		reasons = append(reasons, "In the settings, caching is disabled for matches for this request's user agent")
	}
	if req.Method != "GET" && !d.hooks.ForceCache(req) {
		reasons = append(reasons, fmt.Sprintf("The request method was not GET (%s)", req.Method))
	}
	if reason, ok := d.matcher.CookieException(req.Cookies); ok {
		reasons = append(reasons, reason)
	}
	if d.matcher.IsExcepted(req.CurrentURL()) {
		reasons = append(reasons, "In the settings, caching is disabled for matches for the current URL")
	}
	if d.unlistedQueryVariables(req) {
		reasons = append(reasons, "In the settings, caching is disabled for matches for one of the current request's GET parameters")
	}
	if unsuitableExtension(req) {
		reasons = append(reasons, "The request extension is not suitable for caching")
	}
	if reason, ok := d.matcher.ConditionalTagException(req.PageTypes(d.settings.SiteURL)); ok {
		reasons = append(reasons, reason)
	}

	if len(reasons) > 0 {
		return disqualified(reasons)
	}
	return serve()
}

// ShouldStore 在源站响应完成后判定能否写入缓存。
func (d *Decider) ShouldStore(req *pagectx.Request, resp *pagectx.Response) StoreDecision {
	var reasons []string

	if len(resp.Body) < MinBodyBytes {
		reasons = append(reasons, fmt.Sprintf("Output is too small (less than %d bytes) to be worth caching", MinBodyBytes))
	}
	if reason := d.restrictedPageType(req, resp); reason != "" {
		reasons = append(reasons, reason)
	}
	if reason, ok := d.matcher.ConditionalTagException(resp); ok {
		reasons = append(reasons, reason)
	}
	if req.LoggedIn() {
		if !d.settings.LoggedInCaching() {
			reasons = append(reasons, "User is logged in")
		} else if d.settings.EnableUserCaching {
			reasons = append(reasons, "User is logged in, this works only when the cache is preloaded")
		}
	}
	if d.cacheDirReady != nil {
		if err := d.cacheDirReady(); err != nil {
			reasons = append(reasons, fmt.Sprintf("Cache directory was not found (%s)", err))
		}
	}
	if resp.Is(pagectx.PageCommentsOpen) && hasCommenterCookie(req.Cookies) {
		reasons = append(reasons, "Comments are opened and the visitor saved his information.")
	}

	canCache := !resp.DoNotCache
	if !d.hooks.CanCache(req, resp, canCache) {
		if canCache {
			reasons = append(reasons, "A cache hook forbade it")
		} else {
			reasons = append(reasons, "The origin sent a do-not-cache signal and no cache hook over-rode it")
		}
	}
	if req.IsREST() && !d.settings.EnableRestCaching {
		reasons = append(reasons, "This is a REST API request")
	}

	switch {
	case resp.Status >= 500:
		reasons = append(reasons, fmt.Sprintf("This page has a critical error (HTTP code %d)", resp.Status))
	case resp.Status >= 400:
		reasons = append(reasons, fmt.Sprintf("This page returned an HTTP unauthorised response code (%d)", resp.Status))
	case resp.Status >= 300:
		reasons = append(reasons, fmt.Sprintf("This page is a redirect (HTTP code %d)", resp.Status))
	}

	if d.matcher.IsExcepted(req.CurrentURL()) {
		reasons = append(reasons, "In the settings, caching is disabled for matches for the current URL")
	}

	return StoreDecision{Store: len(reasons) == 0, Reasons: reasons}
}

// restrictedPageType 返回页面类型导致不能缓存的原因，后面的规则覆盖前面的。
func (d *Decider) restrictedPageType(req *pagectx.Request, resp *pagectx.Response) string {
	reason := ""
	if resp.Is(pagectx.PageSearch) || resp.Is(pagectx.PageNotFound) || resp.Is(pagectx.PagePasswordProtected) {
		reason = "Page type is not cacheable (search, 404 or password-protected)"
	}
	if d.matcher.FrontPageExcepted() && (resp.Is(pagectx.PageFrontPage) || req.IsFrontPage(d.settings.SiteURL)) {
		reason = "In the settings, caching is disabled for the front page"
	}
	if strings.Contains(req.RequestURI, ".htaccess") {
		reason = fmt.Sprintf("The file path is unsuitable for caching (%s)", req.RequestURI)
	}
	if (resp.Is(pagectx.PageFeed) || req.IsFeed()) && !d.settings.EnableFeedCaching {
		reason = "We don't cache RSS feeds"
	}
	if hooked := d.hooks.RestrictedPageType(req, resp); hooked != "" {
		reason = hooked
	}
	return reason
}

// unlistedQueryVariables 判断请求是否带有未登记的查询参数。
// index.php 形式的前端控制器请求不做此检查。
func (d *Decider) unlistedQueryVariables(req *pagectx.Request) bool {
	if len(req.Query) == 0 || indexPHPSuffix.MatchString(req.Path()) {
		return false
	}
	if d.settings.CacheAllQueryVariables {
		return false
	}
	allowed := make(map[string]struct{}, len(d.settings.CacheQueryVariables))
	for _, name := range d.settings.CacheQueryVariables {
		allowed[name] = struct{}{}
	}
	for _, name := range cachekey.RelevantQueryVariables(req, d.settings) {
		if _, ok := allowed[name]; !ok {
			return true
		}
	}
	return false
}

// unsuitableExtension 排除站点地图生成器的临时输出。
func unsuitableExtension(req *pagectx.Request) bool {
	p := req.Path()
	if indexPHPSuffix.MatchString(p) || !sitemapRequest.MatchString(p) {
		return false
	}
	switch strings.ToLower(strings.TrimPrefix(path.Ext(p), ".")) {
	case "php", "xml", "xsl":
		return true
	}
	return false
}

func hasCommenterCookie(cookies map[string]string) bool {
	for name, value := range cookies {
		if value == "" {
			continue
		}
		for _, prefix := range commenterCookiePrefixes {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		}
	}
	return false
}
