package pagectx

import (
	"net/http"
	"testing"
)

func TestNewRequestParsesQueryAndDebug(t *testing.T) {
	req := NewRequest("get", "HTTPS", "Blog.Example.com", "/shop/?color=red&pressgate_debug=1")
	if req.Method != "GET" || req.Scheme != "https" || req.Host != "blog.example.com" {
		t.Fatalf("字段未标准化: %+v", req)
	}
	if req.Query.Get("color") != "red" {
		t.Fatalf("查询参数解析失败")
	}
	if !req.Debug {
		t.Fatalf("调试参数应打开 Debug")
	}
	if req.Path() != "/shop/" || req.RawQuery() != "color=red&pressgate_debug=1" {
		t.Fatalf("路径或查询串错误: %s %s", req.Path(), req.RawQuery())
	}
}

func TestCurrentURLTrimsTrailingSlash(t *testing.T) {
	req := NewRequest("GET", "https", "blog.example.com", "/hello-world/")
	if got := req.CurrentURL(); got != "https://blog.example.com/hello-world" {
		t.Fatalf("CurrentURL 错误: %s", got)
	}
	root := NewRequest("GET", "https", "blog.example.com", "/")
	if got := root.CurrentURL(); got != "https://blog.example.com" {
		t.Fatalf("根路径 CurrentURL 错误: %s", got)
	}
}

func TestLoggedInAndMobile(t *testing.T) {
	req := NewRequest("GET", "http", "blog", "/")
	req.Cookies["wordpress_logged_in_abc"] = "admin"
	req.UserAgent = "Mozilla/5.0 (Linux; Android 14) Mobile Safari"
	if !req.LoggedIn() {
		t.Fatalf("应识别登录 cookie")
	}
	if !req.Mobile() {
		t.Fatalf("应识别移动设备")
	}
	if IsMobileUserAgent("Mozilla/5.0 (X11; Linux x86_64)") {
		t.Fatalf("桌面 UA 不应被识别为移动设备")
	}
}

func TestIsREST(t *testing.T) {
	if !NewRequest("GET", "http", "blog", "/wp-json/wp/v2/posts").IsREST() {
		t.Fatalf("wp-json 路径应视为 REST 请求")
	}
	if !NewRequest("GET", "http", "blog", "/?rest_route=/wp/v2/posts").IsREST() {
		t.Fatalf("rest_route 参数应视为 REST 请求")
	}
	if NewRequest("GET", "http", "blog", "/about/").IsREST() {
		t.Fatalf("普通页面不应视为 REST 请求")
	}
}

func TestNewResponseParsesSignals(t *testing.T) {
	header := http.Header{}
	header.Set(HeaderPageTypes, "is_single, Comments_Open")
	header.Set(HeaderNoCache, "1")
	resp := NewResponse(http.StatusOK, header, nil)
	if !resp.Is(PageSingle) || !resp.Is(PageCommentsOpen) {
		t.Fatalf("页面类型解析失败")
	}
	if !resp.DoNotCache {
		t.Fatalf("No-Cache 头应被识别")
	}

	feedHeader := http.Header{}
	feedHeader.Set("Content-Type", "application/rss+xml; charset=UTF-8")
	if !NewResponse(http.StatusOK, feedHeader, nil).Is(PageFeed) {
		t.Fatalf("RSS 内容类型应标记为 feed")
	}
	if !NewResponse(http.StatusNotFound, nil, nil).Is(PageNotFound) {
		t.Fatalf("404 状态应标记为 is_404")
	}
}

func TestRequestPageTypes(t *testing.T) {
	home := NewRequest("GET", "https", "blog.example.com", "/")
	if !home.PageTypes("https://blog.example.com/").Is(PageFrontPage) {
		t.Fatalf("根路径应为首页")
	}
	sub := NewRequest("GET", "https", "example.com", "/blog/")
	if !sub.PageTypes("https://example.com/blog/").Is(PageFrontPage) {
		t.Fatalf("子目录站点的根路径应为首页")
	}
	search := NewRequest("GET", "https", "blog.example.com", "/?s=go")
	types := search.PageTypes("https://blog.example.com/")
	if !types.Is(PageSearch) || types.Is(PageFrontPage) {
		t.Fatalf("搜索请求类型错误: %v", types)
	}
	for _, uri := range []string{"/feed/", "/hello/feed/", "/feed/atom/", "/?feed=rss2"} {
		if !NewRequest("GET", "https", "blog.example.com", uri).IsFeed() {
			t.Fatalf("%s 应识别为 feed", uri)
		}
	}
	if NewRequest("GET", "https", "blog.example.com", "/feedback/").IsFeed() {
		t.Fatalf("/feedback/ 不是 feed")
	}
}
