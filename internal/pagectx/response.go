package pagectx

import (
	"net/http"
	"strings"
)

// 页面类型名，与条件标签白名单共用一套命名。
const (
	PageSingle            = "is_single"
	PageFrontPage         = "is_front_page"
	PageHome              = "is_home"
	PageSearch            = "is_search"
	PageNotFound          = "is_404"
	PageFeed              = "is_feed"
	PagePasswordProtected = "password_protected"
	PageCommentsOpen      = "comments_open"
)

// Response 描述源站渲染完成后的响应状态。
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	DoNotCache bool

	pageTypes map[string]bool
}

// NewResponse 根据状态码与源站约定头解析页面类型。
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	resp := &Response{
		Status:    status,
		Header:    header,
		Body:      body,
		pageTypes: map[string]bool{},
	}
	for _, raw := range header.Values(HeaderPageTypes) {
		for _, item := range strings.Split(raw, ",") {
			item = strings.ToLower(strings.TrimSpace(item))
			if item != "" {
				resp.pageTypes[item] = true
			}
		}
	}
	if status == http.StatusNotFound {
		resp.pageTypes[PageNotFound] = true
	}
	if isFeedContentType(header.Get("Content-Type")) {
		resp.pageTypes[PageFeed] = true
	}
	switch strings.TrimSpace(strings.ToLower(header.Get(HeaderNoCache))) {
	case "1", "true", "yes":
		resp.DoNotCache = true
	}
	return resp
}

// Is 判断响应是否属于指定页面类型。
func (r *Response) Is(pageType string) bool {
	if r == nil {
		return false
	}
	return r.pageTypes[strings.ToLower(pageType)]
}

// MarkPageType 追加页面类型，供扩展点使用。
func (r *Response) MarkPageType(pageType string) {
	r.pageTypes[strings.ToLower(pageType)] = true
}

func isFeedContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/rss+xml") ||
		strings.Contains(ct, "application/atom+xml") ||
		strings.Contains(ct, "application/rdf+xml")
}
