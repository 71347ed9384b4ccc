package cachekey

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/pressgate/pressgate/internal/pagectx"
	"github.com/pressgate/pressgate/internal/settings"
)

// 缓存文件扩展名。
const (
	ExtHTML = ".html"
	ExtFeed = ".rss-xml"

	// IndexName 是缓存文件名的基础部分。
	IndexName = "index"

	maxFilenameLength = 240
	truncatedLength   = 199
)

// 参与缓存键的来源。
const (
	SourceCookie = "cookie"
	SourceQuery  = "query"
)

var unsafeKeyChars = regexp.MustCompile(`(?i)[^a-z0-9_\-=]`)

// Fragment 是折叠进文件名的一个缓存键片段。
type Fragment struct {
	Source string
	Name   string
	Value  string
}

// FilenameFilter 允许扩展在截断前改写文件名（不含扩展名）。
type FilenameFilter func(req *pagectx.Request, filename string) string

// Fragments 依次收集已注册 cookie（按名称排序）与已注册查询变量（按名称排序）中
// 存在且非空的值。顺序与请求中出现的顺序无关。
func Fragments(req *pagectx.Request, s settings.Settings) []Fragment {
	var out []Fragment
	for _, name := range sortedCopy(s.CacheCookies) {
		if value := req.Cookie(name); value != "" {
			out = append(out, Fragment{Source: SourceCookie, Name: name, Value: value})
		}
	}

	names := s.CacheQueryVariables
	if s.CacheAllQueryVariables {
		names = RelevantQueryVariables(req, s)
	}
	for _, name := range sortedCopy(names) {
		if value := req.Query.Get(name); value != "" {
			out = append(out, Fragment{Source: SourceQuery, Name: name, Value: value})
		}
	}
	return out
}

// FilenameFor 计算缓存文件名：index 基础名，移动端前缀 mobile.，webp 后缀 .webp，
// 再拼接缓存键片段；超过 240 字符时截断到 199 字符并附加完整名称的 sha1。
func FilenameFor(req *pagectx.Request, s settings.Settings, ext string, filter FilenameFilter) string {
	name := IndexName
	if s.EnableMobileCaching && req.Mobile() {
		name = "mobile." + name
	}
	if WebPActive(req, s) {
		name += ".webp"
	}

	var key strings.Builder
	for _, fragment := range Fragments(req, s) {
		key.WriteByte('-')
		key.WriteString(unsafeKeyChars.ReplaceAllString(fragment.Name+"="+fragment.Value, "-"))
	}
	if key.Len() > 0 {
		name += strings.ReplaceAll("-"+key.String(), "--", "-")
	}

	if filter != nil {
		name = filter(req, name)
	}

	if len(name) > maxFilenameLength {
		sum := sha1.Sum([]byte(name))
		name = name[:truncatedLength] + "-" + hex.EncodeToString(sum[:])
	}
	return name + ext
}

// WebPActive 表示本次请求是否需要 webp 专属缓存变体。
func WebPActive(req *pagectx.Request, s settings.Settings) bool {
	return s.UseWebPImages && !s.WebPRedirection && req.AcceptsWebP()
}

// ExtensionFor 根据资源是否为 feed 选择扩展名。
func ExtensionFor(isFeed bool, s settings.Settings) string {
	if isFeed && s.EnableFeedCaching {
		return ExtFeed
	}
	return ExtHTML
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
