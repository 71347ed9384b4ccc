package exceptions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/settings"
)

// wordpressAuthCookies 是 WordPress 登录相关 cookie 的名称片段。
var wordpressAuthCookies = []string{
	"wordpressuser_",
	"wordpresspass_",
	"wordpress_sec_",
	"wordpress_logged_in_",
}

// CommentedPostCookie 在访客提交评论后设置。
const CommentedPostCookie = "pressgate_commented_post"

// PageTypes 暴露当前页面满足的类型谓词。
type PageTypes interface {
	Is(pageType string) bool
}

// Matcher 基于一份配置快照预编译全部例外规则，可在并发请求间共享。
type Matcher struct {
	settings  settings.Settings
	urlRules  []urlRule
	agents    []*regexp.Regexp
	frontPage bool
}

// NewMatcher 编译 URL 与 User-Agent 规则；无法编译的 User-Agent 正则会被跳过并记录日志。
func NewMatcher(s settings.Settings, logger *logrus.Logger) *Matcher {
	m := &Matcher{settings: s}
	for _, pattern := range s.CacheExceptionURLs {
		if strings.TrimSpace(pattern) == "/" {
			m.frontPage = true
			continue
		}
		if rule, ok := compileURLRule(pattern, s.SiteURL); ok {
			m.urlRules = append(m.urlRules, rule)
		}
	}
	for _, pattern := range s.CacheExceptionBrowserAgents {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action":  "exception_compile",
					"pattern": pattern,
				}).WithError(err).Warn("user_agent_pattern_invalid")
			}
			continue
		}
		m.agents = append(m.agents, re)
	}
	return m
}

// IsExcepted 判断 URL 是否命中任一 URL 例外。根路径 "/" 不在此处匹配，
// 它只作为首页页面类型例外处理（见 FrontPageExcepted）。
func (m *Matcher) IsExcepted(rawURL string) bool {
	for _, rule := range m.urlRules {
		if rule.matches(rawURL) {
			return true
		}
	}
	return false
}

// FrontPageExcepted 表示配置是否排除了首页。
func (m *Matcher) FrontPageExcepted() bool {
	return m.frontPage
}

// CookieException 检查请求 cookie：登录 cookie（除非允许缓存已登录用户）、
// 评论 cookie 以及配置的 cookie 名称片段。返回第一个命中的原因。
func (m *Matcher) CookieException(cookies map[string]string) (string, bool) {
	if len(cookies) == 0 {
		return "", false
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	if !m.settings.LoggedInCaching() {
		for _, name := range names {
			for _, fragment := range wordpressAuthCookies {
				if strings.Contains(name, fragment) {
					return "WordPress login cookies were detected", true
				}
			}
		}
	}
	if cookies[CommentedPostCookie] != "" {
		return "The user has commented on a post (comment cookie set)", true
	}
	for _, name := range names {
		for _, fragment := range m.settings.CacheExceptionCookies {
			if strings.TrimSpace(fragment) != "" && strings.Contains(name, fragment) {
				return fmt.Sprintf("An excepted cookie was set (%s)", name), true
			}
		}
	}
	return "", false
}

// ConditionalTagException 对配置中且位于白名单内的页面类型谓词求值，
// 返回最后一个成立的谓词对应的原因。
func (m *Matcher) ConditionalTagException(page PageTypes) (string, bool) {
	if page == nil {
		return "", false
	}
	reason := ""
	for _, entry := range m.settings.CacheExceptionConditionalTags {
		tag, ok := normalizeTag(entry)
		if !ok || !ConditionalTagAllowed(tag) {
			continue
		}
		if page.Is(tag) {
			reason = fmt.Sprintf("In the settings, caching is disabled for %s", tag)
		}
	}
	return reason, reason != ""
}

// UserAgentExcepted 判断 User-Agent 是否命中任一配置的正则。
func (m *Matcher) UserAgentExcepted(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	for _, re := range m.agents {
		if re.MatchString(userAgent) {
			return true
		}
	}
	return false
}
