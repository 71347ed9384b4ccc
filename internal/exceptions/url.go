package exceptions

import (
	"net/url"
	"regexp"
	"strings"
)

var originPrefix = regexp.MustCompile(`(?i)^https?://[^/]*/`)

// urlRule 是预编译后的 URL 例外规则。
type urlRule struct {
	pattern string
	exact   *regexp.Regexp
	subDir  *regexp.Regexp
	rooted  bool
}

// URLMatches 判断 URL 是否命中单条例外模式。* 表示任意字符；以 / 开头的模式只匹配
// 去掉域名（以及站点子目录前缀）后的路径；没有结尾通配符的模式隐式追加 /，
// 因此 /foo 不会命中 /foobar。
func URLMatches(rawURL, pattern, siteURL string) bool {
	rule, ok := compileURLRule(pattern, siteURL)
	if !ok {
		return false
	}
	return rule.matches(rawURL)
}

func compileURLRule(pattern, siteURL string) (urlRule, bool) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return urlRule{}, false
	}

	rule := urlRule{pattern: trimmed, rooted: strings.HasPrefix(trimmed, "/")}
	subDir := ""
	if rule.rooted {
		subDir = originPrefix.ReplaceAllString(siteURL, "")
		if subDir == siteURL && strings.Contains(siteURL, "://") {
			subDir = ""
		}
		if subDir != "" {
			subDir = "/" + strings.TrimRight(subDir, "/")
		}
	}

	body := strings.TrimRight(unescape(trimmed), "/")
	if !strings.HasSuffix(body, "*") {
		body += "/"
	}
	expr := wildcardExpr(body)

	exact, err := regexp.Compile("(?i)^" + expr + "$")
	if err != nil {
		return urlRule{}, false
	}
	rule.exact = exact
	if subDir != "" {
		if withSub, err := regexp.Compile("(?i)^" + regexp.QuoteMeta(subDir) + expr + "$"); err == nil {
			rule.subDir = withSub
		}
	}
	return rule, true
}

func (r urlRule) matches(rawURL string) bool {
	// 例外规则只比较路径，查询串与片段不参与匹配。
	target := rawURL
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if r.rooted {
		target = originPrefix.ReplaceAllString(target, "/")
	}
	target = unescape(strings.TrimRight(target, "/")) + "/"
	if r.exact.MatchString(target) {
		return true
	}
	return r.subDir != nil && r.subDir.MatchString(target)
}

// wildcardExpr 转义模式中的正则元字符，仅保留 * 作为通配符。
func wildcardExpr(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return strings.Join(parts, ".*")
}

func unescape(value string) string {
	if decoded, err := url.QueryUnescape(value); err == nil {
		return decoded
	}
	return value
}
