package exceptions

import (
	"sort"
	"strings"
	"sync"
)

// defaultConditionalTags 是允许在配置中引用的页面类型谓词。
var defaultConditionalTags = []string{
	"is_single", "is_page", "is_front_page", "is_home", "is_archive",
	"is_tag", "is_category", "is_feed", "is_search", "is_author",
	"is_woocommerce", "is_shop", "is_product", "is_account_page",
	"is_product_category", "is_product_tag", "is_wc_endpoint_url",
	"is_bbpress", "bbp_is_forum_archive", "bbp_is_topic_archive",
	"bbp_is_topic_tag", "bbp_is_single_forum", "bbp_is_single_topic",
	"bbp_is_single_view", "bbp_is_single_user", "bbp_is_user_home",
	"bbp_is_search",
}

var tagRegistry = struct {
	sync.RWMutex
	tags map[string]struct{}
}{tags: map[string]struct{}{}}

func init() {
	for _, tag := range defaultConditionalTags {
		tagRegistry.tags[tag] = struct{}{}
	}
}

// RegisterConditionalTag 把扩展提供的页面类型谓词加入白名单。
func RegisterConditionalTag(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}
	tagRegistry.Lock()
	tagRegistry.tags[tag] = struct{}{}
	tagRegistry.Unlock()
}

// ConditionalTagAllowed 判断谓词是否在白名单中。
func ConditionalTagAllowed(tag string) bool {
	tagRegistry.RLock()
	defer tagRegistry.RUnlock()
	_, ok := tagRegistry.tags[tag]
	return ok
}

// AllowedConditionalTags 返回排序后的白名单，供诊断接口展示。
func AllowedConditionalTags() []string {
	tagRegistry.RLock()
	defer tagRegistry.RUnlock()
	out := make([]string, 0, len(tagRegistry.tags))
	for tag := range tagRegistry.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// normalizeTag 去掉配置中可选的 "()" 后缀；不含 "is_" 的条目视为无效。
func normalizeTag(entry string) (string, bool) {
	entry = strings.TrimSpace(entry)
	if !strings.Contains(entry, "is_") {
		return "", false
	}
	return strings.TrimSuffix(entry, "()"), true
}
