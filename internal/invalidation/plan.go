package invalidation

import (
	"net/url"
	"strings"

	"github.com/pressgate/pressgate/internal/cachekey"
)

// target 是一次待执行的删除。
type target struct {
	url       string
	dir       string
	recursive bool
}

// plan 收集一个事件需要删除的目录，按加入顺序执行并去重。
type plan struct {
	targets  []target
	index    map[string]int
	prune    []string
	purgeAll bool
	skipped  string
}

func newPlan() *plan {
	return &plan{index: make(map[string]int)}
}

// add 规范化 URL 并登记删除；同一目录重复登记时递归标志取并集。
func (p *plan) add(rawURL string, recursive bool) {
	dir := cachekey.DirectoryFor(rawURL)
	if dir == "" {
		return
	}
	if i, ok := p.index[dir]; ok {
		p.targets[i].recursive = p.targets[i].recursive || recursive
		return
	}
	p.index[dir] = len(p.targets)
	p.targets = append(p.targets, target{url: rawURL, dir: dir, recursive: recursive})
}

// pruneIfEmpty 登记删除后若只剩标记文件则移除的目录。
func (p *plan) pruneIfEmpty(rawURL string) {
	if dir := cachekey.DirectoryFor(rawURL); dir != "" {
		p.prune = append(p.prune, dir)
	}
}

func (p *plan) skip(reason string) {
	p.skipped = reason
}

// joinURL 去掉 base 的查询串后追加相对路径，结果以斜杠结尾。
func joinURL(base, rel string) string {
	if idx := strings.IndexAny(base, "?#"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimRight(base, "/")
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return base + "/"
	}
	return base + "/" + rel + "/"
}

// isRootURL 判断 URL 的路径是否为空或站点根。
func isRootURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return true
	}
	return strings.Trim(u.Path, "/") == ""
}

// preloadURL 去掉查询串；feed 地址不预热。
func preloadURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.RawQuery = ""
	u.Fragment = ""
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == "feed" {
			return "", false
		}
	}
	return u.String(), true
}
