package invalidation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/cache"
	"github.com/pressgate/pressgate/internal/cachekey"
	"github.com/pressgate/pressgate/internal/logging"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/settings"
)

// ErrNoSiteHost 表示站点 URL 缺少 host，无法限定清理范围。
var ErrNoSiteHost = errors.New("site url has no host")

// SettingsSource 是 Router 依赖的配置读写能力，由 settings.Store 实现。
type SettingsSource interface {
	Get() settings.Settings
	Update(mutate func(*settings.Settings)) (settings.Settings, error)
	RegenerateSnapshot() error
}

// Enqueuer 接收需要重新预热的 URL。
type Enqueuer interface {
	Enqueue(site, rawURL string)
}

// Options 汇总 Router 的协作者。
type Options struct {
	Site      string
	Store     cache.Store
	Settings  SettingsSource
	Preloader Enqueuer
	// Logger 通常是独立的清理日志。
	Logger *logrus.Logger
}

// Result 汇总一次事件处理的删除结果。
type Result struct {
	Trigger Trigger  `json:"trigger"`
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
	Skipped string   `json:"skipped,omitempty"`
	// Success 仅在所有删除都失败时为 false。
	Success bool `json:"success"`
}

// Router 将单个站点的内容变更事件映射为缓存删除。
type Router struct {
	site      string
	store     cache.Store
	settings  SettingsSource
	preloader Enqueuer
	logger    *logrus.Logger
}

// NewRouter 创建 Router。
func NewRouter(opts Options) (*Router, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("settings source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Router{
		site:      opts.Site,
		store:     opts.Store,
		settings:  opts.Settings,
		preloader: opts.Preloader,
		logger:    logger,
	}, nil
}

// Site 返回 Router 负责的站点名。
func (r *Router) Site() string {
	return r.site
}

// Dispatch 处理一个事件。事件载荷不完整时返回 ErrInvalidEvent；
// 删除失败只体现在 Result 中。
func (r *Router) Dispatch(ctx context.Context, ev Event) (Result, error) {
	result := Result{Trigger: ev.Trigger, Success: true}
	if err := ev.Validate(); err != nil {
		return result, err
	}

	s := r.settings.Get()
	siteDir, err := SiteDirectory(s)
	if err != nil {
		return result, err
	}

	p, err := r.plan(ev, s)
	if err != nil {
		return result, err
	}
	if p.skipped != "" {
		result.Skipped = p.skipped
		r.logger.WithFields(logging.PurgeFields(r.site, string(ev.Trigger), ev.Reason)).
			WithField("reason", p.skipped).Debug("purge_skipped")
		return result, nil
	}

	if p.purgeAll {
		p.targets = []target{{url: s.HomeURL(), dir: siteDir, recursive: true}}
		p.prune = nil
	}

	r.execute(ctx, ev, siteDir, p, &result)

	if ev.Trigger == TriggerPurgeAll {
		if err := r.settings.RegenerateSnapshot(); err != nil {
			r.logger.WithFields(logging.PurgeFields(r.site, string(ev.Trigger), ev.Reason)).
				WithError(err).Warn("snapshot_regenerate_failed")
		}
	}

	r.enqueuePreload(s, p, &result)
	metrics.ObservePurge(r.site, string(ev.Trigger), result.Success)
	return result, nil
}

// PurgeAll 清空站点的全部缓存。
func (r *Router) PurgeAll(ctx context.Context, reason string) (Result, error) {
	return r.Dispatch(ctx, Event{Trigger: TriggerPurgeAll, Reason: reason})
}

// PurgeURL 删除单个 URL 的缓存（含子目录）。
func (r *Router) PurgeURL(ctx context.Context, rawURL string) (Result, error) {
	result := Result{Trigger: "purge_url", Success: true}
	s := r.settings.Get()
	siteDir, err := SiteDirectory(s)
	if err != nil {
		return result, err
	}
	p := newPlan()
	p.add(rawURL, true)
	if len(p.targets) == 0 {
		return result, fmt.Errorf("%w: url %q", ErrInvalidEvent, rawURL)
	}
	r.execute(ctx, Event{Trigger: "purge_url"}, siteDir, p, &result)
	metrics.ObservePurge(r.site, "purge_url", result.Success)
	return result, nil
}

func (r *Router) execute(ctx context.Context, ev Event, siteDir string, p *plan, result *Result) {
	fields := logging.PurgeFields(r.site, string(ev.Trigger), ev.Reason)
	attempted := 0
	for _, t := range p.targets {
		if t.dir != siteDir && !strings.HasPrefix(t.dir, siteDir+"/") {
			r.logger.WithFields(fields).WithField("dir", t.dir).Warn("purge_foreign_host")
			continue
		}
		attempted++
		if err := r.store.Delete(ctx, t.dir, t.recursive); err != nil {
			result.Failed = append(result.Failed, t.dir)
			r.logger.WithFields(fields).WithError(err).WithField("dir", t.dir).Warn("purge_failed")
			continue
		}
		result.Deleted = append(result.Deleted, t.dir)
		r.logger.WithFields(fields).WithFields(logrus.Fields{
			"dir":       t.dir,
			"recursive": t.recursive,
		}).Info("purge_deleted")
	}
	for _, dir := range p.prune {
		if r.store.IsEmpty(dir) {
			if err := r.store.Delete(ctx, dir, true); err != nil {
				r.logger.WithFields(fields).WithError(err).WithField("dir", dir).Warn("purge_prune_failed")
			}
		}
	}
	r.store.InvalidateUsage()
	if attempted > 0 && len(result.Deleted) == 0 {
		result.Success = false
	}
}

func (r *Router) enqueuePreload(s settings.Settings, p *plan, result *Result) {
	if r.preloader == nil || !s.AutoPreloadPurgedContents || !s.EnablePageCaching {
		return
	}
	seen := make(map[string]struct{})
	for _, t := range p.targets {
		if !slices.Contains(result.Deleted, t.dir) {
			continue
		}
		u, ok := preloadURL(t.url)
		if !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		r.preloader.Enqueue(r.site, u)
	}
}

// plan 计算事件的删除范围，部分选项事件会先更新配置。
func (r *Router) plan(ev Event, s settings.Settings) (*plan, error) {
	p := newPlan()
	switch ev.Trigger {
	case TriggerPurgeAll, TriggerSiteChanged:
		p.purgeAll = true
	case TriggerSettingsUpdated:
		if slices.Contains(s.CacheExceptionURLs, "/") {
			p.add(s.HomeURL(), false)
		}
	default:
		if !s.EnablePageCaching {
			p.skip("page caching is disabled")
			return p, nil
		}
		switch ev.Trigger {
		case TriggerPostSaved, TriggerPostTrashed:
			planPost(p, s, *ev.Post, ev.Trigger)
		case TriggerProductStock:
			p.add(ev.Post.URL, false)
		case TriggerCommentPosted, TriggerCommentStatusChanged:
			planComment(p, s, ev)
		case TriggerTermUpdated, TriggerPostTermsChanged:
			planTerms(p, ev)
		case TriggerOptionUpdated:
			return p, r.planOption(p, s, *ev.Option)
		}
	}
	return p, nil
}

func planPost(p *plan, s settings.Settings, post Post, trigger Trigger) {
	if trigger == TriggerPostSaved && post.Status != PostStatusPublish {
		p.skip("post is not published")
		return
	}
	if s.PurgeAllOnUpdate {
		p.purgeAll = true
		return
	}
	home := s.HomeURL()
	if s.DeleteHomepageOnPostUpdate {
		p.add(home, false)
	}
	p.add(joinURL(home, "feed"), true)
	p.add(post.URL, post.Paginated)
	p.add(joinURL(post.URL, "feed"), true)

	if post.Type == PostTypePost {
		if post.BlogPageURL != "" {
			p.add(post.BlogPageURL, true)
		}
		if post.PrevURL != "" {
			p.add(post.PrevURL, true)
		}
		if post.NextURL != "" {
			p.add(post.NextURL, true)
		}
		if !post.Date.IsZero() {
			p.add(joinURL(home, post.Date.Format("2006")), true)
			p.add(joinURL(home, post.Date.Format("2006/01")), true)
			p.add(joinURL(home, post.Date.Format("2006/01/02")), true)
		}
	}
	if post.ArchiveURL != "" {
		p.add(post.ArchiveURL, true)
	}
	if post.AuthorURL != "" {
		p.add(post.AuthorURL, true)
	}
}

func planComment(p *plan, s settings.Settings, ev Event) {
	if ev.Trigger == TriggerCommentPosted && !ev.Comment.Approved {
		p.skip("comment is not approved")
		return
	}
	p.add(ev.Post.URL, true)
	comments := joinURL(s.HomeURL(), "comments")
	p.add(joinURL(comments, "feed"), true)
	p.pruneIfEmpty(comments)
}

var ignoredTaxonomies = map[Trigger][]string{
	TriggerTermUpdated:      {"nav_menu"},
	TriggerPostTermsChanged: {"product_type", "action-group"},
}

func planTerms(p *plan, ev Event) {
	var terms []Term
	for _, term := range ev.Terms {
		if slices.Contains(ignoredTaxonomies[ev.Trigger], term.Taxonomy) {
			continue
		}
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		p.skip("taxonomy is not cached")
		return
	}
	for _, term := range terms {
		if isRootURL(term.URL) {
			p.skip("term url resolves to the site root")
			return
		}
	}
	for _, term := range terms {
		p.add(term.URL, true)
		for _, postURL := range term.PostURLs {
			p.add(postURL, false)
		}
	}
}

func (r *Router) planOption(p *plan, s settings.Settings, opt Option) error {
	switch opt.Name {
	case "page_on_front":
		if opt.OldURL != "" {
			p.add(opt.OldURL, false)
		}
		p.add(s.HomeURL(), false)
	case "page_for_posts":
		if opt.OldURL != "" {
			p.add(opt.OldURL, true)
		}
		if opt.NewURL != "" {
			p.add(opt.NewURL, true)
		}
	case "show_avatars":
		if opt.OldValue == opt.NewValue {
			p.skip("option value unchanged")
			return nil
		}
		p.purgeAll = true
	case "posts_per_page":
		p.purgeAll = true
	case "permalink_structure", "gmt_offset", "timezone_string", "date_format", "time_format":
		mutate, err := optionMutation(opt)
		if err != nil {
			return err
		}
		if _, err := r.settings.Update(mutate); err != nil && !errors.Is(err, settings.ErrPersist) {
			return fmt.Errorf("update settings: %w", err)
		}
		p.purgeAll = true
	default:
		p.skip("option does not affect cached pages")
	}
	return nil
}

func optionMutation(opt Option) (func(*settings.Settings), error) {
	value := opt.NewValue
	switch opt.Name {
	case "permalink_structure":
		return func(s *settings.Settings) { s.PermalinkStructure = value }, nil
	case "gmt_offset":
		offset, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil && value != "" {
			return nil, fmt.Errorf("%w: gmt_offset %q", ErrInvalidEvent, value)
		}
		return func(s *settings.Settings) { s.GMTOffset = offset }, nil
	case "timezone_string":
		return func(s *settings.Settings) { s.TimezoneString = value }, nil
	case "date_format":
		return func(s *settings.Settings) { s.DateFormat = value }, nil
	default:
		return func(s *settings.Settings) { s.TimeFormat = value }, nil
	}
}

// SiteDirectory 返回站点 host 对应的缓存目录，清理范围不会越过该目录。
func SiteDirectory(s settings.Settings) (string, error) {
	u, err := url.Parse(s.HomeURL())
	if err != nil || u.Host == "" {
		return "", ErrNoSiteHost
	}
	return cachekey.DirectoryFor(u.Scheme + "://" + u.Host + "/"), nil
}
