package settings

import (
	"sort"
	"strings"
	"time"
)

// 缓存时长单位对应的秒数。
const (
	UnitHours  = "hours"
	UnitDays   = "days"
	UnitMonths = "months"

	secondsPerHour  = 3600
	secondsPerDay   = 86400
	secondsPerMonth = 2629800
)

// Settings 是单个站点的页面缓存配置快照，请求处理期间视为只读。
type Settings struct {
	EnablePageCaching             bool     `json:"enable_page_caching" yaml:"enable_page_caching"`
	PageCacheLengthValue          int      `json:"page_cache_length_value" yaml:"page_cache_length_value"`
	PageCacheLengthUnit           string   `json:"page_cache_length_unit" yaml:"page_cache_length_unit"`
	PageCacheLength               int64    `json:"page_cache_length" yaml:"page_cache_length"`
	CacheExceptionConditionalTags []string `json:"cache_exception_conditional_tags" yaml:"cache_exception_conditional_tags"`
	CacheExceptionURLs            []string `json:"cache_exception_urls" yaml:"cache_exception_urls"`
	CacheExceptionCookies         []string `json:"cache_exception_cookies" yaml:"cache_exception_cookies"`
	CacheExceptionBrowserAgents   []string `json:"cache_exception_browser_agents" yaml:"cache_exception_browser_agents"`
	CacheIgnoreQueryVariables     []string `json:"cache_ignore_query_variables" yaml:"cache_ignore_query_variables"`
	EnableMobileCaching           bool     `json:"enable_mobile_caching" yaml:"enable_mobile_caching"`
	EnableUserCaching             bool     `json:"enable_user_caching" yaml:"enable_user_caching"`
	EnablePerRoleCache            bool     `json:"enable_per_role_cache" yaml:"enable_per_role_cache"`
	EnableUserSpecificCache       bool     `json:"enable_user_specific_cache" yaml:"enable_user_specific_cache"`
	EnableRestCaching             bool     `json:"enable_rest_caching" yaml:"enable_rest_caching"`
	EnableFeedCaching             bool     `json:"enable_feed_caching" yaml:"enable_feed_caching"`
	EnableGzip                    bool     `json:"enable_gzip" yaml:"enable_gzip"`
	GzipLevel                     int      `json:"gzip_level" yaml:"gzip_level"`
	ShowCachedByComment           bool     `json:"show_cached_by_comment" yaml:"show_cached_by_comment"`
	ShowAvatars                   bool     `json:"show_avatars" yaml:"show_avatars"`
	HostGravatarsLocally          bool     `json:"host_gravatars_locally" yaml:"host_gravatars_locally"`
	DeleteHomepageOnPostUpdate    bool     `json:"delete_homepage_on_post_update" yaml:"delete_homepage_on_post_update"`
	PurgeAllOnUpdate              bool     `json:"purge_all_on_update" yaml:"purge_all_on_update"`
	AutoPreloadPurgedContents     bool     `json:"auto_preload_purged_contents" yaml:"auto_preload_purged_contents"`
	UseWebPImages                 bool     `json:"use_webp_images" yaml:"use_webp_images"`
	WebPRedirection               bool     `json:"webp_redirection" yaml:"webp_redirection"`
	CacheCookies                  []string `json:"cache_cookies" yaml:"cache_cookies"`
	CacheQueryVariables           []string `json:"cache_query_variables" yaml:"cache_query_variables"`
	CacheAllQueryVariables        bool     `json:"cache_all_query_variables" yaml:"cache_all_query_variables"`
	SiteURL                       string   `json:"site_url" yaml:"site_url"`
	PermalinkStructure            string   `json:"permalink_structure" yaml:"permalink_structure"`
	GMTOffset                     float64  `json:"gmt_offset" yaml:"gmt_offset"`
	TimezoneString                string   `json:"timezone_string" yaml:"timezone_string"`
	DateFormat                    string   `json:"date_format" yaml:"date_format"`
	TimeFormat                    string   `json:"time_format" yaml:"time_format"`

	Version   int64     `json:"version" yaml:"version"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Defaults 返回新站点的初始配置，缓存默认关闭。
func Defaults(siteURL string) Settings {
	s := Settings{
		EnablePageCaching:          false,
		PageCacheLengthValue:       24,
		PageCacheLengthUnit:        UnitHours,
		EnableGzip:                 true,
		GzipLevel:                  6,
		ShowCachedByComment:        true,
		DeleteHomepageOnPostUpdate: true,
		AutoPreloadPurgedContents:  true,
		SiteURL:                    siteURL,
		PermalinkStructure:         "/%postname%/",
		DateFormat:                 "F j, Y",
		TimeFormat:                 "g:i a",
	}
	s.Normalize()
	return s
}

// Normalize 清理列表字段、排序参与缓存键的名称并重新计算缓存时长（秒）。
func (s *Settings) Normalize() {
	s.CacheExceptionConditionalTags = cleanList(s.CacheExceptionConditionalTags, false)
	s.CacheExceptionURLs = cleanList(s.CacheExceptionURLs, false)
	s.CacheExceptionCookies = cleanList(s.CacheExceptionCookies, false)
	s.CacheExceptionBrowserAgents = cleanList(s.CacheExceptionBrowserAgents, false)
	s.CacheIgnoreQueryVariables = cleanList(s.CacheIgnoreQueryVariables, false)
	s.CacheCookies = cleanList(s.CacheCookies, true)
	s.CacheQueryVariables = cleanList(s.CacheQueryVariables, true)

	switch s.PageCacheLengthUnit {
	case UnitHours, UnitDays, UnitMonths:
	default:
		s.PageCacheLengthUnit = UnitHours
	}
	if s.PageCacheLengthValue < 0 {
		s.PageCacheLengthValue = 0
	}
	s.PageCacheLength = int64(s.PageCacheLengthValue) * unitSeconds(s.PageCacheLengthUnit)

	if s.GzipLevel < 1 || s.GzipLevel > 9 {
		s.GzipLevel = 6
	}
	if s.SiteURL != "" && !strings.HasSuffix(s.SiteURL, "/") {
		s.SiteURL += "/"
	}
}

// TTL 返回缓存条目的最大存活时间，0 表示永不过期。
func (s Settings) TTL() time.Duration {
	if s.PageCacheLength <= 0 {
		return 0
	}
	return time.Duration(s.PageCacheLength) * time.Second
}

// HomeURL 返回带结尾斜杠的站点首页地址。
func (s Settings) HomeURL() string {
	if s.SiteURL == "" || strings.HasSuffix(s.SiteURL, "/") {
		return s.SiteURL
	}
	return s.SiteURL + "/"
}

// LoggedInCaching 表示是否允许为已登录用户缓存页面。
func (s Settings) LoggedInCaching() bool {
	return s.EnableUserCaching || s.EnablePerRoleCache || s.EnableUserSpecificCache
}

// Location 返回页脚时间使用的时区：优先使用时区名，其次使用 GMT 偏移。
func (s Settings) Location() *time.Location {
	if s.TimezoneString != "" {
		if loc, err := time.LoadLocation(s.TimezoneString); err == nil {
			return loc
		}
	}
	return time.FixedZone("", int(s.GMTOffset*3600))
}

// Clone 返回深拷贝，避免调用方修改共享切片。
func (s Settings) Clone() Settings {
	out := s
	out.CacheExceptionConditionalTags = cloneList(s.CacheExceptionConditionalTags)
	out.CacheExceptionURLs = cloneList(s.CacheExceptionURLs)
	out.CacheExceptionCookies = cloneList(s.CacheExceptionCookies)
	out.CacheExceptionBrowserAgents = cloneList(s.CacheExceptionBrowserAgents)
	out.CacheIgnoreQueryVariables = cloneList(s.CacheIgnoreQueryVariables)
	out.CacheCookies = cloneList(s.CacheCookies)
	out.CacheQueryVariables = cloneList(s.CacheQueryVariables)
	return out
}

func unitSeconds(unit string) int64 {
	switch unit {
	case UnitDays:
		return secondsPerDay
	case UnitMonths:
		return secondsPerMonth
	default:
		return secondsPerHour
	}
}

func cleanList(values []string, sorted bool) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if sorted {
		sort.Strings(out)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneList(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
