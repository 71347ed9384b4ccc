package settings

import "slices"

// PurgeRelevantChanges 返回会影响缓存键或缓存内容的已变更字段名，
// 这些字段变化后已有的缓存条目不再可信。
func PurgeRelevantChanges(prev, next Settings) []string {
	var changed []string
	mark := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	mark("enable_mobile_caching", prev.EnableMobileCaching != next.EnableMobileCaching)
	mark("enable_user_caching", prev.EnableUserCaching != next.EnableUserCaching)
	mark("enable_per_role_cache", prev.EnablePerRoleCache != next.EnablePerRoleCache)
	mark("enable_user_specific_cache", prev.EnableUserSpecificCache != next.EnableUserSpecificCache)
	mark("enable_rest_caching", prev.EnableRestCaching != next.EnableRestCaching)
	mark("show_avatars", prev.ShowAvatars != next.ShowAvatars)
	mark("host_gravatars_locally", prev.HostGravatarsLocally != next.HostGravatarsLocally)
	mark("cache_exception_urls", !slices.Equal(prev.CacheExceptionURLs, next.CacheExceptionURLs))
	mark("cache_ignore_query_variables", !slices.Equal(prev.CacheIgnoreQueryVariables, next.CacheIgnoreQueryVariables))
	mark("cache_exception_cookies", !slices.Equal(prev.CacheExceptionCookies, next.CacheExceptionCookies))
	mark("cache_exception_conditional_tags", !slices.Equal(prev.CacheExceptionConditionalTags, next.CacheExceptionConditionalTags))
	mark("cache_exception_browser_agents", !slices.Equal(prev.CacheExceptionBrowserAgents, next.CacheExceptionBrowserAgents))
	mark("cache_cookies", !slices.Equal(prev.CacheCookies, next.CacheCookies))
	mark("cache_query_variables", !slices.Equal(prev.CacheQueryVariables, next.CacheQueryVariables))
	return changed
}
