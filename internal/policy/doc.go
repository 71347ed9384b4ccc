// Package policy decides, twice per request, whether the page cache may
// be used. ShouldServe runs before the origin is contacted and gates both
// the cache lookup and the later capture; ShouldStore runs once the origin
// response is complete and gates the write. Both checks report every
// reason that applies so the proxy can surface them for debugging.
package policy
