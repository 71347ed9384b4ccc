package hooks

import "github.com/pressgate/pressgate/internal/pagectx"

// Hooks describes the extension points of the cache decision and capture
// flow. Every field is optional; a nil field leaves the value unchanged.
type Hooks struct {
	// ForceCache lets non-GET requests enter the cache flow.
	ForceCache func(req *pagectx.Request) bool
	// CanCache receives the verdict so far and returns the new verdict.
	CanCache func(req *pagectx.Request, resp *pagectx.Response, current bool) bool
	// RestrictedPageType returns a non-empty reason when the page type must not be stored.
	RestrictedPageType func(req *pagectx.Request, resp *pagectx.Response) string
	// Filename rewrites the cache file name before truncation.
	Filename func(req *pagectx.Request, filename string) string
	// PreCacheBuffer transforms the body before it is stored.
	PreCacheBuffer func(req *pagectx.Request, body []byte) []byte
	// ShowCachedByComment toggles the footer comment for a request.
	ShowCachedByComment func(req *pagectx.Request, current bool) bool
	// ConditionalTags extends the page type allow-list.
	ConditionalTags []string
}

// Chain is an ordered list of hooks, applied in registration order.
type Chain []Hooks

// ForceCache reports whether any hook forces caching.
func (c Chain) ForceCache(req *pagectx.Request) bool {
	for _, h := range c {
		if h.ForceCache != nil && h.ForceCache(req) {
			return true
		}
	}
	return false
}

// CanCache folds the verdict through every hook.
func (c Chain) CanCache(req *pagectx.Request, resp *pagectx.Response, initial bool) bool {
	verdict := initial
	for _, h := range c {
		if h.CanCache != nil {
			verdict = h.CanCache(req, resp, verdict)
		}
	}
	return verdict
}

// RestrictedPageType returns the last non-empty restriction reason.
func (c Chain) RestrictedPageType(req *pagectx.Request, resp *pagectx.Response) string {
	reason := ""
	for _, h := range c {
		if h.RestrictedPageType == nil {
			continue
		}
		if r := h.RestrictedPageType(req, resp); r != "" {
			reason = r
		}
	}
	return reason
}

// Filename folds the file name through every hook.
func (c Chain) Filename(req *pagectx.Request, filename string) string {
	for _, h := range c {
		if h.Filename != nil {
			filename = h.Filename(req, filename)
		}
	}
	return filename
}

// PreCacheBuffer folds the body through every hook.
func (c Chain) PreCacheBuffer(req *pagectx.Request, body []byte) []byte {
	for _, h := range c {
		if h.PreCacheBuffer != nil {
			body = h.PreCacheBuffer(req, body)
		}
	}
	return body
}

// ShowCachedByComment folds the footer toggle through every hook.
func (c Chain) ShowCachedByComment(req *pagectx.Request, initial bool) bool {
	show := initial
	for _, h := range c {
		if h.ShowCachedByComment != nil {
			show = h.ShowCachedByComment(req, show)
		}
	}
	return show
}
