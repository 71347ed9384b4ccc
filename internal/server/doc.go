// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the site registry that resolves a Host header to the WordPress site it
// fronts. Each SiteRoute carries the site's settings store, its invalidation
// router and a cacheability decider that is rebuilt whenever settings change.
// Admin endpoints under /-/ bypass host resolution and live in the routes
// subpackage.
package server
