// Package routes registers the operator-facing endpoints under /-/: site
// listing, cache status, runtime settings, purges, content-change events and
// the Prometheus scrape endpoint. When an admin token is configured every
// endpoint requires it as a bearer token.
package routes
