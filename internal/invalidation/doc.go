// Package invalidation maps content-change events reported by the WordPress
// origin onto cache deletions. Every URL is canonicalised through
// cachekey.DirectoryFor before it reaches the store, so an event for a URL
// always removes the entry captured for the same logical page. Purged URLs
// can optionally be handed to the preloader for re-warming.
package invalidation
