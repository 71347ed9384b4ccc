// Package cachekey maps a request onto the storage directory and file name
// of its cache entry. Every function is pure: the same request shape and
// settings always yield byte-identical results, which is what lets the
// serve path find what the capture path stored.
package cachekey
