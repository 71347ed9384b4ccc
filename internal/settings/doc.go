// Package settings owns the runtime cache configuration of a site.
//
// The configuration is persisted twice: a bbolt database is the durable
// copy and a YAML snapshot file is the fast-load copy read at process
// start. Store.Update keeps both in step and always applies the new value
// in memory first, so callers observe the intended settings even when
// persistence fails.
package settings
