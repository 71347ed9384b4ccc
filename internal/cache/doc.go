// Package cache implements the on-disk page cache store. Entries live at
// StoragePath/<host>/<path>/<filename> with an optional independently valid
// .gz sibling and an empty index.php marker per directory. Writes go
// through temp file + rename so readers only ever see complete files, and
// entries are never modified in place: invalidation deletes and the next
// miss regenerates. The package also owns the cached size/file-count
// accounting that status queries read.
package cache
