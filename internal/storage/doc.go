// Package storage persists scheduled events, availability preferences and the
// blog posts used by the example handler.
//
// Backends:
//   - memory: maps guarded by a mutex
//   - file: the memory backend plus an atomically rewritten JSON snapshot
//   - sqlite: modernc.org/sqlite with indexed columns and a JSON document per row
package storage
