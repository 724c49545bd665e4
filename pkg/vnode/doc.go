// Package vnode is the per-node vnode manager: a single cooperative loop
// that owns every virtual partition currently resident on this node and
// multiplexes two input streams — externally fed tasks (Assign, MigrateOut,
// MigrateInStart, MigrateIn, MigrateInEnd) and a self-fed command stream
// from in-flight migration tasks (GetMigrationData, FinishMigration,
// CancelMigration). No two handlers ever run concurrently on the same
// vnode map, because both streams are drained by the same goroutine.
package vnode
