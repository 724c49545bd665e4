// Package keyspace lays out the three disjoint segments the raft storage
// engine persists into: Conf (hard/conf state), Log (raft log entries),
// and Data (the application's replicated key-value data). Each segment
// is a separate bbolt bucket, so segment isolation is enforced by the
// store's bucket boundary rather than by a shared byte-prefixed
// keyspace: no two segments' key ranges can overlap.
package keyspace
