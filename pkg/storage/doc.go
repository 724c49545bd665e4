// Package storage is the raft storage engine: a bbolt-backed
// implementation of go.etcd.io/etcd/raft/v3's Storage interface plus the
// write contract raft.Storage itself doesn't define (Append, ApplySnapshot,
// SetHardState, SetConfState). It also owns the Data segment the replicated
// key-value service reads and writes, and the newline-delimited-JSON framing
// used to move that segment in and out of a raft snapshot.
package storage
