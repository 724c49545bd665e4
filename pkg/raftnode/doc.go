// Package raftnode drives the consensus core: it wraps an
// go.etcd.io/etcd/raft/v3 RawNode over pkg/storage, dispatches committed
// entries to the registered pkg/service table, ships outbound raft
// messages to peers over websocket, and correlates proposals back to
// their callers.
//
// The raft algorithm itself comes from the library; this package is the
// wiring around it, not a reimplementation of it.
package raftnode
