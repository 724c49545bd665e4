package keyspace

import "encoding/binary"

var (
	// ConfBucket holds the two fixed keys for ConfState and HardState.
	ConfBucket = []byte("conf")
	// LogBucket holds raft log entries keyed by fixed-width index.
	LogBucket = []byte("log")
	// DataBucket holds the application's replicated key-value data.
	DataBucket = []byte("data")
)

var (
	// HardStateKey is the fixed key for the serialized HardState in ConfBucket.
	HardStateKey = []byte("hard_state")
	// ConfStateKey is the fixed key for the serialized ConfState in ConfBucket.
	ConfStateKey = []byte("conf_state")
)

// LowIndex and HighIndex are the sentinel bounds delimiting the log
// segment for range scans: every log key lies in [LogKey(LowIndex),
// LogKey(HighIndex)].
const (
	LowIndex  uint64 = 0
	HighIndex uint64 = ^uint64(0)
)

// LogKey encodes a raft log index as a fixed-width, order-preserving key.
func LogKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

// ParseLogIndex decodes a log segment key back into its raft log index.
func ParseLogIndex(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
