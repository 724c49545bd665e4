package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/keyspace"
	bolt "go.etcd.io/bbolt"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// Store is a bbolt-backed raft storage engine: one file per node holding
// the Conf, Log, and Data segments as separate buckets.
type Store struct {
	db *bolt.DB

	mu        sync.RWMutex
	confState raftpb.ConfState
}

// Open creates or reuses the node's data directory (named raft-rocks-<id>,
// matching the original single-store-per-node layout) and returns a Store
// backed by a bbolt database inside it.
func Open(dataDir string, id ids.NodeId) (*Store, error) {
	dir := filepath.Join(dataDir, fmt.Sprintf("raft-rocks-%d", id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir %s: %w", dir, err)
	}

	db, err := bolt.Open(filepath.Join(dir, "storage.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{keyspace.ConfBucket, keyspace.LogBucket, keyspace.DataBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.View(func(tx *bolt.Tx) error {
		cs, err := getConfStateTx(tx)
		if err != nil {
			return err
		}
		s.confState = cs
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bootstrap seeds a fresh store with the given conf state and the
// commit=1,term=1 hard state a single-node cluster starts from.
func (s *Store) Bootstrap(cs raftpb.ConfState) error {
	if err := s.SetConfState(cs); err != nil {
		return err
	}
	return s.SetHardState(raftpb.HardState{Commit: 1, Term: 1})
}

func getHardStateTx(tx *bolt.Tx) (raftpb.HardState, error) {
	var hs raftpb.HardState
	data := tx.Bucket(keyspace.ConfBucket).Get(keyspace.HardStateKey)
	if data == nil {
		return hs, nil
	}
	if err := hs.Unmarshal(data); err != nil {
		return hs, fmt.Errorf("storage: decode hard state: %w", err)
	}
	return hs, nil
}

func getConfStateTx(tx *bolt.Tx) (raftpb.ConfState, error) {
	var cs raftpb.ConfState
	data := tx.Bucket(keyspace.ConfBucket).Get(keyspace.ConfStateKey)
	if data == nil {
		return cs, nil
	}
	if err := cs.Unmarshal(data); err != nil {
		return cs, fmt.Errorf("storage: decode conf state: %w", err)
	}
	return cs, nil
}

func firstIndexTx(tx *bolt.Tx) (uint64, error) {
	c := tx.Bucket(keyspace.LogBucket).Cursor()
	k, v := c.First()
	if k == nil {
		hs, err := getHardStateTx(tx)
		if err != nil {
			return 0, err
		}
		return hs.Commit + 1, nil
	}
	var e raftpb.Entry
	if err := e.Unmarshal(v); err != nil {
		return 0, fmt.Errorf("storage: decode entry: %w", err)
	}
	return e.Index, nil
}

func lastIndexTx(tx *bolt.Tx) (uint64, error) {
	c := tx.Bucket(keyspace.LogBucket).Cursor()
	k, v := c.Last()
	if k == nil {
		hs, err := getHardStateTx(tx)
		if err != nil {
			return 0, err
		}
		return hs.Commit, nil
	}
	var e raftpb.Entry
	if err := e.Unmarshal(v); err != nil {
		return 0, fmt.Errorf("storage: decode entry: %w", err)
	}
	return e.Index, nil
}

// clearLogTo deletes every log entry whose key is <= the key for before,
// mirroring clear_log_to: log compaction on a hard-state write removes
// every entry up to and including commit.
func clearLogTo(tx *bolt.Tx, before uint64) error {
	b := tx.Bucket(keyspace.LogBucket)
	c := b.Cursor()
	beforeKey := keyspace.LogKey(before)

	var dead [][]byte
	for k, _ := c.First(); k != nil && bytes.Compare(k, beforeKey) <= 0; k, _ = c.Next() {
		dead = append(dead, append([]byte(nil), k...))
	}
	for _, k := range dead {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// SetConfState persists the cluster's membership conf state.
func (s *Store) SetConfState(cs raftpb.ConfState) error {
	data, err := cs.Marshal()
	if err != nil {
		return fmt.Errorf("storage: encode conf state: %w", err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(keyspace.ConfBucket).Put(keyspace.ConfStateKey, data)
	}); err != nil {
		return err
	}
	s.mu.Lock()
	s.confState = cs
	s.mu.Unlock()
	return nil
}

// SetHardState persists the hard state and compacts the log through the
// new commit index: every entry at or below commit is deleted.
func (s *Store) SetHardState(hs raftpb.HardState) error {
	data, err := hs.Marshal()
	if err != nil {
		return fmt.Errorf("storage: encode hard state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(keyspace.ConfBucket).Put(keyspace.HardStateKey, data); err != nil {
			return err
		}
		return clearLogTo(tx, hs.Commit)
	})
}

// HardState returns the currently persisted hard state.
func (s *Store) HardState() (raftpb.HardState, error) {
	var hs raftpb.HardState
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		hs, err = getHardStateTx(tx)
		return err
	})
	return hs, err
}
