package storage

import (
	"errors"
	"fmt"

	"github.com/ringcluster/mring/pkg/keyspace"
	bolt "go.etcd.io/bbolt"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// ErrSnapshotOutOfDate is returned by ApplySnapshot when the snapshot's
// index is behind the log's first index: applying it would roll the log
// backwards.
var ErrSnapshotOutOfDate = errors.New("storage: snapshot older than first log index")

// InitialState implements raft.Storage. A zero hard state means this
// node has never participated in consensus, so the conf state is
// reported as zero too, whatever storage holds: raft treats the pair as
// one bootstrap-or-restart signal.
func (s *Store) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	hs, err := s.HardState()
	if err != nil {
		return raftpb.HardState{}, raftpb.ConfState{}, err
	}
	if raft.IsEmptyHardState(hs) {
		return hs, raftpb.ConfState{}, nil
	}
	s.mu.RLock()
	cs := s.confState
	s.mu.RUnlock()
	return hs, cs, nil
}

// FirstIndex implements raft.Storage: the index of the oldest entry still
// in the log, or commit+1 when the log is empty.
func (s *Store) FirstIndex() (uint64, error) {
	var first uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		first, err = firstIndexTx(tx)
		return err
	})
	return first, err
}

// LastIndex implements raft.Storage: the index of the newest entry in the
// log, or commit when the log is empty.
func (s *Store) LastIndex() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		last, err = lastIndexTx(tx)
		return err
	})
	return last, err
}

// Term implements raft.Storage.
func (s *Store) Term(idx uint64) (uint64, error) {
	var term uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		hs, err := getHardStateTx(tx)
		if err != nil {
			return err
		}
		if idx == hs.Commit {
			term = hs.Term
			return nil
		}

		first, err := firstIndexTx(tx)
		if err != nil {
			return err
		}
		if idx < first {
			return raft.ErrCompacted
		}

		data := tx.Bucket(keyspace.LogBucket).Get(keyspace.LogKey(idx))
		if data == nil {
			return raft.ErrUnavailable
		}
		var e raftpb.Entry
		if err := e.Unmarshal(data); err != nil {
			return fmt.Errorf("storage: decode entry %d: %w", idx, err)
		}
		term = e.Term
		return nil
	})
	return term, err
}

// Entries implements raft.Storage: entries in [lo, hi), capped by maxSize
// bytes of encoded entry data — always returning at least the first entry
// when one is in range, mirroring the cumulative-size limiting real raft
// transports apply to append batches.
func (s *Store) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	var entries []raftpb.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		first, err := firstIndexTx(tx)
		if err != nil {
			return err
		}
		if lo < first {
			return raft.ErrCompacted
		}
		last, err := lastIndexTx(tx)
		if err != nil {
			return err
		}
		if hi > last+1 {
			return fmt.Errorf("storage: entries: high %d out of bound, last index is %d", hi, last)
		}

		var size uint64
		c := tx.Bucket(keyspace.LogBucket).Cursor()
		for k, v := c.Seek(keyspace.LogKey(lo)); k != nil; k, v = c.Next() {
			var e raftpb.Entry
			if err := e.Unmarshal(v); err != nil {
				return fmt.Errorf("storage: decode entry: %w", err)
			}
			if e.Index >= hi {
				break
			}
			if maxSize > 0 && len(entries) > 0 && size+uint64(e.Size()) > maxSize {
				break
			}
			size += uint64(e.Size())
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Snapshot implements raft.Storage: a point-in-time snapshot built from the
// current hard/conf state and the Data segment.
func (s *Store) Snapshot() (raftpb.Snapshot, error) {
	var snap raftpb.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		hs, err := getHardStateTx(tx)
		if err != nil {
			return err
		}
		cs, err := getConfStateTx(tx)
		if err != nil {
			return err
		}
		data, err := dataSnapshotTx(tx)
		if err != nil {
			return err
		}
		snap.Data = data
		snap.Metadata.Index = hs.Commit
		snap.Metadata.Term = hs.Term
		snap.Metadata.ConfState = cs
		return nil
	})
	return snap, err
}

// SnapshotAt builds a snapshot as Snapshot does, then lifts its metadata
// index to requestIndex when the produced snapshot trails it. Only the
// metadata moves; the data blob stays whatever the Data segment held, so
// a follower that asked for a newer index still installs consistent
// data under metadata raft will accept.
func (s *Store) SnapshotAt(requestIndex uint64) (raftpb.Snapshot, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return snap, err
	}
	if snap.Metadata.Index < requestIndex {
		snap.Metadata.Index = requestIndex
	}
	return snap, nil
}

// Append atomically batch-writes entries under their log keys. A no-op on
// an empty slice. Durable on return: bbolt's Update commits with an fsync.
func (s *Store) Append(entries []raftpb.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(keyspace.LogBucket)
		for _, e := range entries {
			data, err := e.Marshal()
			if err != nil {
				return fmt.Errorf("storage: encode entry %d: %w", e.Index, err)
			}
			if err := b.Put(keyspace.LogKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplySnapshot installs a received snapshot: the Data segment is replaced
// first, then hard/conf state are advanced to the snapshot's index/term,
// then the log is cleared. Returns ErrSnapshotOutOfDate if the snapshot is
// behind the log's current first index.
func (s *Store) ApplySnapshot(snap raftpb.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := applyDataSnapshotTx(tx, snap.Data); err != nil {
			return err
		}

		first, err := firstIndexTx(tx)
		if err != nil {
			return err
		}
		if first > snap.Metadata.Index {
			return ErrSnapshotOutOfDate
		}

		hs := raftpb.HardState{Commit: snap.Metadata.Index, Term: snap.Metadata.Term}
		hsData, err := hs.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Bucket(keyspace.ConfBucket).Put(keyspace.HardStateKey, hsData); err != nil {
			return err
		}

		csData, err := snap.Metadata.ConfState.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Bucket(keyspace.ConfBucket).Put(keyspace.ConfStateKey, csData); err != nil {
			return err
		}

		return clearLogTo(tx, keyspace.HighIndex)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.confState = snap.Metadata.ConfState
	s.mu.Unlock()
	return nil
}
