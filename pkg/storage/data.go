package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ringcluster/mring/pkg/ids"
	"github.com/ringcluster/mring/pkg/keyspace"
	bolt "go.etcd.io/bbolt"
)

// compositeKey builds the physical Data-segment key for a (service, scope,
// key) triple: a 2-byte service id, a 2-byte scope, then the raw key
// bytes. The service prefix keeps every service's slice of the Data
// segment disjoint; the scope prefix is the sub-namespace a single
// service (the KV service) partitions its own keys by.
func compositeKey(service ids.ServiceId, scope ids.Scope, key string) []byte {
	out := make([]byte, 4+len(key))
	binary.BigEndian.PutUint16(out, uint16(service))
	binary.BigEndian.PutUint16(out[2:], uint16(scope))
	copy(out[4:], key)
	return out
}

// Get returns the current value for (service, scope, key), and false if absent.
func (s *Store) Get(service ids.ServiceId, scope ids.Scope, key string) (string, bool, error) {
	var value string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(keyspace.DataBucket).Get(compositeKey(service, scope, key))
		if v != nil {
			value = string(v)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

// Put unconditionally writes value and returns the prior value, if any.
func (s *Store) Put(service ids.ServiceId, scope ids.Scope, key, value string) (string, bool, error) {
	var prev string
	var had bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(keyspace.DataBucket)
		k := compositeKey(service, scope, key)
		if v := b.Get(k); v != nil {
			prev, had = string(v), true
		}
		return b.Put(k, []byte(value))
	})
	return prev, had, err
}

// Delete removes key and returns the prior value, if any.
func (s *Store) Delete(service ids.ServiceId, scope ids.Scope, key string) (string, bool, error) {
	var prev string
	var had bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(keyspace.DataBucket)
		k := compositeKey(service, scope, key)
		if v := b.Get(k); v != nil {
			prev, had = string(v), true
		}
		return b.Delete(k)
	})
	return prev, had, err
}

// Cas atomically replaces key's value with store if its current value
// equals check (an absent key compares equal to the empty string). Returns
// whether the swap happened and the value now in effect — store on
// success, the conflicting current value on failure.
func (s *Store) Cas(service ids.ServiceId, scope ids.Scope, key, check, store string) (swapped bool, result string, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(keyspace.DataBucket)
		k := compositeKey(service, scope, key)
		cur := ""
		if v := b.Get(k); v != nil {
			cur = string(v)
		}
		if cur != check {
			result = cur
			return nil
		}
		swapped = true
		result = store
		return b.Put(k, []byte(store))
	})
	return swapped, result, err
}

// kvRecord is one line of the snapshot data format: a service- and
// scope-qualified key/value pair. Records are newline-delimited;
// encoding/json escapes any newline inside a key or value, so each
// record stays on a single line.
type kvRecord struct {
	Service uint16 `json:"service"`
	Scope   uint16 `json:"scope"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

// dataSnapshotTx serializes the whole Data segment as newline-separated
// JSON objects, one per stored key.
func dataSnapshotTx(tx *bolt.Tx) ([]byte, error) {
	var buf bytes.Buffer
	first := true
	err := tx.Bucket(keyspace.DataBucket).ForEach(func(k, v []byte) error {
		rec := kvRecord{
			Service: binary.BigEndian.Uint16(k[:2]),
			Scope:   binary.BigEndian.Uint16(k[2:4]),
			Key:     string(k[4:]),
			Value:   string(v),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("storage: encode snapshot record: %w", err)
		}
		if !first {
			buf.WriteByte('\n')
		}
		first = false
		buf.Write(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// applyDataSnapshotTx clears the Data segment and replays each record,
// skipping malformed lines rather than failing the whole snapshot install.
func applyDataSnapshotTx(tx *bolt.Tx, data []byte) error {
	b := tx.Bucket(keyspace.DataBucket)

	c := b.Cursor()
	var dead [][]byte
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		dead = append(dead, append([]byte(nil), k...))
	}
	for _, k := range dead {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec kvRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		k := compositeKey(ids.ServiceId(rec.Service), ids.Scope(rec.Scope), rec.Key)
		if err := b.Put(k, []byte(rec.Value)); err != nil {
			return err
		}
	}
	return nil
}
