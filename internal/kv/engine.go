// Package kv adapts go.etcd.io/bbolt into the ordered byte-key/byte-value
// engine described in spec.md §4.1: atomic put/get/delete/scan, batched
// writes durable before Batch returns.
package kv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/triggr/node/internal/apierr"
)

// bucket is the single bbolt bucket Triggr stores everything in; the key
// families from spec.md §4.1 (proj/, tkey/, coll/, doc/) are distinguished
// by key prefix within it rather than by separate buckets, so a single
// ScanPrefix can range over a whole family in one cursor pass.
var bucket = []byte("triggr")

// Engine is the embedded ordered KV store backing the Document Store (C2),
// Contract Registry (C3), and trigger persistence (C7).
type Engine struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at dataDir/triggr.db.
func Open(dataDir string) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "create data dir", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, "triggr.db"), 0o600, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorage, "open database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apierr.Wrap(apierr.CodeStorage, "create bucket", err)
	}
	return &Engine{db: db}, nil
}

// Close flushes and closes the underlying database file.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return apierr.Wrap(apierr.CodeStorage, "close database", err)
	}
	return nil
}

// Get reads a single value. Returns apierr.CodeNotFound if the key is absent.
func (e *Engine) Get(key []byte) ([]byte, error) {
	var out []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return apierr.NotFound("key %q", key)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes a single key/value pair, durable on return.
func (e *Engine) Put(key, value []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
	if err != nil {
		return apierr.Storage(err)
	}
	return nil
}

// Delete removes a key if present; deleting an absent key is a no-op.
func (e *Engine) Delete(key []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
	if err != nil {
		return apierr.Storage(err)
	}
	return nil
}

// Entry is a single key/value pair yielded by ScanPrefix.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanPrefix returns every entry whose key has the given prefix, in
// binary-lexicographic key order.
func (e *Engine) ScanPrefix(prefix []byte) ([]Entry, error) {
	var out []Entry
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Storage(err)
	}
	return out, nil
}

// RecordVersion is the format byte every persisted record value starts
// with (spec.md §6: "implementers must include a record-format version
// byte"). Unknown versions are reserved for future encodings.
const RecordVersion byte = 0x01

// WrapRecord prefixes payload with the current record-format version byte.
func WrapRecord(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, RecordVersion)
	return append(out, payload...)
}

// UnwrapRecord strips and checks the record-format version byte.
func UnwrapRecord(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, apierr.New(apierr.CodeStorage, "empty record")
	}
	if raw[0] != RecordVersion {
		return nil, apierr.Newf(apierr.CodeStorage, "unknown record format version 0x%02x", raw[0])
	}
	return raw[1:], nil
}

// OpKind distinguishes a batched Put from a batched Delete.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one write in a Batch.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Batch executes every op inside a single bbolt transaction: either all
// writes land durably, or none do (spec.md §4.1).
func (e *Engine) Batch(ops []Op) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		for _, op := range ops {
			switch op.Kind {
			case OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			default:
				return fmt.Errorf("kv: unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err != nil {
		return apierr.Storage(err)
	}
	return nil
}
