// Package badger persists cache buckets on local disk with Badger, so the
// shell survives a restart of the worker process while the upstream is down.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// Key layout:
//
//	b/{name}             -> big-endian creation sequence
//	e/{name}\x00{reqkey} -> JSON response snapshot
var (
	bucketPrefix = []byte("b/")
	entryPrefix  = []byte("e/")
)

type Storage struct {
	db *badger.DB

	// seqMu serializes bucket creation so sequence numbers stay unique.
	seqMu sync.Mutex
}

// Open opens (or creates) a store at dir. An empty dir keeps everything in
// memory.
func Open(dir string) (*Storage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func bucketKey(name string) []byte {
	return append(append([]byte(nil), bucketPrefix...), name...)
}

func entriesPrefix(name string) []byte {
	k := append(append([]byte(nil), entryPrefix...), name...)
	return append(k, 0)
}

func entryKey(name, reqKey string) []byte {
	return append(entriesPrefix(name), reqKey...)
}

func (s *Storage) Open(_ context.Context, name string) (worker.Bucket, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(bucketKey(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		seq, err := s.nextSeq(txn)
		if err != nil {
			return err
		}
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], seq)
		return txn.Set(bucketKey(name), v[:])
	})
	if err != nil {
		return nil, fmt.Errorf("badger bucket create failed: %w", err)
	}
	return &Bucket{db: s.db, name: name}, nil
}

func (s *Storage) nextSeq(txn *badger.Txn) (uint64, error) {
	var highest uint64
	it := txn.NewIterator(iterOptions(bucketPrefix, true))
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		if len(v) == 8 {
			if n := binary.BigEndian.Uint64(v); n > highest {
				highest = n
			}
		}
	}
	return highest + 1, nil
}

func iterOptions(prefix []byte, values bool) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	return opts
}

func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(bucketKey(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger bucket lookup failed: %w", err)
	}
	return true, nil
}

func (s *Storage) Keys(_ context.Context) ([]string, error) {
	type named struct {
		name string
		seq  uint64
	}
	var all []named
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOptions(bucketPrefix, true))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			n := named{name: string(bytes.TrimPrefix(item.KeyCopy(nil), bucketPrefix))}
			if len(v) == 8 {
				n.seq = binary.BigEndian.Uint64(v)
			}
			all = append(all, n)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger bucket list failed: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	names := make([]string, len(all))
	for i, n := range all {
		names[i] = n.name
	}
	return names, nil
}

// Delete drops the bucket marker first, then its entries. Once the marker is
// gone every Put to the bucket fails, so no entry can outlive it.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(bucketKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(bucketKey(name))
	})
	if err != nil {
		return false, fmt.Errorf("badger bucket delete failed: %w", err)
	}
	if !existed {
		return false, nil
	}
	if err := s.db.DropPrefix(entriesPrefix(name)); err != nil {
		return true, fmt.Errorf("badger entry purge failed: %w", err)
	}
	return true, nil
}

// Bucket is a handle on one Badger-backed bucket.
type Bucket struct {
	db   *badger.DB
	name string
}

func (b *Bucket) Match(_ context.Context, req *worker.Request) (*worker.Response, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(b.name, req.Key()))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger entry read failed: %w", err)
	}
	var resp worker.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %q: %w", req.Key(), err)
	}
	return &resp, true, nil
}

func (b *Bucket) Put(_ context.Context, req *worker.Request, resp *worker.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(bucketKey(b.name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return worker.ErrBucketDeleted
			}
			return err
		}
		return txn.Set(entryKey(b.name, req.Key()), raw)
	})
	if errors.Is(err, worker.ErrBucketDeleted) {
		return err
	}
	if err != nil {
		return fmt.Errorf("badger entry write failed: %w", err)
	}
	return nil
}

func (b *Bucket) Keys(_ context.Context) ([]string, error) {
	prefix := entriesPrefix(b.name)
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOptions(prefix, false))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger entry list failed: %w", err)
	}
	return keys, nil
}
