// SPDX-License-Identifier: MIT

package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// BadgerStore is the document backend: one record per key under
// "<prefix>/<section>/<key>". Reads within the process observe prior writes
// (Badger serializes through its transaction layer).
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

// OpenBadgerStore opens (or creates) a Badger database at path.
func OpenBadgerStore(path, prefix string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "open badger store", err)
	}
	return &BadgerStore{db: db, prefix: prefix}, nil
}

func (s *BadgerStore) key(section, key string) []byte {
	if s.prefix != "" {
		return []byte(s.prefix + "/" + section + "/" + key)
	}
	return []byte(section + "/" + key)
}

func (s *BadgerStore) Get(ctx context.Context, section, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(section, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, classifyBadgerErr("get", err)
	}
	return out, nil
}

func (s *BadgerStore) Put(ctx context.Context, section, key string, doc []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(section, key), doc)
	})
	if err != nil {
		return classifyBadgerErr("put", err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, section, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(section, key))
	})
	if err != nil {
		return classifyBadgerErr("delete", err)
	}
	return nil
}

func (s *BadgerStore) ListKeys(ctx context.Context, section, prefix string) ([]string, error) {
	var keys []string
	err := s.Scan(ctx, section, prefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *BadgerStore) Scan(ctx context.Context, section, prefix string, fn func(key string, doc []byte) error) error {
	scanPrefix := s.key(section, prefix)
	sectionPrefix := s.key(section, "")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scanPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(bytes.TrimPrefix(item.Key(), sectionPrefix))
			var doc []byte
			if err := item.Value(func(val []byte) error {
				doc = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(key, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*apperr.Error); ok {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return classifyBadgerErr("scan", err)
	}
	return nil
}

func (s *BadgerStore) Info(ctx context.Context) (Info, error) {
	counts := make(map[string]int)
	base := s.prefix
	if base != "" {
		base += "/"
	}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		if base != "" {
			opts.Prefix = []byte(base)
		}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), base)
			if section, _, ok := strings.Cut(key, "/"); ok {
				counts[section]++
			}
		}
		return nil
	})
	if err != nil {
		return Info{}, classifyBadgerErr("info", err)
	}
	return Info{Backend: "document", Prefix: s.prefix, SectionCounts: counts}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// classifyBadgerErr sorts backend failures into the transient/permanent
// taxonomy. Conflicts and blocked writes are retryable; the rest is not.
func classifyBadgerErr(op string, err error) error {
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrBlockedWrites) {
		return apperr.Wrap(apperr.KindTransient, "badger "+op, err)
	}
	return apperr.Wrap(apperr.KindInternal, "badger "+op, err)
}

var _ Store = (*BadgerStore)(nil)
