/*
Copyright 2022 The Windrose Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package badger provides the persistent dedup store engine backed by
// BadgerDB. Regions are key prefixes; destroying a region drops its
// prefix so the storage is reclaimed, and the consistent view is a
// read-only transaction pinned at open time.
package badger

import (
	"bytes"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	badgeropts "github.com/dgraph-io/badger/v4/options"

	"github.com/windrose-io/windrose/pkg/dedupe/store"
)

// regionSep terminates the region name inside a storage key. Region
// names are uuids and never contain a zero byte.
const regionSep = byte(0x00)

type options struct {
	blockCacheSize int64
	compression    bool
}

// Option customizes the engine.
type Option func(*options)

// WithBlockCacheSize sets the engine's block cache size in bytes.
func WithBlockCacheSize(size int64) Option {
	return func(o *options) {
		o.blockCacheSize = size
	}
}

// WithCompression enables on-disk block compression.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compression = enabled
	}
}

func defaultOptions() *options {
	return &options{
		blockCacheSize: 64 << 20,
		compression:    false,
	}
}

// engine implements store.Engine over one badger database.
type engine struct {
	db *badgerdb.DB
}

var _ store.Engine = (*engine)(nil)

// NewEngine opens a badger database rooted at dir.
func NewEngine(dir string, opts ...Option) (store.Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	compression := badgeropts.None
	if o.compression {
		compression = badgeropts.Snappy
	}
	db, err := badgerdb.Open(badgerdb.DefaultOptions(dir).
		WithBlockCacheSize(o.blockCacheSize).
		WithCompression(compression).
		WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dir, err)
	}
	return &engine{db: db}, nil
}

func regionPrefix(name string) []byte {
	prefix := make([]byte, 0, len(name)+1)
	prefix = append(prefix, name...)
	return append(prefix, regionSep)
}

func (e *engine) CreateRegion(name string) (store.Region, error) {
	return &region{name: name, prefix: regionPrefix(name), db: e.db}, nil
}

// DestroyRegion drops the region's prefix; badger reclaims the space
// during compaction.
func (e *engine) DestroyRegion(name string) error {
	if err := e.db.DropPrefix(regionPrefix(name)); err != nil {
		return fmt.Errorf("failed to destroy region %s: %w", name, err)
	}
	return nil
}

func (e *engine) View() (store.View, error) {
	return &view{txn: e.db.NewTransaction(false)}, nil
}

func (e *engine) Close() error {
	return e.db.Close()
}

type region struct {
	name   string
	prefix []byte
	db     *badgerdb.DB
}

var _ store.Region = (*region)(nil)

func (r *region) Name() string {
	return r.name
}

func (r *region) Put(key []byte, value []byte) error {
	full := append(append([]byte{}, r.prefix...), key...)
	return r.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(full, value)
	})
}

// MayContain is a point read; badger's own table filters make the miss
// path cheap.
func (r *region) MayContain(key []byte) (bool, error) {
	full := append(append([]byte{}, r.prefix...), key...)
	err := r.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(full)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe region %s: %w", r.name, err)
	}
	return true, nil
}

type view struct {
	txn *badgerdb.Txn
}

var _ store.View = (*view)(nil)

func (v *view) Iterate(regionName string, fn func(key []byte, value []byte) error) error {
	prefix := regionPrefix(regionName)
	itOpts := badgerdb.DefaultIteratorOptions
	itOpts.Prefix = prefix
	it := v.txn.NewIterator(itOpts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read value in region %s: %w", regionName, err)
		}
		if err := fn(key[len(prefix):], value); err != nil {
			return err
		}
	}
	return nil
}

func (v *view) Close() error {
	v.txn.Discard()
	return nil
}
