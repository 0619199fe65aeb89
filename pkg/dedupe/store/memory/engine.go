// Package memory provides the in-memory dedup store engine. Regions
// are plain maps with a bloom filter sidecar serving the probabilistic
// membership check at a configured error rate, mirroring the structure
// of an LSM engine's per-table bloom filters.
package memory

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/windrose-io/windrose/pkg/dedupe/store"
)

type options struct {
	// expectedInserts sizes each region's bloom filter.
	expectedInserts uint
	// falsePositiveRate is the bloom filter error parameter.
	falsePositiveRate float64
}

// Option customizes the engine.
type Option func(*options)

// WithExpectedInserts sets the per-region bloom filter capacity.
func WithExpectedInserts(n uint) Option {
	return func(o *options) {
		o.expectedInserts = n
	}
}

// WithFalsePositiveRate sets the approximate-membership error rate.
func WithFalsePositiveRate(p float64) Option {
	return func(o *options) {
		o.falsePositiveRate = p
	}
}

func defaultOptions() *options {
	return &options{
		expectedInserts:   100000,
		falsePositiveRate: 0.01,
	}
}

type region struct {
	name   string
	mu     sync.RWMutex
	kv     map[string][]byte
	filter *bloom.BloomFilter
}

var _ store.Region = (*region)(nil)

func (r *region) Name() string {
	return r.name
}

func (r *region) Put(key []byte, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	r.kv[string(key)] = v
	r.filter.Add(key)
	return nil
}

// MayContain consults only the bloom filter, so the answer carries the
// configured false-positive rate just like a disk engine that skips
// the block read on a filter miss.
func (r *region) MayContain(key []byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter.Test(key), nil
}

// engine implements store.Engine with in-process maps.
type engine struct {
	mu      sync.RWMutex
	regions map[string]*region
	opts    *options
	closed  bool
}

var _ store.Engine = (*engine)(nil)

// NewEngine returns an in-memory engine.
func NewEngine(opts ...Option) store.Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &engine{
		regions: make(map[string]*region),
		opts:    o,
	}
}

func (e *engine) CreateRegion(name string) (store.Region, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, store.ErrClosed
	}
	if r, ok := e.regions[name]; ok {
		return r, nil
	}
	r := &region{
		name:   name,
		kv:     make(map[string][]byte),
		filter: bloom.NewWithEstimates(e.opts.expectedInserts, e.opts.falsePositiveRate),
	}
	e.regions[name] = r
	return r, nil
}

func (e *engine) DestroyRegion(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return store.ErrClosed
	}
	if _, ok := e.regions[name]; !ok {
		return store.ErrNoRegion
	}
	delete(e.regions, name)
	return nil
}

// View copies every region's pairs under lock, so later writes cannot
// leak into the capture.
func (e *engine) View() (store.View, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, store.ErrClosed
	}
	captured := make(map[string]map[string][]byte, len(e.regions))
	for name, r := range e.regions {
		r.mu.RLock()
		pairs := make(map[string][]byte, len(r.kv))
		for k, v := range r.kv {
			pairs[k] = v
		}
		r.mu.RUnlock()
		captured[name] = pairs
	}
	return &view{regions: captured}, nil
}

func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.regions = nil
	return nil
}

type view struct {
	regions map[string]map[string][]byte
}

var _ store.View = (*view)(nil)

func (v *view) Iterate(region string, fn func(key []byte, value []byte) error) error {
	pairs, ok := v.regions[region]
	if !ok {
		return store.ErrNoRegion
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), pairs[k]); err != nil {
			return err
		}
	}
	return nil
}

func (v *view) Close() error {
	v.regions = nil
	return nil
}
