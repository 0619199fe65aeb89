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

// Package dedupe provides the idempotency filter of a task: a bounded,
// approximate, time and volume windowed deduplication set. Seen record
// identifiers are inserted into the newest bucket of a rotating ring of
// membership sets; a background manager ages out the oldest bucket once
// the ring is full, so identifiers older than the retention window are
// silently forgotten. Membership answers may be false positives at the
// backing engine's error rate, never false negatives within retention.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/windrose-io/windrose/pkg/dedupe/store"
	"github.com/windrose-io/windrose/pkg/shared/logging"
)

// ErrNotActive is returned for operations on a filter that is not in
// the active state.
var ErrNotActive = errors.New("filter is not active")

// Filter deduplicates previously seen record identifiers.
type Filter interface {
	// MarkSeen records an identifier in the current bucket.
	MarkSeen(id string) error
	// HasSeen reports whether an identifier was possibly seen within
	// the ring's retention window.
	HasSeen(id string) (bool, error)
	// Snapshot captures the filter state asynchronously for
	// checkpointing; the caller decides when to await the result.
	Snapshot(ctx context.Context) *SnapshotFuture
	// Restore reloads the filter from a snapshot.
	Restore(ctx context.Context, snapshot *Snapshot) error
	// Close stops the rotation manager, closes the store and removes
	// the on-disk state. It is idempotent.
	Close() error
}

// lifecycle states of a filter instance.
const (
	stateInitializing int32 = iota
	stateActive
	stateClosing
	stateClosed
)

type bucket struct {
	id     string
	region store.Region
}

// ring is the immutable bucket ring value. The newest bucket is the
// last element and receives all insertions. MarkSeen and HasSeen load
// one ring value; writers (the rotation manager and restore) install a
// replacement with compare-and-swap, so a reader can never observe a
// current pointer referencing a bucket already evicted from the ring.
type ring struct {
	buckets []*bucket
}

func (r *ring) current() *bucket {
	return r.buckets[len(r.buckets)-1]
}

// RotatingFilter implements Filter over a persistent key-value engine.
type RotatingFilter struct {
	dir    string
	engine store.Engine
	opts   *options

	ring      atomic.Pointer[ring]
	inserted  atomic.Uint64
	lifecycle atomic.Int32

	stopCh chan struct{}
	doneCh chan struct{}

	log *zap.SugaredLogger
}

var _ Filter = (*RotatingFilter)(nil)

// NewRotatingFilter creates a filter over the engine rooted at dir and
// starts its rotation manager.
func NewRotatingFilter(ctx context.Context, dir string, engine store.Engine, opts ...Option) (*RotatingFilter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	f := &RotatingFilter{
		dir:    dir,
		engine: engine,
		opts:   o,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		log:    logging.FromContext(ctx).With("component", "dedupe-filter"),
	}
	f.lifecycle.Store(stateInitializing)

	first, err := f.newBucket()
	if err != nil {
		return nil, err
	}
	f.ring.Store(&ring{buckets: []*bucket{first}})
	f.lifecycle.Store(stateActive)

	go f.rotationLoop()
	return f, nil
}

// serializeID hashes an identifier to a fixed-width 16 byte key.
func serializeID(id string) []byte {
	h1, h2 := murmur3.Sum128([]byte(id))
	key := make([]byte, 16)
	for i := 0; i < 8; i++ {
		key[i] = byte(h1 >> (56 - 8*i))
		key[8+i] = byte(h2 >> (56 - 8*i))
	}
	return key
}

// MarkSeen inserts the identifier into the current bucket.
func (f *RotatingFilter) MarkSeen(id string) error {
	if f.lifecycle.Load() != stateActive {
		return ErrNotActive
	}
	f.inserted.Inc()
	return f.ring.Load().current().region.Put(serializeID(id), nil)
}

// HasSeen probes every bucket in the ring, newest first, and
// short-circuits on the first possible hit.
func (f *RotatingFilter) HasSeen(id string) (bool, error) {
	if f.lifecycle.Load() != stateActive {
		return false, ErrNotActive
	}
	key := serializeID(id)
	r := f.ring.Load()
	for i := len(r.buckets) - 1; i >= 0; i-- {
		seen, err := r.buckets[i].region.MayContain(key)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}

// Close signals the rotation manager, waits for its current cycle to
// finish, then closes the store and removes the instance directory.
// Invoking it again after close is a no-op.
func (f *RotatingFilter) Close() error {
	if !f.lifecycle.CompareAndSwap(stateActive, stateClosing) {
		return nil
	}
	close(f.stopCh)
	<-f.doneCh
	f.lifecycle.Store(stateClosed)

	err := f.engine.Close()
	if f.dir != "" {
		err = multierr.Append(err, os.RemoveAll(f.dir))
	}
	return err
}

// rotationLoop wakes every check interval and rotates once the
// insertion counter crosses the threshold. A failure within one cycle
// is logged and does not stop aging. The loop exits on the shutdown
// signal, guaranteeing no rotation runs concurrently with store
// closure.
func (f *RotatingFilter) rotationLoop() {
	defer close(f.doneCh)
	ticker := time.NewTicker(f.opts.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if f.inserted.Load() < f.opts.rotateEveryN {
				continue
			}
			if err := f.rotate(); err != nil {
				f.log.Errorw("Bucket rotation failed", zap.Error(err))
			}
		}
	}
}

// rotate appends a fresh bucket, evicts the oldest when the ring
// exceeds its bound, and resets the insertion counter. The new ring
// value is swapped in before the evicted bucket's storage is
// reclaimed, so in-flight probes that loaded the previous ring still
// hold a live region.
func (f *RotatingFilter) rotate() error {
	next, err := f.newBucket()
	if err != nil {
		return err
	}

	// restore also writes the ring pointer, so the swap must retry on
	// contention rather than clobber a concurrent replacement
	var evicted *bucket
	var size int
	for {
		old := f.ring.Load()
		buckets := make([]*bucket, 0, len(old.buckets)+1)
		buckets = append(buckets, old.buckets...)
		buckets = append(buckets, next)

		evicted = nil
		if len(buckets) > f.opts.maxBuckets {
			evicted = buckets[0]
			buckets = buckets[1:]
		}
		if f.ring.CompareAndSwap(old, &ring{buckets: buckets}) {
			size = len(buckets)
			break
		}
	}
	f.inserted.Store(0)

	if evicted != nil {
		if err := f.engine.DestroyRegion(evicted.id); err != nil {
			return fmt.Errorf("failed to reclaim bucket %s: %w", evicted.id, err)
		}
		f.log.Debugw("Evicted bucket", zap.String("bucket", evicted.id))
	}
	f.log.Debugw("Rotated to new bucket", zap.String("bucket", next.id), zap.Int("ring", size))
	return nil
}

func (f *RotatingFilter) newBucket() (*bucket, error) {
	id := uuid.New().String()
	region, err := f.engine.CreateRegion(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", id, err)
	}
	return &bucket{id: id, region: region}, nil
}
