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

package dedupe

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SnapshotVersion is the schema version stamped on snapshots; restore
// rejects anything else.
const SnapshotVersion = 1

// Entry is one captured key-value pair.
type Entry struct {
	Key   []byte
	Value []byte
}

// Snapshot is a point-in-time capture of a filter usable for
// checkpoint persistence and later restore.
type Snapshot struct {
	Version int
	// Bucket is the current bucket's handle at capture time.
	Bucket string
	// Inserted is the insertion counter at capture time.
	Inserted uint64
	Entries  []Entry
}

// SnapshotFuture is the handle to an in-flight capture.
type SnapshotFuture struct {
	done     chan struct{}
	snapshot *Snapshot
	err      error
}

// Result blocks until the capture completes or the context is done.
func (f *SnapshotFuture) Result(ctx context.Context) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.snapshot, f.err
	}
}

func failedFuture(err error) *SnapshotFuture {
	f := &SnapshotFuture{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Snapshot captures the bucket ring under a store-level point-in-time
// view. The enumeration runs asynchronously so checkpoint dispatch is
// not blocked; it reads every region the captured ring writes into,
// not a single default namespace.
func (f *RotatingFilter) Snapshot(ctx context.Context) *SnapshotFuture {
	if f.lifecycle.Load() != stateActive {
		return failedFuture(ErrNotActive)
	}
	// re-read until the ring is stable across the counter read, so the
	// captured bucket and counter belong to the same rotation interval
	r := f.ring.Load()
	inserted := f.inserted.Load()
	for {
		reread := f.ring.Load()
		if reread == r {
			break
		}
		r = reread
		inserted = f.inserted.Load()
	}
	snapshot := &Snapshot{
		Version:  SnapshotVersion,
		Bucket:   r.current().id,
		Inserted: inserted,
	}
	view, err := f.engine.View()
	if err != nil {
		return failedFuture(fmt.Errorf("failed to open snapshot view: %w", err))
	}

	future := &SnapshotFuture{done: make(chan struct{})}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			_ = view.Close()
		}()
		for _, b := range r.buckets {
			err := view.Iterate(b.id, func(key []byte, value []byte) error {
				k := make([]byte, len(key))
				copy(k, key)
				v := make([]byte, len(value))
				copy(v, value)
				snapshot.Entries = append(snapshot.Entries, Entry{Key: k, Value: v})
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to enumerate bucket %s: %w", b.id, err)
			}
		}
		return nil
	})
	go func() {
		defer close(future.done)
		if err := g.Wait(); err != nil {
			future.err = err
			return
		}
		future.snapshot = snapshot
	}()
	return future
}

// Restore resets the insertion counter and current bucket from the
// snapshot, reclaims the buckets it replaces, then re-inserts every
// captured pair into the restored bucket. A structurally invalid
// snapshot is a fatal restore error.
func (f *RotatingFilter) Restore(_ context.Context, snapshot *Snapshot) error {
	if f.lifecycle.Load() != stateActive {
		return ErrNotActive
	}
	if snapshot == nil || snapshot.Version != SnapshotVersion || snapshot.Bucket == "" {
		return fmt.Errorf("structurally invalid snapshot, cannot restore")
	}
	region, err := f.engine.CreateRegion(snapshot.Bucket)
	if err != nil {
		return fmt.Errorf("failed to restore bucket %s: %w", snapshot.Bucket, err)
	}
	// swap with compare-and-swap so a rotation racing the restore cannot
	// store a ring built from the pre-restore value back over this one
	restored := &ring{buckets: []*bucket{{id: snapshot.Bucket, region: region}}}
	var dropped *ring
	for {
		old := f.ring.Load()
		if f.ring.CompareAndSwap(old, restored) {
			dropped = old
			break
		}
	}
	f.inserted.Store(snapshot.Inserted)
	// the dropped buckets left the ring for good, reclaim their storage
	for _, b := range dropped.buckets {
		if b.id == snapshot.Bucket {
			continue
		}
		if err := f.engine.DestroyRegion(b.id); err != nil {
			return fmt.Errorf("failed to reclaim bucket %s: %w", b.id, err)
		}
	}
	for _, entry := range snapshot.Entries {
		if err := region.Put(entry.Key, entry.Value); err != nil {
			return fmt.Errorf("failed to restore entry: %w", err)
		}
	}
	return nil
}
