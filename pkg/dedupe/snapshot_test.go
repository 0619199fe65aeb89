package dedupe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-io/windrose/pkg/dedupe/store"
)

// restore(snapshot()) with no intervening writes reproduces identical
// membership answers, the captured bucket pointer and the captured
// insertion counter.
func TestSnapshot_RoundTrip(t *testing.T) {
	f := newTestFilter(t, WithMaxBuckets(5))

	var ids []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("id-%d", i)
		ids = append(ids, id)
		require.NoError(t, f.MarkSeen(id))
		if i%7 == 6 {
			require.NoError(t, f.rotate())
		}
	}
	inserted := f.inserted.Load()

	snapshot, err := f.Snapshot(context.Background()).Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, snapshot.Version)
	assert.Equal(t, f.ring.Load().current().id, snapshot.Bucket)
	assert.Equal(t, inserted, snapshot.Inserted)
	assert.Len(t, snapshot.Entries, 20)

	other := newTestFilter(t)
	require.NoError(t, other.Restore(context.Background(), snapshot))

	for _, id := range ids {
		seen, err := other.HasSeen(id)
		require.NoError(t, err)
		assert.True(t, seen, "lost %s across restore", id)
	}
	assert.Equal(t, snapshot.Bucket, other.ring.Load().current().id)
	assert.Equal(t, snapshot.Inserted, other.inserted.Load())
}

// The capture enumerates the regions the captured ring writes into, so
// ids spread across several buckets all land in the snapshot.
func TestSnapshot_CoversAllBuckets(t *testing.T) {
	f := newTestFilter(t, WithMaxBuckets(5))

	require.NoError(t, f.MarkSeen("A"))
	require.NoError(t, f.rotate())
	require.NoError(t, f.MarkSeen("B"))
	require.NoError(t, f.rotate())
	require.NoError(t, f.MarkSeen("C"))

	snapshot, err := f.Snapshot(context.Background()).Result(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Entries, 3)
}

// Writes after the view is taken are not part of the capture.
func TestSnapshot_IsPointInTime(t *testing.T) {
	f := newTestFilter(t)

	require.NoError(t, f.MarkSeen("A"))
	future := f.Snapshot(context.Background())
	require.NoError(t, f.MarkSeen("B"))

	snapshot, err := future.Result(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Entries, 1)
}

// The restored ring survives a rotation manager that is actively
// swapping the ring while the restore runs, and follow-up rotations
// build on the restored value instead of a stale one.
func TestRestore_WithActiveRotation(t *testing.T) {
	f := newTestFilter(t, WithRotateEveryN(1), WithCheckInterval(time.Millisecond))

	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("id-%d", i)
		ids = append(ids, id)
		require.NoError(t, f.MarkSeen(id))
	}
	snapshot, err := f.Snapshot(context.Background()).Result(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.Restore(context.Background(), snapshot))
	require.NoError(t, f.MarkSeen("post-restore"))

	// the counter came back over threshold, so the manager rotates again
	require.Eventually(t, func() bool {
		return f.ring.Load().current().id != snapshot.Bucket
	}, time.Second, time.Millisecond)

	for _, id := range ids {
		seen, err := f.HasSeen(id)
		require.NoError(t, err)
		assert.True(t, seen, "lost %s to a rotation racing the restore", id)
	}
}

// Buckets replaced by a restore have their regions destroyed, not just
// dropped from the ring.
func TestRestore_ReclaimsDroppedBuckets(t *testing.T) {
	f := newTestFilter(t, WithMaxBuckets(5))

	require.NoError(t, f.MarkSeen("A"))
	require.NoError(t, f.rotate())
	require.NoError(t, f.MarkSeen("B"))
	require.NoError(t, f.rotate())
	require.NoError(t, f.MarkSeen("C"))

	var dropped []string
	for _, b := range f.ring.Load().buckets {
		dropped = append(dropped, b.id)
	}
	snapshot, err := f.Snapshot(context.Background()).Result(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.Restore(context.Background(), snapshot))

	for _, id := range dropped {
		if id == snapshot.Bucket {
			continue
		}
		assert.ErrorIs(t, f.engine.DestroyRegion(id), store.ErrNoRegion)
	}
	for _, id := range []string{"A", "B", "C"} {
		seen, err := f.HasSeen(id)
		require.NoError(t, err)
		assert.True(t, seen)
	}
}

// The captured counter belongs to the captured bucket, not to whichever
// bucket was current when the counter happened to be read.
func TestSnapshot_PairsBucketWithCounter(t *testing.T) {
	f := newTestFilter(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.MarkSeen(fmt.Sprintf("id-%d", i)))
	}
	require.NoError(t, f.rotate())
	require.NoError(t, f.MarkSeen("fresh"))

	snapshot, err := f.Snapshot(context.Background()).Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.ring.Load().current().id, snapshot.Bucket)
	assert.Equal(t, uint64(1), snapshot.Inserted)
}

func TestRestore_RejectsInvalidSnapshot(t *testing.T) {
	f := newTestFilter(t)

	assert.Error(t, f.Restore(context.Background(), nil))
	assert.Error(t, f.Restore(context.Background(), &Snapshot{Version: 99, Bucket: "b"}))
	assert.Error(t, f.Restore(context.Background(), &Snapshot{Version: SnapshotVersion}))
}
