package dedupe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/windrose-io/windrose/pkg/dedupe/store"
	"github.com/windrose-io/windrose/pkg/dedupe/store/memory"
)

func newTestFilter(t *testing.T, opts ...Option) *RotatingFilter {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "filter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := NewRotatingFilter(context.Background(), dir, memory.NewEngine(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.Close()
	})
	return f
}

func TestFilter_MarkAndProbe(t *testing.T) {
	f := newTestFilter(t)

	seen, err := f.HasSeen("id-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, f.MarkSeen("id-1"))
	seen, err = f.HasSeen("id-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

// No false negatives within the retention window: every id inserted
// across rotations is still reported seen while its bucket lives.
func TestFilter_SoundWithinRetention(t *testing.T) {
	f := newTestFilter(t, WithMaxBuckets(10))

	var ids []string
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("id-%d", i)
		ids = append(ids, id)
		require.NoError(t, f.MarkSeen(id))
		if i%10 == 9 {
			require.NoError(t, f.rotate())
		}
	}

	for _, id := range ids {
		seen, err := f.HasSeen(id)
		require.NoError(t, err)
		assert.True(t, seen, "lost %s within retention", id)
	}
}

// The ring never exceeds max buckets and the oldest bucket's storage
// is reclaimed when evicted.
func TestFilter_RingBound(t *testing.T) {
	f := newTestFilter(t, WithMaxBuckets(3))

	var bucketIDs []string
	for i := 0; i < 6; i++ {
		bucketIDs = append(bucketIDs, f.ring.Load().current().id)
		require.NoError(t, f.rotate())
		assert.LessOrEqual(t, len(f.ring.Load().buckets), 3)
	}

	// the first buckets are gone from the engine entirely
	err := f.engine.DestroyRegion(bucketIDs[0])
	assert.ErrorIs(t, err, store.ErrNoRegion)
}

// max-buckets=2 with rotation between each insert: A is forgotten once
// its bucket is evicted, B and C remain.
func TestFilter_EvictionForgetsOldest(t *testing.T) {
	f := newTestFilter(t, WithMaxBuckets(2))

	require.NoError(t, f.MarkSeen("A"))
	require.NoError(t, f.rotate()) // ring: [A, cur]
	require.NoError(t, f.MarkSeen("B"))
	require.NoError(t, f.rotate()) // ring full: A's bucket evicted
	require.NoError(t, f.MarkSeen("C"))

	seen, err := f.HasSeen("A")
	require.NoError(t, err)
	assert.False(t, seen)

	for _, id := range []string{"B", "C"} {
		seen, err := f.HasSeen(id)
		require.NoError(t, err)
		assert.True(t, seen)
	}
}

// The background manager rotates once the insertion counter crosses
// the threshold and resets the counter.
func TestFilter_BackgroundRotation(t *testing.T) {
	f := newTestFilter(t,
		WithRotateEveryN(1),
		WithCheckInterval(time.Millisecond))

	first := f.ring.Load().current().id
	require.NoError(t, f.MarkSeen("A"))

	require.Eventually(t, func() bool {
		return f.ring.Load().current().id != first
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(0), f.inserted.Load())

	seen, err := f.HasSeen("A")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFilter_CloseStopsRotationLoop(t *testing.T) {
	// glog (an indirect dependency via badger) starts a flush daemon in
	// its package init; it is not a goroutine owned by the filter.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"))

	dir := filepath.Join(t.TempDir(), "filter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := NewRotatingFilter(context.Background(), dir, memory.NewEngine(), WithCheckInterval(time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, f.MarkSeen("A"))
	require.NoError(t, f.Close())

	// directory is removed on close
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestFilter_CloseIsIdempotent(t *testing.T) {
	f := newTestFilter(t)
	require.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}

func TestFilter_ClosedRejectsOperations(t *testing.T) {
	f := newTestFilter(t)
	require.NoError(t, f.Close())

	assert.ErrorIs(t, f.MarkSeen("A"), ErrNotActive)
	_, err := f.HasSeen("A")
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = f.Snapshot(context.Background()).Result(context.Background())
	assert.ErrorIs(t, err, ErrNotActive)
	assert.ErrorIs(t, f.Restore(context.Background(), nil), ErrNotActive)
}

func TestSerializeID_FixedWidth(t *testing.T) {
	assert.Len(t, serializeID(""), 16)
	assert.Len(t, serializeID("a-rather-long-record-identifier-0123456789"), 16)
	assert.Equal(t, serializeID("x"), serializeID("x"))
	assert.NotEqual(t, serializeID("x"), serializeID("y"))
}
