package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *engine {
	t.Helper()
	e, err := NewEngine(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
	})
	return e.(*engine)
}

func TestEngine_RegionMembership(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRegion("r1")
	require.NoError(t, err)

	seen, err := r.MayContain([]byte("k"))
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, r.Put([]byte("k"), nil))
	seen, err = r.MayContain([]byte("k"))
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestEngine_RegionsAreIsolated(t *testing.T) {
	e := newTestEngine(t)
	r1, err := e.CreateRegion("r1")
	require.NoError(t, err)
	r2, err := e.CreateRegion("r2")
	require.NoError(t, err)

	require.NoError(t, r1.Put([]byte("k"), nil))

	seen, err := r2.MayContain([]byte("k"))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEngine_DestroyRegionReclaims(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRegion("r1")
	require.NoError(t, err)
	require.NoError(t, r.Put([]byte("k"), nil))

	require.NoError(t, e.DestroyRegion("r1"))

	seen, err := r.MayContain([]byte("k"))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEngine_ViewIteratesRegionInKeyOrder(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRegion("r1")
	require.NoError(t, err)
	require.NoError(t, r.Put([]byte("b"), []byte("2")))
	require.NoError(t, r.Put([]byte("a"), []byte("1")))

	v, err := e.View()
	require.NoError(t, err)
	defer func() {
		_ = v.Close()
	}()

	var keys, values []string
	require.NoError(t, v.Iterate("r1", func(k []byte, val []byte) error {
		keys = append(keys, string(k))
		values = append(values, string(val))
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []string{"1", "2"}, values)
}

func TestEngine_ViewIsPointInTime(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRegion("r1")
	require.NoError(t, err)
	require.NoError(t, r.Put([]byte("a"), nil))

	v, err := e.View()
	require.NoError(t, err)
	defer func() {
		_ = v.Close()
	}()
	require.NoError(t, r.Put([]byte("b"), nil))

	var count int
	require.NoError(t, v.Iterate("r1", func(_ []byte, _ []byte) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}
