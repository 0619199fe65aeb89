package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/windrose-io/windrose/pkg/window"
)

func TestSession_FreshSpan(t *testing.T) {
	s := NewSession(10)

	ops := s.ExtentOps(nil, nil, 5)
	assert.Len(t, ops, 1)
	assert.Equal(t, window.OpUpdate, ops[0].Kind)
	assert.Equal(t, window.Extent{Lower: 5, Upper: 15}, ops[0].Target)
}

func TestSession_MergesTouchingExtent(t *testing.T) {
	s := NewSession(10)
	existing := []window.Extent{{Lower: 1, Upper: 11}}

	ops := s.ExtentOps(existing, nil, 5)
	assert.Len(t, ops, 2)
	assert.Equal(t, window.OpUpdate, ops[0].Kind)
	assert.Equal(t, window.Extent{Lower: 5, Upper: 15}, ops[0].Target)

	assert.Equal(t, window.OpMerge, ops[1].Kind)
	assert.Equal(t, window.Extent{Lower: 5, Upper: 15}, ops[1].A)
	assert.Equal(t, window.Extent{Lower: 1, Upper: 11}, ops[1].B)
	assert.Equal(t, window.Extent{Lower: 1, Upper: 15}, ops[1].Target)
}

func TestSession_MergeChainIsChronological(t *testing.T) {
	s := NewSession(10)
	// a record landing between two live sessions collapses all three
	existing := []window.Extent{{Lower: 16, Upper: 26}, {Lower: 0, Upper: 10}}

	ops := s.ExtentOps(existing, nil, 8)
	assert.Len(t, ops, 3)
	assert.Equal(t, window.Extent{Lower: 8, Upper: 18}, ops[0].Target)

	assert.Equal(t, window.OpMerge, ops[1].Kind)
	assert.Equal(t, window.Extent{Lower: 0, Upper: 10}, ops[1].B)
	assert.Equal(t, window.Extent{Lower: 0, Upper: 18}, ops[1].Target)

	assert.Equal(t, window.OpMerge, ops[2].Kind)
	assert.Equal(t, window.Extent{Lower: 0, Upper: 18}, ops[2].A)
	assert.Equal(t, window.Extent{Lower: 16, Upper: 26}, ops[2].B)
	assert.Equal(t, window.Extent{Lower: 0, Upper: 26}, ops[2].Target)
}

func TestSession_DisjointExtentUntouched(t *testing.T) {
	s := NewSession(5)
	existing := []window.Extent{{Lower: 100, Upper: 105}}

	ops := s.ExtentOps(existing, nil, 5)
	assert.Len(t, ops, 1)
	assert.Equal(t, window.OpUpdate, ops[0].Kind)
}
