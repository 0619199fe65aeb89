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

// Package session implements the extension for session windows. A
// session window is defined by a gap; a record opens a span
// [t, t+gap) and any live extents within the gap of that span collapse
// into it, which is the only source of merge operations in the core.
package session

import (
	"sort"

	"github.com/windrose-io/windrose/pkg/window"
)

// Session computes session spans and the merge chain a record induces.
type Session struct {
	gap    int64
	timeFn window.TimeFn
}

var _ window.Extension = (*Session)(nil)

// NewSession returns a session window extension with the given gap.
func NewSession(gap int64, opts ...Option) *Session {
	s := &Session{
		gap:    gap,
		timeFn: window.DefaultTimeFn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option customizes the extension.
type Option func(*Session)

// WithTimeFn overrides how the time index is derived from a record.
func WithTimeFn(fn window.TimeFn) Option {
	return func(s *Session) {
		s.timeFn = fn
	}
}

func (s *Session) TimeIndex(record *window.Record) int64 {
	return s.timeFn(record)
}

// ExtentOps opens the record's span and then merges, in chronological
// order, every existing extent that touches it. The plan starts with an
// update so the span exists before the first merge reads it; each merge
// step's destination feeds the next step as a source.
func (s *Session) ExtentOps(existing []window.Extent, _ *window.Record, timeIndex int64) []window.ExtentOp {
	target := window.Extent{Lower: timeIndex, Upper: timeIndex + s.gap}

	var touching []window.Extent
	for _, e := range existing {
		if e == target {
			continue
		}
		if e.Lower <= target.Upper && target.Lower <= e.Upper {
			touching = append(touching, e)
		}
	}
	sort.Slice(touching, func(i, j int) bool {
		return touching[i].Lower < touching[j].Lower
	})

	ops := []window.ExtentOp{window.UpdateOp(target)}
	cur := target
	for _, e := range touching {
		merged := span(cur, e)
		ops = append(ops, window.MergeOp(cur, e, merged))
		cur = merged
	}
	return ops
}

func (s *Session) Bounds(e window.Extent) (int64, int64) {
	return e.Lower, e.Upper
}

func span(a window.Extent, b window.Extent) window.Extent {
	m := a
	if b.Lower < m.Lower {
		m.Lower = b.Lower
	}
	if b.Upper > m.Upper {
		m.Upper = b.Upper
	}
	return m
}
