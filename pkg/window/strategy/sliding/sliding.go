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

// Package sliding implements the extension for sliding windows. A
// sliding window is defined by a length and a slide interval; a record
// contributes to every extent whose range covers its time index, so a
// single record fans out to length/slide extents.
package sliding

import (
	"github.com/windrose-io/windrose/pkg/window"
)

// Sliding computes the overlapping extents covering a time index.
type Sliding struct {
	length int64
	slide  int64
	timeFn window.TimeFn
}

var _ window.Extension = (*Sliding)(nil)

// NewSliding returns a sliding window extension.
func NewSliding(length int64, slide int64, opts ...Option) *Sliding {
	s := &Sliding{
		length: length,
		slide:  slide,
		timeFn: window.DefaultTimeFn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option customizes the extension.
type Option func(*Sliding)

// WithTimeFn overrides how the time index is derived from a record.
func WithTimeFn(fn window.TimeFn) Option {
	return func(s *Sliding) {
		s.timeFn = fn
	}
}

func (s *Sliding) TimeIndex(record *window.Record) int64 {
	return s.timeFn(record)
}

// ExtentOps updates every extent [k*slide, k*slide+length) that covers
// the time index, earliest first.
func (s *Sliding) ExtentOps(_ []window.Extent, _ *window.Record, timeIndex int64) []window.ExtentOp {
	// start of the latest window that still covers timeIndex
	latest := floorMultiple(timeIndex, s.slide)

	var ops []window.ExtentOp
	for lower := latest; lower > timeIndex-s.length; lower -= s.slide {
		ops = append(ops, window.UpdateOp(window.Extent{Lower: lower, Upper: lower + s.length}))
	}
	// reverse so earlier extents come first
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

func (s *Sliding) Bounds(e window.Extent) (int64, int64) {
	return e.Lower, e.Upper
}

func floorMultiple(t int64, step int64) int64 {
	lower := (t / step) * step
	if t < 0 && t%step != 0 {
		lower -= step
	}
	return lower
}
