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

// Package fixed implements the extension for fixed (tumbling) windows.
// Fixed windows are defined by a static length; every record lands in
// exactly one extent, left inclusive and right exclusive, so an element
// on the boundary falls into the extent to the right of the boundary.
package fixed

import (
	"github.com/windrose-io/windrose/pkg/window"
)

// Fixed computes extents of a static temporal length.
type Fixed struct {
	length int64
	timeFn window.TimeFn
}

var _ window.Extension = (*Fixed)(nil)

// NewFixed returns a fixed window extension of the given length.
func NewFixed(length int64, opts ...Option) *Fixed {
	f := &Fixed{
		length: length,
		timeFn: window.DefaultTimeFn,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Option customizes the extension.
type Option func(*Fixed)

// WithTimeFn overrides how the time index is derived from a record.
func WithTimeFn(fn window.TimeFn) Option {
	return func(f *Fixed) {
		f.timeFn = fn
	}
}

func (f *Fixed) TimeIndex(record *window.Record) int64 {
	return f.timeFn(record)
}

// ExtentOps assigns the record to the single extent covering its time
// index. Fixed windows never merge or alter.
func (f *Fixed) ExtentOps(_ []window.Extent, _ *window.Record, timeIndex int64) []window.ExtentOp {
	lower := floorMultiple(timeIndex, f.length)
	return []window.ExtentOp{
		window.UpdateOp(window.Extent{Lower: lower, Upper: lower + f.length}),
	}
}

func (f *Fixed) Bounds(e window.Extent) (int64, int64) {
	return e.Lower, e.Upper
}

// floorMultiple rounds t down to a multiple of length, correct for
// negative time indices as well.
func floorMultiple(t int64, length int64) int64 {
	lower := (t / length) * length
	if t < 0 && t%length != 0 {
		lower -= length
	}
	return lower
}
