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

package window

import "fmt"

// Strategy represents the windowing strategy
type Strategy int

const (
	Fixed Strategy = iota
	Sliding
	Session
	Global
)

func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "Fixed"
	case Sliding:
		return "Sliding"
	case Session:
		return "Session"
	case Global:
		return "Global"
	default:
		return "Unknown"
	}
}

// Record is a single element flowing through the task. Time is the raw
// event time the extension derives the time index from, ID is the
// identifier used for deduplication, and Data carries the payload.
// A Record with a non-nil Err is a carried failure and is skipped by
// windowing.
type Record struct {
	ID   string
	Time int64
	Data map[string]interface{}
	Err  error
}

// InitFn returns the zero aggregate for a fresh extent.
type InitFn func() interface{}

// CreateUpdateFn derives the transition entry contributed by a record.
type CreateUpdateFn func(record *Record) interface{}

// ApplyUpdateFn folds a transition entry into an aggregate.
type ApplyUpdateFn func(state interface{}, entry interface{}) interface{}

// MergeFn combines the aggregates of two extents that collapse into one.
type MergeFn func(a interface{}, b interface{}) interface{}

// Window is the immutable definition of one window of a task. It is
// owned by task configuration and read-only during execution.
type Window struct {
	// Index uniquely identifies the window within the task and is
	// part of every storage key derived for it.
	Index int
	Name  string
	Type  Strategy
	// Grouped windows maintain per-group extents keyed by the group id
	// the dispatcher resolves for each record.
	Grouped bool
	// Lazy windows do not accumulate incrementally; every record is
	// persisted as a state entry and extent values are folded from the
	// entries within the extent bounds at fire time.
	Lazy bool

	Init         InitFn
	CreateUpdate CreateUpdateFn
	ApplyUpdate  ApplyUpdateFn
	Merge        MergeFn
}

// MaterializesExtents reports whether updates must persist the extent
// value. Incremental windows always do; session windows keep per-extent
// state even when lazy because merges operate on stored values.
func (w *Window) MaterializesExtents() bool {
	return !w.Lazy || w.Type == Session
}

// Extent is a window's addressable sub-range, [Lower, Upper). The pair
// is the storage key; the aggregated value lives in the state store.
type Extent struct {
	Lower int64
	Upper int64
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d)", e.Lower, e.Upper)
}

// OpKind is the kind of an extent operation produced by an Extension.
type OpKind int

const (
	// OpUpdate means the record contributes to the target extent.
	OpUpdate OpKind = iota
	// OpMerge collapses two extents into one.
	OpMerge
	// OpAlter rebounds an extent without transforming its value.
	OpAlter
)

func (k OpKind) String() string {
	switch k {
	case OpUpdate:
		return "Update"
	case OpMerge:
		return "Merge"
	case OpAlter:
		return "Alter"
	default:
		return "Unknown"
	}
}

// ExtentOp is one step of the plan an Extension produces for a record.
// Ops must be applied in the order produced; a merge chain relies on the
// destination of one step existing before the next step reads it.
type ExtentOp struct {
	Kind OpKind
	// Target is the extent being updated (OpUpdate) or created
	// (OpMerge, OpAlter).
	Target Extent
	// A and B are the source extents of an OpMerge.
	A Extent
	B Extent
	// From is the source extent of an OpAlter.
	From Extent
}

// UpdateOp plans a record contribution to extent e.
func UpdateOp(e Extent) ExtentOp {
	return ExtentOp{Kind: OpUpdate, Target: e}
}

// MergeOp plans the collapse of a and b into merged.
func MergeOp(a Extent, b Extent, merged Extent) ExtentOp {
	return ExtentOp{Kind: OpMerge, A: a, B: b, Target: merged}
}

// AlterOp plans the move of from's value to to.
func AlterOp(from Extent, to Extent) ExtentOp {
	return ExtentOp{Kind: OpAlter, From: from, Target: to}
}

// Extension computes, per window type, where records land. The executor
// is written against this contract only; the per-type bounds and merge
// math live in pkg/window/strategy.
type Extension interface {
	// TimeIndex computes the time index of a record.
	TimeIndex(record *Record) int64
	// ExtentOps returns the ordered plan of extent operations for the
	// record given the extents currently live for its group.
	ExtentOps(existing []Extent, record *Record, timeIndex int64) []ExtentOp
	// Bounds returns the [lower, upper) time-index bounds of an extent.
	Bounds(e Extent) (int64, int64)
}

// TimeFn extracts the raw time index from a record. Strategies default
// to the record's Time field.
type TimeFn func(record *Record) int64

// DefaultTimeFn reads Record.Time.
func DefaultTimeFn(record *Record) int64 {
	return record.Time
}
