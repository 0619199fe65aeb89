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

// Package state defines the durable storage contract of the windowing
// core. The executor is written against Store only; backing engines
// implement it per storage technology.
package state

import (
	"github.com/windrose-io/windrose/pkg/window"
)

// GroupID is the stable storage identifier derived from a grouping key.
// The id keys all per-group state; the raw key is retained alongside it
// only for callback context.
type GroupID string

// DefaultGroup is the group id space used by ungrouped windows.
const DefaultGroup GroupID = ""

// GroupRef pairs a group id with the grouping key it was derived from.
type GroupRef struct {
	ID  GroupID
	Key string
}

// Entry is one state entry: an append-only fact recorded for a group at
// a time index, folded to recompute lazily accumulated extents.
type Entry struct {
	Time  int64
	Value interface{}
}

// Store provides keyed storage for extent values, state entries and
// trigger state. Implementations are used by a single task thread; they
// do not need to be safe for concurrent writers but must keep
// ReplaceExtents atomic on disk so a crash mid-merge cannot leave both
// or neither value present.
type Store interface {
	// GetExtent returns the live value of an extent, reporting whether
	// one exists.
	GetExtent(windowIndex int, group GroupID, e window.Extent) (interface{}, bool, error)
	// PutExtent stores the value of an extent.
	PutExtent(windowIndex int, group GroupID, e window.Extent, value interface{}) error
	// DeleteExtent removes an extent's value.
	DeleteExtent(windowIndex int, group GroupID, e window.Extent) error
	// GroupExtents returns the extents currently live for a group.
	GroupExtents(windowIndex int, group GroupID) ([]window.Extent, error)
	// ReplaceExtents deletes the given extents and stores value at put
	// as one atomic step; no intermediate state is observable.
	ReplaceExtents(windowIndex int, group GroupID, deletes []window.Extent, put window.Extent, value interface{}) error

	// PutStateEntry appends a state entry at a time index.
	PutStateEntry(windowIndex int, group GroupID, t int64, value interface{}) error
	// GetStateEntries returns the entries with lower <= t < upper in
	// time order, insertion order within one time index.
	GetStateEntries(windowIndex int, group GroupID, lower int64, upper int64) ([]Entry, error)
	// DeleteStateEntries removes the entries with lower <= t < upper.
	DeleteStateEntries(windowIndex int, group GroupID, lower int64, upper int64) error

	// GetTrigger returns the trigger state for a group, reporting
	// whether one exists.
	GetTrigger(triggerIndex int, group GroupID) (interface{}, bool, error)
	// PutTrigger stores the trigger state for a group.
	PutTrigger(triggerIndex int, group GroupID, value interface{}) error
	// TriggerKeys enumerates every group known to a trigger index.
	TriggerKeys(triggerIndex int) ([]GroupRef, error)

	// GroupIDFor derives the stable group id for a grouping key,
	// creating the mapping on first use.
	GroupIDFor(groupKey string) (GroupID, error)
}
