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

package windowing

import (
	"github.com/windrose-io/windrose/pkg/state"
	"github.com/windrose-io/windrose/pkg/window"
)

// EventType classifies a state event.
type EventType int

const (
	// NewSegment is a state event carrying a new record.
	NewSegment EventType = iota
	// Timer is a data-less tick that drives timer-based trigger firing.
	Timer
)

func (t EventType) String() string {
	switch t {
	case NewSegment:
		return "NewSegment"
	case Timer:
		return "Timer"
	default:
		return "Unknown"
	}
}

// StateEvent threads one pass of windowing: the event type, the record
// (nil for non-segment events), the resolved group, and the extents
// the record's extent operations updated.
type StateEvent struct {
	Type     EventType
	Record   *window.Record
	GroupID  state.GroupID
	GroupKey string
	// TimeIndex is the record's computed time index, valid for
	// NewSegment events after extent application.
	TimeIndex int64
	// TransitionEntry is the entry derived from the record by the
	// window's create-update function.
	TransitionEntry interface{}
	// UpdatedExtents are the extents that received an update operation
	// from the current record.
	UpdatedExtents []window.Extent
	// Extent is the extent under evaluation during trigger firing.
	Extent window.Extent
}

// forGroup returns a copy of the event retargeted at another group,
// used when timer events are fanned out across all known groups.
func (e *StateEvent) forGroup(ref state.GroupRef) *StateEvent {
	clone := *e
	clone.GroupID = ref.ID
	clone.GroupKey = ref.Key
	clone.UpdatedExtents = nil
	return &clone
}
