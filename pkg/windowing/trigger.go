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
	"github.com/windrose-io/windrose/pkg/window"
)

// Evictor is the post-fire eviction policy of a trigger.
type Evictor int

const (
	// EvictNone leaves extent state in place after a fire so the
	// extent can fire again (accumulate mode).
	EvictNone Evictor = iota
	// EvictAll discards the extent's value and, for lazily accumulated
	// windows, the state entries within its bounds (discard mode).
	EvictAll
)

func (e Evictor) String() string {
	switch e {
	case EvictNone:
		return "None"
	case EvictAll:
		return "All"
	default:
		return "Unknown"
	}
}

// TriggerInitFn returns the initial trigger state for a group.
type TriggerInitFn func() interface{}

// NextStateFn folds trigger state forward across one state event. It
// must be a pure fold: replaying the same events from the same initial
// state yields the same final state and fire decisions.
type NextStateFn func(triggerState interface{}, event *StateEvent) interface{}

// FireFn decides whether the trigger fires for the extent carried on
// the event.
type FireFn func(triggerState interface{}, event *StateEvent) bool

// RefineFn transforms an extent's aggregate before emission when the
// trigger carries its own update/apply pair distinct from the window's.
type RefineFn func(value interface{}, event *StateEvent) interface{}

// EmitFn computes the emission payload for a fired extent. The payload
// must be a *window.Record or a []*window.Record; anything else is a
// configuration error.
type EmitFn func(event *StateEvent, value interface{}) interface{}

// SyncFn is a synchronous side-effect hook invoked on every fire.
type SyncFn func(event *StateEvent, value interface{}) error

// Trigger is the policy deciding, per state event, whether to refine
// and emit window state, independent of the window's own accumulation.
// Trigger state persists per (Index, group) and survives extents.
type Trigger struct {
	// Index uniquely identifies the trigger within the task.
	Index int
	Init  TriggerInitFn
	Next  NextStateFn
	Fire  FireFn
	// FireAllExtents evaluates the fire predicate against every live
	// extent of the group instead of only the extents the current
	// record touched.
	FireAllExtents bool
	// Refine is optional.
	Refine RefineFn
	// Emit is optional; a trigger without it only advances state and
	// runs Sync.
	Emit EmitFn
	// Sync is optional.
	Sync SyncFn
	// PostEvictor selects accumulate vs discard refinement mode.
	PostEvictor Evictor
}

// normalizeEmission coerces an emission payload into records. A nil
// payload emits nothing.
func normalizeEmission(payload interface{}) ([]*window.Record, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case *window.Record:
		return []*window.Record{p}, nil
	case []*window.Record:
		return p, nil
	default:
		return nil, &EmissionError{Payload: payload}
	}
}
