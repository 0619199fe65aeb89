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

// Package windowing is the stateful execution engine of a task: it
// applies state events to windows, mutates extents in the state store,
// folds trigger state and fires refinement triggers. A single task
// thread drives it; store failures are fatal for the instance because
// partial windowing state is unsafe to continue from silently.
package windowing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/windrose-io/windrose/pkg/shared/logging"
	"github.com/windrose-io/windrose/pkg/state"
	"github.com/windrose-io/windrose/pkg/window"
)

// Executor applies state events to one window: extent mutation plus
// trigger evaluation. Emitted records accumulate in an internal buffer
// the dispatcher drains after each pass.
type Executor struct {
	win      *window.Window
	ext      window.Extension
	store    state.Store
	triggers []*Trigger
	emitted  []*window.Record
	log      *zap.SugaredLogger
}

// NewExecutor returns an executor over one window definition.
func NewExecutor(ctx context.Context, win *window.Window, ext window.Extension, store state.Store, triggers []*Trigger) *Executor {
	return &Executor{
		win:      win,
		ext:      ext,
		store:    store,
		triggers: triggers,
		log:      logging.FromContext(ctx).With("window", win.Name),
	}
}

// ApplyEvent applies one state event to the window. NewSegment events
// run extent application followed by trigger evaluation for the
// event's group; any other event evaluates every trigger for every
// known group, which drives timer-based firing independent of new
// data.
func (x *Executor) ApplyEvent(event *StateEvent) error {
	if !x.win.Grouped && event.GroupID != state.DefaultGroup {
		event = event.forGroup(state.GroupRef{ID: state.DefaultGroup})
	}
	if event.Type == NewSegment {
		if err := x.applyExtents(event); err != nil {
			return err
		}
		return x.segmentTriggers(event)
	}
	return x.allTriggers(event)
}

// Emitted returns the records emitted since the last Reset.
func (x *Executor) Emitted() []*window.Record {
	return x.emitted
}

// Reset clears the emission buffer.
func (x *Executor) Reset() {
	x.emitted = nil
}

// applyExtents computes the extent operation plan for the record and
// applies it in order against the store. Operations from one record
// are mutually exclusive per extent but must be applied sequentially
// because a merge chain reads the destination of the previous step.
func (x *Executor) applyExtents(event *StateEvent) error {
	record := event.Record
	timeIndex := x.ext.TimeIndex(record)
	event.TimeIndex = timeIndex

	existing, err := x.store.GroupExtents(x.win.Index, event.GroupID)
	if err != nil {
		return fmt.Errorf("failed to list extents: %w", err)
	}
	ops := x.ext.ExtentOps(existing, record, timeIndex)

	entry := x.win.CreateUpdate(record)
	event.TransitionEntry = entry

	// lazily accumulated windows recompute extent values from history,
	// so the entry is persisted unconditionally, update extents
	// included
	if x.win.Lazy {
		if err := x.store.PutStateEntry(x.win.Index, event.GroupID, timeIndex, entry); err != nil {
			return fmt.Errorf("failed to persist state entry: %w", err)
		}
	}

	event.UpdatedExtents = event.UpdatedExtents[:0]
	for _, op := range ops {
		switch op.Kind {
		case window.OpUpdate:
			if err := x.applyUpdate(event, op.Target, entry); err != nil {
				return err
			}
			event.UpdatedExtents = append(event.UpdatedExtents, op.Target)
		case window.OpMerge:
			if err := x.applyMerge(event, op.A, op.B, op.Target); err != nil {
				return err
			}
			remapUpdated(event, op.A, op.Target)
			remapUpdated(event, op.B, op.Target)
		case window.OpAlter:
			if err := x.applyAlter(event, op.From, op.Target); err != nil {
				return err
			}
			remapUpdated(event, op.From, op.Target)
		}
	}
	return nil
}

// remapUpdated follows an extent the record touched through a later
// merge or alter in the same plan, so triggers fire on the live key
// rather than one the plan already deleted.
func remapUpdated(event *StateEvent, from window.Extent, to window.Extent) {
	for i, e := range event.UpdatedExtents {
		if e == from {
			event.UpdatedExtents[i] = to
		}
	}
}

// applyUpdate folds the transition entry into the extent's value. The
// value is only materialized when the window accumulates incrementally
// or requires persisted per-extent state regardless (sessions).
func (x *Executor) applyUpdate(event *StateEvent, e window.Extent, entry interface{}) error {
	if !x.win.MaterializesExtents() {
		return nil
	}
	current, ok, err := x.store.GetExtent(x.win.Index, event.GroupID, e)
	if err != nil {
		return fmt.Errorf("failed to read extent %s: %w", e, err)
	}
	if !ok {
		current = x.win.Init()
	}
	next := x.win.ApplyUpdate(current, entry)
	if err := x.store.PutExtent(x.win.Index, event.GroupID, e, next); err != nil {
		return fmt.Errorf("failed to write extent %s: %w", e, err)
	}
	return nil
}

// applyMerge collapses a and b into merged in a single atomic store
// step; no partial-merge state is ever observable.
func (x *Executor) applyMerge(event *StateEvent, a window.Extent, b window.Extent, merged window.Extent) error {
	va, ok, err := x.store.GetExtent(x.win.Index, event.GroupID, a)
	if err != nil {
		return fmt.Errorf("failed to read extent %s: %w", a, err)
	}
	if !ok {
		va = x.win.Init()
	}
	vb, ok, err := x.store.GetExtent(x.win.Index, event.GroupID, b)
	if err != nil {
		return fmt.Errorf("failed to read extent %s: %w", b, err)
	}
	if !ok {
		vb = x.win.Init()
	}
	value := x.win.Merge(va, vb)
	if err := x.store.ReplaceExtents(x.win.Index, event.GroupID, []window.Extent{a, b}, merged, value); err != nil {
		return fmt.Errorf("failed to merge extents %s and %s into %s: %w", a, b, merged, err)
	}
	x.log.Debugw("Merged extents", zap.Stringer("a", a), zap.Stringer("b", b), zap.Stringer("merged", merged))
	return nil
}

// applyAlter moves a value from one extent key to another without
// transformation.
func (x *Executor) applyAlter(event *StateEvent, from window.Extent, to window.Extent) error {
	value, ok, err := x.store.GetExtent(x.win.Index, event.GroupID, from)
	if err != nil {
		return fmt.Errorf("failed to read extent %s: %w", from, err)
	}
	if !ok {
		return nil
	}
	if err := x.store.ReplaceExtents(x.win.Index, event.GroupID, []window.Extent{from}, to, value); err != nil {
		return fmt.Errorf("failed to alter extent %s to %s: %w", from, to, err)
	}
	return nil
}

// segmentTriggers evaluates every trigger once against the event's
// group.
func (x *Executor) segmentTriggers(event *StateEvent) error {
	for _, trigger := range x.triggers {
		if err := x.evalTrigger(event, trigger); err != nil {
			return err
		}
	}
	return nil
}

// allTriggers evaluates every trigger for every group known to its
// index; a timer tick has no associated group of its own.
func (x *Executor) allTriggers(event *StateEvent) error {
	for _, trigger := range x.triggers {
		refs, err := x.store.TriggerKeys(trigger.Index)
		if err != nil {
			return fmt.Errorf("failed to enumerate trigger groups: %w", err)
		}
		for _, ref := range refs {
			if err := x.evalTrigger(event.forGroup(ref), trigger); err != nil {
				return err
			}
		}
	}
	return nil
}

// evalTrigger folds the trigger state forward, persists it, then
// evaluates the fire predicate against the candidate extents. The
// advanced state is persisted before any fire side effects run, so a
// crash between the two can skip a firing on replay rather than repeat
// it.
func (x *Executor) evalTrigger(event *StateEvent, trigger *Trigger) error {
	triggerState, ok, err := x.store.GetTrigger(trigger.Index, event.GroupID)
	if err != nil {
		return fmt.Errorf("failed to read trigger state: %w", err)
	}
	if !ok {
		triggerState = trigger.Init()
	}
	triggerState = trigger.Next(triggerState, event)
	if err := x.store.PutTrigger(trigger.Index, event.GroupID, triggerState); err != nil {
		return fmt.Errorf("failed to persist trigger state: %w", err)
	}

	candidates := event.UpdatedExtents
	if event.Type != NewSegment || trigger.FireAllExtents {
		candidates, err = x.store.GroupExtents(x.win.Index, event.GroupID)
		if err != nil {
			return fmt.Errorf("failed to list extents: %w", err)
		}
	}

	for _, e := range candidates {
		fireEvent := *event
		fireEvent.Extent = e
		if trigger.Fire(triggerState, &fireEvent) {
			if err := x.fireExtent(&fireEvent, trigger, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// fireExtent applies the trigger's refinement to the extent's value,
// emits the payload, runs the sync hook, then applies the post-fire
// eviction policy.
func (x *Executor) fireExtent(event *StateEvent, trigger *Trigger, e window.Extent) error {
	value, err := x.extentValue(event, e)
	if err != nil {
		return err
	}
	if trigger.Refine != nil {
		value = trigger.Refine(value, event)
	}
	if trigger.Emit != nil {
		records, err := normalizeEmission(trigger.Emit(event, value))
		if err != nil {
			return err
		}
		x.emitted = append(x.emitted, records...)
	}
	if trigger.Sync != nil {
		if err := trigger.Sync(event, value); err != nil {
			return fmt.Errorf("trigger sync hook failed for extent %s: %w", e, err)
		}
	}
	if trigger.PostEvictor == EvictAll {
		return x.evictExtent(event, e)
	}
	return nil
}

// extentValue resolves the aggregate of an extent: the materialized
// value for incremental windows, or a fold over the state entries
// within the extent's bounds for lazy windows.
func (x *Executor) extentValue(event *StateEvent, e window.Extent) (interface{}, error) {
	if !x.win.Lazy {
		value, ok, err := x.store.GetExtent(x.win.Index, event.GroupID, e)
		if err != nil {
			return nil, fmt.Errorf("failed to read extent %s: %w", e, err)
		}
		if !ok {
			value = x.win.Init()
		}
		return value, nil
	}
	lower, upper := x.ext.Bounds(e)
	entries, err := x.store.GetStateEntries(x.win.Index, event.GroupID, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to read state entries for %s: %w", e, err)
	}
	value := x.win.Init()
	for _, entry := range entries {
		value = x.win.ApplyUpdate(value, entry.Value)
	}
	return value, nil
}

// evictExtent discards the extent's materialized value and, for lazy
// windows, every state entry within its bounds.
func (x *Executor) evictExtent(event *StateEvent, e window.Extent) error {
	if err := x.store.DeleteExtent(x.win.Index, event.GroupID, e); err != nil {
		return fmt.Errorf("failed to evict extent %s: %w", e, err)
	}
	if x.win.Lazy {
		lower, upper := x.ext.Bounds(e)
		if err := x.store.DeleteStateEntries(x.win.Index, event.GroupID, lower, upper); err != nil {
			return fmt.Errorf("failed to evict state entries for %s: %w", e, err)
		}
	}
	return nil
}
