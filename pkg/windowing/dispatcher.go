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
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/windrose-io/windrose/pkg/shared/logging"
	"github.com/windrose-io/windrose/pkg/state"
	"github.com/windrose-io/windrose/pkg/window"
)

// GroupFn extracts the grouping key from a record.
type GroupFn func(record *window.Record) string

// Dispatcher fans a state event out across every window of a task. The
// windows are independent but executed one after another in a fixed
// order so the shared emission buffers drain deterministically.
type Dispatcher struct {
	executors []*Executor
	store     state.Store
	// groupFn is nil for ungrouped tasks.
	groupFn GroupFn
	log     *zap.SugaredLogger
}

// NewDispatcher returns a dispatcher over the task's executors. groupFn
// may be nil when the task does not group by key.
func NewDispatcher(ctx context.Context, store state.Store, executors []*Executor, groupFn GroupFn) *Dispatcher {
	return &Dispatcher{
		executors: executors,
		store:     store,
		groupFn:   groupFn,
		log:       logging.FromContext(ctx),
	}
}

// ProcessSegment applies a batch of records to every window and
// returns the flattened emissions. Records carrying a failure are
// passed over.
func (d *Dispatcher) ProcessSegment(batch []*window.Record) ([]*window.Record, error) {
	for _, record := range batch {
		if record.Err != nil {
			d.log.Debugw("Skipping carried failure", zap.String("id", record.ID), zap.Error(record.Err))
			continue
		}
		event := &StateEvent{
			Type:    NewSegment,
			Record:  record,
			GroupID: state.DefaultGroup,
		}
		if d.groupFn != nil {
			key := d.groupFn(record)
			id, err := d.store.GroupIDFor(key)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve group id for %q: %w", key, err)
			}
			event.GroupID = id
			event.GroupKey = key
		}
		for _, x := range d.executors {
			if err := x.ApplyEvent(event); err != nil {
				return nil, err
			}
		}
	}
	return d.drain(), nil
}

// ProcessEvent drives the non-segment path: a timer tick is applied to
// every window without per-record grouping and the flattened emissions
// are returned.
func (d *Dispatcher) ProcessEvent(eventType EventType) ([]*window.Record, error) {
	event := &StateEvent{
		Type:    eventType,
		GroupID: state.DefaultGroup,
	}
	for _, x := range d.executors {
		if err := x.ApplyEvent(event); err != nil {
			return nil, err
		}
	}
	return d.drain(), nil
}

// drain collects and clears every executor's emission buffer, in
// executor order.
func (d *Dispatcher) drain() []*window.Record {
	var out []*window.Record
	for _, x := range d.executors {
		out = append(out, x.Emitted()...)
		x.Reset()
	}
	return out
}
