// Package memory provides the in-memory Store used for tests and for
// tasks whose windowing state fits in process memory and is rebuilt
// from replay on restart.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/windrose-io/windrose/pkg/state"
	"github.com/windrose-io/windrose/pkg/window"
)

type extentKey struct {
	windowIndex int
	group       state.GroupID
	extent      window.Extent
}

type groupKey struct {
	windowIndex int
	group       state.GroupID
}

type triggerKey struct {
	triggerIndex int
	group        state.GroupID
}

// memoryStore implements state.Store with plain maps. A single RWMutex
// makes ReplaceExtents atomic for readers.
type memoryStore struct {
	mu       sync.RWMutex
	extents  map[extentKey]interface{}
	entries  map[groupKey][]state.Entry
	triggers map[triggerKey]interface{}
	// groups maps trigger index to the refs known to it, in first-seen
	// order.
	groups map[int][]state.GroupRef
	// keys maps a grouping key to its derived id.
	keys map[string]state.GroupID
	// ids retains the reverse mapping for TriggerKeys.
	ids map[state.GroupID]string
}

var _ state.Store = (*memoryStore)(nil)

// NewStore returns a new in-memory state store.
func NewStore() state.Store {
	return &memoryStore{
		extents:  make(map[extentKey]interface{}),
		entries:  make(map[groupKey][]state.Entry),
		triggers: make(map[triggerKey]interface{}),
		groups:   make(map[int][]state.GroupRef),
		keys:     make(map[string]state.GroupID),
		ids:      make(map[state.GroupID]string),
	}
}

func (m *memoryStore) GetExtent(windowIndex int, group state.GroupID, e window.Extent) (interface{}, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.extents[extentKey{windowIndex, group, e}]
	return v, ok, nil
}

func (m *memoryStore) PutExtent(windowIndex int, group state.GroupID, e window.Extent, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extents[extentKey{windowIndex, group, e}] = value
	return nil
}

func (m *memoryStore) DeleteExtent(windowIndex int, group state.GroupID, e window.Extent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.extents, extentKey{windowIndex, group, e})
	return nil
}

func (m *memoryStore) GroupExtents(windowIndex int, group state.GroupID) ([]window.Extent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var extents []window.Extent
	for k := range m.extents {
		if k.windowIndex == windowIndex && k.group == group {
			extents = append(extents, k.extent)
		}
	}
	sort.Slice(extents, func(i, j int) bool {
		if extents[i].Lower != extents[j].Lower {
			return extents[i].Lower < extents[j].Lower
		}
		return extents[i].Upper < extents[j].Upper
	})
	return extents, nil
}

func (m *memoryStore) ReplaceExtents(windowIndex int, group state.GroupID, deletes []window.Extent, put window.Extent, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range deletes {
		delete(m.extents, extentKey{windowIndex, group, e})
	}
	m.extents[extentKey{windowIndex, group, put}] = value
	return nil
}

func (m *memoryStore) PutStateEntry(windowIndex int, group state.GroupID, t int64, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := groupKey{windowIndex, group}
	entries := m.entries[k]
	entry := state.Entry{Time: t, Value: value}
	// keep entries ordered by time; appends are the common case because
	// records mostly arrive in order
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Time > t })
	entries = append(entries, state.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	m.entries[k] = entries
	return nil
}

func (m *memoryStore) GetStateEntries(windowIndex int, group state.GroupID, lower int64, upper int64) ([]state.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []state.Entry
	for _, entry := range m.entries[groupKey{windowIndex, group}] {
		if entry.Time >= lower && entry.Time < upper {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteStateEntries(windowIndex int, group state.GroupID, lower int64, upper int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := groupKey{windowIndex, group}
	entries := m.entries[k]
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Time < lower || entry.Time >= upper {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(m.entries, k)
		return nil
	}
	m.entries[k] = kept
	return nil
}

func (m *memoryStore) GetTrigger(triggerIndex int, group state.GroupID) (interface{}, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.triggers[triggerKey{triggerIndex, group}]
	return v, ok, nil
}

func (m *memoryStore) PutTrigger(triggerIndex int, group state.GroupID, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := triggerKey{triggerIndex, group}
	if _, seen := m.triggers[k]; !seen {
		m.groups[triggerIndex] = append(m.groups[triggerIndex], state.GroupRef{ID: group, Key: m.ids[group]})
	}
	m.triggers[k] = value
	return nil
}

func (m *memoryStore) TriggerKeys(triggerIndex int) ([]state.GroupRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]state.GroupRef, len(m.groups[triggerIndex]))
	copy(refs, m.groups[triggerIndex])
	return refs, nil
}

// GroupIDFor derives a stable id by hashing the grouping key. The hash
// keeps storage keys fixed-width regardless of key size.
func (m *memoryStore) GroupIDFor(key string) (state.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.keys[key]; ok {
		return id, nil
	}
	id := state.GroupID(fmt.Sprintf("%016x", xxhash.Sum64String(key)))
	m.keys[key] = id
	m.ids[id] = key
	return id, nil
}
