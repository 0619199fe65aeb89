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

// Package store defines the persistent key-value engine contract the
// dedup filter is written against. Engines expose namespaced regions;
// each filter bucket owns one region and the rotation manager creates
// and destroys regions as the bucket ring turns over.
package store

import "errors"

var (
	// ErrClosed is returned for operations on a closed engine.
	ErrClosed = errors.New("store is closed")
	// ErrNoRegion is returned when an operation targets a region that
	// does not exist.
	ErrNoRegion = errors.New("region does not exist")
)

// Engine is a key-value store rooted at a directory.
type Engine interface {
	// CreateRegion allocates a namespaced region.
	CreateRegion(name string) (Region, error)
	// DestroyRegion reclaims a region's storage.
	DestroyRegion(name string) error
	// View opens a consistent point-in-time read view spanning all
	// regions. The caller must close it.
	View() (View, error)
	// Close releases the engine. Pending views become invalid.
	Close() error
}

// Region is one namespaced membership set.
type Region interface {
	// Name returns the region's name.
	Name() string
	// Put inserts a key-value pair. The dedup filter stores empty
	// values; only key membership matters.
	Put(key []byte, value []byte) error
	// MayContain reports whether the region possibly contains the key.
	// False positives are allowed at the engine's configured error
	// rate; false negatives are not.
	MayContain(key []byte) (bool, error)
}

// View is a consistent snapshot of the engine taken at open time;
// writes after View() are not visible through it.
type View interface {
	// Iterate calls fn with every key-value pair of a region in key
	// order, stopping on the first error.
	Iterate(region string, fn func(key []byte, value []byte) error) error
	// Close releases the view.
	Close() error
}
