/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kballoc

import (
	"errors"

	"github.com/voidkernel/kballoc/internal/intrlist"
	"github.com/voidkernel/kballoc/pagesrc"
)

// ErrOutOfMemory is returned (wrapped, where an error return exists) when
// the page source has no more pages to give. Malloc/Calloc/Realloc signal
// the same condition by returning a nil pointer.
var ErrOutOfMemory = errors.New("kballoc: out of memory")

// Allocator is one independent buddy allocator instance: a descriptor
// table, an arena registry, and the page source beneath it. pintos treats
// the descriptor table and registry as process-wide globals; this module
// encapsulates them in a value so a process can run more than one (pintos
// itself only ever has one, reached through package-level functions).
type Allocator struct {
	pages pagesrc.Source
	descs []descriptor

	// registry is the arena registry: one entry per owned split page. It
	// is mutated only while holding the top class's lock — there is
	// deliberately no separate registry mutex.
	registry intrlist.List

	// debug, when true, enables the fill-on-coalesce pattern and the
	// double-free quarantine ring.
	debug bool
	quar  *quarantine
}

// New creates an allocator drawing pages from src. Equivalent to pintos'
// malloc_init, generalized to take an explicit page source instead of
// reaching for a single global one.
func New(src pagesrc.Source) *Allocator {
	return newAllocator(src, false)
}

// NewDebug is New with the use-after-free fill pattern and double-free
// quarantine ring enabled.
func NewDebug(src pagesrc.Source) *Allocator {
	return newAllocator(src, true)
}

func newAllocator(src pagesrc.Source, debug bool) *Allocator {
	a := &Allocator{
		pages: src,
		descs: buildDescriptors(),
		debug: debug,
	}
	a.registry.Init()
	if debug {
		a.quar = newQuarantine(64)
	}
	return a
}

func (a *Allocator) topClass() *descriptor { return &a.descs[len(a.descs)-1] }

// registerArena appends a's registry element to the registry. Caller must
// hold topClass().mu.
func (a *Allocator) registerArena(ah *arenaHeader) {
	a.registry.PushBack(&ah.elem)
}

// unregisterArena removes a's registry element. Caller must hold
// topClass().mu.
func (a *Allocator) unregisterArena(ah *arenaHeader) {
	intrlist.Remove(&ah.elem)
}
