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
	"unsafe"

	"github.com/voidkernel/kballoc/internal/intrlist"
)

// Free releases a region previously returned by Malloc/Calloc/Realloc.
// p == nil is a no-op. Passing a pointer this allocator didn't hand out,
// or one already freed, is caller misuse outside the allocator's
// contract; in a NewDebug allocator, a double free of a split-page block
// still in the quarantine ring is caught and panics instead of silently
// corrupting a live block. Huge blocks are released before the quarantine
// is consulted, so their double frees are not caught.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	b := blockAt(unsafe.Add(p, -int(blockHeaderSize)))
	ar := blockToArena(b)

	if ar.desc == nil {
		a.pages.ReleasePages(unsafe.Pointer(ar), ar.freeCnt)
		return
	}

	if a.debug {
		a.quar.checkAndRecord(p)
	}

	size := b.size
	idx := classFor(a.descs, size)
	if idx == -1 || a.descs[idx].blockSize != size {
		panic("kballoc: corrupted block header (size outside legal class range)")
	}

	// coalesceUp performs the free-list insertion itself, under idx's lock,
	// so there is no gap here where b sits on a free list without anyone
	// holding the lock that protects it.
	if !a.coalesceUp(b, idx) {
		return
	}
	a.releaseIfFullyFree(ar)
}

// releaseIfFullyFree removes ar from the registry and returns its page to
// the page source if coalescing merged it back into a single top-class
// block. Caller has already confirmed coalesceUp reached the top class.
func (a *Allocator) releaseIfFullyFree(ar *arenaHeader) {
	top := a.topClass()
	top.mu.Lock()
	if ar.freeCnt != top.blocksPerArena {
		top.mu.Unlock()
		return
	}
	for e := top.freeList.Begin(); e != top.freeList.End(); e = intrlist.Next(e) {
		blk := elemToBlock(e)
		if roundPageDown(unsafe.Pointer(blk)) == unsafe.Pointer(ar) {
			intrlist.Remove(e)
			a.unregisterArena(ar)
			break
		}
	}
	top.mu.Unlock()
	a.pages.ReleasePage(unsafe.Pointer(ar))
}
