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

// arenaHeader is the first bytes of every page this allocator owns,
// split or huge. It is addressed in place inside page memory, never
// copied.
type arenaHeader struct {
	elem intrlist.Elem // registry linkage; unused for huge arenas

	magic uint32 // always arenaMagic once initialized

	// desc is non-nil for split pages (in which case it always points at
	// &descs[0], the table base — per pintos, the arena doesn't remember
	// which class it was split for, only that it was split at all; free()
	// recovers the exact class from the block header's size field) and nil
	// for huge-block pages.
	desc *descriptor

	// freeCnt, for split pages, starts at the top class's blocksPerArena
	// when the page is installed as one maximal free block, and goes up by
	// one for every block of this arena put on a free list and down by one
	// for every block taken off; it is back at blocksPerArena exactly when
	// the page is once more a single free top-class block. For huge pages
	// it is the number of pages the allocation spans.
	freeCnt int
}

var arenaHeaderSize = unsafe.Sizeof(arenaHeader{})

// blockHeader is the first bytes of every block this allocator hands out,
// while free (for the list linkage) and, for split-page blocks, while
// allocated too (so Free can recover the block's class without consulting
// the arena).
type blockHeader struct {
	elem intrlist.Elem // free-list linkage, meaningful only while free
	size uintptr       // current size-class of this block, in bytes
}

var blockHeaderSize = unsafe.Sizeof(blockHeader{})

func arenaAt(p unsafe.Pointer) *arenaHeader { return (*arenaHeader)(p) }

func blockAt(p unsafe.Pointer) *blockHeader { return (*blockHeader)(p) }

// blockToArena recovers and validates the arena a block lives in. Any
// dereference of a user pointer goes through here, per spec: a bad magic
// or misaligned offset is fatal corruption, never recovered from.
func blockToArena(b *blockHeader) *arenaHeader {
	a := arenaAt(roundPageDown(unsafe.Pointer(b)))
	if a.magic != arenaMagic {
		panic("kballoc: corrupted arena (bad magic)")
	}
	// Huge-arena user pointers have no block header of their own (the
	// "block" abstraction only exists for split pages): b is just
	// p-blockHeaderSize, used solely to recover `a` via page rounding, so
	// there is nothing further to validate when a.desc == nil.
	if a.desc != nil {
		off := pageOffset(unsafe.Pointer(b))
		if (off-arenaHeaderSize)%b.size != 0 {
			panic("kballoc: corrupted block (misaligned for its size class)")
		}
	}
	return a
}

// elemToBlock recovers the blockHeader that embeds e as its list element.
// Valid because blockHeader.elem is always the first field.
func elemToBlock(e *intrlist.Elem) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(e))
}

// elemToArena recovers the arenaHeader that embeds e as its list element
// (used for registry entries).
func elemToArena(e *intrlist.Elem) *arenaHeader {
	return (*arenaHeader)(unsafe.Pointer(e))
}

// blockAtOffset returns a pointer to the block living at byte offset
// `off` within arena a's page (off measured from the page's own start,
// i.e. it already includes arenaHeaderSize for the first block).
func blockAtOffset(a *arenaHeader, off uintptr) *blockHeader {
	return blockAt(unsafe.Add(roundPageDown(unsafe.Pointer(a)), off))
}
