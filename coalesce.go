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

// coalesceUp inserts b onto class idx's free list and merges it upward with
// its buddy as far as it will go. The insertion and every subsequent buddy
// check happen under a single acquisition of that class's lock: a block is
// never left linked on a free list while unlocked without immediately using
// that same lock to examine it, so no concurrent mallocClass can pop it out
// from under a coalesce still in flight. Between classes the block is
// briefly on no free list at all (off every list is equivalent to
// invisible: nothing can reach it to race with us), which is what makes it
// safe to release one class's lock before acquiring the next — holding two
// class locks at once would risk deadlock against split, which walks
// classes in the opposite direction.
//
// Returns true if it reached the top class (the caller should then check
// whether the whole arena is free), false if it stopped because the buddy
// wasn't eligible to merge.
func (a *Allocator) coalesceUp(b *blockHeader, idx int) bool {
	for {
		d := &a.descs[idx]
		d.mu.Lock()
		d.freeList.InsertSorted(&b.elem)
		ar := blockToArena(b)
		ar.freeCnt++

		if idx == len(a.descs)-1 {
			d.mu.Unlock()
			return true
		}

		off := pageOffset(unsafe.Pointer(b))
		buddyIdx := (off - arenaHeaderSize) / d.blockSize

		var buddyElem *intrlist.Elem
		if buddyIdx%2 == 1 {
			buddyElem = intrlist.Prev(&b.elem)
			if d.freeList.IsHead(buddyElem) {
				d.mu.Unlock()
				return false
			}
		} else {
			buddyElem = intrlist.Next(&b.elem)
			if d.freeList.IsTail(buddyElem) {
				d.mu.Unlock()
				return false
			}
		}

		buddy := elemToBlock(buddyElem)
		bAddr := uintptr(unsafe.Pointer(b))
		budAddr := uintptr(unsafe.Pointer(buddy))
		dist := budAddr - bAddr
		if budAddr < bAddr {
			dist = bAddr - budAddr
		}
		if dist != d.blockSize {
			// Adjacent in the free list, but not actually the buddy pair.
			d.mu.Unlock()
			return false
		}

		intrlist.Remove(&b.elem)
		intrlist.Remove(buddyElem)
		ar.freeCnt -= 2
		d.mu.Unlock()

		parent, discarded := b, buddy
		if budAddr < bAddr {
			parent, discarded = buddy, b
		}
		if a.debug {
			fillBlock(discarded, d.blockSize)
		}
		parent.size = d.blockSize * 2

		b = parent
		idx++
	}
}

func fillBlock(b *blockHeader, size uintptr) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(b)), size)
	for i := range buf {
		buf[i] = blockFillByte
	}
}
