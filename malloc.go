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

import "unsafe"

// Malloc returns an n-byte region, or nil if n is 0 or no memory is
// available. Mirrors pintos malloc(): size 0 yields nil without touching
// any state.
func (a *Allocator) Malloc(n int) unsafe.Pointer {
	if n <= 0 {
		return nil
	}
	need := uintptr(n) + blockHeaderSize
	idx := classFor(a.descs, need)
	if idx == -1 {
		return a.mallocHuge(uintptr(n))
	}
	return a.mallocClass(idx)
}

// mallocHuge serves requests too large for the top size class.
func (a *Allocator) mallocHuge(n uintptr) unsafe.Pointer {
	pageCnt := int((n + arenaHeaderSize + PageSize - 1) / PageSize)
	p := a.pages.AcquirePages(pageCnt)
	if p == nil {
		return nil
	}
	ah := arenaAt(p)
	ah.magic = arenaMagic
	ah.desc = nil
	ah.freeCnt = pageCnt
	return unsafe.Add(p, arenaHeaderSize)
}

// mallocClass serves requests that fit the split-block path.
func (a *Allocator) mallocClass(idx int) unsafe.Pointer {
	for {
		d := &a.descs[idx]
		d.mu.Lock()
		if !d.freeList.Empty() {
			e := d.freeList.PopFront()
			b := elemToBlock(e)
			ar := blockToArena(b)
			ar.freeCnt--
			d.mu.Unlock()
			p := unsafe.Add(unsafe.Pointer(b), blockHeaderSize)
			if a.debug {
				// p is live again: drop it from the quarantine so its next
				// legitimate Free is not mistaken for a double free.
				a.quar.mu.Lock()
				a.quar.r.Do(func(v *uintptr) {
					if *v == uintptr(p) {
						*v = 0
					}
				})
				a.quar.mu.Unlock()
			}
			return p
		}
		d.mu.Unlock()

		// Scan classes strictly larger than idx for the first non-empty
		// free list. Each class is locked only long enough to read
		// Empty(), never two at once.
		found := -1
		for t := idx + 1; t < len(a.descs); t++ {
			dt := &a.descs[t]
			dt.mu.Lock()
			empty := dt.freeList.Empty()
			dt.mu.Unlock()
			if !empty {
				found = t
				break
			}
		}

		if found != -1 {
			// split's bool result only distinguishes "split happened" from
			// "another goroutine grabbed t's block first"; either way the
			// right move is to retry step 1 from the top.
			a.split(found, idx)
			continue
		}

		if !a.refillTopClass() {
			return nil // out of memory; no state was mutated
		}
		continue
	}
}

// split breaks one block at class t down to class d, inserting every
// sibling produced along the way. Returns false if t's free list was
// empty by the time split acquired its lock (a concurrent allocation beat
// us to it); the caller should rescan rather than treat this as failure.
func (a *Allocator) split(t, d int) bool {
	top := &a.descs[t]
	top.mu.Lock()
	if top.freeList.Empty() {
		top.mu.Unlock()
		return false
	}
	e := top.freeList.PopFront()
	b := elemToBlock(e)
	ar := blockToArena(b)
	ar.freeCnt--
	top.mu.Unlock()

	for cur := t; cur > d; cur-- {
		child := &a.descs[cur-1]
		childSize := child.blockSize

		b1 := b
		b2 := blockAt(unsafe.Add(unsafe.Pointer(b1), childSize))
		b1.size = childSize
		b2.size = childSize

		child.mu.Lock()
		ar1 := blockToArena(b1)
		child.freeList.InsertSorted(&b1.elem)
		ar1.freeCnt++
		ar2 := blockToArena(b2)
		child.freeList.InsertSorted(&b2.elem)
		ar2.freeCnt++

		if cur-1 == d {
			// Base case: both children stay on d's free list for the
			// caller to pop.
			child.mu.Unlock()
			break
		}

		// Recurse: pop one block back off this class before splitting it
		// again, exactly as the entry step above did at class t. Any free
		// block of this class serves equally well, so the front of the
		// (still address-sorted) list is as good as b1 itself.
		e := child.freeList.PopFront()
		b = elemToBlock(e)
		ar = blockToArena(b)
		ar.freeCnt--
		child.mu.Unlock()
	}
	return true
}

// refillTopClass obtains one fresh page from the page source, installs it
// as a single maximal free block on the top class, and registers the
// arena.
func (a *Allocator) refillTopClass() bool {
	top := a.topClass()
	p := a.pages.AcquirePage()
	if p == nil {
		return false
	}
	ah := arenaAt(p)
	ah.magic = arenaMagic
	ah.desc = &a.descs[0]

	b := blockAtOffset(ah, arenaHeaderSize)
	b.size = top.blockSize

	top.mu.Lock()
	ah.freeCnt = top.blocksPerArena
	a.registerArena(ah)
	top.freeList.InsertSorted(&b.elem)
	top.mu.Unlock()
	return true
}
