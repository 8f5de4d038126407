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
	"math"
	"unsafe"
)

// Calloc returns a zero-initialized a*b byte region, or nil on overflow or
// out-of-memory.
func (a *Allocator) Calloc(na, nb int) unsafe.Pointer {
	if na < 0 || nb < 0 {
		return nil
	}
	size, overflow := mulOverflows(uint64(na), uint64(nb))
	if overflow {
		return nil
	}
	if size > uint64(math.MaxInt) {
		return nil
	}
	p := a.Malloc(int(size))
	if p == nil {
		return nil
	}
	zero(p, uintptr(size))
	return p
}

func mulOverflows(x, y uint64) (result uint64, overflow bool) {
	if x == 0 || y == 0 {
		return 0, false
	}
	result = x * y
	return result, result/y != x
}

func zero(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}

// blockSizeOf returns the number of bytes usable at p, i.e. the block's
// current size class minus its header, or, for a huge block, the bytes of
// all its pages minus the arena header. Used by Realloc to decide how much
// to copy forward.
func (a *Allocator) blockSizeOf(p unsafe.Pointer) uintptr {
	b := blockAt(unsafe.Add(p, -int(blockHeaderSize)))
	ar := blockToArena(b)
	if ar.desc == nil {
		return uintptr(ar.freeCnt)*PageSize - arenaHeaderSize
	}
	return b.size - blockHeaderSize
}

// Realloc resizes the region at old to newSize bytes, possibly moving it.
// newSize == 0 is equivalent to Free(old), returning nil. old == nil is
// equivalent to Malloc(newSize). On allocation failure the original
// region is left untouched and Realloc returns nil.
func (a *Allocator) Realloc(old unsafe.Pointer, newSize int) unsafe.Pointer {
	if newSize == 0 {
		a.Free(old)
		return nil
	}

	newPtr := a.Malloc(newSize)
	if old != nil && newPtr != nil {
		oldSize := a.blockSizeOf(old)
		n := uintptr(newSize)
		if oldSize < n {
			n = oldSize
		}
		copyBytes(newPtr, old, n)
		a.Free(old)
	}
	return newPtr
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
