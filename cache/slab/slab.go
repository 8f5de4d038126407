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

// Package slab hands out and recycles the large contiguous byte arenas that
// pagesrc.BitmapSource bitmaps into PageSize pages. It is a size-classed
// sync.Pool, one pool per power-of-two arena size, with a magic+index
// footer written after the usable bytes so Get/Put can tell which pool a
// buffer came from without the caller tracking it separately.
//
// A kballoc.Allocator's arenas come and go as pages are split and
// coalesced, but the underlying slab a BitmapSource manages is requested
// once at construction and released once on Close; pooling it here means
// repeatedly constructing and tearing down allocators (as stress and the
// test suite do) reuses slabs instead of pressuring the Go heap.
package slab

import (
	"math/bits"
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

type pool struct {
	sync.Pool
	Size int
}

var pools []*pool

const (
	minPoolSize = 4 << 10  // 4KB: matches kballoc's PageSize, the smallest slab ever requested
	maxPoolSize = 1 << 30  // 1GB: generous ceiling for a single process's arena footprint
	footerLen   = 8
)

const (
	footerMagicMask = uint64(0xFFFFFFFFFFFFFFC0) // 58 bits
	footerIndexMask = uint64(0x000000000000003F) // 6 bits
	footerMagic     = uint64(0xBADC0DEBADC0DEC0)  // ends in 6 zero bits, used by index
)

var bits2idx [64]int

func init() {
	i := 0
	for sz := minPoolSize; sz <= maxPoolSize; sz <<= 1 {
		p := &pool{Size: sz}
		p.New = func() interface{} {
			// dirtmake skips the zero-fill make() would do: every byte here
			// gets overwritten by bitmap bookkeeping or caller data before
			// it's ever read, so the zeroing is pure waste.
			b := dirtmake.Bytes(p.Size, p.Size)
			return &b[0]
		}
		pools = append(pools, p)
		bits2idx[bits.Len(uint(p.Size))] = i
		i++
	}
}

func poolIndex(sz int) int {
	if sz <= minPoolSize {
		return 0
	}
	i := bits2idx[bits.Len(uint(sz))]
	if uint(sz)&(uint(sz)-1) == 0 {
		return i
	}
	return i + 1
}

type sliceHeader struct {
	Data unsafe.Pointer
	Len  int
	Cap  int
}

// Get returns a byte slice whose capacity is at least size, backed by a
// pooled buffer when one of the right class is available. The returned
// bytes are not zeroed.
func Get(size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	c := size + footerLen
	i := poolIndex(c)
	if i >= len(pools) {
		panic("slab: requested size exceeds maxPoolSize")
	}
	p := pools[i]
	ptr := p.Get().(*byte)

	ret := []byte{}
	h := (*sliceHeader)(unsafe.Pointer(&ret))
	h.Data = unsafe.Pointer(ptr)
	h.Len = size
	h.Cap = p.Size

	*(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen)) = footerMagic | uint64(i)
	return ret
}

// Cap returns the max length buf can be resized to without losing the
// footer. Panics if buf was not obtained from Get.
func Cap(buf []byte) int {
	if cap(buf)-len(buf) < footerLen || footerOf(buf)&footerMagicMask != footerMagic {
		panic("slab: buf not obtained from Get, or its len changed without using Cap")
	}
	return cap(buf) - footerLen
}

// Put returns buf to its pool. Buffers not obtained from Get, or already
// put back, are silently ignored: a caller passing a foreign slice should
// not crash the allocator.
func Put(buf []byte) {
	c := cap(buf)
	if c < minPoolSize {
		return
	}
	if uint(c)&uint(c-1) != 0 {
		return
	}
	size := len(buf)
	if c-size < footerLen {
		return
	}
	footer := footerOf(buf)
	if footer&footerMagicMask != footerMagic {
		return
	}
	i := int(footer & footerIndexMask)
	if i < len(pools) {
		if p := pools[i]; p.Size == c {
			// Clear the footer so a second Put of this same buffer is ignored.
			h := (*sliceHeader)(unsafe.Pointer(&buf))
			*(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen)) = 0
			p.Put(&buf[0])
		}
	}
}

func footerOf(buf []byte) uint64 {
	h := (*sliceHeader)(unsafe.Pointer(&buf))
	return *(*uint64)(unsafe.Add(h.Data, h.Cap-footerLen))
}
