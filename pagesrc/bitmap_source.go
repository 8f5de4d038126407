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

package pagesrc

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/voidkernel/kballoc/cache/slab"
)

// pageShift is log2(PageSize); PageSize is required to be a power of two.
const pageShift = 12

func init() {
	if 1<<pageShift != PageSize {
		panic("pagesrc: PageSize is not 1<<pageShift")
	}
}

// BitmapSource is a Source backed by one bit per page over a contiguous
// byte arena obtained from cache/slab. It adapts unsafex/malloc.BitmapAllocator's
// bitmap-plus-contiguous-run design: that type bitmaps variable-size blocks
// with a per-allocation magic+size header, while BitmapSource specializes
// the same design to a single fixed block size (PageSize) with no
// per-page header, since kballoc's own arena header owns that job once
// the page is handed over.
type BitmapSource struct {
	mu sync.Mutex

	arena      []byte
	bitmap     []byte
	pagesStart unsafe.Pointer
	numPages   int
	nextIdx    int
}

// NewBitmapSource creates a page source able to serve at least minPages
// pages. The backing arena is requested from cache/slab and is rounded up
// to whatever that pool's size classes provide.
func NewBitmapSource(minPages int) (*BitmapSource, error) {
	if minPages <= 0 {
		return nil, fmt.Errorf("pagesrc: minPages must be positive, got %d", minPages)
	}

	// Solve for a bitmap region (1 bit/page) plus minPages worth of pages,
	// same sizing approach as BitmapAllocator: bitmapBytes*8*PageSize >=
	// pageBytes, rounded up to a whole page so pages start page-aligned.
	pageBytes := minPages * PageSize
	bitmapBytes := (pageBytes + 8*PageSize) / (8*PageSize + 1)
	bitmapSize := ((bitmapBytes + PageSize - 1) / PageSize) * PageSize

	// cache/slab (like the Go heap generally) makes no alignment promise,
	// but pages must be PageSize-aligned. Over-request by up to one page
	// and carve the bitmap+pages region out of the arena starting at the
	// first page-aligned address it contains.
	total := bitmapSize + pageBytes
	arena := slab.Get(total + PageSize - 1)

	rawStart := uintptr(unsafe.Pointer(&arena[0]))
	alignedStart := (rawStart + PageSize - 1) &^ uintptr(PageSize-1)
	pad := int(alignedStart - rawStart)

	numPages := (len(arena) - pad - bitmapSize) / PageSize
	if numPages < minPages {
		slab.Put(arena)
		return nil, fmt.Errorf("pagesrc: slab too small for %d pages", minPages)
	}

	s := &BitmapSource{
		arena:      arena,
		bitmap:     arena[pad : pad+bitmapSize],
		pagesStart: unsafe.Add(unsafe.Pointer(&arena[0]), pad+bitmapSize),
		numPages:   numPages,
	}
	for i := range s.bitmap {
		s.bitmap[i] = 0
	}
	return s, nil
}

// Close returns the backing arena to cache/slab. The source must not be
// used afterward.
func (s *BitmapSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	slab.Put(s.arena)
	s.arena = nil
}

// AcquirePage implements Source.
func (s *BitmapSource) AcquirePage() unsafe.Pointer {
	return s.AcquirePages(1)
}

// AcquirePages implements Source.
func (s *BitmapSource) AcquirePages(n int) unsafe.Pointer {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx int
	if n == 1 {
		idx = s.findFreeBit(s.nextIdx)
		if idx == -1 && s.nextIdx > 0 {
			idx = s.findFreeBit(0)
		}
		if idx == -1 {
			return nil
		}
		s.bitmap[idx>>3] |= 1 << (idx & 7)
	} else {
		idx = s.findFreeRun(s.nextIdx, n)
		if idx == -1 && s.nextIdx > 0 {
			idx = s.findFreeRun(0, n)
		}
		if idx == -1 {
			return nil
		}
		s.setRun(idx, n, true)
	}
	s.nextIdx = idx + n
	if s.nextIdx >= s.numPages {
		s.nextIdx = 0
	}
	return unsafe.Add(s.pagesStart, idx<<pageShift)
}

// ReleasePage implements Source.
func (s *BitmapSource) ReleasePage(p unsafe.Pointer) {
	s.ReleasePages(p, 1)
}

// ReleasePages implements Source.
func (s *BitmapSource) ReleasePages(p unsafe.Pointer, n int) {
	if p == nil || n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := int(uintptr(p) - uintptr(s.pagesStart))
	if offset < 0 || offset>>pageShift >= s.numPages {
		panic("pagesrc: page not owned by this source")
	}
	if offset&(PageSize-1) != 0 {
		panic("pagesrc: misaligned page release")
	}
	idx := offset >> pageShift
	if n == 1 {
		s.bitmap[idx>>3] &^= 1 << (idx & 7)
		return
	}
	s.setRun(idx, n, false)
}

func (s *BitmapSource) findFreeBit(start int) int {
	n := len(s.bitmap)
	byteIdx := start >> 3
	bitIdx := start & 7

	if bitIdx != 0 && byteIdx < n {
		b := s.bitmap[byteIdx] | (byte(1<<bitIdx) - 1)
		if b != 0xFF {
			idx := byteIdx<<3 + bits.TrailingZeros8(^b)
			if idx < s.numPages {
				return idx
			}
			return -1
		}
		byteIdx++
	}

	for ; byteIdx < n; byteIdx++ {
		if s.bitmap[byteIdx] != 0xFF {
			idx := byteIdx<<3 + bits.TrailingZeros8(^s.bitmap[byteIdx])
			if idx < s.numPages {
				return idx
			}
			return -1
		}
	}
	return -1
}

func (s *BitmapSource) findFreeRun(start, need int) int {
	runStart, runLen := -1, 0
	for i := start; i < s.numPages; i++ {
		if s.isSet(i) {
			runStart, runLen = -1, 0
			continue
		}
		if runStart == -1 {
			runStart = i
		}
		runLen++
		if runLen >= need {
			return runStart
		}
	}
	return -1
}

func (s *BitmapSource) isSet(idx int) bool {
	return s.bitmap[idx>>3]&(1<<(idx&7)) != 0
}

func (s *BitmapSource) setRun(idx, n int, set bool) {
	for i := idx; i < idx+n; i++ {
		if set {
			s.bitmap[i>>3] |= 1 << (i & 7)
		} else {
			s.bitmap[i>>3] &^= 1 << (i & 7)
		}
	}
}

// AvailablePages returns the number of free pages, for diagnostics.
func (s *BitmapSource) AvailablePages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	free := 0
	for i := 0; i < s.numPages; i++ {
		if !s.isSet(i) {
			free++
		}
	}
	return free
}
