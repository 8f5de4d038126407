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

// End-to-end reproductions of the allocator's documented acceptance
// scenarios: a growing realloc, realloc to zero and from nil, out-of-memory
// propagation, and calloc. The fresh-split, partial-coalesce and huge-block
// scenarios are in malloc_test.go, and coalescing back to a page release is
// in free_test.go.
package kballoc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidkernel/kballoc/pagesrc"
)

// refusingSource wraps a real pagesrc.Source but can be switched to refuse
// every request, to reproduce an exhausted page source deterministically.
type refusingSource struct {
	inner  pagesrc.Source
	refuse bool
}

func (s *refusingSource) AcquirePage() unsafe.Pointer {
	if s.refuse {
		return nil
	}
	return s.inner.AcquirePage()
}

func (s *refusingSource) AcquirePages(n int) unsafe.Pointer {
	if s.refuse {
		return nil
	}
	return s.inner.AcquirePages(n)
}

func (s *refusingSource) ReleasePage(p unsafe.Pointer) { s.inner.ReleasePage(p) }

func (s *refusingSource) ReleasePages(p unsafe.Pointer, n int) { s.inner.ReleasePages(p, n) }

func TestScenarioRealloGrowPreservesPrefix(t *testing.T) {
	// Growing a live allocation via Realloc must preserve its original
	// bytes even though the data physically moves to a larger class.
	a, _ := newTestAllocator(t, 4, false)

	p := a.Malloc(16)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 16)
	for i := range buf {
		buf[i] = 0xA5
	}

	q := a.Realloc(p, 64)
	require.NotNil(t, q)

	qb := blockAt(unsafe.Add(q, -int(blockHeaderSize)))
	idx := classFor(a.descs, 64+blockHeaderSize)
	assert.Equal(t, a.descs[idx].blockSize, qb.size)

	got := unsafe.Slice((*byte)(q), 16)
	for i, v := range got {
		assert.Equalf(t, byte(0xA5), v, "byte %d", i)
	}

	a.Free(q)
}

func TestScenarioReallocToZeroFrees(t *testing.T) {
	a, _ := newTestAllocator(t, 4, false)
	p := a.Malloc(32)
	require.NotNil(t, p)
	assert.Nil(t, a.Realloc(p, 0))
}

func TestScenarioReallocNilActsAsMalloc(t *testing.T) {
	a, _ := newTestAllocator(t, 4, false)
	p := a.Realloc(nil, 32)
	require.NotNil(t, p)
	a.Free(p)
}

func TestScenarioOutOfMemoryLeavesStateUnchanged(t *testing.T) {
	// A page source rigged to refuse must make malloc return nil without
	// mutating any free list.
	src, err := pagesrc.NewBitmapSource(4)
	require.NoError(t, err)
	t.Cleanup(src.Close)

	fake := &refusingSource{inner: src, refuse: true}
	a := New(fake)

	before := make([]int, len(a.descs))
	for i := range a.descs {
		a.descs[i].mu.Lock()
		before[i] = a.descs[i].freeList.Len()
		a.descs[i].mu.Unlock()
	}

	p := a.Malloc(8)
	assert.Nil(t, p)

	for i := range a.descs {
		a.descs[i].mu.Lock()
		assert.Equal(t, before[i], a.descs[i].freeList.Len())
		a.descs[i].mu.Unlock()
	}
	assert.Equal(t, 0, a.registry.Len())
}

func TestScenarioCalloc(t *testing.T) {
	a, _ := newTestAllocator(t, 4, false)

	p := a.Calloc(4, 8)
	require.NotNil(t, p)
	buf := unsafe.Slice((*byte)(p), 32)
	for _, v := range buf {
		assert.Equal(t, byte(0), v)
	}
	a.Free(p)

	assert.Nil(t, a.Calloc(-1, 8))
	assert.Nil(t, a.Calloc(1<<32, 1<<32)) // 2^64 overflows the uint64 product
}
