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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidkernel/kballoc/pagesrc"
)

func newTestAllocator(t *testing.T, minPages int, debug bool) (*Allocator, *pagesrc.BitmapSource) {
	t.Helper()
	src, err := pagesrc.NewBitmapSource(minPages)
	require.NoError(t, err)
	t.Cleanup(src.Close)

	if debug {
		return NewDebug(src), src
	}
	return New(src), src
}

func TestBuildDescriptorsClasses(t *testing.T) {
	descs := buildDescriptors()
	want := []uintptr{16, 32, 64, 128, 256, 512, 1024}
	require.Len(t, descs, len(want))
	for i, d := range descs {
		assert.Equal(t, want[i], d.blockSize)
		assert.Greater(t, d.blocksPerArena, 0)
	}
}

func TestClassForBoundaries(t *testing.T) {
	descs := buildDescriptors()
	assert.Equal(t, 0, classFor(descs, 1))
	assert.Equal(t, 0, classFor(descs, 16))
	assert.Equal(t, 1, classFor(descs, 17))
	assert.Equal(t, len(descs)-1, classFor(descs, 1024))
	assert.Equal(t, -1, classFor(descs, 1025))
}

func TestNewRegistryEmpty(t *testing.T) {
	a, _ := newTestAllocator(t, 4, false)
	assert.Equal(t, 0, a.registry.Len())
}

func TestRegisterUnregisterArena(t *testing.T) {
	a, _ := newTestAllocator(t, 4, false)
	var ah arenaHeader
	a.topClass().mu.Lock()
	a.registerArena(&ah)
	a.topClass().mu.Unlock()
	assert.Equal(t, 1, a.registry.Len())

	a.topClass().mu.Lock()
	a.unregisterArena(&ah)
	a.topClass().mu.Unlock()
	assert.Equal(t, 0, a.registry.Len())
}

func TestRoundPageDownAndOffset(t *testing.T) {
	var buf [3 * PageSize]byte
	base := unsafe.Pointer(&buf[0])
	baseAddr := uintptr(base) &^ uintptr(PageSize-1)
	page := unsafe.Pointer(baseAddr + PageSize) // guaranteed page-aligned within buf

	mid := unsafe.Add(page, 100)
	assert.Equal(t, page, roundPageDown(mid))
	assert.Equal(t, uintptr(100), pageOffset(mid))
}
