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
	"sync"

	"github.com/voidkernel/kballoc/internal/intrlist"
)

// descriptor is the per-size-class metadata: one per power-of-two block
// size from minBlockSize up to the largest value under PageSize/2.
type descriptor struct {
	blockSize      uintptr
	blocksPerArena int

	mu       sync.Mutex
	freeList intrlist.List
}

// buildDescriptors returns the size-class table, ascending by blockSize.
// With a 4096-byte page and the pintos layout this yields the classes
// {16, 32, 64, 128, 256, 512, 1024}.
func buildDescriptors() []descriptor {
	descs := make([]descriptor, numClasses)
	i := 0
	for sz := uintptr(minBlockSize); sz < PageSize/2; sz *= 2 {
		descs[i].blockSize = sz
		descs[i].blocksPerArena = int((PageSize - arenaHeaderSize) / sz)
		descs[i].freeList.Init()
		i++
	}
	return descs
}

// classFor returns the index of the smallest descriptor whose blockSize is
// >= need, or -1 if need exceeds even the top class (the huge-block path).
func classFor(descs []descriptor, need uintptr) int {
	for i := range descs {
		if descs[i].blockSize >= need {
			return i
		}
	}
	return -1
}
