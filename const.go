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

// Package kballoc is a buddy-system dynamic memory allocator meant to run
// inside a small kernel: it serves byte allocations from pages obtained
// from a pagesrc.Source, splitting them into power-of-two blocks and
// coalescing freed blocks back together to fight fragmentation.
//
// Ported from the design of original_source/pintos/src/threads/malloc.c,
// generalized from pintos' single global allocator to an Allocator value so
// a process can run more than one (see New), and reworked so coalesce has
// the clean "reached top" / "not reached top" return contract pintos'
// free_buildup only half-implements.
package kballoc

import "unsafe"

// PageSize is the fixed page size every arena spans (or, for huge blocks,
// a multiple of). Must match pagesrc.PageSize.
const PageSize = 4096

// minBlockSize is the smallest size class: 16 bytes, matching pintos.
const minBlockSize = 16

// arenaMagic detects arena corruption: any pointer handed to blockToArena
// must resolve to a page whose header carries this sentinel.
const arenaMagic uint32 = 0x9a548eed

// blockFillByte overwrites a just-coalesced child's payload in a NewDebug
// allocator, to surface use-after-free.
const blockFillByte = 0xCC

// numClasses is how many size classes fit from minBlockSize up to, but not
// including, PageSize/2: 16, 32, 64, 128, 256, 512, 1024 for a 4096-byte
// page — 7 classes.
var numClasses = func() int {
	n := 0
	for sz := minBlockSize; sz < PageSize/2; sz *= 2 {
		n++
	}
	return n
}()

func roundPageDown(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) &^ uintptr(PageSize-1))
}

func pageOffset(p unsafe.Pointer) uintptr {
	return uintptr(p) & uintptr(PageSize-1)
}
