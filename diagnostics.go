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

// PageReport describes one block found free on some size class's free list
// during an Enumerate walk, all belonging to the same arena page.
type PageReport struct {
	Arena uintptr // page address, as an integer for easy comparison/printing
	Size  uintptr // the free block's recorded size
	Addr  uintptr // the free block's address
}

// Enumerate walks the arena registry and, for every registered page, every
// size class's free list, collecting a PageReport for each free block that
// lives on that page. It takes every class lock in ascending order, one at
// a time, same as every other operation; purely observational, it mutates
// nothing.
func (a *Allocator) Enumerate() []PageReport {
	top := a.topClass()
	top.mu.Lock()
	pages := make([]unsafe.Pointer, 0, a.registry.Len())
	for e := a.registry.Begin(); e != a.registry.End(); e = intrlist.Next(e) {
		pages = append(pages, unsafe.Pointer(elemToArena(e)))
	}
	top.mu.Unlock()

	var reports []PageReport
	for i := range a.descs {
		d := &a.descs[i]
		d.mu.Lock()
		for e := d.freeList.Begin(); e != d.freeList.End(); e = intrlist.Next(e) {
			b := elemToBlock(e)
			page := roundPageDown(unsafe.Pointer(b))
			for _, ar := range pages {
				if ar == page {
					reports = append(reports, PageReport{
						Arena: uintptr(ar),
						Size:  b.size,
						Addr:  uintptr(unsafe.Pointer(b)),
					})
					break
				}
			}
		}
		d.mu.Unlock()
	}
	return reports
}
