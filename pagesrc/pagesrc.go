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

// Package pagesrc is the page allocator kballoc sits on top of. kballoc
// never asks the Go runtime for memory directly; it asks a Source for
// PageSize-aligned pages, singly or in contiguous runs, and gives them
// back the same way. This mirrors the "page allocator beneath" collaborator
// pintos' threads/malloc.c calls through palloc_get_page/palloc_get_multiple.
package pagesrc

import "unsafe"

// PageSize is the fixed page granularity every Source hands out. kballoc
// treats this as its PGSIZE constant.
const PageSize = 4096

// Source is the external page-allocator interface. Implementations must be
// safe for concurrent use; kballoc never calls back into itself through a
// Source (no re-entrancy).
type Source interface {
	// AcquirePage returns one PageSize-aligned page, or nil if none is
	// available. The page's contents are not zeroed.
	AcquirePage() unsafe.Pointer

	// AcquirePages returns n contiguous PageSize-aligned pages, or nil if
	// no run of that length is available. n must be >= 1.
	AcquirePages(n int) unsafe.Pointer

	// ReleasePage returns a page obtained from AcquirePage.
	ReleasePage(p unsafe.Pointer)

	// ReleasePages returns n contiguous pages obtained from AcquirePages(n).
	ReleasePages(p unsafe.Pointer, n int)
}
