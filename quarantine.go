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
	"unsafe"

	"github.com/voidkernel/kballoc/container/ring"
)

// quarantine is a fixed-capacity record of recently freed user pointers,
// used only by a NewDebug allocator. Free consults it before accepting a
// free; finding the same address still quarantined means the caller is
// freeing something twice, which is undefined behavior that the debug
// build turns into an immediate, diagnosable panic instead of silent
// free-list corruption. Malloc clears an address from the ring when it
// hands that address out again, so only a free of a block that is still
// free is taken for a double free.
//
// The ring never grows: once full, recording a new address evicts the
// oldest one, so quarantine is a bounded window onto recent frees, not a
// full double-free detector.
type quarantine struct {
	mu   sync.Mutex
	r    *ring.Ring[uintptr]
	next int // index the next recorded address will occupy
	full bool
}

func newQuarantine(capacity int) *quarantine {
	slots := make([]uintptr, capacity)
	return &quarantine{r: ring.NewFromSlice(slots)}
}

// checkAndRecord panics if p is already quarantined (a double free), then
// records p, evicting the oldest quarantined address if the ring is full.
func (q *quarantine) checkAndRecord(p unsafe.Pointer) {
	addr := uintptr(p)

	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.r.Len()
	limit := n
	if !q.full {
		limit = q.next
	}
	for i := 0; i < limit; i++ {
		item, _ := q.r.Get(i)
		if item.Value() == addr {
			panic("kballoc: double free detected")
		}
	}

	item, _ := q.r.Get(q.next)
	*item.Pointer() = addr
	q.next++
	if q.next == n {
		q.next = 0
		q.full = true
	}
}
