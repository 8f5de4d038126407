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
)

func TestQuarantineDetectsDoubleFree(t *testing.T) {
	q := newQuarantine(4)
	p := unsafe.Pointer(uintptr(0x1000))

	assert.NotPanics(t, func() { q.checkAndRecord(p) })
	assert.Panics(t, func() { q.checkAndRecord(p) })
}

func TestQuarantineEvictsOldest(t *testing.T) {
	q := newQuarantine(2)
	p1 := unsafe.Pointer(uintptr(0x1000))
	p2 := unsafe.Pointer(uintptr(0x2000))
	p3 := unsafe.Pointer(uintptr(0x3000))

	q.checkAndRecord(p1)
	q.checkAndRecord(p2)
	q.checkAndRecord(p3) // evicts p1's slot

	assert.NotPanics(t, func() { q.checkAndRecord(p1) })
}
