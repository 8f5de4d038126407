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

// Package intrlist is an intrusive doubly-linked list, in the style of
// pintos' lib/kernel/list.c: nodes are embedded in the elements they link
// (kballoc embeds an Elem as the first field of its block and arena
// headers), and the list itself never allocates. Two sentinel nodes (head
// and tail) remove the need for nil checks at the ends of the list.
package intrlist

import "unsafe"

// Elem is the embeddable link. Zero value is not a valid list position;
// use List.Init (or NewList) before inserting.
type Elem struct {
	prev, next *Elem
}

// List is a doubly-linked list with sentinel head/tail elements.
// The zero value is not usable; call Init first.
type List struct {
	head Elem
	tail Elem
}

// Init (re)initializes an empty list.
func (l *List) Init() {
	l.head.next = &l.tail
	l.head.prev = nil
	l.tail.prev = &l.head
	l.tail.next = nil
}

// NewList returns an initialized empty list.
func NewList() *List {
	l := &List{}
	l.Init()
	return l
}

// Begin returns the first real element, or End() if the list is empty.
func (l *List) Begin() *Elem { return l.head.next }

// End returns the tail sentinel. Iteration stops when e == End().
func (l *List) End() *Elem { return &l.tail }

// Front is an alias for Begin, for callers that think in terms of a queue.
func (l *List) Front() *Elem { return l.head.next }

// Back returns the last real element, or l.head if the list is empty.
func (l *List) Back() *Elem { return l.tail.prev }

// Empty reports whether the list has no real elements.
func (l *List) Empty() bool { return l.head.next == &l.tail }

// Next returns the element following e (possibly the tail sentinel).
func Next(e *Elem) *Elem { return e.next }

// Prev returns the element preceding e (possibly the head sentinel).
func Prev(e *Elem) *Elem { return e.prev }

// IsHead reports whether e is a list's head sentinel.
func (l *List) IsHead(e *Elem) bool { return e == &l.head }

// IsTail reports whether e is a list's tail sentinel.
func (l *List) IsTail(e *Elem) bool { return e == &l.tail }

// InsertBefore inserts e immediately before mark, which must already be in
// the list (or be the tail sentinel, for append-at-end).
func InsertBefore(mark, e *Elem) {
	e.prev = mark.prev
	e.next = mark
	mark.prev.next = e
	mark.prev = e
}

// PushBack appends e to the end of the list.
func (l *List) PushBack(e *Elem) { InsertBefore(&l.tail, e) }

// PushFront prepends e to the start of the list.
func (l *List) PushFront(e *Elem) { InsertBefore(l.head.next, e) }

// Remove unlinks e from whatever list it is in. e's own prev/next are left
// dangling (matching pintos' list_remove, which does not clear the removed
// element's pointers); callers must not reuse e as a list position until
// they re-insert it.
func Remove(e *Elem) *Elem {
	e.prev.next = e.next
	e.next.prev = e.prev
	return e.next
}

// PopFront removes and returns the first real element. Callers must check
// Empty() first; PopFront on an empty list returns the tail sentinel.
func (l *List) PopFront() *Elem {
	if l.Empty() {
		return l.End()
	}
	e := l.Begin()
	Remove(e)
	return e
}

// Len walks the list and counts its real elements. O(n): intended for
// diagnostics, not hot paths.
func (l *List) Len() int {
	n := 0
	for e := l.Begin(); e != l.End(); e = Next(e) {
		n++
	}
	return n
}

// Addr returns the address of e as a uintptr, for address-order comparisons
// and for recovering the enclosing struct via unsafe.Pointer arithmetic.
func Addr(e *Elem) uintptr { return uintptr(unsafe.Pointer(e)) }

// InsertSorted inserts e into an ascending-address-ordered list, scanning
// from the front. kballoc's free lists call this on every Free/split so
// that buddy detection can assume address order.
func (l *List) InsertSorted(e *Elem) {
	mark := l.Begin()
	for mark != l.End() && Addr(mark) < Addr(e) {
		mark = Next(mark)
	}
	InsertBefore(mark, e)
}
