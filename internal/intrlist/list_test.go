package intrlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPushPop(t *testing.T) {
	l := NewList()
	require.True(t, l.Empty())

	var a, b, c Elem
	l.PushBack(&a)
	l.PushBack(&b)
	l.PushBack(&c)

	assert.False(t, l.Empty())
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, &a, l.Begin())
	assert.Equal(t, &c, l.Back())

	front := l.PopFront()
	assert.Equal(t, &a, front)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, &b, l.Begin())
}

func TestListRemove(t *testing.T) {
	l := NewList()
	var a, b, c Elem
	l.PushBack(&a)
	l.PushBack(&b)
	l.PushBack(&c)

	Remove(&b)
	assert.Equal(t, 2, l.Len())
	var got []*Elem
	for e := l.Begin(); e != l.End(); e = Next(e) {
		got = append(got, e)
	}
	assert.Equal(t, []*Elem{&a, &c}, got)
}

func TestInsertSorted(t *testing.T) {
	l := NewList()
	elems := make([]Elem, 4)
	// addresses are whatever the runtime gives these stack/heap slots;
	// insert out of order and confirm ascending-address order holds.
	order := []int{3, 1, 2, 0}
	for _, i := range order {
		l.InsertSorted(&elems[i])
	}
	var prev uintptr
	for e := l.Begin(); e != l.End(); e = Next(e) {
		require.GreaterOrEqual(t, Addr(e), prev)
		prev = Addr(e)
	}
	assert.Equal(t, 4, l.Len())
}

func TestPrevNextSentinels(t *testing.T) {
	l := NewList()
	var a Elem
	l.PushBack(&a)
	assert.True(t, l.IsHead(Prev(&a)))
	assert.True(t, l.IsTail(Next(&a)))
}
