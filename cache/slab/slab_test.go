package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPut(t *testing.T) {
	for i := 127; i < 1<<18; i += 997 {
		b := Get(i)
		require.Len(t, b, i)
		Put(b)
	}
}

func TestCap(t *testing.T) {
	sz := 8 << 10
	b := Get(sz)
	require.Greater(t, Cap(b), sz)
	Put(b)
}

func TestPutForeign(t *testing.T) {
	require.NotPanics(t, func() {
		Put([]byte{})
		Put(make([]byte, minPoolSize-1, minPoolSize))
		Put(make([]byte, 3))
	})
}
