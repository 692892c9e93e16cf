package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_Markers(t *testing.T) {
	eoe := NewEOE()
	assert.True(t, eoe.IsEOE())
	assert.False(t, eoe.IsEOF())
	assert.False(t, eoe.IsData())
	assert.Zero(t, eoe.NumRows())

	eof := NewEOF()
	assert.True(t, eof.IsEOF())
	assert.False(t, eof.IsEOE())

	data := New(7, []Row{{ID: 1, Cols: [][]byte{[]byte("a")}}})
	assert.True(t, data.IsData())
	assert.Equal(t, int64(7), data.Seq())
	assert.Equal(t, 1, data.NumRows())
}

func TestBuffer_CloneIsDeep(t *testing.T) {
	orig := New(1, []Row{{ID: 42, Cols: [][]byte{[]byte("abc")}}})
	cp := orig.Clone()

	cp.Rows()[0].Cols[0][0] = 'z'
	assert.Equal(t, byte('a'), orig.Rows()[0].Cols[0][0])
	assert.Equal(t, int64(42), cp.Rows()[0].ID)
}
