package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsLastCapacityEntries(t *testing.T) {
	r := NewRing[int](3)
	for _, v := range []int{1, 2, 3, 4} {
		r.Push(v)
	}
	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.True(t, r.Full())

	front, err := r.Front()
	require.NoError(t, err)
	assert.Equal(t, 2, front)

	back, err := r.Back()
	require.NoError(t, err)
	assert.Equal(t, 4, back)
}

func TestRingOrderAfterManyWraps(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 23; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{19, 20, 21, 22}, r.Items())
	assert.Equal(t, 4, r.Len())
}

func TestRingEmptyReadsReturnErrEmpty(t *testing.T) {
	r := NewRing[string](2)
	_, err := r.Back()
	assert.True(t, errors.Is(err, ErrEmpty))
	_, err = r.Front()
	assert.True(t, errors.Is(err, ErrEmpty))
	assert.Empty(t, r.Items())
}

func TestRingPrevious(t *testing.T) {
	r := NewRing[int](5)
	r.Push(10)
	r.Push(20)
	r.Push(30)

	v, err := r.Previous(1)
	require.NoError(t, err)
	assert.Equal(t, 30, v)
	v, err = r.Previous(3)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = r.Previous(4)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmpty))
}

func TestRingPartiallyFilled(t *testing.T) {
	r := NewRing[int](5)
	r.Push(7)
	r.Push(8)
	assert.False(t, r.Full())
	assert.Equal(t, []int{7, 8}, r.Items())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	assert.Equal(t, 1, r.Cap())
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Items())
}

func TestRingResetAndResize(t *testing.T) {
	r := NewRing[int](3)
	for _, v := range []int{1, 2, 3} {
		r.Push(v)
	}
	r.Resize(2)
	assert.Equal(t, []int{2, 3}, r.Items())
	r.Resize(4)
	r.Push(4)
	assert.Equal(t, []int{2, 3, 4}, r.Items())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 4, r.Cap())
}
