package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue(t *testing.T) {
	compareFunc := PriorityFunc[int](func(a, b any) int {
		if a.(int) < b.(int) {
			return 1
		} else if a.(int) > b.(int) {
			return -1
		}
		return 0
	})

	equalityFunc := EqualityFunc[int](func(a, b any) bool {
		return a.(int) == b.(int)
	})

	pq := NewPriorityQueue[int](compareFunc, equalityFunc)

	pq.Push(3)
	pq.Push(1)
	pq.Push(2)

	assert.Equal(t, 3, pq.Peek())
	assert.Equal(t, 3, pq.Pop())
	assert.Equal(t, 2, pq.Pop())
	assert.Equal(t, 1, pq.Pop())

	pq.Push(1)
	pq.Push(4)
	pq.Push(5)
	pq.Remove(4)

	assert.False(t, pq.Contains(4))
	assert.Equal(t, 5, pq.Pop())
	assert.Equal(t, 1, pq.Pop())
}
