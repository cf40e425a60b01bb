package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/utils"
)

func TestQueuePushPop(t *testing.T) {
	q := NewQueue[int](4)

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	assert.Equal(t, 2, q.Len())

	v, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Pop()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQueueBlocksWhenFull(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Push(1))

	pushed := make(chan struct{})
	go func() {
		assert.NoError(t, q.Push(2))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push to a full queue did not block")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := q.Pop()
	require.NoError(t, err)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push did not complete after pop freed a slot")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue[int](4)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	q.Close()

	v, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Pop()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Pop()
	assert.ErrorIs(t, err, utils.ErrQueueClosed)
}

func TestQueuePushAfterClose(t *testing.T) {
	q := NewQueue[int](4)
	q.Close()

	assert.ErrorIs(t, q.Push(1), utils.ErrQueueClosed)
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := NewQueue[int](1)

	popped := make(chan error, 1)
	go func() {
		_, err := q.Pop()
		popped <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-popped:
		assert.ErrorIs(t, err, utils.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after close")
	}
}
