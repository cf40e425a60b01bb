package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

func meta(handle string, priority float64, length int) protocol.DataMeta {
	return protocol.DataMeta{
		Handle:    handle,
		Priority:  priority,
		Length:    length,
		CreatedAt: time.Now(),
	}
}

func TestRegistryPriorityOrder(t *testing.T) {
	registry := newReplayRegistry()
	registry.Add(meta("low", 0.1, 10), meta("high", 0.9, 10), meta("mid", 0.5, 10))

	stop := make(chan struct{})

	taken, err := registry.Take(stop, 2, 1)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	assert.Equal(t, "high", taken[0].Handle)
	assert.Equal(t, "mid", taken[1].Handle)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryMinLength(t *testing.T) {
	registry := newReplayRegistry()
	registry.Add(meta("short", 0.9, 4), meta("long", 0.1, 32))

	stop := make(chan struct{})

	// The short entry outranks the long one but cannot satisfy the
	// demand; it must survive the take.
	taken, err := registry.Take(stop, 1, 16)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.Equal(t, "long", taken[0].Handle)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryTakeBlocksUntilSupplied(t *testing.T) {
	registry := newReplayRegistry()
	registry.Add(meta("first", 0.5, 10))

	stop := make(chan struct{})
	taken := make(chan []protocol.DataMeta, 1)

	go func() {
		metas, err := registry.Take(stop, 2, 1)
		assert.NoError(t, err)
		taken <- metas
	}()

	select {
	case <-taken:
		t.Fatal("take returned before the demand could be met")
	case <-time.After(50 * time.Millisecond):
	}

	registry.Add(meta("second", 0.5, 10))

	select {
	case metas := <-taken:
		assert.Len(t, metas, 2)
	case <-time.After(time.Second):
		t.Fatal("take did not return after enough data was added")
	}
}

func TestRegistryTakeStops(t *testing.T) {
	registry := newReplayRegistry()

	stop := make(chan struct{})
	errs := make(chan error, 1)

	go func() {
		_, err := registry.Take(stop, 1, 1)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, utils.ErrTerminalRun)
	case <-time.After(time.Second):
		t.Fatal("take did not return after stop")
	}
}

func TestRegistryRequeueUpdatesPriorities(t *testing.T) {
	registry := newReplayRegistry()
	registry.Add(meta("a", 0.9, 10), meta("b", 0.8, 10), meta("c", 0.1, 10))

	stop := make(chan struct{})

	taken, err := registry.Take(stop, 2, 1)
	require.NoError(t, err)

	// The learner decided "b" is now the most surprising sample.
	registry.Requeue(taken, map[string]float64{"a": 0.2, "b": 0.95})

	taken, err = registry.Take(stop, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", taken[0].Handle)
	assert.Equal(t, "a", taken[1].Handle)
	assert.Equal(t, "c", taken[2].Handle)
}
