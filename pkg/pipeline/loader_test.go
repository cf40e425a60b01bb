package pipeline

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	mu      sync.Mutex
	batches []*Batch
	next    int
	calls   int
}

func (s *sliceSource) Next() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.next >= len(s.batches) {
		return nil, ErrExhausted
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}

func (s *sliceSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func makeBatches(n, recordsPer int) []*Batch {
	batches := make([]*Batch, n)
	for i := range batches {
		records := make([][]float32, recordsPer)
		for j := range records {
			records[j] = []float32{float32(i), float32(j)}
		}
		batches[i] = &Batch{Seq: int64(i), Records: records}
	}
	return batches
}

var doubler = ProcessorFunc(func(records [][]float32) ([][]float32, error) {
	out := make([][]float32, len(records))
	for i, rec := range records {
		out[i] = make([]float32, len(rec))
		for j, v := range rec {
			out[i][j] = 2 * v
		}
	}
	return out, nil
})

func assertDoubled(t *testing.T, batch *Batch, recordsPer int) {
	t.Helper()
	require.Len(t, batch.Records, recordsPer)
	for j, rec := range batch.Records {
		assert.Equal(t, []float32{2 * float32(batch.Seq), 2 * float32(j)}, rec)
	}
}

func TestLoaderWorkerCounts(t *testing.T) {
	for _, workers := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			src := &sliceSource{batches: makeBatches(6, 8)}
			loader := NewLoader(src, doubler, nil, Config{Workers: workers})
			loader.Start()
			defer loader.Close()

			for i := 0; i < 6; i++ {
				batch, err := loader.Next()
				require.NoError(t, err)
				assert.Equal(t, int64(i), batch.Seq)
				assertDoubled(t, batch, 8)
			}

			_, err := loader.Next()
			assert.ErrorIs(t, err, ErrExhausted)
		})
	}
}

func TestLoaderAssemblyOrderIndependent(t *testing.T) {
	// Jitter the workers so subtasks of one batch resolve in a
	// different order on every run. The assembled batch must come
	// out identical regardless.
	jittery := ProcessorFunc(func(records [][]float32) ([][]float32, error) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		return doubler.Process(records)
	})

	src := &sliceSource{batches: makeBatches(4, 16)}
	loader := NewLoader(src, jittery, nil, Config{Workers: 4})
	loader.Start()
	defer loader.Close()

	for i := 0; i < 4; i++ {
		batch, err := loader.Next()
		require.NoError(t, err)
		assert.Equal(t, int64(i), batch.Seq)
		assertDoubled(t, batch, 16)
	}
}

func TestLoaderBackpressure(t *testing.T) {
	src := &sliceSource{batches: makeBatches(100, 2)}
	loader := NewLoader(src, doubler, nil, Config{Workers: 1, TrainQueueCapacity: 2})
	loader.Start()
	defer loader.Close()

	// Nobody consumes. The pipeline must stall instead of pulling
	// the whole source into memory: at most the queued batches plus
	// the one blocked on the handoff.
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, src.callCount(), 4)
}

type flakyDevice struct {
	failSeq int64
}

func (d *flakyDevice) Transfer(batch *Batch) (*Batch, error) {
	if batch.Seq == d.failSeq {
		return nil, errors.New("device out of memory")
	}
	return batch, nil
}

func TestLoaderDeviceFailureResupply(t *testing.T) {
	src := &sliceSource{batches: makeBatches(3, 4)}
	loader := NewLoader(src, doubler, &flakyDevice{failSeq: 1}, Config{Workers: 1})
	loader.Start()
	defer loader.Close()

	batch, err := loader.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), batch.Seq)
	assert.True(t, batch.OnDevice)

	batch, err = loader.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), batch.Seq)

	_, err = loader.Next()
	assert.ErrorIs(t, err, ErrExhausted)

	select {
	case seq := <-loader.Resupply():
		assert.Equal(t, int64(1), seq)
	case <-time.After(time.Second):
		t.Fatal("no resupply notification for the dropped batch")
	}
}

type brokenDevice struct{}

func (brokenDevice) Transfer(batch *Batch) (*Batch, error) {
	return nil, errors.New("device out of memory")
}

func TestLoaderResupplyDeliversEveryDrop(t *testing.T) {
	// More drops than the notification buffer holds. Every single
	// one must still be observed, in FIFO order.
	const batches = 40

	src := &sliceSource{batches: makeBatches(batches, 1)}
	loader := NewLoader(src, doubler, brokenDevice{}, Config{Workers: 1})
	loader.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := loader.Next()
		assert.ErrorIs(t, err, ErrExhausted)
	}()

	seqs := []int64{}
	for seq := range loader.Resupply() {
		seqs = append(seqs, seq)
		if len(seqs) == batches {
			break
		}
	}

	<-done
	loader.Close()

	require.Len(t, seqs, batches)
	for i, seq := range seqs {
		assert.Equal(t, int64(i), seq)
	}
}

func TestLoaderWorkerCrashRecovery(t *testing.T) {
	// Panic the first time each partition is seen; succeed on the
	// resubmission. Every batch must still come out complete.
	var mu sync.Mutex
	seen := map[float32]bool{}

	crashy := ProcessorFunc(func(records [][]float32) ([][]float32, error) {
		mu.Lock()
		key := records[0][1]
		first := !seen[key]
		seen[key] = true
		mu.Unlock()

		if first {
			panic("worker died")
		}
		return doubler.Process(records)
	})

	src := &sliceSource{batches: makeBatches(1, 8)}
	loader := NewLoader(src, crashy, nil, Config{Workers: 2})
	loader.Start()
	defer loader.Close()

	batch, err := loader.Next()
	require.NoError(t, err)
	assertDoubled(t, batch, 8)
}

func TestLoaderProcessingErrorDropsBatch(t *testing.T) {
	picky := ProcessorFunc(func(records [][]float32) ([][]float32, error) {
		if records[0][0] == 1 {
			return nil, errors.New("bad data")
		}
		return doubler.Process(records)
	})

	src := &sliceSource{batches: makeBatches(3, 4)}
	loader := NewLoader(src, picky, nil, Config{Workers: 1})
	loader.Start()
	defer loader.Close()

	batch, err := loader.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), batch.Seq)

	batch, err = loader.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), batch.Seq)

	select {
	case seq := <-loader.Resupply():
		assert.Equal(t, int64(1), seq)
	case <-time.After(time.Second):
		t.Fatal("no resupply notification for the dropped batch")
	}
}

func TestLoaderCloseUnblocksNext(t *testing.T) {
	src := &sliceSource{}
	blocked := ProcessorFunc(func(records [][]float32) ([][]float32, error) {
		return records, nil
	})

	loader := NewLoader(src, blocked, nil, Config{Workers: 1})
	loader.Start()

	done := make(chan struct{})
	go func() {
		for {
			if _, err := loader.Next(); err != nil {
				break
			}
		}
		close(done)
	}()

	loader.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}
