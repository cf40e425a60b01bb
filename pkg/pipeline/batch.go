package pipeline

import (
	"fmt"
	"sync"
)

// A batch flowing through the data pipeline. A batch is owned by
// exactly one stage at a time; ownership transfers at each queue
// boundary.
type Batch struct {
	// Sequence number assigned by the data source, FIFO over
	// the lifetime of the pipeline.
	Seq int64

	// Sample records of the batch.
	Records [][]float32

	// True once the batch has been transferred to device memory.
	OnDevice bool
}

// A partition of one batch's preprocessing work. Created only when
// the worker pool has more than one worker; consumed exactly once
// by exactly one worker.
type subTask struct {
	batch    *pendingBatch
	index    int
	records  [][]float32
	attempts int
}

// A batch whose subtasks are in flight. The aggregation point
// assembles the processed partitions in index order once all of
// them have resolved.
type pendingBatch struct {
	mu    sync.Mutex
	seq   int64
	parts [][][]float32

	remaining int
	failed    error
	done      chan struct{}
}

func newPendingBatch(seq int64, parts int) *pendingBatch {
	return &pendingBatch{
		seq:       seq,
		parts:     make([][][]float32, parts),
		remaining: parts,
		done:      make(chan struct{}),
	}
}

// Record the result of one subtask. The last completion closes the
// done channel. Results may arrive in any order.
func (p *pendingBatch) complete(index int, records [][]float32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil && p.failed == nil {
		p.failed = err
	}
	p.parts[index] = records
	p.remaining--
	if p.remaining == 0 {
		close(p.done)
	}
}

// Assemble the processed batch from its partitions.
func (p *pendingBatch) assemble() (*Batch, error) {
	if p.failed != nil {
		return nil, fmt.Errorf("batch %d: %w", p.seq, p.failed)
	}

	records := [][]float32{}
	for _, part := range p.parts {
		records = append(records, part...)
	}

	return &Batch{Seq: p.seq, Records: records}, nil
}

// Source produces raw batches. Next is called from a single
// dedicated goroutine, the only place allowed to block on the
// data source.
type Source interface {
	// Next returns the next raw batch, or ErrExhausted when the
	// source has no more data.
	Next() (*Batch, error)
}

// Processor transforms raw records into training ready records.
// Process must be a pure function of its input: the pipeline may
// call it concurrently from multiple workers on disjoint record
// partitions.
type Processor interface {
	Process(records [][]float32) ([][]float32, error)
}

// Device transfers a CPU resident batch to device memory.
// Transfer is only ever called from the single device transfer
// goroutine.
type Device interface {
	Transfer(batch *Batch) (*Batch, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(records [][]float32) ([][]float32, error)

func (fn ProcessorFunc) Process(records [][]float32) ([][]float32, error) {
	return fn(records)
}
