package pipeline

import (
	"errors"
	"sync"

	"github.com/drover-io/drover/pkg/log"
)

// Returned by Source.Next when the data source has no more data,
// and by Loader.Next once the pipeline has drained. Not an error
// condition.
var ErrExhausted = errors.New("data source exhausted")

// Loader configuration.
type Config struct {
	// Number of preprocessing workers. With zero or one worker,
	// batches are processed in place without subtask fan-out.
	Workers int `mapstructure:"workers"`

	// Capacity of the handoff queue between preprocessing and
	// device transfer.
	TrainQueueCapacity int `mapstructure:"train_queue_capacity"`

	// Capacity of the device batch queue.
	DeviceQueueCapacity int `mapstructure:"device_queue_capacity"`
}

// SetDefaults fills in queue capacities. Workers is left as given:
// zero or one worker selects the inline processing path.
func (c *Config) SetDefaults() {
	if c.TrainQueueCapacity == 0 {
		c.TrainQueueCapacity = 8
	}
	if c.DeviceQueueCapacity == 0 {
		c.DeviceQueueCapacity = 4
	}
}

// Loader is the asynchronous data pipeline feeding a training loop.
//
// One coordination goroutine cycles between requesting data and
// handing processed batches to the train queue. A dedicated get-data
// goroutine is the only place that blocks on the data source. With
// more than one worker, preprocessing fans out over a job queue and
// a worker pool; the aggregation point reassembles each batch once
// all of its subtasks have resolved. An optional device stage moves
// ready batches into device memory in FIFO order.
type Loader struct {
	config Config
	source Source
	proc   Processor
	device Device

	trainQueue  *Queue[*Batch]
	deviceQueue *Queue[*Batch]
	out         *Queue[*Batch]
	pool        *workerPool

	getReq chan struct{}
	getRes chan getResult

	resupply chan int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type getResult struct {
	batch *Batch
	err   error
}

// NewLoader creates a data pipeline. The device may be nil, in
// which case the device transfer stage is not started and Next
// returns CPU resident batches.
func NewLoader(source Source, proc Processor, device Device, config Config) *Loader {
	config.SetDefaults()

	l := &Loader{
		config:     config,
		source:     source,
		proc:       proc,
		device:     device,
		trainQueue: NewQueue[*Batch](config.TrainQueueCapacity),
		getReq:     make(chan struct{}),
		getRes:     make(chan getResult),
		resupply:   make(chan int64, 16),
		stop:       make(chan struct{}),
	}

	l.out = l.trainQueue
	if device != nil {
		l.deviceQueue = NewQueue[*Batch](config.DeviceQueueCapacity)
		l.out = l.deviceQueue
	}

	if config.Workers > 1 {
		l.pool = newWorkerPool(config.Workers, proc)
	}

	return l
}

// Start launches the pipeline goroutines.
func (l *Loader) Start() {
	if l.pool != nil {
		l.pool.Start()
	}

	l.wg.Add(2)
	go l.getDataLoop()
	go l.asyncLoop()

	if l.device != nil {
		l.wg.Add(1)
		go l.deviceLoop()
	}
}

// Next returns the next training ready batch, blocking until one
// is available. Returns ErrExhausted once the pipeline has drained
// after the data source ended or the loader was closed.
func (l *Loader) Next() (*Batch, error) {
	batch, err := l.out.Pop()
	if err != nil {
		return nil, ErrExhausted
	}
	return batch, nil
}

// Resupply delivers the sequence numbers of dropped batches, one
// notification per drop. The training loop is responsible for
// requesting equivalent data again. The channel is closed by Close
// once all pipeline goroutines have stopped.
func (l *Loader) Resupply() <-chan int64 {
	return l.resupply
}

// Close tears the pipeline down. All goroutines blocked on queues
// are unblocked; queued batches are discarded.
func (l *Loader) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)

		l.trainQueue.Close()
		if l.deviceQueue != nil {
			l.deviceQueue.Close()
		}
		if l.pool != nil {
			l.pool.Stop()
		}

		l.wg.Wait()
		close(l.resupply)
	})
}

// The get-data goroutine. The only component that calls into the
// data source, which may block arbitrarily long.
func (l *Loader) getDataLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stop:
			return
		case <-l.getReq:
		}

		batch, err := l.source.Next()

		select {
		case l.getRes <- getResult{batch: batch, err: err}:
		case <-l.stop:
			return
		}

		if err != nil {
			return
		}
	}
}

// The coordination goroutine. A new get-data request is not issued
// until the previous cycle's batch has been fully handed off, which
// bounds in-flight memory to a small multiple of the batch size.
func (l *Loader) asyncLoop() {
	defer l.wg.Done()

	for {
		select {
		case l.getReq <- struct{}{}:
		case <-l.stop:
			return
		}

		var res getResult
		select {
		case res = <-l.getRes:
		case <-l.stop:
			return
		}

		if res.err != nil {
			if errors.Is(res.err, ErrExhausted) {
				log.Debug("data source exhausted, draining pipeline")
			} else {
				log.Error("data source failed:", res.err)
			}
			// Let consumers drain what is already queued.
			l.trainQueue.Close()
			return
		}

		batch, err := l.processBatch(res.batch)
		if err != nil {
			log.Warn("dropping batch:", err)
			l.notifyResupply(res.batch.Seq)
			continue
		}
		if batch == nil {
			// Shut down while waiting for subtasks.
			return
		}

		if err := l.trainQueue.Push(batch); err != nil {
			return
		}
	}
}

// processBatch turns a raw batch into a training ready batch,
// either in place or by fanning out over the worker pool.
func (l *Loader) processBatch(raw *Batch) (*Batch, error) {
	if l.pool == nil {
		records, err := l.proc.Process(raw.Records)
		if err != nil {
			return nil, err
		}
		return &Batch{Seq: raw.Seq, Records: records}, nil
	}

	chunks := partition(raw.Records, l.config.Workers)
	pending := newPendingBatch(raw.Seq, len(chunks))

	for i, chunk := range chunks {
		task := &subTask{batch: pending, index: i, records: chunk}
		if err := l.pool.Submit(task); err != nil {
			return nil, err
		}
	}

	// Aggregation point: all subtasks must resolve before the
	// batch may enter the train queue, regardless of the order
	// in which they complete.
	select {
	case <-pending.done:
	case <-l.stop:
		return nil, nil
	}

	return pending.assemble()
}

// notifyResupply reports a dropped batch. The send blocks until the
// consumer picks the notification up, so drops are never silent;
// closing the loader releases a blocked notifier.
func (l *Loader) notifyResupply(seq int64) {
	select {
	case l.resupply <- seq:
	case <-l.stop:
	}
}

// partition splits records into n contiguous, mutually exclusive
// and collectively exhaustive chunks. Fewer than n chunks are
// returned when there are fewer records than workers.
func partition(records [][]float32, n int) [][][]float32 {
	if n > len(records) {
		n = len(records)
	}
	if n < 1 {
		n = 1
	}

	chunks := make([][][]float32, 0, n)
	chunkSize := (len(records) + n - 1) / n

	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}

	if len(chunks) == 0 {
		chunks = append(chunks, records)
	}

	return chunks
}
