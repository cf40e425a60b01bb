package pipeline

import (
	"fmt"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/utils"
)

// Maximum number of processing attempts per subtask. A subtask that
// panics its worker is resubmitted until the budget is spent, after
// which its batch is failed.
const maxSubTaskAttempts = 3

// workerPool processes subtasks on a fixed number of goroutines.
// A worker that panics while processing is replaced, and the
// subtask it owned is resubmitted rather than lost.
type workerPool struct {
	workers int
	proc    Processor
	jobs    *Queue[*subTask]
}

func newWorkerPool(workers int, proc Processor) *workerPool {
	return &workerPool{
		workers: workers,
		proc:    proc,
		jobs:    NewQueue[*subTask](2 * workers),
	}
}

// Start launches the worker goroutines. They exit when the job
// queue is closed and drained.
func (wp *workerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		go wp.run(i)
	}
}

func (wp *workerPool) Stop() {
	wp.jobs.Close()
}

// Submit enqueues a subtask, blocking while the job queue is full.
func (wp *workerPool) Submit(task *subTask) error {
	return wp.jobs.Push(task)
}

func (wp *workerPool) run(id int) {
	for {
		task, err := wp.jobs.Pop()
		if err != nil {
			return
		}

		if err := wp.process(task); err != nil {
			// The worker panicked. Resubmit the subtask and replace
			// the worker with a fresh goroutine.
			task.attempts++
			if task.attempts >= maxSubTaskAttempts {
				log.Errorf("worker %d: subtask %d of batch %d failed after %d attempts: %v",
					id, task.index, task.batch.seq, task.attempts, err)
				task.batch.complete(task.index, nil, err)
			} else {
				log.Warnf("worker %d: crashed on subtask %d of batch %d, resubmitting: %v",
					id, task.index, task.batch.seq, err)
				if err := wp.Submit(task); err != nil {
					task.batch.complete(task.index, nil, utils.ErrQueueClosed)
				}
			}

			go wp.run(id)
			return
		}
	}
}

// process runs one subtask, converting a worker panic into an error.
func (wp *workerPool) process(task *subTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker crash: %v", r)
		}
	}()

	records, perr := wp.proc.Process(task.records)
	if perr != nil {
		// A processing error is not a crash. Fail the batch.
		task.batch.complete(task.index, nil, perr)
		return nil
	}

	task.batch.complete(task.index, records, nil)
	return nil
}
