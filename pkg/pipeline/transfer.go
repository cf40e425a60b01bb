package pipeline

import (
	"fmt"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/utils"
)

// The device transfer goroutine. Batches move to the device strictly
// in arrival order. A failed transfer, typically device memory
// pressure, drops the batch entirely and signals the training loop
// through the resupply channel; partial batches never reach the
// device queue.
func (l *Loader) deviceLoop() {
	defer l.wg.Done()
	defer l.deviceQueue.Close()

	for {
		batch, err := l.trainQueue.Pop()
		if err != nil {
			return
		}

		moved, err := l.device.Transfer(batch)
		if err != nil {
			log.Warn(fmt.Errorf("%w: batch %d: %v", utils.ErrDeviceTransfer, batch.Seq, err))
			l.notifyResupply(batch.Seq)
			continue
		}
		moved.OnDevice = true

		if err := l.deviceQueue.Push(moved); err != nil {
			return
		}
	}
}
