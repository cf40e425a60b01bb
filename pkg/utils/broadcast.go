package utils

import (
	"sync"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/google/uuid"
)

type BroadcastConsumer[E any] struct {
	Chan      chan E
	ID        string
	broadcast *Broadcast[E]
}

// Broadcast delivers every published item to all registered consumers.
type Broadcast[E any] struct {
	mu        sync.RWMutex
	consumers map[string]*BroadcastConsumer[E]
}

func NewBroadcast[E any]() *Broadcast[E] {
	return &Broadcast[E]{
		consumers: map[string]*BroadcastConsumer[E]{},
	}
}

func (bc *Broadcast[E]) NewConsumer() *BroadcastConsumer[E] {
	uuid, _ := uuid.NewRandom()
	consumer := &BroadcastConsumer[E]{
		Chan:      make(chan E, 100),
		ID:        uuid.String(),
		broadcast: bc,
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.consumers[consumer.ID] = consumer
	return consumer
}

func (bc *Broadcast[E]) HasConsumer() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.consumers) > 0
}

func (bc *Broadcast[E]) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for _, consumer := range bc.consumers {
		close(consumer.Chan)
	}

	bc.consumers = nil
}

func (bc *Broadcast[E]) Remove(bcc *BroadcastConsumer[E]) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	_, ok := bc.consumers[bcc.ID]
	delete(bc.consumers, bcc.ID)
	return ok
}

func (bc *Broadcast[E]) Send(data E) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	for _, c := range bc.consumers {
		c.send(data)
	}
}

func (bcc *BroadcastConsumer[E]) Close() {
	if bcc.broadcast.Remove(bcc) {
		close(bcc.Chan)
	}
}

func (bcc *BroadcastConsumer[E]) send(data E) {
	select {
	case bcc.Chan <- data:
		return
	case <-time.After(30 * time.Second):
		log.Debugf("unable to send event to %s, channel full", bcc.ID)
	}

	bcc.Chan <- data
}
