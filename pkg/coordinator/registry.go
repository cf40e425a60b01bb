package coordinator

import (
	"sync"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// The control plane face of the replay buffer. Holds the metadata of
// published step data, ordered by sampling priority; the payloads
// themselves live in the middleware. Learn results feed updated
// priorities back through Requeue.
type replayRegistry struct {
	mu    sync.Mutex
	queue *utils.PriorityQueue[*protocol.DataMeta]

	// Signalled when entries are added.
	added chan struct{}
}

func dataPriorityFunc(a, b any) int {
	am := a.(*protocol.DataMeta)
	bm := b.(*protocol.DataMeta)

	// Higher priority is sampled first
	if am.Priority > bm.Priority {
		return -1
	} else if am.Priority < bm.Priority {
		return 1
	}

	// Then oldest first
	if am.CreatedAt.Before(bm.CreatedAt) {
		return -1
	} else if am.CreatedAt.After(bm.CreatedAt) {
		return 1
	}

	return 0
}

func dataEqualityFunc(a, b any) bool {
	return a.(*protocol.DataMeta).Handle == b.(*protocol.DataMeta).Handle
}

func newReplayRegistry() *replayRegistry {
	return &replayRegistry{
		queue: utils.NewPriorityQueue[*protocol.DataMeta](dataPriorityFunc, dataEqualityFunc),
		added: make(chan struct{}, 1),
	}
}

// Add registers newly collected data.
func (r *replayRegistry) Add(metas ...protocol.DataMeta) {
	r.mu.Lock()
	for i := range metas {
		meta := metas[i]
		r.queue.Push(&meta)
	}
	r.mu.Unlock()

	r.signal()
}

// Requeue returns sampled data to the registry with the priorities
// assigned by the learner. Entries without an updated priority keep
// their previous one.
func (r *replayRegistry) Requeue(metas []protocol.DataMeta, priorities map[string]float64) {
	r.mu.Lock()
	for i := range metas {
		meta := metas[i]
		if priority, ok := priorities[meta.Handle]; ok {
			meta.Priority = priority
		}
		r.queue.Push(&meta)
	}
	r.mu.Unlock()

	r.signal()
}

func (r *replayRegistry) signal() {
	select {
	case r.added <- struct{}{}:
	default:
	}
}

// Take removes the count highest priority entries of at least
// minLength steps, blocking until enough are available or stop is
// closed.
func (r *replayRegistry) Take(stop <-chan struct{}, count, minLength int) ([]protocol.DataMeta, error) {
	for {
		r.mu.Lock()
		taken := r.takeLocked(count, minLength)
		r.mu.Unlock()

		if taken != nil {
			return taken, nil
		}

		select {
		case <-r.added:
		case <-stop:
			return nil, utils.ErrTerminalRun
		}
	}
}

// takeLocked pops entries in priority order, setting aside entries
// that are too short so they can be served to a less picky learner
// later. Returns nil, with all entries restored, if the demand
// cannot be met yet.
func (r *replayRegistry) takeLocked(count, minLength int) []protocol.DataMeta {
	taken := []protocol.DataMeta{}
	rejected := []*protocol.DataMeta{}

	for len(taken) < count && r.queue.Len() > 0 {
		meta := r.queue.Pop()
		if meta.Length < minLength {
			rejected = append(rejected, meta)
			continue
		}
		taken = append(taken, *meta)
	}

	for _, meta := range rejected {
		r.queue.Push(meta)
	}

	if len(taken) < count {
		for i := range taken {
			r.queue.Push(&taken[i])
		}
		return nil
	}

	return taken
}

// Len returns the number of registered entries.
func (r *replayRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}
