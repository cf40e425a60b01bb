package node

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/drover-io/drover/pkg/middleware"
	"github.com/drover-io/drover/pkg/pipeline"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// directiveSource feeds the training pipeline from the payloads a
// learn directive names. One batch per payload, sequence numbers
// matching the directive order. Next runs on the pipeline's dedicated
// get-data goroutine, the only place the middleware fetch may block.
type directiveSource struct {
	store middleware.Middleware
	data  []protocol.DataMeta
	next  int

	mu  sync.Mutex
	err error
}

func newDirectiveSource(store middleware.Middleware, data []protocol.DataMeta) *directiveSource {
	return &directiveSource{
		store: store,
		data:  data,
	}
}

func (s *directiveSource) Next() (*pipeline.Batch, error) {
	if s.next >= len(s.data) {
		return nil, pipeline.ErrExhausted
	}
	meta := s.data[s.next]
	seq := int64(s.next)
	s.next++

	payload, err := s.store.Fetch(meta.Handle)
	if err != nil {
		return nil, s.fail(fmt.Errorf("fetch %s: %w", meta.Handle, err))
	}

	var transitions []Transition
	if err := json.Unmarshal(payload, &transitions); err != nil {
		return nil, s.fail(fmt.Errorf("decode %s: %w", meta.Handle, err))
	}

	records := make([][]float32, 0, len(transitions))
	for i := range transitions {
		records = append(records, transitions[i].Record())
	}

	return &pipeline.Batch{Seq: seq, Records: records}, nil
}

// fail records the first error and ends the stream. The training
// loop reads it back through Err once the pipeline has drained.
func (s *directiveSource) fail(err error) error {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	return pipeline.ErrExhausted
}

// Err reports the error that ended the stream early, if any.
func (s *directiveSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Record flattens the transition into a single float32 record:
// observation length, observations, action length, actions, reward
// and done flag.
func (t *Transition) Record() []float32 {
	record := make([]float32, 0, len(t.Obs)+len(t.Action)+4)
	record = append(record, float32(len(t.Obs)))
	record = append(record, t.Obs...)
	record = append(record, float32(len(t.Action)))
	record = append(record, t.Action...)
	record = append(record, float32(t.Reward))
	if t.Done {
		record = append(record, 1)
	} else {
		record = append(record, 0)
	}
	return record
}

// TransitionFromRecord is the inverse of Record.
func TransitionFromRecord(record []float32) (*Transition, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("malformed transition record: %w", utils.ErrBadRequest)
	}

	obsLen := int(record[0])
	record = record[1:]
	if obsLen < 0 || len(record) < obsLen+3 {
		return nil, fmt.Errorf("malformed transition record: %w", utils.ErrBadRequest)
	}
	obs := record[:obsLen]
	record = record[obsLen:]

	actionLen := int(record[0])
	record = record[1:]
	if actionLen < 0 || len(record) != actionLen+2 {
		return nil, fmt.Errorf("malformed transition record: %w", utils.ErrBadRequest)
	}
	action := record[:actionLen]
	record = record[actionLen:]

	return &Transition{
		Obs:    obs,
		Action: action,
		Reward: float64(record[0]),
		Done:   record[1] != 0,
	}, nil
}
