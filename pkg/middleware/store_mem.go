package middleware

import (
	"sync"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
	"github.com/google/uuid"
)

// An in-memory payload store. Used when learners and collectors
// share a process, and in tests.
type memStore struct {
	sync.RWMutex

	payloads map[string][]byte
	stats    StoreStats
}

func NewMemStore() *memStore {
	return &memStore{
		payloads: map[string][]byte{},
	}
}

func (s *memStore) Publish(kind protocol.PayloadKind, payload []byte) (*Meta, error) {
	id, _ := uuid.NewRandom()
	handle := string(kind) + "/" + id.String()

	data := make([]byte, len(payload))
	copy(data, payload)

	s.Lock()
	defer s.Unlock()

	s.payloads[handle] = data
	s.stats.Payloads++
	s.stats.Size += int64(len(data))

	return &Meta{
		Handle: handle,
		Kind:   kind,
		Size:   int64(len(data)),
	}, nil
}

func (s *memStore) Fetch(handle string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	data, ok := s.payloads[handle]
	if !ok {
		s.stats.Misses++
		return nil, utils.ErrNotFound
	}

	s.stats.Hits++

	payload := make([]byte, len(data))
	copy(payload, data)
	return payload, nil
}

func (s *memStore) Discard(handle string) error {
	s.Lock()
	defer s.Unlock()

	data, ok := s.payloads[handle]
	if !ok {
		return utils.ErrNotFound
	}

	delete(s.payloads, handle)
	s.stats.Payloads--
	s.stats.Size -= int64(len(data))
	return nil
}

func (s *memStore) Statistics() StoreStats {
	s.RLock()
	defer s.RUnlock()
	return s.stats
}

func (s *memStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.payloads = map[string][]byte{}
	return nil
}
