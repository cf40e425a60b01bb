package middleware

import (
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

type fsItem struct {
	access time.Time
	handle string
	size   int64
}

func (i *fsItem) Key() string {
	return i.handle
}

func (i *fsItem) Size() int64 {
	return i.size
}

// A filesystem payload store. Payloads are compressed with zstd
// and evicted least recently used first when the store exceeds
// its maximum size.
type fsStore struct {
	sync.Mutex

	fs      afero.Fs
	lru     *utils.LRU[*fsItem]
	stats   StoreStats
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewFsStore(fs afero.Fs, config StoreConfig) (*fsStore, error) {
	log.Info("Middleware store maximum size:", utils.HumanByteSize(config.MaxSize()))

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	store := &fsStore{
		fs:      fs,
		encoder: encoder,
		decoder: decoder,
	}

	store.lru = utils.NewLRU[*fsItem](config.MaxSize(), func(item *fsItem) bool {
		store.stats.Evictions++

		log.Tracef("Evicting %s (%s)", item.handle, utils.HumanByteSize(item.size))
		fs.Remove(item.handle)
		return true
	})

	if err := store.load(); err != nil {
		return nil, err
	}

	return store, nil
}

// Load payloads left behind by an earlier run into the LRU.
// Oldest payloads are inserted first so that the first evictions
// after a restart hit the least recently touched files.
func (s *fsStore) load() error {
	items := []*fsItem{}

	err := afero.Walk(s.fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}

		items = append(items, &fsItem{
			access: info.ModTime(),
			handle: path,
			size:   info.Size(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].access.Before(items[j].access)
	})

	for _, item := range items {
		s.lru.Add(item)
	}

	if len(items) > 0 {
		log.Infof("Loaded %d payloads into middleware store. Size: %s",
			len(items), utils.HumanByteSize(s.lru.Size()))
	}

	return nil
}

func (s *fsStore) newHandle(kind protocol.PayloadKind) string {
	id, _ := uuid.NewRandom()
	hex := id.String()
	return path.Join(string(kind), hex[:2], hex[2:])
}

func (s *fsStore) Publish(kind protocol.PayloadKind, payload []byte) (*Meta, error) {
	handle := s.newHandle(kind)
	data := s.encoder.EncodeAll(payload, nil)

	s.Lock()
	defer s.Unlock()

	if err := s.fs.MkdirAll(path.Dir(handle), 0777); err != nil {
		return nil, err
	}

	if err := afero.WriteFile(s.fs, handle, data, 0666); err != nil {
		return nil, err
	}

	s.lru.Add(&fsItem{
		access: time.Now(),
		handle: handle,
		size:   int64(len(data)),
	})
	s.stats.Payloads++

	return &Meta{
		Handle: handle,
		Kind:   kind,
		Size:   int64(len(data)),
	}, nil
}

func (s *fsStore) Fetch(handle string) ([]byte, error) {
	s.Lock()

	item, ok := s.lru.Get(handle)
	if !ok {
		s.stats.Misses++
		s.Unlock()
		return nil, utils.ErrNotFound
	}

	data, err := afero.ReadFile(s.fs, handle)
	if err != nil {
		log.Warn("inconsistent store: payload not found on disk:", handle)
		s.lru.Remove(handle)
		s.stats.Misses++
		s.Unlock()
		return nil, utils.ErrNotFound
	}

	item.access = time.Now()
	s.stats.Hits++
	s.Unlock()

	return s.decoder.DecodeAll(data, nil)
}

func (s *fsStore) Discard(handle string) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.lru.Get(handle); !ok {
		return utils.ErrNotFound
	}

	s.lru.Remove(handle)
	s.stats.Payloads--
	return s.fs.Remove(handle)
}

func (s *fsStore) Statistics() StoreStats {
	s.Lock()
	defer s.Unlock()

	stats := s.stats
	stats.Payloads = int64(s.lru.Count())
	stats.Size = s.lru.Size()
	return stats
}

func (s *fsStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return nil
}
