package middleware

import (
	"bytes"
	"testing"
	"time"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
)

type storeConfig struct {
	maxSize int64
}

func (c *storeConfig) MaxSize() int64 {
	return c.maxSize
}

type StoreTestSuite struct {
	suite.Suite
	store  Middleware
	create func(config StoreConfig) Middleware
}

func (suite *StoreTestSuite) SetupTest() {
	suite.store = suite.create(&storeConfig{maxSize: 1 << 20})
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.store.Close()
}

func (suite *StoreTestSuite) TestPublishFetch() {
	payload := bytes.Repeat([]byte("stepdata"), 1024)

	meta, err := suite.store.Publish(protocol.PayloadStepData, payload)
	suite.Require().NoError(err)
	suite.Equal(protocol.PayloadStepData, meta.Kind)
	suite.NotEmpty(meta.Handle)

	fetched, err := suite.store.Fetch(meta.Handle)
	suite.Require().NoError(err)
	suite.Equal(payload, fetched)
}

func (suite *StoreTestSuite) TestFetchUnknownHandle() {
	_, err := suite.store.Fetch("stepdata/no/such-handle")
	suite.ErrorIs(err, utils.ErrNotFound)

	stats := suite.store.Statistics()
	suite.Equal(int64(1), stats.Misses)
}

func (suite *StoreTestSuite) TestDiscard() {
	meta, err := suite.store.Publish(protocol.PayloadPolicy, []byte("state-dict"))
	suite.Require().NoError(err)

	suite.NoError(suite.store.Discard(meta.Handle))

	_, err = suite.store.Fetch(meta.Handle)
	suite.ErrorIs(err, utils.ErrNotFound)

	suite.ErrorIs(suite.store.Discard(meta.Handle), utils.ErrNotFound)
}

func (suite *StoreTestSuite) TestStatistics() {
	_, err := suite.store.Publish(protocol.PayloadStepData, []byte("one"))
	suite.Require().NoError(err)
	meta, err := suite.store.Publish(protocol.PayloadStepData, []byte("two"))
	suite.Require().NoError(err)

	_, err = suite.store.Fetch(meta.Handle)
	suite.Require().NoError(err)

	stats := suite.store.Statistics()
	suite.Equal(int64(2), stats.Payloads)
	suite.Equal(int64(1), stats.Hits)
}

func TestMemStore(t *testing.T) {
	s := &StoreTestSuite{
		create: func(config StoreConfig) Middleware {
			return NewMemStore()
		},
	}
	suite.Run(t, s)
}

func TestFsStore(t *testing.T) {
	s := &StoreTestSuite{
		create: func(config StoreConfig) Middleware {
			store, err := NewFsStore(afero.NewMemMapFs(), config)
			if err != nil {
				t.Fatal(err)
			}
			return store
		},
	}
	suite.Run(t, s)
}

func TestFsStoreReloadEvictsOldestFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFsStore(fs, &storeConfig{maxSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}

	metas := []*Meta{}
	var total int64
	for i := 0; i < 3; i++ {
		meta, err := store.Publish(protocol.PayloadStepData, bytes.Repeat([]byte{byte('a' + i)}, 256))
		if err != nil {
			t.Fatal(err)
		}
		metas = append(metas, meta)
		total += meta.Size
	}
	store.Close()

	// The second payload is the least recently touched on disk.
	now := time.Now()
	times := []time.Time{now.Add(-time.Hour), now.Add(-3 * time.Hour), now.Add(-2 * time.Hour)}
	for i, meta := range metas {
		if err := fs.Chtimes(meta.Handle, times[i], times[i]); err != nil {
			t.Fatal(err)
		}
	}

	// Reopening with room for all but one must evict it, not a
	// payload that happens to walk first.
	reopened, err := NewFsStore(fs, &storeConfig{maxSize: total - 1})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if _, err := reopened.Fetch(metas[1].Handle); err == nil {
		t.Error("expected the least recently touched payload to have been evicted")
	}
	for _, i := range []int{0, 2} {
		if _, err := reopened.Fetch(metas[i].Handle); err != nil {
			t.Errorf("payload %s should have survived the reload: %v", metas[i].Handle, err)
		}
	}
}

func TestFsStoreEviction(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFsStore(fs, &storeConfig{maxSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// Incompressible payloads so each one exceeds half the budget.
	first, err := store.Publish(protocol.PayloadStepData, []byte("abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGH"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Publish(protocol.PayloadStepData, []byte("ZYXWVUTSRQPONMLKJIHGFEDCBA9876543210zyxwvuts"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Fetch(first.Handle); err == nil {
		t.Error("expected oldest payload to have been evicted")
	}

	stats := store.Statistics()
	if stats.Evictions == 0 {
		t.Error("expected at least one eviction")
	}
}
