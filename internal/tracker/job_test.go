package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipaJopa/agent-results/internal/storage"
)

// overlapStore flags any two ingestion passes touching the store at the
// same time.
type overlapStore struct {
	storage.Store
	active     int32
	overlapped atomic.Bool
}

func (o *overlapStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if atomic.AddInt32(&o.active, 1) > 1 {
		o.overlapped.Store(true)
	}
	time.Sleep(10 * time.Millisecond)
	defer atomic.AddInt32(&o.active, -1)
	return o.Store.List(ctx, prefix)
}

func TestJob_RunsAreSerialized(t *testing.T) {
	store := &overlapStore{Store: storage.NewMemoryStore()}
	trk := newTestTracker(store, nil)
	job := NewJob(trk, nil, zerolog.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = job.Run()
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.False(t, store.overlapped.Load(), "concurrent runs reached the store together")
}
