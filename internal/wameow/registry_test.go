package wameow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFactory(created *int32) Factory {
	return func(sessionID int64, deviceID, name string) (Client, error) {
		atomic.AddInt32(created, 1)
		return &fakeClient{}, nil
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	var created int32
	r := NewRegistry(countingFactory(&created))

	a1, err := r.GetOrCreate(100, "dev-1", "first")
	require.NoError(t, err)
	a2, err := r.GetOrCreate(100, "dev-1", "first")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	assert.Equal(t, 1, r.Len())
}

func TestGetOrCreateConcurrentSingleClient(t *testing.T) {
	var created int32
	r := NewRegistry(countingFactory(&created))

	var wg sync.WaitGroup
	adapters := make([]*Adapter, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.GetOrCreate(100, "dev-1", "first")
			assert.NoError(t, err)
			adapters[i] = a
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	assert.Equal(t, 1, r.Len())
	for _, a := range adapters {
		assert.Same(t, adapters[0], a)
	}
}

func TestLookupDoesNotCreate(t *testing.T) {
	var created int32
	r := NewRegistry(countingFactory(&created))

	_, ok := r.Lookup(100, "dev-1")
	assert.False(t, ok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&created))

	a, err := r.GetOrCreate(100, "dev-1", "first")
	require.NoError(t, err)
	got, ok := r.Lookup(100, "dev-1")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestDisposeLogsOutAndRemoves(t *testing.T) {
	client := &fakeClient{}
	r := NewRegistry(func(int64, string, string) (Client, error) { return client, nil })

	_, err := r.GetOrCreate(100, "dev-1", "first")
	require.NoError(t, err)

	r.Dispose(context.Background(), 100, "dev-1")
	assert.True(t, client.loggedOut)
	_, ok := r.Lookup(100, "dev-1")
	assert.False(t, ok)

	// disposing an absent key is a no-op
	r.Dispose(context.Background(), 100, "dev-1")
	assert.Equal(t, 0, r.Len())
}

func TestKeyLocksReleasedAfterChurn(t *testing.T) {
	var created int32
	r := NewRegistry(countingFactory(&created))

	for i := 0; i < 50; i++ {
		_, err := r.GetOrCreate(100, "dev-1", "first")
		require.NoError(t, err)
		r.Dispose(context.Background(), 100, "dev-1")
	}

	r.keyMu.Lock()
	remaining := len(r.keyLock)
	r.keyMu.Unlock()
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, r.Len())
}

func TestSessionAdaptersAndDrain(t *testing.T) {
	var created int32
	r := NewRegistry(countingFactory(&created))

	for _, dev := range []string{"dev-1", "dev-2"} {
		_, err := r.GetOrCreate(100, dev, dev)
		require.NoError(t, err)
	}
	_, err := r.GetOrCreate(200, "dev-1", "other")
	require.NoError(t, err)

	assert.Len(t, r.SessionAdapters(100), 2)
	assert.Len(t, r.SessionAdapters(200), 1)
	assert.Equal(t, 3, r.Len())

	r.Drain(context.Background())
	assert.Equal(t, 0, r.Len())
}
