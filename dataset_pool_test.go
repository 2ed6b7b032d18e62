package Govrt

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedDataset 记录关闭次数的数据集
type trackedDataset struct {
	*MemDataset
	path    string
	tracker *openTracker
}

func (d *trackedDataset) Close() error {
	d.tracker.mu.Lock()
	defer d.tracker.mu.Unlock()
	d.tracker.closes[d.path]++
	return nil
}

type openTracker struct {
	mu     sync.Mutex
	opens  map[string]int
	closes map[string]int
	fail   map[string]error
}

func newOpenTracker() *openTracker {
	return &openTracker{opens: map[string]int{}, closes: map[string]int{}, fail: map[string]error{}}
}

func (o *openTracker) open(path string, depth int) (Dataset, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[path]; err != nil {
		return nil, err
	}
	o.opens[path]++
	return &trackedDataset{MemDataset: NewMemDataset(1, 1, 1, TypeByte), path: path, tracker: o}, nil
}

func (o *openTracker) count(m map[string]int, path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m[path]
}

func TestPoolSharedHandles(t *testing.T) {
	tr := newOpenTracker()
	pool := NewSourceDatasetPool(10, tr.open)

	h1, err := pool.Acquire("a.tif", true, 1)
	require.NoError(t, err)
	h2, err := pool.Acquire("a.tif", true, 1)
	require.NoError(t, err)

	assert.Same(t, h1.Dataset(), h2.Dataset())
	assert.Equal(t, 1, tr.count(tr.opens, "a.tif"))
	st := pool.Stats()
	assert.Equal(t, 1, st.Handles)
	assert.Equal(t, 1, st.Referenced)

	h1.Release()
	h2.Release()
	st = pool.Stats()
	assert.Equal(t, 1, st.Handles)
	assert.Equal(t, 0, st.Referenced)
	assert.Equal(t, 0, tr.count(tr.closes, "a.tif"))

	pool.Close()
	assert.Equal(t, 1, tr.count(tr.closes, "a.tif"))
	assert.Equal(t, 0, pool.Stats().Handles)
}

func TestPoolPrivateHandles(t *testing.T) {
	tr := newOpenTracker()
	pool := NewSourceDatasetPool(10, tr.open)

	h1, err := pool.Acquire("a.tif", false, 1)
	require.NoError(t, err)
	h2, err := pool.Acquire("a.tif", false, 1)
	require.NoError(t, err)

	assert.NotSame(t, h1.Dataset(), h2.Dataset())
	assert.Equal(t, 2, tr.count(tr.opens, "a.tif"))
	assert.Equal(t, 2, pool.Stats().Private)

	h1.Release()
	h1.Release()
	assert.Equal(t, 1, tr.count(tr.closes, "a.tif"))
	h2.Release()
	assert.Equal(t, 2, tr.count(tr.closes, "a.tif"))
	assert.Equal(t, 0, pool.Stats().Handles)
}

func TestPoolEvictsLeastRecentlyUsed(t *testing.T) {
	tr := newOpenTracker()
	pool := NewSourceDatasetPool(2, tr.open)

	acquireRelease := func(path string) {
		h, err := pool.Acquire(path, true, 1)
		require.NoError(t, err)
		h.Release()
	}
	acquireRelease("a.tif")
	acquireRelease("b.tif")
	acquireRelease("a.tif")
	acquireRelease("c.tif")

	st := pool.Stats()
	assert.Equal(t, 2, st.Handles)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, 1, tr.count(tr.closes, "b.tif"))
	assert.Equal(t, 0, tr.count(tr.closes, "a.tif"))

	acquireRelease("a.tif")
	assert.Equal(t, 1, tr.count(tr.opens, "a.tif"))
}

func TestPoolSoftBound(t *testing.T) {
	tr := newOpenTracker()
	pool := NewSourceDatasetPool(1, tr.open)

	ha, err := pool.Acquire("a.tif", true, 1)
	require.NoError(t, err)
	hb, err := pool.Acquire("b.tif", true, 1)
	require.NoError(t, err)

	st := pool.Stats()
	assert.Equal(t, 2, st.Handles)
	assert.Equal(t, 2, st.Referenced)
	assert.Equal(t, 0, tr.count(tr.closes, "a.tif"))

	hb.Release()
	assert.Equal(t, 1, tr.count(tr.closes, "b.tif"))
	assert.Equal(t, 1, pool.Stats().Handles)

	ha.Release()
	assert.Equal(t, 0, tr.count(tr.closes, "a.tif"))
	assert.Equal(t, 1, pool.Stats().Handles)
}

func TestPoolConcurrentAcquire(t *testing.T) {
	tr := newOpenTracker()
	pool := NewSourceDatasetPool(10, tr.open)

	const n = 32
	handles := make([]*PoolHandle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := pool.Acquire("shared.tif", true, 1)
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		require.NotNil(t, h)
		assert.Same(t, handles[0].Dataset(), h.Dataset())
	}
	assert.Equal(t, 1, pool.Stats().Handles)
	assert.Equal(t, 1, tr.count(tr.opens, "shared.tif")-tr.count(tr.closes, "shared.tif"))

	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, 0, pool.Stats().Referenced)
}

func TestPoolOpenError(t *testing.T) {
	tr := newOpenTracker()
	boom := errors.New("boom")
	tr.fail["bad.tif"] = boom
	pool := NewSourceDatasetPool(10, tr.open)

	_, err := pool.Acquire("bad.tif", true, 1)
	assert.ErrorIs(t, err, boom)
	_, err = pool.Acquire("bad.tif", false, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.Stats().Handles)
}
