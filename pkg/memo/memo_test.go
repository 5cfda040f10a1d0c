package memo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("ds1", "what is the overdue rate")
	b := Fingerprint("ds1", "what is the overdue rate")
	c := Fingerprint("ds2", "what is the overdue rate")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// Part boundaries matter: ("ab","c") must differ from ("a","bc").
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestGetPut(t *testing.T) {
	c := NewCache[string](time.Minute)
	defer c.Stop()

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Put("k", "v", 0)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestGetOrComputeCaches(t *testing.T) {
	c := NewCache[int](time.Minute)
	defer c.Stop()

	var calls atomic.Int32
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		return 42, nil
	}

	v, err := c.GetOrCompute(context.Background(), "k", 0, compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrCompute(context.Background(), "k", 0, compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeSingleflight(t *testing.T) {
	c := NewCache[int](time.Minute)
	defer c.Stop()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		close(started)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "same", 0, compute)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := NewCache[int](time.Minute)
	defer c.Stop()

	var calls atomic.Int32
	_, err := c.GetOrCompute(context.Background(), "k", 0, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, assert.AnError
	})
	require.Error(t, err)

	v, err := c.GetOrCompute(context.Background(), "k", 0, func(context.Context) (int, error) {
		calls.Add(1)
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTTLExpiry(t *testing.T) {
	c := NewCache[string](10 * time.Millisecond)
	defer c.Stop()

	c.Put("k", "v", 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
