package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostSemaphorePool_LimitPerHost(t *testing.T) {
	pool := NewHostSemaphorePool(2, testLogger())

	r1, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)
	r2, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, "host-a")
	require.ErrorIs(t, err, context.DeadlineExceeded, "third permit must wait for a release")

	r1()
	r3, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)

	r2()
	r3()
}

func TestHostSemaphorePool_HostsAreIndependent(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())

	ra, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)
	rb, err := pool.Acquire(context.Background(), "host-b")
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len())

	ra()
	rb()
}

func TestHostSemaphorePool_ReleaseIsIdempotent(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())

	release, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)
	release()
	release() // A second call must not free a permit it does not hold

	r1, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, "host-a")
	assert.Error(t, err)
}

func TestHostSemaphorePool_NonPositiveLimit(t *testing.T) {
	pool := NewHostSemaphorePool(0, testLogger())
	release, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)
	release()
}

func TestHostSemaphorePool_EvictIdle(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())

	idle, err := pool.Acquire(context.Background(), "idle.test")
	require.NoError(t, err)
	idle()

	busy, err := pool.Acquire(context.Background(), "busy.test")
	require.NoError(t, err)
	defer busy()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, pool.evictIdle(10*time.Millisecond))
	assert.Equal(t, 1, pool.Len(), "host with a held permit must survive eviction")
}

func TestHostSemaphorePool_CancelledWaiterRollsBack(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())

	release, err := pool.Acquire(context.Background(), "host-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx, "host-a")
	require.Error(t, err)

	release()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, pool.evictIdle(time.Millisecond), "cancelled waiter must not pin the host")
}

func TestHostSemaphorePool_RunEvictionStopsOnCancel(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pool.RunEviction(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunEviction did not return after cancel")
	}
}

func TestHostSemaphorePool_ConcurrentHoldersNeverExceedLimit(t *testing.T) {
	const limit = 3
	pool := NewHostSemaphorePool(limit, testLogger())

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := pool.Acquire(context.Background(), "example.com")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Equal(t, int32(0), active.Load())
}
