package handles

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeCallSerializesGroup(t *testing.T) {
	lp := NewLockPool()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lp.SafeCall(MemoryManagement, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestSafeCallReleasesOnError(t *testing.T) {
	lp := NewLockPool()
	boom := errors.New("boom")
	require.ErrorIs(t, lp.SafeCall(BufferManagement, func() error { return boom }), boom)
	// The group must be free again.
	require.NoError(t, lp.SafeCall(BufferManagement, func() error { return nil }))
}

func TestGroupsAreIndependent(t *testing.T) {
	lp := NewLockPool()
	err := lp.SafeCall(DeviceManagement, func() error {
		return lp.SafeCall(MemoryManagement, func() error {
			return lp.SafeQueueCall(0, func() error { return nil })
		})
	})
	require.NoError(t, err)
}

func TestQueueCallOnUnregisteredFamily(t *testing.T) {
	lp := NewLockPool()
	lp.SetQueueFamily(0)
	called := false
	require.NoError(t, lp.SafeQueueCall(3, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestNilCallbacks(t *testing.T) {
	s := New(nil, nil)
	assert.Nil(t, s.CB(0))
}
