package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager_SerializesWriters(t *testing.T) {
	lm := NewLockManager()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lm.WithLock("req", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	var read int
	require.NoError(t, lm.WithReadLock("req", func() error {
		read = counter
		return nil
	}))
	assert.Equal(t, 50, read)
}

func TestLockManager_CleanupOnlyIdleLocks(t *testing.T) {
	lm := NewLockManager()
	lm.maxLocks = 1
	lm.lockTTL = time.Millisecond

	require.NoError(t, lm.WithLock("a", func() error { return nil }))
	require.NoError(t, lm.WithLock("b", func() error { return nil }))
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 2, lm.cleanupUnusedLocks())
	assert.Empty(t, lm.locks)
}
