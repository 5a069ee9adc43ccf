package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/remote"
)

var _ remote.KeyGenerator = (*SequentialKeys)(nil)

func TestSequentialKeys_StartsAtZero(t *testing.T) {
	keys := NewSequentialKeys("")
	assert.Equal(t, int64(0), keys.Current())
	assert.Equal(t, "key-0001", keys.Generate())
}

func TestSequentialKeys_Monotonic(t *testing.T) {
	keys := NewSequentialKeys("todo-")

	assert.Equal(t, "todo-0001", keys.Generate())
	assert.Equal(t, "todo-0002", keys.Generate())
	assert.Equal(t, "todo-0003", keys.Generate())
	assert.Equal(t, int64(3), keys.Current())
}

func TestSequentialKeys_Reset(t *testing.T) {
	keys := NewSequentialKeys("")
	keys.Generate()
	keys.Generate()

	keys.Reset()
	assert.Equal(t, int64(0), keys.Current())
	assert.Equal(t, "key-0001", keys.Generate())
}

func TestSequentialKeys_ThreadSafe(t *testing.T) {
	keys := NewSequentialKeys("")
	const goroutines = 50
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				k := keys.Generate()
				mu.Lock()
				seen[k] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*perGoroutine, "keys must be unique")
	assert.Equal(t, int64(goroutines*perGoroutine), keys.Current())
}
