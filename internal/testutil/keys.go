package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeys generates child keys from a monotonic counter:
// "<prefix>0001", "<prefix>0002", ...
//
// Unlike remote.FixedGenerator it never runs out, and it can be reset so the
// same scenario produces identical keys on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialKeys struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequentialKeys creates a generator starting at 0. An empty prefix
// defaults to "key-".
//
// The first call to Generate() returns "key-0001".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "key-"
	}
	return &SequentialKeys{prefix: prefix}
}

// Generate increments the counter and returns the next key.
// Implements remote.KeyGenerator.
func (k *SequentialKeys) Generate() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seq++
	return fmt.Sprintf("%s%04d", k.prefix, k.seq)
}

// Current returns the number of keys generated so far.
func (k *SequentialKeys) Current() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seq
}

// Reset resets the counter. After Reset(), Generate() returns the first key
// again.
func (k *SequentialKeys) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seq = 0
}
