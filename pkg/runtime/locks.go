package runtime

import (
	"context"
	"sync"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// lockTable serializes transactions with conflicting account sets. A writable
// account excludes every other transaction referencing it; read-only accounts
// are shared. Acquisition is all-or-nothing.
type lockTable struct {
	mu       sync.Mutex
	writers  map[types.Pubkey]struct{}
	readers  map[types.Pubkey]int
	released chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		writers:  make(map[types.Pubkey]struct{}),
		readers:  make(map[types.Pubkey]int),
		released: make(chan struct{}),
	}
}

func (t *lockTable) availableLocked(writable, readonly []types.Pubkey) bool {
	for _, k := range writable {
		if _, ok := t.writers[k]; ok {
			return false
		}
		if t.readers[k] > 0 {
			return false
		}
	}
	for _, k := range readonly {
		if _, ok := t.writers[k]; ok {
			return false
		}
	}
	return true
}

// acquire blocks until every account can be locked or ctx is done.
func (t *lockTable) acquire(ctx context.Context, writable, readonly []types.Pubkey) error {
	for {
		t.mu.Lock()
		if t.availableLocked(writable, readonly) {
			for _, k := range writable {
				t.writers[k] = struct{}{}
			}
			for _, k := range readonly {
				t.readers[k]++
			}
			t.mu.Unlock()
			return nil
		}
		wait := t.released
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// release drops the locks taken by acquire and wakes waiters.
func (t *lockTable) release(writable, readonly []types.Pubkey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range writable {
		delete(t.writers, k)
	}
	for _, k := range readonly {
		if t.readers[k] <= 1 {
			delete(t.readers, k)
		} else {
			t.readers[k]--
		}
	}
	close(t.released)
	t.released = make(chan struct{})
}
