package accounts

import (
	"sync"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// MemoryDB keeps accounts in a map. It backs tests and banks opened without
// an accounts path.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB returns an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{accounts: make(map[types.Pubkey]*Account)}
}

func (m *MemoryDB) read(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn()
}

func (m *MemoryDB) write(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	fn()
	return nil
}

func (m *MemoryDB) put(e AccountEntry) {
	if e.Account.IsZero() {
		delete(m.accounts, e.Pubkey)
		return
	}
	m.accounts[e.Pubkey] = e.Account.Clone()
}

func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	var acc *Account
	err := m.read(func() error {
		stored, ok := m.accounts[pubkey]
		if !ok {
			return ErrAccountNotFound
		}
		acc = stored.Clone()
		return nil
	})
	return acc, err
}

func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.write(func() { m.put(AccountEntry{Pubkey: pubkey, Account: account}) })
}

func (m *MemoryDB) ApplyChanges(entries []AccountEntry) error {
	return m.write(func() {
		for _, e := range entries {
			m.put(e)
		}
	})
}

// IterateAccounts visits a copy of the state taken under the read lock, so fn
// may call back into the database.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	var entries []AccountEntry
	err := m.read(func() error {
		entries = make([]AccountEntry, 0, len(m.accounts))
		for k, v := range m.accounts {
			entries = append(entries, AccountEntry{Pubkey: k, Account: v.Clone()})
		}
		return nil
	})
	if err != nil {
		return err
	}
	sortEntries(entries)
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

func (m *MemoryDB) SetSlot(slot uint64) error {
	return m.write(func() { m.slot = slot })
}

// Len returns the number of stored accounts.
func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// Commit has nothing to persist.
func (m *MemoryDB) Commit() error {
	return m.read(func() error { return nil })
}

func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)
