package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// Badger key layout: 'a' + pubkey for accounts, 'm' + name for metadata.
const (
	accountPrefix byte = 'a'
	metaPrefix    byte = 'm'
)

var slotKey = []byte{metaPrefix, 's', 'l', 'o', 't'}

func accountKey(pubkey types.Pubkey) []byte {
	return append([]byte{accountPrefix}, pubkey[:]...)
}

// BadgerDBConfig configures a BadgerDB.
type BadgerDBConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	SyncWrites bool

	// Logger receives badger's own logs. A logrus.FieldLogger satisfies it;
	// nil silences badger.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns a durable configuration rooted at path.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{Path: path, SyncWrites: true}
}

// BadgerDB stores accounts in badger under accountKey in the Account.Encode
// format. The slot lives in memory and is written on Commit and Close.
type BadgerDB struct {
	db     *badger.DB
	slot   atomic.Uint64
	closed atomic.Bool
}

// NewBadgerDB opens or creates a badger database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	b := &BadgerDB{db: db}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("slot metadata is %d bytes", len(val))
			}
			b.slot.Store(binary.LittleEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return b, nil
}

func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var acc *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) (err error) {
			acc, err = DecodeAccount(val)
			return err
		})
	})
	return acc, err
}

func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.ApplyChanges([]AccountEntry{{Pubkey: pubkey, Account: account}})
}

// ApplyChanges writes entries in one badger transaction.
func (b *BadgerDB) ApplyChanges(entries []AccountEntry) error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			key := accountKey(e.Pubkey)
			var err error
			if e.Account.IsZero() {
				err = txn.Delete(key)
			} else {
				err = txn.Set(key, e.Account.Encode())
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %d changes: %w", len(entries), err)
	}
	return nil
}

func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{accountPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			pubkey, err := types.PubkeyFromBytes(item.Key()[1:])
			if err != nil {
				return fmt.Errorf("account key: %w", err)
			}
			err = item.Value(func(val []byte) error {
				acc, err := DecodeAccount(val)
				if err != nil {
					return fmt.Errorf("account %s: %w", pubkey, err)
				}
				return fn(pubkey, acc)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot records slot in memory until the next Commit.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.slot.Store(slot)
	return nil
}

func (b *BadgerDB) Commit() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.writeSlot()
}

func (b *BadgerDB) writeSlot() error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(slotKey, binary.LittleEndian.AppendUint64(nil, b.slot.Load()))
	})
}

// Close writes the slot and closes badger.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	slotErr := b.writeSlot()
	if err := b.db.Close(); err != nil {
		return err
	}
	return slotErr
}

var _ DB = (*BadgerDB)(nil)
