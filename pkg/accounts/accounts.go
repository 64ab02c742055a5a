// Package accounts stores the account state the staking runtime executes against.
//
// Every piece of on-chain state, wallets, token accounts, mints, program records
// and sysvars, is an Account keyed by its address. The runtime loads the
// accounts a transaction declares, executes against working copies and hands
// the modified set back through ApplyChanges, which backends apply atomically.
package accounts

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account cannot be decoded.
	ErrInvalidData = errors.New("invalid account data")

	// ErrSnapshotNotFound is returned when a snapshot doesn't exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// MaxDataSize is the maximum account data size.
const MaxDataSize = 10 * 1024 * 1024

// Account is the state stored at one address.
type Account struct {
	Lamports uint64
	Data     []byte

	// Owner is the program allowed to modify Data and debit Lamports.
	Owner types.Pubkey

	Executable bool
	RentEpoch  uint64
}

// Clone returns a deep copy of a. Clone of nil is nil.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = bytes.Clone(a.Data)
	if c.Data == nil {
		c.Data = []byte{}
	}
	return &c
}

// Equal reports whether a and other hold identical state.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Lamports == other.Lamports &&
		a.Owner == other.Owner &&
		a.Executable == other.Executable &&
		a.RentEpoch == other.RentEpoch &&
		bytes.Equal(a.Data, other.Data)
}

// IsZero reports whether the account has no lamports and no data. Backends
// delete zero accounts instead of storing them.
func (a *Account) IsZero() bool {
	return a == nil || (a.Lamports == 0 && len(a.Data) == 0)
}

// MarshalWithEncoder writes lamports, owner, executable, rent epoch and the
// length-prefixed data.
func (a *Account) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(a.Lamports, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.Owner[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBool(a.Executable); err != nil {
		return err
	}
	if err := encoder.WriteUint64(a.RentEpoch, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(uint64(len(a.Data)), bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(a.Data, false)
}

// UnmarshalWithDecoder is the inverse of MarshalWithEncoder.
func (a *Account) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if a.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	owner, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return err
	}
	copy(a.Owner[:], owner)
	if a.Executable, err = decoder.ReadBool(); err != nil {
		return err
	}
	if a.RentEpoch, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	size, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if size > MaxDataSize || size > uint64(decoder.Remaining()) {
		return fmt.Errorf("data length %d", size)
	}
	data, err := decoder.ReadBytes(int(size))
	if err != nil {
		return err
	}
	a.Data = bytes.Clone(data)
	if a.Data == nil {
		a.Data = []byte{}
	}
	return nil
}

// Encode returns the storage encoding of a.
func (a *Account) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(8 + types.PubkeySize + 1 + 8 + 8 + len(a.Data))
	// Writes to a bytes.Buffer do not fail.
	_ = a.MarshalWithEncoder(bin.NewBinEncoder(&buf))
	return buf.Bytes()
}

// DecodeAccount decodes the output of Encode.
func DecodeAccount(data []byte) (*Account, error) {
	a := new(Account)
	if err := a.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return a, nil
}

// AccountEntry pairs an address with its account. A nil or zero Account
// deletes the address.
type AccountEntry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database. Implementations are safe for concurrent use.
type DB interface {
	// GetAccount returns a copy of the account at pubkey, or
	// ErrAccountNotFound.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores one account, deleting it when zero.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// ApplyChanges stores every entry in one atomic step.
	ApplyChanges(entries []AccountEntry) error

	// IterateAccounts calls fn for every stored account in ascending pubkey
	// order. An error from fn stops iteration and is returned.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot and SetSlot track the slot the stored state belongs to.
	GetSlot() uint64
	SetSlot(slot uint64) error

	// Commit persists pending metadata.
	Commit() error

	Close() error
}
