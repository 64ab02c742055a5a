package staking

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// Record sizes.
const (
	ContractRecordSize = 1 + 3*32 + 9*8
	UserRecordSize     = 1 + 32 + 1 + 6*8
)

// StakeType is the interest policy of a stake.
type StakeType uint8

// Stake types.
const (
	StakeNormal StakeType = 0
	StakeLocked StakeType = 1
)

// ParseStakeType validates a wire stake type byte.
func ParseStakeType(b uint8) (StakeType, error) {
	switch StakeType(b) {
	case StakeNormal, StakeLocked:
		return StakeType(b), nil
	default:
		return 0, wrap(ErrInvalidInstructionData, "stake type %d", b)
	}
}

func (s StakeType) String() string {
	switch s {
	case StakeNormal:
		return "NORMAL"
	case StakeLocked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// ContractRecord is the per admin and mint pool state.
type ContractRecord struct {
	IsInitialized       bool
	Admin               types.Pubkey
	StakeMint           types.Pubkey
	StakeVault          types.Pubkey
	MinimumStakeAmount  uint64
	MinimumLockDuration uint64
	NormalApy           uint64
	LockedApy           uint64
	EarlyWithdrawalFee  uint64
	TotalStaked         uint64
	TotalEarned         uint64
	FeeBasisPoints      uint64
	MaxFee              uint64
}

// UserRecord is one owner's stake position.
type UserRecord struct {
	IsInitialized   bool
	Owner           types.Pubkey
	StakeType       StakeType
	LockDuration    uint64
	TotalStaked     uint64
	InterestAccrued uint64
	StakeTs         uint64
	LastClaimTs     uint64
	LastUnstakeTs   uint64
}

// Apy returns the APY in force for stakeType.
func (c *ContractRecord) Apy(stakeType StakeType) uint64 {
	if stakeType == StakeLocked {
		return c.LockedApy
	}
	return c.NormalApy
}

func readFlag(dec *bin.Decoder) (bool, error) {
	b, err := dec.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, wrap(ErrInvalidAccountData, "flag byte %d", b)
	}
}

func readKey(dec *bin.Decoder) (types.Pubkey, error) {
	raw, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromBytes(raw)
}

// MarshalWithEncoder writes the fixed-width record layout.
func (c *ContractRecord) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBool(c.IsInitialized); err != nil {
		return err
	}
	for _, k := range []types.Pubkey{c.Admin, c.StakeMint, c.StakeVault} {
		if err := enc.WriteBytes(k[:], false); err != nil {
			return err
		}
	}
	return writeU64s(enc, c.MinimumStakeAmount, c.MinimumLockDuration, c.NormalApy, c.LockedApy,
		c.EarlyWithdrawalFee, c.TotalStaked, c.TotalEarned, c.FeeBasisPoints, c.MaxFee)
}

// UnmarshalWithDecoder reads the fixed-width record layout.
func (c *ContractRecord) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if c.IsInitialized, err = readFlag(dec); err != nil {
		return err
	}
	for _, k := range []*types.Pubkey{&c.Admin, &c.StakeMint, &c.StakeVault} {
		if *k, err = readKey(dec); err != nil {
			return err
		}
	}
	return readU64s(dec, &c.MinimumStakeAmount, &c.MinimumLockDuration, &c.NormalApy, &c.LockedApy,
		&c.EarlyWithdrawalFee, &c.TotalStaked, &c.TotalEarned, &c.FeeBasisPoints, &c.MaxFee)
}

// MarshalWithEncoder writes the fixed-width record layout.
func (u *UserRecord) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBool(u.IsInitialized); err != nil {
		return err
	}
	if err := enc.WriteBytes(u.Owner[:], false); err != nil {
		return err
	}
	if err := enc.WriteByte(uint8(u.StakeType)); err != nil {
		return err
	}
	return writeU64s(enc, u.LockDuration, u.TotalStaked, u.InterestAccrued, u.StakeTs, u.LastClaimTs, u.LastUnstakeTs)
}

// UnmarshalWithDecoder reads the fixed-width record layout.
func (u *UserRecord) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if u.IsInitialized, err = readFlag(dec); err != nil {
		return err
	}
	if u.Owner, err = readKey(dec); err != nil {
		return err
	}
	raw, err := dec.ReadByte()
	if err != nil {
		return err
	}
	if u.StakeType, err = ParseStakeType(raw); err != nil {
		return wrap(ErrInvalidAccountData, "stake type %d", raw)
	}
	return readU64s(dec, &u.LockDuration, &u.TotalStaked, &u.InterestAccrued, &u.StakeTs, &u.LastClaimTs, &u.LastUnstakeTs)
}

type record interface {
	MarshalWithEncoder(enc *bin.Encoder) error
	UnmarshalWithDecoder(dec *bin.Decoder) error
}

func unpack(data []byte, size int, r record) error {
	if len(data) != size {
		return wrap(ErrInvalidAccountData, "want %d bytes, got %d", size, len(data))
	}
	if err := r.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		if se, ok := err.(*Error); ok {
			return se
		}
		return wrap(ErrInvalidAccountData, "%v", err)
	}
	return nil
}

func pack(dst []byte, size int, r record) error {
	if len(dst) != size {
		return wrap(ErrInvalidAccountData, "want %d bytes, got %d", size, len(dst))
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := r.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return wrap(ErrInvalidAccountData, "%v", err)
	}
	copy(dst, buf.Bytes())
	return nil
}

// UnpackContractRecord decodes contract record data.
func UnpackContractRecord(data []byte) (*ContractRecord, error) {
	c := new(ContractRecord)
	if err := unpack(data, ContractRecordSize, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Pack encodes the record into dst, which must be ContractRecordSize long.
func (c *ContractRecord) Pack(dst []byte) error {
	return pack(dst, ContractRecordSize, c)
}

// UnpackUserRecord decodes user record data.
func UnpackUserRecord(data []byte) (*UserRecord, error) {
	u := new(UserRecord)
	if err := unpack(data, UserRecordSize, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Pack encodes the record into dst, which must be UserRecordSize long.
func (u *UserRecord) Pack(dst []byte) error {
	return pack(dst, UserRecordSize, u)
}
