package staking

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Instruction tags.
const (
	TagInit uint8 = iota
	TagStake
	TagUnstake
	TagUpdateApy
	TagUpdateTransferConfig
)

// Payload sizes, excluding the tag byte.
const (
	InitArgsSize                 = 7 * 8
	StakeArgsSize                = 1 + 3*8
	UnstakeArgsSize              = 8
	UpdateApyArgsSize            = 2 * 8
	UpdateTransferConfigArgsSize = 2 * 8
)

// Instruction is one decoded staking instruction. The set of implementations
// is closed: Init, Stake, Unstake, UpdateApy and UpdateTransferConfig.
type Instruction interface {
	// Tag returns the wire discriminant.
	Tag() uint8

	argsSize() int
	encodeArgs(enc *bin.Encoder) error
	decodeArgs(dec *bin.Decoder) error
}

// Init creates a contract record for an admin and mint pair.
type Init struct {
	MinimumStakeAmount  uint64
	MinimumLockDuration uint64
	NormalApy           uint64
	LockedApy           uint64
	EarlyWithdrawalFee  uint64
	FeeBasisPoints      uint64
	MaxFee              uint64
}

// Stake deposits Amount into the vault.
type Stake struct {
	StakeType    StakeType
	Amount       uint64
	Decimals     uint64
	LockDuration uint64
}

// Unstake withdraws the caller's whole position.
type Unstake struct {
	Decimals uint64
}

// UpdateApy replaces both APY parameters.
type UpdateApy struct {
	NormalApy uint64
	LockedApy uint64
}

// UpdateTransferConfig replaces the mirrored transfer fee parameters.
type UpdateTransferConfig struct {
	FeeBasisPoints uint64
	MaxFee         uint64
}

func (*Init) Tag() uint8                 { return TagInit }
func (*Stake) Tag() uint8                { return TagStake }
func (*Unstake) Tag() uint8              { return TagUnstake }
func (*UpdateApy) Tag() uint8            { return TagUpdateApy }
func (*UpdateTransferConfig) Tag() uint8 { return TagUpdateTransferConfig }

func (*Init) argsSize() int                 { return InitArgsSize }
func (*Stake) argsSize() int                { return StakeArgsSize }
func (*Unstake) argsSize() int              { return UnstakeArgsSize }
func (*UpdateApy) argsSize() int            { return UpdateApyArgsSize }
func (*UpdateTransferConfig) argsSize() int { return UpdateTransferConfigArgsSize }

func writeU64s(enc *bin.Encoder, values ...uint64) error {
	for _, v := range values {
		if err := enc.WriteUint64(v, bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func readU64s(dec *bin.Decoder, dst ...*uint64) error {
	for _, p := range dst {
		v, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func (ix *Init) encodeArgs(enc *bin.Encoder) error {
	return writeU64s(enc, ix.MinimumStakeAmount, ix.MinimumLockDuration, ix.NormalApy,
		ix.LockedApy, ix.EarlyWithdrawalFee, ix.FeeBasisPoints, ix.MaxFee)
}

func (ix *Init) decodeArgs(dec *bin.Decoder) error {
	return readU64s(dec, &ix.MinimumStakeAmount, &ix.MinimumLockDuration, &ix.NormalApy,
		&ix.LockedApy, &ix.EarlyWithdrawalFee, &ix.FeeBasisPoints, &ix.MaxFee)
}

func (ix *Stake) encodeArgs(enc *bin.Encoder) error {
	if err := enc.WriteByte(uint8(ix.StakeType)); err != nil {
		return err
	}
	return writeU64s(enc, ix.Amount, ix.Decimals, ix.LockDuration)
}

func (ix *Stake) decodeArgs(dec *bin.Decoder) error {
	raw, err := dec.ReadByte()
	if err != nil {
		return err
	}
	st, err := ParseStakeType(raw)
	if err != nil {
		return err
	}
	ix.StakeType = st
	return readU64s(dec, &ix.Amount, &ix.Decimals, &ix.LockDuration)
}

func (ix *Unstake) encodeArgs(enc *bin.Encoder) error { return writeU64s(enc, ix.Decimals) }
func (ix *Unstake) decodeArgs(dec *bin.Decoder) error { return readU64s(dec, &ix.Decimals) }

func (ix *UpdateApy) encodeArgs(enc *bin.Encoder) error {
	return writeU64s(enc, ix.NormalApy, ix.LockedApy)
}

func (ix *UpdateApy) decodeArgs(dec *bin.Decoder) error {
	return readU64s(dec, &ix.NormalApy, &ix.LockedApy)
}

func (ix *UpdateTransferConfig) encodeArgs(enc *bin.Encoder) error {
	return writeU64s(enc, ix.FeeBasisPoints, ix.MaxFee)
}

func (ix *UpdateTransferConfig) decodeArgs(dec *bin.Decoder) error {
	return readU64s(dec, &ix.FeeBasisPoints, &ix.MaxFee)
}

// DecodeInstruction parses instruction data. Trailing bytes after the
// fixed-size payload are ignored.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, wrap(ErrInvalidInstructionData, "empty instruction")
	}

	var ix Instruction
	switch data[0] {
	case TagInit:
		ix = new(Init)
	case TagStake:
		ix = new(Stake)
	case TagUnstake:
		ix = new(Unstake)
	case TagUpdateApy:
		ix = new(UpdateApy)
	case TagUpdateTransferConfig:
		ix = new(UpdateTransferConfig)
	default:
		return nil, wrap(ErrInvalidInstructionData, "unknown tag %d", data[0])
	}

	payload := data[1:]
	if len(payload) < ix.argsSize() {
		return nil, wrap(ErrInvalidInstructionData, "tag %d needs %d bytes, got %d", data[0], ix.argsSize(), len(payload))
	}
	if err := ix.decodeArgs(bin.NewBinDecoder(payload[:ix.argsSize()])); err != nil {
		if se, ok := err.(*Error); ok {
			return nil, se
		}
		return nil, wrap(ErrInvalidInstructionData, "%v", err)
	}
	return ix, nil
}

// EncodeInstruction serializes ix with its tag.
func EncodeInstruction(ix Instruction) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 1+ix.argsSize()))
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteByte(ix.Tag()); err != nil {
		return nil, err
	}
	if err := ix.encodeArgs(enc); err != nil {
		return nil, fmt.Errorf("encode tag %d: %w", ix.Tag(), err)
	}
	return buf.Bytes(), nil
}

// MustEncodeInstruction is EncodeInstruction for callers building known-good
// instructions.
func MustEncodeInstruction(ix Instruction) []byte {
	data, err := EncodeInstruction(ix)
	if err != nil {
		panic(err)
	}
	return data
}
