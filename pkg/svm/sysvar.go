package svm

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Sysvar sizes.
const (
	ClockSize = 40
	RentSize  = 17
)

// Default rent parameters.
const (
	DefaultLamportsPerByteYear = uint64(3480)
	DefaultExemptionThreshold  = 2.0
	DefaultBurnPercent         = uint8(50)

	// AccountStorageOverhead is the per-account overhead charged in rent.
	AccountStorageOverhead = uint64(128)
)

// Clock is the clock sysvar.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// MarshalWithEncoder encodes the clock in its account layout.
func (c *Clock) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(c.Slot, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteInt64(c.EpochStartTimestamp, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(c.Epoch, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(c.LeaderScheduleEpoch, bin.LE); err != nil {
		return err
	}
	return encoder.WriteInt64(c.UnixTimestamp, bin.LE)
}

// UnmarshalWithDecoder decodes the clock from its account layout.
func (c *Clock) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if c.Slot, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if c.EpochStartTimestamp, err = decoder.ReadInt64(bin.LE); err != nil {
		return err
	}
	if c.Epoch, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if c.LeaderScheduleEpoch, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	c.UnixTimestamp, err = decoder.ReadInt64(bin.LE)
	return err
}

// Rent is the rent sysvar.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent returns the mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		BurnPercent:         DefaultBurnPercent,
	}
}

// MinimumBalance returns the rent-exempt minimum for an account holding dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytesYear := (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear
	return uint64(float64(bytesYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance covers the rent-exempt minimum for dataLen.
func (r Rent) IsExempt(balance, dataLen uint64) bool {
	return balance >= r.MinimumBalance(dataLen)
}

// MarshalWithEncoder encodes the rent sysvar in its account layout.
func (r *Rent) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(r.LamportsPerByteYear, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteFloat64(r.ExemptionThreshold, bin.LE); err != nil {
		return err
	}
	return encoder.WriteByte(r.BurnPercent)
}

// UnmarshalWithDecoder decodes the rent sysvar from its account layout.
func (r *Rent) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if r.LamportsPerByteYear, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.ExemptionThreshold, err = decoder.ReadFloat64(bin.LE); err != nil {
		return err
	}
	r.BurnPercent, err = decoder.ReadByte()
	return err
}

// Sysvar is a sysvar with a fixed binary account layout.
type Sysvar interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
	UnmarshalWithDecoder(decoder *bin.Decoder) error
}

// EncodeSysvar serializes a sysvar into account data.
func EncodeSysvar(v Sysvar) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := v.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, fmt.Errorf("encode sysvar: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSysvar deserializes account data into a sysvar.
func DecodeSysvar(data []byte, v Sysvar) error {
	if err := v.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return fmt.Errorf("decode sysvar: %w", err)
	}
	return nil
}
