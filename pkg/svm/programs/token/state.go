package token

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// Account layout sizes.
const (
	MintLen    = 82
	AccountLen = 165

	// accountTypeOffset is where extended layouts store their AccountType byte.
	// Mint data is zero-padded up to this offset.
	accountTypeOffset = AccountLen
	tlvStart          = accountTypeOffset + 1
	tlvHeaderLen      = 4

	transferFeeConfigLen = 108
	transferFeeAmountLen = 8

	// MintWithTransferFeeLen is the size of a mint carrying TransferFeeConfig.
	MintWithTransferFeeLen = tlvStart + tlvHeaderLen + transferFeeConfigLen

	// AccountWithTransferFeeLen is the size of a token account carrying TransferFeeAmount.
	AccountWithTransferFeeLen = tlvStart + tlvHeaderLen + transferFeeAmountLen
)

// AccountType distinguishes extended mints from extended accounts.
type AccountType uint8

// Account types.
const (
	AccountTypeUninitialized AccountType = 0
	AccountTypeMint          AccountType = 1
	AccountTypeAccount       AccountType = 2
)

// ExtensionType identifies a TLV extension entry.
type ExtensionType uint16

// Extension types.
const (
	ExtensionUninitialized     ExtensionType = 0
	ExtensionTransferFeeConfig ExtensionType = 1
	ExtensionTransferFeeAmount ExtensionType = 2
)

// AccountState is the token account state.
type AccountState uint8

// Token account states.
const (
	AccountStateUninitialized AccountState = 0
	AccountStateInitialized   AccountState = 1
	AccountStateFrozen        AccountState = 2
)

// Mint is a token mint.
type Mint struct {
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey

	// TransferFeeConfig is nil when the mint has no transfer fee extension.
	TransferFeeConfig *TransferFeeConfig
}

// Account is a token account.
type Account struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *types.Pubkey

	// TransferFeeAmount is nil when the account has no transfer fee extension.
	TransferFeeAmount *TransferFeeAmount
}

// IsInitialized reports whether the account has been initialized.
func (a *Account) IsInitialized() bool {
	return a.State != AccountStateUninitialized
}

// IsFrozen reports whether the account is frozen.
func (a *Account) IsFrozen() bool {
	return a.State == AccountStateFrozen
}

// MintSize returns the data size of a mint with or without the transfer fee extension.
func MintSize(withTransferFee bool) int {
	if withTransferFee {
		return MintWithTransferFeeLen
	}
	return MintLen
}

// AccountSize returns the data size of a token account for a mint with or
// without the transfer fee extension.
func AccountSize(withTransferFee bool) int {
	if withTransferFee {
		return AccountWithTransferFeeLen
	}
	return AccountLen
}

func readCOptionPubkey(decoder *bin.Decoder) (*types.Pubkey, error) {
	tag, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	raw, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		pk, _ := types.PubkeyFromBytes(raw)
		return &pk, nil
	default:
		return nil, ErrInvalidAccountData
	}
}

func writeCOptionPubkey(encoder *bin.Encoder, pk *types.Pubkey) error {
	if pk == nil {
		if err := encoder.WriteUint32(0, bin.LE); err != nil {
			return err
		}
		return encoder.WriteBytes(make([]byte, types.PubkeySize), false)
	}
	if err := encoder.WriteUint32(1, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(pk[:], false)
}

func readPubkey(decoder *bin.Decoder) (types.Pubkey, error) {
	raw, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromBytes(raw)
}

func readBool(decoder *bin.Decoder) (bool, error) {
	b, err := decoder.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidAccountData
	}
}

// UnmarshalWithDecoder decodes the 82-byte base mint layout.
func (m *Mint) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if m.MintAuthority, err = readCOptionPubkey(decoder); err != nil {
		return err
	}
	if m.Supply, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if m.Decimals, err = decoder.ReadByte(); err != nil {
		return err
	}
	if m.IsInitialized, err = readBool(decoder); err != nil {
		return err
	}
	m.FreezeAuthority, err = readCOptionPubkey(decoder)
	return err
}

// MarshalWithEncoder encodes the 82-byte base mint layout.
func (m *Mint) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := writeCOptionPubkey(encoder, m.MintAuthority); err != nil {
		return err
	}
	if err := encoder.WriteUint64(m.Supply, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteByte(m.Decimals); err != nil {
		return err
	}
	if err := encoder.WriteBool(m.IsInitialized); err != nil {
		return err
	}
	return writeCOptionPubkey(encoder, m.FreezeAuthority)
}

// UnmarshalWithDecoder decodes the 165-byte base account layout.
func (a *Account) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if a.Mint, err = readPubkey(decoder); err != nil {
		return err
	}
	if a.Owner, err = readPubkey(decoder); err != nil {
		return err
	}
	if a.Amount, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if a.Delegate, err = readCOptionPubkey(decoder); err != nil {
		return err
	}
	state, err := decoder.ReadByte()
	if err != nil {
		return err
	}
	if state > uint8(AccountStateFrozen) {
		return ErrInvalidAccountData
	}
	a.State = AccountState(state)

	nativeTag, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	native, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	switch nativeTag {
	case 0:
		a.IsNative = nil
	case 1:
		a.IsNative = &native
	default:
		return ErrInvalidAccountData
	}

	if a.DelegatedAmount, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	a.CloseAuthority, err = readCOptionPubkey(decoder)
	return err
}

// MarshalWithEncoder encodes the 165-byte base account layout.
func (a *Account) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(a.Mint[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.Owner[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint64(a.Amount, bin.LE); err != nil {
		return err
	}
	if err := writeCOptionPubkey(encoder, a.Delegate); err != nil {
		return err
	}
	if err := encoder.WriteByte(uint8(a.State)); err != nil {
		return err
	}
	var nativeTag uint32
	var native uint64
	if a.IsNative != nil {
		nativeTag, native = 1, *a.IsNative
	}
	if err := encoder.WriteUint32(nativeTag, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(native, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(a.DelegatedAmount, bin.LE); err != nil {
		return err
	}
	return writeCOptionPubkey(encoder, a.CloseAuthority)
}

func (f *TransferFee) unmarshal(decoder *bin.Decoder) (err error) {
	if f.Epoch, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if f.MaximumFee, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	f.TransferFeeBasisPoints, err = decoder.ReadUint16(bin.LE)
	return err
}

func (f *TransferFee) marshal(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(f.Epoch, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(f.MaximumFee, bin.LE); err != nil {
		return err
	}
	return encoder.WriteUint16(f.TransferFeeBasisPoints, bin.LE)
}

// UnmarshalWithDecoder decodes the 108-byte TransferFeeConfig extension.
func (c *TransferFeeConfig) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if c.ConfigAuthority, err = readPubkey(decoder); err != nil {
		return err
	}
	if c.WithdrawWithheldAuthority, err = readPubkey(decoder); err != nil {
		return err
	}
	if c.WithheldAmount, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if err = c.OlderTransferFee.unmarshal(decoder); err != nil {
		return err
	}
	return c.NewerTransferFee.unmarshal(decoder)
}

// MarshalWithEncoder encodes the 108-byte TransferFeeConfig extension.
func (c *TransferFeeConfig) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(c.ConfigAuthority[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(c.WithdrawWithheldAuthority[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint64(c.WithheldAmount, bin.LE); err != nil {
		return err
	}
	if err := c.OlderTransferFee.marshal(encoder); err != nil {
		return err
	}
	return c.NewerTransferFee.marshal(encoder)
}

// tlvEntry is one raw extension entry.
type tlvEntry struct {
	Type  ExtensionType
	Value []byte
}

// parseExtensions splits the extended region of data into TLV entries and
// returns the AccountType byte.
func parseExtensions(data []byte) (AccountType, []tlvEntry, error) {
	if len(data) <= accountTypeOffset {
		return AccountTypeUninitialized, nil, nil
	}

	accountType := AccountType(data[accountTypeOffset])
	if accountType > AccountTypeAccount {
		return 0, nil, ErrInvalidAccountData
	}

	decoder := bin.NewBinDecoder(data[tlvStart:])
	var entries []tlvEntry
	for decoder.Remaining() >= tlvHeaderLen {
		typ, err := decoder.ReadUint16(bin.LE)
		if err != nil {
			return 0, nil, err
		}
		length, err := decoder.ReadUint16(bin.LE)
		if err != nil {
			return 0, nil, err
		}
		if ExtensionType(typ) == ExtensionUninitialized {
			break
		}
		value, err := decoder.ReadBytes(int(length))
		if err != nil {
			return 0, nil, ErrInvalidAccountData
		}
		entries = append(entries, tlvEntry{Type: ExtensionType(typ), Value: value})
	}
	return accountType, entries, nil
}

func writeTLV(buf *bytes.Buffer, typ ExtensionType, value []byte) error {
	encoder := bin.NewBinEncoder(buf)
	if err := encoder.WriteUint16(uint16(typ), bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint16(uint16(len(value)), bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(value, false)
}

func encode(v interface {
	MarshalWithEncoder(*bin.Encoder) error
}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := v.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackMint decodes mint account data, including extensions.
// Uninitialized mints are returned without error; callers check IsInitialized.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintLen && len(data) <= accountTypeOffset {
		return nil, ErrInvalidAccountData
	}

	m := new(Mint)
	if err := m.UnmarshalWithDecoder(bin.NewBinDecoder(data[:MintLen])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	if len(data) == MintLen {
		return m, nil
	}

	for _, b := range data[MintLen:accountTypeOffset] {
		if b != 0 {
			return nil, ErrInvalidAccountData
		}
	}
	accountType, entries, err := parseExtensions(data)
	if err != nil {
		return nil, err
	}
	if accountType == AccountTypeAccount {
		return nil, ErrInvalidAccountData
	}
	for _, e := range entries {
		switch e.Type {
		case ExtensionTransferFeeConfig:
			if len(e.Value) != transferFeeConfigLen {
				return nil, ErrInvalidAccountData
			}
			cfg := new(TransferFeeConfig)
			if err := cfg.UnmarshalWithDecoder(bin.NewBinDecoder(e.Value)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
			}
			m.TransferFeeConfig = cfg
		default:
			return nil, ErrUnsupportedExtension
		}
	}
	return m, nil
}

// Pack encodes the mint into dst, which must be exactly MintSize for the
// mint's extension set.
func (m *Mint) Pack(dst []byte) error {
	if len(dst) != MintSize(m.TransferFeeConfig != nil) {
		return ErrInvalidAccountData
	}

	base, err := encode(m)
	if err != nil {
		return err
	}
	out := make([]byte, len(dst))
	copy(out, base)

	if m.TransferFeeConfig != nil {
		accountType := AccountTypeUninitialized
		if m.IsInitialized {
			accountType = AccountTypeMint
		}
		out[accountTypeOffset] = byte(accountType)

		value, err := encode(m.TransferFeeConfig)
		if err != nil {
			return err
		}
		tlv := new(bytes.Buffer)
		if err := writeTLV(tlv, ExtensionTransferFeeConfig, value); err != nil {
			return err
		}
		copy(out[tlvStart:], tlv.Bytes())
	}

	copy(dst, out)
	return nil
}

// UnpackAccount decodes token account data, including extensions.
func UnpackAccount(data []byte) (*Account, error) {
	if len(data) < AccountLen {
		return nil, ErrInvalidAccountData
	}

	a := new(Account)
	if err := a.UnmarshalWithDecoder(bin.NewBinDecoder(data[:AccountLen])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	if len(data) == AccountLen {
		return a, nil
	}

	accountType, entries, err := parseExtensions(data)
	if err != nil {
		return nil, err
	}
	if accountType == AccountTypeMint {
		return nil, ErrInvalidAccountData
	}
	for _, e := range entries {
		switch e.Type {
		case ExtensionTransferFeeAmount:
			if len(e.Value) != transferFeeAmountLen {
				return nil, ErrInvalidAccountData
			}
			amount, err := bin.NewBinDecoder(e.Value).ReadUint64(bin.LE)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
			}
			a.TransferFeeAmount = &TransferFeeAmount{WithheldAmount: amount}
		default:
			return nil, ErrUnsupportedExtension
		}
	}
	return a, nil
}

// Pack encodes the account into dst, which must be exactly AccountSize for
// the account's extension set.
func (a *Account) Pack(dst []byte) error {
	if len(dst) != AccountSize(a.TransferFeeAmount != nil) {
		return ErrInvalidAccountData
	}

	base, err := encode(a)
	if err != nil {
		return err
	}
	out := make([]byte, len(dst))
	copy(out, base)

	if a.TransferFeeAmount != nil {
		out[accountTypeOffset] = byte(AccountTypeAccount)

		value := new(bytes.Buffer)
		if err := bin.NewBinEncoder(value).WriteUint64(a.TransferFeeAmount.WithheldAmount, bin.LE); err != nil {
			return err
		}
		tlv := new(bytes.Buffer)
		if err := writeTLV(tlv, ExtensionTransferFeeAmount, value.Bytes()); err != nil {
			return err
		}
		copy(out[tlvStart:], tlv.Bytes())
	}

	copy(dst, out)
	return nil
}
