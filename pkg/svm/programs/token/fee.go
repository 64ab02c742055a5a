package token

import (
	"github.com/holiman/uint256"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// OneInBasisPoints is 100% expressed in basis points.
const OneInBasisPoints = 10_000

// TransferFee is one epoch-scoped fee schedule of the transfer fee extension.
type TransferFee struct {
	// Epoch is the first epoch the fee applies to.
	Epoch uint64

	// MaximumFee caps the fee charged on a single transfer.
	MaximumFee uint64

	// TransferFeeBasisPoints is the fee rate in 0.01% units.
	TransferFeeBasisPoints uint16
}

func ceilDiv(numerator, denominator *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Add(numerator, denominator)
	z.SubUint64(z, 1)
	return z.Div(z, denominator)
}

// CalculateFee returns the fee withheld from a transfer of preFeeAmount.
// ok is false if the result does not fit in a u64.
func (f TransferFee) CalculateFee(preFeeAmount uint64) (fee uint64, ok bool) {
	if f.TransferFeeBasisPoints == 0 || preFeeAmount == 0 {
		return 0, true
	}
	numerator := new(uint256.Int).Mul(uint256.NewInt(preFeeAmount), uint256.NewInt(uint64(f.TransferFeeBasisPoints)))
	raw := ceilDiv(numerator, uint256.NewInt(OneInBasisPoints))
	if raw.Cmp(uint256.NewInt(f.MaximumFee)) > 0 {
		return f.MaximumFee, true
	}
	return raw.Uint64(), true
}

// CalculatePreFeeAmount returns the gross amount whose transfer delivers
// postFeeAmount to the recipient.
func (f TransferFee) CalculatePreFeeAmount(postFeeAmount uint64) (uint64, bool) {
	bps := uint64(f.TransferFeeBasisPoints)
	switch {
	case bps == 0:
		return postFeeAmount, true
	case postFeeAmount == 0:
		return 0, true
	case bps == OneInBasisPoints:
		return addU64(postFeeAmount, f.MaximumFee)
	}

	numerator := new(uint256.Int).Mul(uint256.NewInt(postFeeAmount), uint256.NewInt(OneInBasisPoints))
	raw := ceilDiv(numerator, uint256.NewInt(OneInBasisPoints-bps))
	fee := new(uint256.Int).Sub(raw, uint256.NewInt(postFeeAmount))
	if fee.Cmp(uint256.NewInt(f.MaximumFee)) >= 0 {
		return addU64(postFeeAmount, f.MaximumFee)
	}
	if !raw.IsUint64() {
		return 0, false
	}
	return raw.Uint64(), true
}

// CalculateInverseFee returns the fee to add on top of postFeeAmount so the
// recipient nets postFeeAmount.
func (f TransferFee) CalculateInverseFee(postFeeAmount uint64) (uint64, bool) {
	pre, ok := f.CalculatePreFeeAmount(postFeeAmount)
	if !ok {
		return 0, false
	}
	return f.CalculateFee(pre)
}

func addU64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

// TransferFeeConfig is the mint-side transfer fee extension.
type TransferFeeConfig struct {
	// ConfigAuthority may change the fee; zero means none.
	ConfigAuthority types.Pubkey

	// WithdrawWithheldAuthority may withdraw withheld fees; zero means none.
	WithdrawWithheldAuthority types.Pubkey

	// WithheldAmount is the fee amount harvested to the mint.
	WithheldAmount uint64

	OlderTransferFee TransferFee
	NewerTransferFee TransferFee
}

// EpochFee returns the fee schedule in force at epoch.
func (c *TransferFeeConfig) EpochFee(epoch uint64) TransferFee {
	if epoch >= c.NewerTransferFee.Epoch {
		return c.NewerTransferFee
	}
	return c.OlderTransferFee
}

// CalculateEpochFee returns the fee withheld from a transfer of preFeeAmount at epoch.
func (c *TransferFeeConfig) CalculateEpochFee(epoch, preFeeAmount uint64) (uint64, bool) {
	return c.EpochFee(epoch).CalculateFee(preFeeAmount)
}

// CalculateInverseEpochFee returns the fee to add on top of postFeeAmount at epoch.
func (c *TransferFeeConfig) CalculateInverseEpochFee(epoch, postFeeAmount uint64) (uint64, bool) {
	return c.EpochFee(epoch).CalculateInverseFee(postFeeAmount)
}

// TransferFeeAmount is the account-side transfer fee extension.
type TransferFeeAmount struct {
	// WithheldAmount is the fee withheld on transfers into this account.
	WithheldAmount uint64
}
