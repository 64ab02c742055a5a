package staking

import (
	"math"

	"github.com/holiman/uint256"
)

const (
	// YearInSecondsScaled is one year in seconds scaled by the APY decimal
	// position: an APY of 100 is 10.0% a year.
	YearInSecondsScaled = 3600 * 24 * 365 * 1000

	// PenaltyScale is the per-mille scale of the early withdrawal fee.
	PenaltyScale = 1000

	// MinimumNormalHold is how long a NORMAL stake must be held before unstaking.
	MinimumNormalHold = 24 * 60 * 60

	// MaxBasisPoints is 100% in basis points.
	MaxBasisPoints = 10_000
)

func saturate(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// Interest returns floor(apy * principal * elapsed / YearInSecondsScaled).
// The product is computed in 256 bits and the result saturates at MaxUint64.
func Interest(apy, principal, elapsed uint64) uint64 {
	z := new(uint256.Int).Mul(uint256.NewInt(apy), uint256.NewInt(principal))
	z.Mul(z, uint256.NewInt(elapsed))
	z.Div(z, uint256.NewInt(YearInSecondsScaled))
	return saturate(z)
}

// Penalty returns floor(fee * principal / 1000).
func Penalty(fee, principal uint64) uint64 {
	z := new(uint256.Int).Mul(uint256.NewInt(fee), uint256.NewInt(principal))
	z.Div(z, uint256.NewInt(PenaltyScale))
	return saturate(z)
}

// unixSeconds clamps a clock timestamp to the unsigned record width.
func unixSeconds(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// elapsedSince returns now - ts, or zero if the clock is behind ts.
func elapsedSince(now int64, ts uint64) uint64 {
	if now < 0 || uint64(now) <= ts {
		return 0
	}
	return uint64(now) - ts
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}
