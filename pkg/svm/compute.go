package svm

import (
	"errors"
	"fmt"
)

// Compute unit limits and costs, following the Agave cost model.
const (
	CUDefault uint64 = 200_000
	CUMax     uint64 = 1_400_000

	// CUInvokeBase is charged for every cross-program invocation.
	CUInvokeBase uint64 = 1_000

	// CUCreateProgramAddress is one address derivation. Searching for a
	// bump costs this much per candidate tried.
	CUCreateProgramAddress uint64 = 1_500
	CUFindProgramAddress   uint64 = 1_500

	// Entry costs of the builtin programs.
	CUSystemProgramDefault uint64 = 150
	CUTokenProgramDefault  uint64 = 4_500
	CUStakingDefault       uint64 = 2_000
)

// CPIDepthMax is the deepest invoke nesting allowed below the top-level
// instruction.
const CPIDepthMax = 4

// ErrComputeExceeded is returned once a transaction's compute budget is spent.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter counts the compute spent by one transaction. A transaction
// executes on a single goroutine, so the meter is not synchronized.
type ComputeMeter struct {
	limit    uint64
	consumed uint64
}

// NewComputeMeter returns a meter with limit units, capped at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	return &ComputeMeter{limit: min(limit, CUMax)}
}

// Consume charges cost. When fewer units remain, the meter is drained and
// ErrComputeExceeded is returned.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if left := cm.Remaining(); cost > left {
		cm.consumed = cm.limit
		return fmt.Errorf("%w: need %d, %d left", ErrComputeExceeded, cost, left)
	}
	cm.consumed += cost
	return nil
}

func (cm *ComputeMeter) Remaining() uint64 { return cm.limit - cm.consumed }
func (cm *ComputeMeter) Consumed() uint64  { return cm.consumed }
func (cm *ComputeMeter) Limit() uint64     { return cm.limit }
