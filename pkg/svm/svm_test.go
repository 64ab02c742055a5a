package svm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1000)
	require.NoError(t, cm.Consume(400))
	assert.Equal(t, uint64(600), cm.Remaining())
	assert.Equal(t, uint64(400), cm.Consumed())

	require.ErrorIs(t, cm.Consume(601), ErrComputeExceeded)
	assert.Equal(t, uint64(0), cm.Remaining())
	assert.Equal(t, uint64(1000), cm.Consumed())
}

func TestComputeMeterClampsLimit(t *testing.T) {
	cm := NewComputeMeter(CUMax * 2)
	assert.Equal(t, CUMax, cm.Limit())
}

func TestComputeMeterAccumulates(t *testing.T) {
	cm := NewComputeMeter(CUDefault)
	for i := 0; i < 10; i++ {
		require.NoError(t, cm.Consume(CUStakingDefault))
	}
	assert.Equal(t, 10*CUStakingDefault, cm.Consumed())
	assert.Equal(t, CUDefault-10*CUStakingDefault, cm.Remaining())
	require.NoError(t, cm.Consume(cm.Remaining()))
	assert.ErrorIs(t, cm.Consume(1), ErrComputeExceeded)
}

func TestRentMinimumBalance(t *testing.T) {
	rent := DefaultRent()
	// (128 + 0) * 3480 * 2
	assert.Equal(t, uint64(890_880), rent.MinimumBalance(0))
	// (128 + 165) * 3480 * 2
	assert.Equal(t, uint64(2_039_280), rent.MinimumBalance(165))
	assert.True(t, rent.IsExempt(2_039_280, 165))
	assert.False(t, rent.IsExempt(2_039_279, 165))
}

func TestSysvarEncoding(t *testing.T) {
	clock := Clock{Slot: 42, EpochStartTimestamp: 1000, Epoch: 3, LeaderScheduleEpoch: 4, UnixTimestamp: 1_700_000_000}
	data, err := EncodeSysvar(&clock)
	require.NoError(t, err)
	require.Len(t, data, ClockSize)

	var decoded Clock
	require.NoError(t, DecodeSysvar(data, &decoded))
	assert.Equal(t, clock, decoded)

	rent := DefaultRent()
	data, err = EncodeSysvar(&rent)
	require.NoError(t, err)
	require.Len(t, data, RentSize)

	require.Error(t, DecodeSysvar(data[:8], &Rent{}))
}
