package client

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/staking"
)

func randomKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func testPool(t *testing.T, admin solana.PublicKey) Pool {
	return Pool{
		ProgramID:    randomKey(t).PublicKey(),
		Admin:        admin,
		Mint:         randomKey(t).PublicKey(),
		Vault:        randomKey(t).PublicKey(),
		TokenProgram: PublicKey(types.Token2022ProgramAddr),
	}
}

func TestPDAsMatchSolanaGo(t *testing.T) {
	for i := 0; i < 16; i++ {
		pool := testPool(t, randomKey(t).PublicKey())

		want, wantBump, err := pool.GetContractPDA()
		require.NoError(t, err)
		got, gotBump, err := staking.FindContractAddress(Pubkey(pool.ProgramID), Pubkey(pool.Admin), Pubkey(pool.Mint))
		require.NoError(t, err)
		assert.Equal(t, Pubkey(want), got)
		assert.Equal(t, wantBump, gotBump)

		owner := randomKey(t).PublicKey()
		want, wantBump, err = pool.GetUserPDA(owner)
		require.NoError(t, err)
		got, gotBump, err = staking.FindUserAddress(Pubkey(pool.ProgramID), Pubkey(owner))
		require.NoError(t, err)
		assert.Equal(t, Pubkey(want), got)
		assert.Equal(t, wantBump, gotBump)
	}
}

func TestInstructionConversion(t *testing.T) {
	admin := randomKey(t)
	pool := testPool(t, admin.PublicKey())
	user := randomKey(t).PublicKey()
	userToken := randomKey(t).PublicKey()

	args := staking.Stake{StakeType: staking.StakeLocked, Amount: 500, Decimals: 6, LockDuration: 86_400}
	ix, err := pool.NewStakeInstruction(user, userToken, args)
	require.NoError(t, err)

	assert.Equal(t, pool.ProgramID, ix.ProgramID())
	metas := ix.Accounts()
	require.Len(t, metas, 8)
	assert.True(t, metas[0].PublicKey.Equals(user))
	assert.True(t, metas[0].IsSigner)
	assert.True(t, metas[0].IsWritable)
	contract, _, err := pool.GetContractPDA()
	require.NoError(t, err)
	assert.True(t, metas[4].PublicKey.Equals(contract))
	assert.False(t, metas[4].IsSigner)

	data, err := ix.Data()
	require.NoError(t, err)
	decoded, err := staking.DecodeInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, &args, decoded)

	back, err := FromSolana(ix)
	require.NoError(t, err)
	direct, err := pool.keys().Stake(Pubkey(user), Pubkey(userToken), args)
	require.NoError(t, err)
	assert.Equal(t, direct, back)
}

func TestNewTransaction(t *testing.T) {
	admin := randomKey(t)
	pool := testPool(t, admin.PublicKey())
	blockhash := solana.Hash{1, 2, 3}

	ix, err := pool.NewUpdateApyInstruction(staking.UpdateApy{NormalApy: 300, LockedApy: 400})
	require.NoError(t, err)
	tx, err := NewTransaction(blockhash, []solana.PrivateKey{admin}, ix)
	require.NoError(t, err)

	require.NoError(t, tx.VerifySignatures())
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, uint8(1), tx.Message.Header.NumRequiredSignatures)
	assert.True(t, tx.Message.AccountKeys[0].Equals(admin.PublicKey()))
	assert.Equal(t, blockhash, tx.Message.RecentBlockhash)

	require.Len(t, tx.Message.Instructions, 1)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, data, []byte(tx.Message.Instructions[0].Data))
}

func TestNewTransactionMissingSigner(t *testing.T) {
	pool := testPool(t, randomKey(t).PublicKey())
	payer := randomKey(t)

	ix, err := pool.NewUpdateApyInstruction(staking.UpdateApy{NormalApy: 1, LockedApy: 1})
	require.NoError(t, err)
	_, err = NewTransaction(solana.Hash{}, []solana.PrivateKey{payer}, ix)
	require.Error(t, err)

	_, err = NewTransaction(solana.Hash{}, nil, ix)
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestDecodeRecords(t *testing.T) {
	rec := &staking.UserRecord{
		IsInitialized: true,
		Owner:         Pubkey(randomKey(t).PublicKey()),
		StakeType:     staking.StakeLocked,
		LockDuration:  86_400,
		TotalStaked:   1_000,
		StakeTs:       1_700_000_000,
	}
	data := make([]byte, staking.UserRecordSize)
	require.NoError(t, rec.Pack(data))

	got, err := DecodeUser(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = DecodeContract(data)
	require.Error(t, err)
}
