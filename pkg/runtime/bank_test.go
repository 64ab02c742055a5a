package runtime

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
	"github.com/fortiblox/X1-Staking/pkg/ledger"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/pda"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/system"
)

type keypair struct {
	pubkey types.Pubkey
	key    ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keypair{pubkey: types.PubkeyFromPublicKey(pub), key: priv}
}

func testConfig() Config {
	cfg := DefaultConfig()
	logger, _ := test.NewNullLogger()
	cfg.Logger = logger
	return cfg
}

func newTestBank(t *testing.T) *Bank {
	t.Helper()
	b, err := New(accounts.NewMemoryDB(), nil, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func process(t *testing.T, b *Bank, signers []keypair, ixs ...svm.Instruction) (*Result, error) {
	t.Helper()
	tx := NewTransaction(uint64(time.Now().UnixNano()), ixs...)
	keys := make([]ed25519.PrivateKey, len(signers))
	for i, s := range signers {
		keys[i] = s.key
	}
	require.NoError(t, tx.Sign(keys...))
	return b.Process(context.Background(), tx)
}

func lamports(t *testing.T, b *Bank, pubkey types.Pubkey) uint64 {
	t.Helper()
	acc, err := b.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0
	}
	require.NoError(t, err)
	return acc.Lamports
}

const sol = 1_000_000_000

func TestSystemTransfer(t *testing.T) {
	b := newTestBank(t)
	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))

	res, err := process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, sol))
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, -1, res.FailedInstruction)
	assert.Equal(t, uint64(9*sol), lamports(t, b, alice.pubkey))
	assert.Equal(t, uint64(sol), lamports(t, b, bob.pubkey))
	assert.Len(t, res.Modified, 2)
	assert.False(t, res.DeltaHash.IsZero())
	assert.Contains(t, res.Logs, "Program log: Transfer: success")
	assert.Contains(t, res.Logs, "Program "+system.ProgramID.String()+" invoke [1]")
	assert.Positive(t, res.ComputeUnits)
}

func TestFailedTransactionLeavesStateUntouched(t *testing.T) {
	b := newTestBank(t)
	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))
	before, err := b.StateHash()
	require.NoError(t, err)

	res, err := process(t, b, []keypair{alice},
		system.Transfer(alice.pubkey, bob.pubkey, sol),
		system.Transfer(alice.pubkey, bob.pubkey, 100*sol),
	)
	require.ErrorIs(t, err, system.ErrInsufficientFunds)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.FailedInstruction)
	assert.Nil(t, res.ErrCode)
	assert.Empty(t, res.Modified)

	after, err := b.StateHash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(10*sol), lamports(t, b, alice.pubkey))
}

func TestSimulateDoesNotCommit(t *testing.T) {
	b := newTestBank(t)
	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))

	tx := NewTransaction(1, system.Transfer(alice.pubkey, bob.pubkey, sol))
	require.NoError(t, tx.Sign(alice.key))
	res, err := b.Simulate(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, uint64(10*sol), lamports(t, b, alice.pubkey))
	assert.Zero(t, lamports(t, b, bob.pubkey))
}

func TestRejectsBadSignatures(t *testing.T) {
	b := newTestBank(t)
	alice, mallory := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))

	tx := NewTransaction(1, system.Transfer(alice.pubkey, mallory.pubkey, sol))
	_, err := b.Process(context.Background(), tx)
	require.ErrorIs(t, err, ErrMissingSignature)

	require.ErrorIs(t, tx.Sign(mallory.key), ErrMissingSignature)

	// Signature by the wrong key under alice's slot.
	tx.Signatures = []types.Signature{types.Sign(mallory.key, tx.Message())}
	_, err = b.Process(context.Background(), tx)
	require.ErrorIs(t, err, ErrSignatureVerification)

	_, err = b.Process(context.Background(), NewTransaction(2))
	require.ErrorIs(t, err, ErrNoInstructions)
}

func TestRentExemptionEnforcedOnCommit(t *testing.T) {
	b := newTestBank(t)
	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))

	_, err := process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, 1000))
	require.ErrorIs(t, err, ErrRentNotExempt)

	// Draining an account entirely deletes it.
	_, err = process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, 10*sol))
	require.NoError(t, err)
	_, err = b.GetAccount(alice.pubkey)
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestUnknownProgram(t *testing.T) {
	b := newTestBank(t)
	alice := newKeypair(t)
	ix := svm.Instruction{ProgramID: newKeypair(t).pubkey, Accounts: []svm.AccountMeta{svm.Signer(alice.pubkey)}}
	_, err := process(t, b, []keypair{alice}, ix)
	require.ErrorIs(t, err, svm.ErrUnknownProgram)
}

// registerFunc registers fn as a program at a fresh address.
func registerFunc(t *testing.T, b *Bank, fn svm.ProgramFunc) types.Pubkey {
	t.Helper()
	id := newKeypair(t).pubkey
	require.NoError(t, b.RegisterProgram(id, fn))
	return id
}

func TestAccountRules(t *testing.T) {
	tests := []struct {
		name     string
		writable bool
		owned    bool
		mutate   func(ctx svm.InvokeContext) error
		want     error
	}{
		{
			name:     "read-only data change",
			writable: false,
			owned:    true,
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Data[0] = 1
				return nil
			},
			want: ErrReadonlyModified,
		},
		{
			name:     "foreign data change",
			writable: true,
			owned:    false,
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Data[0] = 1
				return nil
			},
			want: ErrExternalDataModified,
		},
		{
			name:     "foreign lamport spend",
			writable: true,
			owned:    false,
			mutate: func(ctx svm.InvokeContext) error {
				from, _ := ctx.GetAccount(0)
				to, _ := ctx.GetAccount(1)
				from.Lamports--
				to.Lamports++
				return nil
			},
			want: ErrExternalLamportSpend,
		},
		{
			name:     "minted lamports",
			writable: true,
			owned:    true,
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Lamports++
				return nil
			},
			want: ErrUnbalancedInstruction,
		},
		{
			name:     "owner change with data",
			writable: true,
			owned:    true,
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Data[0] = 1
				acc.Owner = system.ProgramID
				return nil
			},
			want: ErrModifiedProgramID,
		},
		{
			name:     "executable flag",
			writable: true,
			owned:    true,
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Executable = true
				return nil
			},
			want: ErrExecutableModified,
		},
		{
			name:     "owned data change",
			writable: true,
			owned:    true,
			mutate: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Data[0] = 1
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBank(t)
			payer := newKeypair(t)
			require.NoError(t, b.Airdrop(payer.pubkey, 10*sol))

			programID := registerFunc(t, b, func(ctx svm.InvokeContext, _ []byte) error {
				return tt.mutate(ctx)
			})
			target, other := newKeypair(t).pubkey, newKeypair(t).pubkey
			owner := system.ProgramID
			if tt.owned {
				owner = programID
			}
			for _, k := range []types.Pubkey{target, other} {
				require.NoError(t, b.SetAccount(k, &accounts.Account{
					Lamports: sol,
					Data:     make([]byte, 8),
					Owner:    owner,
				}))
			}

			meta := svm.Readonly(target)
			if tt.writable {
				meta = svm.Writable(target)
			}
			ix := svm.Instruction{ProgramID: programID, Accounts: []svm.AccountMeta{
				meta, svm.Writable(other), svm.Signer(payer.pubkey),
			}}
			_, err := process(t, b, []keypair{payer}, ix)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInvokeSignerPrivilege(t *testing.T) {
	b := newTestBank(t)
	payer, victim := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(payer.pubkey, 10*sol))
	require.NoError(t, b.Airdrop(victim.pubkey, 10*sol))

	// Tries to move the victim's lamports without the victim's signature.
	thief := registerFunc(t, b, func(ctx svm.InvokeContext, _ []byte) error {
		from, _ := ctx.GetAccount(0)
		to, _ := ctx.GetAccount(1)
		return ctx.Invoke(system.Transfer(from.Key, to.Key, sol))
	})
	ix := svm.Instruction{ProgramID: thief, Accounts: []svm.AccountMeta{
		svm.Writable(victim.pubkey),
		svm.WritableSigner(payer.pubkey),
		svm.Readonly(system.ProgramID),
	}}
	_, err := process(t, b, []keypair{payer}, ix)
	require.ErrorIs(t, err, ErrPrivilegeEscalation)
	assert.Equal(t, uint64(10*sol), lamports(t, b, victim.pubkey))
}

func TestInvokeWritablePrivilege(t *testing.T) {
	b := newTestBank(t)
	payer, dest := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(payer.pubkey, 10*sol))

	caller := registerFunc(t, b, func(ctx svm.InvokeContext, _ []byte) error {
		from, _ := ctx.GetAccount(0)
		to, _ := ctx.GetAccount(1)
		return ctx.Invoke(system.Transfer(from.Key, to.Key, sol))
	})
	ix := svm.Instruction{ProgramID: caller, Accounts: []svm.AccountMeta{
		svm.WritableSigner(payer.pubkey),
		svm.Readonly(dest.pubkey),
		svm.Readonly(system.ProgramID),
	}}
	_, err := process(t, b, []keypair{payer}, ix)
	require.ErrorIs(t, err, ErrPrivilegeEscalation)
}

func TestInvokeRequiresProgramAndAccounts(t *testing.T) {
	b := newTestBank(t)
	payer, dest := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(payer.pubkey, 10*sol))

	caller := registerFunc(t, b, func(ctx svm.InvokeContext, data []byte) error {
		from, _ := ctx.GetAccount(0)
		return ctx.Invoke(system.Transfer(from.Key, dest.pubkey, sol))
	})

	// System program not passed.
	ix := svm.Instruction{ProgramID: caller, Accounts: []svm.AccountMeta{svm.WritableSigner(payer.pubkey)}}
	_, err := process(t, b, []keypair{payer}, ix)
	require.ErrorIs(t, err, ErrProgramNotInvokable)

	// Destination not passed.
	ix.Accounts = append(ix.Accounts, svm.Readonly(system.ProgramID))
	_, err = process(t, b, []keypair{payer}, ix)
	require.ErrorIs(t, err, ErrMissingAccount)
}

func TestInvokeSignsForDerivedAddress(t *testing.T) {
	b := newTestBank(t)
	payer := newKeypair(t)
	require.NoError(t, b.Airdrop(payer.pubkey, 10*sol))

	seed := []byte("vault")
	programID := registerFunc(t, b, func(ctx svm.InvokeContext, data []byte) error {
		funder, _ := ctx.GetAccount(0)
		target, _ := ctx.GetAccount(1)
		seeds := [][]byte{seed, {data[0]}}
		lamports := ctx.Rent().MinimumBalance(16)
		return ctx.Invoke(system.CreateAccount(funder.Key, target.Key, lamports, 16, ctx.ProgramID()), seeds)
	})
	addr, bump, err := pda.FindProgramAddress([][]byte{seed}, programID)
	require.NoError(t, err)

	ix := svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.WritableSigner(payer.pubkey),
			svm.Writable(addr),
			svm.Readonly(system.ProgramID),
		},
		Data: []byte{bump},
	}
	res, err := process(t, b, []keypair{payer}, ix)
	require.NoError(t, err)
	assert.Contains(t, res.Logs, "Program "+system.ProgramID.String()+" invoke [2]")

	acc, err := b.GetAccount(addr)
	require.NoError(t, err)
	assert.Equal(t, programID, acc.Owner)
	assert.Len(t, acc.Data, 16)

	// Seeds that derive a different address do not sign for addr.
	other := newKeypair(t).pubkey
	ix.Accounts[1] = svm.Writable(other)
	_, err = process(t, b, []keypair{payer}, ix)
	require.ErrorIs(t, err, ErrPrivilegeEscalation)
}

func TestInvokeDepthLimit(t *testing.T) {
	b := newTestBank(t)
	payer := newKeypair(t)

	deepest := 0
	var self types.Pubkey
	self = registerFunc(t, b, func(ctx svm.InvokeContext, _ []byte) error {
		deepest++
		return ctx.Invoke(svm.Instruction{ProgramID: self, Accounts: []svm.AccountMeta{svm.Readonly(self)}})
	})
	ix := svm.Instruction{ProgramID: self, Accounts: []svm.AccountMeta{svm.Readonly(self), svm.Signer(payer.pubkey)}}
	_, err := process(t, b, []keypair{payer}, ix)
	require.ErrorIs(t, err, ErrCallDepth)
	assert.Equal(t, 1+svm.CPIDepthMax, deepest)
}

func TestComputeBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ComputeUnitLimit = 100
	b, err := New(accounts.NewMemoryDB(), nil, cfg)
	require.NoError(t, err)
	defer b.Close()

	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))
	_, err = process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, sol))
	require.ErrorIs(t, err, svm.ErrComputeExceeded)
}

type codedErr struct{}

func (codedErr) Error() string     { return "coded" }
func (codedErr) ErrorCode() uint32 { return 7 }

func TestResultCarriesErrorCode(t *testing.T) {
	b := newTestBank(t)
	payer := newKeypair(t)
	failing := registerFunc(t, b, func(svm.InvokeContext, []byte) error { return codedErr{} })

	res, err := process(t, b, []keypair{payer}, svm.Instruction{
		ProgramID: failing,
		Accounts:  []svm.AccountMeta{svm.Signer(payer.pubkey)},
	})
	require.Error(t, err)
	require.NotNil(t, res.ErrCode)
	assert.Equal(t, uint32(7), *res.ErrCode)
	assert.Equal(t, 0, res.FailedInstruction)
}

func TestClockAndSysvars(t *testing.T) {
	cfg := testConfig()
	cfg.SlotsPerEpoch = 100
	cfg.GenesisUnixTimestamp = 1_700_000_000
	b, err := New(accounts.NewMemoryDB(), nil, cfg)
	require.NoError(t, err)
	defer b.Close()

	clock := b.Clock()
	assert.Equal(t, uint64(0), clock.Slot)
	assert.Equal(t, int64(1_700_000_000), clock.UnixTimestamp)

	require.NoError(t, b.Warp(24*time.Hour))
	clock = b.Clock()
	assert.Equal(t, int64(1_700_086_400), clock.UnixTimestamp)
	assert.Equal(t, uint64(216_000), clock.Slot)
	assert.Equal(t, uint64(2160), clock.Epoch)
	assert.Equal(t, clock.UnixTimestamp, clock.EpochStartTimestamp)

	require.NoError(t, b.WarpToEpoch(2200))
	assert.Equal(t, uint64(220_000), b.Clock().Slot)
	require.Error(t, b.WarpToEpoch(1))
	require.Error(t, b.Warp(-time.Second))

	acc, err := b.GetAccount(types.SysvarClockAddr)
	require.NoError(t, err)
	assert.Equal(t, types.SysvarOwnerAddr, acc.Owner)
	var stored svm.Clock
	require.NoError(t, svm.DecodeSysvar(acc.Data, &stored))
	assert.Equal(t, b.Clock(), stored)

	acc, err = b.GetAccount(types.SysvarRentAddr)
	require.NoError(t, err)
	var rent svm.Rent
	require.NoError(t, svm.DecodeSysvar(acc.Data, &rent))
	assert.Equal(t, svm.DefaultRent(), rent)
}

func TestProgramSeesClock(t *testing.T) {
	b := newTestBank(t)
	payer := newKeypair(t)
	require.NoError(t, b.SetClock(42, 1_000))

	var seen svm.Clock
	id := registerFunc(t, b, func(ctx svm.InvokeContext, _ []byte) error {
		seen = ctx.Clock()
		return nil
	})
	_, err := process(t, b, []keypair{payer}, svm.Instruction{ProgramID: id, Accounts: []svm.AccountMeta{svm.Signer(payer.pubkey)}})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seen.Slot)
	assert.Equal(t, int64(1_000), seen.UnixTimestamp)
}

func TestLedgerAndMetrics(t *testing.T) {
	store, err := ledger.Open(ledger.DefaultConfig(filepath.Join(t.TempDir(), "ledger.db")))
	require.NoError(t, err)

	cfg := testConfig()
	reg := prometheus.NewRegistry()
	cfg.Registerer = reg
	b, err := New(accounts.NewMemoryDB(), store, cfg)
	require.NoError(t, err)
	defer b.Close()

	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))

	ok, err := process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, sol))
	require.NoError(t, err)
	failed, err := process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, 100*sol))
	require.Error(t, err)

	assert.Equal(t, uint64(2), b.Ledger().Count())
	rec, err := b.Ledger().Get(ok.ID)
	require.NoError(t, err)
	assert.True(t, rec.Success())
	assert.Equal(t, ok.Logs, rec.Logs)

	rec, err = b.Ledger().Get(failed.ID)
	require.NoError(t, err)
	assert.False(t, rec.Success())

	recs, err := b.Ledger().ListForAddress(bob.pubkey, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, failed.ID, recs[0].ID)

	m := b.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instructions.WithLabelValues(system.ProgramID.String(), "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instructions.WithLabelValues(system.ProgramID.String(), "failed")))
}

func TestMetricsReuseRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, hook := test.NewNullLogger()
	m1 := newMetrics(reg, logger)
	m2 := newMetrics(reg, logger)
	assert.Same(t, m1.transactions, m2.transactions)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}

	var none *metrics
	none.observeTransaction(1, nil)
	none.observeInstruction("x", nil)
}

func TestFailureIsLogged(t *testing.T) {
	cfg := DefaultConfig()
	logger, hook := test.NewNullLogger()
	cfg.Logger = logger
	b, err := New(accounts.NewMemoryDB(), nil, cfg)
	require.NoError(t, err)
	defer b.Close()

	alice, bob := newKeypair(t), newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, sol))
	_, err = process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, 2*sol))
	require.Error(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "transaction failed", entry.Message)
	assert.Equal(t, 0, entry.Data["ix"])
	assert.Contains(t, entry.Data, "tx")
	assert.Contains(t, entry.Data, "cu")
}

func TestSnapshotRestore(t *testing.T) {
	b := newTestBank(t)
	alice := newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))
	require.NoError(t, b.SetClock(500, 12_345))

	path := filepath.Join(t.TempDir(), "bank.snap")
	header, err := b.Snapshot(path)
	require.NoError(t, err)
	want, err := b.StateHash()
	require.NoError(t, err)
	assert.Equal(t, want, header.StateHash)

	restored := newTestBank(t)
	_, err = restored.Restore(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(10*sol), lamports(t, restored, alice.pubkey))
	assert.Equal(t, b.Clock(), restored.Clock())
}

func TestOpenPersistentStores(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Accounts.Path = filepath.Join(dir, "accounts")
	cfg.Ledger.Path = filepath.Join(dir, "ledger.db")
	cfg.Ledger.NoSync = true

	alice, bob := newKeypair(t), newKeypair(t)

	b, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Airdrop(alice.pubkey, 10*sol))
	require.NoError(t, b.SetClock(7, 70))
	_, err = process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, bob.pubkey, sol))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(cfg)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, uint64(sol), lamports(t, b, bob.pubkey))
	assert.Equal(t, uint64(7), b.Clock().Slot)
	assert.Equal(t, uint64(1), b.Ledger().Count())
}

func TestClosedBank(t *testing.T) {
	b, err := New(accounts.NewMemoryDB(), nil, testConfig())
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	alice := newKeypair(t)
	_, err = process(t, b, []keypair{alice}, system.Transfer(alice.pubkey, alice.pubkey, 0))
	require.ErrorIs(t, err, ErrClosed)
}

func TestConflictingTransactionsSerialize(t *testing.T) {
	b := newTestBank(t)
	alice := newKeypair(t)
	require.NoError(t, b.Airdrop(alice.pubkey, 100*sol))

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			dest := make([]byte, 32)
			binary.LittleEndian.PutUint64(dest, uint64(i+1))
			to, _ := types.PubkeyFromBytes(dest)
			tx := NewTransaction(uint64(i), system.Transfer(alice.pubkey, to, sol))
			if err := tx.Sign(alice.key); err != nil {
				errs <- err
				return
			}
			_, err := b.Process(context.Background(), tx)
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, uint64(80*sol), lamports(t, b, alice.pubkey))
}
