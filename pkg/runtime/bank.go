// Package runtime is the host that executes staking transactions.
//
// A Bank loads the accounts a transaction references, runs each instruction
// through the registered builtin programs with cross-program invocation and
// account ownership checks, and commits the modified accounts in one atomic
// ApplyChanges call only if every instruction succeeded.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
	"github.com/fortiblox/X1-Staking/pkg/ledger"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/token"
)

// SlotDuration is the wall-clock length of one slot.
const SlotDuration = 400 * time.Millisecond

// Result is the outcome of one transaction.
type Result struct {
	// ID is the transaction id; Slot is the slot it executed in.
	ID   types.Hash
	Slot uint64

	// Err is the failure; nil on success.
	Err error

	// ErrCode is the custom program error code when the failing program set one.
	ErrCode *uint32

	// FailedInstruction is the index of the failing instruction, or -1.
	FailedInstruction int

	// Logs are the program and invocation log lines, in order.
	Logs []string

	// ComputeUnits is the compute consumed, failed instructions included.
	ComputeUnits uint64

	// Modified lists the committed accounts in pubkey order.
	Modified []types.Pubkey

	// DeltaHash is the merkle root over the committed accounts.
	DeltaHash types.Hash
}

// Success reports whether the transaction applied.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Bank executes transactions against an account store.
type Bank struct {
	config Config
	log    logrus.FieldLogger

	// db holds committed account state; ledger is nil when disabled.
	db     accounts.DB
	ledger ledger.Store

	metrics *metrics

	// locks serializes transactions that write the same account.
	locks *lockTable

	// mu guards programs and clock
	mu       sync.RWMutex
	programs map[types.Pubkey]svm.Program
	clock    svm.Clock

	// closed is closed once Close has run.
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a bank over db. store may be nil to disable the ledger. The
// system program and both token programs are registered.
func New(db accounts.DB, store ledger.Store, cfg Config) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	b := &Bank{
		config:   cfg,
		log:      log.WithField("component", "bank"),
		db:       db,
		ledger:   store,
		metrics:  newMetrics(cfg.Registerer, log),
		locks:    newLockTable(),
		programs: make(map[types.Pubkey]svm.Program),
		closed:   make(chan struct{}),
	}
	if err := b.loadClock(); err != nil {
		return nil, err
	}
	if err := b.writeSysvars(); err != nil {
		return nil, err
	}

	builtins := []struct {
		id      types.Pubkey
		program svm.Program
	}{
		{system.ProgramID, system.NewProcessor()},
		{types.TokenProgramAddr, token.NewProcessor()},
		{types.Token2022ProgramAddr, token.NewProcessor()},
	}
	for _, bi := range builtins {
		if err := b.RegisterProgram(bi.id, bi.program); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Open creates a bank with the stores named in cfg. The bank owns the stores
// and closes them on Close.
func Open(cfg Config) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var db accounts.DB
	if cfg.Accounts.Path == "" {
		db = accounts.NewMemoryDB()
	} else {
		bcfg := accounts.DefaultBadgerDBConfig(cfg.Accounts.Path)
		bcfg.SyncWrites = cfg.Accounts.SyncWrites
		if cfg.Logger != nil {
			bcfg.Logger = cfg.Logger.WithField("store", "accounts")
		}
		bdb, err := accounts.NewBadgerDB(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open accounts: %w", err)
		}
		db = bdb
	}

	var store ledger.Store
	if cfg.Ledger.Path != "" {
		lcfg := ledger.DefaultConfig(cfg.Ledger.Path)
		lcfg.NoSync = cfg.Ledger.NoSync
		s, err := ledger.Open(lcfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		store = s
	}

	b, err := New(db, store, cfg)
	if err != nil {
		db.Close()
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return b, nil
}

// Close closes the account store and the ledger.
func (b *Bank) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		if cerr := b.db.Commit(); cerr != nil {
			err = cerr
		}
		if cerr := b.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if b.ledger != nil {
			if cerr := b.ledger.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// isClosed reports whether Close has been called.
func (b *Bank) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Ledger returns the transaction ledger, or nil when disabled.
func (b *Bank) Ledger() ledger.Store {
	return b.ledger
}

// RegisterProgram installs a builtin program at id and stores its executable
// program account.
func (b *Bank) RegisterProgram(id types.Pubkey, program svm.Program) error {
	acc := &accounts.Account{
		Lamports:   1,
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	}
	if err := b.db.SetAccount(id, acc); err != nil {
		return fmt.Errorf("store program account %s: %w", id, err)
	}

	b.mu.Lock()
	b.programs[id] = program
	b.mu.Unlock()

	b.log.WithField("program", id.String()).Debug("registered program")
	return nil
}

// program returns the builtin registered at id.
func (b *Bank) program(id types.Pubkey) (svm.Program, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.programs[id]
	return p, ok
}

// loadClock restores the clock from the stored sysvar, or starts at genesis.
func (b *Bank) loadClock() error {
	acc, err := b.db.GetAccount(types.SysvarClockAddr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		b.clock = b.clockAt(b.db.GetSlot(), b.config.GenesisUnixTimestamp, b.config.GenesisUnixTimestamp)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load clock: %w", err)
	}
	return svm.DecodeSysvar(acc.Data, &b.clock)
}

// clockAt builds the clock for slot. Epochs are SlotsPerEpoch slots long.
func (b *Bank) clockAt(slot uint64, unixTimestamp, epochStart int64) svm.Clock {
	epoch := slot / b.config.SlotsPerEpoch
	return svm.Clock{
		Slot:                slot,
		EpochStartTimestamp: epochStart,
		Epoch:               epoch,
		LeaderScheduleEpoch: epoch + 1,
		UnixTimestamp:       unixTimestamp,
	}
}

// writeSysvars stores the clock and rent sysvar accounts. Callers hold mu or
// are constructing the bank.
func (b *Bank) writeSysvars() error {
	rent := b.config.rent()
	clockData, err := svm.EncodeSysvar(&b.clock)
	if err != nil {
		return err
	}
	rentData, err := svm.EncodeSysvar(&rent)
	if err != nil {
		return err
	}
	entries := []accounts.AccountEntry{
		{Pubkey: types.SysvarClockAddr, Account: &accounts.Account{
			Lamports: rent.MinimumBalance(uint64(len(clockData))),
			Data:     clockData,
			Owner:    types.SysvarOwnerAddr,
		}},
		{Pubkey: types.SysvarRentAddr, Account: &accounts.Account{
			Lamports: rent.MinimumBalance(uint64(len(rentData))),
			Data:     rentData,
			Owner:    types.SysvarOwnerAddr,
		}},
	}
	if err := b.db.ApplyChanges(entries); err != nil {
		return fmt.Errorf("store sysvars: %w", err)
	}
	return b.db.SetSlot(b.clock.Slot)
}

// Clock returns the current clock.
func (b *Bank) Clock() svm.Clock {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock
}

// Rent returns the rent sysvar.
func (b *Bank) Rent() svm.Rent {
	return b.config.rent()
}

// SetClock moves the clock to slot and unixTimestamp.
func (b *Bank) SetClock(slot uint64, unixTimestamp int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	epochStart := b.clock.EpochStartTimestamp
	if slot/b.config.SlotsPerEpoch != b.clock.Epoch {
		epochStart = unixTimestamp
	}
	b.clock = b.clockAt(slot, unixTimestamp, epochStart)
	return b.writeSysvars()
}

// Warp advances the clock by d, moving the slot forward at SlotDuration per slot.
func (b *Bank) Warp(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative warp %s", ErrInvalidConfig, d)
	}
	now := b.Clock()
	return b.SetClock(now.Slot+uint64(d/SlotDuration), now.UnixTimestamp+int64(d/time.Second))
}

// WarpToEpoch moves the clock to the first slot of epoch, keeping the timestamp.
func (b *Bank) WarpToEpoch(epoch uint64) error {
	now := b.Clock()
	if epoch < now.Epoch {
		return fmt.Errorf("%w: epoch %d is behind %d", ErrInvalidConfig, epoch, now.Epoch)
	}
	return b.SetClock(epoch*b.config.SlotsPerEpoch, now.UnixTimestamp)
}

// GetAccount returns a copy of the stored account.
func (b *Bank) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return b.db.GetAccount(pubkey)
}

// SetAccount stores an account directly, outside of any transaction.
func (b *Bank) SetAccount(pubkey types.Pubkey, acc *accounts.Account) error {
	return b.db.SetAccount(pubkey, acc)
}

// Airdrop credits lamports to pubkey, creating a system account if needed.
func (b *Bank) Airdrop(pubkey types.Pubkey, lamports uint64) error {
	if err := b.locks.acquire(context.Background(), []types.Pubkey{pubkey}, nil); err != nil {
		return err
	}
	defer b.locks.release([]types.Pubkey{pubkey}, nil)

	acc, err := b.db.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acc = &accounts.Account{Owner: system.ProgramID}
	} else if err != nil {
		return err
	}
	if acc.Lamports+lamports < acc.Lamports {
		return fmt.Errorf("airdrop to %s overflows", pubkey)
	}
	acc.Lamports += lamports
	return b.db.SetAccount(pubkey, acc)
}

// StateHash returns the blake3 state hash over every stored account.
func (b *Bank) StateHash() (types.Hash, error) {
	return accounts.ComputeStateHash(b.db)
}

// Snapshot writes every account to a zstd snapshot file at path.
func (b *Bank) Snapshot(path string) (*accounts.SnapshotHeader, error) {
	if err := b.db.Commit(); err != nil {
		return nil, err
	}
	return accounts.WriteSnapshot(b.db, path)
}

// Restore loads a snapshot into the bank's store, which should be empty apart
// from the sysvar and program accounts, and resumes the stored clock.
func (b *Bank) Restore(path string) (*accounts.SnapshotHeader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	header, err := accounts.LoadSnapshot(b.db, path)
	if err != nil {
		return nil, err
	}
	if err := b.db.SetSlot(header.Slot); err != nil {
		return nil, err
	}
	if err := b.loadClock(); err != nil {
		return nil, err
	}
	return header, nil
}

// Simulate executes tx without committing anything.
func (b *Bank) Simulate(ctx context.Context, tx *Transaction) (*Result, error) {
	return b.execute(ctx, tx, false)
}

// Process executes tx and commits its changes if every instruction succeeds.
// The returned error is the transaction's failure, wrapped with the index of
// the failing instruction, or an error that prevented execution. The Result is
// non-nil whenever the transaction ran.
func (b *Bank) Process(ctx context.Context, tx *Transaction) (*Result, error) {
	return b.execute(ctx, tx, true)
}

// execute runs tx against copies of its accounts under the account locks.
// With commit set, a successful run is applied to db, metered and written to
// the ledger; otherwise nothing leaves the call but the Result.
func (b *Bank) execute(ctx context.Context, tx *Transaction, commit bool) (*Result, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	if len(tx.Instructions) == 0 {
		return nil, ErrNoInstructions
	}
	if !b.config.SkipSignatureVerification {
		if err := tx.Verify(); err != nil {
			return nil, err
		}
	}

	writable, readonly := tx.accountKeys()
	if err := b.locks.acquire(ctx, writable, readonly); err != nil {
		return nil, err
	}
	defer b.locks.release(writable, readonly)

	b.mu.RLock()
	clock := b.clock
	programs := make(map[types.Pubkey]svm.Program, len(b.programs))
	for id, p := range b.programs {
		programs[id] = p
	}
	b.mu.RUnlock()

	exec := &execution{
		programs: programs,
		accounts: make(map[types.Pubkey]*accounts.Account, len(writable)+len(readonly)),
		meter:    svm.NewComputeMeter(b.config.ComputeUnitLimit),
		clock:    clock,
		rent:     b.config.rent(),
		maxDepth: 1 + b.config.MaxCPIDepth,
	}
	// original keeps the loaded state; exec.accounts is the working copy.
	original := make(map[types.Pubkey]*accounts.Account, len(exec.accounts))
	for _, keys := range [][]types.Pubkey{writable, readonly} {
		for _, key := range keys {
			acc, err := b.db.GetAccount(key)
			if errors.Is(err, accounts.ErrAccountNotFound) {
				acc = &accounts.Account{Owner: system.ProgramID}
			} else if err != nil {
				return nil, fmt.Errorf("load account %s: %w", key, err)
			}
			original[key] = acc
			exec.accounts[key] = acc.Clone()
		}
	}

	id := tx.ID()
	res := &Result{ID: id, Slot: clock.Slot, FailedInstruction: -1}
	log := b.log.WithField("tx", id.String())

	var txErr error
	for i, ix := range tx.Instructions {
		err := b.executeInstruction(exec, ix)
		b.metrics.observeInstruction(ix.ProgramID.String(), err)
		if err != nil {
			res.FailedInstruction = i
			txErr = fmt.Errorf("instruction %d: %w", i, err)
			var coded svm.CodedError
			if errors.As(err, &coded) {
				code := coded.ErrorCode()
				res.ErrCode = &code
			}
			log = log.WithFields(logrus.Fields{"ix": i, "program": ix.ProgramID.String()})
			break
		}
	}

	var entries []accounts.AccountEntry
	if txErr == nil {
		entries, txErr = b.modified(exec, original, writable)
	}

	res.Err = txErr
	res.Logs = exec.logs
	res.ComputeUnits = exec.meter.Consumed()

	if txErr == nil && commit {
		if err := b.db.ApplyChanges(entries); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		for _, e := range entries {
			res.Modified = append(res.Modified, e.Pubkey)
		}
		res.DeltaHash = accounts.ComputeDeltaHash(entries)
	}

	log = log.WithField("cu", res.ComputeUnits)
	if txErr != nil {
		log.WithField("err", txErr).Info("transaction failed")
	} else {
		log.WithField("accounts", len(entries)).Debug("transaction applied")
	}

	if !commit {
		return res, txErr
	}
	b.metrics.observeTransaction(res.ComputeUnits, txErr)
	b.record(tx, res, clock, writable, readonly)
	return res, txErr
}

// executeInstruction runs a top-level instruction in a depth 1 frame. The
// target must be a registered, executable program.
func (b *Bank) executeInstruction(exec *execution, ix svm.Instruction) error {
	program, ok := exec.programs[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, ix.ProgramID)
	}
	if acc := exec.accounts[ix.ProgramID]; !acc.Executable {
		return fmt.Errorf("%w: %s", ErrProgramNotExecutable, ix.ProgramID)
	}
	f := exec.newFrame(ix.ProgramID, ix.Accounts, 1)
	return exec.run(f, program, ix.Data)
}

// modified collects the writable accounts that changed, in pubkey order. Any
// changed account that keeps a balance must be rent exempt; accounts drained
// to zero lamports are deleted.
func (b *Bank) modified(exec *execution, original map[types.Pubkey]*accounts.Account, writable []types.Pubkey) ([]accounts.AccountEntry, error) {
	keys := make([]types.Pubkey, 0, len(writable))
	for _, key := range writable {
		if !exec.accounts[key].Equal(original[key]) {
			keys = append(keys, key)
		}
	}
	accounts.SortPubkeys(keys)

	entries := make([]accounts.AccountEntry, 0, len(keys))
	for _, key := range keys {
		acc := exec.accounts[key]
		if acc.Lamports == 0 {
			entries = append(entries, accounts.AccountEntry{Pubkey: key})
			continue
		}
		if !exec.rent.IsExempt(acc.Lamports, uint64(len(acc.Data))) {
			return nil, fmt.Errorf("%w: %s holds %d lamports for %d bytes", ErrRentNotExempt, key, acc.Lamports, len(acc.Data))
		}
		entries = append(entries, accounts.AccountEntry{Pubkey: key, Account: acc})
	}
	return entries, nil
}

// record writes the result to the ledger. A ledger failure does not undo the
// committed transaction.
func (b *Bank) record(tx *Transaction, res *Result, clock svm.Clock, writable, readonly []types.Pubkey) {
	if b.ledger == nil {
		return
	}
	rec := &ledger.Record{
		ID:            res.ID,
		Slot:          clock.Slot,
		UnixTimestamp: clock.UnixTimestamp,
		ErrCode:       res.ErrCode,
		Logs:          res.Logs,
		ComputeUnits:  res.ComputeUnits,
		Accounts:      append(append([]types.Pubkey{}, writable...), readonly...),
	}
	if res.Err != nil {
		rec.Err = res.Err.Error()
	}
	if err := b.ledger.Put(rec); err != nil {
		b.log.WithError(err).WithField("tx", res.ID.String()).Error("ledger write failed")
	}
}
