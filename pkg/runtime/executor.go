package runtime

import (
	"bytes"
	"fmt"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/pda"
)

// execution holds the working state of one transaction. Accounts are loaded
// once and shared by pointer with every invocation frame, so a callee's changes
// are visible to its caller as soon as the callee returns.
type execution struct {
	// programs is the builtin set captured when the transaction started.
	programs map[types.Pubkey]svm.Program

	// accounts is the working copy of every referenced account.
	accounts map[types.Pubkey]*accounts.Account

	// meter is shared by every frame of the transaction.
	meter *svm.ComputeMeter

	clock svm.Clock
	rent  svm.Rent

	// maxDepth is the deepest frame allowed, top-level frames being depth 1.
	maxDepth int

	logs []string
}

// log appends a transaction log line.
func (e *execution) log(format string, args ...any) {
	e.logs = append(e.logs, fmt.Sprintf(format, args...))
}

// preState is an account as it was when a frame last verified it.
type preState struct {
	lamports   uint64
	data       []byte
	owner      types.Pubkey
	executable bool
}

// frame is one program invocation. It implements svm.InvokeContext.
type frame struct {
	exec      *execution
	programID types.Pubkey
	infos     []*svm.AccountInfo
	depth     int

	// privileges granted to this frame, merged across duplicate metas
	signer   map[types.Pubkey]bool
	writable map[types.Pubkey]bool

	pre map[types.Pubkey]preState
}

// newFrame builds a frame over metas, merging the privileges of duplicate
// metas, and snapshots its accounts.
func (e *execution) newFrame(programID types.Pubkey, metas []svm.AccountMeta, depth int) *frame {
	f := &frame{
		exec:      e,
		programID: programID,
		infos:     make([]*svm.AccountInfo, len(metas)),
		depth:     depth,
		signer:    make(map[types.Pubkey]bool, len(metas)),
		writable:  make(map[types.Pubkey]bool, len(metas)),
	}
	for i, meta := range metas {
		f.infos[i] = &svm.AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Account:    e.accounts[meta.Pubkey],
		}
		f.signer[meta.Pubkey] = f.signer[meta.Pubkey] || meta.IsSigner
		f.writable[meta.Pubkey] = f.writable[meta.Pubkey] || meta.IsWritable
	}
	f.snapshot()
	return f
}

// snapshot records the current state of the frame's accounts as the baseline
// for the next verify.
func (f *frame) snapshot() {
	f.pre = make(map[types.Pubkey]preState, len(f.infos))
	for _, info := range f.infos {
		if _, ok := f.pre[info.Key]; ok {
			continue
		}
		f.pre[info.Key] = preState{
			lamports:   info.Lamports,
			data:       bytes.Clone(info.Data),
			owner:      info.Owner,
			executable: info.Executable,
		}
	}
}

// isZeroed reports whether every byte of data is zero.
func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// verify checks every change made to the frame's accounts since the last
// snapshot against the account rules, then re-snapshots.
func (f *frame) verify() error {
	var preSum, postSum uint64
	for key, pre := range f.pre {
		post := f.exec.accounts[key]
		preSum += pre.lamports
		postSum += post.Lamports

		lamportsChanged := post.Lamports != pre.lamports
		dataChanged := !bytes.Equal(post.Data, pre.data)
		ownerChanged := post.Owner != pre.owner

		if !f.writable[key] {
			if lamportsChanged || dataChanged || ownerChanged || post.Executable != pre.executable {
				return fmt.Errorf("%w: %s", ErrReadonlyModified, key)
			}
			continue
		}
		if post.Executable != pre.executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
		if ownerChanged && (pre.owner != f.programID || pre.executable || !isZeroed(post.Data)) {
			return fmt.Errorf("%w: %s", ErrModifiedProgramID, key)
		}
		if dataChanged && pre.owner != f.programID {
			return fmt.Errorf("%w: %s", ErrExternalDataModified, key)
		}
		if post.Lamports < pre.lamports && pre.owner != f.programID {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, key)
		}
	}
	if preSum != postSum {
		return fmt.Errorf("%w: %d before, %d after", ErrUnbalancedInstruction, preSum, postSum)
	}
	f.snapshot()
	return nil
}

// run executes program inside f and verifies the result. The invoke, success
// and failure lines are logged around the call, and a program error or a
// rule violation found by verify fails the frame.
func (e *execution) run(f *frame, program svm.Program, data []byte) error {
	e.log("Program %s invoke [%d]", f.programID, f.depth)
	err := program.Process(f, data)
	if err == nil {
		err = f.verify()
	}
	if err != nil {
		e.log("Program %s failed: %v", f.programID, err)
		return err
	}
	e.log("Program %s success", f.programID)
	return nil
}

// ProgramID returns the address of the executing program.
func (f *frame) ProgramID() types.Pubkey {
	return f.programID
}

// AccountCount returns the number of instruction accounts.
func (f *frame) AccountCount() int {
	return len(f.infos)
}

// GetAccount returns the account at the given index.
func (f *frame) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(f.infos) {
		return nil, fmt.Errorf("%w: index %d of %d", svm.ErrAccountNotFound, index, len(f.infos))
	}
	return f.infos[index], nil
}

// Clock returns the clock sysvar for the transaction.
func (f *frame) Clock() svm.Clock {
	return f.exec.clock
}

// Rent returns the rent sysvar.
func (f *frame) Rent() svm.Rent {
	return f.exec.rent
}

// ConsumeCU charges the transaction compute meter.
func (f *frame) ConsumeCU(units uint64) error {
	return f.exec.meter.Consume(units)
}

// Log records a program log line.
func (f *frame) Log(msg string) {
	f.exec.log("Program log: %s", msg)
}

// holds reports whether key is one of the frame's accounts.
func (f *frame) holds(key types.Pubkey) bool {
	_, ok := f.pre[key]
	return ok
}

// Invoke runs ix as a cross-program invocation. The callee may only use
// accounts the caller holds, with at most the caller's privileges, except that
// each signerSeeds entry adds the program address it derives under the
// caller's program id as a signer.
func (f *frame) Invoke(ix svm.Instruction, signerSeeds ...[][]byte) error {
	if f.depth >= f.exec.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrCallDepth, f.depth+1)
	}
	if err := f.exec.meter.Consume(svm.CUInvokeBase); err != nil {
		return err
	}
	if !f.holds(ix.ProgramID) {
		return fmt.Errorf("%w: %s", ErrProgramNotInvokable, ix.ProgramID)
	}
	program, ok := f.exec.programs[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, ix.ProgramID)
	}

	derived := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := f.exec.meter.Consume(svm.CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := pda.CreateProgramAddress(seeds, f.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		derived[addr] = true
	}

	for _, meta := range ix.Accounts {
		if !f.holds(meta.Pubkey) {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		if meta.IsWritable && !f.writable[meta.Pubkey] {
			return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsSigner && !f.signer[meta.Pubkey] && !derived[meta.Pubkey] {
			return fmt.Errorf("%w: %s did not sign", ErrPrivilegeEscalation, meta.Pubkey)
		}
	}

	// Changes the caller made so far are checked under the caller's rules
	// before the callee can build on them.
	if err := f.verify(); err != nil {
		return err
	}
	callee := f.exec.newFrame(ix.ProgramID, ix.Accounts, f.depth+1)
	if err := f.exec.run(callee, program, ix.Data); err != nil {
		return err
	}
	f.snapshot()
	return nil
}

var _ svm.InvokeContext = (*frame)(nil)
