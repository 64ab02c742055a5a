package staking

import (
	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/pda"
)

// Derivation seed prefixes.
var (
	ContractSeed = []byte("spl_staking")
	UserSeed     = []byte("spl_staking_user")
)

// ContractSeeds returns the seeds of the contract record for admin and mint.
func ContractSeeds(admin, mint types.Pubkey) [][]byte {
	return [][]byte{ContractSeed, admin.Bytes(), mint.Bytes()}
}

// UserSeeds returns the seeds of owner's user record. The derivation is not
// namespaced by contract: an owner has at most one live user record per program,
// and every pool of the program reads and writes that same record. The record
// does not name its pool, so a position staked in one pool can be restaked and
// unstaked through another, paying principal out of the other pool's vault in
// the other pool's mint.
func UserSeeds(owner types.Pubkey) [][]byte {
	return [][]byte{UserSeed, owner.Bytes()}
}

// FindContractAddress derives the contract record address and bump.
func FindContractAddress(programID, admin, mint types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(ContractSeeds(admin, mint), programID)
}

// FindUserAddress derives owner's user record address and bump.
func FindUserAddress(programID, owner types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(UserSeeds(owner), programID)
}

// withBump appends the bump seed.
func withBump(seeds [][]byte, bump uint8) [][]byte {
	return append(seeds, []byte{bump})
}

// verifyAddress re-derives the address for seeds and requires it to equal got.
// The search is charged per bump tried. It returns the signer seeds, bump
// included.
func verifyAddress(ctx svm.InvokeContext, seeds [][]byte, got types.Pubkey, what string) ([][]byte, error) {
	want, bump, err := pda.FindProgramAddress(seeds, ctx.ProgramID())
	if err != nil {
		return nil, wrap(ErrInvalidPDA, "%s: %v", what, err)
	}
	if err := ctx.ConsumeCU(svm.CUFindProgramAddress * uint64(256-int(bump))); err != nil {
		return nil, err
	}
	if want != got {
		return nil, wrap(ErrInvalidPDA, "%s: expected %s, got %s", what, want, got)
	}
	return withBump(seeds, bump), nil
}
