package accounts

import (
	"bytes"
	"crypto/sha256"
	"slices"

	bin "github.com/gagliardetto/binary"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// Merkle domain separators.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// ComputeAccountHash returns BLAKE3 over the account's storage encoding
// followed by its address. Zero accounts hash to the zero hash.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	var out types.Hash
	if account.IsZero() {
		return out
	}
	h := blake3.New()
	// blake3 hashers never fail to write.
	_ = account.MarshalWithEncoder(bin.NewBinEncoder(h))
	h.Write(pubkey[:])
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeStateHash returns the Merkle root over every account in db.
func ComputeStateHash(db DB) (types.Hash, error) {
	var entries []AccountEntry
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		entries = append(entries, AccountEntry{Pubkey: pubkey, Account: account})
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeDeltaHash(entries), nil
}

// ComputeDeltaHash returns the Merkle root over entries in pubkey order,
// regardless of the order given. Deletions contribute zero leaves.
func ComputeDeltaHash(entries []AccountEntry) types.Hash {
	sorted := slices.Clone(entries)
	sortEntries(sorted)
	leaves := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		leaves[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return ComputeMerkleRoot(leaves)
}

// ComputeMerkleRoot folds hashes into a binary SHA-256 tree. Leaves are
// SHA256(0x00 || h), nodes SHA256(0x01 || left || right), and an odd node is
// paired with the zero hash. An empty list has the zero root.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}
	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = sha256.Sum256(append([]byte{leafPrefix}, h[:]...))
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, types.Hash{})
		}
		buf := make([]byte, 1+2*types.HashSize)
		buf[0] = nodePrefix
		for i := 0; i < len(level); i += 2 {
			copy(buf[1:], level[i][:])
			copy(buf[1+types.HashSize:], level[i+1][:])
			level[i/2] = sha256.Sum256(buf)
		}
		level = level[:len(level)/2]
	}
	return level[0]
}

// SortPubkeys sorts pubkeys in ascending byte order.
func SortPubkeys(pubkeys []types.Pubkey) {
	slices.SortFunc(pubkeys, func(a, b types.Pubkey) int { return bytes.Compare(a[:], b[:]) })
}

func sortEntries(entries []AccountEntry) {
	slices.SortFunc(entries, func(a, b AccountEntry) int {
		return bytes.Compare(a.Pubkey[:], b.Pubkey[:])
	})
}
