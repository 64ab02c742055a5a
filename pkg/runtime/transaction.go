package runtime

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
)

// Transaction is an atomic list of instructions.
type Transaction struct {
	Instructions []svm.Instruction

	// Nonce distinguishes otherwise identical transactions.
	Nonce uint64

	// Signatures holds one signature per RequiredSigners entry, in order.
	Signatures []types.Signature
}

// NewTransaction creates an unsigned transaction.
func NewTransaction(nonce uint64, instructions ...svm.Instruction) *Transaction {
	return &Transaction{Instructions: instructions, Nonce: nonce}
}

// RequiredSigners returns every account flagged as signer, in first-seen order.
func (tx *Transaction) RequiredSigners() []types.Pubkey {
	seen := make(map[types.Pubkey]struct{})
	var out []types.Pubkey
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.IsSigner {
				continue
			}
			if _, ok := seen[meta.Pubkey]; ok {
				continue
			}
			seen[meta.Pubkey] = struct{}{}
			out = append(out, meta.Pubkey)
		}
	}
	return out
}

// Message returns the canonical bytes covered by signatures.
func (tx *Transaction) Message() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	// Writes into a bytes.Buffer cannot fail.
	_ = enc.WriteUint64(tx.Nonce, bin.LE)
	_ = enc.WriteUint32(uint32(len(tx.Instructions)), bin.LE)
	for _, ix := range tx.Instructions {
		_ = enc.WriteBytes(ix.ProgramID[:], false)
		_ = enc.WriteUint32(uint32(len(ix.Accounts)), bin.LE)
		for _, meta := range ix.Accounts {
			var flags byte
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			_ = enc.WriteBytes(meta.Pubkey[:], false)
			_ = enc.WriteByte(flags)
		}
		_ = enc.WriteUint32(uint32(len(ix.Data)), bin.LE)
		_ = enc.WriteBytes(ix.Data, false)
	}
	return buf.Bytes()
}

// Sign signs the message with keys, which must cover every required signer.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	byPubkey := make(map[types.Pubkey]ed25519.PrivateKey, len(keys))
	for _, k := range keys {
		byPubkey[types.PubkeyFromPublicKey(k.Public().(ed25519.PublicKey))] = k
	}

	msg := tx.Message()
	signers := tx.RequiredSigners()
	sigs := make([]types.Signature, len(signers))
	for i, signer := range signers {
		key, ok := byPubkey[signer]
		if !ok {
			return fmt.Errorf("%w: no key for %s", ErrMissingSignature, signer)
		}
		sigs[i] = types.Sign(key, msg)
	}
	tx.Signatures = sigs
	return nil
}

// Verify checks every required signature.
func (tx *Transaction) Verify() error {
	signers := tx.RequiredSigners()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: have %d signatures for %d signers", ErrMissingSignature, len(tx.Signatures), len(signers))
	}
	msg := tx.Message()
	for i, signer := range signers {
		if !tx.Signatures[i].Verify(signer, msg) {
			return fmt.Errorf("%w: %s", ErrSignatureVerification, signer)
		}
	}
	return nil
}

// ID returns the transaction id: sha256 over the message and signatures.
func (tx *Transaction) ID() types.Hash {
	h := sha256.New()
	h.Write(tx.Message())
	for _, sig := range tx.Signatures {
		h.Write(sig[:])
	}
	var id types.Hash
	copy(id[:], h.Sum(nil))
	return id
}

// accountKeys splits every referenced account into writable and read-only
// sets. An account writable in any instruction is writable.
func (tx *Transaction) accountKeys() (writable, readonly []types.Pubkey) {
	isWritable := make(map[types.Pubkey]bool)
	var order []types.Pubkey
	note := func(k types.Pubkey, w bool) {
		prev, seen := isWritable[k]
		if !seen {
			order = append(order, k)
		}
		isWritable[k] = prev || w
	}
	for _, ix := range tx.Instructions {
		note(ix.ProgramID, false)
		for _, meta := range ix.Accounts {
			note(meta.Pubkey, meta.IsWritable)
		}
	}
	for _, k := range order {
		if isWritable[k] {
			writable = append(writable, k)
		} else {
			readonly = append(readonly, k)
		}
	}
	return writable, readonly
}
