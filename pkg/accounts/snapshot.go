package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Staking/internal/types"
)

// A snapshot file is the magic followed by one zstd stream holding the
// encoded header, then one uvarint-length-prefixed record per account
// (pubkey || Account.Encode), then a zero length.
var snapshotMagic = [4]byte{'X', '1', 'S', 'K'}

const snapshotVersion uint32 = 1

// loadBatch bounds the entries applied per ApplyChanges while loading.
const loadBatch = 1024

// SnapshotHeader describes a snapshot.
type SnapshotHeader struct {
	Version uint32
	Slot    uint64

	// StateHash is ComputeStateHash of the database the snapshot was taken from.
	StateHash types.Hash

	// AccountsCount is the number of account records. It is not encoded; it
	// is counted while writing or loading.
	AccountsCount uint64
}

func (h *SnapshotHeader) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(h.Version, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(h.Slot, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(h.StateHash[:], false)
}

func (h *SnapshotHeader) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if h.Version, err = decoder.ReadUint32(bin.LE); err != nil {
		return err
	}
	if h.Slot, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	hash, err := decoder.ReadBytes(types.HashSize)
	if err != nil {
		return err
	}
	copy(h.StateHash[:], hash)
	return nil
}

const headerSize = 4 + 8 + types.HashSize

// WriteSnapshot writes every account in db to path, replacing any existing
// file only once the snapshot is complete.
func WriteSnapshot(db DB, path string) (*SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute state hash: %w", err)
	}
	header := &SnapshotHeader{Version: snapshotVersion, Slot: db.GetSlot(), StateHash: stateHash}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp)

	if err := writeSnapshot(file, db, header); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("publish snapshot: %w", err)
	}
	return header, nil
}

func writeSnapshot(w io.Writer, db DB, header *SnapshotHeader) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("init zstd writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	if err := header.MarshalWithEncoder(bin.NewBinEncoder(bw)); err != nil {
		zw.Close()
		return fmt.Errorf("write header: %w", err)
	}

	var record bytes.Buffer
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		record.Reset()
		record.Write(pubkey[:])
		record.Write(account.Encode())
		if _, err := bw.Write(binary.AppendUvarint(nil, uint64(record.Len()))); err != nil {
			return err
		}
		if _, err := bw.Write(record.Bytes()); err != nil {
			return err
		}
		header.AccountsCount++
		return nil
	})
	if err == nil {
		err = bw.WriteByte(0)
	}
	if err == nil {
		err = bw.Flush()
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	return nil
}

// LoadSnapshot loads the snapshot at path into db, which should hold none of
// the snapshotted addresses, and checks the resulting state hash.
func LoadSnapshot(db DB, path string) (*SnapshotHeader, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	var magic [4]byte
	if _, err := io.ReadFull(file, magic[:]); err != nil || magic != snapshotMagic {
		return nil, fmt.Errorf("%s is not a snapshot", path)
	}
	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header := new(SnapshotHeader)
	if err := header.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	batch := make([]AccountEntry, 0, loadBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := db.ApplyChanges(batch)
		batch = batch[:0]
		return err
	}
	for {
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", header.AccountsCount, err)
		}
		if size == 0 {
			break
		}
		if size < types.PubkeySize || size > types.PubkeySize+MaxDataSize+64 {
			return nil, fmt.Errorf("record %d: size %d", header.AccountsCount, size)
		}
		rec := make([]byte, size)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, fmt.Errorf("read record %d: %w", header.AccountsCount, err)
		}
		pubkey, _ := types.PubkeyFromBytes(rec[:types.PubkeySize])
		account, err := DecodeAccount(rec[types.PubkeySize:])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", header.AccountsCount, err)
		}
		batch = append(batch, AccountEntry{Pubkey: pubkey, Account: account})
		header.AccountsCount++
		if len(batch) == loadBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := db.SetSlot(header.Slot); err != nil {
		return nil, fmt.Errorf("set slot: %w", err)
	}

	computed, err := ComputeStateHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute state hash: %w", err)
	}
	if computed != header.StateHash {
		return nil, fmt.Errorf("state hash mismatch: snapshot %s, loaded %s", header.StateHash, computed)
	}
	return header, nil
}
