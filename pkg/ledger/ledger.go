// Package ledger keeps the outcome of every transaction the bank executes.
//
// Records are gob-encoded, zstd-compressed and stored in BoltDB under their
// transaction id. A second bucket indexes ids by each referenced address in
// execution order, so an account's history can be read newest first.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Staking/internal/types"
)

var (
	// ErrNotFound is returned when a transaction record doesn't exist.
	ErrNotFound = errors.New("transaction record not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

var (
	recordsBucket = []byte("records")
	historyBucket = []byte("history")
	metaBucket    = []byte("meta")

	countKey = []byte("count")
)

// defaultListLimit caps ListForAddress when no limit is given.
const defaultListLimit = 1000

// Config configures a BoltStore.
type Config struct {
	Path string

	// NoSync skips fsync after each commit.
	NoSync   bool
	ReadOnly bool

	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

func DefaultConfig(path string) Config {
	return Config{Path: path, Timeout: 5 * time.Second}
}

// Record is the stored outcome of one transaction.
type Record struct {
	ID            types.Hash
	Slot          uint64
	UnixTimestamp int64

	// Err is the failure message; empty on success.
	Err string

	// ErrCode is the custom program error code of a failed instruction.
	ErrCode *uint32

	Logs         []string
	ComputeUnits uint64

	// Accounts are every address the transaction referenced.
	Accounts []types.Pubkey
}

// Success reports whether the transaction applied.
func (r *Record) Success() bool {
	return r.Err == ""
}

// Store is a transaction ledger.
type Store interface {
	Put(rec *Record) error
	Get(id types.Hash) (*Record, error)
	ListForAddress(address types.Pubkey, limit int) ([]*Record, error)
	Count() uint64
	Close() error
}

// BoltStore is a Store in a single BoltDB file.
type BoltStore struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	count  atomic.Uint64
	closed atomic.Bool
}

// Open opens or creates the ledger file at cfg.Path.
func Open(cfg Config) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:  cfg.Timeout,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	s := &BoltStore{db: db}
	if s.enc, err = zstd.NewWriter(nil); err != nil {
		db.Close()
		return nil, err
	}
	if s.dec, err = zstd.NewReader(nil); err != nil {
		db.Close()
		return nil, err
	}

	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{recordsBucket, historyBucket, metaBucket} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
	}
	if err == nil {
		err = db.View(func(tx *bolt.Tx) error {
			if meta := tx.Bucket(metaBucket); meta != nil {
				if v := meta.Get(countKey); len(v) == 8 {
					s.count.Store(binary.BigEndian.Uint64(v))
				}
			}
			return nil
		})
	}
	if err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// historyKey is address || slot || seq, big-endian so that byte order is
// execution order within an address.
func historyKey(addr types.Pubkey, slot, seq uint64) []byte {
	key := make([]byte, 0, types.PubkeySize+16)
	key = append(key, addr[:]...)
	key = binary.BigEndian.AppendUint64(key, slot)
	return binary.BigEndian.AppendUint64(key, seq)
}

func (s *BoltStore) encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return s.enc.EncodeAll(buf.Bytes(), nil), nil
}

func (s *BoltStore) decode(data []byte) (*Record, error) {
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress record: %w", err)
	}
	rec := new(Record)
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Put stores rec. A new id is indexed under each referenced address; an
// existing id has its record replaced and keeps its original index entries.
func (s *BoltStore) Put(rec *Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := s.encode(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	var count uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		isNew := records.Get(rec.ID[:]) == nil
		if err := records.Put(rec.ID[:], data); err != nil {
			return err
		}
		if !isNew {
			return nil
		}

		history := tx.Bucket(historyBucket)
		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		for _, addr := range rec.Accounts {
			if err := history.Put(historyKey(addr, rec.Slot, seq), rec.ID[:]); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metaBucket)
		if v := meta.Get(countKey); len(v) == 8 {
			count = binary.BigEndian.Uint64(v)
		}
		count++
		return meta.Put(countKey, binary.BigEndian.AppendUint64(nil, count))
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	for cur := s.count.Load(); count > cur && !s.count.CompareAndSwap(cur, count); cur = s.count.Load() {
	}
	return nil
}

// Get returns the record stored under id.
func (s *BoltStore) Get(id types.Hash) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(recordsBucket); b != nil {
			data = bytes.Clone(b.Get(id[:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return s.decode(data)
}

// ListForAddress returns up to limit records that referenced address, newest
// first. A limit of zero or less means defaultListLimit.
func (s *BoltStore) ListForAddress(address types.Pubkey, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	var blobs [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		history, records := tx.Bucket(historyBucket), tx.Bucket(recordsBucket)
		if history == nil || records == nil {
			return nil
		}
		prefix := address[:]
		c := history.Cursor()

		// Position on the last key with prefix: seek past the whole prefix
		// range and step back.
		k, v := c.Seek(historyKey(address, ^uint64(0), ^uint64(0)))
		switch {
		case k == nil:
			k, v = c.Last()
		case !bytes.Equal(k, historyKey(address, ^uint64(0), ^uint64(0))):
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix) && len(blobs) < limit; k, v = c.Prev() {
			if data := records.Get(v); data != nil {
				blobs = append(blobs, bytes.Clone(data))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(blobs))
	for _, data := range blobs {
		rec, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of distinct stored records.
func (s *BoltStore) Count() uint64 {
	return s.count.Load()
}

// Close closes the ledger. Closing twice is a no-op.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.release()
}

func (s *BoltStore) release() error {
	if s.enc != nil {
		s.enc.Close()
	}
	if s.dec != nil {
		s.dec.Close()
	}
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
