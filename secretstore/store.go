package secretstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrHashlockMismatch is returned by Store when a record is inserted
	// for a hashlock that already exists with a different secret (I3: the
	// hashlock->secret mapping is one-to-one).
	ErrHashlockMismatch = errors.New("secretstore: secret does not match existing hashlock record")

	// ErrNotFound is returned when no record exists for a lookup key.
	ErrNotFound = errors.New("secretstore: record not found")
)

var (
	recordsBucket  = []byte("secrets-records")
	orderIndexBucket = []byte("secrets-by-order")
)

// Store is the Secret Store of §4.2, built on the shared bbolt handle.
// A single-writer discipline is enforced per hashlock by the caller
// holding the order's per-id lock before mutating its secret record;
// the store itself only guarantees atomicity of each individual call.
type Store struct {
	db *boltutil.DB
}

// New opens a Store against db, creating its buckets if necessary.
func New(db *boltutil.DB) (*Store, error) {
	for _, name := range [][]byte{recordsBucket, orderIndexBucket} {
		if err := db.EnsureBucket(name); err != nil {
			return nil, fmt.Errorf("secretstore: ensure bucket %s: %w", name, err)
		}
	}
	return &Store{db: db}, nil
}

// Store inserts a new record with status pending. Per I1, the hashlock
// must equal H(secret); callers are expected to have constructed it via
// swap.ComputeHashlock. Per I3, inserting a hashlock that already exists
// is a no-op if the secret matches, and ErrHashlockMismatch otherwise.
func (s *Store) Store(rec Record) error {
	if !rec.Hashlock.Matches(rec.Secret) {
		return fmt.Errorf("secretstore: hashlock does not match secret")
	}

	key := rec.Hashlock[:]

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)

		if existing := records.Get(key); existing != nil {
			prev, err := decodeRecord(existing)
			if err != nil {
				return err
			}
			if prev.Secret != rec.Secret {
				return ErrHashlockMismatch
			}
			return nil
		}

		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := records.Put(key, encoded); err != nil {
			return err
		}
		return tx.Bucket(orderIndexBucket).Put(rec.OrderHash[:], key)
	})
}

// GetByHashlock returns the record for h, if any.
func (s *Store) GetByHashlock(h swap.Hashlock) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(recordsBucket).Get(h[:])
		if raw == nil {
			return ErrNotFound
		}
		decoded, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec = &decoded
		return nil
	})
	return rec, err
}

// GetByOrder returns the record associated with orderHash, if any.
func (s *Store) GetByOrder(orderHash common.Hash) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(orderIndexBucket).Get(orderHash[:])
		if key == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(recordsBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		decoded, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec = &decoded
		return nil
	})
	return rec, err
}

// Has reports whether a record for h exists.
func (s *Store) Has(h swap.Hashlock) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(recordsBucket).Get(h[:]) != nil
		return nil
	})
	return found, err
}

// ListPending returns every record still awaiting confirmation.
func (s *Store) ListPending() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, raw []byte) error {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if rec.Status == RecordPending {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// Confirm transitions a record to confirmed, idempotently.
func (s *Store) Confirm(h swap.Hashlock, txHash common.Hash, gasUsed uint64) error {
	return s.mutate(h, func(rec *Record) {
		rec.Status = RecordConfirmed
		rec.RevealTxHash = txHash
		rec.GasUsed = gasUsed
		rec.Error = ""
	})
}

// MarkFailed transitions a record to failed, idempotently.
func (s *Store) MarkFailed(h swap.Hashlock, reason string) error {
	log.Warnf("secretstore: marking secret record %x failed: %s", h, reason)
	return s.mutate(h, func(rec *Record) {
		rec.Status = RecordFailed
		rec.Error = reason
	})
}

func (s *Store) mutate(h swap.Hashlock, apply func(*Record)) error {
	key := h[:]
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		raw := records.Get(key)
		if raw == nil {
			return ErrNotFound
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		apply(&rec)
		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return records.Put(key, encoded)
	})
}

// Statistics aggregates record counts by status and by chain (§4.2
// "statistics").
func (s *Store) Statistics() (Statistics, error) {
	stats := Statistics{ByChain: make(map[swap.ChainID]int)}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, raw []byte) error {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			stats.Total++
			stats.ByChain[rec.ChainID]++
			switch rec.Status {
			case RecordPending:
				stats.Pending++
			case RecordConfirmed:
				stats.Confirmed++
			case RecordFailed:
				stats.Failed++
			}
			return nil
		})
	})
	return stats, err
}

// --- encoding -------------------------------------------------------------

func encodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.Write(rec.Hashlock[:]); err != nil {
		return nil, err
	}
	if _, err := buf.Write(rec.Secret[:]); err != nil {
		return nil, err
	}
	if _, err := buf.Write(rec.OrderHash[:]); err != nil {
		return nil, err
	}
	if _, err := buf.Write(rec.EscrowAddress.Bytes()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(rec.ChainID)); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(byte(rec.Status)); err != nil {
		return nil, err
	}
	if _, err := buf.Write(rec.RevealTxHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.GasUsed); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.Error))); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString(rec.Error); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	r := bytes.NewReader(raw)

	if _, err := readFull(r, rec.Hashlock[:]); err != nil {
		return rec, err
	}
	if _, err := readFull(r, rec.Secret[:]); err != nil {
		return rec, err
	}
	if _, err := readFull(r, rec.OrderHash[:]); err != nil {
		return rec, err
	}
	var escrow [20]byte
	if _, err := readFull(r, escrow[:]); err != nil {
		return rec, err
	}
	rec.EscrowAddress = common.BytesToAddress(escrow[:])

	var chainID uint64
	if err := binary.Read(r, binary.BigEndian, &chainID); err != nil {
		return rec, err
	}
	rec.ChainID = swap.ChainID(chainID)

	statusByte, err := r.ReadByte()
	if err != nil {
		return rec, err
	}
	rec.Status = RecordStatus(statusByte)

	if _, err := readFull(r, rec.RevealTxHash[:]); err != nil {
		return rec, err
	}
	if err := binary.Read(r, binary.BigEndian, &rec.GasUsed); err != nil {
		return rec, err
	}

	var errLen uint16
	if err := binary.Read(r, binary.BigEndian, &errLen); err != nil {
		return rec, err
	}
	errBuf := make([]byte, errLen)
	if _, err := readFull(r, errBuf); err != nil {
		return rec, err
	}
	rec.Error = string(errBuf)

	return rec, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("short read: got %d want %d", n, len(buf))
	}
	return n, nil
}
