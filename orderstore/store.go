// Package orderstore implements the crash-recoverable Order Store of §4.1:
// one record per accepted swap, keyed by (src_chain_id, order_hash), with
// secondary indexes by status and by destination-escrow address so the
// resolver core can cheaply enumerate "orders needing action" after a
// restart.
package orderstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"

	bolt "go.etcd.io/bbolt"
)

var (
	// recordsBucket maps orderKey -> encoded OrderState.
	recordsBucket = []byte("orders-records")

	// statusIndexBucket maps status-byte||orderKey -> nil, letting
	// ForEachStatus range-scan a single status's keyspace.
	statusIndexBucket = []byte("orders-by-status")

	// dstEscrowIndexBucket maps the destination escrow address -> orderKey,
	// used by the destination monitor to resolve an observed escrow back
	// to the order that predicted it.
	dstEscrowIndexBucket = []byte("orders-by-dst-escrow")
)

const orderKeySize = 8 + 32 // src chain id || order hash

// Store is the Order Store of §4.1, built on the shared bbolt handle.
type Store struct {
	db *boltutil.DB
}

// New opens a Store against db, creating its buckets if they don't exist.
func New(db *boltutil.DB) (*Store, error) {
	for _, name := range [][]byte{recordsBucket, statusIndexBucket, dstEscrowIndexBucket} {
		if err := db.EnsureBucket(name); err != nil {
			return nil, fmt.Errorf("orderstore: ensure bucket %s: %w", name, err)
		}
	}
	return &Store{db: db}, nil
}

func orderKey(id swap.OrderID) []byte {
	var k [orderKeySize]byte
	binary.BigEndian.PutUint64(k[:8], uint64(id.SrcChainID))
	copy(k[8:], id.OrderHash[:])
	return k[:]
}

func statusIndexKey(status swap.Status, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(status)
	copy(out[1:], key)
	return out
}

// Put inserts a brand new order record. It returns ErrOrderAlreadyExists if
// the id is already known, keeping ingestion idempotent across restarts and
// replayed source-chain events.
func (s *Store) Put(order *swap.OrderState) error {
	key := orderKey(order.ID)

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)

		if records.Get(key) != nil {
			return ErrOrderAlreadyExists
		}

		encoded, err := encodeOrder(order)
		if err != nil {
			return err
		}
		if err := records.Put(key, encoded); err != nil {
			return err
		}

		if err := tx.Bucket(statusIndexBucket).Put(statusIndexKey(order.Status, key), nil); err != nil {
			return err
		}

		if order.DstEscrowAddressPredicted != nil {
			if err := tx.Bucket(dstEscrowIndexBucket).Put(
				order.DstEscrowAddressPredicted.Bytes(), key); err != nil {
				return err
			}
		}

		return nil
	})
}

// Get fetches the order record for id.
func (s *Store) Get(id swap.OrderID) (*swap.OrderState, error) {
	key := orderKey(id)

	var order *swap.OrderState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(recordsBucket).Get(key)
		if raw == nil {
			return ErrOrderNotFound
		}
		decoded, err := decodeOrder(raw)
		if err != nil {
			return err
		}
		order = decoded
		return nil
	})
	return order, err
}

// Update loads the order for id, applies mutate, validates any status
// change against the §4.6 state diagram, and persists the result together
// with its secondary indexes, all inside one transaction. mutate must not
// retain the pointer past its call.
func (s *Store) Update(id swap.OrderID, mutate func(*swap.OrderState) error) (*swap.OrderState, error) {
	key := orderKey(id)

	var updated *swap.OrderState
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)

		raw := records.Get(key)
		if raw == nil {
			return ErrOrderNotFound
		}
		order, err := decodeOrder(raw)
		if err != nil {
			return err
		}

		prevStatus := order.Status
		prevDst := order.DstEscrowAddressPredicted

		if err := mutate(order); err != nil {
			return err
		}

		if order.Status != prevStatus && !swap.CanTransition(prevStatus, order.Status) {
			return ErrInvalidTransition
		}

		encoded, err := encodeOrder(order)
		if err != nil {
			return err
		}
		if err := records.Put(key, encoded); err != nil {
			return err
		}

		if order.Status != prevStatus {
			statusIdx := tx.Bucket(statusIndexBucket)
			if err := statusIdx.Delete(statusIndexKey(prevStatus, key)); err != nil {
				return err
			}
			if err := statusIdx.Put(statusIndexKey(order.Status, key), nil); err != nil {
				return err
			}
		}

		if !addrEqual(prevDst, order.DstEscrowAddressPredicted) && order.DstEscrowAddressPredicted != nil {
			if err := tx.Bucket(dstEscrowIndexBucket).Put(
				order.DstEscrowAddressPredicted.Bytes(), key); err != nil {
				return err
			}
		}

		updated = order
		return nil
	})
	return updated, err
}

func addrEqual(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GetByDstEscrowAddress resolves an observed destination escrow address
// back to the order that predicted it, for the destination monitor.
func (s *Store) GetByDstEscrowAddress(addr common.Address) (*swap.OrderState, error) {
	var order *swap.OrderState
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(dstEscrowIndexBucket).Get(addr.Bytes())
		if key == nil {
			return ErrOrderNotFound
		}
		raw := tx.Bucket(recordsBucket).Get(key)
		if raw == nil {
			return ErrOrderNotFound
		}
		decoded, err := decodeOrder(raw)
		if err != nil {
			return err
		}
		order = decoded
		return nil
	})
	return order, err
}

// ForEachStatus invokes cb with every order currently in status, in key
// order. If cb returns an error, iteration stops and the error is
// propagated.
func (s *Store) ForEachStatus(status swap.Status, cb func(*swap.OrderState) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		idx := tx.Bucket(statusIndexBucket)

		prefix := []byte{byte(status)}
		c := idx.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			raw := records.Get(k[1:])
			if raw == nil {
				continue
			}
			order, err := decodeOrder(raw)
			if err != nil {
				return err
			}
			if err := cb(order); err != nil {
				return err
			}
		}
		return nil
	})
}

// NeedingAction returns every order with a deployed source escrow but no
// confirmed destination escrow yet (§4.3 "orders_needing_action").
func (s *Store) NeedingAction() ([]*swap.OrderState, error) {
	var out []*swap.OrderState
	err := s.ForEachStatus(swap.StatusSrcEscrowDeployed, func(o *swap.OrderState) error {
		if o.NeedsAction() {
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// CleanupOlderThan removes every terminal order whose UpdatedAt is older
// than age, returning the number removed (§4.3 "cleanup_older_than").
func (s *Store) CleanupOlderThan(age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	var stale []swap.OrderID

	for _, status := range []swap.Status{swap.StatusCompleted, swap.StatusCancelled, swap.StatusFailed} {
		err := s.ForEachStatus(status, func(o *swap.OrderState) error {
			if o.UpdatedAt.Before(cutoff) {
				stale = append(stale, o.ID)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	for _, id := range stale {
		if err := s.Delete(id); err != nil && err != ErrOrderNotFound {
			return 0, err
		}
	}
	if len(stale) > 0 {
		log.Debugf("orderstore: cleaned up %d terminal orders older than %s", len(stale), age)
	}
	return len(stale), nil
}

// HasActiveHashlock reports whether some non-terminal order carries
// hashlock h, satisfying destmonitor.OrderLookup (§4.5 "verifies that
// H(secret) equals the hashlock of some active order").
func (s *Store) HasActiveHashlock(h swap.Hashlock) bool {
	found := false
	for _, status := range []swap.Status{swap.StatusCreated, swap.StatusSrcEscrowDeployed, swap.StatusDstEscrowDeployed, swap.StatusSecretRevealed} {
		_ = s.ForEachStatus(status, func(o *swap.OrderState) error {
			if o.Immutables.Hashlock == h {
				found = true
			}
			return nil
		})
		if found {
			return true
		}
	}
	return found
}

// Delete removes an order and its secondary index entries. Called only by
// the cleanup task once an order is terminal and past its retention
// window.
func (s *Store) Delete(id swap.OrderID) error {
	key := orderKey(id)

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		raw := records.Get(key)
		if raw == nil {
			return ErrOrderNotFound
		}
		order, err := decodeOrder(raw)
		if err != nil {
			return err
		}

		if err := records.Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(statusIndexBucket).Delete(statusIndexKey(order.Status, key)); err != nil {
			return err
		}
		if order.DstEscrowAddressPredicted != nil {
			if err := tx.Bucket(dstEscrowIndexBucket).Delete(
				order.DstEscrowAddressPredicted.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- encoding -------------------------------------------------------------
//
// Records are serialized field-by-field with fixed-width big-endian
// integers and a uint16 length prefix ahead of every variable-length
// field, matching the on-disk record style the store's buckets are built
// on top of.

func encodeOrder(o *swap.OrderState) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeOrderID(&buf, o.ID); err != nil {
		return nil, err
	}
	if err := writeParams(&buf, o.Params); err != nil {
		return nil, err
	}
	if err := writeImmutables(&buf, o.Immutables); err != nil {
		return nil, err
	}
	if err := writeOptAddr(&buf, o.SrcEscrowAddress); err != nil {
		return nil, err
	}
	if err := writeOptAddr(&buf, o.DstEscrowAddressPredicted); err != nil {
		return nil, err
	}
	if err := writeOptAddr(&buf, o.DstEscrowAddressActual); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(byte(o.Status)); err != nil {
		return nil, err
	}
	if err := writeOptSecret(&buf, o.Secret); err != nil {
		return nil, err
	}
	if err := writeVarString(&buf, o.RejectReason); err != nil {
		return nil, err
	}
	if err := writeTime(&buf, o.CreatedAt); err != nil {
		return nil, err
	}
	if err := writeTime(&buf, o.UpdatedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeOrder(raw []byte) (*swap.OrderState, error) {
	r := bytes.NewReader(raw)

	id, err := readOrderID(r)
	if err != nil {
		return nil, fmt.Errorf("decode order id: %w", err)
	}
	params, err := readParams(r)
	if err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	immutables, err := readImmutables(r)
	if err != nil {
		return nil, fmt.Errorf("decode immutables: %w", err)
	}
	srcEscrow, err := readOptAddr(r)
	if err != nil {
		return nil, fmt.Errorf("decode src escrow: %w", err)
	}
	dstPredicted, err := readOptAddr(r)
	if err != nil {
		return nil, fmt.Errorf("decode dst escrow predicted: %w", err)
	}
	dstActual, err := readOptAddr(r)
	if err != nil {
		return nil, fmt.Errorf("decode dst escrow actual: %w", err)
	}
	statusByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	secret, err := readOptSecret(r)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	rejectReason, err := readVarString(r)
	if err != nil {
		return nil, fmt.Errorf("decode reject reason: %w", err)
	}
	createdAt, err := readTime(r)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	updatedAt, err := readTime(r)
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}

	return &swap.OrderState{
		ID:                        id,
		Params:                    params,
		Immutables:                immutables,
		SrcEscrowAddress:          srcEscrow,
		DstEscrowAddressPredicted: dstPredicted,
		DstEscrowAddressActual:    dstActual,
		Status:                    swap.Status(statusByte),
		Secret:                    secret,
		RejectReason:              rejectReason,
		CreatedAt:                 createdAt,
		UpdatedAt:                 updatedAt,
	}, nil
}

func writeOrderID(buf *bytes.Buffer, id swap.OrderID) error {
	if err := binary.Write(buf, binary.BigEndian, uint64(id.SrcChainID)); err != nil {
		return err
	}
	_, err := buf.Write(id.OrderHash[:])
	return err
}

func readOrderID(r *bytes.Reader) (swap.OrderID, error) {
	var chainID uint64
	if err := binary.Read(r, binary.BigEndian, &chainID); err != nil {
		return swap.OrderID{}, err
	}
	var hash common.Hash
	if _, err := readFull(r, hash[:]); err != nil {
		return swap.OrderID{}, err
	}
	return swap.OrderID{SrcChainID: swap.ChainID(chainID), OrderHash: hash}, nil
}

func writeParams(buf *bytes.Buffer, p swap.Params) error {
	if err := binary.Write(buf, binary.BigEndian, uint64(p.SrcChainID)); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint64(p.DstChainID)); err != nil {
		return err
	}
	if _, err := buf.Write(p.SrcToken.Bytes()); err != nil {
		return err
	}
	if _, err := buf.Write(p.DstToken.Bytes()); err != nil {
		return err
	}
	if err := writeBigInt(buf, p.SrcAmount); err != nil {
		return err
	}
	if err := writeBigInt(buf, p.DstAmount); err != nil {
		return err
	}
	if err := writeBigInt(buf, p.SafetyDeposit); err != nil {
		return err
	}
	nativeByte := byte(0)
	if p.NativeSafetyDep {
		nativeByte = 1
	}
	return buf.WriteByte(nativeByte)
}

func readParams(r *bytes.Reader) (swap.Params, error) {
	var p swap.Params
	var srcChain, dstChain uint64
	if err := binary.Read(r, binary.BigEndian, &srcChain); err != nil {
		return p, err
	}
	if err := binary.Read(r, binary.BigEndian, &dstChain); err != nil {
		return p, err
	}
	p.SrcChainID, p.DstChainID = swap.ChainID(srcChain), swap.ChainID(dstChain)

	var srcToken, dstToken [20]byte
	if _, err := readFull(r, srcToken[:]); err != nil {
		return p, err
	}
	if _, err := readFull(r, dstToken[:]); err != nil {
		return p, err
	}
	p.SrcToken, p.DstToken = common.BytesToAddress(srcToken[:]), common.BytesToAddress(dstToken[:])

	var err error
	if p.SrcAmount, err = readBigInt(r); err != nil {
		return p, err
	}
	if p.DstAmount, err = readBigInt(r); err != nil {
		return p, err
	}
	if p.SafetyDeposit, err = readBigInt(r); err != nil {
		return p, err
	}

	nativeByte, err := r.ReadByte()
	if err != nil {
		return p, err
	}
	p.NativeSafetyDep = nativeByte == 1

	return p, nil
}

func writeImmutables(buf *bytes.Buffer, im swap.Immutables) error {
	if _, err := buf.Write(im.OrderHash[:]); err != nil {
		return err
	}
	if _, err := buf.Write(im.Hashlock[:]); err != nil {
		return err
	}
	if _, err := buf.Write(im.Maker.Bytes()); err != nil {
		return err
	}
	if _, err := buf.Write(im.Taker.Bytes()); err != nil {
		return err
	}
	if _, err := buf.Write(im.Token.Bytes()); err != nil {
		return err
	}
	if err := writeBigInt(buf, im.Amount); err != nil {
		return err
	}
	if err := writeBigInt(buf, im.SafetyDeposit); err != nil {
		return err
	}
	packed := im.Timelocks.PackBytes()
	_, err := buf.Write(packed[:])
	return err
}

func readImmutables(r *bytes.Reader) (swap.Immutables, error) {
	var im swap.Immutables

	if _, err := readFull(r, im.OrderHash[:]); err != nil {
		return im, err
	}
	if _, err := readFull(r, im.Hashlock[:]); err != nil {
		return im, err
	}

	var maker, taker, token [20]byte
	if _, err := readFull(r, maker[:]); err != nil {
		return im, err
	}
	if _, err := readFull(r, taker[:]); err != nil {
		return im, err
	}
	if _, err := readFull(r, token[:]); err != nil {
		return im, err
	}
	im.Maker = common.BytesToAddress(maker[:])
	im.Taker = common.BytesToAddress(taker[:])
	im.Token = common.BytesToAddress(token[:])

	var err error
	if im.Amount, err = readBigInt(r); err != nil {
		return im, err
	}
	if im.SafetyDeposit, err = readBigInt(r); err != nil {
		return im, err
	}

	var packed [swap.PackedTimelocksSize]byte
	if _, err := readFull(r, packed[:]); err != nil {
		return im, err
	}
	timelocks, err := swap.UnpackTimelocks(new(big.Int).SetBytes(packed[:]))
	if err != nil {
		return im, err
	}
	im.Timelocks = timelocks

	return im, nil
}

func writeOptAddr(buf *bytes.Buffer, addr *common.Address) error {
	if addr == nil {
		return buf.WriteByte(0)
	}
	if err := buf.WriteByte(1); err != nil {
		return err
	}
	_, err := buf.Write(addr.Bytes())
	return err
}

func readOptAddr(r *bytes.Reader) (*common.Address, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	var raw [20]byte
	if _, err := readFull(r, raw[:]); err != nil {
		return nil, err
	}
	addr := common.BytesToAddress(raw[:])
	return &addr, nil
}

func writeOptSecret(buf *bytes.Buffer, s *swap.Secret) error {
	if s == nil {
		return buf.WriteByte(0)
	}
	if err := buf.WriteByte(1); err != nil {
		return err
	}
	_, err := buf.Write(s[:])
	return err
}

func readOptSecret(r *bytes.Reader) (*swap.Secret, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	var s swap.Secret
	if _, err := readFull(r, s[:]); err != nil {
		return nil, err
	}
	return &s, nil
}

func writeBigInt(buf *bytes.Buffer, v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}
	raw := v.Bytes()
	if err := binary.Write(buf, binary.BigEndian, uint16(len(raw))); err != nil {
		return err
	}
	_, err := buf.Write(raw)
	return err
}

func readBigInt(r *bytes.Reader) (*big.Int, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := readFull(r, raw); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func writeVarString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readVarString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := readFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeTime(buf *bytes.Buffer, t time.Time) error {
	return binary.Write(buf, binary.BigEndian, t.Unix())
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var unix int64
	if err := binary.Read(r, binary.BigEndian, &unix); err != nil {
		return time.Time{}, err
	}
	if unix == 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0).UTC(), nil
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
