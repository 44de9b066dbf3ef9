// Package indexer maintains the optional SQL projection: a convenience
// cache of escrow and swap state for external tooling to query, never the
// source of truth (the order store and the chain itself remain
// authoritative). The resolver keeps writing to it best-effort; a failed
// write here never blocks or fails an order transition.
package indexer

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }

// Indexer wraps a SQLite database holding the read-only projection
// described in §6: src_escrow, dst_escrow, escrow_withdrawal, atomic_swap,
// and chain_statistics.
type Indexer struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// brings its schema up to date.
func Open(path string) (*Indexer, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", path, err)
	}
	// SQLite only supports one writer; the resolver's own write volume is
	// low enough that serializing through a single connection is simpler
	// than pooling.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexer: ping %s: %w", path, err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Indexer{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *Indexer) Close() error { return ix.db.Close() }

// RecordSrcEscrow upserts a newly observed source escrow deployment.
func (ix *Indexer) RecordSrcEscrow(orderHash common.Hash, srcChainID swap.ChainID, im swap.Immutables, escrow common.Address, blockNumber uint64, txHash common.Hash, logIndex uint) error {
	_, err := ix.db.Exec(`
		INSERT INTO src_escrow (order_hash, src_chain_id, escrow_address, maker, token, amount, block_number, tx_hash, log_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_hash) DO UPDATE SET
			escrow_address = excluded.escrow_address,
			block_number   = excluded.block_number,
			tx_hash        = excluded.tx_hash,
			log_index      = excluded.log_index`,
		orderHash.Hex(), uint64(srcChainID), escrow.Hex(), im.Maker.Hex(), im.Token.Hex(),
		im.Amount.String(), blockNumber, txHash.Hex(), logIndex, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("indexer: record src escrow %s: %w", orderHash, err)
	}
	return nil
}

// RecordDstEscrow upserts a destination escrow's known address. Predicted
// is true when escrow is the Create2-derived address recorded before
// deployment confirmed; a later call with predicted=false overwrites it
// with the actual on-chain address.
func (ix *Indexer) RecordDstEscrow(order *swap.OrderState, escrow common.Address, predicted bool) error {
	_, err := ix.db.Exec(`
		INSERT INTO dst_escrow (order_hash, dst_chain_id, escrow_address, predicted, token, amount, safety_deposit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_hash) DO UPDATE SET
			escrow_address = excluded.escrow_address,
			predicted      = excluded.predicted`,
		order.ID.OrderHash.Hex(), uint64(order.Params.DstChainID), escrow.Hex(), boolToInt(predicted),
		order.Params.DstToken.Hex(), order.Params.DstAmount.String(), order.Params.SafetyDeposit.String(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("indexer: record dst escrow %s: %w", order.ID.OrderHash, err)
	}
	return nil
}

// RecordWithdrawal records a withdrawal (secret-reveal redemption) on
// either leg of the swap.
func (ix *Indexer) RecordWithdrawal(orderHash common.Hash, chainID swap.ChainID, txHash common.Hash, secret *swap.Secret) error {
	var secretHex *string
	if secret != nil {
		s := common.Bytes2Hex(secret[:])
		secretHex = &s
	}
	_, err := ix.db.Exec(`
		INSERT INTO escrow_withdrawal (order_hash, chain_id, tx_hash, secret, withdrawn_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_hash, chain_id) DO UPDATE SET
			tx_hash      = excluded.tx_hash,
			secret       = excluded.secret,
			withdrawn_at = excluded.withdrawn_at`,
		orderHash.Hex(), uint64(chainID), txHash.Hex(), secretHex, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("indexer: record withdrawal %s: %w", orderHash, err)
	}
	return nil
}

// UpsertSwap mirrors one order's top-level status into the atomic_swap
// summary table.
func (ix *Indexer) UpsertSwap(order *swap.OrderState) error {
	_, err := ix.db.Exec(`
		INSERT INTO atomic_swap (order_hash, src_chain_id, dst_chain_id, status, reject_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_hash) DO UPDATE SET
			status        = excluded.status,
			reject_reason = excluded.reject_reason,
			updated_at    = excluded.updated_at`,
		order.ID.OrderHash.Hex(), uint64(order.Params.SrcChainID), uint64(order.Params.DstChainID),
		order.Status.String(), order.RejectReason, order.CreatedAt.Unix(), order.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("indexer: upsert swap %s: %w", order.ID.OrderHash, err)
	}
	return nil
}

// BumpChainStatistics advances a chain's last-indexed-block watermark and
// increments its observed-order counter by delta.
func (ix *Indexer) BumpChainStatistics(chainID swap.ChainID, blockNumber uint64, delta int) error {
	_, err := ix.db.Exec(`
		INSERT INTO chain_statistics (chain_id, last_indexed_block, orders_seen, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			last_indexed_block = excluded.last_indexed_block,
			orders_seen        = chain_statistics.orders_seen + ?,
			updated_at         = excluded.updated_at`,
		uint64(chainID), blockNumber, delta, time.Now().Unix(), delta,
	)
	if err != nil {
		return fmt.Errorf("indexer: bump chain statistics for chain %d: %w", chainID, err)
	}
	return nil
}

// SwapStatus is a read-only hint result; callers must still confirm
// against the chain or the order store before acting on it (§9).
type SwapStatus struct {
	OrderHash    string
	Status       string
	RejectReason string
	UpdatedAt    time.Time
}

// LookupSwap returns the last known status for an order hash, or
// sql.ErrNoRows if the indexer has never seen it.
func (ix *Indexer) LookupSwap(orderHash common.Hash) (SwapStatus, error) {
	var (
		s         SwapStatus
		reject    sql.NullString
		updatedAt int64
	)
	row := ix.db.QueryRow(`SELECT order_hash, status, reject_reason, updated_at FROM atomic_swap WHERE order_hash = ?`, orderHash.Hex())
	if err := row.Scan(&s.OrderHash, &s.Status, &reject, &updatedAt); err != nil {
		return SwapStatus{}, err
	}
	s.RejectReason = reject.String
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
