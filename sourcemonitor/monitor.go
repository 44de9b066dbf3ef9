// Package sourcemonitor discovers new source escrows on chain A and
// produces a stream of NewOrder events (§4.4).
package sourcemonitor

import (
	"context"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }

// NewOrder is emitted for every validated SrcEscrowCreated log (§4.4).
type NewOrder struct {
	OrderHash        common.Hash
	SrcEscrowAddress common.Address
	Immutables       swap.Immutables
	BlockNumber      uint64
	TxHash           common.Hash
	LogIndex         uint
}

// Gateway is the subset of chaingateway.Gateway the monitor drives.
type Gateway interface {
	WatchLogs(ctx context.Context, filter chaingateway.LogFilter, onLog func(types.Log)) (chaingateway.Unwatch, error)
}

// Callbacks bundles the monitor's two deliveries: a fresh order, and a
// compensating invalidation when a previously emitted log's block is
// orphaned by a reorg (§4.4).
type Callbacks struct {
	OnNewOrder   func(NewOrder)
	OnInvalidate func(orderHash common.Hash)
}

// Monitor watches one factory contract on one chain for SrcEscrowCreated
// events (§4.4).
type Monitor struct {
	gateway        Gateway
	factoryAddress common.Address
	resolverAddress common.Address
	progress       *Progress

	mu       sync.Mutex
	byTxLog  map[logKey]common.Hash // dedup key -> order hash, for reorg invalidation
}

type logKey struct {
	txHash   common.Hash
	logIndex uint
}

// New builds a Monitor for factoryAddress on the chain gateway serves.
// resolverAddress is carried through for downstream filtering (§4.4
// "used downstream for filtering") but the monitor itself does not
// filter by taker.
func New(gateway Gateway, factoryAddress, resolverAddress common.Address, progress *Progress) *Monitor {
	return &Monitor{
		gateway:         gateway,
		factoryAddress:  factoryAddress,
		resolverAddress: resolverAddress,
		progress:        progress,
		byTxLog:         make(map[logKey]common.Hash),
	}
}

// ResolverAddress returns the taker address downstream consumers should
// filter on.
func (m *Monitor) ResolverAddress() common.Address { return m.resolverAddress }

// Start subscribes to the factory's SrcEscrowCreated topic and delivers
// decoded, validated orders to cb until ctx is cancelled (§4.4
// "Algorithm").
func (m *Monitor) Start(ctx context.Context, cb Callbacks) (chaingateway.Unwatch, error) {
	filter := chaingateway.LogFilter{
		Address: &m.factoryAddress,
		Topics:  [][]common.Hash{{srcEscrowCreatedTopic}},
	}

	return m.gateway.WatchLogs(ctx, filter, func(lg types.Log) {
		m.handleLog(lg, cb)
	})
}

func (m *Monitor) handleLog(lg types.Log, cb Callbacks) {
	key := logKey{txHash: lg.TxHash, logIndex: lg.Index}

	if lg.Removed {
		m.mu.Lock()
		orderHash, seen := m.byTxLog[key]
		delete(m.byTxLog, key)
		m.mu.Unlock()

		if seen && cb.OnInvalidate != nil {
			log.Warnf("sourcemonitor: reorg orphaned order %s (tx=%s log=%d)",
				orderHash, lg.TxHash, lg.Index)
			cb.OnInvalidate(orderHash)
		}
		return
	}

	order, err := decodeSrcEscrowCreated(lg)
	if err != nil {
		log.Errorf("sourcemonitor: decode log tx=%s log=%d: %v", lg.TxHash, lg.Index, err)
		return
	}

	if err := order.Immutables.Validate(); err != nil {
		log.Warnf("sourcemonitor: reject order %s: %v", order.OrderHash, err)
		return
	}

	m.mu.Lock()
	m.byTxLog[key] = order.OrderHash
	m.mu.Unlock()

	if m.progress != nil {
		if err := m.progress.SetLastProcessed(order.BlockNumber); err != nil {
			log.Errorf("sourcemonitor: persist last_processed_block: %v", err)
		}
	}

	if cb.OnNewOrder != nil {
		cb.OnNewOrder(order)
	}
}

// Dedupe reports whether (txHash, logIndex) has already been delivered,
// for indexer-mode consumers that poll an external projection and must
// dedupe by (tx_hash, log_index) themselves (§4.4 "Fallbacks").
func (m *Monitor) Dedupe(txHash common.Hash, logIndex uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, seen := m.byTxLog[logKey{txHash: txHash, logIndex: logIndex}]
	return seen
}
