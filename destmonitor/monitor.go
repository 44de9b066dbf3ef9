// Package destmonitor watches chain B for EscrowWithdrawal(secret)
// events on destination escrows the resolver has deployed (§4.5).
package destmonitor

import (
	"context"
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }

// escrowWithdrawalTopic is keccak256("EscrowWithdrawal(bytes32)") (§6).
var escrowWithdrawalTopic = crypto.Keccak256Hash([]byte("EscrowWithdrawal(bytes32)"))

// SecretRevealed is emitted for every EscrowWithdrawal log whose secret
// matches an active order's hashlock (§4.5).
type SecretRevealed struct {
	EscrowAddress common.Address
	Secret        swap.Secret
	BlockNumber   uint64
	TxHash        common.Hash
	LogIndex      uint
}

// Gateway is the subset of chaingateway.Gateway the monitor drives.
type Gateway interface {
	WatchLogs(ctx context.Context, filter chaingateway.LogFilter, onLog func(types.Log)) (chaingateway.Unwatch, error)
}

// OrderLookup resolves a secret's hashlock against the Order Store's
// active orders (§4.5 "verifies that H(secret) equals the hashlock of
// some active order"). Implemented by orderstore.Store, which the resolver
// wiring passes in directly.
type OrderLookup interface {
	HasActiveHashlock(h swap.Hashlock) bool
}

// Monitor watches every address on chain B (topic-only filter, since the
// set of destination escrows is not known in advance) for reveals.
type Monitor struct {
	gateway Gateway
	lookup  OrderLookup
}

// New builds a Monitor over gateway, consulting lookup before delivering
// a reveal.
func New(gateway Gateway, lookup OrderLookup) *Monitor {
	return &Monitor{gateway: gateway, lookup: lookup}
}

// Start subscribes to EscrowWithdrawal across all addresses and delivers
// matched reveals to onReveal until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, onReveal func(SecretRevealed)) (chaingateway.Unwatch, error) {
	filter := chaingateway.LogFilter{
		Topics: [][]common.Hash{{escrowWithdrawalTopic}},
	}

	return m.gateway.WatchLogs(ctx, filter, func(lg types.Log) {
		if lg.Removed {
			// A reveal log removed by a reorg is dropped here and no
			// compensating event is emitted; a reveal already delivered
			// to the core is not revisited (§4.5 is silent on reorgs of
			// the reveal itself, unlike §4.4 for escrow creation).
			return
		}

		revealed, err := decodeEscrowWithdrawal(lg)
		if err != nil {
			log.Errorf("destmonitor: decode log tx=%s log=%d: %v", lg.TxHash, lg.Index, err)
			return
		}

		hashlock := swap.ComputeHashlock(revealed.Secret)
		if !m.lookup.HasActiveHashlock(hashlock) {
			log.Debugf("destmonitor: dropping unmatched reveal at %s (tx=%s)",
				revealed.EscrowAddress, revealed.TxHash)
			return
		}

		onReveal(revealed)
	})
}

func decodeEscrowWithdrawal(lg types.Log) (SecretRevealed, error) {
	if len(lg.Data) != 32 {
		return SecretRevealed{}, fmt.Errorf("destmonitor: expected 32 data bytes, got %d", len(lg.Data))
	}

	var secret swap.Secret
	copy(secret[:], lg.Data)

	return SecretRevealed{
		EscrowAddress: lg.Address,
		Secret:        secret,
		BlockNumber:   lg.BlockNumber,
		TxHash:        lg.TxHash,
		LogIndex:      lg.Index,
	}, nil
}
