// Package secretstore implements the Secret Store of §4.2: durable custody
// of preimages and a ledger of their on-chain reveals, keyed by hashlock
// with a secondary lookup by order hash.
package secretstore

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// RecordStatus is one of the three states a SecretRecord moves through
// (§4.2 "status").
type RecordStatus uint8

const (
	RecordPending RecordStatus = iota
	RecordConfirmed
	RecordFailed
)

func (s RecordStatus) String() string {
	switch s {
	case RecordPending:
		return "pending"
	case RecordConfirmed:
		return "confirmed"
	case RecordFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is a SecretRecord (§3): the preimage plus the ledger of its
// attempted reveal on the source chain.
type Record struct {
	Hashlock      swap.Hashlock
	Secret        swap.Secret
	OrderHash     common.Hash
	EscrowAddress common.Address
	ChainID       swap.ChainID

	Status  RecordStatus
	RevealTxHash common.Hash
	GasUsed      uint64
	Error        string
}

// Statistics summarizes the store's contents for operational visibility
// (§4.2 "statistics").
type Statistics struct {
	Total     int
	Pending   int
	Confirmed int
	Failed    int
	ByChain   map[swap.ChainID]int
}
