package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainID identifies one of the two EVM chains a swap spans.
type ChainID uint64

// Params captures the swap economics carried alongside the immutables:
// the two legs' tokens/amounts, the safety deposit, and which chains they
// live on (§3).
type Params struct {
	SrcChainID ChainID
	DstChainID ChainID

	SrcToken  common.Address
	DstToken  common.Address
	SrcAmount *big.Int
	DstAmount *big.Int

	SafetyDeposit   *big.Int
	NativeSafetyDep bool // true if SafetyDeposit is native currency, not a token
}

// OrderID derives the store key for an order from its source chain and
// order hash (§3 "id — derived from (src_chain_id, order_hash)").
type OrderID struct {
	SrcChainID ChainID
	OrderHash  common.Hash
}

func (id OrderID) String() string {
	return id.OrderHash.Hex() + "@" + itoa(uint64(id.SrcChainID))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
