package sourcemonitor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// srcEscrowCreatedTopic is keccak256 of the event signature (§6):
//
//	SrcEscrowCreated(address,bytes32,address,address,uint256)
var srcEscrowCreatedTopic = crypto.Keccak256Hash(
	[]byte("SrcEscrowCreated(address,bytes32,address,address,uint256)"))

// immutablesTupleType mirrors swap.Immutables' on-chain shape (§3, §4.4:
// "a tuple of 8 fields, including an inner 6-field timelock tuple").
var immutablesTupleType = mustImmutablesTupleType()

func mustImmutablesTupleType() abi.Type {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "orderHash", Type: "bytes32"},
		{Name: "hashlock", Type: "bytes32"},
		{Name: "maker", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "safetyDeposit", Type: "uint256"},
		{Name: "timelocks", Type: "uint256"},
	})
	if err != nil {
		panic("sourcemonitor: build immutables tuple type: " + err.Error())
	}
	return t
}

var srcEscrowCreatedDataArgs = abi.Arguments{
	{Name: "immutables", Type: immutablesTupleType},
}

type rawImmutablesTuple struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         common.Address
	Taker         common.Address
	Token         common.Address
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

// decodeSrcEscrowCreated parses a SrcEscrowCreated log into a NewOrder.
// The escrow address, order hash, and maker are indexed topics; the
// remaining immutables are ABI-encoded in the log data (§4.4, §6).
func decodeSrcEscrowCreated(lg types.Log) (NewOrder, error) {
	if len(lg.Topics) != 4 {
		return NewOrder{}, fmt.Errorf("sourcemonitor: expected 4 topics, got %d", len(lg.Topics))
	}

	escrowAddress := common.BytesToAddress(lg.Topics[1].Bytes())
	orderHash := lg.Topics[2]

	var wrapper struct {
		Immutables rawImmutablesTuple
	}
	if err := srcEscrowCreatedDataArgs.UnpackIntoInterface(&wrapper, lg.Data); err != nil {
		return NewOrder{}, fmt.Errorf("sourcemonitor: unpack data: %w", err)
	}
	raw := wrapper.Immutables

	timelocks, err := swap.UnpackTimelocks(raw.Timelocks)
	if err != nil {
		return NewOrder{}, fmt.Errorf("sourcemonitor: unpack timelocks: %w", err)
	}

	immutables := swap.Immutables{
		OrderHash:     common.BytesToHash(raw.OrderHash[:]),
		Hashlock:      swap.Hashlock(raw.Hashlock),
		Maker:         raw.Maker,
		Taker:         raw.Taker,
		Token:         raw.Token,
		Amount:        raw.Amount,
		SafetyDeposit: raw.SafetyDeposit,
		Timelocks:     timelocks,
	}

	if immutables.OrderHash != orderHash {
		return NewOrder{}, fmt.Errorf("sourcemonitor: indexed order hash %s disagrees with data %s",
			orderHash, immutables.OrderHash)
	}

	return NewOrder{
		OrderHash:        orderHash,
		SrcEscrowAddress: escrowAddress,
		Immutables:       immutables,
		BlockNumber:      lg.BlockNumber,
		TxHash:           lg.TxHash,
		LogIndex:         lg.Index,
	}, nil
}
