package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Immutables is the tuple that uniquely identifies one escrow instance
// (§3): {order_hash, hashlock, maker, taker, token, amount,
// safety_deposit, packed_timelocks}. Both the source and destination
// escrow of a swap share OrderHash and Hashlock; Maker/Taker are swapped
// between them.
type Immutables struct {
	OrderHash     common.Hash
	Hashlock      Hashlock
	Maker         common.Address
	Taker         common.Address
	Token         common.Address
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     Timelocks
}

var immutablesTupleArgs = mustTupleArgs()

func mustTupleArgs() abi.Arguments {
	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
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
		panic("swap: build immutables tuple type: " + err.Error())
	}
	return abi.Arguments{{Type: tupleType}}
}

// immutablesTuple is the Go-side mirror of the on-chain Immutables struct,
// shaped for abi.Arguments.Pack.
type immutablesTuple struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         common.Address
	Taker         common.Address
	Token         common.Address
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

func (im Immutables) toTuple() immutablesTuple {
	return immutablesTuple{
		OrderHash:     im.OrderHash,
		Hashlock:      im.Hashlock,
		Maker:         im.Maker,
		Taker:         im.Taker,
		Token:         im.Token,
		Amount:        im.Amount,
		SafetyDeposit: im.SafetyDeposit,
		Timelocks:     im.Timelocks.Pack(),
	}
}

// Encode ABI-encodes the immutables tuple exactly as the on-chain factory
// and escrow contracts expect it as a call argument.
func (im Immutables) Encode() ([]byte, error) {
	return immutablesTupleArgs.Pack(im.toTuple())
}

// Hash returns keccak256(abi-encoded immutables), the salt used for the
// escrow's Create2 address (§3, §6).
func (im Immutables) Hash() [32]byte {
	encoded, err := im.Encode()
	if err != nil {
		// Encode only fails on a malformed tuple definition, which is a
		// programmer error, not a runtime condition callers can recover
		// from.
		panic("swap: encode immutables: " + err.Error())
	}
	return [32]byte(crypto.Keccak256(encoded))
}

// Validate runs every ingestion-time invariant check named in §3/§4.4/P4.
func (im Immutables) Validate() error {
	if im.Amount == nil || im.Amount.Sign() < 0 {
		return errInvalidAmount
	}
	if im.SafetyDeposit == nil || im.SafetyDeposit.Sign() < 0 {
		return errInvalidSafetyDeposit
	}
	return im.Timelocks.Validate()
}

// WithSwappedParties returns the immutables for the counterpart escrow of
// the same swap: same OrderHash/Hashlock, Maker and Taker exchanged (§3 —
// "on the destination escrow the resolver is the 'maker' and the original
// maker is the 'taker'").
func (im Immutables) WithSwappedParties(newMaker, newTaker common.Address, token common.Address, amount *big.Int) Immutables {
	out := im
	out.Maker = newMaker
	out.Taker = newTaker
	out.Token = token
	out.Amount = amount
	return out
}
