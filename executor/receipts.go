package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// dstEscrowCreatedTopic is keccak256 of the event signature (§6):
//
//	DstEscrowCreated(address,bytes32,address)
var dstEscrowCreatedTopic = crypto.Keccak256Hash(
	[]byte("DstEscrowCreated(address,bytes32,address)"))

// ParseDstEscrowCreated locates the DstEscrowCreated log matching
// hashlock among receipt logs and decodes the escrow address. Per §6
// "the escrow address occupies bytes 12-32 of the first 32-byte data
// word"; the event's hashlock is its second indexed topic.
func ParseDstEscrowCreated(logs []*types.Log, hashlock swap.Hashlock) (common.Address, error) {
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) != 3 {
			continue
		}
		if lg.Topics[0] != dstEscrowCreatedTopic {
			continue
		}
		if lg.Topics[1] != common.Hash(hashlock) {
			continue
		}
		if len(lg.Data) < 32 {
			return common.Address{}, fmt.Errorf("executor: DstEscrowCreated data too short (%d bytes)", len(lg.Data))
		}
		return common.BytesToAddress(lg.Data[12:32]), nil
	}
	return common.Address{}, fmt.Errorf("executor: no DstEscrowCreated log found for hashlock %x", hashlock)
}
