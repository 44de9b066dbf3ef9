package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveEscrowAddress recomputes the deterministic Create2 address of an
// escrow clone from its immutables (§3, §6, P3):
//
//	Addr = Create2(factory, salt=keccak(immutables), proxyBytecodeHash)
//
// proxyBytecodeHash is chain-specific (the minimal-proxy init-code hash
// configured for that chain id) and is supplied by the caller rather than
// hard-coded, since the spec ties it to per-chain configuration (§7).
func DeriveEscrowAddress(factory common.Address, immutables Immutables, proxyBytecodeHash common.Hash) common.Address {
	salt := immutables.Hash()
	return crypto.CreateAddress2(factory, salt, proxyBytecodeHash.Bytes())
}
