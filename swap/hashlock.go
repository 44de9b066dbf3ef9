package swap

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SecretSize is the length in bytes of a swap secret and its hashlock.
const SecretSize = 32

// Secret is the 32-byte preimage a maker reveals to claim a destination
// escrow, and which the resolver then replays on the source escrow.
type Secret [SecretSize]byte

// Hashlock is H(secret), where H is the same Keccak-256 the on-chain
// contracts use.
type Hashlock [SecretSize]byte

// GenerateSecret draws a fresh secret from a cryptographic RNG.
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("generate secret: %w", err)
	}
	return s, nil
}

// ComputeHashlock returns H(secret) using the chain's hash function
// (Keccak-256 over the raw 32 bytes).
func ComputeHashlock(s Secret) Hashlock {
	var h Hashlock
	copy(h[:], crypto.Keccak256(s[:]))
	return h
}

// Matches reports whether secret hashes to this hashlock (P1).
func (h Hashlock) Matches(s Secret) bool {
	return ComputeHashlock(s) == h
}

func (s Secret) String() string   { return hexString(s[:]) }
func (h Hashlock) String() string { return hexString(h[:]) }

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hextable[c>>4]
		out[3+i*2] = hextable[c&0x0f]
	}
	return string(out)
}
