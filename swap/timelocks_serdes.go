package swap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
)

// PackedTimelocksSize is the width, in bytes, of the wire word the
// six 32-bit timestamps are packed into (one EVM 256-bit slot).
const PackedTimelocksSize = 32

// Pack serializes the six timelocks into one 256-bit big-endian integer,
// each timestamp occupying a 32-bit slot in the fixed order from §3/§6:
// srcWithdrawal | srcPublicWithdrawal | srcCancellation |
// srcPublicCancellation | dstWithdrawal | dstCancellation, slot 0 (the
// low-order 32 bits) upward.
func (t Timelocks) Pack() *big.Int {
	packed := new(big.Int)
	for i := len(timelockSlots) - 1; i >= 0; i-- {
		v := *timelockSlots[i](&t)
		packed.Lsh(packed, 32)
		packed.Or(packed, new(big.Int).SetUint64(uint64(v)))
	}
	return packed
}

// UnpackTimelocks is the inverse of Pack: it is the identity function over
// the valid domain (§8's round-trip law).
func UnpackTimelocks(packed *big.Int) (Timelocks, error) {
	if packed.Sign() < 0 || packed.BitLen() > 8*PackedTimelocksSize {
		return Timelocks{}, fmt.Errorf("packed timelocks out of range: %s", packed)
	}

	var t Timelocks
	mask := big.NewInt(0xFFFFFFFF)
	rem := new(big.Int).Set(packed)
	for _, slot := range timelockSlots {
		word := new(big.Int).And(rem, mask)
		*slot(&t) = uint32(word.Uint64())
		rem.Rsh(rem, 32)
	}
	return t, nil
}

// PackBytes returns the packed word as a fixed 32-byte big-endian slice,
// suitable for embedding directly into ABI-encoded calldata.
func (t Timelocks) PackBytes() [PackedTimelocksSize]byte {
	var out [PackedTimelocksSize]byte
	t.Pack().FillBytes(out[:])
	return out
}

// encodeFixed writes each timelock field as a fixed-width big-endian
// uint32, mirroring the teacher's bytes.Buffer/binary.Write serialization
// style used for on-disk records.
func (t Timelocks) encodeFixed(buf *bytes.Buffer) error {
	for _, slot := range timelockSlots {
		if err := binary.Write(buf, binary.BigEndian, *slot(&t)); err != nil {
			return fmt.Errorf("encode timelock field: %w", err)
		}
	}
	return nil
}

// decodeFixed reads back the fixed-width encoding written by encodeFixed.
func decodeFixedTimelocks(buf *bytes.Reader) (Timelocks, error) {
	var t Timelocks
	for _, slot := range timelockSlots {
		if err := binary.Read(buf, binary.BigEndian, slot(&t)); err != nil {
			return Timelocks{}, fmt.Errorf("decode timelock field: %w", err)
		}
	}
	return t, nil
}
