package swap

import "fmt"

// Timelocks holds the six absolute UNIX timestamps that gate every escrow
// action, all relative to the same wall clock the chains stamp their blocks
// with (§3).
type Timelocks struct {
	SrcWithdrawal       uint32
	SrcPublicWithdrawal uint32
	SrcCancellation     uint32
	SrcPublicCancellation uint32
	DstWithdrawal       uint32
	DstCancellation     uint32
}

// Validate enforces the ordering invariants required at ingestion (§3, P4):
//
//	srcWithdrawal <= srcPublicWithdrawal < srcCancellation < srcPublicCancellation
//	dstWithdrawal <= dstCancellation
//	dstCancellation < srcCancellation
func (t Timelocks) Validate() error {
	switch {
	case t.SrcWithdrawal > t.SrcPublicWithdrawal:
		return fmt.Errorf("srcWithdrawal %d > srcPublicWithdrawal %d",
			t.SrcWithdrawal, t.SrcPublicWithdrawal)
	case t.SrcPublicWithdrawal >= t.SrcCancellation:
		return fmt.Errorf("srcPublicWithdrawal %d >= srcCancellation %d",
			t.SrcPublicWithdrawal, t.SrcCancellation)
	case t.SrcCancellation >= t.SrcPublicCancellation:
		return fmt.Errorf("srcCancellation %d >= srcPublicCancellation %d",
			t.SrcCancellation, t.SrcPublicCancellation)
	case t.DstWithdrawal > t.DstCancellation:
		return fmt.Errorf("dstWithdrawal %d > dstCancellation %d",
			t.DstWithdrawal, t.DstCancellation)
	case t.DstCancellation >= t.SrcCancellation:
		return fmt.Errorf("dstCancellation %d >= srcCancellation %d, "+
			"resolver would have no time to claim on the source "+
			"after the maker's withdrawal window closes",
			t.DstCancellation, t.SrcCancellation)
	}
	return nil
}

// slot order for the packed 256-bit word (§3, §6): each value occupies one
// 32-bit slot, from bit 0 upward, in this fixed order.
var timelockSlots = [6]func(*Timelocks) *uint32{
	func(t *Timelocks) *uint32 { return &t.SrcWithdrawal },
	func(t *Timelocks) *uint32 { return &t.SrcPublicWithdrawal },
	func(t *Timelocks) *uint32 { return &t.SrcCancellation },
	func(t *Timelocks) *uint32 { return &t.SrcPublicCancellation },
	func(t *Timelocks) *uint32 { return &t.DstWithdrawal },
	func(t *Timelocks) *uint32 { return &t.DstCancellation },
}

// AtLeast reports whether now has reached the given timestamp (inclusive
// lower bound, per §8's boundary behaviour).
func AtLeast(now, target uint32) bool {
	return now >= target
}
