package swap

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is a node in the per-order state machine of §4.6.
type Status uint8

const (
	StatusCreated Status = iota
	StatusSrcEscrowDeployed
	StatusDstEscrowDeployed
	StatusSecretRevealed
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusSrcEscrowDeployed:
		return "SrcEscrowDeployed"
	case StatusDstEscrowDeployed:
		return "DstEscrowDeployed"
	case StatusSecretRevealed:
		return "SecretRevealed"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// IsTerminal reports whether s is one of the machine's double-ringed
// terminal states (§4.6). Terminal states never transition further (P2).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// legalNext enumerates the state diagram of §4.6. A transition not listed
// here is rejected by the order store, preserving P2 (monotonicity).
var legalNext = map[Status]map[Status]bool{
	StatusCreated: {
		StatusSrcEscrowDeployed: true,
		StatusFailed:            true,
	},
	StatusSrcEscrowDeployed: {
		StatusDstEscrowDeployed: true,
		StatusFailed:            true,
	},
	StatusDstEscrowDeployed: {
		StatusSecretRevealed: true,
		StatusCancelled:      true,
		StatusFailed:         true,
	},
	StatusSecretRevealed: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether from -> to is a legal edge of the §4.6
// state diagram.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	return legalNext[from][to]
}

// OrderState is one record per swap the resolver has accepted (§3).
// Mutated only by the Resolver Core under the order's per-id lock;
// deleted only by the cleanup task once terminal and past the retention
// window.
type OrderState struct {
	ID OrderID

	Params     Params
	Immutables Immutables

	SrcEscrowAddress          *common.Address
	DstEscrowAddressPredicted *common.Address
	DstEscrowAddressActual    *common.Address

	Status Status
	Secret *Secret

	// RejectReason records why a policy rejection left the order parked
	// in StatusCreated without ever reaching StatusDstEscrowDeployed
	// (§4.6 "profitability hook", scenario 4 of §8).
	RejectReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the order is in any non-terminal status.
func (o OrderState) IsActive() bool {
	return !o.Status.IsTerminal()
}

// NeedsAction reports whether the Resolver Core should act on this order
// next: it has a source escrow but no destination escrow yet (§4.3
// "orders_needing_action").
func (o OrderState) NeedsAction() bool {
	return o.Status == StatusSrcEscrowDeployed && o.DstEscrowAddressActual == nil
}

// Hashlock is a convenience accessor over the immutables.
func (o OrderState) Hashlock() Hashlock { return o.Immutables.Hashlock }

// totalDstLock is the amount the executor must lock into the destination
// escrow: the destination token amount plus the safety deposit when it is
// denominated in the same unit (native currency case handled by the
// executor, which sends it as msg.value instead).
func totalDstLock(params Params) *big.Int {
	if params.NativeSafetyDep {
		return new(big.Int).Set(params.DstAmount)
	}
	return new(big.Int).Add(params.DstAmount, params.SafetyDeposit)
}

// DstLockAmount is exported for the executor (§4.7 lock_tokens).
func (o OrderState) DstLockAmount() *big.Int {
	return totalDstLock(o.Params)
}
