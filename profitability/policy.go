// Package profitability implements the pure profitability hook of §4.6:
// a side-effect-free, deterministic function the Resolver Core consults
// before committing an order to DstEscrowDeployed.
package profitability

import "math/big"

// bpsDenominator is the fixed-point base for margin_bps (1 bps = 1/10000).
const bpsDenominator = 10_000

// Input bundles the swap economics Analyse needs. Amounts are in the
// smallest unit of their respective tokens.
type Input struct {
	SrcAmount     *big.Int
	DstAmount     *big.Int
	SafetyDeposit *big.Int
	IsETHDeposit  bool
}

// Result is the policy's verdict (§4.6 "{profitable, margin_bps, reason}").
type Result struct {
	Profitable bool
	MarginBps  int64
	Reason     string
}

// Policy computes Result for an Input. MinMarginBps is the floor below
// which an order is rejected even if nominally profitable, guarding
// against thin margins that gas-price volatility could erase.
type Policy struct {
	MinMarginBps int64
}

// Default returns a conservative policy requiring at least 30 bps (0.3%)
// of margin after accounting for the safety deposit the resolver fronts.
func Default() Policy {
	return Policy{MinMarginBps: 30}
}

// Analyse compares what the resolver receives on the source chain
// against what it must lock on the destination chain, expressed as a
// margin in basis points of the committed amount (the destination amount,
// plus the safety deposit when it is not native currency). The function is
// pure: same Input always yields the same Result, so replay reproduces
// the same decision (§4.6).
func (p Policy) Analyse(in Input) Result {
	if in.SrcAmount == nil || in.DstAmount == nil || in.SafetyDeposit == nil {
		return Result{Profitable: false, Reason: "missing amount"}
	}
	if in.DstAmount.Sign() <= 0 {
		return Result{Profitable: false, Reason: "destination amount must be positive"}
	}
	if in.SrcAmount.Sign() < 0 || in.SafetyDeposit.Sign() < 0 {
		return Result{Profitable: false, Reason: "negative amount"}
	}

	// committed is what the resolver locks up front on the destination
	// side; when the safety deposit is native currency it is not part of
	// the token amount being compared and is left out of committed
	// entirely, so it does not enter the margin.
	committed := new(big.Int).Set(in.DstAmount)
	if !in.IsETHDeposit {
		committed = new(big.Int).Add(committed, in.SafetyDeposit)
	}

	// margin = (srcAmount - committed) / committed, in bps.
	diff := new(big.Int).Sub(in.SrcAmount, committed)
	marginBps := new(big.Int).Mul(diff, big.NewInt(bpsDenominator))
	marginBps.Quo(marginBps, committed)

	result := Result{MarginBps: marginBps.Int64()}
	if result.MarginBps < p.MinMarginBps {
		result.Profitable = false
		result.Reason = "margin below floor"
		return result
	}

	result.Profitable = true
	return result
}
