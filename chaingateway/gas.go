package chaingateway

import (
	"context"
	"math/big"
)

// gasSpec is the per-OperationKind buffer multiplier and floor §4.1
// names: "multiplies [the estimate] by a kind-specific buffer (e.g.
// 1.3-2.0x), and enforces a floor per kind".
type gasSpec struct {
	bufferNumerator   int64
	bufferDenominator int64
	floor             uint64
}

// GasPolicy holds the operation_kind buffer/floor table and the fee
// strategy multipliers used to compute a transaction's fee cap (§4.1
// "Gas policy").
type GasPolicy struct {
	specs map[OperationKind]gasSpec

	// feeStrategy scales the network's current priority fee for
	// fast|standard|slow (§4.1 "Fee selection").
	feeStrategy map[FeeStrategy]struct{ numerator, denominator int64 }
}

// DefaultGasPolicy returns the buffer/floor table the resolver ships
// with: a conservative 1.3x for approvals, up to 2.0x for destination
// escrow deployment (the call most exposed to griefing via storage-slot
// warming), and a floor of 21000 for the simplest transfer-shaped call.
func DefaultGasPolicy() *GasPolicy {
	return &GasPolicy{
		specs: map[OperationKind]gasSpec{
			OpDefault:         {13, 10, 21_000},
			OpApprove:         {13, 10, 45_000},
			OpDeployDstEscrow: {20, 10, 250_000},
			OpWithdraw:        {15, 10, 120_000},
			OpCancel:          {15, 10, 90_000},
		},
		feeStrategy: map[FeeStrategy]struct{ numerator, denominator int64 }{
			FeeSlow:     {9, 10},
			FeeStandard: {13, 10},
			FeeFast:     {20, 10},
		},
	}
}

// Buffered applies the kind's multiplier to estimate and enforces its
// floor.
func (p *GasPolicy) Buffered(kind OperationKind, estimate uint64) uint64 {
	spec, ok := p.specs[kind]
	if !ok {
		spec = p.specs[OpDefault]
	}
	buffered := estimate * uint64(spec.bufferNumerator) / uint64(spec.bufferDenominator)
	if buffered < spec.floor {
		return spec.floor
	}
	return buffered
}

// headerFeeSource is the subset of EthClient SuggestFees needs.
type headerFeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// SuggestFees returns (tipCap, feeCap) for strategy, scaling the
// network's current priority fee by the strategy's multiplier (§4.1
// "Fee selection uses a strategy ... that scales the network's current
// priority fee"). feeCap is set generously above tipCap so the
// transaction remains includable across a short base-fee spike.
func (p *GasPolicy) SuggestFees(ctx context.Context, client headerFeeSource, strategy FeeStrategy) (tipCap, feeCap *big.Int, err error) {
	baseTip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}

	mult, ok := p.feeStrategy[strategy]
	if !ok {
		mult = p.feeStrategy[FeeStandard]
	}

	tipCap = new(big.Int).Mul(baseTip, big.NewInt(mult.numerator))
	tipCap.Div(tipCap, big.NewInt(mult.denominator))

	// feeCap = 2 * tipCap is a simple, conservative ceiling: it covers a
	// base fee up to tipCap before the transaction becomes underpriced,
	// without requiring a base-fee oracle call on every send.
	feeCap = new(big.Int).Mul(tipCap, big.NewInt(2))
	return tipCap, feeCap, nil
}
