package main

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/resolvercore"
)

// QuoteRule is one source-token's destination-side economics: which
// token to lock on the destination chain, the conversion rate expressed
// as a fraction (dstAmount = srcAmount * Numerator / Denominator), and
// the safety-deposit terms (§4.6 profitability hook's inputs).
type QuoteRule struct {
	DstToken         common.Address
	Numerator        *big.Int
	Denominator      *big.Int
	SafetyDepositBps int64
	NativeSafetyDep  bool
}

// StaticQuoter implements resolvercore.Quoter over a fixed table of
// per-source-token conversion rules, the simplest production-usable
// Quoter: no live price feed, just operator-configured rates (§4.6 notes
// a price feed or the limit order's own stated terms as alternatives).
type StaticQuoter struct {
	mu    sync.RWMutex
	rules map[common.Address]QuoteRule
}

// NewStaticQuoter builds a StaticQuoter from an initial rule table.
func NewStaticQuoter(rules map[common.Address]QuoteRule) *StaticQuoter {
	if rules == nil {
		rules = make(map[common.Address]QuoteRule)
	}
	return &StaticQuoter{rules: rules}
}

// NewIdentityQuoter returns a StaticQuoter with no configured rules; any
// order routed through it is rejected downstream (an empty rule yields a
// zero destination amount, which profitability.Policy.Analyse always
// treats as unprofitable). Safe as a zero-value default that never
// silently mismatches tokens.
func NewIdentityQuoter() *StaticQuoter {
	return NewStaticQuoter(nil)
}

// SetRule installs or replaces the rule for srcToken.
func (q *StaticQuoter) SetRule(srcToken common.Address, rule QuoteRule) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rules[srcToken] = rule
}

// Quote implements resolvercore.Quoter.
func (q *StaticQuoter) Quote(srcToken common.Address, srcAmount *big.Int) (dstToken common.Address, dstAmount, safetyDeposit *big.Int, nativeSafetyDep bool) {
	q.mu.RLock()
	rule, ok := q.rules[srcToken]
	q.mu.RUnlock()
	if !ok || rule.Denominator == nil || rule.Denominator.Sign() == 0 {
		return common.Address{}, new(big.Int), new(big.Int), false
	}

	dstAmount = new(big.Int).Mul(srcAmount, rule.Numerator)
	dstAmount.Div(dstAmount, rule.Denominator)

	safetyDeposit = new(big.Int).Mul(dstAmount, big.NewInt(rule.SafetyDepositBps))
	safetyDeposit.Div(safetyDeposit, big.NewInt(10_000))

	return rule.DstToken, dstAmount, safetyDeposit, rule.NativeSafetyDep
}

var _ resolvercore.Quoter = (*StaticQuoter)(nil)
