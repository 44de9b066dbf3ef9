package main

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/devdotbo/bmn-evm-resolver-sub002/profitability"
)

func TestStaticQuoterAppliesConfiguredRate(t *testing.T) {
	srcToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	dstToken := common.HexToAddress("0x2222222222222222222222222222222222222222")

	q := NewStaticQuoter(map[common.Address]QuoteRule{
		srcToken: {
			DstToken:         dstToken,
			Numerator:        big.NewInt(99),
			Denominator:      big.NewInt(100),
			SafetyDepositBps: 500,
		},
	})

	gotToken, dstAmount, safetyDeposit, native := q.Quote(srcToken, big.NewInt(1_000_000))
	require.Equal(t, dstToken, gotToken)
	require.Equal(t, big.NewInt(990_000), dstAmount)
	require.Equal(t, big.NewInt(49_500), safetyDeposit)
	require.False(t, native)
}

func TestStaticQuoterUnknownTokenYieldsUnprofitableQuote(t *testing.T) {
	q := NewIdentityQuoter()

	srcToken := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, dstAmount, safetyDeposit, _ := q.Quote(srcToken, big.NewInt(1_000_000))

	require.Equal(t, big.NewInt(0), dstAmount)
	require.Equal(t, big.NewInt(0), safetyDeposit)

	result := profitability.Default().Analyse(profitability.Input{
		SrcAmount:     big.NewInt(1_000_000),
		DstAmount:     dstAmount,
		SafetyDeposit: safetyDeposit,
	})
	require.False(t, result.Profitable)
}

func TestStaticQuoterSetRuleOverridesExisting(t *testing.T) {
	srcToken := common.HexToAddress("0x4444444444444444444444444444444444444444")
	dstTokenA := common.HexToAddress("0x5555555555555555555555555555555555555555")
	dstTokenB := common.HexToAddress("0x6666666666666666666666666666666666666666")

	q := NewStaticQuoter(map[common.Address]QuoteRule{
		srcToken: {DstToken: dstTokenA, Numerator: big.NewInt(1), Denominator: big.NewInt(1)},
	})
	q.SetRule(srcToken, QuoteRule{DstToken: dstTokenB, Numerator: big.NewInt(1), Denominator: big.NewInt(1)})

	gotToken, _, _, _ := q.Quote(srcToken, big.NewInt(1))
	require.Equal(t, dstTokenB, gotToken)
}

func TestMarginFloorDefaultsWhenZero(t *testing.T) {
	require.Equal(t, profitability.Default().MinMarginBps, marginFloor(0))
	require.Equal(t, int64(75), marginFloor(75))
}

func TestParseChainIDInvalidReturnsZero(t *testing.T) {
	require.Equal(t, uint64(0), uint64(parseChainID("not-a-number")))
	require.Equal(t, uint64(1), uint64(parseChainID("1")))
}

func TestConfigFromEnvRequiresFactoryAddresses(t *testing.T) {
	t.Setenv("RESOLVER_SRC_FACTORY", "")
	t.Setenv("RESOLVER_DST_FACTORY", "")

	_, err := configFromEnv()
	require.Error(t, err)
}

func TestConfigFromEnvAppliesDefaults(t *testing.T) {
	t.Setenv("RESOLVER_SRC_FACTORY", "0x1111111111111111111111111111111111111111")
	t.Setenv("RESOLVER_DST_FACTORY", "0x2222222222222222222222222222222222222222")
	t.Setenv("RESOLVER_SRC_CHAIN_ID", "1")
	t.Setenv("RESOLVER_DST_CHAIN_ID", "42161")
	t.Setenv("RESOLVER_DATA_DIR", "")
	t.Setenv("RESOLVER_ENABLE_INDEXER", "")

	cfg, err := configFromEnv()
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.DataDir)
	require.False(t, cfg.EnableIndexer)
	require.EqualValues(t, 1, cfg.Src.ChainID)
	require.EqualValues(t, 42161, cfg.Dst.ChainID)
}
