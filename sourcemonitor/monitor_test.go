package sourcemonitor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// fakeGateway hands a fixed set of logs to whichever onLog callback Start
// registers, and records whether it was ever called, mirroring the
// teacher's lightweight interface-stub pattern for tests that only need
// one side of a two-way RPC.
type fakeGateway struct {
	onLog   func(types.Log)
	unwatch int
}

func (f *fakeGateway) WatchLogs(ctx context.Context, filter chaingateway.LogFilter, onLog func(types.Log)) (chaingateway.Unwatch, error) {
	f.onLog = onLog
	return func() { f.unwatch++ }, nil
}

func validTimelocks() swap.Timelocks {
	return swap.Timelocks{
		SrcWithdrawal:         100,
		SrcPublicWithdrawal:   200,
		SrcCancellation:       300,
		SrcPublicCancellation: 400,
		DstWithdrawal:         50,
		DstCancellation:       150,
	}
}

func buildSrcEscrowCreatedLog(t *testing.T, im swap.Immutables, escrowAddr common.Address) types.Log {
	t.Helper()

	data, err := srcEscrowCreatedDataArgs.Pack(rawImmutablesTuple{
		OrderHash:     im.OrderHash,
		Hashlock:      im.Hashlock,
		Maker:         im.Maker,
		Taker:         im.Taker,
		Token:         im.Token,
		Amount:        im.Amount,
		SafetyDeposit: im.SafetyDeposit,
		Timelocks:     im.Timelocks.Pack(),
	})
	require.NoError(t, err)

	return types.Log{
		Topics: []common.Hash{
			srcEscrowCreatedTopic,
			common.BytesToHash(escrowAddr.Bytes()),
			im.OrderHash,
			common.Hash{},
		},
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xaa"),
		Index:       3,
	}
}

func TestMonitorDeliversValidOrder(t *testing.T) {
	gw := &fakeGateway{}
	m := New(gw, common.HexToAddress("0xfactory"), common.HexToAddress("0xresolver"), nil)

	im := swap.Immutables{
		OrderHash:     common.HexToHash("0x01"),
		Hashlock:      swap.Hashlock(common.HexToHash("0x02")),
		Maker:         common.HexToAddress("0x03"),
		Taker:         common.HexToAddress("0x04"),
		Token:         common.HexToAddress("0x05"),
		Amount:        big.NewInt(1000),
		SafetyDeposit: big.NewInt(10),
		Timelocks:     validTimelocks(),
	}
	escrow := common.HexToAddress("0x06")

	var delivered NewOrder
	var invalidated common.Hash
	_, err := m.Start(context.Background(), Callbacks{
		OnNewOrder:   func(o NewOrder) { delivered = o },
		OnInvalidate: func(h common.Hash) { invalidated = h },
	})
	require.NoError(t, err)

	lg := buildSrcEscrowCreatedLog(t, im, escrow)
	gw.onLog(lg)

	require.Equal(t, im.OrderHash, delivered.OrderHash)
	require.Equal(t, escrow, delivered.SrcEscrowAddress)
	require.Equal(t, im.Amount, delivered.Immutables.Amount)
	require.Equal(t, common.Hash{}, invalidated)
	require.True(t, m.Dedupe(lg.TxHash, lg.Index))
}

func TestMonitorRejectsInvalidTimelocks(t *testing.T) {
	gw := &fakeGateway{}
	m := New(gw, common.HexToAddress("0xfactory"), common.HexToAddress("0xresolver"), nil)

	im := swap.Immutables{
		OrderHash:     common.HexToHash("0x01"),
		Hashlock:      swap.Hashlock(common.HexToHash("0x02")),
		Maker:         common.HexToAddress("0x03"),
		Taker:         common.HexToAddress("0x04"),
		Token:         common.HexToAddress("0x05"),
		Amount:        big.NewInt(1000),
		SafetyDeposit: big.NewInt(10),
		Timelocks:     swap.Timelocks{}, // all zero: srcPublicWithdrawal >= srcCancellation fails
	}

	delivered := false
	_, err := m.Start(context.Background(), Callbacks{
		OnNewOrder: func(NewOrder) { delivered = true },
	})
	require.NoError(t, err)

	gw.onLog(buildSrcEscrowCreatedLog(t, im, common.HexToAddress("0x06")))
	require.False(t, delivered)
}

func TestMonitorInvalidatesOnReorgRemoval(t *testing.T) {
	gw := &fakeGateway{}
	m := New(gw, common.HexToAddress("0xfactory"), common.HexToAddress("0xresolver"), nil)

	im := swap.Immutables{
		OrderHash:     common.HexToHash("0x11"),
		Hashlock:      swap.Hashlock(common.HexToHash("0x12")),
		Maker:         common.HexToAddress("0x13"),
		Taker:         common.HexToAddress("0x14"),
		Token:         common.HexToAddress("0x15"),
		Amount:        big.NewInt(500),
		SafetyDeposit: big.NewInt(5),
		Timelocks:     validTimelocks(),
	}

	var invalidated common.Hash
	_, err := m.Start(context.Background(), Callbacks{
		OnInvalidate: func(h common.Hash) { invalidated = h },
	})
	require.NoError(t, err)

	lg := buildSrcEscrowCreatedLog(t, im, common.HexToAddress("0x16"))
	gw.onLog(lg)
	require.True(t, m.Dedupe(lg.TxHash, lg.Index))

	removed := lg
	removed.Removed = true
	gw.onLog(removed)

	require.Equal(t, im.OrderHash, invalidated)
	require.False(t, m.Dedupe(lg.TxHash, lg.Index))
}

func TestMonitorResolverAddress(t *testing.T) {
	gw := &fakeGateway{}
	resolverAddr := common.HexToAddress("0x99")
	m := New(gw, common.HexToAddress("0xfactory"), resolverAddr, nil)
	require.Equal(t, resolverAddr, m.ResolverAddress())
}
