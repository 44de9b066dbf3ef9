package executor

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

type sendRecord struct {
	to   common.Address
	data []byte
	kind chaingateway.OperationKind
}

// mockGateway answers every call deterministically, recording every send
// so tests can assert both the calldata shape and the call count.
type mockGateway struct {
	address   common.Address
	allowance *big.Int

	sends     []sendRecord
	nextHash  uint64
	logs      []*types.Log
	sendErr   error
	receiptErr error
	reverted  bool // when true, WaitReceipt reports Status: 0
}

func (m *mockGateway) Address() common.Address { return m.address }

func (m *mockGateway) GetAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return m.allowance, nil
}

func (m *mockGateway) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, kind chaingateway.OperationKind, strategy chaingateway.FeeStrategy) (common.Hash, error) {
	if m.sendErr != nil {
		return common.Hash{}, m.sendErr
	}
	m.sends = append(m.sends, sendRecord{to: to, data: data, kind: kind})
	m.nextHash++
	return common.BigToHash(new(big.Int).SetUint64(m.nextHash)), nil
}

func (m *mockGateway) WaitReceipt(ctx context.Context, txHash common.Hash) (*chaingateway.Receipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	status := uint64(1)
	if m.reverted {
		status = 0
	}
	return &chaingateway.Receipt{TxHash: txHash, Status: status, Logs: m.logs}, nil
}

func testImmutables() swap.Immutables {
	return swap.Immutables{
		OrderHash:     common.HexToHash("0x01"),
		Hashlock:      swap.Hashlock(common.HexToHash("0x02")),
		Maker:         common.HexToAddress("0x03"),
		Taker:         common.HexToAddress("0x04"),
		Token:         common.HexToAddress("0x05"),
		Amount:        big.NewInt(1_000),
		SafetyDeposit: big.NewInt(10),
		Timelocks: swap.Timelocks{
			SrcWithdrawal:         100,
			SrcPublicWithdrawal:   200,
			SrcCancellation:       300,
			SrcPublicCancellation: 400,
			DstWithdrawal:         50,
			DstCancellation:       150,
		},
	}
}

func testOrderState() *swap.OrderState {
	im := testImmutables()
	return &swap.OrderState{
		ID:         swap.OrderID{SrcChainID: 1, OrderHash: im.OrderHash},
		Immutables: im,
		Params: swap.Params{
			SrcChainID: 1,
			DstChainID: 2,
			DstToken:   common.HexToAddress("0x0d"),
			DstAmount:  big.NewInt(990),
		},
	}
}

func TestDstImmutablesSwapsPartiesAndLeg(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	order := testOrderState()
	dstIm := e.DstImmutables(order)

	require.Equal(t, gw.Address(), dstIm.Maker)
	require.Equal(t, order.Immutables.Maker, dstIm.Taker)
	require.Equal(t, order.Params.DstToken, dstIm.Token)
	require.Equal(t, order.Params.DstAmount, dstIm.Amount)
	require.Equal(t, order.Immutables.OrderHash, dstIm.OrderHash)
	require.Equal(t, order.Immutables.Hashlock, dstIm.Hashlock)
}

func TestPredictDstEscrowIsDeterministic(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{
		Gateway:           gw,
		FactoryAddress:    common.HexToAddress("0xfactory"),
		ProxyBytecodeHash: common.HexToHash("0xbeef"),
	})

	order := testOrderState()
	a := e.PredictDstEscrow(order)
	b := e.PredictDstEscrow(order)
	require.Equal(t, a, b)
	require.NotEqual(t, common.Address{}, a)
}

func TestDeployDstEscrowFallsBackToPredictedWhenEventMissing(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{
		Gateway:           gw,
		FactoryAddress:    common.HexToAddress("0xfactory"),
		ProxyBytecodeHash: common.HexToHash("0xbeef"),
	})

	order := testOrderState()
	predicted := e.PredictDstEscrow(order)

	actual, err := e.DeployDstEscrow(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, predicted, actual)
	require.Len(t, gw.sends, 1)
	require.Equal(t, chaingateway.OpDeployDstEscrow, gw.sends[0].kind)
}

func TestDeployDstEscrowUsesNativeValueWhenConfigured(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{
		Gateway:           gw,
		FactoryAddress:    common.HexToAddress("0xfactory"),
		ProxyBytecodeHash: common.HexToHash("0xbeef"),
	})

	order := testOrderState()
	order.Params.NativeSafetyDep = true
	order.Params.SafetyDeposit = big.NewInt(123)

	_, err := e.DeployDstEscrow(context.Background(), order)
	require.NoError(t, err)
	require.Len(t, gw.sends, 1)
}

func TestLockTokensSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	gw := &mockGateway{
		address:   common.HexToAddress("0xresolver"),
		allowance: big.NewInt(1_000_000),
	}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	err := e.LockTokens(context.Background(), common.HexToAddress("0xtoken"), common.HexToAddress("0xspender"), big.NewInt(1_000))
	require.NoError(t, err)
	require.Empty(t, gw.sends)
}

func TestLockTokensApprovesWhenAllowanceInsufficient(t *testing.T) {
	gw := &mockGateway{
		address:   common.HexToAddress("0xresolver"),
		allowance: big.NewInt(0),
	}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	err := e.LockTokens(context.Background(), common.HexToAddress("0xtoken"), common.HexToAddress("0xspender"), big.NewInt(1_000))
	require.NoError(t, err)
	require.Len(t, gw.sends, 1)
	require.Equal(t, chaingateway.OpApprove, gw.sends[0].kind)
}

func TestWithdrawSrcSendsWithImmutablesVersion(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{
		Gateway:         gw,
		FactoryAddress:  common.HexToAddress("0xfactory"),
		WithdrawVersion: WithdrawWithImmutables,
	})

	im := testImmutables()
	var secret swap.Secret
	copy(secret[:], []byte("a-known-32-byte-preimage-value!"))

	txHash, err := e.WithdrawSrc(context.Background(), common.HexToAddress("0xescrow"), im, secret)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, txHash)
	require.Len(t, gw.sends, 1)
	require.Equal(t, chaingateway.OpWithdraw, gw.sends[0].kind)
}

func TestWithdrawSrcRejectsUnknownVersion(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{
		Gateway:         gw,
		FactoryAddress:  common.HexToAddress("0xfactory"),
		WithdrawVersion: WithdrawVersion(99),
	})

	im := testImmutables()
	var secret swap.Secret
	_, err := e.WithdrawSrc(context.Background(), common.HexToAddress("0xescrow"), im, secret)
	require.Error(t, err)
	require.Empty(t, gw.sends)
}

func TestCancelDstSendsCancelCall(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	im := testImmutables()
	txHash, err := e.CancelDst(context.Background(), common.HexToAddress("0xdstescrow"), im)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, txHash)
	require.Equal(t, chaingateway.OpCancel, gw.sends[0].kind)
}

func TestEstimateSumsComponentCosts(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	costs := e.Estimate(chaingateway.DefaultGasPolicy(), big.NewInt(1_000_000_000))
	expected := new(big.Int).Add(costs.DeployDstEscrow, costs.Approve)
	expected.Add(expected, costs.WithdrawSrc)
	require.Equal(t, expected, costs.Total)
}

func TestDeployDstEscrowFailsOnRevertedReceipt(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver"), reverted: true}
	e := New(Config{
		Gateway:           gw,
		FactoryAddress:    common.HexToAddress("0xfactory"),
		ProxyBytecodeHash: common.HexToHash("0xbeef"),
	})

	_, err := e.DeployDstEscrow(context.Background(), testOrderState())
	require.Error(t, err)
}

func TestLockTokensFailsOnRevertedReceipt(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver"), allowance: big.NewInt(0), reverted: true}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	err := e.LockTokens(context.Background(), common.HexToAddress("0xtoken"), common.HexToAddress("0xspender"), big.NewInt(1_000))
	require.Error(t, err)
}

func TestWithdrawSrcFailsOnRevertedReceipt(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver"), reverted: true}
	e := New(Config{
		Gateway:         gw,
		FactoryAddress:  common.HexToAddress("0xfactory"),
		WithdrawVersion: WithdrawWithImmutables,
	})

	im := testImmutables()
	var secret swap.Secret
	copy(secret[:], []byte("a-known-32-byte-preimage-value!"))

	_, err := e.WithdrawSrc(context.Background(), common.HexToAddress("0xescrow"), im, secret)
	require.Error(t, err)
}

func TestCancelDstFailsOnRevertedReceipt(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver"), reverted: true}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	im := testImmutables()
	_, err := e.CancelDst(context.Background(), common.HexToAddress("0xdstescrow"), im)
	require.Error(t, err)
}

func TestPublicWithdrawSrcSendsPublicWithdrawCall(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver")}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	im := testImmutables()
	var secret swap.Secret
	copy(secret[:], []byte("a-known-32-byte-preimage-value!"))

	txHash, err := e.PublicWithdrawSrc(context.Background(), common.HexToAddress("0xescrow"), im, secret)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, txHash)
	require.Len(t, gw.sends, 1)
	require.Equal(t, chaingateway.OpWithdraw, gw.sends[0].kind)
}

func TestPublicWithdrawSrcFailsOnRevertedReceipt(t *testing.T) {
	gw := &mockGateway{address: common.HexToAddress("0xresolver"), reverted: true}
	e := New(Config{Gateway: gw, FactoryAddress: common.HexToAddress("0xfactory")})

	im := testImmutables()
	var secret swap.Secret
	_, err := e.PublicWithdrawSrc(context.Background(), common.HexToAddress("0xescrow"), im, secret)
	require.Error(t, err)
}

func TestDetectWithdrawVersionFallsBackToLegacyOnError(t *testing.T) {
	reader := &erroringReader{}
	version := DetectWithdrawVersion(context.Background(), reader, common.HexToAddress("0xfactory"))
	require.Equal(t, WithdrawLegacy, version)
}

type erroringReader struct{}

func (erroringReader) ReadCall(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	return nil, context.DeadlineExceeded
}
