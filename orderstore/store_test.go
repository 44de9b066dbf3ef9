package orderstore

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := boltutil.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db)
	require.NoError(t, err)
	return store
}

func testOrder(t *testing.T, orderHash byte) *swap.OrderState {
	t.Helper()

	secret, err := swap.GenerateSecret()
	require.NoError(t, err)

	im := swap.Immutables{
		OrderHash: common.BytesToHash([]byte{orderHash}),
		Hashlock:  swap.ComputeHashlock(secret),
		Maker:     common.HexToAddress("0xaaaa"),
		Taker:     common.HexToAddress("0xbbbb"),
		Token:     common.HexToAddress("0xcccc"),
		Amount:        big.NewInt(1_000_000),
		SafetyDeposit: big.NewInt(2_000),
		Timelocks: swap.Timelocks{
			SrcWithdrawal:         0,
			SrcPublicWithdrawal:   10,
			SrcCancellation:       30,
			SrcPublicCancellation: 45,
			DstWithdrawal:         0,
			DstCancellation:       29,
		},
	}

	return &swap.OrderState{
		ID: swap.OrderID{SrcChainID: 1, OrderHash: im.OrderHash},
		Params: swap.Params{
			SrcChainID: 1,
			DstChainID: 2,
			SrcToken:   im.Token,
			DstToken:   common.HexToAddress("0xdddd"),
			SrcAmount:  big.NewInt(1_000_000),
			DstAmount:  big.NewInt(990_000),
			SafetyDeposit: big.NewInt(2_000),
		},
		Immutables: im,
		Status:     swap.StatusCreated,
		CreatedAt:  time.Now().Truncate(time.Second),
		UpdatedAt:  time.Now().Truncate(time.Second),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	order := testOrder(t, 0x01)

	require.NoError(t, store.Put(order))

	got, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Status, got.Status)
	require.Equal(t, order.Immutables.Hash(), got.Immutables.Hash())
	require.Equal(t, order.Params.SrcAmount, got.Params.SrcAmount)
}

func TestPutDuplicateRejected(t *testing.T) {
	store := newTestStore(t)
	order := testOrder(t, 0x02)

	require.NoError(t, store.Put(order))
	require.ErrorIs(t, store.Put(order), ErrOrderAlreadyExists)
}

func TestUpdateEnforcesStateMachine(t *testing.T) {
	store := newTestStore(t)
	order := testOrder(t, 0x03)
	require.NoError(t, store.Put(order))

	_, err := store.Update(order.ID, func(o *swap.OrderState) error {
		o.Status = swap.StatusDstEscrowDeployed
		return nil
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.Update(order.ID, func(o *swap.OrderState) error {
		o.Status = swap.StatusSrcEscrowDeployed
		return nil
	})
	require.NoError(t, err)

	got, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, swap.StatusSrcEscrowDeployed, got.Status)
}

func TestNeedingActionAndDstEscrowIndex(t *testing.T) {
	store := newTestStore(t)
	order := testOrder(t, 0x04)
	require.NoError(t, store.Put(order))

	_, err := store.Update(order.ID, func(o *swap.OrderState) error {
		o.Status = swap.StatusSrcEscrowDeployed
		addr := common.HexToAddress("0xeeee")
		o.DstEscrowAddressPredicted = &addr
		return nil
	})
	require.NoError(t, err)

	needing, err := store.NeedingAction()
	require.NoError(t, err)
	require.Len(t, needing, 1)
	require.Equal(t, order.ID, needing[0].ID)

	found, err := store.GetByDstEscrowAddress(common.HexToAddress("0xeeee"))
	require.NoError(t, err)
	require.Equal(t, order.ID, found.ID)
}

func TestDeleteRemovesIndexes(t *testing.T) {
	store := newTestStore(t)
	order := testOrder(t, 0x05)
	require.NoError(t, store.Put(order))

	require.NoError(t, store.Delete(order.ID))

	_, err := store.Get(order.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)
}
