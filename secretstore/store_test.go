package secretstore

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := boltutil.Open(filepath.Join(t.TempDir(), "secrets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db)
	require.NoError(t, err)
	return store
}

func testRecord(t *testing.T) Record {
	t.Helper()
	secret, err := swap.GenerateSecret()
	require.NoError(t, err)

	return Record{
		Hashlock:      swap.ComputeHashlock(secret),
		Secret:        secret,
		OrderHash:     common.HexToHash("0x01"),
		EscrowAddress: common.HexToAddress("0xaaaa"),
		ChainID:       1,
		Status:        RecordPending,
	}
}

func TestStoreAndLookups(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)

	require.NoError(t, store.Store(rec))

	byHash, err := store.GetByHashlock(rec.Hashlock)
	require.NoError(t, err)
	require.Equal(t, rec.Secret, byHash.Secret)

	byOrder, err := store.GetByOrder(rec.OrderHash)
	require.NoError(t, err)
	require.Equal(t, rec.Hashlock, byOrder.Hashlock)

	has, err := store.Has(rec.Hashlock)
	require.NoError(t, err)
	require.True(t, has)
}

func TestStoreIdempotentOnMatchingSecret(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)

	require.NoError(t, store.Store(rec))
	require.NoError(t, store.Store(rec))
}

func TestStoreRejectsMismatchedSecret(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	require.NoError(t, store.Store(rec))

	other, err := swap.GenerateSecret()
	require.NoError(t, err)
	mismatched := rec
	mismatched.Secret = other

	err = store.Store(mismatched)
	require.Error(t, err)
}

func TestConfirmAndMarkFailed(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	require.NoError(t, store.Store(rec))

	require.NoError(t, store.Confirm(rec.Hashlock, common.HexToHash("0xbeef"), 21000))
	got, err := store.GetByHashlock(rec.Hashlock)
	require.NoError(t, err)
	require.Equal(t, RecordConfirmed, got.Status)

	stats, err := store.Statistics()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Confirmed)
}

func TestListPending(t *testing.T) {
	store := newTestStore(t)
	rec := testRecord(t)
	require.NoError(t, store.Store(rec))

	pending, err := store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkFailed(rec.Hashlock, "reverted"))
	pending, err = store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 0)
}
