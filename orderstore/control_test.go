package orderstore

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

func newTestControl(t *testing.T) DeploymentControl {
	t.Helper()
	db, err := boltutil.Open(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctrl, err := NewDeploymentControl(db)
	require.NoError(t, err)
	return ctrl
}

func TestDeploymentControlAtMostOnce(t *testing.T) {
	ctrl := newTestControl(t)
	id := swap.OrderID{SrcChainID: 1, OrderHash: common.HexToHash("0x01")}

	require.NoError(t, ctrl.ClearForTakeoff(id))
	require.ErrorIs(t, ctrl.ClearForTakeoff(id), ErrDeploymentInFlight)

	require.NoError(t, ctrl.Success(id))
	require.ErrorIs(t, ctrl.ClearForTakeoff(id), ErrDeploymentAlreadySettled)
}

func TestDeploymentControlRetryAfterFailure(t *testing.T) {
	ctrl := newTestControl(t)
	id := swap.OrderID{SrcChainID: 1, OrderHash: common.HexToHash("0x02")}

	require.NoError(t, ctrl.ClearForTakeoff(id))
	require.NoError(t, ctrl.Fail(id))
	require.NoError(t, ctrl.ClearForTakeoff(id))
}
