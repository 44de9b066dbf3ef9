package destmonitor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

type fakeGateway struct {
	onLog func(types.Log)
}

func (f *fakeGateway) WatchLogs(ctx context.Context, filter chaingateway.LogFilter, onLog func(types.Log)) (chaingateway.Unwatch, error) {
	f.onLog = onLog
	return func() {}, nil
}

type fakeLookup struct {
	active map[swap.Hashlock]bool
}

func (f *fakeLookup) HasActiveHashlock(h swap.Hashlock) bool { return f.active[h] }

func buildWithdrawalLog(escrow common.Address, secret swap.Secret) types.Log {
	return types.Log{
		Address:     escrow,
		Topics:      []common.Hash{escrowWithdrawalTopic},
		Data:        secret[:],
		BlockNumber: 10,
		TxHash:      common.HexToHash("0xdd"),
		Index:       2,
	}
}

func TestMonitorDeliversMatchedReveal(t *testing.T) {
	gw := &fakeGateway{}
	var secret swap.Secret
	copy(secret[:], []byte("super-secret-preimage-value-32b"))
	hashlock := swap.ComputeHashlock(secret)

	lookup := &fakeLookup{active: map[swap.Hashlock]bool{hashlock: true}}
	m := New(gw, lookup)

	var delivered SecretRevealed
	_, err := m.Start(context.Background(), func(r SecretRevealed) { delivered = r })
	require.NoError(t, err)

	escrow := common.HexToAddress("0xee")
	gw.onLog(buildWithdrawalLog(escrow, secret))

	require.Equal(t, escrow, delivered.EscrowAddress)
	require.Equal(t, secret, delivered.Secret)
}

func TestMonitorDropsUnmatchedReveal(t *testing.T) {
	gw := &fakeGateway{}
	lookup := &fakeLookup{active: map[swap.Hashlock]bool{}}
	m := New(gw, lookup)

	delivered := false
	_, err := m.Start(context.Background(), func(SecretRevealed) { delivered = true })
	require.NoError(t, err)

	var secret swap.Secret
	copy(secret[:], []byte("unrelated-preimage-not-tracked!"))
	gw.onLog(buildWithdrawalLog(common.HexToAddress("0xff"), secret))

	require.False(t, delivered)
}

func TestMonitorIgnoresRemovedLogs(t *testing.T) {
	gw := &fakeGateway{}
	var secret swap.Secret
	copy(secret[:], []byte("super-secret-preimage-value-32b"))
	hashlock := swap.ComputeHashlock(secret)
	lookup := &fakeLookup{active: map[swap.Hashlock]bool{hashlock: true}}
	m := New(gw, lookup)

	delivered := false
	_, err := m.Start(context.Background(), func(SecretRevealed) { delivered = true })
	require.NoError(t, err)

	lg := buildWithdrawalLog(common.HexToAddress("0xee"), secret)
	lg.Removed = true
	gw.onLog(lg)

	require.False(t, delivered)
}

func TestDecodeEscrowWithdrawalRejectsWrongDataLength(t *testing.T) {
	_, err := decodeEscrowWithdrawal(types.Log{Data: []byte{0x01, 0x02}})
	require.Error(t, err)
}
