package resolvercore

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
)

// mockGateway is a minimal executor.Gateway stand-in: it answers every
// SendTx with a deterministic fake hash and a successful empty-log
// receipt, recording every call for assertions, mirroring the teacher's
// mockServer pattern of a single struct exposing both the fake backend
// and its call ledger.
type mockGateway struct {
	mu sync.Mutex

	address   common.Address
	allowance *big.Int

	sends    []mockSend
	nextHash uint64
}

type mockSend struct {
	to   common.Address
	data []byte
	kind chaingateway.OperationKind
}

func newMockGateway(addr common.Address) *mockGateway {
	return &mockGateway{address: addr, allowance: big.NewInt(0)}
}

func (m *mockGateway) Address() common.Address { return m.address }

func (m *mockGateway) GetAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.allowance), nil
}

func (m *mockGateway) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, kind chaingateway.OperationKind, strategy chaingateway.FeeStrategy) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sends = append(m.sends, mockSend{to: to, data: data, kind: kind})

	if kind == chaingateway.OpApprove {
		m.allowance = new(big.Int).Lsh(big.NewInt(1), 128)
	}

	m.nextHash++
	return common.BigToHash(new(big.Int).SetUint64(m.nextHash)), nil
}

func (m *mockGateway) WaitReceipt(ctx context.Context, txHash common.Hash) (*chaingateway.Receipt, error) {
	return &chaingateway.Receipt{TxHash: txHash, Status: 1}, nil
}

func (m *mockGateway) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

func (m *mockGateway) sendsOfKind(kind chaingateway.OperationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sends {
		if s.kind == kind {
			n++
		}
	}
	return n
}

// fixedQuoter implements Quoter with a constant destination leg,
// standing in for a price feed or a limit order's stated terms in tests.
type fixedQuoter struct {
	dstToken      common.Address
	dstAmount     *big.Int
	safetyDeposit *big.Int
	native        bool
	calls         int32
}

func (q *fixedQuoter) Quote(srcToken common.Address, srcAmount *big.Int) (common.Address, *big.Int, *big.Int, bool) {
	atomic.AddInt32(&q.calls, 1)
	return q.dstToken, q.dstAmount, q.safetyDeposit, q.native
}
