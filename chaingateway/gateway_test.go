package chaingateway

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeClient is a minimal EthClient stand-in driven entirely by fields
// and counters, mirroring the teacher's table-driven mock node pattern
// without dialing a real RPC endpoint.
type fakeClient struct {
	mu sync.Mutex

	balance     *big.Int
	balanceErr  error
	balanceHits int32

	callOut  []byte
	callErr  error
	callHits int32

	blockNumber uint64
	blockErr    error

	pendingNonce uint64
	tipCap       *big.Int

	sendErr  error
	sendHits int32

	receipt *types.Receipt
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		balance: big.NewInt(0),
		tipCap:  big.NewInt(1_000_000_000),
	}
}

func (f *fakeClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	atomic.AddInt32(&f.callHits, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callOut, f.callErr
}
func (f *fakeClient) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.pendingNonce, nil
}
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.tipCap, nil
}
func (f *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tipCap, nil
}
func (f *fakeClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21_000, nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	atomic.AddInt32(&f.sendHits, 1)
	return f.sendErr
}
func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}
func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, nil
}
func (f *fakeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	atomic.AddInt32(&f.balanceHits, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}
func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{TxHash: txHash, Status: 1, BlockNumber: big.NewInt(1)}, nil
}
func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNumber, f.blockErr
}

var _ EthClient = (*fakeClient)(nil)

func testSignerKey(t *testing.T) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw := crypto.FromECDSA(key)
	return common.Bytes2Hex(raw), crypto.PubkeyToAddress(*key.Public().(*ecdsa.PublicKey))
}

func newTestGateway(t *testing.T, client EthClient) *Gateway {
	t.Helper()
	hexKey, _ := testSignerKey(t)
	gw, err := New(Config{
		ChainID:    1,
		Client:     client,
		PrivateKey: hexKey,
	})
	require.NoError(t, err)
	return gw
}

func TestGetBalanceReturnsClientValue(t *testing.T) {
	client := newFakeClient()
	client.balance = big.NewInt(42)
	gw := newTestGateway(t, client)

	bal, err := gw.GetBalance(context.Background(), gw.Address())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), bal)
}

func TestGetBalanceWrapsUnreachableError(t *testing.T) {
	client := newFakeClient()
	client.balanceErr = context.DeadlineExceeded
	gw := newTestGateway(t, client)
	gw.retry = NewRetrier(RetryConfig{MaxAttempts: 1})

	_, err := gw.GetBalance(context.Background(), gw.Address())
	require.ErrorIs(t, err, ErrChainUnreachable)
}

func TestGetBalanceDedupesConcurrentCalls(t *testing.T) {
	client := newFakeClient()
	client.balance = big.NewInt(7)
	gw := newTestGateway(t, client)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := gw.GetBalance(context.Background(), gw.Address())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// singleflight can't guarantee every call lands in the same group when
	// goroutines are scheduled apart, but it must coalesce well below n.
	require.Less(t, int(atomic.LoadInt32(&client.balanceHits)), n)
}

func TestReadCallReturnsClientOutput(t *testing.T) {
	client := newFakeClient()
	client.callOut = []byte{0x01, 0x02}
	gw := newTestGateway(t, client)

	out, err := gw.ReadCall(context.Background(), common.HexToAddress("0xaa"), []byte{0x1})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, out)
}

func TestReadCallDedupesIdenticalCalls(t *testing.T) {
	client := newFakeClient()
	client.callOut = []byte{0x01}
	gw := newTestGateway(t, client)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := gw.ReadCall(context.Background(), common.HexToAddress("0xbb"), []byte{0x1})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Less(t, int(atomic.LoadInt32(&client.callHits)), n)
}

func TestSendTxFailsOnInsufficientBalance(t *testing.T) {
	client := newFakeClient()
	client.balance = big.NewInt(0)
	gw := newTestGateway(t, client)

	_, err := gw.SendTx(context.Background(), common.HexToAddress("0xcc"), big.NewInt(0), nil, OpDefault, FeeStandard)
	require.ErrorIs(t, err, ErrInsufficientGas)
}

func TestSendTxSucceedsAndCommitsNonce(t *testing.T) {
	client := newFakeClient()
	client.balance = new(big.Int).Lsh(big.NewInt(1), 64)
	gw := newTestGateway(t, client)

	hash, err := gw.SendTx(context.Background(), common.HexToAddress("0xcc"), big.NewInt(0), nil, OpDefault, FeeStandard)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)
	require.EqualValues(t, 1, atomic.LoadInt32(&client.sendHits))

	// A second send should use the next nonce, not the same one.
	hash2, err := gw.SendTx(context.Background(), common.HexToAddress("0xcc"), big.NewInt(0), nil, OpDefault, FeeStandard)
	require.NoError(t, err)
	require.NotEqual(t, hash, hash2)
}

func TestSendTxReleasesNonceOnFatalSendError(t *testing.T) {
	client := newFakeClient()
	client.balance = new(big.Int).Lsh(big.NewInt(1), 64)
	client.sendErr = errNonceTooLow{}
	gw := newTestGateway(t, client)

	_, err := gw.SendTx(context.Background(), common.HexToAddress("0xcc"), big.NewInt(0), nil, OpDefault, FeeStandard)
	require.Error(t, err)

	// The released nonce must be reused by the next attempt rather than
	// incrementing past the failed one.
	client.sendErr = nil
	_, err = gw.SendTx(context.Background(), common.HexToAddress("0xcc"), big.NewInt(0), nil, OpDefault, FeeStandard)
	require.NoError(t, err)
}

type errNonceTooLow struct{}

func (errNonceTooLow) Error() string { return "nonce too low" }

func TestClassifySendErrorCategorizesKnownFatalMessages(t *testing.T) {
	err := classifySendError(errNonceTooLow{})
	require.False(t, err.(interface{ Retryable() bool }).Retryable())
}

func TestWaitReceiptReturnsParsedReceipt(t *testing.T) {
	client := newFakeClient()
	client.receipt = &types.Receipt{
		TxHash:      common.HexToHash("0x01"),
		Status:      1,
		BlockNumber: big.NewInt(99),
		GasUsed:     21_000,
	}
	gw := newTestGateway(t, client)

	r, err := gw.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, uint64(99), r.BlockNumber)
	require.Equal(t, uint64(1), r.Status)
}

func TestWaitReceiptWaitsForConfirmationDepth(t *testing.T) {
	client := newFakeClient()
	client.receipt = &types.Receipt{
		TxHash:      common.HexToHash("0x01"),
		Status:      1,
		BlockNumber: big.NewInt(100),
		GasUsed:     21_000,
	}
	client.blockNumber = 100 // only 1 confirmation so far
	hexKey, _ := testSignerKey(t)
	gw, err := New(Config{ChainID: 1, Client: client, PrivateKey: hexKey, Confirmations: 3})
	require.NoError(t, err)
	gw.retry = NewRetrier(RetryConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxAttempts: 2})

	_, err = gw.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	require.Error(t, err)

	client.blockNumber = 102 // now 3 confirmations deep
	gw2, err := New(Config{ChainID: 1, Client: client, PrivateKey: hexKey, Confirmations: 3})
	require.NoError(t, err)

	r, err := gw2.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, uint64(100), r.BlockNumber)
}
