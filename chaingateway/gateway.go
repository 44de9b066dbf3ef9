// Package chaingateway funnels every interaction with one EVM chain
// through a single component, so that connection management, nonce
// discipline, gas policy, and retries live in one place (§4.1). One
// Gateway is constructed per configured chain id; Registry owns the set.
package chaingateway

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/devdotbo/bmn-evm-resolver-sub002/rerrors"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// OperationKind tags a write so the gas policy can apply a kind-specific
// buffer and floor (§4.1 "Gas policy").
type OperationKind uint8

const (
	OpDefault OperationKind = iota
	OpApprove
	OpDeployDstEscrow
	OpWithdraw
	OpCancel
)

func (k OperationKind) String() string {
	switch k {
	case OpApprove:
		return "approve"
	case OpDeployDstEscrow:
		return "deploy_dst_escrow"
	case OpWithdraw:
		return "withdraw"
	case OpCancel:
		return "cancel"
	default:
		return "default"
	}
}

// FeeStrategy scales the network's current priority fee (§4.1).
type FeeStrategy uint8

const (
	FeeStandard FeeStrategy = iota
	FeeFast
	FeeSlow
)

// ErrInsufficientGas is returned by SendTx when the signer's native
// balance cannot cover gas_limit * max_fee (§4.1).
var ErrInsufficientGas = fmt.Errorf("chaingateway: signer balance insufficient to cover gas")

// ErrChainUnreachable is returned by GetBalance (and other reads) when
// the underlying RPC transport cannot be reached after retries (§4.1).
var ErrChainUnreachable = fmt.Errorf("chaingateway: chain unreachable")

// Receipt is the subset of transaction-receipt fields the resolver acts
// on: confirmation status, the block it landed in, and the logs the
// executor parses for factory events.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
	Logs        []*types.Log
}

// LogFilter describes a watch_logs subscription: an optional contract
// address and one or more topics, the first of which is the event
// signature (§4.1).
type LogFilter struct {
	Address *common.Address
	Topics  [][]common.Hash
}

// Unwatch cancels a previously registered watch_logs subscription.
type Unwatch func()

// EthClient is the subset of *ethclient.Client the gateway drives,
// narrowed so tests can substitute a fake without dialing a real node.
type EthClient interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// Gateway is the Chain Gateway of §4.1: every read, write, and log watch
// for one chain id funnels through it.
type Gateway struct {
	chainID swap.ChainID
	client  EthClient
	signer  *bind.TransactOpts
	signerAddr common.Address
	gas     *GasPolicy
	nonces  *NonceManager
	watcher *LogWatcher
	retry   *Retrier
	reads   singleflight.Group

	// confirmations is the block depth WaitReceipt requires before a
	// mined transaction is considered final (§4.1 wait_receipt).
	confirmations uint64
}

// Config bundles the per-chain wiring a Gateway needs.
type Config struct {
	ChainID    swap.ChainID
	Client     EthClient
	PrivateKey string // hex-encoded, no 0x prefix
	GasPolicy  *GasPolicy
	Confirmations uint64
}

// New builds a Gateway for one chain. The private key is parsed once and
// held only as a bind.TransactOpts signer (§5 "the signing key is held
// in one place").
func New(cfg Config) (*Gateway, error) {
	key, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: parse signer key: %w", err)
	}
	chainIDBig := new(big.Int).SetUint64(uint64(cfg.ChainID))
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainIDBig)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: build signer: %w", err)
	}

	policy := cfg.GasPolicy
	if policy == nil {
		policy = DefaultGasPolicy()
	}

	gw := &Gateway{
		chainID:       cfg.ChainID,
		client:        cfg.Client,
		signer:        signer,
		signerAddr:    signer.From,
		gas:           policy,
		nonces:        NewNonceManager(cfg.Client, signer.From),
		retry:         NewRetrier(DefaultRetryConfig()),
		confirmations: cfg.Confirmations,
	}
	gw.watcher = NewLogWatcher(cfg.Client, gw.retry)
	return gw, nil
}

// ChainID returns the chain id this gateway serves.
func (g *Gateway) ChainID() swap.ChainID { return g.chainID }

// Address returns the signer's on-chain address.
func (g *Gateway) Address() common.Address { return g.signerAddr }

// GetBalance returns account's native-currency balance (§4.1). Concurrent
// callers asking for the same account (the health monitor's probe loop and
// SendTx's own pre-flight check commonly overlap) share one RPC round trip.
func (g *Gateway) GetBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	v, err, _ := g.reads.Do("balance:"+account.Hex(), func() (interface{}, error) {
		var bal *big.Int
		err := g.retry.Do(ctx, "get_balance", func() error {
			b, err := g.client.BalanceAt(ctx, account, nil)
			if err != nil {
				return rerrors.New(rerrors.CategoryTransient, err)
			}
			bal = b
			return nil
		})
		return bal, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	return v.(*big.Int), nil
}

// CurrentBlock returns the chain's latest block number, used by
// liveness probes to confirm the RPC connection is live and advancing.
func (g *Gateway) CurrentBlock(ctx context.Context) (uint64, error) {
	var block uint64
	err := g.retry.Do(ctx, "block_number", func() error {
		b, err := g.client.BlockNumber(ctx)
		if err != nil {
			return rerrors.New(rerrors.CategoryTransient, err)
		}
		block = b
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	return block, nil
}

// GetAllowance reads ERC-20 allowance(owner, spender) on token (§4.1).
func (g *Gateway) GetAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: pack allowance call: %w", err)
	}
	out, err := g.ReadCall(ctx, token, data)
	if err != nil {
		return nil, err
	}
	results, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("chaingateway: unpack allowance result: %w", err)
	}
	return results[0].(*big.Int), nil
}

// ReadCall performs a deadline-bound view call against contract (§4.1).
// Identical calls in flight at the same instant (allowance checks from
// several order workers hitting the same token) are coalesced into one
// RPC round trip via golang.org/x/sync/singleflight.
func (g *Gateway) ReadCall(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	key := contract.Hex() + ":" + common.Bytes2Hex(data)
	v, err, _ := g.reads.Do(key, func() (interface{}, error) {
		var out []byte
		err := g.retry.Do(ctx, "read_call", func() error {
			result, err := g.client.CallContract(ctx, ethereum.CallMsg{
				To:   &contract,
				Data: data,
			}, nil)
			if err != nil {
				return rerrors.New(rerrors.CategoryTransient, err)
			}
			out = result
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// SendTx signs, gas-prices, and submits a transaction for the given
// operation kind, returning once the mempool accepts it (§4.1).
func (g *Gateway) SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, kind OperationKind, strategy FeeStrategy) (common.Hash, error) {
	// corrID ties every retried attempt and log line for this send back to
	// one logical submission, since the eventual tx hash isn't known until
	// after signing and a failed attempt never gets one.
	corrID := uuid.NewString()

	nonce, err := g.nonces.Next(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chaingateway: reserve nonce: %w", err)
	}

	gasLimit, err := g.estimateGas(ctx, to, value, data, kind)
	if err != nil {
		g.nonces.Release(nonce)
		return common.Hash{}, err
	}

	tipCap, feeCap, err := g.gas.SuggestFees(ctx, g.client, strategy)
	if err != nil {
		g.nonces.Release(nonce)
		return common.Hash{}, fmt.Errorf("chaingateway: suggest fees: %w", err)
	}

	cost := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	if value != nil {
		cost.Add(cost, value)
	}
	balance, err := g.GetBalance(ctx, g.signerAddr)
	if err != nil {
		g.nonces.Release(nonce)
		return common.Hash{}, err
	}
	if balance.Cmp(cost) < 0 {
		g.nonces.Release(nonce)
		log.Warnf("chaingateway: [%s] insufficient balance for %s tx to %s: have %s, need %s",
			corrID, kind, to, balance, cost)
		return common.Hash{}, ErrInsufficientGas
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(uint64(g.chainID)),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := g.signer.Signer(g.signerAddr, tx)
	if err != nil {
		g.nonces.Release(nonce)
		return common.Hash{}, fmt.Errorf("chaingateway: sign tx: %w", err)
	}

	err = g.retry.Do(ctx, kind.String(), func() error {
		log.Debugf("chaingateway: [%s] submitting %s tx to %s (nonce %d)", corrID, kind, to, nonce)
		sendErr := g.client.SendTransaction(ctx, signed)
		if sendErr != nil {
			return classifySendError(sendErr)
		}
		return nil
	})
	if err != nil {
		g.nonces.Release(nonce)
		return common.Hash{}, err
	}

	g.nonces.Commit(nonce)
	log.Debugf("chaingateway: [%s] sent %s tx %s to %s (nonce %d, gas %d)",
		corrID, kind, signed.Hash(), to, nonce, gasLimit)
	return signed.Hash(), nil
}

// WaitReceipt polls until txHash is mined and buried at least
// g.confirmations blocks deep, or the context deadline elapses (§4.1
// wait_receipt(tx_hash, confirmations=N) -> Receipt). A mined receipt
// that hasn't yet reached the required depth is treated the same as
// "not mined yet": both retry with backoff rather than returning early,
// since a shallow confirmation can still be reorged out.
func (g *Gateway) WaitReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	var receipt *types.Receipt
	err := g.retry.Do(ctx, "wait_receipt", func() error {
		r, err := g.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return rerrors.New(rerrors.CategoryTransient, err)
		}

		head, err := g.client.BlockNumber(ctx)
		if err != nil {
			return rerrors.New(rerrors.CategoryTransient, err)
		}
		// head can lag a hair behind the block the receipt just landed in
		// (the node serving BlockNumber hasn't caught up yet); treat that
		// as "just mined" rather than let the unsigned subtraction wrap.
		depth := uint64(1)
		if mined := r.BlockNumber.Uint64(); head >= mined {
			depth = head - mined + 1
		}
		if depth < g.confirmations {
			return rerrors.New(rerrors.CategoryTransient,
				fmt.Errorf("chaingateway: tx %s has %d confirmation(s), want %d", txHash, depth, g.confirmations))
		}

		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logs := make([]*types.Log, len(receipt.Logs))
	copy(logs, receipt.Logs)
	return &Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
		Logs:        logs,
	}, nil
}

// WatchLogs registers a push subscription over filter, delivering every
// matching log to onLog at least once (§4.1).
func (g *Gateway) WatchLogs(ctx context.Context, filter LogFilter, onLog func(types.Log)) (Unwatch, error) {
	return g.watcher.Watch(ctx, filter, onLog)
}

func (g *Gateway) estimateGas(ctx context.Context, to common.Address, value *big.Int, data []byte, kind OperationKind) (uint64, error) {
	est, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  g.signerAddr,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, rerrors.New(rerrors.CategoryRevert, err)
	}
	return g.gas.Buffered(kind, est), nil
}

func classifySendError(err error) error {
	// A nonce-too-low or known-revert error surfaces from the node
	// synchronously on submission; these are not worth retrying.
	msg := err.Error()
	switch {
	case containsAny(msg, "nonce too low", "already known", "replacement transaction underpriced"):
		return rerrors.New(rerrors.CategoryFatal, err)
	default:
		return rerrors.New(rerrors.CategoryTransient, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
