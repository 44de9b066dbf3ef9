// Package executor wraps chain-gateway writes with the semantics the
// resolver core needs: deploying escrows, locking tokens, withdrawing,
// and cancelling (§4.7).
package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/chaingateway"
	"github.com/devdotbo/bmn-evm-resolver-sub002/rerrors"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }

// Gateway is the subset of chaingateway.Gateway the executor drives.
type Gateway interface {
	GetAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	SendTx(ctx context.Context, to common.Address, value *big.Int, data []byte, kind chaingateway.OperationKind, strategy chaingateway.FeeStrategy) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) (*chaingateway.Receipt, error)
	Address() common.Address
}

// largeApproval is the over-approval amount used by lock_tokens so that
// repeated swaps against the same factory rarely need a fresh approval
// (§5 "the executor deliberately over-approves by a large round amount").
var largeApproval = new(big.Int).Lsh(big.NewInt(1), 128)

// Executor wraps one destination-chain gateway plus the configuration
// needed to deploy and manage destination escrows for a factory.
type Executor struct {
	gateway           Gateway
	factoryAddress    common.Address
	proxyBytecodeHash common.Hash
	withdrawVersion   WithdrawVersion
}

// Config bundles what an Executor needs beyond the gateway.
type Config struct {
	Gateway           Gateway
	FactoryAddress    common.Address
	ProxyBytecodeHash common.Hash
	WithdrawVersion   WithdrawVersion
}

// FactoryAddress returns the factory this Executor deploys escrows
// through, so callers know which address needs token allowance before
// calling DeployDstEscrow.
func (e *Executor) FactoryAddress() common.Address { return e.factoryAddress }

// New builds an Executor.
func New(cfg Config) *Executor {
	return &Executor{
		gateway:           cfg.Gateway,
		factoryAddress:    cfg.FactoryAddress,
		proxyBytecodeHash: cfg.ProxyBytecodeHash,
		withdrawVersion:   cfg.WithdrawVersion,
	}
}

type immutablesArg struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         common.Address
	Taker         common.Address
	Token         common.Address
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

func toImmutablesArg(im swap.Immutables) immutablesArg {
	return immutablesArg{
		OrderHash:     im.OrderHash,
		Hashlock:      [32]byte(im.Hashlock),
		Maker:         im.Maker,
		Taker:         im.Taker,
		Token:         im.Token,
		Amount:        im.Amount,
		SafetyDeposit: im.SafetyDeposit,
		Timelocks:     im.Timelocks.Pack(),
	}
}

// DstImmutables rebuilds the immutables tuple used for order's
// destination escrow: same OrderHash/Hashlock/Timelocks, with Maker set
// to this resolver's own address and Token/Amount set to the
// destination leg. Callers needing to act on an already-deployed
// destination escrow (e.g. cancelling it after timeout) must reconstruct
// the exact tuple the escrow was created with, since the contract
// verifies it by hash.
func (e *Executor) DstImmutables(order *swap.OrderState) swap.Immutables {
	return order.Immutables.WithSwappedParties(
		e.gateway.Address(), order.Immutables.Maker,
		order.Params.DstToken, order.Params.DstAmount,
	)
}

// PredictDstEscrow computes order's destination escrow address
// deterministically via Create2, without sending any transaction. The
// Resolver Core calls this as soon as an order is accepted so the
// Destination Monitor knows which address to watch before the deploy
// transaction is even sent.
func (e *Executor) PredictDstEscrow(order *swap.OrderState) common.Address {
	return swap.DeriveEscrowAddress(e.factoryAddress, e.DstImmutables(order), e.proxyBytecodeHash)
}

// DeployDstEscrow sends createDstEscrow(immutables, srcCancellationTimestamp)
// with value = safety deposit when it is native currency (§4.7). It does
// not check or grant the destination-token allowance; the caller runs
// LockTokens first. After the receipt it parses the DstEscrowCreated
// event via ParseDstEscrowCreated and returns that address when it equals
// the Create2 prediction; when the event is missing or malformed it
// returns the prediction, and a disagreement between the two is an error.
func (e *Executor) DeployDstEscrow(ctx context.Context, order *swap.OrderState) (common.Address, error) {
	dstIm := e.DstImmutables(order)

	data, err := factoryABI.Pack("createDstEscrow", toImmutablesArg(dstIm), new(big.Int).SetUint64(uint64(dstIm.Timelocks.SrcCancellation)))
	if err != nil {
		return common.Address{}, fmt.Errorf("executor: pack createDstEscrow: %w", err)
	}

	value := big.NewInt(0)
	if order.Params.NativeSafetyDep {
		value = order.Params.SafetyDeposit
	}

	txHash, err := e.gateway.SendTx(ctx, e.factoryAddress, value, data, chaingateway.OpDeployDstEscrow, chaingateway.FeeStandard)
	if err != nil {
		return common.Address{}, fmt.Errorf("executor: send createDstEscrow: %w", err)
	}

	receipt, err := e.gateway.WaitReceipt(ctx, txHash)
	if err != nil {
		return common.Address{}, fmt.Errorf("executor: wait createDstEscrow receipt: %w", err)
	}
	if receipt.Status == 0 {
		return common.Address{}, revertedTxError("createDstEscrow", txHash)
	}

	predicted := swap.DeriveEscrowAddress(e.factoryAddress, dstIm, e.proxyBytecodeHash)
	actual, err := ParseDstEscrowCreated(receipt.Logs, dstIm.Hashlock)
	if err != nil {
		log.Warnf("executor: DstEscrowCreated event missing/malformed, falling back "+
			"to deterministic address: %v", err)
		return predicted, nil
	}

	if actual != predicted {
		return common.Address{}, fmt.Errorf(
			"executor: DstEscrowCreated address %s disagrees with Create2 prediction %s",
			actual, predicted)
	}
	return actual, nil
}

// LockTokens checks the factory's current allowance over token and
// approves a large round amount if insufficient, then the caller's
// subsequent transfer (performed by the destination escrow contract
// itself on deployment) can proceed without a second approval on the
// next order (§4.7, §5 "over-approves by a large round amount").
func (e *Executor) LockTokens(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	allowance, err := e.gateway.GetAllowance(ctx, token, e.gateway.Address(), spender)
	if err != nil {
		return fmt.Errorf("executor: get allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := erc20ApproveData(spender, largeApproval)
	if err != nil {
		return fmt.Errorf("executor: pack approve: %w", err)
	}

	txHash, err := e.gateway.SendTx(ctx, token, big.NewInt(0), data, chaingateway.OpApprove, chaingateway.FeeStandard)
	if err != nil {
		return fmt.Errorf("executor: send approve: %w", err)
	}
	receipt, err := e.gateway.WaitReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("executor: wait approve receipt: %w", err)
	}
	if receipt.Status == 0 {
		return revertedTxError("approve", txHash)
	}
	return nil
}

// WithdrawSrc calls withdraw(secret, immutables) on srcEscrow (§4.7).
func (e *Executor) WithdrawSrc(ctx context.Context, srcEscrow common.Address, im swap.Immutables, secret swap.Secret) (common.Hash, error) {
	data, err := packWithdrawVersioned(e.withdrawVersion, secret, im)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: pack withdraw: %w", err)
	}

	txHash, err := e.gateway.SendTx(ctx, srcEscrow, big.NewInt(0), data, chaingateway.OpWithdraw, chaingateway.FeeFast)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: send withdraw: %w", err)
	}
	receipt, err := e.gateway.WaitReceipt(ctx, txHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: wait withdraw receipt: %w", err)
	}
	if receipt.Status == 0 {
		return common.Hash{}, revertedTxError("withdraw", txHash)
	}
	return txHash, nil
}

// PublicWithdrawSrc calls publicWithdraw(secret, immutables) on srcEscrow:
// the permissionless withdrawal window that opens once src_cancellation
// has passed but src_public_cancellation has not, letting any party
// (not only the maker/taker pairing) complete the withdrawal with the
// revealed secret.
func (e *Executor) PublicWithdrawSrc(ctx context.Context, srcEscrow common.Address, im swap.Immutables, secret swap.Secret) (common.Hash, error) {
	data, err := escrowABI.Pack("publicWithdraw", [32]byte(secret), toImmutablesArg(im))
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: pack publicWithdraw: %w", err)
	}

	txHash, err := e.gateway.SendTx(ctx, srcEscrow, big.NewInt(0), data, chaingateway.OpWithdraw, chaingateway.FeeFast)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: send publicWithdraw: %w", err)
	}
	receipt, err := e.gateway.WaitReceipt(ctx, txHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: wait publicWithdraw receipt: %w", err)
	}
	if receipt.Status == 0 {
		return common.Hash{}, revertedTxError("publicWithdraw", txHash)
	}
	return txHash, nil
}

// CancelDst calls cancel(immutables) on dstEscrow, after the caller has
// already confirmed now >= dst_cancellation (§4.6, §4.7).
func (e *Executor) CancelDst(ctx context.Context, dstEscrow common.Address, im swap.Immutables) (common.Hash, error) {
	data, err := escrowABI.Pack("cancel", toImmutablesArg(im))
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: pack cancel: %w", err)
	}

	txHash, err := e.gateway.SendTx(ctx, dstEscrow, big.NewInt(0), data, chaingateway.OpCancel, chaingateway.FeeStandard)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: send cancel: %w", err)
	}
	receipt, err := e.gateway.WaitReceipt(ctx, txHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: wait cancel receipt: %w", err)
	}
	if receipt.Status == 0 {
		return common.Hash{}, revertedTxError("cancel", txHash)
	}
	return txHash, nil
}

// GasCosts is the worst-case native-currency cost estimate for the full
// happy path of an order (§4.7 "estimate").
type GasCosts struct {
	DeployDstEscrow *big.Int
	Approve         *big.Int
	WithdrawSrc     *big.Int
	Total           *big.Int
}

// Estimate computes the worst-case native-currency cost of the happy
// path for order, using the gas policy's per-kind floors as a
// conservative upper bound (no live estimate is available before the
// escrows exist).
func (e *Executor) Estimate(policy *chaingateway.GasPolicy, feeCap *big.Int) GasCosts {
	deploy := new(big.Int).Mul(big.NewInt(int64(policy.Buffered(chaingateway.OpDeployDstEscrow, 0))), feeCap)
	approve := new(big.Int).Mul(big.NewInt(int64(policy.Buffered(chaingateway.OpApprove, 0))), feeCap)
	withdraw := new(big.Int).Mul(big.NewInt(int64(policy.Buffered(chaingateway.OpWithdraw, 0))), feeCap)

	total := new(big.Int).Add(deploy, approve)
	total.Add(total, withdraw)

	return GasCosts{
		DeployDstEscrow: deploy,
		Approve:         approve,
		WithdrawSrc:     withdraw,
		Total:           total,
	}
}

func erc20ApproveData(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ApproveABI.Pack("approve", spender, amount)
}

// revertedTxError classifies a mined-but-reverted transaction. Plain
// receipts carry no decoded revert reason (that needs a trace or an
// eth_call replay this package doesn't do), so every reverted receipt
// falls into ClassifyRevert's unknown-reason branch: CategoryFatal,
// non-retryable.
func revertedTxError(op string, txHash common.Hash) error {
	reason, category := rerrors.ClassifyRevert("")
	return rerrors.New(category, fmt.Errorf("executor: %s tx %s reverted: %w", op, txHash, reason))
}
