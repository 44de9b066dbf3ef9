package resolvercore

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// errNoSrcEscrow guards completeWithdrawal against an order that reached
// SecretRevealed without ever recording its source escrow address, which
// should be unreachable given the state diagram of §4.6.
var errNoSrcEscrow = errors.New("resolvercore: order has no recorded source escrow address")

// errSrcPublicCancellationPassed marks an order Failed when a secret
// surfaces too late for either withdrawal path: src_public_cancellation
// has already passed, so the source escrow no longer admits withdraw or
// publicWithdraw at all.
var errSrcPublicCancellationPassed = errors.New("resolvercore: secret revealed after src_public_cancellation")

// orderWorker owns the exclusive right to mutate one order's state past
// SrcEscrowDeployed, mirroring §5's ordering guarantee: all of one
// order's transitions are totally ordered because exactly one goroutine
// drives them. A worker lives from the moment its order clears the
// profitability check until the order reaches a terminal status.
type orderWorker struct {
	core *Core
	id   swap.OrderID

	revealed chan swap.Secret
	abortCh  chan string
	done     chan struct{}
}

func newOrderWorker(c *Core, id swap.OrderID) *orderWorker {
	return &orderWorker{
		core:     c,
		id:       id,
		revealed: make(chan swap.Secret, 1),
		abortCh:  make(chan string, 1),
		done:     make(chan struct{}),
	}
}

// abort tells the worker to stop pursuing this order. The worker logs
// reason and exits without changing the order's status; the caller that
// aborts records the final status itself. Non-blocking: a worker that has
// already decided its own outcome ignores a late abort.
func (w *orderWorker) abort(reason string) {
	select {
	case w.abortCh <- reason:
	default:
	}
}

// notifyRevealed delivers a secret observed by the Destination Monitor to
// a worker waiting on it.
func (w *orderWorker) notifyRevealed(secret swap.Secret) {
	select {
	case w.revealed <- secret:
	default:
	}
}

// run drives the order from SrcEscrowDeployed through to Completed,
// Cancelled, or Failed. It returns once the order reaches a terminal
// status or the Core is shutting down.
func (w *orderWorker) run() {
	defer close(w.done)

	if err := w.deployDestination(); err != nil {
		log.Errorf("resolvercore: order %s: deploy destination escrow: %v", w.id, err)
		w.fail(err.Error())
		return
	}

	// An order resumed in SecretRevealed already holds its secret: feed it
	// to the select below rather than wait for the reveal to arrive again.
	if order, err := w.core.cfg.Orders.Get(w.id); err == nil &&
		order.Status == swap.StatusSecretRevealed && order.Secret != nil {
		w.notifyRevealed(*order.Secret)
	}

	select {
	case secret := <-w.revealed:
		if err := w.completeWithdrawal(secret); err != nil {
			log.Errorf("resolvercore: order %s: withdraw source escrow: %v", w.id, err)
			w.fail(err.Error())
		}
	case reason := <-w.abortCh:
		// onInvalidate marks the order Failed and the sweeper marks it
		// Cancelled after aborting; the worker leaves the status to them.
		log.Infof("resolvercore: order %s: worker aborted: %s", w.id, reason)
	case <-w.core.quit:
	}
}

// deployDestination locks the destination-token allowance and deploys
// the destination escrow, advancing the order to DstEscrowDeployed
// (§4.6, §4.7). It claims the single-deployment guard before sending the
// transaction so a process restart mid-flight never double-deploys (P5).
func (w *orderWorker) deployDestination() error {
	order, err := w.core.cfg.Orders.Get(w.id)
	if err != nil {
		return err
	}
	if order.Status != swap.StatusSrcEscrowDeployed {
		// Already past this step (e.g. resumed after a restart).
		return nil
	}

	if err := w.core.cfg.DeploymentClaims.ClearForTakeoff(w.id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	spender := w.core.cfg.DstExecutor.FactoryAddress()
	if err := w.core.cfg.DstExecutor.LockTokens(ctx, order.Params.DstToken, spender, order.DstLockAmount()); err != nil {
		_ = w.core.cfg.DeploymentClaims.Fail(w.id)
		return err
	}

	dstAddr, err := w.core.cfg.DstExecutor.DeployDstEscrow(ctx, order)
	if err != nil {
		_ = w.core.cfg.DeploymentClaims.Fail(w.id)
		return err
	}

	if err := w.core.cfg.DeploymentClaims.Success(w.id); err != nil {
		log.Warnf("resolvercore: order %s: mark deployment claim succeeded: %v", w.id, err)
	}

	updated, err := w.core.cfg.Orders.Update(w.id, func(o *swap.OrderState) error {
		o.DstEscrowAddressActual = &dstAddr
		o.Status = swap.StatusDstEscrowDeployed
		return nil
	})
	if err != nil {
		return err
	}

	if w.core.cfg.Indexer != nil {
		if err := w.core.cfg.Indexer.RecordDstEscrow(updated, dstAddr, false); err != nil {
			log.Warnf("resolvercore: order %s: indexer record dst escrow: %v", w.id, err)
		}
		if err := w.core.cfg.Indexer.UpsertSwap(updated); err != nil {
			log.Warnf("resolvercore: order %s: indexer upsert swap: %v", w.id, err)
		}
	}
	return nil
}

// completeWithdrawal withdraws from the source escrow using the revealed
// secret and marks the order Completed (§4.6, §4.7).
func (w *orderWorker) completeWithdrawal(secret swap.Secret) error {
	order, err := w.core.cfg.Orders.Get(w.id)
	if err != nil {
		return err
	}
	if order.SrcEscrowAddress == nil {
		return errNoSrcEscrow
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := uint32(time.Now().Unix())
	tl := order.Immutables.Timelocks

	var txHash common.Hash
	switch {
	case !swap.AtLeast(now, tl.SrcCancellation):
		txHash, err = w.core.cfg.SrcExecutor.WithdrawSrc(ctx, *order.SrcEscrowAddress, order.Immutables, secret)
	case !swap.AtLeast(now, tl.SrcPublicCancellation):
		txHash, err = w.core.cfg.SrcExecutor.PublicWithdrawSrc(ctx, *order.SrcEscrowAddress, order.Immutables, secret)
	default:
		err = errSrcPublicCancellationPassed
	}
	if err != nil {
		_ = w.core.cfg.Secrets.MarkFailed(order.Immutables.Hashlock, err.Error())
		return err
	}

	if err := w.core.cfg.Secrets.Confirm(order.Immutables.Hashlock, txHash, 0); err != nil {
		log.Warnf("resolvercore: order %s: confirm secret record: %v", w.id, err)
	}

	updated, err := w.core.cfg.Orders.Update(w.id, func(o *swap.OrderState) error {
		o.Status = swap.StatusCompleted
		return nil
	})
	if err != nil {
		return err
	}

	if w.core.cfg.Indexer != nil {
		if err := w.core.cfg.Indexer.RecordWithdrawal(order.ID.OrderHash, w.core.cfg.SrcChainID, txHash, &secret); err != nil {
			log.Warnf("resolvercore: order %s: indexer record withdrawal: %v", w.id, err)
		}
		if err := w.core.cfg.Indexer.UpsertSwap(updated); err != nil {
			log.Warnf("resolvercore: order %s: indexer upsert swap: %v", w.id, err)
		}
	}
	return nil
}

// fail marks the order Failed with reason, best-effort: a store error
// here is logged, not returned, since the worker is already on its exit
// path.
func (w *orderWorker) fail(reason string) {
	updated, err := w.core.cfg.Orders.Update(w.id, func(o *swap.OrderState) error {
		if o.Status.IsTerminal() {
			return nil
		}
		o.Status = swap.StatusFailed
		o.RejectReason = reason
		return nil
	})
	if err != nil {
		log.Errorf("resolvercore: order %s: mark failed: %v", w.id, err)
		return
	}
	if w.core.cfg.Indexer != nil {
		if err := w.core.cfg.Indexer.UpsertSwap(updated); err != nil {
			log.Warnf("resolvercore: order %s: indexer upsert swap: %v", w.id, err)
		}
	}
}
