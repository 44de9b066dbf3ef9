package resolvercore

import (
	"context"
	"time"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// sweepInterval is how often the cancellation sweeper scans the order
// store for destination escrows past their cancellation timelock.
const sweepInterval = 30 * time.Second

// runSweeper periodically cancels destination escrows whose cancellation
// timelock has elapsed without the secret being revealed (§4.6 "if
// now >= dst_cancellation, the resolver calls executor.cancel_dst"). It
// is a deterrent against a maker who never reveals: without it, a
// resolver's capital would stay locked in the destination escrow
// indefinitely.
func (c *Core) runSweeper() {
	defer c.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Core) sweepOnce() {
	err := c.cfg.Orders.ForEachStatus(swap.StatusDstEscrowDeployed, func(order *swap.OrderState) error {
		if order.DstEscrowAddressActual == nil {
			return nil
		}
		if uint64(time.Now().Unix()) < uint64(order.Immutables.Timelocks.DstCancellation) {
			return nil
		}
		c.cancelExpired(order)
		return nil
	})
	if err != nil {
		log.Errorf("resolvercore: sweeper: scan dst-deployed orders: %v", err)
	}
}

// cancelExpired calls cancel_dst on order's destination escrow and marks
// the order Cancelled. It locks against the order's own worker: a worker
// actively awaiting a reveal aborts first, so the two never race on the
// same escrow.
func (c *Core) cancelExpired(order *swap.OrderState) {
	c.mu.Lock()
	w, ok := c.workers[order.ID]
	c.mu.Unlock()
	if ok {
		w.abort("destination cancellation timelock elapsed")
		<-w.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dstIm := c.cfg.DstExecutor.DstImmutables(order)

	if _, err := c.cfg.DstExecutor.CancelDst(ctx, *order.DstEscrowAddressActual, dstIm); err != nil {
		log.Errorf("resolvercore: cancel expired order %s: %v", order.ID, err)
		return
	}

	c.metrics.cancelSweeps.Inc()

	updated, err := c.cfg.Orders.Update(order.ID, func(o *swap.OrderState) error {
		if o.Status.IsTerminal() {
			return nil
		}
		o.Status = swap.StatusCancelled
		return nil
	})
	if err != nil {
		log.Errorf("resolvercore: mark order %s cancelled: %v", order.ID, err)
		return
	}

	if c.cfg.Indexer != nil {
		if err := c.cfg.Indexer.UpsertSwap(updated); err != nil {
			log.Warnf("resolvercore: order %s: indexer upsert swap: %v", order.ID, err)
		}
	}
}
