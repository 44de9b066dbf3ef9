// Package resolvercore implements the Resolver Core of §4.6: the
// orchestrator that consumes monitor events, consults the profitability
// policy, drives the per-order state machine, and calls the executor.
package resolvercore

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/devdotbo/bmn-evm-resolver-sub002/destmonitor"
	"github.com/devdotbo/bmn-evm-resolver-sub002/executor"
	"github.com/devdotbo/bmn-evm-resolver-sub002/indexer"
	"github.com/devdotbo/bmn-evm-resolver-sub002/orderstore"
	"github.com/devdotbo/bmn-evm-resolver-sub002/profitability"
	"github.com/devdotbo/bmn-evm-resolver-sub002/secretstore"
	"github.com/devdotbo/bmn-evm-resolver-sub002/sourcemonitor"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }

// incomingEvent is the Core's single internal event type, carrying
// whichever monitor event triggered it (§5 "one listener task per chain
// monitor" feeding a single dispatcher).
type incomingEvent struct {
	newOrder   *sourcemonitor.NewOrder
	invalidate *common.Hash
	reveal     *destmonitor.SecretRevealed
}

// Config bundles everything the Core needs to drive orders end to end.
type Config struct {
	SrcChainID       swap.ChainID
	DstChainID       swap.ChainID
	Orders           *orderstore.Store
	DeploymentClaims orderstore.DeploymentControl
	Secrets          *secretstore.Store
	SrcExecutor      *executor.Executor
	DstExecutor      *executor.Executor
	Policy           profitability.Policy
	Quoter           Quoter
	// Indexer feeds the optional SQL projection of §6. It is a best-effort
	// convenience cache; nil disables it, and write failures are logged,
	// never propagated into an order's own transition.
	Indexer          *indexer.Indexer
	MaxConcurrent    int
	MaxOrderAge      time.Duration
	QueueDepth       int
}

// Core is the per-process orchestrator (§4.6). One Core instance drives
// every order the resolver has accepted, fanning work out to one
// orderWorker goroutine per order id (§5 ordering guarantee: all of one
// order's transitions are totally ordered).
type Core struct {
	cfg Config

	started int32
	stopped int32

	incoming chan incomingEvent

	mu      sync.Mutex
	workers map[swap.OrderID]*orderWorker

	// admission bounds the number of concurrently running order workers
	// at max_concurrent_orders; onNewOrder drops a new order rather than
	// block when the weight is exhausted.
	admission *semaphore.Weighted

	wg   sync.WaitGroup
	quit chan struct{}

	metrics *coreMetrics
}

// New builds a Core. Call Start to begin processing.
func New(cfg Config) *Core {
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 64
	}
	if cfg.MaxOrderAge == 0 {
		cfg.MaxOrderAge = 7 * 24 * time.Hour
	}

	return &Core{
		cfg:       cfg,
		incoming:  make(chan incomingEvent, cfg.QueueDepth),
		workers:   make(map[swap.OrderID]*orderWorker),
		admission: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		quit:      make(chan struct{}),
		metrics:   newCoreMetrics(),
	}
}

// Describe implements prometheus.Collector, forwarding to the Core's
// metrics so callers can register a single object with their registry.
func (c *Core) Describe(ch chan<- *prometheus.Desc) { c.metrics.Describe(ch) }

// Collect implements prometheus.Collector.
func (c *Core) Collect(ch chan<- prometheus.Metric) { c.metrics.Collect(ch) }

// Start resumes any orders left mid-flight by a previous run, then
// launches the dispatcher, sweeper, and cleanup goroutines. Idempotent.
func (c *Core) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return nil
	}

	resumed, err := c.ResumePending()
	if err != nil {
		return err
	}
	if resumed > 0 {
		log.Infof("resolvercore: resumed %d in-flight orders", resumed)
	}

	c.wg.Add(3)
	go c.dispatch()
	go c.runSweeper()
	go c.runCleanup()
	return nil
}

// Stop signals every worker and the dispatcher to exit and waits for
// them to finish (§5 "cancelling a task must release its per-order lock
// without leaving the store in a non-canonical state").
func (c *Core) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}
	close(c.quit)
	c.wg.Wait()
	return nil
}

// HandleNewOrder enqueues a NewOrder event from the Source Monitor. When
// the queue is saturated the oldest event not yet taken by the dispatcher
// is dropped with a structured warning to make room (§5 "Backpressure").
func (c *Core) HandleNewOrder(o sourcemonitor.NewOrder) {
	c.enqueue(incomingEvent{newOrder: &o})
}

// HandleInvalidate enqueues a reorg-compensation event from the Source
// Monitor (§4.4).
func (c *Core) HandleInvalidate(orderHash common.Hash) {
	c.enqueue(incomingEvent{invalidate: &orderHash})
}

// HandleReveal enqueues a SecretRevealed event from the Destination
// Monitor (§4.5).
func (c *Core) HandleReveal(r destmonitor.SecretRevealed) {
	c.enqueue(incomingEvent{reveal: &r})
}

func (c *Core) enqueue(ev incomingEvent) {
	for {
		select {
		case c.incoming <- ev:
			return
		default:
		}
		// Queue full: drop the oldest event the dispatcher has not taken
		// yet, then try the send again.
		select {
		case <-c.incoming:
			c.metrics.droppedEvents.Inc()
			log.Warnf("resolvercore: incoming queue saturated, dropping oldest queued event")
		default:
		}
	}
}

func (c *Core) dispatch() {
	defer c.wg.Done()

	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.incoming:
			c.route(ev)
		}
	}
}

func (c *Core) route(ev incomingEvent) {
	switch {
	case ev.newOrder != nil:
		c.onNewOrder(*ev.newOrder)
	case ev.invalidate != nil:
		c.onInvalidate(*ev.invalidate)
	case ev.reveal != nil:
		c.onReveal(*ev.reveal)
	}
}

func (c *Core) onNewOrder(o sourcemonitor.NewOrder) {
	id := swap.OrderID{SrcChainID: c.cfg.SrcChainID, OrderHash: o.OrderHash}

	c.mu.Lock()
	_, exists := c.workers[id]
	c.mu.Unlock()
	if exists {
		return
	}
	if !c.admission.TryAcquire(1) {
		c.metrics.droppedEvents.Inc()
		log.Warnf("resolvercore: at max_concurrent_orders (%d), dropping order %s",
			c.cfg.MaxConcurrent, o.OrderHash)
		return
	}

	dstToken, dstAmount, safetyDeposit, nativeSafetyDep := c.cfg.Quoter.Quote(o.Immutables.Token, o.Immutables.Amount)

	order := &swap.OrderState{
		ID:         id,
		Immutables: o.Immutables,
		Params: swap.Params{
			SrcChainID:      c.cfg.SrcChainID,
			DstChainID:      c.cfg.DstChainID,
			SrcToken:        o.Immutables.Token,
			DstToken:        dstToken,
			SrcAmount:       o.Immutables.Amount,
			DstAmount:       dstAmount,
			SafetyDeposit:   safetyDeposit,
			NativeSafetyDep: nativeSafetyDep,
		},
		SrcEscrowAddress: &o.SrcEscrowAddress,
		Status:           swap.StatusSrcEscrowDeployed,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	predicted := c.cfg.DstExecutor.PredictDstEscrow(order)
	order.DstEscrowAddressPredicted = &predicted

	result := c.cfg.Policy.Analyse(profitability.Input{
		SrcAmount:     order.Params.SrcAmount,
		DstAmount:     order.Params.DstAmount,
		SafetyDeposit: order.Params.SafetyDeposit,
		IsETHDeposit:  order.Params.NativeSafetyDep,
	})
	if !result.Profitable {
		order.Status = swap.StatusCreated
		order.RejectReason = result.Reason
		c.metrics.ordersRejected.Inc()
		log.Infof("resolvercore: rejecting order %s: %s", o.OrderHash, result.Reason)
	}

	if err := c.cfg.Orders.Put(order); err != nil {
		log.Errorf("resolvercore: persist order %s: %v", o.OrderHash, err)
		c.admission.Release(1)
		return
	}
	c.indexOrder(order, &o)

	if !result.Profitable {
		// Rejected before a worker was ever spawned: the slot reserved by
		// TryAcquire above has nothing to run, so release it immediately
		// rather than leak it until process shutdown.
		c.admission.Release(1)
		return
	}

	c.spawnWorker(id)
}

// indexOrder best-effort mirrors a freshly accepted order into the
// optional SQL projection (§6). A failure here never affects the order's
// own state machine.
func (c *Core) indexOrder(order *swap.OrderState, src *sourcemonitor.NewOrder) {
	if c.cfg.Indexer == nil {
		return
	}
	if err := c.cfg.Indexer.RecordSrcEscrow(order.ID.OrderHash, c.cfg.SrcChainID, order.Immutables,
		src.SrcEscrowAddress, src.BlockNumber, src.TxHash, src.LogIndex); err != nil {
		log.Warnf("resolvercore: indexer record src escrow %s: %v", order.ID.OrderHash, err)
	}
	if order.DstEscrowAddressPredicted != nil {
		if err := c.cfg.Indexer.RecordDstEscrow(order, *order.DstEscrowAddressPredicted, true); err != nil {
			log.Warnf("resolvercore: indexer record dst escrow %s: %v", order.ID.OrderHash, err)
		}
	}
	if err := c.cfg.Indexer.UpsertSwap(order); err != nil {
		log.Warnf("resolvercore: indexer upsert swap %s: %v", order.ID.OrderHash, err)
	}
}

func (c *Core) onInvalidate(orderHash common.Hash) {
	id := swap.OrderID{SrcChainID: c.cfg.SrcChainID, OrderHash: orderHash}
	c.mu.Lock()
	w, ok := c.workers[id]
	c.mu.Unlock()
	if ok {
		w.abort("reorg invalidated source escrow")
	}
	if _, err := c.cfg.Orders.Update(id, func(o *swap.OrderState) error {
		o.Status = swap.StatusFailed
		o.RejectReason = "reorg invalidated source escrow"
		return nil
	}); err != nil {
		log.Warnf("resolvercore: mark invalidated order %s failed: %v", orderHash, err)
	}
}

func (c *Core) onReveal(r destmonitor.SecretRevealed) {
	order, err := c.cfg.Orders.GetByDstEscrowAddress(r.EscrowAddress)
	if err != nil {
		log.Warnf("resolvercore: reveal at unknown escrow %s: %v", r.EscrowAddress, err)
		return
	}

	if err := c.cfg.Secrets.Store(secretstore.Record{
		Hashlock:      order.Immutables.Hashlock,
		Secret:        r.Secret,
		OrderHash:     order.ID.OrderHash,
		EscrowAddress: r.EscrowAddress,
		ChainID:       c.cfg.DstChainID,
		Status:        secretstore.RecordPending,
	}); err != nil {
		log.Errorf("resolvercore: persist secret record for order %s: %v", order.ID, err)
		return
	}

	updated, err := c.cfg.Orders.Update(order.ID, func(o *swap.OrderState) error {
		secret := r.Secret
		o.Secret = &secret
		o.Status = swap.StatusSecretRevealed
		return nil
	})
	if err != nil {
		log.Errorf("resolvercore: advance order %s to SecretRevealed: %v", order.ID, err)
		return
	}
	if c.cfg.Indexer != nil {
		if err := c.cfg.Indexer.UpsertSwap(updated); err != nil {
			log.Warnf("resolvercore: indexer upsert swap %s: %v", order.ID, err)
		}
	}

	c.mu.Lock()
	w, ok := c.workers[order.ID]
	c.mu.Unlock()
	if ok {
		w.notifyRevealed(r.Secret)
	}
}

func (c *Core) spawnWorker(id swap.OrderID) {
	w := newOrderWorker(c, id)

	c.mu.Lock()
	c.workers[id] = w
	c.mu.Unlock()

	c.metrics.activeOrders.Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		w.run()

		c.mu.Lock()
		delete(c.workers, id)
		c.mu.Unlock()
		c.admission.Release(1)
		c.metrics.activeOrders.Dec()
	}()
}

// Quoter supplies the destination-side economics for a freshly observed
// source escrow: which token to lock on the destination chain, how much,
// and whether its safety deposit is native currency (§4.6 profitability
// hook's inputs). A production resolver backs this with a price feed or
// the limit-order's own stated terms; the root package's StaticQuoter
// (NewIdentityQuoter) is a simple implementation, and the tests use a
// fixedQuoter that returns a constant destination leg.
type Quoter interface {
	Quote(srcToken common.Address, srcAmount *big.Int) (dstToken common.Address, dstAmount, safetyDeposit *big.Int, nativeSafetyDep bool)
}
