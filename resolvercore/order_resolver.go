package resolvercore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// orderResolver is the minimal checkpoint needed to resume one order's
// state machine after a process restart: just enough to rediscover the
// order and hand it back to a fresh orderWorker. The order's actual
// state lives in the order store, not in the resolver itself, so
// Encode/Decode only round-trip the id (generalizing the teacher's
// ContractResolver checkpoint-then-reattach shape without duplicating
// state the store already owns durably).
type orderResolver struct {
	core *Core
	id   swap.OrderID
}

func newOrderResolver(core *Core, id swap.OrderID) *orderResolver {
	return &orderResolver{core: core, id: id}
}

// Resolve reattaches a running orderWorker to this order if one is not
// already active, picking up wherever the order's persisted status left
// off (SrcEscrowDeployed resumes at deployDestination; DstEscrowDeployed
// resumes waiting on a reveal; anything terminal is a no-op).
func (r *orderResolver) Resolve() error {
	order, err := r.core.cfg.Orders.Get(r.id)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return nil
	}

	r.core.mu.Lock()
	_, running := r.core.workers[r.id]
	r.core.mu.Unlock()
	if running {
		return nil
	}

	r.core.spawnWorker(r.id)
	return nil
}

// Stop aborts the order's worker, if one is active.
func (r *orderResolver) Stop(reason string) {
	r.core.mu.Lock()
	w, ok := r.core.workers[r.id]
	r.core.mu.Unlock()
	if ok {
		w.abort(reason)
	}
}

// IsResolved reports whether the order has reached a terminal status.
func (r *orderResolver) IsResolved() (bool, error) {
	order, err := r.core.cfg.Orders.Get(r.id)
	if err != nil {
		return false, err
	}
	return order.Status.IsTerminal(), nil
}

// Encode writes the resolver's checkpoint: the order's source chain id
// followed by its order hash.
func (r *orderResolver) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, uint64(r.id.SrcChainID)); err != nil {
		return err
	}
	_, err := w.Write(r.id.OrderHash[:])
	return err
}

// decodeOrderResolver reads a checkpoint written by Encode.
func decodeOrderResolver(core *Core, r io.Reader) (*orderResolver, error) {
	var chainID uint64
	if err := binary.Read(r, binary.BigEndian, &chainID); err != nil {
		return nil, fmt.Errorf("resolvercore: decode resolver chain id: %w", err)
	}

	var hash [32]byte
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return nil, fmt.Errorf("resolvercore: decode resolver order hash: %w", err)
	}

	id := swap.OrderID{SrcChainID: swap.ChainID(chainID), OrderHash: hash}
	return newOrderResolver(core, id), nil
}

// ResumePending reattaches an orderResolver to every order the store
// still considers active, so a restarted process picks up exactly where
// it left off instead of waiting for a fresh monitor event (§4.6's state
// diagram has no "unknown" state — every persisted order is either
// terminal or mid-flight).
func (c *Core) ResumePending() (int, error) {
	var resumed int

	for _, status := range []swap.Status{swap.StatusSrcEscrowDeployed, swap.StatusDstEscrowDeployed, swap.StatusSecretRevealed} {
		err := c.cfg.Orders.ForEachStatus(status, func(order *swap.OrderState) error {
			resolver := newOrderResolver(c, order.ID)
			if err := resolver.Resolve(); err != nil {
				log.Errorf("resolvercore: resume order %s: %v", order.ID, err)
				return nil
			}
			resumed++
			return nil
		})
		if err != nil {
			return resumed, err
		}
	}
	return resumed, nil
}
