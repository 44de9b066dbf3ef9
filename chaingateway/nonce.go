package chaingateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// pendingNonceFetcher is the one ethclient method NonceManager needs to
// bootstrap, narrowed so tests can substitute a fake.
type pendingNonceFetcher interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager owns the nonce sequence for one signer on one chain (§5
// "Nonces for each chain are owned by a single actor"). It reserves a
// nonce before signing and either commits it on successful submission or
// releases it back for reuse on failure.
type NonceManager struct {
	client  pendingNonceFetcher
	account common.Address

	mu      sync.Mutex
	next    uint64
	primed  bool
	inFlight map[uint64]bool
}

// NewNonceManager builds a NonceManager for account, lazily priming its
// counter from the chain's pending nonce on first use.
func NewNonceManager(client pendingNonceFetcher, account common.Address) *NonceManager {
	return &NonceManager{
		client:   client,
		account:  account,
		inFlight: make(map[uint64]bool),
	}
}

// Next reserves and returns the next nonce to use.
func (n *NonceManager) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.primed {
		pending, err := n.client.PendingNonceAt(ctx, n.account)
		if err != nil {
			return 0, fmt.Errorf("chaingateway: prime nonce: %w", err)
		}
		n.next = pending
		n.primed = true
	}

	nonce := n.next
	n.next++
	n.inFlight[nonce] = true
	return nonce, nil
}

// Commit marks nonce as successfully submitted.
func (n *NonceManager) Commit(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inFlight, nonce)
}

// Release returns nonce to the pool after a failed submission, so the
// next Next() call reuses it instead of leaving a gap.
func (n *NonceManager) Release(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inFlight, nonce)
	if nonce < n.next {
		n.next = nonce
	}
}

// Resync forces the next primed nonce to be re-read from the chain and
// forgets every in-flight nonce. The gateway does not call it: a "nonce
// too low" error from SendTx is classified as fatal and returned.
func (n *NonceManager) Resync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.primed = false
	n.inFlight = make(map[uint64]bool)
}
