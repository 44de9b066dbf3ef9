package chaingateway

import (
	"fmt"
	"sync"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// ChainConfig is the per-chain-id configuration the registry dials from.
type ChainConfig struct {
	ChainID       swap.ChainID
	RPCURL        string
	PrivateKey    string
	GasPolicy     *GasPolicy
	Confirmations uint64
}

// Dialer builds the concrete EthClient for a ChainConfig's RPCURL. The
// registry has no default and always uses the Dialer it is given; tests
// pass a fake so the registry never opens a real network connection.
type Dialer func(rpcURL string) (EthClient, error)

// Registry keeps one Gateway per configured chain id (§4.1 "one gateway
// instance per chain"), mirroring the home/secondary chain bookkeeping
// lnd keeps for its supported chains.
type Registry struct {
	mu      sync.RWMutex
	dial    Dialer
	gateways map[swap.ChainID]*Gateway
}

// NewRegistry builds an empty Registry that dials new gateways with
// dial.
func NewRegistry(dial Dialer) *Registry {
	return &Registry{
		dial:     dial,
		gateways: make(map[swap.ChainID]*Gateway),
	}
}

// Register dials and wires a Gateway for cfg.ChainID, replacing any
// previous gateway registered under the same id.
func (r *Registry) Register(cfg ChainConfig) (*Gateway, error) {
	client, err := r.dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chaingateway: dial chain %d: %w", cfg.ChainID, err)
	}

	gw, err := New(Config{
		ChainID:       cfg.ChainID,
		Client:        client,
		PrivateKey:    cfg.PrivateKey,
		GasPolicy:     cfg.GasPolicy,
		Confirmations: cfg.Confirmations,
	})
	if err != nil {
		return nil, fmt.Errorf("chaingateway: build gateway for chain %d: %w", cfg.ChainID, err)
	}

	r.mu.Lock()
	r.gateways[cfg.ChainID] = gw
	r.mu.Unlock()

	return gw, nil
}

// Lookup returns the gateway registered for chainID, if any.
func (r *Registry) Lookup(chainID swap.ChainID) (*Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[chainID]
	return gw, ok
}

// MustLookup is a convenience for call sites that have already validated
// chainID is configured (e.g. because it came from a loaded OrderState).
func (r *Registry) MustLookup(chainID swap.ChainID) (*Gateway, error) {
	gw, ok := r.Lookup(chainID)
	if !ok {
		return nil, fmt.Errorf("chaingateway: no gateway registered for chain %d", chainID)
	}
	return gw, nil
}

// ActiveChains returns every chain id with a registered gateway.
func (r *Registry) ActiveChains() []swap.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]swap.ChainID, 0, len(r.gateways))
	for id := range r.gateways {
		chains = append(chains, id)
	}
	return chains
}

// NumActiveChains returns the number of registered gateways.
func (r *Registry) NumActiveChains() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gateways)
}
