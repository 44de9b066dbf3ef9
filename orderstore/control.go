package orderstore

import (
	"sync"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"

	bolt "go.etcd.io/bbolt"
)

// deploymentStatus tracks a single destination-escrow deployment attempt
// through its lifecycle, mirroring the Grounded/InFlight/Completed states
// used for at-most-once dispatch elsewhere in the stack.
type deploymentStatus uint8

const (
	deploymentIdle deploymentStatus = iota
	deploymentClaimed
	deploymentSucceeded
	deploymentFailed
)

var claimsBucket = []byte("orders-deployment-claims")

// DeploymentControl enforces P5 (at-most-one createDstEscrow per
// order_hash, even across process restarts): a worker must claim the
// right to deploy before sending the transaction, and report the outcome
// afterward so a future restart doesn't re-attempt a deployment whose
// transaction may already be pending on-chain.
type DeploymentControl interface {
	// ClearForTakeoff atomically checks that no claim is in flight or
	// already succeeded for id, and if so marks it claimed.
	ClearForTakeoff(id swap.OrderID) error

	// Success marks a claimed deployment as settled successfully. After
	// this call, ClearForTakeoff always rejects further attempts for id.
	Success(id swap.OrderID) error

	// Fail releases a claimed deployment back to idle so a future retry
	// (after a transient failure) is allowed to proceed.
	Fail(id swap.OrderID) error
}

type deploymentControl struct {
	mu sync.Mutex
	db *boltutil.DB
}

// NewDeploymentControl builds a DeploymentControl backed by db, creating
// its bucket if necessary.
func NewDeploymentControl(db *boltutil.DB) (DeploymentControl, error) {
	if err := db.EnsureBucket(claimsBucket); err != nil {
		return nil, err
	}
	return &deploymentControl{db: db}, nil
}

func (c *deploymentControl) status(id swap.OrderID) (deploymentStatus, error) {
	var status deploymentStatus
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(claimsBucket).Get(orderKey(id))
		if raw == nil {
			status = deploymentIdle
			return nil
		}
		status = deploymentStatus(raw[0])
		return nil
	})
	return status, err
}

func (c *deploymentControl) setStatus(id swap.OrderID, status deploymentStatus) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(claimsBucket).Put(orderKey(id), []byte{byte(status)})
	})
}

// ClearForTakeoff implements DeploymentControl.
func (c *deploymentControl) ClearForTakeoff(id swap.OrderID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.status(id)
	if err != nil {
		return err
	}

	switch status {
	case deploymentIdle, deploymentFailed:
		return c.setStatus(id, deploymentClaimed)
	case deploymentClaimed:
		return ErrDeploymentInFlight
	case deploymentSucceeded:
		return ErrDeploymentAlreadySettled
	default:
		return ErrDeploymentAlreadySettled
	}
}

// Success implements DeploymentControl.
func (c *deploymentControl) Success(id swap.OrderID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setStatus(id, deploymentSucceeded)
}

// Fail implements DeploymentControl.
func (c *deploymentControl) Fail(id swap.OrderID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.status(id)
	if err != nil {
		return err
	}
	if status == deploymentSucceeded {
		// A success record already landed; never downgrade it.
		return ErrDeploymentAlreadySettled
	}
	return c.setStatus(id, deploymentFailed)
}
