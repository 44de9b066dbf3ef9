package orderstore

import "errors"

var (
	// ErrOrderNotFound is returned when no record exists for a requested
	// order id.
	ErrOrderNotFound = errors.New("orderstore: order not found")

	// ErrOrderAlreadyExists is returned by Put when an order with the
	// same id has already been recorded, keeping order creation
	// idempotent on replayed source-chain events.
	ErrOrderAlreadyExists = errors.New("orderstore: order already exists")

	// ErrInvalidTransition is returned when a status update would violate
	// the §4.6 state diagram (P2 monotonicity).
	ErrInvalidTransition = errors.New("orderstore: invalid status transition")

	// ErrDeploymentInFlight is returned by the control tower when a
	// second caller tries to claim the same deployment slot concurrently
	// (P5 at-most-one-deployment).
	ErrDeploymentInFlight = errors.New("orderstore: deployment already claimed")

	// ErrDeploymentAlreadySettled is returned when a caller attempts to
	// re-claim a deployment slot that has already resolved to success. A
	// slot that resolved to failure may be claimed again.
	ErrDeploymentAlreadySettled = errors.New("orderstore: deployment already settled")
)
