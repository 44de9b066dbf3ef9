package swap

import "errors"

var (
	errInvalidAmount        = errors.New("swap: amount must be non-negative")
	errInvalidSafetyDeposit = errors.New("swap: safety deposit must be non-negative")
)
