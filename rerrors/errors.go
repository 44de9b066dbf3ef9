// Package rerrors implements the error taxonomy of §7: every domain
// operation returns an outcome tagged with one of a small set of
// categories, so the resolver core can decide whether to retry, fail the
// order, or escalate to a process-fatal condition without string-matching
// error text.
package rerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Category is one of the error classes named in §7.
type Category uint8

const (
	// CategoryTransient covers timeouts, connection resets, rate limits,
	// and reorgs of the inclusion block. Retried with exponential
	// back-off up to a configured attempt count.
	CategoryTransient Category = iota

	// CategoryRevert covers an on-chain revert with a known
	// selector/reason, mapped to a domain error
	// (NotWhitelisted/Paused/InvalidSecret/...).
	CategoryRevert

	// CategoryProtocol covers invariant violations on incoming events:
	// hashlock mismatch, timelock ordering violation, address-derivation
	// mismatch. The event is rejected; state does not advance.
	CategoryProtocol

	// CategoryStore covers I/O failures on persistence. Retried a small
	// number of times, then surfaced as process-fatal.
	CategoryStore

	// CategoryPolicy covers non-error policy rejections (unprofitable,
	// above slippage, at capacity). Logged and counted, not an error in
	// the operational sense.
	CategoryPolicy

	// CategoryFatal covers unknown reverts and known security errors
	// (NotWhitelistedResolver, ProtocolPaused) that are non-retryable and
	// immediately terminal for the order.
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRevert:
		return "revert"
	case CategoryProtocol:
		return "protocol"
	case CategoryStore:
		return "store"
	case CategoryPolicy:
		return "policy"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a category and the operational
// context §7 requires every log line to carry: order id, chain id,
// operation kind, and (where applicable) a transaction hash.
type Error struct {
	category  Category
	inner     *goerrors.Error
	OrderID   string
	ChainID   uint64
	Operation string
	TxHash    string
}

// New wraps err with category and a stack trace (via go-errors/errors,
// matching the teacher's direct dependency for preserving call-site
// context across goroutine boundaries).
func New(category Category, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{category: category, inner: goerrors.Wrap(err, 1)}
}

// Newf formats a message and wraps it as a category error.
func Newf(category Category, format string, args ...interface{}) *Error {
	return New(category, fmt.Errorf(format, args...))
}

// Category returns the error's taxonomy bucket.
func (e *Error) Category() Category { return e.category }

// Retryable reports whether the core should retry the operation that
// produced this error (only CategoryTransient is retryable; see §7).
func (e *Error) Retryable() bool { return e.category == CategoryTransient }

// WithContext attaches the logging context §7 requires and returns the
// same error for chaining.
func (e *Error) WithContext(orderID string, chainID uint64, operation, txHash string) *Error {
	e.OrderID = orderID
	e.ChainID = chainID
	e.Operation = operation
	e.TxHash = txHash
	return e
}

func (e *Error) Error() string {
	msg := e.inner.Error()
	if e.OrderID == "" {
		return fmt.Sprintf("[%s] %s", e.category, msg)
	}
	return fmt.Sprintf("[%s] order=%s chain=%d op=%s tx=%s: %s",
		e.category, e.OrderID, e.ChainID, e.Operation, e.TxHash, msg)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *Error) Unwrap() error { return e.inner.Err }

// Stack returns the captured stack trace, useful in error-level logging.
func (e *Error) Stack() string { return string(e.inner.Stack()) }

// Known security errors (§7, §9): these are fixed non-retryable per the
// spec's resolution of the ambiguity between treating them as expected
// security checks versus retryable conditions.
var (
	ErrNotWhitelistedResolver = fmt.Errorf("resolver not whitelisted")
	ErrProtocolPaused         = fmt.Errorf("protocol paused")
	ErrInvalidSecret          = fmt.Errorf("invalid secret")
	ErrInvalidTime            = fmt.Errorf("invalid time")
	ErrInvalidImmutables      = fmt.Errorf("invalid immutables")
	ErrInvalidCaller          = fmt.Errorf("invalid caller")
	ErrSafeTransferFailed     = fmt.Errorf("safe transfer failed")
)

// ClassifyRevert maps a decoded revert reason/selector to its domain
// error and category, per §7's Revert table. Unknown reverts are treated
// as non-retryable (CategoryFatal), per §7 "Unknown revert -> treat as
// non-retryable and mark the order Failed".
func ClassifyRevert(reason string) (error, Category) {
	switch reason {
	case "NotWhitelistedResolver":
		return ErrNotWhitelistedResolver, CategoryFatal
	case "ProtocolPaused":
		return ErrProtocolPaused, CategoryFatal
	case "InvalidSecret":
		return ErrInvalidSecret, CategoryRevert
	case "InvalidTime":
		return ErrInvalidTime, CategoryRevert
	case "InvalidImmutables":
		return ErrInvalidImmutables, CategoryRevert
	case "InvalidCaller":
		return ErrInvalidCaller, CategoryRevert
	case "SafeTransferFailed":
		return ErrSafeTransferFailed, CategoryRevert
	default:
		return fmt.Errorf("unknown revert reason %q", reason), CategoryFatal
	}
}
