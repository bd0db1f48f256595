package ledger

import "errors"

// Precondition failures. Every operation checks these before any custody or
// value moves, so a returned error means nothing changed.
var (
	ErrInsufficientFee     = errors.New("insufficient listing fee")
	ErrInvalidPrice        = errors.New("price must be at least 1")
	ErrInsufficientPayment = errors.New("insufficient payment for asking price")
	ErrNoActiveListing     = errors.New("no active listing for asset")
	ErrTransferRejected    = errors.New("asset transfer rejected")
)

// ErrUnknownContract is wrapped together with ErrTransferRejected when the
// contract ref names no registered registry.
var ErrUnknownContract = errors.New("unknown contract")
