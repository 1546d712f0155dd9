package ledger

import (
	"errors"
	"fmt"
)

// Expected, user-facing failures. Each aborts the current operation with
// no state change.
var (
	ErrInsufficientFunds  = errors.New("not enough cash for this purchase")
	ErrInsufficientShares = errors.New("not enough shares to sell")
	ErrNoHolding          = errors.New("no shares held for this symbol")
)

// ValidationError reports bad or missing input
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// QuoteError reports a symbol that could not be priced
type QuoteError struct {
	Symbol string
	Err    error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("cannot quote %s: %v", e.Symbol, e.Err)
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}
