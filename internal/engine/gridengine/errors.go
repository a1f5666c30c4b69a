package gridengine

import (
	"errors"
	"fmt"
)

// ErrQuoteUnavailable is matched by every *QuoteUnavailableError
var ErrQuoteUnavailable = errors.New("quote unavailable")

// QuoteUnavailableError reports a tick skipped because no usable price was returned
type QuoteUnavailableError struct {
	Pair string
	Err  error
}

func (e *QuoteUnavailableError) Error() string {
	return fmt.Sprintf("quote unavailable for %s: %v", e.Pair, e.Err)
}

func (e *QuoteUnavailableError) Unwrap() []error { return []error{ErrQuoteUnavailable, e.Err} }
