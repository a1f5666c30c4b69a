package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrExchangeMaintenance  = errors.New("exchange maintenance")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidOrderParam    = errors.New("invalid order parameter")
	ErrUnsupported          = errors.New("operation not supported")
)

// IsFatal reports whether no trading decision can safely proceed after err.
// Credential and permission failures will not heal between ticks.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrPermissionDenied)
}
