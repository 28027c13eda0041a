package admission

import (
	"errors"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rejection codes returned to callers.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "ACCOUNT_NOT_FOUND"
	CodeBlockedClient     = domain.FlagBlockedClient
	CodeAccountInactive   = "ACCOUNT_INACTIVE"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

// Rejection is a transfer refused before it reached the ledger.
// It unwraps to the matching domain sentinel error.
type Rejection struct {
	Code   string
	Reason string
	Err    error

	// FraudCheck is set only when the refusal carries a fraud verdict.
	FraudCheck *domain.FraudCheck
}

func (r *Rejection) Error() string {
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	ok := errors.As(err, &rej)
	return rej, ok
}

func reject(code string, sentinel error, reason string) *Rejection {
	return &Rejection{Code: code, Reason: reason, Err: sentinel}
}

func blockedSender() *Rejection {
	rej := reject(CodeBlockedClient, domain.ErrAccountBlocked, "Sender client is blocked")
	rej.FraudCheck = &domain.FraudCheck{
		Passed:    false,
		Score:     1.0,
		IsFlagged: true,
		Flags:     []string{domain.FlagBlockedClient},
		Reason:    rej.Reason,
	}
	return rej
}
