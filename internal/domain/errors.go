package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrConflict      = errors.New("concurrent update conflict")

	ErrInvalidMode         = errors.New("invalid battle mode")
	ErrBattleNotAcceptable = errors.New("battle not acceptable")
	ErrAlreadyAccepted     = errors.New("battle already accepted")
	ErrContentRequired     = errors.New("content reference required")
	ErrVotingClosed        = errors.New("voting closed")
	ErrDuplicateVote       = errors.New("wallet already voted")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidWallet       = errors.New("invalid wallet")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidStatus       = errors.New("invalid battle status")

	ErrPaymentRejected = errors.New("payment rejected")
	ErrPaymentExpired  = errors.New("payment expired")
	ErrGateway         = errors.New("payment gateway failure")
)

// IsValidation reports whether err is a caller mistake that leaves no state
// behind.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidMode, ErrContentRequired, ErrInvalidSide, ErrInvalidWallet, ErrInvalidAmount, ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
