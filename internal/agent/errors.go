package agent

import "errors"

var (
	// ErrApprovalNotFound is returned when an approval ID is unknown
	// or has already expired.
	ErrApprovalNotFound = errors.New("agent: approval not found or expired")

	// ErrMaxRoundsExceeded is returned when the model keeps requesting
	// tools past the round budget.
	ErrMaxRoundsExceeded = errors.New("agent: maximum tool rounds exceeded")
)
