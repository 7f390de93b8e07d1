package domain

import "errors"

// Lifecycle and board errors. All of them are part of normal control flow and
// are reported back to whoever issued the command.
var (
	ErrAlreadyInitialized       = errors.New("chat already initialized")
	ErrNotInitialized           = errors.New("chat not initialized")
	ErrNotAuthorized            = errors.New("not authorized")
	ErrNoActiveSession          = errors.New("no active session")
	ErrInvalidArgument          = errors.New("invalid argument")
	ErrNoSuchLabel              = errors.New("no such label")
	ErrAlreadyClaimedByOther    = errors.New("label already claimed by another participant")
	ErrAlreadyClaimingElsewhere = errors.New("participant already holds another label")
	ErrNothingToRemove          = errors.New("participant holds no label")
	ErrNotHoldingThatLabel      = errors.New("participant does not hold that label")
)
