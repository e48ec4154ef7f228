package services

import "errors"

// Client-visible domain errors returned by CreateClaim. These are
// re-raised verbatim to the caller; everything else is wrapped as
// ErrInternal.
var (
	ErrNotClaimable = errors.New("NOT_CLAIMABLE")
	ErrAmountTooLow  = errors.New("AMOUNT_TOO_LOW")
	ErrAmountTooHigh = errors.New("AMOUNT_TOO_HIGH")
	ErrInvalidAddress = errors.New("INVALID_ADDRESS")
	ErrRaceClaiming  = errors.New("RACE_CLAIMING")
	ErrInternal      = errors.New("INTERNAL_ERROR")
)
