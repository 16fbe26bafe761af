package billing

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("contract was modified concurrently")
	ErrMissingDates      = errors.New("contract has no start/end date")
	ErrInvalidPeriod     = errors.New("invalid recurring period")
	ErrLocked            = errors.New("contract is locked")
	ErrInvalid           = errors.New("invalid value")
	ErrInvalidTransition = errors.New("invalid state transition")
)
