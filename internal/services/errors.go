package services

import "errors"

// Service-level errors. Callers match them with errors.Is; the wrapped
// message carries the record-level context.
var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrIdentityConflict   = errors.New("identity conflict")
	ErrInvalidSignal      = errors.New("invalid signal")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrPropertyNotFound   = errors.New("property not found")
)
