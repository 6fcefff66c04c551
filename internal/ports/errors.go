package ports

import "errors"

// Standard application-level errors.
// Components wrap these so callers can classify failures with errors.Is.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrContextCanceled = errors.New("operation canceled via context")
	ErrInvalidConfig   = errors.New("invalid or missing configuration")

	// Simulation Errors
	ErrInvariantViolation = errors.New("simulation invariant violated")
	ErrOutOfOrderBar      = errors.New("bar is not newer than the last processed bar for its ticker")
	ErrNoBars             = errors.New("no bars to simulate")
	ErrMalformedBar       = errors.New("malformed bar")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
