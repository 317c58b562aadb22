package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrAlreadyLocked signals the contact is held by another worker; callers
	// skip to the next candidate rather than wait.
	ErrAlreadyLocked = errors.New("contact already locked")
	// ErrInvalidTransition signals an illegal queue state change. It indicates
	// a coordination bug and must never be swallowed.
	ErrInvalidTransition = errors.New("invalid queue transition")
	// ErrNoEligibleContacts is the "nothing to dial" outcome, not a failure.
	ErrNoEligibleContacts = errors.New("no eligible contacts")
	// ErrGatewayPlacement covers telephony gateway call-placement failures.
	ErrGatewayPlacement = errors.New("gateway placement failure")
	// ErrMetricsConflict marks a lost metrics read-modify-write; retried with
	// a fresh read, never dropped.
	ErrMetricsConflict = errors.New("metrics update conflict")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
