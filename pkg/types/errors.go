package types

import "errors"

var (
	// ErrInvalidFingerprint is returned when a fingerprint cannot be parsed.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	// ErrInvalidMode is returned for names or codes outside the mode enum.
	ErrInvalidMode = errors.New("invalid plan cache mode")
)
