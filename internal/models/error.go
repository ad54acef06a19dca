package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Admission outcomes
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrIPBlacklisted     = errors.New("identity is blacklisted")

	// Security subsystem failures
	ErrIntegrityViolation = errors.New("audit chain integrity violation")
	ErrRotationFailed     = errors.New("secret rotation failed")
)
