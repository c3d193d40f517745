package services

import "errors"

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrNotFound         = errors.New("report not found")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidCode      = errors.New("invalid code")
	ErrUnauthorized     = errors.New("invalid or expired session")
)
