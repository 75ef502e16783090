package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSignatureMismatch    = errors.New("signature mismatch")
	ErrGateway              = errors.New("payment gateway failure")
	ErrPersistence          = errors.New("persistence failure")
)
