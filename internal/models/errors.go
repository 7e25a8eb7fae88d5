package models

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrProductUnavailable       = errors.New("product unavailable")
	ErrOutOfStock               = errors.New("out of stock")
	ErrProviderAllocationFailed = errors.New("provider allocation failed")
	ErrConflict                 = errors.New("conflict")
	ErrInvalidInput             = errors.New("invalid input")
)
