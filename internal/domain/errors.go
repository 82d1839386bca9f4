package domain

import "errors"

// Error taxonomy shared by the services. Handlers map these to HTTP
// status codes; everything else is treated as an internal failure.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrReturnWindowExpired = errors.New("return window expired")
	ErrAlreadyPaid         = errors.New("order already paid")
	ErrSignatureInvalid    = errors.New("signature verification failed")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
)
