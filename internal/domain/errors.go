package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrValidation   = errors.New("validation failed")
	ErrNotJoined    = errors.New("join the room first")

	// Access-code flow.
	ErrRateLimited      = errors.New("too many verification attempts")
	ErrDeliveryFailed   = errors.New("could not deliver verification code")
	ErrNoPendingToken   = errors.New("no pending verification code")
	ErrEmailMismatch    = errors.New("email does not match the pending code")
	ErrInvalidToken     = errors.New("code is incorrect or has expired")
	ErrDomainNotAllowed = errors.New("email domain not allowed")
)

// ExternalServiceError reports a non-2xx response from an upstream HTTP API.
// Body holds at most the first 200 bytes of the upstream response.
type ExternalServiceError struct {
	Service string
	Status  int
	Body    string
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Service, e.Status, e.Body)
}

// NewExternalServiceError truncates body to at most 200 bytes, never
// splitting a UTF-8 sequence.
func NewExternalServiceError(service string, status int, body []byte) *ExternalServiceError {
	const max = 200
	if len(body) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return &ExternalServiceError{Service: service, Status: status, Body: string(body)}
}
