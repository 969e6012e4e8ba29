// Package gwerrors defines the gateway's typed error taxonomy and the JSON
// envelope every error response uses.
//
// Every component returns one of these typed errors up to the HTTP boundary,
// where Abort renders it as {"success": false, "error": "..."} with a status
// code chosen from the taxonomy. Handlers never build ad hoc error bodies, so
// the envelope shape is uniform across the whole gateway — including responses
// produced by middleware and the forwarder.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies a gateway error for HTTP status mapping.
type Kind int

const (
	// KindNotFound covers absent services, roles, users, and reset requests.
	KindNotFound Kind = iota
	// KindUnauthorized covers missing, malformed, or undecodable tokens.
	KindUnauthorized
	// KindForbidden covers valid tokens with insufficient roles and failed
	// credential checks.
	KindForbidden
	// KindBadRequest covers malformed input and expired or used reset tokens.
	KindBadRequest
	// KindDatabase covers failed storage round-trips.
	KindDatabase
	// KindBadGateway covers upstream transport failures during forwarding.
	KindBadGateway
	// KindInternal covers everything unexpected.
	KindInternal
)

// Error is the gateway's typed error. Message is user-visible; Err, when set,
// is the underlying cause and is never echoed to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindBadGateway:
		return http.StatusBadGateway
	case KindDatabase, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NotFound reports an absent resource.
func NotFound(resource, detail string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resource, detail)}
}

// Unauthorized reports a missing or invalid token.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// TokenDecode reports a token that failed signature, issuer, or claim checks.
// The cause is kept for logs but not rendered to the caller.
func TokenDecode(err error) *Error {
	return &Error{Kind: KindUnauthorized, Message: "unable to decode auth token", Err: err}
}

// Forbidden reports a valid identity without the required role.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// InvalidCredentials is the single undifferentiated login failure. It is
// deliberately identical for unknown users, users without a password hash,
// and wrong passwords.
func InvalidCredentials() *Error {
	return &Error{Kind: KindForbidden, Message: "invalid username or password"}
}

// BadRequest reports malformed or unusable input.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// BadGateway reports an unreachable or failing upstream. The message is
// deliberately generic; transport details stay in the logs.
func BadGateway() *Error {
	return &Error{Kind: KindBadGateway, Message: "upstream service unavailable"}
}

// Database wraps a failed storage round-trip.
func Database(op string, err error) *Error {
	return &Error{Kind: KindDatabase, Message: "database error during " + op, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// Abort writes the error envelope and stops the Gin handler chain. Errors that
// are not *Error render as a generic 500 so internal details never leak.
func Abort(c *gin.Context, err error) {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		gwErr = &Error{Kind: KindInternal, Message: "internal server error", Err: err}
	}
	c.AbortWithStatusJSON(gwErr.Status(), gin.H{
		"success": false,
		"error":   gwErr.Message,
	})
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}
