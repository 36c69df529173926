// Package walleterr defines the domain error vocabulary shared by the
// wallet and AML subsystems: a tagged variant with an explicit Kind,
// mapped to an HTTP status and a localized detail string at the API
// boundary.
package walleterr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the domain error categories a caller across
// the store/wallet/AML boundary can see. New kinds are added here, not
// invented ad hoc with errors.New at call sites.
type Kind string

const (
	KindPlayerIDMismatch         Kind = "player_id_mismatch"
	KindPlayerNotFound           Kind = "player_not_found"
	KindWalletNotFound           Kind = "wallet_not_found"
	KindTransactionNotFound      Kind = "transaction_not_found"
	KindTransactionAlreadyProcessed Kind = "transaction_already_processed"
	KindInsufficientFunds        Kind = "insufficient_funds"
	KindInvalidAmount            Kind = "invalid_amount"
	KindInvalidCredentials       Kind = "invalid_credentials"
	KindInternal                 Kind = "internal_server_error"
)

// Error is a domain error carrying a stable Kind plus optional detail
// fields for logging and message-catalog lookup.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with an optional detail map.
func New(kind Kind, message string, detail map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail}
}

// Wrap tags an underlying error with a domain Kind, preserving it for
// Unwrap/errors.Is chains while giving callers a stable Kind to switch on.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf("%s: %v", kind, cause), cause: cause}
}

// Is reports whether err is, or wraps, a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf extracts the Kind from err, looking through wrapping and
// defaulting to KindInternal when no *Error is in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
