// Package apperr provides the typed error taxonomy shared by the ledger,
// the market data gateway and the HTTP transport.
//
// Every error carries a Kind, which decides how a transport reports it
// (caller error, missing resource, state conflict, upstream failure), and a
// Code, which identifies the precise condition. Two errors are considered
// equal by errors.Is when their codes match, so callers can test against the
// exported sentinels while the returned error still carries details:
//
//	if errors.Is(err, apperr.ErrAlreadyClosed) { ... }
//	switch apperr.KindOf(err) { case apperr.KindValidation: ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindUpstream
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindUpstream:
		return "upstream"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Code identifies a specific failure condition.
type Code string

const (
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInvalidSide         Code = "INVALID_SIDE"
	CodeInvalidQuantity     Code = "INVALID_QUANTITY"
	CodeSymbolUnsupported   Code = "SYMBOL_UNSUPPORTED"
	CodeIntervalUnsupported Code = "INTERVAL_UNSUPPORTED"
	CodeInvalidRange        Code = "INVALID_RANGE"
	CodeInvalidFormat       Code = "INVALID_FORMAT"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeAssetNotFound       Code = "ASSET_NOT_FOUND"
	CodeTradeNotFound       Code = "TRADE_NOT_FOUND"
	CodeAlreadyClosed       Code = "ALREADY_CLOSED"
	CodeEmailTaken          Code = "EMAIL_ALREADY_REGISTERED"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeUpstream            Code = "UPSTREAM_ERROR"
	CodePriceUnavailable    Code = "PRICE_UNAVAILABLE"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

// Sentinels for errors.Is comparisons. Never return them mutated; use New,
// Newf or Wrap to attach details.
var (
	ErrValidation          = New(KindValidation, CodeValidation, "validation failed")
	ErrInvalidSide         = New(KindValidation, CodeInvalidSide, "side must be BUY or SELL")
	ErrInvalidQuantity     = New(KindValidation, CodeInvalidQuantity, "invalid quantity")
	ErrSymbolUnsupported   = New(KindValidation, CodeSymbolUnsupported, "symbol not supported")
	ErrIntervalUnsupported = New(KindValidation, CodeIntervalUnsupported, "interval not supported")
	ErrInvalidRange        = New(KindValidation, CodeInvalidRange, "invalid range")
	ErrInvalidFormat       = New(KindValidation, CodeInvalidFormat, "invalid format")
	ErrAccountNotFound     = New(KindNotFound, CodeAccountNotFound, "account not found")
	ErrAssetNotFound       = New(KindNotFound, CodeAssetNotFound, "asset not found")
	ErrTradeNotFound       = New(KindNotFound, CodeTradeNotFound, "trade not found")
	ErrAlreadyClosed       = New(KindConflict, CodeAlreadyClosed, "trade already closed")
	ErrEmailTaken          = New(KindConflict, CodeEmailTaken, "email already registered")
	ErrInsufficientFunds   = New(KindInsufficientFunds, CodeInsufficientFunds, "insufficient funds")
	ErrUpstream            = New(KindUpstream, CodeUpstream, "upstream quote provider failed")
	ErrPriceUnavailable    = New(KindUpstream, CodePriceUnavailable, "market price unavailable")
	ErrInvalidCredentials  = New(KindUnauthorized, CodeInvalidCredentials, "invalid credentials")
)

// New creates an Error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Upstream wraps a provider failure.
func Upstream(message string, cause error) *Error {
	return Wrap(KindUpstream, CodeUpstream, message, cause)
}

// Validation builds a validation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, CodeValidation, format, args...)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
