package core

import (
	"errors"
	"fmt"
)

// Kind categorizes a domain failure.
type Kind string

const (
	KindInsufficientPayment Kind = "INSUFFICIENT_PAYMENT"
	KindInvalidSignature    Kind = "INVALID_SIGNATURE"
	KindNonceReused         Kind = "NONCE_REUSED"
	KindSignerLimitExceeded Kind = "SIGNER_LIMIT_EXCEEDED"
	KindInvalidEscrowState  Kind = "INVALID_ESCROW_STATE"
	KindUnknownCommitment   Kind = "UNKNOWN_COMMITMENT"
	KindAlreadyFulfilled    Kind = "ALREADY_FULFILLED"
	KindCapExceeded         Kind = "CAP_EXCEEDED"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindPaused              Kind = "PAUSED"
	KindInvalidQuantity     Kind = "INVALID_QUANTITY"
	KindUnknownProduct      Kind = "UNKNOWN_PRODUCT"
	KindBelowCutoff         Kind = "BELOW_CUTOFF"
	KindAlreadyConsumed     Kind = "ALREADY_CONSUMED"
)

// Error is a structured domain failure.
//
// Every failing operation returns one of these (possibly wrapped) naming the
// kind of failure and the offending operand, e.g. the commitment id or nonce.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Op is the operation that failed, e.g. "pack.mint".
	Op string

	// Subject identifies the offending operand, e.g. "rare-pack/3" or "nonce=7".
	Subject string

	// Detail is a human-readable description.
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	return msg
}

// Is matches another *Error by Kind so errors.Is(err, core.ErrPaused) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Subject == ""
}

// Errorf builds an *Error with a formatted detail.
func Errorf(kind Kind, op, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Detail: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons. They carry only a Kind.
var (
	ErrInsufficientPayment = &Error{Kind: KindInsufficientPayment}
	ErrInvalidSignature    = &Error{Kind: KindInvalidSignature}
	ErrNonceReused         = &Error{Kind: KindNonceReused}
	ErrSignerLimitExceeded = &Error{Kind: KindSignerLimitExceeded}
	ErrInvalidEscrowState  = &Error{Kind: KindInvalidEscrowState}
	ErrUnknownCommitment   = &Error{Kind: KindUnknownCommitment}
	ErrAlreadyFulfilled    = &Error{Kind: KindAlreadyFulfilled}
	ErrCapExceeded         = &Error{Kind: KindCapExceeded}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrPaused              = &Error{Kind: KindPaused}
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity}
	ErrUnknownProduct      = &Error{Kind: KindUnknownProduct}
	ErrBelowCutoff         = &Error{Kind: KindBelowCutoff}
	ErrAlreadyConsumed     = &Error{Kind: KindAlreadyConsumed}
)

// KindOf returns the Kind of err, or "" if err is not a domain error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
