package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the quote lifecycle.
type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"
	KindNetwork             ErrorKind = "NetworkError"
	KindQuoteRejected       ErrorKind = "QuoteRejected"
	KindQuoteExpired        ErrorKind = "QuoteExpired"
	KindAlreadyFilled       ErrorKind = "AlreadyFilled"
	KindDuplicateSubmission ErrorKind = "DuplicateSubmission"
	KindUnknown             ErrorKind = "Unknown"
)

// Reason refines a QuoteRejected error.
type Reason string

const (
	ReasonInsufficientFunds Reason = "InsufficientFunds"
	ReasonPairUnavailable   Reason = "PairUnavailable"
	ReasonBelowMinimum      Reason = "BelowMinimum"
)

// Error is the typed error carried in session state and returned by the core.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Reason  Reason    `json:"reason,omitempty"`
	Op      string    `json:"op,omitempty"`
	Message string    `json:"message,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrQuoteRejected       = &Error{Kind: KindQuoteRejected}
	ErrInsufficientFunds   = &Error{Kind: KindQuoteRejected, Reason: ReasonInsufficientFunds}
	ErrPairUnavailable     = &Error{Kind: KindQuoteRejected, Reason: ReasonPairUnavailable}
	ErrBelowMinimum        = &Error{Kind: KindQuoteRejected, Reason: ReasonBelowMinimum}
	ErrQuoteExpired        = &Error{Kind: KindQuoteExpired}
	ErrAlreadyFilled       = &Error{Kind: KindAlreadyFilled}
	ErrDuplicateSubmission = &Error{Kind: KindDuplicateSubmission}
	ErrUnknown             = &Error{Kind: KindUnknown}

	// ErrSessionClosed is returned by every operation on a disposed session.
	ErrSessionClosed = errors.New("quote session closed")
)

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewError builds an error of the given kind wrapping err.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Rejected builds a QuoteRejected error with the given reason.
func Rejected(reason Reason, op, message string) *Error {
	return &Error{Kind: KindQuoteRejected, Reason: reason, Op: op, Message: message}
}

// AsError converts any error to *Error, classifying unknown errors as Unknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Err: err}
}
