package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Named error conditions surfaced by state transitions. Match them with
// errors.Is; the concrete error is a *TransitionError carrying context.
var (
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("kitty not found")
	ErrDead               = errors.New("kitty is dead")
	ErrIneligibleAge      = errors.New("age not eligible for breeding")
	ErrSameParent         = errors.New("parents must differ")
	ErrNotForSale         = errors.New("kitty not for sale")
	ErrPriceTooLow        = errors.New("price too low")
	ErrCounterOverflow    = errors.New("kitties count overflow")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrBadOrigin          = errors.New("bad origin")
	ErrInvalidAccount     = errors.New("invalid account id")
	ErrCorruptIndex       = errors.New("owned kitties index corrupt")
)

// TransitionError reports why an operation aborted.
type TransitionError struct {
	Op      string
	Kind    error
	Kitty   *KittyIndex
	Account AccountID
	Cause   error
}

// Error formats the failure with its diagnostic identifiers.
func (e *TransitionError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Kitty != nil {
		fmt.Fprintf(&b, " (kitty %d)", *e.Kitty)
	}
	if e.Account != "" {
		fmt.Fprintf(&b, " (account %s)", e.Account)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *TransitionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Fail builds a TransitionError of the given kind.
func Fail(kind error) *TransitionError {
	return &TransitionError{Kind: kind}
}

// WithKitty attaches the kitty id involved in the failure.
func (e *TransitionError) WithKitty(id KittyIndex) *TransitionError {
	e.Kitty = &id
	return e
}

// WithAccount attaches the account involved in the failure.
func (e *TransitionError) WithAccount(who AccountID) *TransitionError {
	e.Account = who
	return e
}

// WithCause attaches the collaborator error that triggered the failure.
func (e *TransitionError) WithCause(err error) *TransitionError {
	e.Cause = err
	return e
}
