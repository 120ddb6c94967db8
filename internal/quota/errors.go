package quota

import (
	"errors"
	"fmt"
)

// Kind distinguishes admission failures the caller renders differently.
type Kind int

const (
	KindUnknown Kind = iota
	// KindQuotaExceeded: a word or list ceiling is reached; the user must upgrade.
	KindQuotaExceeded
	// KindInsufficientCredits: the balance is negative; the user must top up.
	KindInsufficientCredits
	// KindNotFound: the account does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a typed admission failure. Msg is safe to show to the user verbatim.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func quotaExceeded(format string, args ...any) *Error {
	return &Error{Kind: KindQuotaExceeded, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the admission kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

// IsQuotaExceeded reports whether err is a quota ceiling failure.
func IsQuotaExceeded(err error) bool {
	return KindOf(err) == KindQuotaExceeded
}

// IsInsufficientCredits reports whether err is a negative-balance failure.
func IsInsufficientCredits(err error) bool {
	return KindOf(err) == KindInsufficientCredits
}
