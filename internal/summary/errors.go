package summary

import (
	"errors"
	"fmt"
)

// Kind classifies every failure that crosses the service boundary.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindSignInRequired   Kind = "sign_in_required"
	KindNoInputData      Kind = "no_input_data"
	KindGenerationFailed Kind = "generation_failed"
	KindStoreUnavailable Kind = "store_unavailable"
)

var messages = map[Kind]string{
	KindInvalidInput:     "invalid resource id",
	KindQuotaExceeded:    "quota exceeded",
	KindSignInRequired:   "sign-in required",
	KindNoInputData:      "no documents to summarize",
	KindGenerationFailed: "summary generation failed",
	KindStoreUnavailable: "store unavailable",
}

// Error is a classified failure. Remaining and Plan are set on quota denials.
type Error struct {
	Kind      Kind
	Remaining int64
	Plan      string
	Err       error
}

func (e *Error) Error() string {
	msg := messages[e.Kind]
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the user-facing text for the error's kind.
func (e *Error) Message() string {
	return messages[e.Kind]
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
