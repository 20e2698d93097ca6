// Package apperr defines the single domain error type returned by the chat
// and mate services.
package apperr

import (
	"errors"
	"fmt"
)

// Code is the enumerated reason carried by an Error.
type Code string

const (
	RoomNotFound             Code = "room-not-found"
	MembershipNotFound       Code = "membership-not-found"
	MessageNotFound          Code = "message-not-found"
	PostNotFound             Code = "post-not-found"
	PostAlreadyDeleted       Code = "post-already-deleted"
	UserNotAuthorized        Code = "user-not-authorized"
	CapacityDecreaseRejected Code = "capacity-decrease-rejected"
	UserNotFound             Code = "user-not-found"
	RoomNameRequired         Code = "room-name-required"
	InvalidSchedule          Code = "invalid-schedule"
	InvalidCursor            Code = "invalid-cursor"
	InvalidArgument          Code = "invalid-argument"
	PositionFull             Code = "position-full"
	RecruitmentClosed        Code = "recruitment-closed"
	AlreadyParticipating     Code = "already-participating"
	ParticipantNotFound      Code = "participant-not-found"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so callers can
// write errors.Is(err, apperr.New(apperr.RoomNotFound)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

func New(code Code) *Error {
	return &Error{Code: code}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}

	return "", false
}

// HasCode is shorthand for comparing CodeOf against a single code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
