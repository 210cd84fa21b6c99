package events

import "fmt"

// ErrorKind is the closed set of failure categories the core distinguishes.
// The kind is what goes over the wire; the wrapped cause never does.
type ErrorKind string

const (
	KindRoomNotFound    ErrorKind = "room-not-found"
	KindInvalidHostCred ErrorKind = "invalid-host-credentials"
	KindHostOnly        ErrorKind = "host-only"
	KindOverCap         ErrorKind = "over-cap"
	KindValidation      ErrorKind = "validation-failed"
	KindNameTaken       ErrorKind = "name-taken"
	KindNotAuth         ErrorKind = "not-authenticated"
	KindTargetNotInRoom ErrorKind = "target-not-in-room"
	KindHostLeft        ErrorKind = "host-left"
	KindInternal        ErrorKind = "internal"
)

// Error is the uniform failure value returned by the coordinators. Message is
// user-safe and may be serialized; the cause is for logs only.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds an Error with a user-safe message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError attaches an internal cause that is logged but never serialized.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// ErrRoomNotFound reports an unknown or expired room id.
func ErrRoomNotFound() *Error {
	return NewError(KindRoomNotFound, "Room not found")
}

// ErrInvalidHostCredentials reports a host-identity claim without a valid token.
func ErrInvalidHostCredentials() *Error {
	return NewError(KindInvalidHostCred, "Invalid host credentials")
}

// ErrHostOnly reports a privileged operation attempted by a guest.
func ErrHostOnly() *Error {
	return NewError(KindHostOnly, "Only hosts can do that")
}

// ErrOverCap reports a full signaling mesh.
func ErrOverCap(cap int) *Error {
	return NewError(KindOverCap, fmt.Sprintf("Call is full (max %d participants)", cap))
}

// ErrValidation reports a malformed payload with a field-level message.
func ErrValidation(message string) *Error {
	return NewError(KindValidation, message)
}

// ErrNameTaken reports a display name already in use in the room.
func ErrNameTaken(name string) *Error {
	return NewError(KindNameTaken, fmt.Sprintf("The name %q is already taken in this room", name))
}

// ErrNotAuthenticated reports a non-lobby event from a connection that has not
// joined a room yet.
func ErrNotAuthenticated() *Error {
	return NewError(KindNotAuth, "Join a room first")
}

// ErrTargetNotInRoom reports a kick or promote aimed at a missing member.
func ErrTargetNotInRoom() *Error {
	return NewError(KindTargetNotInRoom, "That user is not in the room")
}

// ErrHostLeft is broadcast to guests when the primary host closes the room.
// It is an error event by wire form, not a fault.
func ErrHostLeft() *Error {
	return NewError(KindHostLeft, "The host has left the room")
}

// ErrInternal reports an unrecoverable store failure without leaking detail.
func ErrInternal(cause error) *Error {
	return WrapError(KindInternal, "Something went wrong, please try again", cause)
}
