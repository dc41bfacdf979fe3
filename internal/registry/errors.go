package registry

import "errors"

// Code is the machine-readable rejection reason reported to clients.
type Code string

const (
	CodeAlreadyTaken    Code = "already_taken"
	CodeAlreadyOccupied Code = "already_occupied"
	CodeNotFound        Code = "not_found"
	CodeWrongPassword   Code = "wrong_password"
	CodeFull            Code = "full"
	CodeNotOwner        Code = "not_owner"
	CodeNotInRoom       Code = "not_in_room"
	CodeInvalidRequest  Code = "invalid_request"
	CodeUnauthorized    Code = "unauthorized"
	CodeInternal        Code = "internal"
)

// Human-readable reasons, kept stable for existing clients.
const (
	ReasonRoomNotAvailable        = "Room not available"
	ReasonInvalidPassword         = "Invalid password"
	ReasonUserIDNotAvailable      = "User ID does not exist"
	ReasonUserIDTaken             = "User ID is already taken"
	ReasonRoomPermissionDenied    = "Room permission denied"
	ReasonRoomFull                = "Room full"
	ReasonDidNotJoinAnyRoom       = "Did not join any room yet"
	ReasonPublicIdentifierMissing = "publicRoomIdentifier is required"
	ReasonInvalidAdminCredential  = "Invalid username or password attempted"
	ReasonPasswordMissing         = "You did not enter the password."
	ReasonRoomIDMissing           = "You did not enter the room-id."
	ReasonNoPasswordSet           = "no password set"
	ReasonPeerIDMissing           = "userid is required"
	ReasonSessionIDMissing        = "sessionid is required"
)

// Error is a recoverable rejection. It never indicates a server fault.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func NewError(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// CodeOf extracts the rejection code of err, or CodeInternal for anything else.
func CodeOf(err error) Code {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return CodeInternal
}

// IsCode reports whether err is a rejection with the given code.
func IsCode(err error, code Code) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Code == code
}
