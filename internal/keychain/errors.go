package keychain

import (
	"errors"
	"fmt"
)

// Status is a platform status code as returned by the Security framework
// (OSStatus).
type Status int32

// Platform status codes the keychain distinguishes.
const (
	StatusSuccess               Status = 0
	StatusUnimplemented         Status = -4
	StatusParam                 Status = -50
	StatusUserCanceled          Status = -128
	StatusNotAvailable          Status = -25291
	StatusAuthFailed            Status = -25293
	StatusDuplicateItem         Status = -25299
	StatusItemNotFound          Status = -25300
	StatusInteractionNotAllowed Status = -25308
	StatusDecode                Status = -26275
)

// Code classifies an Error.
type Code int

const (
	CodeOther Code = iota
	CodeOperationNotImplemented
	CodeInvalidParameters
	CodeUserCanceled
	CodeItemNotAvailable
	CodeAuthFailed
	CodeDuplicateItem
	CodeItemNotFound
	CodeInteractionNotAllowed
	CodeDecodeFailed
	// CodeUnknown is not a platform error: the call succeeded but the
	// result could not be used (wrong type, bad encoding).
	CodeUnknown
)

var statusCodes = map[Status]Code{
	StatusUnimplemented:         CodeOperationNotImplemented,
	StatusParam:                 CodeInvalidParameters,
	StatusUserCanceled:          CodeUserCanceled,
	StatusNotAvailable:          CodeItemNotAvailable,
	StatusAuthFailed:            CodeAuthFailed,
	StatusDuplicateItem:         CodeDuplicateItem,
	StatusItemNotFound:          CodeItemNotFound,
	StatusInteractionNotAllowed: CodeInteractionNotAllowed,
	StatusDecode:                CodeDecodeFailed,
}

var codeStatuses = func() map[Code]Status {
	m := make(map[Code]Status, len(statusCodes))
	for s, c := range statusCodes {
		m[c] = s
	}
	return m
}()

var codeNames = map[Code]string{
	CodeOther:                   "other",
	CodeOperationNotImplemented: "operation_not_implemented",
	CodeInvalidParameters:       "invalid_parameters",
	CodeUserCanceled:            "user_canceled",
	CodeItemNotAvailable:        "item_not_available",
	CodeAuthFailed:              "auth_failed",
	CodeDuplicateItem:           "duplicate_item",
	CodeItemNotFound:            "item_not_found",
	CodeInteractionNotAllowed:   "interaction_not_allowed",
	CodeDecodeFailed:            "decode_failed",
	CodeUnknown:                 "unknown",
}

// String returns a stable snake_case name, used in API responses and
// metric labels.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is returned by every Keychain operation that fails. Error
// descriptions are meant for debugging, not for display to end users.
type Error struct {
	Code Code
	// status is only meaningful for CodeOther.
	status Status
	// message is only meaningful for CodeUnknown.
	message string
}

// Sentinel errors. errors.Is matches any *Error with the same Code, so
// errors.Is(err, ErrItemNotFound) works regardless of wrapping.
var (
	ErrOperationNotImplemented = &Error{Code: CodeOperationNotImplemented}
	ErrInvalidParameters       = &Error{Code: CodeInvalidParameters}
	ErrUserCanceled            = &Error{Code: CodeUserCanceled}
	ErrItemNotAvailable        = &Error{Code: CodeItemNotAvailable}
	ErrAuthFailed              = &Error{Code: CodeAuthFailed}
	ErrDuplicateItem           = &Error{Code: CodeDuplicateItem}
	ErrItemNotFound            = &Error{Code: CodeItemNotFound}
	ErrInteractionNotAllowed   = &Error{Code: CodeInteractionNotAllowed}
	ErrDecodeFailed            = &Error{Code: CodeDecodeFailed}
	ErrOther                   = &Error{Code: CodeOther}
	ErrUnknown                 = &Error{Code: CodeUnknown}
)

// StatusError converts a platform status into an error. It returns nil for
// StatusSuccess.
func StatusError(status Status) error {
	if status == StatusSuccess {
		return nil
	}
	if code, ok := statusCodes[status]; ok {
		return &Error{Code: code}
	}
	return &Error{Code: CodeOther, status: status}
}

func unknownError(message string) error {
	return &Error{Code: CodeUnknown, message: message}
}

// Status returns the platform status code behind the error. CodeUnknown
// errors report StatusSuccess because they are not keychain errors.
func (e *Error) Status() Status {
	switch e.Code {
	case CodeOther:
		return e.status
	case CodeUnknown:
		return StatusSuccess
	}
	return codeStatuses[e.Code]
}

// Message returns the detail of a CodeUnknown error.
func (e *Error) Message() string {
	return e.message
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeOperationNotImplemented:
		return "errSecUnimplemented: A function or operation is not implemented."
	case CodeInvalidParameters:
		return "errSecParam: One or more parameters passed to the function are not valid."
	case CodeUserCanceled:
		return "errSecUserCanceled: User canceled the operation."
	case CodeItemNotAvailable:
		return "errSecNotAvailable: No trust results are available."
	case CodeAuthFailed:
		return "errSecAuthFailed: Authorization and/or authentication failed."
	case CodeDuplicateItem:
		return "errSecDuplicateItem: The item already exists."
	case CodeItemNotFound:
		return "errSecItemNotFound: The item cannot be found."
	case CodeInteractionNotAllowed:
		return "errSecInteractionNotAllowed: Interaction with the Security Server is not allowed."
	case CodeDecodeFailed:
		return "errSecDecode: Unable to decode the provided data."
	case CodeUnknown:
		return fmt.Sprintf("Unknown error: %s.", e.message)
	}
	return fmt.Sprintf("Unspecified Keychain error: %d.", e.status)
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Code, true
}

// ParseCode is the inverse of Code.String.
func ParseCode(name string) (Code, bool) {
	for c, n := range codeNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// CodeError rebuilds an *Error from a Code, e.g. one reported by a remote
// agent. The platform status of CodeOther errors is not preserved.
func CodeError(code Code, message string) error {
	if code == CodeUnknown {
		return unknownError(message)
	}
	return &Error{Code: code}
}
