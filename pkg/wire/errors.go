package wire

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds spec.md §7 names — not Go type names,
// just a closed set of reasons a call can fail.
type Code string

const (
	CodeVersionMismatch        Code = "VersionMismatch"
	CodeNoSuchMethod           Code = "NoSuchMethod"
	CodeNoSuchSignal           Code = "NoSuchSignal"
	CodeArgumentConversion     Code = "ArgumentConversion"
	CodeDuplicateName          Code = "DuplicateName"
	CodeNotFound               Code = "NotFound"
	CodeNotPending             Code = "NotPending"
	CodeArityMismatch          Code = "ArityMismatch"
	CodeSignatureMismatch      Code = "SignatureMismatch"
	CodeConnectFailure         Code = "ConnectFailure"
	CodeCancelled              Code = "Cancelled"
	CodeUncaught               Code = "Uncaught"
)

// Error is the typed error meshrt's internal APIs return; it never
// crosses the wire directly (pkg/object translates it into an Error
// Message per spec.md §4.5/§7).
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an *Error with the given code and formatted message.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, else
// returns CodeUncaught.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUncaught
}

// CanceledText is the fixed error text spec.md §4.5/§7 specifies for peers
// that don't advertise RemoteCancelableCalls.
const CanceledText = "Call has been canceled."
