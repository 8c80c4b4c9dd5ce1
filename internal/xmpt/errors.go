package xmpt

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable failure code.
type Code string

const (
	CodePeerUnreachable       Code = "XMPT_PEER_UNREACHABLE"
	CodeInboxSkillMissing     Code = "XMPT_INBOX_SKILL_MISSING"
	CodeInvalidMessagePayload Code = "XMPT_INVALID_MESSAGE_PAYLOAD"
	CodeTimeout               Code = "XMPT_TIMEOUT"
	CodeInvalidConfig         Code = "XMPT_INVALID_CONFIG"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrPeerUnreachable       = &Error{Code: CodePeerUnreachable}
	ErrInboxSkillMissing     = &Error{Code: CodeInboxSkillMissing}
	ErrInvalidMessagePayload = &Error{Code: CodeInvalidMessagePayload}
	ErrTimeout               = &Error{Code: CodeTimeout}
	ErrInvalidConfig         = &Error{Code: CodeInvalidConfig}
)

// Error is a coded XMPT failure rendered as "[CODE] message".
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Code)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the XMPT code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}
