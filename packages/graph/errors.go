package graph

import "fmt"

// ErrorCode represents gRPC-style codes for graph operation errors.
// problems of individual cells are not returned as errors, they are
// attached to the cell as cell.CellError values.
type ErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK ErrorCode = 0

	// InvalidArgument indicates the caller passed an invalid cell or symbol.
	InvalidArgument ErrorCode = 3

	// NotFound means the referenced cell is not registered.
	NotFound ErrorCode = 5

	// AlreadyExists means a cell with the same id is already registered.
	AlreadyExists ErrorCode = 6

	// FailedPrecondition indicates the graph is not in a state required for
	// the operation, e.g. a symbol claimed by several producers.
	FailedPrecondition ErrorCode = 9

	// Internal errors. an invariant of the graph has been broken.
	Internal ErrorCode = 13
)

var codeNames = map[ErrorCode]string{
	OK:                 "ok",
	InvalidArgument:    "invalid argument",
	NotFound:           "not found",
	AlreadyExists:      "already exists",
	FailedPrecondition: "failed precondition",
	Internal:           "internal",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is returned by graph operations
type Error struct {
	Code     ErrorCode
	Message  string
	sentinel *Error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

// Is matches an error against the sentinel it was created from
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && (t == e || t == e.sentinel)
}

var (
	ErrCellNotFound    = &Error{Code: NotFound, Message: "cell not found"}
	ErrCellExists      = &Error{Code: AlreadyExists, Message: "cell already exists"}
	ErrAmbiguousSymbol = &Error{Code: FailedPrecondition, Message: "ambiguous symbol"}
	ErrInvalidState    = &Error{Code: FailedPrecondition, Message: "invalid cell state"}
	ErrGraphOwnedError = &Error{Code: InvalidArgument, Message: "error kind is managed by the graph"}
)

// NewError creates an error with a code and no sentinel
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapSentinel(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Code:     sentinel.Code,
		Message:  fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...)),
		sentinel: sentinel,
	}
}
