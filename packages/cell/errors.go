package cell

import (
	"fmt"
	"strings"
)

// ErrorKind classifies the problems that can be attached to a cell
type ErrorKind uint8

const (
	ErrorUnresolved ErrorKind = iota + 1 // input symbol has no producer
	ErrorCyclic                          // cell takes part in a dependency cycle
	ErrorCollision                       // output symbol claimed by several cells
	ErrorSyntax                          // analysis rejected the source
	ErrorContext                         // no context for the cell's language
	ErrorRuntime                         // execution raised an error
)

// ErrorKindMapper maps error kinds to their display names
var ErrorKindMapper = map[ErrorKind]string{
	ErrorUnresolved: "unresolved",
	ErrorCyclic:     "cyclic",
	ErrorCollision:  "collision",
	ErrorSyntax:     "syntax",
	ErrorContext:    "context",
	ErrorRuntime:    "runtime",
}

func (k ErrorKind) String() string {
	if name, ok := ErrorKindMapper[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// GraphOwned reports whether errors of this kind are managed by the cell
// graph. callers never clear these directly.
func (k ErrorKind) GraphOwned() bool {
	return k == ErrorUnresolved || k == ErrorCyclic || k == ErrorCollision
}

// Fatal reports whether errors of this kind force a cell to BROKEN.
// collisions are surfaced but do not change status, runtime errors make a
// cell FAILED.
func (k ErrorKind) Fatal() bool {
	return k != ErrorCollision && k != ErrorRuntime
}

// CellError is a problem attached to a cell. it is never returned from an
// operation, it lives on the cell until cleared.
type CellError struct {
	Kind    ErrorKind
	Message string
	Trace   []ID     // cycle participants in traversal order
	Symbols []string // offending symbol names
	Line    int
	Column  int
	Cause   error
}

func (e *CellError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *CellError) Unwrap() error {
	return e.Cause
}

// NewUnresolvedInputError reports input symbols without a producing cell
func NewUnresolvedInputError(names []string) *CellError {
	return &CellError{
		Kind:    ErrorUnresolved,
		Message: fmt.Sprintf("unresolved inputs: %s", strings.Join(names, ", ")),
		Symbols: names,
	}
}

// NewCyclicDependencyError creates the error shared by every cell on a cycle
func NewCyclicDependencyError(trace []ID) *CellError {
	parts := make([]string, 0, len(trace)+1)
	for _, id := range trace {
		parts = append(parts, string(id))
	}
	if len(trace) > 0 {
		parts = append(parts, string(trace[0]))
	}
	return &CellError{
		Kind:    ErrorCyclic,
		Message: fmt.Sprintf("cyclic dependency: %s", strings.Join(parts, " -> ")),
		Trace:   trace,
	}
}

// NewOutputCollisionError reports an output claimed by more than one cell
func NewOutputCollisionError(name string, ids []ID) *CellError {
	return &CellError{
		Kind:    ErrorCollision,
		Message: fmt.Sprintf("output %q is declared by %d cells", name, len(ids)),
		Symbols: []string{name},
		Trace:   ids,
	}
}

func NewSyntaxError(message string, line, column int, cause error) *CellError {
	return &CellError{
		Kind:    ErrorSyntax,
		Message: message,
		Line:    line,
		Column:  column,
		Cause:   cause,
	}
}

func NewContextError(language string, cause error) *CellError {
	return &CellError{
		Kind:    ErrorContext,
		Message: fmt.Sprintf("no execution context for language %q", language),
		Cause:   cause,
	}
}

func NewRuntimeError(message string, cause error) *CellError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &CellError{
		Kind:    ErrorRuntime,
		Message: message,
		Cause:   cause,
	}
}
