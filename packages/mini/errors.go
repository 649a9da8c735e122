package mini

import (
	"fmt"
	"strings"
)

// SyntaxError is a lexing or parsing failure at a byte offset of the code
type SyntaxError struct {
	Message string
	Pos     int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Message, e.Pos)
}

// Location converts the offset into a 1-based line and column of code
func (e *SyntaxError) Location(code string) (line, column int) {
	return location(code, e.Pos)
}

// EvalError is a failure while evaluating a node: unknown function, type
// mismatch, division by zero or a missing input
type EvalError struct {
	Message  string
	Position NodePosition
}

func (e *EvalError) Error() string {
	return e.Message
}

func newEvalError(pos NodePosition, format string, args ...any) *EvalError {
	return &EvalError{Message: fmt.Sprintf(format, args...), Position: pos}
}

func location(code string, pos int) (line, column int) {
	if pos > len(code) {
		pos = len(code)
	}
	if pos < 0 {
		pos = 0
	}
	before := code[:pos]
	line = strings.Count(before, "\n") + 1
	column = pos - strings.LastIndexByte(before, '\n')
	return line, column
}
