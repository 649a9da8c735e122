package sheet

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/engine"
)

// ConstantLanguage is the language of sheet cells that are not formulas
const ConstantLanguage = "constant"

// constantContext turns constant cell text into a value. constants have
// no inputs and no output.
type constantContext struct{}

func (constantContext) AnalyseCode(ctx context.Context, _ string) (*engine.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &engine.Analysis{}, nil
}

func (constantContext) ExecuteCode(ctx context.Context, code string, _ map[string]cell.Value) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &engine.Result{Value: ParseConstant(code)}, nil
}

// ParseConstant reads constant cell text as an integer, a number, a
// boolean or else a string. blank text is null.
func ParseConstant(text string) cell.Value {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return cell.Null{}
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return cell.Integer(i)
	}
	if decimal(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return cell.Number(f)
		}
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return cell.Boolean(true)
	case "false":
		return cell.Boolean(false)
	}
	return cell.String(text)
}

// decimal rejects the inf, nan and hex forms ParseFloat also accepts
func decimal(text string) bool {
	return !strings.ContainsFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) && r != 'e' && r != 'E'
	})
}
