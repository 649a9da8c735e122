package mini

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// Builtins lists the functions callBuiltin knows, lowercase
var Builtins = []string{
	"abs", "and", "concat", "count", "if", "len", "lower", "max",
	"mean", "min", "not", "or", "round", "sum", "upper",
}

// callBuiltin invokes a builtin by name, case-insensitively. if is
// evaluated lazily by its node and only reaches here through direct calls.
func callBuiltin(name string, args []cell.Value) (cell.Value, error) {
	switch strings.ToLower(name) {
	case "sum":
		return builtinSum(args)
	case "mean":
		return builtinMean(args)
	case "count":
		return cell.Integer(len(numbers(args))), nil
	case "max":
		return builtinExtreme(args, 1)
	case "min":
		return builtinExtreme(args, -1)
	case "len":
		return builtinLen(args)
	case "upper":
		return stringFunc("upper", args, strings.ToUpper)
	case "lower":
		return stringFunc("lower", args, strings.ToLower)
	case "if":
		return builtinIf(args)
	case "concat":
		var b strings.Builder
		for _, value := range flatten(args) {
			b.WriteString(toString(value))
		}
		return cell.String(b.String()), nil
	case "round":
		return builtinRound(args)
	case "abs":
		return builtinAbs(args)
	case "not":
		if len(args) != 1 {
			return nil, fmt.Errorf("not takes 1 argument, got %d", len(args))
		}
		return cell.Boolean(!isTruthy(args[0])), nil
	case "and":
		for _, value := range flatten(args) {
			if !isTruthy(value) {
				return cell.Boolean(false), nil
			}
		}
		return cell.Boolean(true), nil
	case "or":
		for _, value := range flatten(args) {
			if isTruthy(value) {
				return cell.Boolean(true), nil
			}
		}
		return cell.Boolean(false), nil
	default:
		return nil, fmt.Errorf("unknown function: %s", name)
	}
}

// flatten expands arrays and tables into their items. tables are read row
// by row.
func flatten(args []cell.Value) []cell.Value {
	var out []cell.Value
	for _, arg := range args {
		switch v := arg.(type) {
		case cell.Array:
			out = append(out, flatten(v)...)
		case cell.Table:
			for row := range v.Rows() {
				for _, col := range v.Columns {
					if row < len(col.Values) {
						out = append(out, flatten([]cell.Value{col.Values[row]})...)
					}
				}
			}
		default:
			out = append(out, arg)
		}
	}
	return out
}

// numbers keeps the numeric items of the flattened arguments. text and
// empty values are skipped like in spreadsheet aggregates.
func numbers(args []cell.Value) []cell.Value {
	var out []cell.Value
	for _, value := range flatten(args) {
		if isNumeric(value) {
			out = append(out, value)
		}
	}
	return out
}

func builtinSum(args []cell.Value) (cell.Value, error) {
	var intSum int64
	var floatSum float64
	integral := true
	for _, value := range numbers(args) {
		switch v := value.(type) {
		case cell.Integer:
			intSum += int64(v)
		case cell.Number:
			floatSum += float64(v)
			integral = false
		}
	}
	if integral {
		return cell.Integer(intSum), nil
	}
	return cell.Number(floatSum + float64(intSum)), nil
}

func builtinMean(args []cell.Value) (cell.Value, error) {
	values := numbers(args)
	if len(values) == 0 {
		return nil, fmt.Errorf("mean of no values")
	}
	sum := 0.0
	for _, value := range values {
		n, _ := toNumber(value)
		sum += n
	}
	return cell.Number(sum / float64(len(values))), nil
}

// builtinExtreme returns the maximum for sign 1 and the minimum for -1
func builtinExtreme(args []cell.Value, sign int) (cell.Value, error) {
	values := numbers(args)
	if len(values) == 0 {
		return cell.Integer(0), nil
	}
	best := values[0]
	for _, value := range values[1:] {
		if cmp, _ := compareValues(value, best); cmp*sign > 0 {
			best = value
		}
	}
	return best, nil
}

func builtinLen(args []cell.Value) (cell.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len takes 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case cell.String:
		return cell.Integer(utf8.RuneCountInString(string(v))), nil
	case cell.Array:
		return cell.Integer(len(v)), nil
	case cell.Table:
		return cell.Integer(v.Rows()), nil
	case cell.Object:
		return cell.Integer(len(v)), nil
	case cell.Null:
		return cell.Integer(0), nil
	default:
		return nil, fmt.Errorf("len of %s", kindOf(args[0]))
	}
}

func stringFunc(name string, args []cell.Value, fn func(string) string) (cell.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(args))
	}
	return cell.String(fn(toString(args[0]))), nil
}

func builtinIf(args []cell.Value) (cell.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("if takes 2 or 3 arguments, got %d", len(args))
	}
	if isTruthy(args[0]) {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return cell.Null{}, nil
}

// builtinRound rounds half away from zero. zero or negative digits give an
// integer.
func builtinRound(args []cell.Value) (cell.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("round takes 1 or 2 arguments, got %d", len(args))
	}
	n, ok := toNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("round requires a numeric value, got %s", kindOf(args[0]))
	}
	digits := int64(0)
	if len(args) == 2 {
		d, ok := toNumber(args[1])
		if !ok {
			return nil, fmt.Errorf("round digits must be numeric, got %s", kindOf(args[1]))
		}
		digits = int64(d)
	}
	scale := math.Pow(10, float64(digits))
	rounded := math.Round(n*scale) / scale
	if digits <= 0 {
		return cell.Integer(int64(rounded)), nil
	}
	return cell.Number(rounded), nil
}

func builtinAbs(args []cell.Value) (cell.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("abs takes 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case cell.Integer:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	}
	n, ok := toNumber(args[0])
	if !ok {
		return nil, fmt.Errorf("abs requires a numeric value, got %s", kindOf(args[0]))
	}
	return cell.Number(math.Abs(n)), nil
}
