package mini

import (
	"math"
	"strconv"
	"strings"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// scope is what an expression is evaluated against
type scope struct {
	inputs map[string]cell.Value
}

func applyBinary(op BinaryOp, left, right cell.Value, pos NodePosition) (cell.Value, error) {
	switch op {
	case BinOpAdd, BinOpSubtract, BinOpMultiply:
		if l, ok := toInteger(left); ok {
			if r, ok := toInteger(right); ok {
				switch op {
				case BinOpAdd:
					return cell.Integer(l + r), nil
				case BinOpSubtract:
					return cell.Integer(l - r), nil
				default:
					return cell.Integer(l * r), nil
				}
			}
		}
		l, r, err := numericOperands(op, left, right, pos)
		if err != nil {
			return nil, err
		}
		switch op {
		case BinOpAdd:
			return cell.Number(l + r), nil
		case BinOpSubtract:
			return cell.Number(l - r), nil
		default:
			return cell.Number(l * r), nil
		}

	case BinOpDivide:
		l, r, err := numericOperands(op, left, right, pos)
		if err != nil {
			return nil, err
		}
		if r == 0 {
			return nil, newEvalError(pos, "division by zero")
		}
		return cell.Number(l / r), nil

	case BinOpPower:
		l, r, err := numericOperands(op, left, right, pos)
		if err != nil {
			return nil, err
		}
		return cell.Number(math.Pow(l, r)), nil

	case BinOpConcat:
		return cell.String(toString(left) + toString(right)), nil

	case BinOpEqual, BinOpNotEqual:
		cmp, ok := compareValues(left, right)
		equal := ok && cmp == 0
		if op == BinOpEqual {
			return cell.Boolean(equal), nil
		}
		return cell.Boolean(!equal), nil

	case BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		cmp, ok := compareValues(left, right)
		if !ok {
			return nil, newEvalError(pos, "cannot compare %s with %s", kindOf(left), kindOf(right))
		}
		switch op {
		case BinOpLess:
			return cell.Boolean(cmp < 0), nil
		case BinOpLessEqual:
			return cell.Boolean(cmp <= 0), nil
		case BinOpGreater:
			return cell.Boolean(cmp > 0), nil
		default:
			return cell.Boolean(cmp >= 0), nil
		}
	}
	return nil, newEvalError(pos, "unknown operator")
}

func numericOperands(op BinaryOp, left, right cell.Value, pos NodePosition) (float64, float64, error) {
	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		return 0, 0, newEvalError(pos, "%s requires numeric values, got %s and %s", binaryOpText[op], kindOf(left), kindOf(right))
	}
	return l, r, nil
}

func applyUnary(op UnaryOp, value cell.Value, pos NodePosition) (cell.Value, error) {
	if i, ok := toInteger(value); ok {
		if op == UnaryOpMinus {
			return cell.Integer(-i), nil
		}
		return cell.Integer(i), nil
	}
	n, ok := toNumber(value)
	if !ok {
		return nil, newEvalError(pos, "unary operator requires a numeric value, got %s", kindOf(value))
	}
	if op == UnaryOpMinus {
		return cell.Number(-n), nil
	}
	return cell.Number(n), nil
}

// toInteger accepts integers and null, which counts as zero
func toInteger(value cell.Value) (int64, bool) {
	switch v := value.(type) {
	case cell.Integer:
		return int64(v), true
	case cell.Null, nil:
		return 0, true
	default:
		return 0, false
	}
}

// toNumber converts value to number, returning ok=false if conversion fails
func toNumber(value cell.Value) (float64, bool) {
	switch v := value.(type) {
	case cell.Number:
		return float64(v), true
	case cell.Integer:
		return float64(v), true
	case cell.Boolean:
		if v {
			return 1, true
		}
		return 0, true
	case cell.String:
		num, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case cell.Null, nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to string
func toString(value cell.Value) string {
	switch v := value.(type) {
	case nil, cell.Null:
		return ""
	case cell.String:
		return string(v)
	default:
		return cell.FormatValue(v)
	}
}

// isTruthy checks if value is truthy
func isTruthy(value cell.Value) bool {
	switch v := value.(type) {
	case cell.Boolean:
		return bool(v)
	case cell.Integer:
		return v != 0
	case cell.Number:
		return v != 0
	case cell.String:
		return v != ""
	case cell.Array:
		return len(v) > 0
	case cell.Null, nil:
		return false
	default:
		return true
	}
}

// compareValues compares two values. ok is false when they are not
// comparable.
func compareValues(left, right cell.Value) (cmp int, ok bool) {
	_, leftNull := left.(cell.Null)
	_, rightNull := right.(cell.Null)
	if (left == nil || leftNull) && (right == nil || rightNull) {
		return 0, true
	}

	if isNumeric(left) && isNumeric(right) {
		l, _ := toNumber(left)
		r, _ := toNumber(right)
		switch {
		case l < r:
			return -1, true
		case l > r:
			return 1, true
		}
		return 0, true
	}

	if l, lok := left.(cell.Boolean); lok {
		if r, rok := right.(cell.Boolean); rok {
			switch {
			case l == r:
				return 0, true
			case !bool(l):
				return -1, true
			}
			return 1, true
		}
	}

	if l, lok := left.(cell.String); lok {
		if r, rok := right.(cell.String); rok {
			return strings.Compare(string(l), string(r)), true
		}
	}
	return 0, false
}

func isNumeric(value cell.Value) bool {
	switch value.(type) {
	case cell.Integer, cell.Number:
		return true
	}
	return false
}

func kindOf(value cell.Value) string {
	if value == nil {
		return cell.KindNull.String()
	}
	return value.Kind().String()
}
