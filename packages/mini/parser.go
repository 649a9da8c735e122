package mini

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

type NodePosition struct {
	Start int
	End   int
}

// Node is an expression in the AST. evaluation works on cell values so
// results can be handed to the engine unchanged.
type Node interface {
	Eval(s *scope) (cell.Value, error)
	GetPosition() NodePosition
	ToString() string
}

// Program is a parsed mini cell: an optional assignment target and an
// expression
type Program struct {
	Target string
	Expr   Node
	// free identifiers in order of first use, function names excluded
	Inputs []string
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "==",
	BinOpNotEqual:     "!=",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
)

// IntegerNode represents an integer literal
type IntegerNode struct {
	Value    int64
	Position NodePosition
}

func (n *IntegerNode) Eval(*scope) (cell.Value, error) {
	return cell.Integer(n.Value), nil
}

func (n *IntegerNode) GetPosition() NodePosition {
	return n.Position
}

func (n *IntegerNode) ToString() string {
	return strconv.FormatInt(n.Value, 10)
}

// NumberNode represents a floating point literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) Eval(*scope) (cell.Value, error) {
	return cell.Number(n.Value), nil
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) Eval(*scope) (cell.Value, error) {
	return cell.String(n.Value), nil
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	return strconv.Quote(n.Value)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) Eval(*scope) (cell.Value, error) {
	return cell.Boolean(n.Value), nil
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	return strconv.FormatBool(n.Value)
}

// IdentifierNode reads an input by name
type IdentifierNode struct {
	Name     string
	Position NodePosition
}

func (n *IdentifierNode) Eval(s *scope) (cell.Value, error) {
	value, ok := s.inputs[n.Name]
	if !ok {
		return nil, newEvalError(n.Position, "undefined variable %s", n.Name)
	}
	if value == nil {
		return cell.Null{}, nil
	}
	return value, nil
}

func (n *IdentifierNode) GetPosition() NodePosition {
	return n.Position
}

func (n *IdentifierNode) ToString() string {
	return n.Name
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     Node
	Right    Node
	Position NodePosition
}

func (n *BinaryOpNode) Eval(s *scope) (cell.Value, error) {
	left, err := n.Left.Eval(s)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.Eval(s)
	if err != nil {
		return nil, err
	}
	return applyBinary(n.Op, left, right, n.Position)
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), binaryOpText[n.Op], n.Right.ToString())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  Node
	Position NodePosition
}

func (n *UnaryOpNode) Eval(s *scope) (cell.Value, error) {
	value, err := n.Operand.Eval(s)
	if err != nil {
		return nil, err
	}
	return applyUnary(n.Op, value, n.Position)
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	if n.Op == UnaryOpMinus {
		return "-" + n.Operand.ToString()
	}
	return "+" + n.Operand.ToString()
}

// FunctionCallNode represents a builtin call
type FunctionCallNode struct {
	Name     string
	Args     []Node
	Position NodePosition
}

func (n *FunctionCallNode) Eval(s *scope) (cell.Value, error) {
	// if only evaluates the branch it takes
	if strings.EqualFold(n.Name, "if") {
		return n.evalIf(s)
	}

	args := make([]cell.Value, len(n.Args))
	for i, argNode := range n.Args {
		value, err := argNode.Eval(s)
		if err != nil {
			return nil, err
		}
		args[i] = value
	}
	result, err := callBuiltin(n.Name, args)
	if err != nil {
		return nil, newEvalError(n.Position, "%s", err.Error())
	}
	return result, nil
}

func (n *FunctionCallNode) evalIf(s *scope) (cell.Value, error) {
	if len(n.Args) < 2 || len(n.Args) > 3 {
		return nil, newEvalError(n.Position, "if takes 2 or 3 arguments, got %d", len(n.Args))
	}
	cond, err := n.Args[0].Eval(s)
	if err != nil {
		return nil, err
	}
	if isTruthy(cond) {
		return n.Args[1].Eval(s)
	}
	if len(n.Args) == 3 {
		return n.Args[2].Eval(s)
	}
	return cell.Null{}, nil
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses a mini cell: "name = expr", "= expr" or a bare expression
func Parse(code string) (*Program, error) {
	tokens, lexErr := NewLexer(code).Tokenize()
	if lexErr != nil {
		return nil, lexErr
	}
	p := &Parser{tokens: tokens}
	program := &Program{}

	switch {
	case p.isOperator(0, "="):
		p.pos++
	case p.tokens[0].Type == TokenIdentifier && p.isOperator(1, "="):
		program.Target = p.tokens[0].Value
		p.pos += 2
	}

	if p.current().Type == TokenEOF {
		return nil, &SyntaxError{Message: "empty expression", Pos: p.current().Pos}
	}
	expr, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, &SyntaxError{Message: "unexpected token after expression: " + tok.Value, Pos: tok.Pos}
	}

	program.Expr = expr
	program.Inputs = freeIdentifiers(expr)
	return program, nil
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *Parser) isOperator(offset int, value string) bool {
	pos := p.pos + offset
	return pos < len(p.tokens) && p.tokens[pos].Type == TokenOperator && p.tokens[pos].Value == value
}

func (p *Parser) binary(op BinaryOp, left, right Node) Node {
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.current()
		if tok.Type != TokenOperator {
			return left, nil
		}

		var op BinaryOp
		switch tok.Value {
		case "=", "==":
			op = BinOpEqual
		case "!=", "<>":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parseConcatenation handles the string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for p.isOperator(0, "&") {
		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = p.binary(BinOpConcat, left, right)
	}
	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		var op BinaryOp
		switch {
		case p.isOperator(0, "+"):
			op = BinOpAdd
		case p.isOperator(0, "-"):
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for {
		var op BinaryOp
		switch {
		case p.isOperator(0, "*"):
			op = BinOpMultiply
		case p.isOperator(0, "/"):
			op = BinOpDivide
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if p.isOperator(0, "^") {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return p.binary(BinOpPower, left, right), nil
	}
	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (Node, error) {
	tok := p.current()
	if p.isOperator(0, "-") || p.isOperator(0, "+") {
		op := UnaryOpPlus
		if tok.Value == "-" {
			op = UnaryOpMinus
		}
		p.pos++
		operand, err := p.parseUnary() // recurse for chained unary operators
		if err != nil {
			return nil, err
		}
		return &UnaryOpNode{
			Op:       op,
			Operand:  operand,
			Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
		}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles literals, identifiers, calls and parentheses
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()
	end := tok.Pos + len(tok.Value)

	switch tok.Type {
	case TokenNumber:
		p.pos++
		if !strings.ContainsAny(tok.Value, ".eE") {
			if val, err := strconv.ParseInt(tok.Value, 10, 64); err == nil {
				return &IntegerNode{Value: val, Position: NodePosition{Start: tok.Pos, End: end}}, nil
			}
		}
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, &SyntaxError{Message: "invalid number: " + tok.Value, Pos: tok.Pos}
		}
		return &NumberNode{Value: val, Position: NodePosition{Start: tok.Pos, End: end}}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value, Position: NodePosition{Start: tok.Pos, End: p.current().Pos}}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{
			Value:    strings.EqualFold(tok.Value, "true"),
			Position: NodePosition{Start: tok.Pos, End: end},
		}, nil

	case TokenIdentifier:
		p.pos++
		if p.current().Type == TokenLeftParen {
			return p.parseFunctionCall(tok)
		}
		return &IdentifierNode{Name: tok.Value, Position: NodePosition{Start: tok.Pos, End: end}}, nil

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.current().Type != TokenRightParen {
			return nil, &SyntaxError{Message: "expected closing parenthesis", Pos: p.current().Pos}
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, &SyntaxError{Message: "unexpected end of expression", Pos: tok.Pos}

	default:
		return nil, &SyntaxError{Message: "unexpected token: " + tok.Value, Pos: tok.Pos}
	}
}

// parseFunctionCall parses the argument list after a function name
func (p *Parser) parseFunctionCall(name Token) (Node, error) {
	p.pos++ // consume '('
	args := []Node{}

	if p.current().Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{
			Name:     name.Value,
			Args:     args,
			Position: NodePosition{Start: name.Pos, End: p.tokens[p.pos-1].Pos + 1},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.current()
		if tok.Type == TokenRightParen {
			p.pos++
			break
		}
		if tok.Type != TokenComma {
			return nil, &SyntaxError{Message: "expected ',' or ')' in function arguments", Pos: tok.Pos}
		}
		p.pos++
	}

	return &FunctionCallNode{
		Name:     name.Value,
		Args:     args,
		Position: NodePosition{Start: name.Pos, End: p.tokens[p.pos-1].Pos + 1},
	}, nil
}

// freeIdentifiers lists identifiers read by an expression in order of
// first use
func freeIdentifiers(root Node) []string {
	var names []string
	seen := make(map[string]struct{})
	var walk func(Node)
	walk = func(n Node) {
		switch node := n.(type) {
		case *IdentifierNode:
			if _, ok := seen[node.Name]; !ok {
				seen[node.Name] = struct{}{}
				names = append(names, node.Name)
			}
		case *BinaryOpNode:
			walk(node.Left)
			walk(node.Right)
		case *UnaryOpNode:
			walk(node.Operand)
		case *FunctionCallNode:
			for _, arg := range node.Args {
				walk(arg)
			}
		}
	}
	walk(root)
	return names
}
