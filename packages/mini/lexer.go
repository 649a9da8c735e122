package mini

// TokenType represents different types of tokens in mini expressions
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenIdentifier
	TokenOperator
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenError
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charBackslash  = '\\'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
)

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Pos   int // byte offset in the code
}

// Lexer tokenizes mini expressions. positions are byte offsets so that
// they line up with the transpiled cell source.
type Lexer struct {
	input string
	pos   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns every token up to and including EOF, or the first
// lexical error
func (l *Lexer) Tokenize() ([]Token, *SyntaxError) {
	var tokens []Token
	for {
		tok := l.nextToken()
		if tok.Type == TokenError {
			return nil, &SyntaxError{Message: tok.Value, Pos: tok.Pos}
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charPlus, charMinus, charAsterisk, charSlash, charCaret, charAmpersand:
		l.pos++
		return Token{Type: TokenOperator, Value: string(ch), Pos: startPos}
	case charEqual, charLess, charGreater, charExclaim:
		return l.scanComparison()
	}

	if isAlpha(ch) || ch == charUnderscore {
		return l.scanIdentifier()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

func (l *Lexer) current() byte {
	if l.pos >= len(l.input) {
		return charNull
	}
	return l.input[l.pos]
}

func (l *Lexer) peek(offset int) byte {
	pos := l.pos + offset
	if pos >= len(l.input) || pos < 0 {
		return charNull
	}
	return l.input[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.current()
		if ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn {
			l.pos++
		} else {
			break
		}
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isAlpha(ch) || isDigit(ch) || ch == charUnderscore
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod && isDigit(l.peek(1)) {
		l.pos++ // consume '.'
		for isDigit(l.current()) {
			l.pos++
		}
	}

	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			// not scientific notation, restore position
			l.pos = savedPos
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	if isAlpha(l.current()) || l.current() == charUnderscore {
		return Token{Type: TokenError, Value: "invalid number: " + l.input[startPos:l.pos+1], Pos: startPos}
	}
	return Token{Type: TokenNumber, Value: l.input[startPos:l.pos], Pos: startPos}
}

// scanString scans a double-quoted string. a doubled quote or a backslash
// escapes the next quote.
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++ // consume opening quote

	var result []byte
	for l.pos < len(l.input) {
		ch := l.current()
		switch {
		case ch == charBackslash && l.peek(1) != charNull:
			result = append(result, l.peek(1))
			l.pos += 2
		case ch == charQuote && l.peek(1) == charQuote:
			result = append(result, charQuote)
			l.pos += 2
		case ch == charQuote:
			l.pos++
			return Token{Type: TokenString, Value: string(result), Pos: startPos}
		default:
			result = append(result, ch)
			l.pos++
		}
	}
	return Token{Type: TokenError, Value: "unclosed string literal", Pos: startPos}
}

// scanIdentifier scans identifiers and booleans
func (l *Lexer) scanIdentifier() Token {
	startPos := l.pos
	for isIdentChar(l.current()) {
		l.pos++
	}
	value := l.input[startPos:l.pos]
	switch value {
	case "true", "TRUE", "false", "FALSE":
		return Token{Type: TokenBoolean, Value: value, Pos: startPos}
	}
	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// scanComparison scans = == != <> < <= > >=
func (l *Lexer) scanComparison() Token {
	startPos := l.pos
	ch := l.current()
	next := l.peek(1)

	two := string([]byte{ch, next})
	switch two {
	case "==", "!=", "<>", "<=", ">=":
		l.pos += 2
		return Token{Type: TokenOperator, Value: two, Pos: startPos}
	}
	if ch == charExclaim {
		l.pos++
		return Token{Type: TokenError, Value: "unexpected '!'", Pos: startPos}
	}
	l.pos++
	return Token{Type: TokenOperator, Value: string(ch), Pos: startPos}
}
