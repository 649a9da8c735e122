package cell

import (
	"regexp"
	"slices"
	"strings"
)

// cellRefPattern matches A1 or A1:B3 at the start of the input
var cellRefPattern = regexp.MustCompile(`^([A-Z]{1,3})([1-9][0-9]*)(?::([A-Z]{1,3})([1-9][0-9]*))?`)

// identPattern matches an identifier at the start of the input
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)

// Transpile finds sheet references (A1, A1:B3) and scoped references
// (Sheet1!A1, 'My sheet'!A1:B2, doc!x) in source and replaces each with a
// mangled identifier of the same byte length. plain variables are left for
// the language context to discover. text inside double quoted strings is
// ignored.
func Transpile(source string) (string, []*Symbol) {
	var symbols []*Symbol
	for i := 0; i < len(source); {
		ch := source[i]
		switch {
		case ch == '"':
			i = skipString(source, i)
		case ch == '\'':
			sym, end := scanQuotedScope(source, i)
			if sym == nil {
				i++
				continue
			}
			symbols = append(symbols, sym)
			i = end
		case isIdentByte(ch) && (i == 0 || !isIdentByte(source[i-1])):
			sym, end := scanReference(source, i)
			if sym != nil {
				symbols = append(symbols, sym)
			}
			i = end
		default:
			i++
		}
	}
	return MangleSource(source, symbols), symbols
}

// MangleSource replaces the span of every symbol with its mangled form
func MangleSource(source string, symbols []*Symbol) string {
	if len(symbols) == 0 {
		return source
	}
	b := []byte(source)
	for _, sym := range symbols {
		if sym.Start < 0 || sym.End > len(b) || sym.End-sym.Start != len(sym.Mangled) {
			continue
		}
		copy(b[sym.Start:sym.End], sym.Mangled)
	}
	return string(b)
}

// RewriteSource regenerates the text of every symbol with a span in source
// and moves the spans of the symbols that follow. it is used after a
// structural edit changed the symbols in place.
func RewriteSource(source string, symbols []*Symbol) string {
	ordered := make([]*Symbol, 0, len(symbols))
	for _, sym := range symbols {
		if sym.End > sym.Start && sym.End <= len(source) {
			ordered = append(ordered, sym)
		}
	}
	slices.SortFunc(ordered, func(a, b *Symbol) int { return a.Start - b.Start })

	var sb strings.Builder
	prev := 0
	for _, sym := range ordered {
		if sym.Start < prev {
			continue
		}
		sb.WriteString(source[prev:sym.Start])
		prev = sym.End
		text := sym.Text()
		sym.Start = sb.Len()
		sb.WriteString(text)
		sym.End = sb.Len()
		sym.Mangled = Mangle(text)
	}
	sb.WriteString(source[prev:])
	return sb.String()
}

// MaskSymbols blanks the span of every symbol in source, leaving the text
// that was not rewritten by Transpile
func MaskSymbols(source string, symbols []*Symbol) string {
	b := []byte(source)
	for _, sym := range symbols {
		if sym.Start < 0 || sym.End > len(b) || sym.Start > sym.End {
			continue
		}
		for i := sym.Start; i < sym.End; i++ {
			b[i] = ' '
		}
	}
	return string(b)
}

// HasIdentifier reports whether name is written as a whole word in source,
// outside of double quoted strings
func HasIdentifier(source, name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(source); {
		switch {
		case source[i] == '"':
			i = skipString(source, i)
		case isIdentByte(source[i]) && (i == 0 || !isIdentByte(source[i-1])):
			j := i
			for j < len(source) && isIdentByte(source[j]) {
				j++
			}
			if source[i:j] == name {
				return true
			}
			i = j
		default:
			i++
		}
	}
	return false
}

func skipString(source string, i int) int {
	for j := i + 1; j < len(source); j++ {
		switch source[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(source)
}

// scanQuotedScope handles 'Sheet name'!target
func scanQuotedScope(source string, i int) (*Symbol, int) {
	closing := strings.IndexByte(source[i+1:], '\'')
	if closing < 0 {
		return nil, i + 1
	}
	bang := i + 1 + closing + 1
	if bang >= len(source) || source[bang] != '!' {
		return nil, i + 1
	}
	sym, end := scanTarget(source, bang+1)
	if sym == nil {
		return nil, i + 1
	}
	sym.Scope = source[i+1 : i+1+closing]
	sym.Start = i
	sym.Mangled = Mangle(source[i:end])
	return sym, end
}

// scanReference handles an identifier-like word: a scope followed by '!',
// a cell or range reference, or anything else which is skipped
func scanReference(source string, i int) (*Symbol, int) {
	word := identPattern.FindString(source[i:])
	if word == "" {
		// a word starting with a digit
		j := i
		for j < len(source) && isIdentByte(source[j]) {
			j++
		}
		return nil, j
	}
	end := i + len(word)
	if end < len(source) && source[end] == '!' {
		sym, targetEnd := scanTarget(source, end+1)
		if sym == nil {
			return nil, end
		}
		sym.Scope = word
		sym.Start = i
		sym.Mangled = Mangle(source[i:targetEnd])
		return sym, targetEnd
	}
	if sym, refEnd := scanCellRef(source, i); sym != nil {
		return sym, refEnd
	}
	return nil, end
}

// scanTarget parses what follows a scope: a cell, a range or a variable
func scanTarget(source string, i int) (*Symbol, int) {
	if sym, end := scanCellRef(source, i); sym != nil {
		return sym, end
	}
	name := identPattern.FindString(source[i:])
	if name == "" {
		return nil, i
	}
	end := i + len(name)
	return &Symbol{Kind: SymbolVar, Name: name, Start: i, End: end, Mangled: name}, end
}

// scanCellRef parses A1 or A1:B3. a match followed by more identifier
// characters or an opening parenthesis is not a reference (LOG10(...)).
func scanCellRef(source string, i int) (*Symbol, int) {
	m := cellRefPattern.FindStringSubmatchIndex(source[i:])
	if m == nil {
		return nil, i
	}
	end := i + m[1]
	if end < len(source) && (isIdentByte(source[end]) || source[end] == '(') {
		return nil, i
	}

	// a row number too large to parse is left as plain text
	text := source[i:end]
	row, col, ok := ParseAddress(text[m[2]:m[5]])
	if !ok {
		return nil, i
	}
	var sym *Symbol
	if m[6] >= 0 {
		endRow, endCol, ok := ParseAddress(text[m[6]:m[9]])
		if !ok {
			return nil, i
		}
		sym = NewRangeSymbol("", row, col, endRow, endCol)
	} else {
		sym = NewCellSymbol("", row, col)
	}
	sym.Start = i
	sym.End = end
	// the name is normalised (B3:A1 -> A1:B3), the mangled form follows the
	// written text so that it keeps the span length
	sym.Mangled = Mangle(text)
	return sym, end
}
