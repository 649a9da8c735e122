package cell

import (
	"strconv"
	"strings"
)

// SymbolKind tells how a symbol is resolved
type SymbolKind uint8

const (
	SymbolVar    SymbolKind = iota // a named output of another cell
	SymbolCell                     // a single sheet cell, e.g. A1
	SymbolRange                    // a rectangular sheet range, e.g. A1:B3
	SymbolBroken                   // a reference whose target was deleted
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolVar:
		return "var"
	case SymbolCell:
		return "cell"
	case SymbolRange:
		return "range"
	default:
		return "broken"
	}
}

// BrokenRef is the text of a reference whose target was deleted
const BrokenRef = "#REF!"

// Symbol is a reference found in a cell's source. Start and End are byte
// offsets of the full reference (scope included) in the source, rows and
// columns are zero-based and inclusive.
type Symbol struct {
	Kind     SymbolKind
	Name     string
	Scope    string
	DocID    string
	Start    int
	End      int
	Mangled  string
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

// NewVarSymbol creates a plain variable symbol in the given document
func NewVarSymbol(docID, name string) *Symbol {
	return &Symbol{
		Kind:    SymbolVar,
		Name:    name,
		DocID:   docID,
		Mangled: name,
	}
}

// NewCellSymbol creates a symbol for a single sheet cell
func NewCellSymbol(docID string, row, col int) *Symbol {
	s := &Symbol{Kind: SymbolCell, DocID: docID, StartRow: row, StartCol: col, EndRow: row, EndCol: col}
	s.refresh()
	return s
}

// NewRangeSymbol creates a range symbol, the corners are normalised
func NewRangeSymbol(docID string, startRow, startCol, endRow, endCol int) *Symbol {
	s := &Symbol{
		Kind:     SymbolRange,
		DocID:    docID,
		StartRow: min(startRow, endRow),
		StartCol: min(startCol, endCol),
		EndRow:   max(startRow, endRow),
		EndCol:   max(startCol, endCol),
	}
	s.refresh()
	return s
}

// Key is the index key of the symbol: "<docID>!<name>"
func (s *Symbol) Key() string {
	return s.DocID + "!" + s.Name
}

// Text regenerates the reference as it appears in source
func (s *Symbol) Text() string {
	if s.Kind == SymbolBroken || s.Scope == "" {
		return s.Name
	}
	return quoteScope(s.Scope) + "!" + s.Name
}

// IsPositional reports whether the symbol addresses sheet cells
func (s *Symbol) IsPositional() bool {
	return s.Kind == SymbolCell || s.Kind == SymbolRange
}

// Contains reports whether the sheet position lies within the symbol
func (s *Symbol) Contains(row, col int) bool {
	if !s.IsPositional() {
		return false
	}
	return row >= s.StartRow && row <= s.EndRow && col >= s.StartCol && col <= s.EndCol
}

// Size returns the number of rows and columns spanned
func (s *Symbol) Size() (rows, cols int) {
	if !s.IsPositional() {
		return 0, 0
	}
	return s.EndRow - s.StartRow + 1, s.EndCol - s.StartCol + 1
}

func (s *Symbol) Clone() *Symbol {
	clone := *s
	return &clone
}

// CloneSymbols deep copies a symbol list
func CloneSymbols(symbols []*Symbol) []*Symbol {
	if symbols == nil {
		return nil
	}
	result := make([]*Symbol, len(symbols))
	for i, s := range symbols {
		result[i] = s.Clone()
	}
	return result
}

// ShiftRows applies the insertion (count > 0) or deletion (count < 0) of
// rows at pos. it reports whether the symbol changed.
func (s *Symbol) ShiftRows(pos, count int) bool {
	if !s.IsPositional() || count == 0 {
		return false
	}
	start, end, ok := shiftBand(s.StartRow, s.EndRow, pos, count)
	if !ok {
		s.markBroken()
		return true
	}
	if start == s.StartRow && end == s.EndRow {
		return false
	}
	s.StartRow, s.EndRow = start, end
	s.refresh()
	return true
}

// ShiftCols is ShiftRows for columns
func (s *Symbol) ShiftCols(pos, count int) bool {
	if !s.IsPositional() || count == 0 {
		return false
	}
	start, end, ok := shiftBand(s.StartCol, s.EndCol, pos, count)
	if !ok {
		s.markBroken()
		return true
	}
	if start == s.StartCol && end == s.EndCol {
		return false
	}
	s.StartCol, s.EndCol = start, end
	s.refresh()
	return true
}

// shiftBand moves the inclusive interval [start, end] for a structural edit.
// a deletion that swallows the whole interval returns ok=false, one that
// overlaps it partially trims it to the surviving part.
func shiftBand(start, end, pos, count int) (int, int, bool) {
	if count > 0 {
		if start >= pos {
			start += count
		}
		if end >= pos {
			end += count
		}
		return start, end, true
	}

	n := -count
	last := pos + n - 1
	if start >= pos && end <= last {
		return 0, 0, false
	}
	switch {
	case start > last:
		start -= n
	case start >= pos:
		start = pos
	}
	switch {
	case end > last:
		end -= n
	case end >= pos:
		end = pos - 1
	}
	return start, end, true
}

func (s *Symbol) markBroken() {
	s.Kind = SymbolBroken
	s.Name = BrokenRef
	s.Scope = ""
	s.Mangled = Mangle(BrokenRef)
}

// refresh regenerates the name and mangled form from the bounds
func (s *Symbol) refresh() {
	switch s.Kind {
	case SymbolCell:
		s.Name = Address(s.StartRow, s.StartCol)
	case SymbolRange:
		s.Name = Address(s.StartRow, s.StartCol) + ":" + Address(s.EndRow, s.EndCol)
	}
	s.Mangled = Mangle(s.Text())
}

// Mangle turns reference text into an identifier of the same byte length
func Mangle(text string) string {
	b := []byte(text)
	for i, ch := range b {
		if !isIdentByte(ch) {
			b[i] = '_'
		}
	}
	return string(b)
}

// ColumnLetters converts a zero-based column index into letters (0 -> A,
// 26 -> AA)
func ColumnLetters(col int) string {
	result := ""
	for col++; col > 0; col /= 26 {
		col--
		result = string(rune('A'+col%26)) + result
	}
	return result
}

// ColumnIndex is the inverse of ColumnLetters
func ColumnIndex(letters string) (int, bool) {
	if letters == "" {
		return 0, false
	}
	col := 0
	for _, ch := range strings.ToUpper(letters) {
		if ch < 'A' || ch > 'Z' {
			return 0, false
		}
		col = col*26 + int(ch-'A') + 1
	}
	return col - 1, true
}

// Address formats a zero-based position as "A1"
func Address(row, col int) string {
	return ColumnLetters(col) + strconv.Itoa(row+1)
}

// ParseAddress parses "A1" into a zero-based row and column
func ParseAddress(address string) (row, col int, ok bool) {
	letterEnd := 0
	for letterEnd < len(address) && isLetter(address[letterEnd]) {
		letterEnd++
	}
	if letterEnd == 0 || letterEnd == len(address) {
		return 0, 0, false
	}
	col, ok = ColumnIndex(address[:letterEnd])
	if !ok {
		return 0, 0, false
	}
	rowNum, err := strconv.Atoi(address[letterEnd:])
	if err != nil || rowNum < 1 {
		return 0, 0, false
	}
	return rowNum - 1, col, true
}

func quoteScope(scope string) string {
	for i := 0; i < len(scope); i++ {
		if !isIdentByte(scope[i]) {
			return "'" + scope + "'"
		}
	}
	return scope
}

func isLetter(ch byte) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z'
}

func isIdentByte(ch byte) bool {
	return isLetter(ch) || ch >= '0' && ch <= '9' || ch == '_'
}
