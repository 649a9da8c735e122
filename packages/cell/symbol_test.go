package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnLetters(t *testing.T) {
	cases := map[int]string{0: "A", 25: "Z", 26: "AA", 27: "AB", 701: "ZZ", 702: "AAA"}
	for col, letters := range cases {
		assert.Equal(t, letters, ColumnLetters(col))
		index, ok := ColumnIndex(letters)
		assert.True(t, ok)
		assert.Equal(t, col, index)
	}
}

func TestParseAddress(t *testing.T) {
	row, col, ok := ParseAddress("C12")
	assert.True(t, ok)
	assert.Equal(t, 11, row)
	assert.Equal(t, 2, col)

	for _, bad := range []string{"", "A", "12", "A0", "A-1", "1A"} {
		_, _, ok := ParseAddress(bad)
		assert.False(t, ok, bad)
	}
}

func TestShiftRowsInsertGrowsRange(t *testing.T) {
	sym := NewRangeSymbol("s", 0, 0, 2, 0)

	changed := sym.ShiftRows(1, 2)

	assert.True(t, changed)
	assert.Equal(t, "A1:A5", sym.Name)
	assert.Equal(t, 0, sym.StartRow)
	assert.Equal(t, 4, sym.EndRow)
}

func TestShiftRowsInsertAfterRangeIsNoop(t *testing.T) {
	sym := NewRangeSymbol("s", 0, 0, 2, 0)
	assert.False(t, sym.ShiftRows(3, 5))
	assert.Equal(t, "A1:A3", sym.Name)
}

func TestShiftRowsInsertMovesCell(t *testing.T) {
	sym := NewCellSymbol("s", 4, 1)
	assert.True(t, sym.ShiftRows(0, 1))
	assert.Equal(t, "B6", sym.Name)
	assert.Equal(t, "B6", sym.Mangled)
}

// deleting rows trims a partially overlapping range to its surviving rows
// and breaks a reference that is deleted entirely
func TestShiftRowsDeletePolicy(t *testing.T) {
	tail := NewRangeSymbol("s", 1, 0, 5, 0) // A2:A6
	assert.True(t, tail.ShiftRows(4, -3))   // delete rows 5..7
	assert.Equal(t, "A2:A4", tail.Name)

	head := NewRangeSymbol("s", 1, 0, 5, 0)
	assert.True(t, head.ShiftRows(0, -3)) // delete rows 1..3
	assert.Equal(t, "A1:A3", head.Name)

	inner := NewRangeSymbol("s", 0, 0, 9, 0)
	assert.True(t, inner.ShiftRows(2, -2))
	assert.Equal(t, "A1:A8", inner.Name)

	swallowed := NewRangeSymbol("s", 2, 0, 3, 0)
	assert.True(t, swallowed.ShiftRows(1, -4))
	assert.Equal(t, SymbolBroken, swallowed.Kind)
	assert.Equal(t, BrokenRef, swallowed.Text())
	assert.Equal(t, "_REF_", swallowed.Mangled)

	single := NewCellSymbol("s", 3, 0)
	assert.True(t, single.ShiftRows(3, -1))
	assert.Equal(t, SymbolBroken, single.Kind)
}

func TestShiftColsKeepsScope(t *testing.T) {
	sym := NewCellSymbol("s2", 0, 1)
	sym.Scope = "My sheet"
	sym.refresh()

	assert.True(t, sym.ShiftCols(0, 1))
	assert.Equal(t, "'My sheet'!C1", sym.Text())
	assert.Equal(t, "_My_sheet__C1", sym.Mangled)
	assert.Equal(t, "s2!C1", sym.Key())
}

func TestContains(t *testing.T) {
	sym := NewRangeSymbol("s", 3, 2, 1, 0) // corners normalised to A2:C4
	assert.Equal(t, "A2:C4", sym.Name)
	assert.True(t, sym.Contains(1, 0))
	assert.True(t, sym.Contains(3, 2))
	assert.False(t, sym.Contains(0, 0))
	assert.False(t, NewVarSymbol("s", "x").Contains(0, 0))
}
