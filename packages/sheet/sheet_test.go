package sheet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/engine"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New()
	t.Cleanup(e.Close)
	return e
}

func newTestSheet(t *testing.T, e *engine.Engine, name string, rows, cols int) *Sheet {
	t.Helper()
	s, err := New(e, name, rows, cols)
	require.NoError(t, err)
	return s
}

func settle(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.RunUntilIdle(ctx))
}

func set(t *testing.T, s *Sheet, address, source string) cell.ID {
	t.Helper()
	id, err := s.Set(address, source)
	require.NoError(t, err)
	return id
}

func cellAt(t *testing.T, s *Sheet, address string) *cell.Cell {
	t.Helper()
	row, col, ok := ParseAddress(address)
	require.True(t, ok, address)
	c, ok := s.Cell(row, col)
	require.True(t, ok, "no cell at %s", address)
	return c
}

func requireOK(t *testing.T, c *cell.Cell) {
	t.Helper()
	require.Equal(t, cell.StatusOK, c.Status, "%s: %v", c.ID, c.Errors)
}

func TestSheetFormulas(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 10, 5)

	set(t, s, "A1", "1")
	set(t, s, "A2", "2")
	set(t, s, "A3", "3.5")
	set(t, s, "B1", "=sum(A1:A3)")
	set(t, s, "B2", "=A1 * 10")
	set(t, s, "B3", `=concat("n=", A2)`)
	set(t, s, "C1", "hello")
	settle(t, e)

	cases := map[string]cell.Value{
		"A1": cell.Integer(1),
		"A3": cell.Number(3.5),
		"B1": cell.Number(6.5),
		"B2": cell.Integer(10),
		"B3": cell.String("n=2"),
		"C1": cell.String("hello"),
	}
	for address, want := range cases {
		c := cellAt(t, s, address)
		requireOK(t, c)
		assert.Equal(t, want, c.Value, address)
	}

	set(t, s, "A1", "4")
	settle(t, e)
	assert.Equal(t, cell.Number(9.5), cellAt(t, s, "B1").Value)
	assert.Equal(t, cell.Integer(40), cellAt(t, s, "B2").Value)
}

func TestSheetEmptyPositionsReadAsNull(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	set(t, s, "B1", "=len(A1:A3)")
	set(t, s, "B2", "=A1")
	settle(t, e)

	requireOK(t, cellAt(t, s, "B1"))
	assert.Equal(t, cell.Integer(3), cellAt(t, s, "B1").Value)
	assert.Equal(t, cell.Null{}, cellAt(t, s, "B2").Value)

	set(t, s, "A1", "7")
	settle(t, e)
	assert.Equal(t, cell.Integer(7), cellAt(t, s, "B2").Value)
}

func TestSheetClearCell(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	id := set(t, s, "A1", "5")
	set(t, s, "B1", "=A1 + 1")
	settle(t, e)
	assert.Equal(t, cell.Integer(6), cellAt(t, s, "B1").Value)

	require.NoError(t, s.ClearCell(0, 0))
	settle(t, e)
	_, exists := e.Graph().Cell(id)
	assert.False(t, exists)
	_, ok := s.CellID(0, 0)
	assert.False(t, ok)
	assert.Equal(t, cell.Integer(1), cellAt(t, s, "B1").Value)
}

func TestSheetSetCellSwitchesLanguage(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	id := set(t, s, "A1", "5")
	settle(t, e)
	assert.Equal(t, ConstantLanguage, cellAt(t, s, "A1").Language)

	again := set(t, s, "A1", "=2 + 3")
	settle(t, e)
	assert.Equal(t, id, again)
	c := cellAt(t, s, "A1")
	requireOK(t, c)
	assert.Equal(t, "mini", c.Language)
	assert.Equal(t, cell.Integer(5), c.Value)
	assert.Equal(t, []cell.ID{id}, s.Cells())
}

func TestSheetInsertRowsShiftsReferences(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 10, 5)

	a1 := set(t, s, "A1", "1")
	a2 := set(t, s, "A2", "2")
	a3 := set(t, s, "A3", "3")
	total := set(t, s, "D4", "=sum(A1:A3)")
	settle(t, e)
	assert.Equal(t, cell.Integer(6), cellAt(t, s, "D4").Value)

	require.NoError(t, s.InsertRows(1, 2))
	settle(t, e)

	rows, _ := s.Size()
	assert.Equal(t, 12, rows)
	for address, id := range map[string]cell.ID{"A1": a1, "A4": a2, "A5": a3, "D6": total} {
		c := cellAt(t, s, address)
		assert.Equal(t, id, c.ID, address)
	}
	moved := cellAt(t, s, "D6")
	requireOK(t, moved)
	assert.Equal(t, "=sum(A1:A5)", moved.Source)
	assert.Equal(t, "=sum(A1_A5)", moved.Transpiled)
	assert.Equal(t, 5, moved.Row)
	assert.Equal(t, 3, moved.Col)
	assert.Equal(t, cell.Integer(6), moved.Value)

	// the grown range covers the inserted rows
	set(t, s, "A2", "10")
	settle(t, e)
	assert.Equal(t, cell.Integer(16), cellAt(t, s, "D6").Value)
}

func TestSheetDeleteRowsBreaksReferences(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	set(t, s, "A1", "1")
	a2 := set(t, s, "A2", "2")
	set(t, s, "B1", "=A2 * 2")
	settle(t, e)
	assert.Equal(t, cell.Integer(4), cellAt(t, s, "B1").Value)

	require.NoError(t, s.DeleteRows(1, 1))
	settle(t, e)

	_, exists := e.Graph().Cell(a2)
	assert.False(t, exists)
	c := cellAt(t, s, "B1")
	assert.Equal(t, "=#REF! * 2", c.Source)
	assert.Equal(t, cell.StatusBroken, c.Status)
	assert.True(t, c.HasErrorKind(cell.ErrorUnresolved))
}

func TestSheetDeleteRowsTrimsRange(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 6, 3)

	for i, v := range []string{"1", "2", "3", "4"} {
		_, err := s.SetCell(i, 0, v)
		require.NoError(t, err)
	}
	set(t, s, "B1", "=sum(A1:A4)")
	set(t, s, "C6", "=A4")
	settle(t, e)
	assert.Equal(t, cell.Integer(10), cellAt(t, s, "B1").Value)

	require.NoError(t, s.DeleteRows(1, 1))
	settle(t, e)

	b1 := cellAt(t, s, "B1")
	requireOK(t, b1)
	assert.Equal(t, "=sum(A1:A3)", b1.Source)
	assert.Equal(t, cell.Integer(8), b1.Value)

	c5 := cellAt(t, s, "C5")
	requireOK(t, c5)
	assert.Equal(t, "=A3", c5.Source)
	assert.Equal(t, cell.Integer(4), c5.Value)
}

func TestSheetInsertColsAcrossSheets(t *testing.T) {
	e := newTestEngine(t)
	prices := newTestSheet(t, e, "Prices", 5, 5)
	summary := newTestSheet(t, e, "Summary", 5, 5)

	set(t, prices, "B2", "3")
	set(t, summary, "A1", "=Prices!B2 * 2")
	set(t, summary, "A2", "=B2")
	settle(t, e)
	requireOK(t, cellAt(t, summary, "A1"))
	assert.Equal(t, cell.Integer(6), cellAt(t, summary, "A1").Value)

	require.NoError(t, prices.InsertCols(0, 1))
	settle(t, e)

	a1 := cellAt(t, summary, "A1")
	requireOK(t, a1)
	assert.Equal(t, "=Prices!C2 * 2", a1.Source)
	assert.Equal(t, cell.Integer(6), a1.Value)
	// unscoped references stay within their own sheet
	assert.Equal(t, "=B2", cellAt(t, summary, "A2").Source)
}

func TestSheetReadRange(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	set(t, s, "A1", "1")
	set(t, s, "B1", "2")
	set(t, s, "A2", "x")
	settle(t, e)

	assert.Equal(t, cell.Integer(2), s.ReadRange(cell.NewCellSymbol(s.ID(), 0, 1)))
	assert.Equal(t, cell.Null{}, s.ReadRange(cell.NewCellSymbol(s.ID(), 4, 4)))
	assert.Equal(t,
		cell.Array{cell.Integer(1), cell.String("x"), cell.Null{}},
		s.ReadRange(cell.NewRangeSymbol(s.ID(), 0, 0, 2, 0)))
	assert.Equal(t, cell.Table{Columns: []cell.Column{
		{Name: "A", Values: []cell.Value{cell.Integer(1), cell.String("x")}},
		{Name: "B", Values: []cell.Value{cell.Integer(2), cell.Null{}}},
	}}, s.ReadRange(cell.NewRangeSymbol(s.ID(), 0, 0, 1, 1)))
}

func TestSheetReferencesPastBounds(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	set(t, s, "A1", "42")
	set(t, s, "A5", "1")
	set(t, s, "C1", "=len(A1:A300000000)")
	set(t, s, "C2", "=sum(A1:B300000000)")
	set(t, s, "C3", "=A9")
	settle(t, e)

	requireOK(t, cellAt(t, s, "C1"))
	assert.Equal(t, cell.Integer(5), cellAt(t, s, "C1").Value)
	requireOK(t, cellAt(t, s, "C2"))
	assert.Equal(t, cell.Integer(43), cellAt(t, s, "C2").Value)
	requireOK(t, cellAt(t, s, "C3"))
	assert.Equal(t, cell.Null{}, cellAt(t, s, "C3").Value)

	assert.Equal(t, cell.Null{}, s.ReadRange(cell.NewRangeSymbol(s.ID(), 8, 0, 12, 3)))
	assert.Equal(t,
		cell.Array{cell.Null{}, cell.Null{}},
		s.ReadRange(cell.NewRangeSymbol(s.ID(), 0, 3, 0, 1000)))
}

func TestSheetOverflowingRowIsNotAReference(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 5, 5)

	set(t, s, "A1", "42")
	set(t, s, "B1", "=A99999999999999999999")
	settle(t, e)

	b1 := cellAt(t, s, "B1")
	assert.Equal(t, cell.StatusBroken, b1.Status)
	assert.True(t, b1.HasErrorKind(cell.ErrorUnresolved))
	assert.NotEqual(t, cell.Integer(42), b1.Value)
}

func TestSheetResolveCells(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 100, 100)

	a1 := set(t, s, "A1", "1")
	far := set(t, s, "BZ70", "2")
	set(t, s, "C3", "3")

	ids := s.ResolveCells(cell.NewRangeSymbol(s.ID(), 0, 0, 69, 77))
	assert.Len(t, ids, 3)
	assert.Equal(t, a1, ids[0])
	assert.Equal(t, far, ids[2])
	assert.Empty(t, s.ResolveCells(cell.NewCellSymbol("other", 0, 0)))
}

func TestSheetBounds(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSheet(t, e, "Sheet1", 3, 3)

	_, err := s.SetCell(3, 0, "1")
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = s.Set("not an address", "1")
	assert.ErrorIs(t, err, ErrInvalidArguments)
	assert.ErrorIs(t, s.InsertRows(4, 1), ErrInvalidArguments)
	assert.ErrorIs(t, s.InsertCols(0, 0), ErrInvalidArguments)
	assert.ErrorIs(t, s.DeleteRows(2, 2), ErrInvalidArguments)
	assert.ErrorIs(t, s.DeleteCols(0, 3), ErrInvalidArguments)

	_, err = New(e, "Sheet2", 0, 3)
	assert.ErrorIs(t, err, ErrInvalidArguments)
	_, err = New(e, "Sheet1", 3, 3)
	assert.ErrorIs(t, err, engine.ErrDocumentExists)
}

func TestSheetAutorunOff(t *testing.T) {
	e := newTestEngine(t)
	s, err := New(e, "Sheet1", 3, 3, WithAutorun(false), WithID("manual"))
	require.NoError(t, err)
	assert.Equal(t, "manual", s.ID())

	set(t, s, "A1", "2")
	b1 := set(t, s, "B1", "=A1 * 3")
	settle(t, e)
	assert.Equal(t, cell.StatusReady, cellAt(t, s, "A1").Status)
	assert.Equal(t, cell.StatusWaiting, cellAt(t, s, "B1").Status)

	require.NoError(t, e.Permit(b1))
	settle(t, e)
	assert.Equal(t, cell.Integer(6), cellAt(t, s, "B1").Value)
}

func TestParseConstant(t *testing.T) {
	cases := map[string]cell.Value{
		"":       cell.Null{},
		"  ":     cell.Null{},
		"42":     cell.Integer(42),
		"-7":     cell.Integer(-7),
		"2.5":    cell.Number(2.5),
		"1e3":    cell.Number(1000),
		"TRUE":   cell.Boolean(true),
		"false":  cell.Boolean(false),
		"Inf":    cell.String("Inf"),
		"NaN":    cell.String("NaN"),
		"0x10":   cell.String("0x10"),
		"hello":  cell.String("hello"),
		" text ": cell.String(" text "),
	}
	for text, want := range cases {
		assert.Equal(t, want, ParseConstant(text), "%q", text)
	}
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "A1", Address(0, 0))
	assert.Equal(t, "AB12", Address(11, 27))
	row, col, ok := ParseAddress(" c3 ")
	require.True(t, ok)
	assert.Equal(t, 2, row)
	assert.Equal(t, 2, col)
	_, _, ok = ParseAddress("3C")
	assert.False(t, ok)
}
