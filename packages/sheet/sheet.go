package sheet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/engine"
	"github.com/vogtb/go-cellgraph/packages/mini"
)

var (
	ErrOutOfBounds      = errors.New("sheet: position out of bounds")
	ErrInvalidArguments = errors.New("sheet: invalid arguments")
)

// Sheet is a matrix of cells. formulas start with "=" and are mini code,
// everything else is a constant. cell and range references into the sheet
// are resolved and read by position.
type Sheet struct {
	engine  *engine.Engine
	id      string
	name    string
	rows    int
	cols    int
	autorun bool
	grid    *grid
}

// Option configures a Sheet
type Option func(*Sheet)

// WithID sets the document id instead of a generated one
func WithID(id string) Option {
	return func(s *Sheet) {
		if id != "" {
			s.id = id
		}
	}
}

// WithAutorun sets whether READY cells evaluate without a permit
func WithAutorun(autorun bool) Option {
	return func(s *Sheet) {
		s.autorun = autorun
	}
}

// New registers a sheet of rows x cols cells with the engine, along with
// the mini and constant contexts when they are missing
func New(e *engine.Engine, name string, rows, cols int, opts ...Option) (*Sheet, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidArguments)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidArguments, rows, cols)
	}
	s := &Sheet{
		engine:  e,
		id:      uuid.NewString(),
		name:    name,
		rows:    rows,
		cols:    cols,
		autorun: true,
		grid:    newGrid(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if strings.Contains(s.id, "!") {
		return nil, fmt.Errorf("%w: id %q contains '!'", ErrInvalidArguments, s.id)
	}
	if err := e.AddDocument(s); err != nil {
		return nil, fmt.Errorf("adding sheet %q: %w", name, err)
	}
	mini.Register(e)
	if !e.HasContext(ConstantLanguage) {
		e.RegisterContext(ConstantLanguage, engine.StaticContext(constantContext{}))
	}
	return s, nil
}

func (s *Sheet) ID() string       { return s.id }
func (s *Sheet) Name() string     { return s.name }
func (s *Sheet) Language() string { return mini.Language }
func (s *Sheet) Autorun() bool    { return s.autorun }

// Size returns the number of rows and columns
func (s *Sheet) Size() (rows, cols int) {
	return s.rows, s.cols
}

func (s *Sheet) checkBounds(row, col int) error {
	if row < 0 || col < 0 || row >= s.rows || col >= s.cols {
		return fmt.Errorf("%w: %s in %dx%d", ErrOutOfBounds, positionText(row, col), s.rows, s.cols)
	}
	return nil
}

// CellID returns the id of the cell at a position
func (s *Sheet) CellID(row, col int) (cell.ID, bool) {
	id := s.grid.get(row, col)
	return id, id != ""
}

// Cell returns the cell at a position
func (s *Sheet) Cell(row, col int) (*cell.Cell, bool) {
	id := s.grid.get(row, col)
	if id == "" {
		return nil, false
	}
	return s.engine.Graph().Cell(id)
}

// Value returns the last value of the cell at a position, null when the
// position is empty or the cell has not produced a value yet
func (s *Sheet) Value(row, col int) cell.Value {
	c, ok := s.Cell(row, col)
	if !ok || c.Value == nil {
		return cell.Null{}
	}
	return c.Value
}

// Cells returns the ids of all cells in row-major order
func (s *Sheet) Cells() []cell.ID {
	entries := s.grid.entries()
	ids := make([]cell.ID, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// SetCell sets the source of the cell at a position. an empty source
// clears the position. the cell keeps its id when it changes between a
// formula and a constant.
func (s *Sheet) SetCell(row, col int, source string) (cell.ID, error) {
	if err := s.checkBounds(row, col); err != nil {
		return "", err
	}
	existing := s.grid.get(row, col)
	if strings.TrimSpace(source) == "" {
		if existing == "" {
			return "", nil
		}
		s.grid.remove(row, col)
		if err := s.engine.RemoveCell(existing); err != nil {
			return "", err
		}
		return "", nil
	}

	language := languageOf(source)
	id := existing
	if existing != "" {
		c, ok := s.engine.Graph().Cell(existing)
		if ok && c.Language == language {
			if c.Source == source {
				return existing, nil
			}
			return existing, s.engine.UpdateCell(existing, source)
		}
		s.grid.remove(row, col)
		if err := s.engine.RemoveCell(existing); err != nil {
			return "", err
		}
	} else {
		id = cell.NewID(s.id, uuid.NewString())
	}

	c := cell.New(id, language, source)
	c.Row, c.Col = row, col
	if err := s.engine.AddCell(c); err != nil {
		return "", fmt.Errorf("setting %s: %w", positionText(row, col), err)
	}
	s.grid.set(row, col, id)
	return id, nil
}

// Set is SetCell addressed as "A1"
func (s *Sheet) Set(address, source string) (cell.ID, error) {
	row, col, ok := ParseAddress(address)
	if !ok {
		return "", fmt.Errorf("%w: address %q", ErrInvalidArguments, address)
	}
	return s.SetCell(row, col, source)
}

// ClearCell removes the cell at a position
func (s *Sheet) ClearCell(row, col int) error {
	_, err := s.SetCell(row, col, "")
	return err
}

func languageOf(source string) string {
	if strings.HasPrefix(strings.TrimLeft(source, " \t"), "=") {
		return mini.Language
	}
	return ConstantLanguage
}

// ResolveCells returns the cells covered by a cell or range symbol
func (s *Sheet) ResolveCells(sym *cell.Symbol) []cell.ID {
	if sym.DocID != s.id || !sym.IsPositional() {
		return nil
	}
	var ids []cell.ID
	for e := range s.grid.area(sym.StartRow, sym.StartCol, min(sym.EndRow, s.rows-1), min(sym.EndCol, s.cols-1)) {
		ids = append(ids, e.id)
	}
	return ids
}

// ReadRange reads the values covered by a symbol. a single cell reads as
// its value, one row or column as an array and anything wider as a table
// with one column per sheet column. the range is clipped to the sheet, a
// range entirely outside of it reads as null.
func (s *Sheet) ReadRange(sym *cell.Symbol) cell.Value {
	if !sym.IsPositional() {
		return cell.Null{}
	}
	startRow, startCol := sym.StartRow, sym.StartCol
	endRow, endCol := min(sym.EndRow, s.rows-1), min(sym.EndCol, s.cols-1)
	if startRow > endRow || startCol > endCol {
		return cell.Null{}
	}
	rows, cols := endRow-startRow+1, endCol-startCol+1
	if sym.StartRow == sym.EndRow && sym.StartCol == sym.EndCol {
		return s.Value(startRow, startCol)
	}

	values := make([]cell.Value, rows*cols)
	for i := range values {
		values[i] = cell.Null{}
	}
	for e := range s.grid.area(startRow, startCol, endRow, endCol) {
		values[(e.row-startRow)*cols+e.col-startCol] = s.Value(e.row, e.col)
	}
	if rows == 1 || cols == 1 {
		return cell.Array(values)
	}

	table := cell.Table{Columns: make([]cell.Column, cols)}
	for c := range cols {
		column := cell.Column{
			Name:   cell.ColumnLetters(startCol + c),
			Values: make([]cell.Value, rows),
		}
		for r := range rows {
			column.Values[r] = values[r*cols+c]
		}
		table.Columns[c] = column
	}
	return table
}

// Address formats a zero-based position as "A1"
func Address(row, col int) string {
	return cell.Address(row, col)
}

// ParseAddress parses "A1" into a zero-based row and column
func ParseAddress(address string) (row, col int, ok bool) {
	return cell.ParseAddress(strings.TrimSpace(address))
}

func positionText(row, col int) string {
	if row < 0 || col < 0 {
		return fmt.Sprintf("(%d, %d)", row, col)
	}
	return cell.Address(row, col)
}
