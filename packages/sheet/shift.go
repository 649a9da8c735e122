package sheet

import (
	"fmt"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// axis selects rows or columns for a structural edit
type axis int

const (
	axisRows axis = iota
	axisCols
)

func (a axis) String() string {
	if a == axisRows {
		return "rows"
	}
	return "columns"
}

// InsertRows inserts count empty rows before row pos. references into the
// sheet are moved along with their cells, ranges spanning pos grow.
func (s *Sheet) InsertRows(pos, count int) error {
	if err := s.checkInsert(axisRows, pos, count, s.rows); err != nil {
		return err
	}
	s.shift(axisRows, pos, count)
	s.rows += count
	return nil
}

// DeleteRows deletes count rows starting at row pos along with their cells.
// references into the deleted rows become #REF!, ranges partly inside them
// shrink.
func (s *Sheet) DeleteRows(pos, count int) error {
	if err := s.checkDelete(axisRows, pos, count, s.rows); err != nil {
		return err
	}
	s.shift(axisRows, pos, -count)
	s.rows -= count
	return nil
}

// InsertCols is InsertRows for columns
func (s *Sheet) InsertCols(pos, count int) error {
	if err := s.checkInsert(axisCols, pos, count, s.cols); err != nil {
		return err
	}
	s.shift(axisCols, pos, count)
	s.cols += count
	return nil
}

// DeleteCols is DeleteRows for columns
func (s *Sheet) DeleteCols(pos, count int) error {
	if err := s.checkDelete(axisCols, pos, count, s.cols); err != nil {
		return err
	}
	s.shift(axisCols, pos, -count)
	s.cols -= count
	return nil
}

func (s *Sheet) checkInsert(a axis, pos, count, size int) error {
	if count <= 0 || pos < 0 || pos > size {
		return fmt.Errorf("%w: insert %d %s at %d of %d", ErrInvalidArguments, count, a, pos, size)
	}
	return nil
}

func (s *Sheet) checkDelete(a axis, pos, count, size int) error {
	if count <= 0 || pos < 0 || pos+count > size {
		return fmt.Errorf("%w: delete %d %s at %d of %d", ErrInvalidArguments, count, a, pos, size)
	}
	if count == size {
		return fmt.Errorf("%w: cannot delete all %s", ErrInvalidArguments, a)
	}
	return nil
}

// shift applies an insertion (count > 0) or deletion (count < 0) at pos:
// cells in a deleted band are removed, the others move, then every
// reference into the sheet is shifted the same way
func (s *Sheet) shift(a axis, pos, count int) {
	g := s.engine.Graph()
	moved := newGrid()
	for _, e := range s.grid.entries() {
		index := e.row
		if a == axisCols {
			index = e.col
		}
		if count < 0 && index >= pos && index < pos-count {
			if err := s.engine.RemoveCell(e.id); err != nil {
				s.engine.Logger().Printf("removing %s: %v", e.id, err)
			}
			continue
		}

		row, col := e.row, e.col
		if a == axisRows {
			row = shiftIndex(row, pos, count)
		} else {
			col = shiftIndex(col, pos, count)
		}
		moved.set(row, col, e.id)
		if row != e.row || col != e.col {
			if err := g.MoveCell(e.id, row, col); err != nil {
				s.engine.Logger().Printf("moving %s: %v", e.id, err)
			}
		}
	}
	s.grid = moved
	s.shiftReferences(a, pos, count)
}

func shiftIndex(index, pos, count int) int {
	if count > 0 {
		if index >= pos {
			return index + count
		}
		return index
	}
	if index >= pos-count {
		return index + count
	}
	return index
}

func shiftSymbol(sym *cell.Symbol, a axis, pos, count int) bool {
	if a == axisRows {
		return sym.ShiftRows(pos, count)
	}
	return sym.ShiftCols(pos, count)
}

// shiftReferences rewrites the cells referencing the sheet. analysed cells
// get their shifted inputs installed directly, cells still waiting for
// analysis get their new source and are analysed again.
func (s *Sheet) shiftReferences(a axis, pos, count int) {
	g := s.engine.Graph()
	for _, id := range g.Observers(s.id) {
		c, ok := g.Cell(id)
		if !ok || c.Status == cell.StatusUnknown {
			continue
		}
		inputs := cell.CloneSymbols(c.Inputs)
		changed := false
		for _, sym := range inputs {
			if sym.DocID == s.id && shiftSymbol(sym, a, pos, count) {
				changed = true
			}
		}
		source, transpiled, edited := s.shiftSource(c, a, pos, count)
		if !changed && !edited {
			continue
		}
		if err := g.Rewrite(id, source, transpiled, inputs); err != nil {
			s.engine.Logger().Printf("rewriting %s: %v", id, err)
		}
	}

	for _, id := range g.Cells() {
		c, ok := g.Cell(id)
		if !ok || c.Status != cell.StatusUnknown {
			continue
		}
		source, _, edited := s.shiftSource(c, a, pos, count)
		if !edited {
			continue
		}
		if err := s.engine.UpdateCell(id, source); err != nil {
			s.engine.Logger().Printf("rewriting %s: %v", id, err)
		}
	}
}

// shiftSource shifts the references into the sheet found in a cell's
// source and returns the rewritten source and transpiled text
func (s *Sheet) shiftSource(c *cell.Cell, a axis, pos, count int) (string, string, bool) {
	_, refs := cell.Transpile(c.Source)
	var shifted []*cell.Symbol
	for _, ref := range refs {
		if s.targets(c, ref) && shiftSymbol(ref, a, pos, count) {
			shifted = append(shifted, ref)
		}
	}
	if len(shifted) == 0 {
		return c.Source, c.Transpiled, false
	}
	source := cell.RewriteSource(c.Source, shifted)
	transpiled, _ := cell.Transpile(source)
	// broken references are no longer found by the transpiler
	return source, cell.MangleSource(transpiled, shifted), true
}

// targets reports whether a reference in the source of c points into the
// sheet
func (s *Sheet) targets(c *cell.Cell, ref *cell.Symbol) bool {
	if ref.Scope == "" {
		return c.DocID == s.id
	}
	doc, ok := s.engine.DocumentByName(ref.Scope)
	return ok && doc.ID() == s.id
}
