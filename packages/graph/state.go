package graph

import (
	"slices"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// AddError attaches an error to a cell
func (cg *CellGraph) AddError(id cell.ID, err *cell.CellError) error {
	return cg.AddErrors(id, []*cell.CellError{err})
}

// AddErrors attaches errors to a cell. graph-owned kinds are rejected, the
// graph attaches those itself.
func (cg *CellGraph) AddErrors(id cell.ID, errs []*cell.CellError) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	for _, err := range errs {
		if err == nil {
			return NewError(InvalidArgument, "nil cell error")
		}
		if err.Kind.GraphOwned() {
			return wrapSentinel(ErrGraphOwnedError, "%s", err.Kind)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	c.Errors = append(c.Errors, errs...)
	cg.markErrorsChanged(c)
	return nil
}

// ClearErrors detaches errors of the given kinds, or every error that is
// not graph-owned when no kind is given
func (cg *CellGraph) ClearErrors(id cell.ID, kinds ...cell.ErrorKind) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	for _, kind := range kinds {
		if kind.GraphOwned() {
			return wrapSentinel(ErrGraphOwnedError, "%s", kind)
		}
	}
	if len(kinds) == 0 {
		kinds = []cell.ErrorKind{cell.ErrorSyntax, cell.ErrorContext, cell.ErrorRuntime}
	}
	if cg.clearErrorKind(c, kinds...) {
		cg.markErrorsChanged(c)
	}
	return nil
}

func (cg *CellGraph) markErrorsChanged(c *cell.Cell) {
	cg.stateChanged.add(c.ID)
	cg.dirty.add(c.ID)
	cg.touched.add(c.ID)
}

// clearErrorKind removes errors of the given kinds and reports whether
// anything was removed
func (cg *CellGraph) clearErrorKind(c *cell.Cell, kinds ...cell.ErrorKind) bool {
	before := len(c.Errors)
	c.Errors = slices.DeleteFunc(c.Errors, func(err *cell.CellError) bool {
		return slices.Contains(kinds, err.Kind)
	})
	if len(c.Errors) == before {
		return false
	}
	cg.touched.add(c.ID)
	return true
}

// replaceGraphError swaps the error of a graph-owned kind, nil removes it
func (cg *CellGraph) replaceGraphError(c *cell.Cell, kind cell.ErrorKind, err *cell.CellError) {
	existing := c.ErrorsOfKind(kind)
	if err == nil {
		cg.clearErrorKind(c, kind)
		return
	}
	if len(existing) == 1 && existing[0].Message == err.Message {
		return
	}
	cg.clearErrorKind(c, kind)
	c.Errors = append(c.Errors, err)
	cg.touched.add(c.ID)
}

// SetValue records the result of a successful evaluation. the cell becomes
// OK, or FAILED when errors other than a collision remain.
func (cg *CellGraph) SetValue(id cell.ID, value cell.Value) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	if value == nil {
		value = cell.Null{}
	}
	c.Value = value
	cg.clearErrorKind(c, cell.ErrorRuntime)

	status := cell.StatusOK
	for _, err := range c.Errors {
		if err.Kind != cell.ErrorCollision {
			status = cell.StatusFailed
			break
		}
	}
	cg.setStatus(c, status)
	cg.valueChanged.add(id)
	cg.touched.add(id)
	return nil
}

// GetValue resolves a symbol to the value of its producer. an unresolved
// symbol yields nil without error, a symbol claimed by several producers
// yields ErrAmbiguousSymbol.
func (cg *CellGraph) GetValue(sym *cell.Symbol) (cell.Value, error) {
	if sym == nil {
		return nil, NewError(InvalidArgument, "nil symbol")
	}
	ids, ok, ambiguous := cg.resolveSymbol(sym)
	if ambiguous {
		return nil, wrapSentinel(ErrAmbiguousSymbol, "%s", sym.Text())
	}
	if !ok || len(ids) == 0 {
		return nil, nil
	}
	if sym.Kind == cell.SymbolRange {
		values := make(cell.Array, 0, len(ids))
		for _, id := range ids {
			values = append(values, valueOrNull(cg.cells[id]))
		}
		return values, nil
	}
	return cg.cells[ids[0]].Value, nil
}

func valueOrNull(c *cell.Cell) cell.Value {
	if c == nil || c.Value == nil {
		return cell.Null{}
	}
	return c.Value
}

// MarkAnalysed moves a cell out of UNKNOWN once its code was analysed
func (cg *CellGraph) MarkAnalysed(id cell.ID) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	if c.Status == cell.StatusUnknown {
		cg.setStatus(c, cell.StatusAnalysed)
	}
	cg.stateChanged.add(id)
	cg.dirty.add(id)
	return nil
}

// MarkRunning records that evaluation of a READY cell was dispatched
func (cg *CellGraph) MarkRunning(id cell.ID) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	if c.Status != cell.StatusReady {
		return wrapSentinel(ErrInvalidState, "%s is %s, not ready", id, c.Status)
	}
	cg.setStatus(c, cell.StatusRunning)
	for follower := range cg.followers[id] {
		cg.stateChanged.add(follower)
	}
	return nil
}

// Invalidate records a source edit. the cell returns to UNKNOWN and loses
// every error that is not graph-owned until it is analysed again.
func (cg *CellGraph) Invalidate(id cell.ID, source, transpiled string) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	c.Source = source
	c.Transpiled = transpiled
	cg.clearErrorKind(c, cell.ErrorSyntax, cell.ErrorContext, cell.ErrorRuntime)
	cg.setStatus(c, cell.StatusUnknown)
	for follower := range cg.followers[id] {
		cg.stateChanged.add(follower)
	}
	cg.dirty.add(id)
	cg.touched.add(id)
	return nil
}

// Rewrite replaces the text and inputs of a cell whose references were
// shifted by a structural edit. unlike Invalidate the cell keeps its
// analysis, it only runs again when its inputs now resolve differently.
func (cg *CellGraph) Rewrite(id cell.ID, source, transpiled string, inputs []*cell.Symbol) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	c.Source = source
	c.Transpiled = transpiled
	cg.setInputs(c, inputs)
	cg.touched.add(id)
	return nil
}

func (cg *CellGraph) setStatus(c *cell.Cell, status cell.Status) {
	if c.Status == status {
		return
	}
	c.Status = status
	cg.touched.add(c.ID)
}

func (cg *CellGraph) setLevel(c *cell.Cell, level int) {
	if c.Level == level {
		return
	}
	c.Level = level
	cg.touched.add(c.ID)
}
