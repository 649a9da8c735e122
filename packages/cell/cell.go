package cell

import "strings"

// ID identifies a cell across documents: "<docID>!<localID>"
type ID string

func NewID(docID, localID string) ID {
	return ID(docID + "!" + localID)
}

// DocID returns the owning document id
func (id ID) DocID() string {
	doc, _, _ := strings.Cut(string(id), "!")
	return doc
}

// LocalID returns the id within the owning document
func (id ID) LocalID() string {
	_, local, _ := strings.Cut(string(id), "!")
	return local
}

// LevelInfinite is the level of cells on or behind a dependency cycle
const LevelInfinite = int(^uint(0) >> 1)

// Cell is one unit of source code. cells are owned by the graph, everything
// else refers to them by ID. Transpiled is Source with its references
// mangled into identifiers, Value is the last successful result and
// Autorun, when set, overrides the owning document's setting. Prev and Next
// keep document order for cells with side effects.
type Cell struct {
	ID          ID
	DocID       string
	Source      string
	Transpiled  string
	Language    string
	Status      Status
	Inputs      []*Symbol
	Output      *Symbol
	Value       Value
	Errors      []*CellError
	SideEffects bool
	Autorun     *bool
	Prev        ID
	Next        ID
	Level       int

	// sheet position, -1 for cells outside a sheet
	Row int
	Col int
}

// New creates an unanalysed cell. the source is transpiled immediately so
// that its references are known before analysis runs.
func New(id ID, language, source string) *Cell {
	transpiled, _ := Transpile(source)
	return &Cell{
		ID:         id,
		DocID:      id.DocID(),
		Source:     source,
		Transpiled: transpiled,
		Language:   language,
		Status:     StatusUnknown,
		Row:        -1,
		Col:        -1,
	}
}

// IsSheetCell reports whether the cell has a sheet position
func (c *Cell) IsSheetCell() bool {
	return c.Row >= 0 && c.Col >= 0
}

func (c *Cell) HasErrors() bool {
	return len(c.Errors) > 0
}

// HasErrorKind reports whether any attached error is one of kinds
func (c *Cell) HasErrorKind(kinds ...ErrorKind) bool {
	for _, err := range c.Errors {
		for _, kind := range kinds {
			if err.Kind == kind {
				return true
			}
		}
	}
	return false
}

// ErrorsOfKind returns the attached errors of the given kind
func (c *Cell) ErrorsOfKind(kind ErrorKind) []*CellError {
	var result []*CellError
	for _, err := range c.Errors {
		if err.Kind == kind {
			result = append(result, err)
		}
	}
	return result
}

// HasFatalError reports whether an attached error forces BROKEN
func (c *Cell) HasFatalError() bool {
	for _, err := range c.Errors {
		if err.Kind.Fatal() {
			return true
		}
	}
	return false
}

// OutputKey returns the index key of the output symbol, "" without one
func (c *Cell) OutputKey() string {
	if c.Output == nil {
		return ""
	}
	return c.Output.Key()
}

// AutorunAllowed combines the cell override with the document default
func (c *Cell) AutorunAllowed(documentDefault bool) bool {
	if c.Autorun != nil {
		return *c.Autorun
	}
	return documentDefault
}
