package engine

import "github.com/vogtb/go-cellgraph/packages/cell"

// Document is a host document owning cells, an article or a sheet
type Document interface {
	ID() string
	Name() string
	// Language is the default language of new cells
	Language() string
	// Autorun reports whether READY cells may be evaluated without an
	// explicit permit
	Autorun() bool
}

// RangeReader is implemented by sheet-like documents to read cell and range
// values by direct row/column indexing
type RangeReader interface {
	ReadRange(sym *cell.Symbol) cell.Value
}
