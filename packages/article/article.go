package article

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/engine"
	"github.com/vogtb/go-cellgraph/packages/mini"
)

var (
	ErrCellNotFound     = errors.New("article: cell not found")
	ErrInvalidArguments = errors.New("article: invalid arguments")
)

// Article is a document of cells in reading order. every cell is linked to
// its neighbours, cells with side effects also run after the cell before
// them.
type Article struct {
	engine   *engine.Engine
	id       string
	name     string
	language string
	autorun  bool
	order    []cell.ID
}

// Option configures an Article
type Option func(*Article)

// WithID sets the document id instead of a generated one
func WithID(id string) Option {
	return func(a *Article) {
		if id != "" {
			a.id = id
		}
	}
}

// WithLanguage sets the language of new cells
func WithLanguage(language string) Option {
	return func(a *Article) {
		if language != "" {
			a.language = language
		}
	}
}

// WithAutorun sets whether READY cells evaluate without a permit
func WithAutorun(autorun bool) Option {
	return func(a *Article) {
		a.autorun = autorun
	}
}

// New registers an article with the engine. the mini context is installed
// when the article uses it and nothing else provides it.
func New(e *engine.Engine, name string, opts ...Option) (*Article, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidArguments)
	}
	a := &Article{
		engine:   e,
		id:       uuid.NewString(),
		name:     name,
		language: mini.Language,
		autorun:  true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if strings.Contains(a.id, "!") {
		return nil, fmt.Errorf("%w: id %q contains '!'", ErrInvalidArguments, a.id)
	}
	if err := e.AddDocument(a); err != nil {
		return nil, fmt.Errorf("adding article %q: %w", name, err)
	}
	if a.language == mini.Language {
		mini.Register(e)
	}
	return a, nil
}

func (a *Article) ID() string       { return a.id }
func (a *Article) Name() string     { return a.name }
func (a *Article) Language() string { return a.language }
func (a *Article) Autorun() bool    { return a.autorun }

// Cells returns the cell ids in document order
func (a *Article) Cells() []cell.ID {
	return slices.Clone(a.order)
}

// Len returns the number of cells
func (a *Article) Len() int {
	return len(a.order)
}

// Cell returns a cell of the article
func (a *Article) Cell(id cell.ID) (*cell.Cell, bool) {
	if a.index(id) < 0 {
		return nil, false
	}
	return a.engine.Graph().Cell(id)
}

func (a *Article) index(id cell.ID) int {
	return slices.Index(a.order, id)
}

// Append adds a cell at the end of the article
func (a *Article) Append(source string, sideEffects bool) (cell.ID, error) {
	var prev cell.ID
	if len(a.order) > 0 {
		prev = a.order[len(a.order)-1]
	}
	return a.InsertAfter(prev, source, sideEffects)
}

// InsertAfter adds a cell right after prev. an empty prev inserts at the
// start of the article.
func (a *Article) InsertAfter(prev cell.ID, source string, sideEffects bool) (cell.ID, error) {
	pos := 0
	if prev != "" {
		i := a.index(prev)
		if i < 0 {
			return "", fmt.Errorf("%w: %s", ErrCellNotFound, prev)
		}
		pos = i + 1
	}

	c := cell.New(cell.NewID(a.id, uuid.NewString()), a.language, source)
	c.SideEffects = sideEffects
	c.Prev = prev
	if pos < len(a.order) {
		c.Next = a.order[pos]
	}
	if err := a.engine.AddCell(c); err != nil {
		return "", err
	}
	a.order = slices.Insert(a.order, pos, c.ID)
	return c.ID, nil
}

// SetSource replaces the source of a cell
func (a *Article) SetSource(id cell.ID, source string) error {
	if a.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	return a.engine.UpdateCell(id, source)
}

// Remove drops a cell, its neighbours are linked to each other
func (a *Article) Remove(id cell.ID) error {
	i := a.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	if err := a.engine.RemoveCell(id); err != nil {
		return err
	}
	a.order = slices.Delete(a.order, i, i+1)
	return nil
}
