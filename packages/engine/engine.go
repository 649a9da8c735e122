package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/graph"
)

const tracerName = "github.com/vogtb/go-cellgraph/packages/engine"

// DefaultAnalysisCacheSize is the number of analyses kept per engine
const DefaultAnalysisCacheSize = 256

var (
	ErrCycleInProgress  = errors.New("engine: cycle already in progress")
	ErrUnknownDocument  = errors.New("engine: unknown document")
	ErrDocumentExists   = errors.New("engine: document already exists")
	ErrNoContext        = errors.New("engine: no context registered for language")
	ErrInvalidArguments = errors.New("engine: invalid arguments")
)

// Engine drives analysis and evaluation of the cells of a CellGraph. every
// method except the internal task goroutines is meant to be called from a
// single driving goroutine.
type Engine struct {
	graph      *graph.CellGraph
	docs       map[string]Document
	docsByName map[string]Document
	contexts   *contextRegistry
	analyses   *lru.Cache[string, *Analysis]
	cacheSize  int
	logger     *log.Logger
	tracer     trace.Tracer

	nextActions    map[cell.ID]*action
	currentActions map[cell.ID]*task
	suspended      map[cell.ID]*action
	permits        map[cell.ID]struct{}
	listeners      []func([]cell.ID)

	inboxMu sync.Mutex
	inbox   []completion
	wake    chan struct{}
	cycling atomic.Bool
	pending sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger for scheduling decisions
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAnalysisCacheSize bounds the analysis cache. zero disables it.
func WithAnalysisCacheSize(size int) Option {
	return func(e *Engine) {
		e.cacheSize = size
	}
}

// WithTracer replaces the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithGraph runs the engine over an existing graph
func WithGraph(g *graph.CellGraph) Option {
	return func(e *Engine) {
		if g != nil {
			e.graph = g
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		graph:          graph.NewCellGraph(),
		docs:           make(map[string]Document),
		docsByName:     make(map[string]Document),
		contexts:       newContextRegistry(),
		cacheSize:      DefaultAnalysisCacheSize,
		logger:         log.New(io.Discard, "", 0),
		tracer:         otel.Tracer(tracerName),
		nextActions:    make(map[cell.ID]*action),
		currentActions: make(map[cell.ID]*task),
		suspended:      make(map[cell.ID]*action),
		permits:        make(map[cell.ID]struct{}),
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cacheSize > 0 {
		if cache, err := lru.New[string, *Analysis](e.cacheSize); err == nil {
			e.analyses = cache
		}
	}
	return e
}

// Graph returns the graph the engine schedules over
func (e *Engine) Graph() *graph.CellGraph {
	return e.graph
}

// Logger returns the engine's logger
func (e *Engine) Logger() *log.Logger {
	return e.logger
}

// RegisterContext installs the context factory of a language. cells that
// failed for lack of this context are analysed again.
func (e *Engine) RegisterContext(language string, factory ContextFactory) {
	e.contexts.register(language, factory)
	for _, id := range e.graph.Cells() {
		c, _ := e.graph.Cell(id)
		if c.Language != language || !c.HasErrorKind(cell.ErrorContext) {
			continue
		}
		if err := e.graph.Invalidate(id, c.Source, c.Transpiled); err != nil {
			e.logger.Printf("invalidating %s: %v", id, err)
			continue
		}
		e.queue(&action{kind: ActionAnalyse, id: id})
	}
}

// HasContext reports whether a factory is registered for a language
func (e *Engine) HasContext(language string) bool {
	return e.contexts.has(language)
}

// AddDocument registers a document. documents implementing
// graph.CellResolver resolve cell and range symbols into themselves.
func (e *Engine) AddDocument(doc Document) error {
	if doc == nil || doc.ID() == "" {
		return fmt.Errorf("%w: document without id", ErrInvalidArguments)
	}
	if _, exists := e.docs[doc.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID())
	}
	if _, exists := e.docsByName[doc.Name()]; exists && doc.Name() != "" {
		return fmt.Errorf("%w: name %q", ErrDocumentExists, doc.Name())
	}
	e.docs[doc.ID()] = doc
	if doc.Name() != "" {
		e.docsByName[doc.Name()] = doc
	}
	if resolver, ok := doc.(graph.CellResolver); ok {
		e.graph.SetResolver(doc.ID(), resolver)
	}
	e.logger.Printf("added document %s (%s)", doc.ID(), doc.Name())
	return nil
}

// Document returns a registered document by id
func (e *Engine) Document(id string) (Document, bool) {
	doc, ok := e.docs[id]
	return doc, ok
}

// DocumentByName returns a registered document by name
func (e *Engine) DocumentByName(name string) (Document, bool) {
	doc, ok := e.docsByName[name]
	return doc, ok
}

// Documents returns every registered document
func (e *Engine) Documents() []Document {
	docs := make([]Document, 0, len(e.docs))
	for _, doc := range e.docs {
		docs = append(docs, doc)
	}
	return docs
}

// AddCell registers a new cell with the graph and queues its analysis. an
// empty language falls back to the document's language.
func (e *Engine) AddCell(c *cell.Cell) error {
	if c == nil {
		return fmt.Errorf("%w: nil cell", ErrInvalidArguments)
	}
	if c.DocID == "" {
		c.DocID = c.ID.DocID()
	}
	doc, ok := e.docs[c.DocID]
	if !ok {
		return fmt.Errorf("adding %s: %w %q", c.ID, ErrUnknownDocument, c.DocID)
	}
	if c.Language == "" {
		c.Language = doc.Language()
	}
	c.Transpiled, _ = cell.Transpile(c.Source)
	c.Status = cell.StatusUnknown
	if err := e.graph.AddCell(c); err != nil {
		return fmt.Errorf("adding %s: %w", c.ID, err)
	}
	e.queue(&action{kind: ActionAnalyse, id: c.ID})
	return nil
}

// UpdateCell replaces the source of a cell. work in flight for the cell is
// superseded and the cell is analysed again.
func (e *Engine) UpdateCell(id cell.ID, source string) error {
	if _, ok := e.graph.Cell(id); !ok {
		return fmt.Errorf("updating %s: %w", id, graph.ErrCellNotFound)
	}
	transpiled, _ := cell.Transpile(source)
	if err := e.graph.Invalidate(id, source, transpiled); err != nil {
		return fmt.Errorf("updating %s: %w", id, err)
	}
	e.queue(&action{kind: ActionAnalyse, id: id})
	return nil
}

// RemoveCell drops a cell along with any work scheduled for it
func (e *Engine) RemoveCell(id cell.ID) error {
	if t, ok := e.currentActions[id]; ok {
		t.cancel()
		delete(e.currentActions, id)
	}
	delete(e.nextActions, id)
	delete(e.suspended, id)
	delete(e.permits, id)
	if err := e.graph.RemoveCell(id); err != nil {
		return fmt.Errorf("removing %s: %w", id, err)
	}
	return nil
}

// Permit allows one evaluation of a cell and of every unfinished cell it
// depends on, regardless of autorun settings
func (e *Engine) Permit(id cell.ID) error {
	if _, ok := e.graph.Cell(id); !ok {
		return fmt.Errorf("permitting %s: %w", id, graph.ErrCellNotFound)
	}
	targets := append(e.graph.Predecessors(id), id)
	for _, target := range targets {
		c, ok := e.graph.Cell(target)
		if !ok || (target != id && c.Status == cell.StatusOK) {
			continue
		}
		e.permits[target] = struct{}{}
		if a, ok := e.suspended[target]; ok {
			delete(e.suspended, target)
			e.nextActions[target] = a
		}
	}
	return nil
}

// OnChange registers a listener called after every cycle that touched cells
func (e *Engine) OnChange(fn func([]cell.ID)) {
	if fn != nil {
		e.listeners = append(e.listeners, fn)
	}
}

// Close cancels all work in flight and waits for task goroutines to exit
func (e *Engine) Close() {
	for id, t := range e.currentActions {
		t.cancel()
		delete(e.currentActions, id)
	}
	e.pending.Wait()
}

// queue schedules an action, superseding whatever is in flight for the cell
func (e *Engine) queue(a *action) {
	if t, ok := e.currentActions[a.id]; ok {
		t.cancel()
		delete(e.currentActions, a.id)
		e.logger.Printf("%s of %s superseded by %s", t.action.kind, a.id, a.kind)
	}
	delete(e.suspended, a.id)
	e.nextActions[a.id] = a
}

// post hands a finished task's follow-up to the driving goroutine
func (e *Engine) post(c completion) {
	e.inboxMu.Lock()
	e.inbox = append(e.inbox, c)
	e.inboxMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) inboxLen() int {
	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()
	return len(e.inbox)
}

// drainInbox queues the follow-ups of finished tasks. a completion whose
// task is no longer the current one for its cell is stale and dropped.
func (e *Engine) drainInbox() {
	e.inboxMu.Lock()
	completions := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()

	for _, comp := range completions {
		id := comp.task.action.id
		if e.currentActions[id] != comp.task {
			e.logger.Printf("dropping stale %s result for %s", comp.task.action.kind, id)
			continue
		}
		delete(e.currentActions, id)
		if comp.next != nil {
			e.queue(comp.next)
		}
	}
}

// Idle reports whether nothing is queued, in flight or waiting for a graph
// update. evaluations suspended for lack of a permit do not count.
func (e *Engine) Idle() bool {
	return len(e.nextActions) == 0 &&
		len(e.currentActions) == 0 &&
		!e.graph.NeedsUpdate() &&
		e.inboxLen() == 0
}

// Suspended returns the cells whose evaluation waits for a permit
func (e *Engine) Suspended() []cell.ID {
	ids := make([]cell.ID, 0, len(e.suspended))
	for id := range e.suspended {
		ids = append(ids, id)
	}
	return sortIDs(ids)
}
