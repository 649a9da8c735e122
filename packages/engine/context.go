package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

const (
	MessageError   = "error"
	MessageWarning = "warning"
	MessageInfo    = "info"
)

// Message is a diagnostic reported by a language context
type Message struct {
	Type    string
	Message string
	Line    int
	Column  int
}

// Fatal reports whether the message is an error. an untyped message counts
// as an error.
func (m Message) Fatal() bool {
	return m.Type == "" || m.Type == MessageError
}

// Analysis is the outcome of analysing a cell's transpiled source
type Analysis struct {
	Inputs   []string
	Output   string
	Messages []Message
}

// Result is the outcome of executing a cell's transpiled source
type Result struct {
	Value    cell.Value
	Messages []Message
}

// Context analyses and executes code of one language. implementations may
// be called from several goroutines at once.
type Context interface {
	AnalyseCode(ctx context.Context, code string) (*Analysis, error)
	ExecuteCode(ctx context.Context, code string, inputs map[string]cell.Value) (*Result, error)
}

// ContextFactory creates the context of a language on first use
type ContextFactory func(ctx context.Context) (Context, error)

// contextRegistry creates language contexts lazily, once per language
type contextRegistry struct {
	mu        sync.Mutex
	factories map[string]ContextFactory
	live      map[string]Context
	group     singleflight.Group
}

func newContextRegistry() *contextRegistry {
	return &contextRegistry{
		factories: make(map[string]ContextFactory),
		live:      make(map[string]Context),
	}
}

func (r *contextRegistry) register(language string, factory ContextFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[language] = factory
	delete(r.live, language)
}

func (r *contextRegistry) has(language string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[language]
	return ok
}

// get returns the context of a language, creating it if needed. concurrent
// first calls share a single factory call.
func (r *contextRegistry) get(ctx context.Context, language string) (Context, error) {
	r.mu.Lock()
	if live, ok := r.live[language]; ok {
		r.mu.Unlock()
		return live, nil
	}
	factory, ok := r.factories[language]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoContext, language)
	}

	v, err, _ := r.group.Do(language, func() (any, error) {
		r.mu.Lock()
		live, ok := r.live[language]
		r.mu.Unlock()
		if ok {
			return live, nil
		}
		created, err := factory(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if created == nil {
			return nil, fmt.Errorf("%w: factory for %q returned nil", ErrNoContext, language)
		}
		r.mu.Lock()
		r.live[language] = created
		r.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s context: %w", language, err)
	}
	return v.(Context), nil
}

// StaticContext wraps an existing context in a factory
func StaticContext(c Context) ContextFactory {
	return func(context.Context) (Context, error) {
		return c, nil
	}
}
