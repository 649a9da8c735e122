package mini

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/engine"
)

// Language is the name cells use to select this context
const Language = "mini"

// DefaultProgramCacheSize is the number of parsed programs kept per context
const DefaultProgramCacheSize = 512

type parsed struct {
	program *Program
	err     *SyntaxError
}

// Context analyses and evaluates mini code for the engine
type Context struct {
	programs *lru.Cache[string, parsed]
}

// Option configures a Context
type Option func(*options)

type options struct {
	cacheSize int
}

// WithProgramCacheSize bounds the parsed program cache. zero disables it.
func WithProgramCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

func NewContext(opts ...Option) *Context {
	o := options{cacheSize: DefaultProgramCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Context{}
	if o.cacheSize > 0 {
		if cache, err := lru.New[string, parsed](o.cacheSize); err == nil {
			c.programs = cache
		}
	}
	return c
}

// Factory returns an engine context factory creating a mini Context
func Factory(opts ...Option) engine.ContextFactory {
	return func(context.Context) (engine.Context, error) {
		return NewContext(opts...), nil
	}
}

// Register installs the mini context on an engine unless one is present
func Register(e *engine.Engine, opts ...Option) {
	if !e.HasContext(Language) {
		e.RegisterContext(Language, Factory(opts...))
	}
}

// compile parses code through the program cache
func (c *Context) compile(code string) (*Program, *SyntaxError) {
	if c.programs != nil {
		if entry, ok := c.programs.Get(code); ok {
			return entry.program, entry.err
		}
	}
	entry := parsed{}
	program, err := Parse(code)
	if err != nil {
		var syntaxErr *SyntaxError
		if !errors.As(err, &syntaxErr) {
			syntaxErr = &SyntaxError{Message: err.Error()}
		}
		entry.err = syntaxErr
	} else {
		entry.program = program
	}
	if c.programs != nil {
		c.programs.Add(code, entry)
	}
	return entry.program, entry.err
}

func (c *Context) AnalyseCode(ctx context.Context, code string) (*engine.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program, syntaxErr := c.compile(code)
	if syntaxErr != nil {
		return &engine.Analysis{Messages: []engine.Message{syntaxMessage(code, syntaxErr)}}, nil
	}
	return &engine.Analysis{
		Inputs: append([]string(nil), program.Inputs...),
		Output: program.Target,
	}, nil
}

func (c *Context) ExecuteCode(ctx context.Context, code string, inputs map[string]cell.Value) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program, syntaxErr := c.compile(code)
	if syntaxErr != nil {
		return &engine.Result{Messages: []engine.Message{syntaxMessage(code, syntaxErr)}}, nil
	}
	value, err := program.Expr.Eval(&scope{inputs: inputs})
	if err != nil {
		msg := engine.Message{Type: engine.MessageError, Message: err.Error()}
		var evalErr *EvalError
		if errors.As(err, &evalErr) {
			msg.Line, msg.Column = location(code, evalErr.Position.Start)
		}
		return &engine.Result{Messages: []engine.Message{msg}}, nil
	}
	return &engine.Result{Value: value}, nil
}

// Evaluate parses and evaluates code in one step
func Evaluate(code string, inputs map[string]cell.Value) (cell.Value, error) {
	program, err := Parse(code)
	if err != nil {
		return nil, err
	}
	return program.Expr.Eval(&scope{inputs: inputs})
}

func syntaxMessage(code string, err *SyntaxError) engine.Message {
	line, column := err.Location(code)
	return engine.Message{Type: engine.MessageError, Message: err.Message, Line: line, Column: column}
}
