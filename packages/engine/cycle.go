package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// Cycle runs one scheduling step: finished tasks are collected, queued
// actions are applied or dispatched and the graph is brought up to date.
// it returns the cells whose state changed. Cycle is not reentrant.
func (e *Engine) Cycle(ctx context.Context) ([]cell.ID, error) {
	if !e.cycling.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer e.cycling.Store(false)

	e.drainInbox()
	if len(e.nextActions) == 0 && !e.graph.NeedsUpdate() {
		return nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.cycle")
	defer span.End()

	batch := e.nextActions
	e.nextActions = make(map[cell.ID]*action)
	byKind := make(map[ActionType][]*action)
	for _, id := range sortIDs(mapKeys(batch)) {
		a := batch[id]
		byKind[a.kind] = append(byKind[a.kind], a)
	}
	span.SetAttributes(
		attribute.Int("actions.analyse", len(byKind[ActionAnalyse])),
		attribute.Int("actions.register", len(byKind[ActionRegister])),
		attribute.Int("actions.evaluate", len(byKind[ActionEvaluate])),
		attribute.Int("actions.update", len(byKind[ActionUpdate])),
	)

	changed := make(map[cell.ID]struct{})
	for _, a := range byKind[ActionUpdate] {
		e.applyUpdate(a)
	}
	for _, a := range byKind[ActionRegister] {
		e.applyRegister(a)
	}
	e.collect(changed, e.graph.Update())

	for _, a := range byKind[ActionAnalyse] {
		e.dispatchAnalyse(ctx, a)
	}
	for _, a := range byKind[ActionEvaluate] {
		e.dispatchEvaluate(ctx, a)
	}
	e.collect(changed, e.graph.Update())
	e.queueReady(changed)

	ids := sortIDs(mapKeys(changed))
	span.SetAttributes(attribute.Int("cells.changed", len(ids)))
	if len(ids) > 0 {
		for _, fn := range e.listeners {
			fn(ids)
		}
	}
	return ids, nil
}

// collect records changed cells and cancels evaluations whose cell was
// moved out of RUNNING by the graph
func (e *Engine) collect(changed map[cell.ID]struct{}, ids []cell.ID) {
	for _, id := range ids {
		changed[id] = struct{}{}
		t, ok := e.currentActions[id]
		if !ok || t.action.kind != ActionEvaluate {
			continue
		}
		if c, exists := e.graph.Cell(id); !exists || c.Status != cell.StatusRunning {
			t.cancel()
			delete(e.currentActions, id)
			e.logger.Printf("cancelled evaluation of %s", id)
		}
	}
}

// queueReady schedules evaluation of READY cells nothing is pending for
func (e *Engine) queueReady(changed map[cell.ID]struct{}) {
	for _, id := range sortIDs(mapKeys(changed)) {
		c, ok := e.graph.Cell(id)
		if !ok || c.Status != cell.StatusReady {
			continue
		}
		if _, busy := e.currentActions[id]; busy {
			continue
		}
		if _, queued := e.nextActions[id]; queued {
			continue
		}
		if _, waiting := e.suspended[id]; waiting {
			continue
		}
		e.nextActions[id] = &action{kind: ActionEvaluate, id: id}
	}
}

func (e *Engine) applyUpdate(a *action) {
	if _, ok := e.graph.Cell(a.id); !ok {
		return
	}
	if len(a.errors) > 0 {
		if err := e.graph.AddErrors(a.id, a.errors); err != nil {
			e.logger.Printf("recording errors of %s: %v", a.id, err)
		}
		return
	}
	if err := e.graph.SetValue(a.id, a.value); err != nil {
		e.logger.Printf("recording value of %s: %v", a.id, err)
	}
}

// applyRegister turns an analysis into graph symbols. analysis errors
// clear the inputs and keep the declared output.
func (e *Engine) applyRegister(a *action) {
	c, ok := e.graph.Cell(a.id)
	if !ok {
		return
	}
	errs := a.errors
	if len(errs) == 0 {
		inputs, output, err := e.compileSymbols(c, a.analysis, a.refs, a.plain)
		if err == nil {
			if err := e.graph.SetInputsOutputs(a.id, inputs, output); err != nil {
				e.logger.Printf("registering %s: %v", a.id, err)
			}
			if err := e.graph.MarkAnalysed(a.id); err != nil {
				e.logger.Printf("registering %s: %v", a.id, err)
			}
			return
		}
		errs = []*cell.CellError{cell.NewSyntaxError("Invalid syntax", 0, 0, err)}
	}
	if err := e.graph.SetInputs(a.id, nil); err != nil {
		e.logger.Printf("registering %s: %v", a.id, err)
	}
	if err := e.graph.AddErrors(a.id, errs); err != nil {
		e.logger.Printf("registering %s: %v", a.id, err)
	}
	if err := e.graph.MarkAnalysed(a.id); err != nil {
		e.logger.Printf("registering %s: %v", a.id, err)
	}
}

// compileSymbols maps the names reported by analysis onto graph symbols.
// names produced by the transpiler keep their reference, everything else is
// a variable of the cell's own document. plain is the source without the
// reference spans, a reference name also written there is ambiguous.
func (e *Engine) compileSymbols(c *cell.Cell, analysis *Analysis, refs []*cell.Symbol, plain string) ([]*cell.Symbol, *cell.Symbol, error) {
	if analysis == nil {
		return nil, nil, fmt.Errorf("%w: missing analysis", ErrInvalidArguments)
	}
	byMangled := make(map[string]*cell.Symbol, len(refs))
	for _, ref := range refs {
		byMangled[ref.Mangled] = ref
	}

	inputs := make([]*cell.Symbol, 0, len(analysis.Inputs))
	seen := make(map[string]struct{}, len(analysis.Inputs))
	for _, name := range analysis.Inputs {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		ref, ok := byMangled[name]
		if !ok {
			if !isIdentifier(name) {
				return nil, nil, fmt.Errorf("invalid input symbol %q", name)
			}
			inputs = append(inputs, cell.NewVarSymbol(c.DocID, name))
			continue
		}
		if cell.HasIdentifier(plain, name) {
			return nil, nil, fmt.Errorf("%w: %q is both a variable and a reference", ErrInvalidArguments, name)
		}
		sym := ref.Clone()
		sym.DocID = c.DocID
		if sym.Scope != "" {
			doc, ok := e.docsByName[sym.Scope]
			if !ok {
				return nil, nil, fmt.Errorf("%w %q", ErrUnknownDocument, sym.Scope)
			}
			sym.DocID = doc.ID()
		}
		inputs = append(inputs, sym)
	}

	var output *cell.Symbol
	if analysis.Output != "" {
		if !isIdentifier(analysis.Output) {
			return nil, nil, fmt.Errorf("invalid output symbol %q", analysis.Output)
		}
		output = cell.NewVarSymbol(c.DocID, analysis.Output)
	}
	return inputs, output, nil
}

func (e *Engine) dispatchAnalyse(ctx context.Context, a *action) {
	c, ok := e.graph.Cell(a.id)
	if !ok {
		return
	}
	language, code := c.Language, c.Transpiled
	_, refs := cell.Transpile(c.Source)
	plain := cell.MaskSymbols(c.Source, refs)

	e.spawn(ctx, a, func(ctx context.Context) *action {
		ctx, span := e.tracer.Start(ctx, "engine.analyse", trace.WithAttributes(
			attribute.String("cell.id", string(a.id)),
			attribute.String("cell.language", language),
		))
		defer span.End()

		register := &action{kind: ActionRegister, id: a.id, refs: refs, plain: plain}
		lc, err := e.contexts.get(ctx, language)
		if err != nil {
			recordSpanError(span, err)
			register.errors = []*cell.CellError{cell.NewContextError(language, err)}
			return register
		}
		analysis, err := e.analyse(ctx, lc, language, code)
		if err != nil {
			recordSpanError(span, err)
			register.errors = []*cell.CellError{cell.NewContextError(language, err)}
			return register
		}
		register.analysis = analysis
		for _, msg := range analysis.Messages {
			if msg.Fatal() {
				register.errors = append(register.errors, cell.NewSyntaxError(msg.Message, msg.Line, msg.Column, nil))
			}
		}
		return register
	})
}

// analyse runs analysis through the cache
func (e *Engine) analyse(ctx context.Context, lc Context, language, code string) (*Analysis, error) {
	key := language + "\x00" + code
	if e.analyses != nil {
		if cached, ok := e.analyses.Get(key); ok {
			return cached, nil
		}
	}
	analysis, err := lc.AnalyseCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		analysis = &Analysis{}
	}
	if e.analyses != nil {
		e.analyses.Add(key, analysis)
	}
	return analysis, nil
}

func (e *Engine) dispatchEvaluate(ctx context.Context, a *action) {
	c, ok := e.graph.Cell(a.id)
	if !ok || c.Status != cell.StatusReady {
		return
	}
	if !e.allowed(c) {
		e.suspended[a.id] = a
		e.logger.Printf("suspended evaluation of %s until permitted", a.id)
		return
	}
	inputs, err := e.gatherInputs(c)
	if err != nil {
		if err := e.graph.AddError(a.id, cell.NewRuntimeError("", err)); err != nil {
			e.logger.Printf("recording errors of %s: %v", a.id, err)
		}
		return
	}
	if err := e.graph.MarkRunning(a.id); err != nil {
		e.logger.Printf("dispatching %s: %v", a.id, err)
		return
	}
	delete(e.permits, a.id)
	language, code := c.Language, c.Transpiled

	e.spawn(ctx, a, func(ctx context.Context) *action {
		ctx, span := e.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(
			attribute.String("cell.id", string(a.id)),
			attribute.String("cell.language", language),
		))
		defer span.End()

		update := &action{kind: ActionUpdate, id: a.id}
		lc, err := e.contexts.get(ctx, language)
		if err != nil {
			recordSpanError(span, err)
			update.errors = []*cell.CellError{cell.NewContextError(language, err)}
			return update
		}
		result, err := lc.ExecuteCode(ctx, code, inputs)
		if err != nil {
			recordSpanError(span, err)
			update.errors = []*cell.CellError{cell.NewRuntimeError("", err)}
			return update
		}
		if result == nil {
			result = &Result{}
		}
		for _, msg := range result.Messages {
			if msg.Fatal() {
				update.errors = append(update.errors, cell.NewRuntimeError(msg.Message, nil))
			}
		}
		if len(update.errors) > 0 {
			span.SetStatus(codes.Error, update.errors[0].Message)
			return update
		}
		update.value = result.Value
		if update.value == nil {
			update.value = cell.Null{}
		}
		return update
	})
}

// allowed reports whether a READY cell may be evaluated now
func (e *Engine) allowed(c *cell.Cell) bool {
	if _, ok := e.permits[c.ID]; ok {
		return true
	}
	autorun := true
	if doc, ok := e.docs[c.DocID]; ok {
		autorun = doc.Autorun()
	}
	return c.AutorunAllowed(autorun)
}

// gatherInputs collects input values keyed by their mangled names. sheet
// documents serve positional symbols directly.
func (e *Engine) gatherInputs(c *cell.Cell) (map[string]cell.Value, error) {
	inputs := make(map[string]cell.Value, len(c.Inputs))
	for _, sym := range c.Inputs {
		var value cell.Value
		if reader, ok := e.docs[sym.DocID].(RangeReader); ok && sym.IsPositional() {
			value = reader.ReadRange(sym)
		} else {
			v, err := e.graph.GetValue(sym)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", sym.Text(), err)
			}
			value = v
		}
		if value == nil {
			value = cell.Null{}
		}
		inputs[sym.Mangled] = value
	}
	return inputs, nil
}

// spawn runs work for an action on its own goroutine. the returned
// follow-up reaches the driving goroutine through the inbox unless the
// task was cancelled first.
func (e *Engine) spawn(ctx context.Context, a *action, work func(context.Context) *action) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{action: a, cancel: cancel}
	e.currentActions[a.id] = t
	e.pending.Add(1)

	go func() {
		defer e.pending.Done()
		defer cancel()
		next := e.runTask(taskCtx, a, work)
		if taskCtx.Err() != nil {
			return
		}
		e.post(completion{task: t, next: next})
	}()
}

func (e *Engine) runTask(ctx context.Context, a *action, work func(context.Context) *action) (next *action) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e.logger.Printf("%s of %s panicked: %v", a.kind, a.id, r)
		cause := fmt.Errorf("panic: %v", r)
		if a.kind == ActionAnalyse {
			err := cell.NewSyntaxError("Analysis failed", 0, 0, cause)
			next = &action{kind: ActionRegister, id: a.id, errors: []*cell.CellError{err}}
			return
		}
		err := cell.NewRuntimeError(cause.Error(), cause)
		next = &action{kind: ActionUpdate, id: a.id, errors: []*cell.CellError{err}}
	}()
	return work(ctx)
}

// RunUntilIdle cycles until Idle reports true, waiting for tasks in flight
// between cycles
func (e *Engine) RunUntilIdle(ctx context.Context) error {
	for {
		if _, err := e.Cycle(ctx); err != nil {
			return err
		}
		if e.Idle() {
			return nil
		}
		if len(e.nextActions) > 0 || e.graph.NeedsUpdate() || e.inboxLen() > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		}
	}
}

// Run cycles every interval, and whenever a task finishes, until ctx is
// done
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidArguments)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.wake:
		}
		if _, err := e.Cycle(ctx); err != nil {
			e.logger.Printf("cycle: %v", err)
		}
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func mapKeys[V any](m map[cell.ID]V) []cell.ID {
	ids := make([]cell.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

func sortIDs(ids []cell.ID) []cell.ID {
	slices.Sort(ids)
	return ids
}
