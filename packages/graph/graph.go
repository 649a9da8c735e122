package graph

import (
	"slices"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// CellResolver resolves cell and range symbols of one document to the ids
// of the cells they cover, by direct row/column indexing
type CellResolver interface {
	ResolveCells(sym *cell.Symbol) []cell.ID
}

type idSet map[cell.ID]struct{}

func (s idSet) add(id cell.ID) {
	s[id] = struct{}{}
}

func (s idSet) has(id cell.ID) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []cell.ID {
	result := make([]cell.ID, 0, len(s))
	for id := range s {
		result = append(result, id)
	}
	slices.Sort(result)
	return result
}

// resolution is the outcome of resolving a cell's inputs
type resolution struct {
	ids        []cell.ID // producing cells, prev included for side effects
	ambiguous  bool
	unresolved []string
}

// CellGraph owns all cells and the indexes over their symbols. it is not
// safe for concurrent use, every call is expected to come from the single
// goroutine driving the engine.
type CellGraph struct {
	cells     map[cell.ID]*cell.Cell
	ins       map[string]idSet     // symbol key -> cells using it as input
	out       map[string][]cell.ID // symbol key -> cells producing it
	observers map[string]idSet     // doc id -> cells with cell/range inputs into it
	resolvers map[string]CellResolver
	resolved  map[cell.ID]*resolution
	followers map[cell.ID]idSet // producer -> consumers

	structureChanged idSet // inputs, outputs or links changed
	stateChanged     idSet // status must be derived again
	valueChanged     idSet // new value since the last update
	dirty            idSet // must run again even if it finished before
	touched          idSet // observable change since the last update
}

// NewCellGraph creates an empty cell graph
func NewCellGraph() *CellGraph {
	return &CellGraph{
		cells:            make(map[cell.ID]*cell.Cell),
		ins:              make(map[string]idSet),
		out:              make(map[string][]cell.ID),
		observers:        make(map[string]idSet),
		resolvers:        make(map[string]CellResolver),
		resolved:         make(map[cell.ID]*resolution),
		followers:        make(map[cell.ID]idSet),
		structureChanged: make(idSet),
		stateChanged:     make(idSet),
		valueChanged:     make(idSet),
		dirty:            make(idSet),
		touched:          make(idSet),
	}
}

// Cell retrieves a cell if it exists
func (cg *CellGraph) Cell(id cell.ID) (*cell.Cell, bool) {
	c, exists := cg.cells[id]
	return c, exists
}

// Cells returns the ids of all registered cells in sorted order
func (cg *CellGraph) Cells() []cell.ID {
	result := make([]cell.ID, 0, len(cg.cells))
	for id := range cg.cells {
		result = append(result, id)
	}
	slices.Sort(result)
	return result
}

// CellCount returns the number of registered cells
func (cg *CellGraph) CellCount() int {
	return len(cg.cells)
}

// SetResolver registers the resolver for cell and range symbols into docID
func (cg *CellGraph) SetResolver(docID string, r CellResolver) {
	if r == nil {
		delete(cg.resolvers, docID)
	} else {
		cg.resolvers[docID] = r
	}
	for id := range cg.observers[docID] {
		cg.structureChanged.add(id)
	}
}

// AddCell registers a cell and indexes its inputs and output
func (cg *CellGraph) AddCell(c *cell.Cell) error {
	if c == nil || c.ID == "" {
		return NewError(InvalidArgument, "cell without id")
	}
	if _, exists := cg.cells[c.ID]; exists {
		return wrapSentinel(ErrCellExists, "%s", c.ID)
	}

	cg.cells[c.ID] = c
	cg.indexInputs(c)
	cg.indexOutput(c)

	// splice into document order
	if prev, ok := cg.cells[c.Prev]; ok {
		if c.Next == "" {
			c.Next = prev.Next
		}
		prev.Next = c.ID
	}
	if next, ok := cg.cells[c.Next]; ok {
		next.Prev = c.ID
		cg.structureChanged.add(next.ID)
	}

	if c.IsSheetCell() {
		cg.markObservers(c.DocID, c.Row, c.Col)
	}
	cg.structureChanged.add(c.ID)
	cg.stateChanged.add(c.ID)
	cg.touched.add(c.ID)
	return nil
}

// RemoveCell deregisters a cell, its index entries and its links
func (cg *CellGraph) RemoveCell(id cell.ID) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}

	cg.deindexInputs(c)
	cg.deindexOutput(c)

	// consumers lose an input
	for follower := range cg.followers[id] {
		cg.structureChanged.add(follower)
	}
	if res := cg.resolved[id]; res != nil {
		for _, in := range res.ids {
			delete(cg.followers[in], id)
		}
	}

	// unlink prev/next neighbours
	prev, hasPrev := cg.cells[c.Prev]
	next, hasNext := cg.cells[c.Next]
	if hasPrev {
		prev.Next = c.Next
	}
	if hasNext {
		next.Prev = c.Prev
		cg.structureChanged.add(next.ID)
	}

	if c.IsSheetCell() {
		cg.markObservers(c.DocID, c.Row, c.Col)
	}

	delete(cg.cells, id)
	delete(cg.resolved, id)
	delete(cg.followers, id)
	delete(cg.structureChanged, id)
	delete(cg.stateChanged, id)
	delete(cg.valueChanged, id)
	delete(cg.dirty, id)
	delete(cg.touched, id)
	return nil
}

// SetInputsOutputs swaps the declared inputs and output of a cell
func (cg *CellGraph) SetInputsOutputs(id cell.ID, inputs []*cell.Symbol, output *cell.Symbol) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	cg.setInputs(c, inputs)
	cg.setOutput(c, output)
	return nil
}

// SetInputs swaps the declared inputs of a cell
func (cg *CellGraph) SetInputs(id cell.ID, inputs []*cell.Symbol) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	cg.setInputs(c, inputs)
	return nil
}

// SetOutput swaps the declared output of a cell, nil removes it
func (cg *CellGraph) SetOutput(id cell.ID, output *cell.Symbol) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	cg.setOutput(c, output)
	return nil
}

func (cg *CellGraph) setInputs(c *cell.Cell, inputs []*cell.Symbol) {
	if sameKeys(c.Inputs, inputs) {
		// spans and mangled names may still differ
		c.Inputs = inputs
		return
	}
	cg.deindexInputs(c)
	c.Inputs = inputs
	cg.indexInputs(c)
	cg.structureChanged.add(c.ID)
	cg.dirty.add(c.ID)
}

func (cg *CellGraph) setOutput(c *cell.Cell, output *cell.Symbol) {
	oldKey, newKey := c.OutputKey(), ""
	if output != nil {
		newKey = output.Key()
	}
	if oldKey == newKey {
		c.Output = output
		return
	}
	cg.deindexOutput(c)
	c.Output = output
	cg.indexOutput(c)
	cg.structureChanged.add(c.ID)
}

func (cg *CellGraph) indexInputs(c *cell.Cell) {
	for _, sym := range c.Inputs {
		key := sym.Key()
		if cg.ins[key] == nil {
			cg.ins[key] = make(idSet)
		}
		cg.ins[key].add(c.ID)

		if sym.IsPositional() {
			if cg.observers[sym.DocID] == nil {
				cg.observers[sym.DocID] = make(idSet)
			}
			cg.observers[sym.DocID].add(c.ID)
		}
	}
}

func (cg *CellGraph) deindexInputs(c *cell.Cell) {
	for _, sym := range c.Inputs {
		key := sym.Key()
		if consumers, exists := cg.ins[key]; exists {
			delete(consumers, c.ID)
			if len(consumers) == 0 {
				delete(cg.ins, key)
			}
		}
		if observers, exists := cg.observers[sym.DocID]; exists {
			delete(observers, c.ID)
			if len(observers) == 0 {
				delete(cg.observers, sym.DocID)
			}
		}
	}
}

// indexOutput claims the output key. consumers of the key and competing
// producers are re-examined.
func (cg *CellGraph) indexOutput(c *cell.Cell) {
	key := c.OutputKey()
	if key == "" {
		return
	}
	cg.out[key] = append(cg.out[key], c.ID)
	cg.markKeyChanged(key)
}

func (cg *CellGraph) deindexOutput(c *cell.Cell) {
	key := c.OutputKey()
	if key == "" {
		return
	}
	producers := slices.DeleteFunc(cg.out[key], func(id cell.ID) bool { return id == c.ID })
	if len(producers) == 0 {
		delete(cg.out, key)
	} else {
		cg.out[key] = producers
	}
	cg.markKeyChanged(key)
	cg.clearErrorKind(c, cell.ErrorCollision)
}

func (cg *CellGraph) markKeyChanged(key string) {
	for id := range cg.ins[key] {
		cg.structureChanged.add(id)
	}
	for _, id := range cg.out[key] {
		cg.structureChanged.add(id)
	}
}

// markObservers re-examines the cells whose cell/range inputs cover a
// position, like a range observer being notified
func (cg *CellGraph) markObservers(docID string, row, col int) {
	for id := range cg.observers[docID] {
		c, exists := cg.cells[id]
		if !exists {
			continue
		}
		for _, sym := range c.Inputs {
			if sym.DocID == docID && sym.Contains(row, col) {
				cg.structureChanged.add(id)
				break
			}
		}
	}
}

// MoveCell changes the sheet position of a cell
func (cg *CellGraph) MoveCell(id cell.ID, row, col int) error {
	c, exists := cg.cells[id]
	if !exists {
		return wrapSentinel(ErrCellNotFound, "%s", id)
	}
	if c.Row == row && c.Col == col {
		return nil
	}
	if c.IsSheetCell() {
		cg.markObservers(c.DocID, c.Row, c.Col)
	}
	c.Row, c.Col = row, col
	if c.IsSheetCell() {
		cg.markObservers(c.DocID, c.Row, c.Col)
	}
	cg.touched.add(id)
	return nil
}

// Observers returns the cells holding cell or range inputs into docID
func (cg *CellGraph) Observers(docID string) []cell.ID {
	return cg.observers[docID].sorted()
}

// Followers returns the cells directly consuming a cell
func (cg *CellGraph) Followers(id cell.ID) []cell.ID {
	return cg.followers[id].sorted()
}

// Predecessors returns all cells a cell transitively depends on
func (cg *CellGraph) Predecessors(id cell.ID) []cell.ID {
	visited := make(idSet)
	queue := []cell.ID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		res := cg.resolved[current]
		if res == nil {
			continue
		}
		for _, in := range res.ids {
			if !visited.has(in) && in != id {
				visited.add(in)
				queue = append(queue, in)
			}
		}
	}
	return visited.sorted()
}

// Level returns the topological depth of a cell
func (cg *CellGraph) Level(id cell.ID) (int, bool) {
	c, exists := cg.cells[id]
	if !exists {
		return 0, false
	}
	return c.Level, true
}

// NeedsUpdate reports whether there are changes Update has not processed
func (cg *CellGraph) NeedsUpdate() bool {
	return len(cg.structureChanged) > 0 ||
		len(cg.stateChanged) > 0 ||
		len(cg.valueChanged) > 0 ||
		len(cg.touched) > 0
}

func sameKeys(a, b []*cell.Symbol) bool {
	keysA := make(map[string]struct{}, len(a))
	for _, sym := range a {
		keysA[sym.Key()] = struct{}{}
	}
	keysB := make(map[string]struct{}, len(b))
	for _, sym := range b {
		if _, ok := keysA[sym.Key()]; !ok {
			return false
		}
		keysB[sym.Key()] = struct{}{}
	}
	return len(keysA) == len(keysB)
}
