package graph

import (
	"container/heap"
	"slices"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// Update processes all pending changes: it resolves inputs of structurally
// changed cells, detects unresolved inputs, output collisions and cycles,
// assigns levels and derives statuses in level order. it returns the ids of
// all cells whose observable state changed since the last call.
func (cg *CellGraph) Update() []cell.ID {
	if len(cg.structureChanged) > 0 {
		cg.updateStructure()
	}

	// dependents of new values get a fresh chance to run
	for id := range cg.valueChanged {
		for follower := range cg.followers[id] {
			if c, exists := cg.cells[follower]; exists {
				cg.clearErrorKind(c, cell.ErrorRuntime)
				cg.stateChanged.add(follower)
				cg.dirty.add(follower)
			}
		}
	}

	cg.propagateState()

	changed := make([]cell.ID, 0, len(cg.touched))
	for id := range cg.touched {
		if _, exists := cg.cells[id]; exists {
			changed = append(changed, id)
		}
	}
	slices.Sort(changed)

	cg.structureChanged = make(idSet)
	cg.stateChanged = make(idSet)
	cg.valueChanged = make(idSet)
	cg.dirty = make(idSet)
	cg.touched = make(idSet)
	return changed
}

func (cg *CellGraph) updateStructure() {
	changedIDs := cg.structureChanged.sorted()
	for _, id := range changedIDs {
		if c, exists := cg.cells[id]; exists {
			cg.resolveInputs(c)
			cg.detectCollision(c)
		}
	}

	affected := cg.collectAffected(changedIDs)
	for id := range affected {
		cg.clearErrorKind(cg.cells[id], cell.ErrorCyclic)
		cg.stateChanged.add(id)
	}
	cg.assignLevels(affected)
}

// resolveInputs resolves the input symbols of a cell to producer ids and
// rewires the followers index
func (cg *CellGraph) resolveInputs(c *cell.Cell) {
	old := cg.resolved[c.ID]
	if old != nil {
		for _, in := range old.ids {
			delete(cg.followers[in], c.ID)
		}
	}

	res := &resolution{}
	seen := make(idSet)
	appendID := func(id cell.ID) {
		if !seen.has(id) {
			seen.add(id)
			res.ids = append(res.ids, id)
		}
	}
	for _, sym := range c.Inputs {
		ids, ok, ambiguous := cg.resolveSymbol(sym)
		if !ok {
			res.unresolved = append(res.unresolved, sym.Text())
			continue
		}
		if ambiguous {
			res.ambiguous = true
		}
		for _, id := range ids {
			appendID(id)
		}
	}
	// side effects run in document order
	if c.SideEffects {
		if _, exists := cg.cells[c.Prev]; exists {
			appendID(c.Prev)
		}
	}

	cg.resolved[c.ID] = res
	for _, in := range res.ids {
		if cg.followers[in] == nil {
			cg.followers[in] = make(idSet)
		}
		cg.followers[in].add(c.ID)
	}
	if old == nil || !slices.Equal(old.ids, res.ids) {
		cg.dirty.add(c.ID)
	}

	if len(res.unresolved) > 0 {
		cg.replaceGraphError(c, cell.ErrorUnresolved, cell.NewUnresolvedInputError(res.unresolved))
	} else {
		cg.replaceGraphError(c, cell.ErrorUnresolved, nil)
	}
}

// resolveSymbol finds the producers of a symbol. variables resolve through
// the output index, cells and ranges through the resolver of their
// document.
func (cg *CellGraph) resolveSymbol(sym *cell.Symbol) (ids []cell.ID, ok bool, ambiguous bool) {
	switch sym.Kind {
	case cell.SymbolVar:
		producers := cg.out[sym.Key()]
		return producers, len(producers) > 0, len(producers) > 1
	case cell.SymbolCell, cell.SymbolRange:
		if r, exists := cg.resolvers[sym.DocID]; exists {
			return r.ResolveCells(sym), true, false
		}
		if sym.Kind == cell.SymbolCell {
			producers := cg.out[sym.Key()]
			return producers, len(producers) > 0, len(producers) > 1
		}
		return nil, false, false
	default:
		return nil, false, false
	}
}

func (cg *CellGraph) detectCollision(c *cell.Cell) {
	key := c.OutputKey()
	if key == "" || len(cg.out[key]) < 2 {
		cg.replaceGraphError(c, cell.ErrorCollision, nil)
		return
	}
	cg.replaceGraphError(c, cell.ErrorCollision,
		cell.NewOutputCollisionError(c.Output.Name, slices.Clone(cg.out[key])))
}

// collectAffected returns the changed cells and all of their transitive
// followers, the cells whose level may have changed
func (cg *CellGraph) collectAffected(ids []cell.ID) idSet {
	affected := make(idSet)
	queue := slices.Clone(ids)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if affected.has(id) {
			continue
		}
		if _, exists := cg.cells[id]; !exists {
			continue
		}
		affected.add(id)
		for follower := range cg.followers[id] {
			if !affected.has(follower) {
				queue = append(queue, follower)
			}
		}
	}
	return affected
}

// assignLevels computes levels of the affected cells with a depth-first
// traversal over resolved inputs. revisiting a cell that is still on the
// traversal stack means a cycle: every cell on it gets level infinity and
// a shared cyclic error holding the cycle in traversal order.
func (cg *CellGraph) assignLevels(affected idSet) {
	levels := make(map[cell.ID]int, len(affected))
	onStack := make(map[cell.ID]int)
	cyclic := make(idSet)
	var stack []cell.ID

	var visit func(id cell.ID) int
	visit = func(id cell.ID) int {
		c := cg.cells[id]
		if c == nil {
			return 0
		}
		if !affected.has(id) {
			return c.Level
		}
		if level, done := levels[id]; done {
			return level
		}
		if pos, visiting := onStack[id]; visiting {
			trace := slices.Clone(stack[pos:])
			err := cell.NewCyclicDependencyError(trace)
			for _, member := range trace {
				m := cg.cells[member]
				m.Errors = append(m.Errors, err)
				cg.touched.add(member)
				cyclic.add(member)
			}
			return cell.LevelInfinite
		}

		onStack[id] = len(stack)
		stack = append(stack, id)

		level := 0
		if res := cg.resolved[id]; res != nil {
			for _, in := range res.ids {
				inLevel := visit(in)
				if inLevel == cell.LevelInfinite {
					level = cell.LevelInfinite
				} else if level != cell.LevelInfinite && inLevel+1 > level {
					level = inLevel + 1
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
		if cyclic.has(id) {
			level = cell.LevelInfinite
		}
		levels[id] = level
		cg.setLevel(c, level)
		return level
	}

	for _, id := range affected.sorted() {
		visit(id)
	}
}

// propagateState derives the status of every cell marked for a state pass
// in ascending level order. a changed status queues the followers so the
// change is visible to dependents within the same update.
func (cg *CellGraph) propagateState() {
	queue := &levelQueue{queued: make(idSet)}
	for id := range cg.stateChanged {
		if c, exists := cg.cells[id]; exists {
			queue.push(c)
		}
	}

	for queue.Len() > 0 {
		c := cg.cells[heap.Pop(queue).(queuedCell).id]
		if c == nil {
			continue
		}
		status := cg.deriveStatus(c)
		if status == c.Status {
			continue
		}
		cg.setStatus(c, status)
		for follower := range cg.followers[c.ID] {
			if f, exists := cg.cells[follower]; exists {
				queue.push(f)
			}
		}
	}
}

// deriveStatus computes the status of a cell from its errors and the
// statuses of its inputs
func (cg *CellGraph) deriveStatus(c *cell.Cell) cell.Status {
	if c.Status == cell.StatusUnknown {
		return cell.StatusUnknown
	}
	if c.HasFatalError() {
		return cell.StatusBroken
	}
	if c.HasErrorKind(cell.ErrorRuntime) {
		return cell.StatusFailed
	}

	res := cg.resolved[c.ID]
	if res != nil {
		if res.ambiguous {
			return cell.StatusBlocked
		}
		waiting := false
		for _, in := range res.ids {
			input, exists := cg.cells[in]
			if !exists {
				continue
			}
			switch input.Status {
			case cell.StatusBroken, cell.StatusFailed, cell.StatusBlocked:
				return cell.StatusBlocked
			case cell.StatusOK:
			default:
				waiting = true
			}
		}
		if waiting {
			return cell.StatusWaiting
		}
	}

	// a finished or running cell only starts over when something it
	// depends on changed
	if (c.Status == cell.StatusOK || c.Status == cell.StatusRunning) && !cg.dirty.has(c.ID) {
		return c.Status
	}
	return cell.StatusReady
}

type queuedCell struct {
	level int
	id    cell.ID
}

// levelQueue is a min-heap of cells ordered by level, then id
type levelQueue struct {
	items  []queuedCell
	queued idSet
}

func (q *levelQueue) push(c *cell.Cell) {
	if q.queued.has(c.ID) {
		return
	}
	q.queued.add(c.ID)
	heap.Push(q, queuedCell{level: c.Level, id: c.ID})
}

func (q *levelQueue) Len() int { return len(q.items) }

func (q *levelQueue) Less(i, j int) bool {
	if q.items[i].level != q.items[j].level {
		return q.items[i].level < q.items[j].level
	}
	return q.items[i].id < q.items[j].id
}

func (q *levelQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *levelQueue) Push(x any) { q.items = append(q.items, x.(queuedCell)) }

func (q *levelQueue) Pop() any {
	last := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	delete(q.queued, last.id)
	return last
}
