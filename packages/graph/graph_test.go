package graph

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

const testDoc = "doc"

func id(local string) cell.ID {
	return cell.NewID(testDoc, local)
}

func varSym(name string) *cell.Symbol {
	return cell.NewVarSymbol(testDoc, name)
}

// GraphTestCase drives a cell graph through chained steps, failing the test
// on the first unexpected result
type GraphTestCase struct {
	t       *testing.T
	name    string
	graph   *CellGraph
	changed []cell.ID
}

func NewGraphTestCase(t *testing.T, name string) *GraphTestCase {
	return &GraphTestCase{
		t:     t,
		name:  name,
		graph: NewCellGraph(),
	}
}

// Cell registers an analysed cell with a variable output and inputs
func (tc *GraphTestCase) Cell(local, output string, inputs ...string) *GraphTestCase {
	tc.t.Helper()
	c := cell.New(id(local), "mini", "")
	for _, in := range inputs {
		c.Inputs = append(c.Inputs, varSym(in))
	}
	if output != "" {
		c.Output = varSym(output)
	}
	return tc.Add(c)
}

// SideEffectCell registers an analysed cell with side effects after prev
func (tc *GraphTestCase) SideEffectCell(local, prev string) *GraphTestCase {
	tc.t.Helper()
	c := cell.New(id(local), "mini", "")
	c.SideEffects = true
	if prev != "" {
		c.Prev = id(prev)
	}
	return tc.Add(c)
}

func (tc *GraphTestCase) Add(c *cell.Cell) *GraphTestCase {
	tc.t.Helper()
	require.NoError(tc.t, tc.graph.AddCell(c), tc.name)
	require.NoError(tc.t, tc.graph.MarkAnalysed(c.ID), tc.name)
	return tc
}

func (tc *GraphTestCase) Remove(local string) *GraphTestCase {
	tc.t.Helper()
	require.NoError(tc.t, tc.graph.RemoveCell(id(local)), tc.name)
	return tc
}

func (tc *GraphTestCase) Update() *GraphTestCase {
	tc.changed = tc.graph.Update()
	return tc
}

// Run simulates a successful evaluation of a READY cell
func (tc *GraphTestCase) Run(local string, value cell.Value) *GraphTestCase {
	tc.t.Helper()
	require.NoError(tc.t, tc.graph.MarkRunning(id(local)), tc.name)
	require.NoError(tc.t, tc.graph.SetValue(id(local), value), tc.name)
	return tc.Update()
}

// Fail simulates an evaluation of a READY cell that raised an error
func (tc *GraphTestCase) Fail(local, message string) *GraphTestCase {
	tc.t.Helper()
	require.NoError(tc.t, tc.graph.MarkRunning(id(local)), tc.name)
	require.NoError(tc.t, tc.graph.AddError(id(local), cell.NewRuntimeError(message, nil)), tc.name)
	return tc.Update()
}

func (tc *GraphTestCase) SetInputs(local string, inputs ...string) *GraphTestCase {
	tc.t.Helper()
	symbols := make([]*cell.Symbol, 0, len(inputs))
	for _, in := range inputs {
		symbols = append(symbols, varSym(in))
	}
	require.NoError(tc.t, tc.graph.SetInputs(id(local), symbols), tc.name)
	return tc
}

func (tc *GraphTestCase) SetOutput(local, output string) *GraphTestCase {
	tc.t.Helper()
	require.NoError(tc.t, tc.graph.SetOutput(id(local), varSym(output)), tc.name)
	return tc
}

func (tc *GraphTestCase) cell(local string) *cell.Cell {
	tc.t.Helper()
	c, ok := tc.graph.Cell(id(local))
	require.True(tc.t, ok, "%s: cell %s not registered", tc.name, local)
	return c
}

func (tc *GraphTestCase) ExpectStatus(local string, status cell.Status) *GraphTestCase {
	tc.t.Helper()
	if got := tc.cell(local).Status; got != status {
		tc.t.Errorf("%s: cell %s status = %s, want %s", tc.name, local, got, status)
	}
	return tc
}

func (tc *GraphTestCase) ExpectLevel(local string, level int) *GraphTestCase {
	tc.t.Helper()
	if got := tc.cell(local).Level; got != level {
		tc.t.Errorf("%s: cell %s level = %d, want %d", tc.name, local, got, level)
	}
	return tc
}

func (tc *GraphTestCase) ExpectError(local string, kind cell.ErrorKind) *GraphTestCase {
	tc.t.Helper()
	if !tc.cell(local).HasErrorKind(kind) {
		tc.t.Errorf("%s: cell %s has no %s error, errors: %v", tc.name, local, kind, tc.cell(local).Errors)
	}
	return tc
}

func (tc *GraphTestCase) ExpectNoError(local string, kind cell.ErrorKind) *GraphTestCase {
	tc.t.Helper()
	if tc.cell(local).HasErrorKind(kind) {
		tc.t.Errorf("%s: cell %s still has a %s error", tc.name, local, kind)
	}
	return tc
}

func (tc *GraphTestCase) ExpectChanged(locals ...string) *GraphTestCase {
	tc.t.Helper()
	want := make([]cell.ID, 0, len(locals))
	for _, local := range locals {
		want = append(want, id(local))
	}
	slices.Sort(want)
	assert.Equal(tc.t, want, tc.changed, tc.name)
	return tc
}

func TestTwoCellsEvaluateInDependencyOrder(t *testing.T) {
	NewGraphTestCase(t, "two cells").
		Cell("a", "x").
		Cell("b", "y", "x").
		Update().
		ExpectLevel("a", 0).
		ExpectLevel("b", 1).
		ExpectStatus("a", cell.StatusReady).
		ExpectStatus("b", cell.StatusWaiting).
		Run("a", cell.Integer(1)).
		ExpectChanged("a", "b").
		ExpectStatus("a", cell.StatusOK).
		ExpectStatus("b", cell.StatusReady).
		Run("b", cell.Integer(2)).
		ExpectStatus("b", cell.StatusOK)
}

func TestUpdateIsIdempotent(t *testing.T) {
	tc := NewGraphTestCase(t, "idempotent").
		Cell("a", "x").
		Cell("b", "y", "x").
		Cell("c", "z", "q").
		Update()
	assert.NotEmpty(t, tc.changed)

	tc.Update().ExpectChanged()
	assert.False(t, tc.graph.NeedsUpdate())

	tc.Run("a", cell.Integer(1)).Update().ExpectChanged()
}

func TestCyclicPair(t *testing.T) {
	tc := NewGraphTestCase(t, "cyclic pair").
		Cell("a", "x", "y").
		Cell("b", "y", "x").
		Update().
		ExpectStatus("a", cell.StatusBroken).
		ExpectStatus("b", cell.StatusBroken).
		ExpectLevel("a", cell.LevelInfinite).
		ExpectLevel("b", cell.LevelInfinite)

	errs := tc.cell("a").ErrorsOfKind(cell.ErrorCyclic)
	require.Len(t, errs, 1)
	assert.Equal(t, []cell.ID{id("a"), id("b")}, errs[0].Trace)
	assert.Same(t, errs[0], tc.cell("b").ErrorsOfKind(cell.ErrorCyclic)[0])

	// removing one edge clears the cycle on the next update
	tc.SetInputs("b").
		Update().
		ExpectNoError("a", cell.ErrorCyclic).
		ExpectNoError("b", cell.ErrorCyclic).
		ExpectLevel("b", 0).
		ExpectLevel("a", 1).
		ExpectStatus("b", cell.StatusReady).
		ExpectStatus("a", cell.StatusWaiting)
}

func TestCycleTraceFollowsTraversalOrder(t *testing.T) {
	tc := NewGraphTestCase(t, "three cycle").
		Cell("a", "x", "z").
		Cell("b", "y", "x").
		Cell("c", "z", "y").
		Cell("d", "w", "x").
		Update().
		ExpectStatus("d", cell.StatusBlocked).
		ExpectNoError("d", cell.ErrorCyclic).
		ExpectLevel("d", cell.LevelInfinite)

	trace := tc.cell("a").ErrorsOfKind(cell.ErrorCyclic)[0].Trace
	assert.Equal(t, []cell.ID{id("a"), id("c"), id("b")}, trace)
	for _, local := range []string{"a", "b", "c"} {
		tc.ExpectStatus(local, cell.StatusBroken).ExpectError(local, cell.ErrorCyclic)
	}
}

// testResolver resolves cell and range symbols against a fixed matrix
type testResolver map[[2]int]cell.ID

func (r testResolver) ResolveCells(sym *cell.Symbol) []cell.ID {
	var ids []cell.ID
	for row := sym.StartRow; row <= sym.EndRow; row++ {
		for col := sym.StartCol; col <= sym.EndCol; col++ {
			if cellID, ok := r[[2]int{row, col}]; ok {
				ids = append(ids, cellID)
			}
		}
	}
	return ids
}

func sheetCell(local string, row, col int, inputs ...*cell.Symbol) *cell.Cell {
	c := cell.New(cell.NewID("sheet", local), "mini", "")
	c.Row, c.Col = row, col
	c.Inputs = inputs
	return c
}

func TestSelfReferentialRangeIsCycle(t *testing.T) {
	g := NewCellGraph()
	resolver := testResolver{}
	g.SetResolver("sheet", resolver)

	a1 := sheetCell("a1", 0, 0, cell.NewRangeSymbol("sheet", 0, 0, 1, 0))
	a2 := sheetCell("a2", 1, 0)
	resolver[[2]int{0, 0}] = a1.ID
	resolver[[2]int{1, 0}] = a2.ID
	for _, c := range []*cell.Cell{a1, a2} {
		require.NoError(t, g.AddCell(c))
		require.NoError(t, g.MarkAnalysed(c.ID))
	}
	g.Update()

	assert.Equal(t, cell.StatusBroken, a1.Status)
	errs := a1.ErrorsOfKind(cell.ErrorCyclic)
	require.Len(t, errs, 1)
	assert.Equal(t, []cell.ID{a1.ID}, errs[0].Trace)
	assert.Equal(t, cell.StatusReady, a2.Status)
}

func TestRangeObserverSeesNewCell(t *testing.T) {
	g := NewCellGraph()
	resolver := testResolver{}
	g.SetResolver("sheet", resolver)

	total := sheetCell("total", 5, 0, cell.NewRangeSymbol("sheet", 0, 0, 2, 0))
	resolver[[2]int{5, 0}] = total.ID
	require.NoError(t, g.AddCell(total))
	require.NoError(t, g.MarkAnalysed(total.ID))
	g.Update()
	assert.Equal(t, 0, total.Level)
	assert.Equal(t, []cell.ID{total.ID}, g.Observers("sheet"))

	a2 := sheetCell("a2", 1, 0)
	resolver[[2]int{1, 0}] = a2.ID
	require.NoError(t, g.AddCell(a2))
	g.Update()

	assert.Equal(t, 1, total.Level)
	assert.Equal(t, []cell.ID{total.ID}, g.Followers(a2.ID))
	assert.Equal(t, cell.StatusWaiting, total.Status)
}

func TestOutputCollisionSymmetry(t *testing.T) {
	tc := NewGraphTestCase(t, "collision").
		Cell("a", "z").
		Cell("b", "z").
		Cell("c", "w", "z").
		Update().
		ExpectError("a", cell.ErrorCollision).
		ExpectError("b", cell.ErrorCollision).
		ExpectStatus("a", cell.StatusReady).
		ExpectStatus("b", cell.StatusReady).
		ExpectStatus("c", cell.StatusBlocked)

	_, err := tc.graph.GetValue(varSym("z"))
	assert.ErrorIs(t, err, ErrAmbiguousSymbol)

	tc.SetOutput("b", "y").
		Update().
		ExpectNoError("a", cell.ErrorCollision).
		ExpectNoError("b", cell.ErrorCollision).
		ExpectStatus("c", cell.StatusWaiting).
		Run("a", cell.Integer(3)).
		ExpectStatus("c", cell.StatusReady)

	value, err := tc.graph.GetValue(varSym("z"))
	require.NoError(t, err)
	assert.Equal(t, cell.Integer(3), value)
}

func TestUnresolvedInputRecovers(t *testing.T) {
	tc := NewGraphTestCase(t, "unresolved").
		Cell("a", "x", "q").
		Update().
		ExpectStatus("a", cell.StatusBroken).
		ExpectError("a", cell.ErrorUnresolved)

	assert.Equal(t, []string{"q"}, tc.cell("a").ErrorsOfKind(cell.ErrorUnresolved)[0].Symbols)

	value, err := tc.graph.GetValue(varSym("q"))
	assert.NoError(t, err)
	assert.Nil(t, value)

	tc.Cell("q", "q").
		Update().
		ExpectNoError("a", cell.ErrorUnresolved).
		ExpectStatus("a", cell.StatusWaiting).
		Run("q", cell.Integer(5)).
		ExpectStatus("a", cell.StatusReady)
}

func TestFailureBlocksDependents(t *testing.T) {
	tc := NewGraphTestCase(t, "failure").
		Cell("a", "x").
		Cell("b", "y", "x").
		Cell("c", "w", "y").
		Update().
		Fail("a", "boom").
		ExpectStatus("a", cell.StatusFailed).
		ExpectStatus("b", cell.StatusBlocked).
		ExpectStatus("c", cell.StatusBlocked)

	require.NoError(t, tc.graph.ClearErrors(id("a"), cell.ErrorRuntime))
	tc.Update().
		ExpectStatus("a", cell.StatusReady).
		ExpectStatus("b", cell.StatusWaiting).
		ExpectStatus("c", cell.StatusWaiting)
}

func TestValueChangeClearsRuntimeErrorsOfDependents(t *testing.T) {
	tc := NewGraphTestCase(t, "retry").
		Cell("a", "x").
		Cell("b", "y", "x").
		Update().
		Run("a", cell.Integer(1)).
		Fail("b", "division by zero").
		ExpectStatus("b", cell.StatusFailed)

	require.NoError(t, tc.graph.SetValue(id("a"), cell.Integer(2)))
	tc.Update().
		ExpectNoError("b", cell.ErrorRuntime).
		ExpectStatus("b", cell.StatusReady)
}

func TestFinishedCellsSurviveUnrelatedChanges(t *testing.T) {
	NewGraphTestCase(t, "stable").
		Cell("a", "x").
		Cell("b", "y", "x").
		Update().
		Run("a", cell.Integer(1)).
		Run("b", cell.Integer(2)).
		Cell("c", "w").
		Cell("d", "v", "x").
		Update().
		ExpectStatus("a", cell.StatusOK).
		ExpectStatus("b", cell.StatusOK).
		ExpectStatus("c", cell.StatusReady).
		ExpectStatus("d", cell.StatusReady)
}

func TestSourceEditReturnsToUnknown(t *testing.T) {
	tc := NewGraphTestCase(t, "edit").
		Cell("a", "x").
		Cell("b", "y", "x").
		Update().
		Run("a", cell.Integer(1)).
		Run("b", cell.Integer(2))

	require.NoError(t, tc.graph.Invalidate(id("a"), "x = 5", "x = 5"))
	tc.Update().
		ExpectStatus("a", cell.StatusUnknown).
		ExpectStatus("b", cell.StatusWaiting)

	require.NoError(t, tc.graph.MarkAnalysed(id("a")))
	tc.Update().
		ExpectStatus("a", cell.StatusReady).
		Run("a", cell.Integer(5)).
		ExpectStatus("b", cell.StatusReady)
	assert.Equal(t, cell.Integer(2), tc.cell("b").Value)
}

func TestSideEffectsFollowDocumentOrder(t *testing.T) {
	tc := NewGraphTestCase(t, "side effects").
		SideEffectCell("first", "").
		SideEffectCell("second", "first").
		Update().
		ExpectStatus("first", cell.StatusReady).
		ExpectStatus("second", cell.StatusWaiting).
		ExpectLevel("second", 1)

	assert.Equal(t, id("second"), tc.cell("first").Next)

	tc.Run("first", cell.Null{}).
		ExpectStatus("second", cell.StatusReady)
}

func TestRemoveCellSplicesNeighbours(t *testing.T) {
	tc := NewGraphTestCase(t, "splice").
		SideEffectCell("one", "").
		SideEffectCell("two", "one").
		SideEffectCell("three", "two").
		Update().
		ExpectLevel("three", 2).
		Remove("two").
		Update()

	assert.Equal(t, id("three"), tc.cell("one").Next)
	assert.Equal(t, id("one"), tc.cell("three").Prev)
	tc.ExpectLevel("three", 1)

	err := tc.graph.RemoveCell(id("two"))
	assert.ErrorIs(t, err, ErrCellNotFound)
}

func TestAddCellTwiceFails(t *testing.T) {
	g := NewCellGraph()
	require.NoError(t, g.AddCell(cell.New(id("a"), "mini", "")))
	err := g.AddCell(cell.New(id("a"), "mini", ""))
	assert.ErrorIs(t, err, ErrCellExists)
	assert.NotErrorIs(t, err, ErrCellNotFound)

	var graphErr *Error
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, AlreadyExists, graphErr.Code)
}

func TestSetInputsWithSameSymbolsIsNoop(t *testing.T) {
	tc := NewGraphTestCase(t, "same inputs").
		Cell("a", "x").
		Cell("b", "y", "x").
		Update()

	tc.SetInputs("b", "x")
	assert.False(t, tc.graph.NeedsUpdate())

	tc.SetInputs("b", "x", "x")
	assert.False(t, tc.graph.NeedsUpdate())
}

func TestGraphOwnedErrorsAreRejected(t *testing.T) {
	tc := NewGraphTestCase(t, "owned").Cell("a", "x").Update()

	err := tc.graph.AddError(id("a"), cell.NewUnresolvedInputError([]string{"q"}))
	assert.ErrorIs(t, err, ErrGraphOwnedError)
	err = tc.graph.ClearErrors(id("a"), cell.ErrorCyclic)
	assert.ErrorIs(t, err, ErrGraphOwnedError)
}

func TestMarkRunningRequiresReady(t *testing.T) {
	tc := NewGraphTestCase(t, "running").
		Cell("a", "x").
		Cell("b", "y", "x").
		Update()

	err := tc.graph.MarkRunning(id("b"))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLevelingOnRandomAcyclicGraphs(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 20; round++ {
		g := NewCellGraph()
		const n = 40
		for i := 0; i < n; i++ {
			c := cell.New(cell.NewID(testDoc, string(rune('a'+i%26))+string(rune('0'+i/26))), "mini", "")
			c.Output = varSym(c.ID.LocalID())
			for j := 0; j < i; j++ {
				if rng.IntN(5) == 0 {
					prev := cell.NewID(testDoc, string(rune('a'+j%26))+string(rune('0'+j/26)))
					c.Inputs = append(c.Inputs, varSym(prev.LocalID()))
				}
			}
			require.NoError(t, g.AddCell(c))
			require.NoError(t, g.MarkAnalysed(c.ID))
		}
		g.Update()

		for _, cellID := range g.Cells() {
			c, _ := g.Cell(cellID)
			want := 0
			for _, sym := range c.Inputs {
				producer, _ := g.Cell(cell.NewID(testDoc, sym.Name))
				want = max(want, producer.Level+1)
			}
			assert.Equal(t, want, c.Level, "round %d cell %s", round, cellID)
		}
	}
}
