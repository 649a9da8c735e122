package engine

import (
	"context"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

// ActionType is the kind of scheduled work for a cell
type ActionType uint8

const (
	ActionAnalyse ActionType = iota + 1
	ActionRegister
	ActionEvaluate
	ActionUpdate
)

func (t ActionType) String() string {
	switch t {
	case ActionAnalyse:
		return "analyse"
	case ActionRegister:
		return "register"
	case ActionEvaluate:
		return "evaluate"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// action is one pending unit of work. register actions carry an analysis,
// update actions a value or errors.
type action struct {
	kind     ActionType
	id       cell.ID
	analysis *Analysis
	refs     []*cell.Symbol
	plain    string
	value    cell.Value
	errors   []*cell.CellError
}

// task is an action in flight. cancelling it abandons its outcome.
type task struct {
	action *action
	cancel context.CancelFunc
}

// completion carries the follow-up action produced by a finished task
type completion struct {
	task *task
	next *action
}
