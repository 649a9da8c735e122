package cell

import "fmt"

// Status is the evaluation state of a cell. the declaration order is the
// total order used when deriving a cell's status from its inputs.
type Status int

const (
	StatusUnknown  Status = iota // registered, not analysed yet
	StatusAnalysed               // analysed, status not derived yet
	StatusBroken                 // syntax, context or graph problem
	StatusFailed                 // runtime error
	StatusBlocked                // an input is broken, failed or blocked
	StatusWaiting                // inputs are not all OK yet
	StatusReady                  // all inputs OK, may be evaluated
	StatusRunning                // evaluation dispatched
	StatusOK                     // evaluation succeeded
)

var statusNames = [...]string{
	StatusUnknown:  "unknown",
	StatusAnalysed: "analysed",
	StatusBroken:   "broken",
	StatusFailed:   "failed",
	StatusBlocked:  "blocked",
	StatusWaiting:  "waiting",
	StatusReady:    "ready",
	StatusRunning:  "running",
	StatusOK:       "ok",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Less reports whether s comes before other in the status order
func (s Status) Less(other Status) bool {
	return s < other
}

// Settled reports whether the status is final for the current inputs
func (s Status) Settled() bool {
	switch s {
	case StatusBroken, StatusFailed, StatusBlocked, StatusOK:
		return true
	default:
		return false
	}
}

// ParseStatus is the inverse of Status.String
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown cell status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
