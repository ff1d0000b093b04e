package engine

import "fmt"

// Operation names used in EngineError.
const (
	OpPull   = "pull"
	OpTag    = "tag"
	OpPush   = "push"
	OpPing   = "ping"
	OpInfo   = "info"
	OpList   = "list"
	OpRemove = "remove"
)

// EngineError wraps a failure from the container engine. The daemon's message
// is preserved verbatim in Err for diagnostics.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func opErr(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}
