package document

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrInvalidParent   = errors.New("parent does not accept node")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrCycleDetected   = errors.New("move would create a cycle")
	ErrNotDeletable    = errors.New("node is not deletable")
	ErrNotDraggable    = errors.New("node is not draggable")
	ErrInvalidProps    = errors.New("invalid props")
	ErrMalformedTree   = errors.New("malformed tree")
)

// MutationError reports which operation failed on which node.
type MutationError struct {
	Op  string
	ID  NodeID
	Err error
}

func (e *MutationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

func mutationErr(op string, id NodeID, err error) error {
	return &MutationError{Op: op, ID: id, Err: err}
}
