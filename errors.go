package docjar

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/andreyvit/docjar/docstore"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
)

// OverflowError is returned by a physical write of an integer that does not
// fit into the store's signed 64-bit integers.
type OverflowError = docstore.OverflowError

// ValueError is returned by a physical write of a value the store cannot
// represent, such as a string that is not valid UTF-8.
type ValueError = docstore.ValueError

// NotFoundError reports a Ref whose type cannot be resolved or whose document
// does not exist.
type NotFoundError struct {
	Ref  Ref
	Path string
	Msg  string
}

func notFoundf(ref Ref, path string, format string, args ...any) error {
	return &NotFoundError{ref, path, fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("docjar: %v: %s: %s", e.Ref, e.Path, e.Msg)
	}
	return fmt.Sprintf("docjar: %v: %s", e.Ref, e.Msg)
}

// InvalidOperationError is a usage error. It is never retryable.
type InvalidOperationError struct {
	Op  string
	Ref Ref
	Msg string
}

func invalidOpf(op string, ref Ref, format string, args ...any) error {
	return &InvalidOperationError{op, ref, fmt.Sprintf(format, args...)}
}

func (e *InvalidOperationError) Is(target error) bool {
	return target == ErrInvalidOperation
}

func (e *InvalidOperationError) Error() string {
	if e.Ref.IsZero() {
		return fmt.Sprintf("docjar: %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("docjar: %s %v: %s", e.Op, e.Ref, e.Msg)
}

// CircularReferenceError is returned when non-persistent values form a cycle.
// Make one side of the cycle a persistent object to store such a graph.
type CircularReferenceError struct {
	Value any
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("docjar: circular reference through %T", e.Value)
}

// UnsupportedTypeError is returned for a value that has no wire form.
type UnsupportedTypeError struct {
	Type reflect.Type
	Msg  string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("docjar: unsupported type %v: %s", e.Type, e.Msg)
	}
	return fmt.Sprintf("docjar: unsupported type %v", e.Type)
}

// ConflictError is returned by a flush or commit when an object has been
// changed by someone else since it was loaded. Retry the whole transaction.
type ConflictError struct {
	Ref        Ref
	Path       string
	Orig       Document
	Cur        Document
	New        Document
	OrigSerial int64
	CurSerial  int64
	NewSerial  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("database conflict error (oid %v, class %s, orig serial %d, cur serial %d, new serial %d)", e.Ref, e.Path, e.OrigSerial, e.CurSerial, e.NewSerial)
}

// Temporary reports that retrying the transaction may succeed.
func (e *ConflictError) Temporary() bool {
	return true
}
