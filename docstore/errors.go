package docstore

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrClosed         = errors.New("docstore: closed")
	ErrDuplicateID    = errors.New("docstore: duplicate id")
	ErrBucketNotFound = errors.New("docstore: bucket not found")

	errNotWritable = errors.New("docstore: tx not writable")
)

// DataError reports a stored value that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// OverflowError is returned when an integer does not fit the store's signed
// 64-bit integers. It is only detected when the document is written.
type OverflowError struct {
	Field string
	Value uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("docstore: integer %d in field %q does not fit into int64", e.Value, e.Field)
}

// FieldNameError is returned when a field name contains a reserved character.
type FieldNameError struct {
	Field string
}

func (e *FieldNameError) Error() string {
	return fmt.Sprintf("docstore: invalid field name %q: must not contain '.', '$' or NUL", e.Field)
}

// ValueError is returned for a Go value the store cannot represent.
type ValueError struct {
	Field string
	Value any
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("docstore: unsupported value of type %T in field %q", e.Value, e.Field)
}
