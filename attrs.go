package docjar

import (
	"time"
)

// Attrs is the attribute map a Stater exchanges with the serializer. Values
// read back from the store are int64, float64, string, bool, []byte,
// time.Time, nil, *List, *Dict, *Type, persistent objects (possibly ghosts)
// and whatever the registered records, factories and constants produce.
type Attrs map[string]any

// Attr returns a[key] as T, or the zero value if it is missing or has another type.
func Attr[T any](a Attrs, key string) T {
	v, _ := a[key].(T)
	return v
}

func (a Attrs) Has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a Attrs) String(key string) string {
	return Attr[string](a, key)
}

func (a Attrs) Bool(key string) bool {
	return Attr[bool](a, key)
}

// Int returns an integer attribute, widening any Go integer kind.
func (a Attrs) Int(key string) int64 {
	switch v := a[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (a Attrs) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func (a Attrs) Bytes(key string) []byte {
	return Attr[[]byte](a, key)
}

func (a Attrs) Time(key string) time.Time {
	return Attr[time.Time](a, key)
}

// List returns a list attribute. A plain []any is wrapped.
func (a Attrs) List(key string) *List {
	switch v := a[key].(type) {
	case *List:
		return v
	case []any:
		return NewList(v...)
	default:
		return nil
	}
}

func (a Attrs) Dict(key string) *Dict {
	return Attr[*Dict](a, key)
}
